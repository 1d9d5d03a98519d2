package collector

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"marketpulse/pkg/config"
	"marketpulse/pkg/dedup"
	errs "marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/models"
	"marketpulse/pkg/retry"
	"marketpulse/pkg/twitter"
)

// Fetcher is the slice of the platform client the pipeline needs. Each
// worker gets its own instance from the factory.
type Fetcher interface {
	SearchLatest(ctx context.Context, query, cursor string, count int) (*twitter.SearchPage, error)
}

// Sink is the durable side of the pipeline.
type Sink interface {
	AppendPosts(ctx context.Context, posts []models.RawPost) error
	SaveSession(ctx context.Context, session *models.Session) error
}

// Archiver mirrors accepted batches to the compressed archive. Optional.
type Archiver interface {
	WriteBatch(posts []models.RawPost) (string, error)
}

// Collector runs bounded ingestion sessions: a fixed worker pool pulls
// hashtags off a queue, searches the recent window, dedups, and streams
// accepted posts to storage in batches.
type Collector struct {
	scrapeCfg  config.ScrapeConfig
	rateCfg    config.RateLimitConfig
	storageCfg config.StorageConfig

	clientFactory func() Fetcher
	store         Sink
	hashes        dedup.StoreChecker
	archive       Archiver
	logger        logger.Logger
}

// New wires a collector. hashes may be nil to skip the durable dedup tier;
// archive may be nil to skip the batch mirror.
func New(cfg *config.Config, clientFactory func() Fetcher, store Sink, hashes dedup.StoreChecker, archive Archiver, log logger.Logger) *Collector {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Collector{
		scrapeCfg:     cfg.Scrape,
		rateCfg:       cfg.RateLimit,
		storageCfg:    cfg.Storage,
		clientFactory: clientFactory,
		store:         store,
		hashes:        hashes,
		archive:       archive,
		logger:        log,
	}
}

// Run executes one session. The session records progress and errors as the
// run unfolds; partial collection is a completed session, not a failed one.
func (c *Collector) Run(ctx context.Context, session *models.Session) error {
	session.Start()
	c.saveSession(ctx, session)

	runCtx, cancelRun := context.WithTimeout(ctx, c.scrapeCfg.SessionTimeout)
	defer cancelRun()

	// Workers get their own cancel scope so hitting the target stops the
	// scraping without cutting off the storage flush.
	scrapeCtx, stopScraping := context.WithCancel(runCtx)
	defer stopScraping()

	cutoff := time.Now().UTC().Add(-time.Duration(c.scrapeCfg.TimeWindowHours) * time.Hour)
	deduper := dedup.New(c.hashes)
	var collected atomic.Int64

	jobs := make(chan string, len(c.scrapeCfg.Hashtags))
	for _, tag := range c.scrapeCfg.Hashtags {
		jobs <- tag
	}
	close(jobs)

	accepted := make(chan models.RawPost, c.storageCfg.BatchSize)

	var flushWg sync.WaitGroup
	flushWg.Add(1)
	go func() {
		defer flushWg.Done()
		// The flush loop outlives the scrape deadline so posts accepted
		// right before the timeout still land in storage.
		c.flushLoop(context.WithoutCancel(runCtx), session, accepted)
	}()

	var workerWg sync.WaitGroup
	for i := 0; i < c.scrapeCfg.Workers; i++ {
		workerWg.Add(1)
		go func(id int) {
			defer workerWg.Done()
			w := c.newWorker(id, session, deduper, &collected, stopScraping)
			for tag := range jobs {
				if scrapeCtx.Err() != nil {
					return
				}
				w.scrapeHashtag(scrapeCtx, tag, cutoff, accepted)
			}
		}(i)
	}

	workerWg.Wait()
	close(accepted)
	flushWg.Wait()

	total := int(collected.Load())
	if ctx.Err() != nil && total == 0 {
		session.Fail(total)
		c.saveSession(context.Background(), session)
		return errs.New(errs.ErrorTypeTimeout, "session cancelled before collecting anything")
	}

	session.Complete(total)
	c.saveSession(context.Background(), session)

	c.logger.InfoWithFields("collection session finished", map[string]interface{}{
		"session_id": session.ID,
		"collected":  total,
		"target":     c.scrapeCfg.MinTweets,
		"unique":     deduper.Seen(),
	})
	return nil
}

// flushLoop batches accepted posts and writes them out on size or interval,
// whichever comes first. Runs until the accepted channel closes, then drains.
func (c *Collector) flushLoop(ctx context.Context, session *models.Session, accepted <-chan models.RawPost) {
	batch := make([]models.RawPost, 0, c.storageCfg.BatchSize)
	ticker := time.NewTicker(c.storageCfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.persistBatch(ctx, session, batch)
		batch = batch[:0]
	}

	for {
		select {
		case post, ok := <-accepted:
			if !ok {
				flush()
				return
			}
			batch = append(batch, post)
			if len(batch) >= c.storageCfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *Collector) persistBatch(ctx context.Context, session *models.Session, batch []models.RawPost) {
	posts := append([]models.RawPost(nil), batch...)

	err := retry.Do(func() error {
		return c.store.AppendPosts(ctx, posts)
	}, &retry.Config{
		MaxAttempts: 3,
		Backoff:     &retry.ConstantBackoff{Delay: time.Second},
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
	if err != nil {
		session.RecordError("persist", string(errs.ErrorTypeWriteFailure), err.Error())
		c.logger.ErrorWithFields("failed to persist batch", map[string]interface{}{
			"session_id": session.ID,
			"posts":      len(posts),
			"error":      err.Error(),
		})
		return
	}

	if c.archive != nil {
		if _, err := c.archive.WriteBatch(posts); err != nil {
			// Archive is a mirror; losing a batch file is logged, not fatal.
			session.RecordError("archive", string(errs.ErrorTypeWriteFailure), err.Error())
			c.logger.WarnWithFields("failed to archive batch", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	c.saveSession(ctx, session)
}

func (c *Collector) saveSession(ctx context.Context, session *models.Session) {
	if err := c.store.SaveSession(ctx, session); err != nil {
		c.logger.WarnWithFields("failed to save session record", map[string]interface{}{
			"session_id": session.ID,
			"error":      err.Error(),
		})
	}
}

// queryVariants widens the search when the plain hashtag under-delivers:
// the bare tag first, then the term without the sigil, then the tag
// restricted to original posts.
func queryVariants(hashtag string) []string {
	bare := strings.TrimPrefix(hashtag, "#")
	return []string{
		hashtag,
		bare,
		hashtag + " -filter:retweets",
	}
}
