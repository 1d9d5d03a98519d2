package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"marketpulse/pkg/dedup"
	errs "marketpulse/pkg/errors"
	"marketpulse/pkg/models"
	"marketpulse/pkg/ratelimit"
	"marketpulse/pkg/retry"
	"marketpulse/pkg/twitter"
)

// worker is one scraping goroutine. Each worker owns its client, its rate
// limiter and its backoff state, so one worker cooling down after a rate
// limit never stalls the others.
type worker struct {
	id        int
	c         *Collector
	session   *models.Session
	deduper   *dedup.Deduplicator
	collected *atomic.Int64
	stop      context.CancelFunc

	fetcher Fetcher
	limiter ratelimit.Limiter
	backoff *retry.ExponentialBackoff

	rateAttempts int
	consecutive  int
}

func (c *Collector) newWorker(id int, session *models.Session, deduper *dedup.Deduplicator, collected *atomic.Int64, stop context.CancelFunc) *worker {
	return &worker{
		id:        id,
		c:         c,
		session:   session,
		deduper:   deduper,
		collected: collected,
		stop:      stop,
		fetcher:   c.clientFactory(),
		limiter:   ratelimit.NewTokenBucket(c.rateCfg.RequestsPerMinute, time.Minute),
		backoff: &retry.ExponentialBackoff{
			BaseDelay:    c.rateCfg.BackoffBase,
			MaxDelay:     c.rateCfg.BackoffMax,
			Multiplier:   c.rateCfg.BackoffMultiplier,
			JitterFactor: 0.3,
		},
	}
}

// scrapeHashtag works through one hashtag's query variants until the window
// is exhausted, the global target is met, or the worker degrades.
func (w *worker) scrapeHashtag(ctx context.Context, hashtag string, cutoff time.Time, accepted chan<- models.RawPost) {
	w.consecutive = 0

	for _, query := range queryVariants(hashtag) {
		exhausted := w.scrapeQuery(ctx, query, cutoff, accepted)
		if ctx.Err() != nil || w.targetReached() {
			return
		}
		if exhausted {
			// The whole window was covered; wider variants would only
			// return the same posts again.
			return
		}
	}
}

// scrapeQuery paginates one query. Returns true when the recent window was
// fully covered, false when the result stream dried up early and the next
// variant should run.
func (w *worker) scrapeQuery(ctx context.Context, query string, cutoff time.Time, accepted chan<- models.RawPost) bool {
	cursor := ""

	for {
		if ctx.Err() != nil || w.targetReached() {
			return true
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return true
		}

		page, err := w.fetcher.SearchLatest(ctx, query, cursor, w.c.scrapeCfg.PageSize)
		if err != nil {
			if !w.handleFetchError(ctx, query, err) {
				return true
			}
			continue
		}
		w.rateAttempts = 0
		w.consecutive = 0

		if page.Malformed > 0 {
			w.c.logger.DebugWithFields("dropped malformed entries", map[string]interface{}{
				"worker": w.id,
				"query":  query,
				"count":  page.Malformed,
			})
		}

		pastWindow := false
		for _, post := range page.Posts {
			if post.CreatedAt.Before(cutoff) {
				pastWindow = true
				continue
			}
			w.processPost(ctx, post, accepted)
			if w.targetReached() {
				w.stop()
				return true
			}
		}

		if pastWindow {
			return true
		}
		if page.BottomCursor == "" || len(page.Posts) == 0 {
			return false
		}
		cursor = page.BottomCursor
	}
}

// handleFetchError applies the failure policy: rate limits back off with
// worker-local randomized exponential delay; other failures count toward the
// degrade budget. Returns false when the worker should abandon the query.
func (w *worker) handleFetchError(ctx context.Context, query string, err error) bool {
	var typed *errs.Error
	if errors.As(err, &typed) && typed.Type == errs.ErrorTypeRateLimited {
		w.rateAttempts++
		if w.rateAttempts > w.c.rateCfg.MaxRetries {
			w.session.RecordError("scrape", string(errs.ErrorTypeRateLimited),
				"rate limit persisted through backoff, skipping "+query)
			w.c.logger.WarnWithFields("worker degrading after persistent rate limit", map[string]interface{}{
				"worker": w.id,
				"query":  query,
			})
			return false
		}
		delay := w.backoff.NextDelay(w.rateAttempts)
		w.c.logger.DebugWithFields("rate limited, backing off", map[string]interface{}{
			"worker":   w.id,
			"attempt":  w.rateAttempts,
			"delay_ms": delay.Milliseconds(),
		})
		if retry.Wait(ctx, delay) != nil {
			return false
		}
		return true
	}

	kind := errs.ErrorTypeUnknown
	if typed != nil {
		kind = typed.Type
	}
	w.consecutive++
	w.session.RecordError("scrape", string(kind), err.Error())

	if w.consecutive >= w.c.scrapeCfg.MaxWorkerErrors {
		w.c.logger.WarnWithFields("worker degrading after repeated failures", map[string]interface{}{
			"worker":   w.id,
			"query":    query,
			"failures": w.consecutive,
		})
		return false
	}
	return true
}

// processPost normalizes, hashes and dedups one post, forwarding it to the
// flush loop when accepted.
func (w *worker) processPost(ctx context.Context, post twitter.Post, accepted chan<- models.RawPost) {
	normalized := dedup.Normalize(post.Text)
	if normalized == "" {
		return
	}
	hash := dedup.ContentHash(normalized, post.Author)

	if err := w.deduper.Accept(ctx, hash); err != nil {
		var typed *errs.Error
		if errors.As(err, &typed) && typed.Type == errs.ErrorTypeDuplicate {
			return
		}
		// Durable check failed; skip the post rather than risk a duplicate.
		w.c.logger.WarnWithFields("dedup check failed, skipping post", map[string]interface{}{
			"worker": w.id,
			"error":  err.Error(),
		})
		return
	}

	record := models.RawPost{
		PlatformID:  post.PlatformID,
		Author:      post.Author,
		Text:        normalized,
		Hashtags:    post.Hashtags,
		Mentions:    post.Mentions,
		CreatedAt:   post.CreatedAt,
		Likes:       post.Likes,
		Retweets:    post.Retweets,
		Replies:     post.Replies,
		ContentHash: hash,
		SessionID:   w.session.ID,
	}

	select {
	case accepted <- record:
		w.collected.Add(1)
	case <-ctx.Done():
	}
}

func (w *worker) targetReached() bool {
	return int(w.collected.Load()) >= w.c.scrapeCfg.MinTweets
}
