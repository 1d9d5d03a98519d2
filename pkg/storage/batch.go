package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/models"
)

// BatchArchive writes accepted posts to day-partitioned, zstd-compressed
// columnar files alongside the record store. The archive is the bulk-export
// surface; the database stays the source of truth for queries.
type BatchArchive struct {
	dir    string
	logger logger.Logger
}

// NewBatchArchive creates the archive root when missing.
func NewBatchArchive(dir string, log logger.Logger) (*BatchArchive, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create batch directory: %w", err)
	}
	return &BatchArchive{dir: dir, logger: log}, nil
}

// postColumns is the columnar layout of one batch file. Column-wise storage
// compresses far better than row-wise for this data: authors and hashtags
// repeat heavily within a session.
type postColumns struct {
	ContentHashes []string    `json:"content_hashes"`
	PlatformIDs   []string    `json:"platform_ids"`
	Authors       []string    `json:"authors"`
	Texts         []string    `json:"texts"`
	Hashtags      [][]string  `json:"hashtags"`
	Mentions      [][]string  `json:"mentions"`
	CreatedAt     []time.Time `json:"created_at"`
	Likes         []int       `json:"likes"`
	Retweets      []int       `json:"retweets"`
	Replies       []int       `json:"replies"`
	SessionIDs    []string    `json:"session_ids"`
}

func toColumns(posts []models.RawPost) *postColumns {
	cols := &postColumns{
		ContentHashes: make([]string, len(posts)),
		PlatformIDs:   make([]string, len(posts)),
		Authors:       make([]string, len(posts)),
		Texts:         make([]string, len(posts)),
		Hashtags:      make([][]string, len(posts)),
		Mentions:      make([][]string, len(posts)),
		CreatedAt:     make([]time.Time, len(posts)),
		Likes:         make([]int, len(posts)),
		Retweets:      make([]int, len(posts)),
		Replies:       make([]int, len(posts)),
		SessionIDs:    make([]string, len(posts)),
	}
	for i, p := range posts {
		cols.ContentHashes[i] = p.ContentHash
		cols.PlatformIDs[i] = p.PlatformID
		cols.Authors[i] = p.Author
		cols.Texts[i] = p.Text
		cols.Hashtags[i] = p.Hashtags
		cols.Mentions[i] = p.Mentions
		cols.CreatedAt[i] = p.CreatedAt
		cols.Likes[i] = p.Likes
		cols.Retweets[i] = p.Retweets
		cols.Replies[i] = p.Replies
		cols.SessionIDs[i] = p.SessionID
	}
	return cols
}

func (c *postColumns) toPosts() []models.RawPost {
	posts := make([]models.RawPost, len(c.ContentHashes))
	for i := range posts {
		posts[i] = models.RawPost{
			ContentHash: c.ContentHashes[i],
			PlatformID:  c.PlatformIDs[i],
			Author:      c.Authors[i],
			Text:        c.Texts[i],
			Hashtags:    c.Hashtags[i],
			Mentions:    c.Mentions[i],
			CreatedAt:   c.CreatedAt[i],
			Likes:       c.Likes[i],
			Retweets:    c.Retweets[i],
			Replies:     c.Replies[i],
			SessionID:   c.SessionIDs[i],
		}
	}
	return posts
}

// WriteBatch persists one batch atomically and returns the file path. The
// batch lands in a temp file first and is renamed into place, so a crash
// mid-write never leaves a truncated archive file.
func (a *BatchArchive) WriteBatch(posts []models.RawPost) (string, error) {
	if len(posts) == 0 {
		return "", nil
	}

	now := time.Now().UTC()
	dayDir := filepath.Join(a.dir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return "", batchErr("create partition", err)
	}

	name := fmt.Sprintf("batch-%d-%d.json.zst", now.UnixNano(), len(posts))
	finalPath := filepath.Join(dayDir, name)
	tempPath := finalPath + ".tmp"

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", batchErr("create temp file", err)
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", batchErr("create encoder", err)
	}
	if err := json.NewEncoder(enc).Encode(toColumns(posts)); err != nil {
		enc.Close()
		f.Close()
		os.Remove(tempPath)
		return "", batchErr("encode batch", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", batchErr("finish compression", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return "", batchErr("close temp file", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", batchErr("rename batch", err)
	}

	a.logger.DebugWithFields("batch archived", map[string]interface{}{
		"path":  finalPath,
		"posts": len(posts),
	})
	return finalPath, nil
}

// ReadBatch loads one archived batch file back into posts.
func (a *BatchArchive) ReadBatch(path string) ([]models.RawPost, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	var cols postColumns
	if err := json.NewDecoder(dec).Decode(&cols); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return cols.toPosts(), nil
}

func batchErr(op string, err error) error {
	return &errors.Error{
		Type:    errors.ErrorTypeWriteFailure,
		Message: fmt.Sprintf("%s: %v", op, err),
	}
}
