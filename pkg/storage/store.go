package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/models"
)

// Store is the durable record store over Postgres. Posts are append-only and
// keyed by content hash; sessions are an audit trail and never deleted;
// signals are derived data overwritten on every analysis run.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

// NewStore opens the record store.
func NewStore(databaseURL string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

// NewStoreWithDB wraps an existing handle, used by tests with sqlmock.
func NewStoreWithDB(db *sql.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{db: db, logger: log}
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			collected INTEGER NOT NULL DEFAULT 0,
			errors JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			content_hash TEXT PRIMARY KEY,
			platform_id TEXT NOT NULL,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			hashtags TEXT[] NOT NULL DEFAULT '{}',
			mentions TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			likes INTEGER NOT NULL DEFAULT 0,
			retweets INTEGER NOT NULL DEFAULT 0,
			replies INTEGER NOT NULL DEFAULT 0,
			session_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS posts_created_at_idx ON posts (created_at)`,
		`CREATE INDEX IF NOT EXISTS posts_session_idx ON posts (session_id)`,
		`CREATE TABLE IF NOT EXISTS signals (
			content_hash TEXT PRIMARY KEY REFERENCES posts (content_hash),
			sentiment_score DOUBLE PRECISION NOT NULL,
			sentiment_label TEXT NOT NULL,
			engagement_score DOUBLE PRECISION NOT NULL,
			composite_signal DOUBLE PRECISION NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// AppendPosts writes a batch atomically. Posts are staged with COPY and
// merged with conflict suppression, so a content hash that raced in from
// another session is silently skipped rather than failing the batch.
func (s *Store) AppendPosts(ctx context.Context, posts []models.RawPost) error {
	if len(posts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapWriteErr("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`CREATE TEMP TABLE posts_stage (LIKE posts INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
		return wrapWriteErr("stage", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("posts_stage",
		"content_hash", "platform_id", "author", "text", "hashtags", "mentions",
		"created_at", "likes", "retweets", "replies", "session_id"))
	if err != nil {
		return wrapWriteErr("prepare copy", err)
	}
	for _, p := range posts {
		if _, err := stmt.ExecContext(ctx,
			p.ContentHash, p.PlatformID, p.Author, p.Text,
			pq.Array(p.Hashtags), pq.Array(p.Mentions),
			p.CreatedAt, p.Likes, p.Retweets, p.Replies, p.SessionID); err != nil {
			stmt.Close()
			return wrapWriteErr("copy row", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return wrapWriteErr("flush copy", err)
	}
	if err := stmt.Close(); err != nil {
		return wrapWriteErr("close copy", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO posts SELECT * FROM posts_stage ON CONFLICT (content_hash) DO NOTHING`); err != nil {
		return wrapWriteErr("merge", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapWriteErr("commit", err)
	}

	s.logger.DebugWithFields("post batch persisted", map[string]interface{}{
		"count": len(posts),
	})
	return nil
}

// HasContentHash reports whether a post with this hash is already persisted.
func (s *Store) HasContentHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE content_hash = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("hash lookup failed: %w", err)
	}
	return exists, nil
}

// SaveSession upserts the session audit record.
func (s *Store) SaveSession(ctx context.Context, session *models.Session) error {
	snap := session.Snapshot()
	errJSON, err := json.Marshal(snap.Errors)
	if err != nil {
		return wrapWriteErr("marshal errors", err)
	}
	if snap.Errors == nil {
		errJSON = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, status, started_at, completed_at, collected, errors)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			collected = EXCLUDED.collected,
			errors = EXCLUDED.errors`,
		snap.ID, string(snap.Status), snap.StartedAt, snap.CompletedAt, snap.Collected, errJSON)
	if err != nil {
		return wrapWriteErr("save session", err)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var (
		session     models.Session
		status      string
		completedAt sql.NullTime
		errJSON     []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, completed_at, collected, errors
		FROM sessions WHERE id = $1`, id).
		Scan(&session.ID, &status, &session.StartedAt, &completedAt, &session.Collected, &errJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	session.Status = models.SessionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	if len(errJSON) > 0 {
		if err := json.Unmarshal(errJSON, &session.Errors); err != nil {
			return nil, fmt.Errorf("session errors malformed: %w", err)
		}
	}
	return &session, nil
}

// PostsInWindow returns posts created within [from, to), newest first.
func (s *Store) PostsInWindow(ctx context.Context, from, to time.Time) ([]models.RawPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, platform_id, author, text, hashtags, mentions,
		       created_at, likes, retweets, replies, session_id
		FROM posts
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("window query failed: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// PostsBySession returns the posts one session collected.
func (s *Store) PostsBySession(ctx context.Context, sessionID string) ([]models.RawPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, platform_id, author, text, hashtags, mentions,
		       created_at, likes, retweets, replies, session_id
		FROM posts
		WHERE session_id = $1
		ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session posts query failed: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// PostsByHashtag returns posts tagged with the given hashtag (without the
// leading sigil), newest first.
func (s *Store) PostsByHashtag(ctx context.Context, hashtag string, limit int) ([]models.RawPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, platform_id, author, text, hashtags, mentions,
		       created_at, likes, retweets, replies, session_id
		FROM posts
		WHERE $1 = ANY(hashtags)
		ORDER BY created_at DESC
		LIMIT $2`, hashtag, limit)
	if err != nil {
		return nil, fmt.Errorf("hashtag query failed: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func scanPosts(rows *sql.Rows) ([]models.RawPost, error) {
	var posts []models.RawPost
	for rows.Next() {
		var p models.RawPost
		if err := rows.Scan(&p.ContentHash, &p.PlatformID, &p.Author, &p.Text,
			pq.Array(&p.Hashtags), pq.Array(&p.Mentions),
			&p.CreatedAt, &p.Likes, &p.Retweets, &p.Replies, &p.SessionID); err != nil {
			return nil, fmt.Errorf("post scan failed: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// SaveSignals replaces the derived signal rows for the analyzed posts.
func (s *Store) SaveSignals(ctx context.Context, signals []models.SignalRecord) error {
	if len(signals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapWriteErr("begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals (content_hash, sentiment_score, sentiment_label,
		                     engagement_score, composite_signal, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_hash) DO UPDATE SET
			sentiment_score = EXCLUDED.sentiment_score,
			sentiment_label = EXCLUDED.sentiment_label,
			engagement_score = EXCLUDED.engagement_score,
			composite_signal = EXCLUDED.composite_signal,
			processed_at = EXCLUDED.processed_at`)
	if err != nil {
		return wrapWriteErr("prepare signals", err)
	}
	defer stmt.Close()

	for _, sig := range signals {
		if _, err := stmt.ExecContext(ctx, sig.ContentHash, sig.SentimentScore,
			sig.SentimentLabel, sig.EngagementScore, sig.CompositeSignal, sig.ProcessedAt); err != nil {
			return wrapWriteErr("signal row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapWriteErr("commit", err)
	}
	return nil
}

// Stats summarizes the corpus.
type Stats struct {
	TotalPosts    int        `json:"total_posts"`
	TotalSessions int        `json:"total_sessions"`
	UniqueAuthors int        `json:"unique_authors"`
	OldestPost    *time.Time `json:"oldest_post,omitempty"`
	NewestPost    *time.Time `json:"newest_post,omitempty"`
}

// GetStats returns corpus-wide counters.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var (
		stats  Stats
		oldest sql.NullTime
		newest sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM posts),
		       (SELECT COUNT(*) FROM sessions),
		       (SELECT COUNT(DISTINCT author) FROM posts),
		       (SELECT MIN(created_at) FROM posts),
		       (SELECT MAX(created_at) FROM posts)`).
		Scan(&stats.TotalPosts, &stats.TotalSessions, &stats.UniqueAuthors, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("stats query failed: %w", err)
	}
	if oldest.Valid {
		stats.OldestPost = &oldest.Time
	}
	if newest.Valid {
		stats.NewestPost = &newest.Time
	}
	return &stats, nil
}

// HashtagCount is one row of the hashtag leaderboard.
type HashtagCount struct {
	Hashtag string `json:"hashtag"`
	Count   int    `json:"count"`
}

// TopHashtags returns the most frequent hashtags across the corpus.
func (s *Store) TopHashtags(ctx context.Context, limit int) ([]HashtagCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT h, COUNT(*) AS n
		FROM posts, unnest(hashtags) AS h
		GROUP BY h ORDER BY n DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("hashtag query failed: %w", err)
	}
	defer rows.Close()

	var out []HashtagCount
	for rows.Next() {
		var hc HashtagCount
		if err := rows.Scan(&hc.Hashtag, &hc.Count); err != nil {
			return nil, fmt.Errorf("hashtag scan failed: %w", err)
		}
		out = append(out, hc)
	}
	return out, rows.Err()
}

func wrapWriteErr(op string, err error) error {
	return &errors.Error{
		Type:    errors.ErrorTypeWriteFailure,
		Message: fmt.Sprintf("%s: %v", op, err),
	}
}
