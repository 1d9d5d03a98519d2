package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of one collection session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// terminal reports whether a status permits no further transitions.
func (s SessionStatus) terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// ErrorRecord is one diagnosable failure attached to a session. Stage names
// the FSM state or pipeline stage; Detail preserves the strategy or selector
// that was being attempted.
type ErrorRecord struct {
	Stage  string    `json:"stage"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Session is one bounded run of the ingestion pipeline. Status transitions
// are monotonic: once Completed or Failed, a session never changes again.
// Sessions are retained indefinitely as an audit trail.
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Collected   int           `json:"collected"`
	Errors      []ErrorRecord `json:"errors"`

	mu sync.Mutex
}

// NewSession creates a pending session with a fresh id.
func NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		Status:    SessionPending,
		StartedAt: time.Now().UTC(),
	}
}

// Start moves the session to Running. A no-op once terminal.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.terminal() {
		return
	}
	s.Status = SessionRunning
	s.StartedAt = time.Now().UTC()
}

// Complete marks the session Completed with the final collected count.
// Partial collection is a normal outcome, not a failure.
func (s *Session) Complete(collected int) {
	s.finish(SessionCompleted, collected)
}

// Fail marks the session Failed. The collected count is preserved: posts
// accepted before the failure remain valid.
func (s *Session) Fail(collected int) {
	s.finish(SessionFailed, collected)
}

func (s *Session) finish(status SessionStatus, collected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.terminal() {
		return
	}
	now := time.Now().UTC()
	s.Status = status
	s.Collected = collected
	s.CompletedAt = &now
}

// RecordError appends a failure to the session's ordered error list.
func (s *Session) RecordError(stage, kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors = append(s.Errors, ErrorRecord{
		Stage:  stage,
		Kind:   kind,
		Detail: detail,
		At:     time.Now().UTC(),
	})
}

// Snapshot returns a copy safe to serialize while workers are still running.
func (s *Session) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := Session{
		ID:        s.ID,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		Collected: s.Collected,
		Errors:    append([]ErrorRecord(nil), s.Errors...),
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		copied.CompletedAt = &t
	}
	return copied
}

// RawPost is one accepted post. ContentHash is the canonical dedup key,
// computed over the normalized text plus the author identity.
type RawPost struct {
	PlatformID  string    `json:"platform_id"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	Hashtags    []string  `json:"hashtags"`
	Mentions    []string  `json:"mentions"`
	CreatedAt   time.Time `json:"created_at"`
	Likes       int       `json:"likes"`
	Retweets    int       `json:"retweets"`
	Replies     int       `json:"replies"`
	ContentHash string    `json:"content_hash"`
	SessionID   string    `json:"session_id"`
}

// SignalRecord is the per-post analysis output. Derived data: recomputed on
// every analysis run, never a source of truth.
type SignalRecord struct {
	ContentHash     string    `json:"content_hash"`
	SentimentScore  float64   `json:"sentiment_score"`  // [-1, 1]
	SentimentLabel  string    `json:"sentiment_label"`  // positive | neutral | negative
	EngagementScore float64   `json:"engagement_score"` // [0, 1]
	CompositeSignal float64   `json:"composite_signal"` // [-1, 1]
	ProcessedAt     time.Time `json:"processed_at"`
}

// SentimentDistribution buckets per-post sentiment by fixed thresholds.
type SentimentDistribution struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// AggregatedSignal is the published composite indicator for one analysis
// window: a pure function of the SignalRecord set. An empty corpus yields a
// zero-valued aggregate with TotalCount 0, which is a valid reportable
// outcome rather than an error.
type AggregatedSignal struct {
	MeanSignal     float64               `json:"mean_signal"`
	StdSignal      float64               `json:"std_signal"`
	CILower        float64               `json:"ci_lower"`
	CIUpper        float64               `json:"ci_upper"`
	MeanSentiment  float64               `json:"mean_sentiment"`
	MeanEngagement float64               `json:"mean_engagement"`
	TotalCount     int                   `json:"total_count"`
	Sentiment      SentimentDistribution `json:"sentiment_distribution"`
}
