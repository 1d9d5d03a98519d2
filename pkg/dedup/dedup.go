package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"marketpulse/pkg/errors"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	controlRe    = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
)

// Normalize canonicalizes post text: NFKC compatibility normalization (keeps
// Indic scripts and emoji intact), control-character stripping, whitespace
// flattening, and trimming.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = controlRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ContentHash computes the canonical dedup key over the normalized text and
// the author identity. Hashing is case-insensitive so trivially re-cased
// copies of a post collapse to one key.
func ContentHash(normalizedText, author string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(normalizedText)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(author)))
	return hex.EncodeToString(h.Sum(nil))
}

// StoreChecker answers whether a content hash is already durably persisted.
type StoreChecker interface {
	HasContentHash(ctx context.Context, hash string) (bool, error)
}

// Deduplicator rejects content already seen, first against an in-memory set
// shared across the session's workers, then against durable storage. The
// in-session check is cheap and catches most duplicates before a storage
// round-trip; the durable check catches cross-session repeats.
type Deduplicator struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	store StoreChecker
}

// New creates a Deduplicator. store may be nil, in which case only the
// in-session tier applies.
func New(store StoreChecker) *Deduplicator {
	return &Deduplicator{
		seen:  make(map[string]struct{}),
		store: store,
	}
}

// Accept claims the hash for this session. It returns a Duplicate error when
// the hash was already seen in-session or already persisted. The in-memory
// claim happens before the storage check so two workers racing on the same
// hash cannot both pass.
func (d *Deduplicator) Accept(ctx context.Context, hash string) error {
	d.mu.Lock()
	if _, dup := d.seen[hash]; dup {
		d.mu.Unlock()
		return errors.New(errors.ErrorTypeDuplicate, "already seen in session")
	}
	d.seen[hash] = struct{}{}
	d.mu.Unlock()

	if d.store != nil {
		exists, err := d.store.HasContentHash(ctx, hash)
		if err != nil {
			// A failed durable check must not leak the in-memory claim.
			d.forget(hash)
			return err
		}
		if exists {
			return errors.New(errors.ErrorTypeDuplicate, "already persisted")
		}
	}
	return nil
}

// Seen reports how many unique hashes this session has accepted.
func (d *Deduplicator) Seen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduplicator) forget(hash string) {
	d.mu.Lock()
	delete(d.seen, hash)
	d.mu.Unlock()
}
