package dedup

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/errors"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"whitespace collapse", "Nifty\t\tup   today\n", "Nifty up today"},
		{"control chars stripped", "buy\x00now\x07", "buynow"},
		{"compatibility forms", "ｎｉｆｔｙ", "nifty"},
		{"emoji preserved", "to the moon 🚀", "to the moon 🚀"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash("nifty up today", "trader_one")
	h2 := ContentHash("NIFTY UP TODAY", "Trader_One")
	assert.Equal(t, h1, h2, "hash must be case-insensitive")

	h3 := ContentHash("nifty up today", "trader_two")
	assert.NotEqual(t, h1, h3, "different authors must hash differently")

	h4 := ContentHash("nifty down today", "trader_one")
	assert.NotEqual(t, h1, h4, "different text must hash differently")

	assert.Len(t, h1, 64)
}

type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]bool
	err    error
	calls  int
}

func (f *fakeStore) HasContentHash(ctx context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.hashes[hash], nil
}

func TestAcceptRejectsInSessionDuplicate(t *testing.T) {
	d := New(nil)
	ctx := context.Background()

	require.NoError(t, d.Accept(ctx, "hash-a"))

	err := d.Accept(ctx, "hash-a")
	require.Error(t, err)
	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeDuplicate, typed.Type)
	assert.Equal(t, 1, d.Seen())
}

func TestAcceptRejectsPersistedDuplicate(t *testing.T) {
	store := &fakeStore{hashes: map[string]bool{"hash-b": true}}
	d := New(store)
	ctx := context.Background()

	err := d.Accept(ctx, "hash-b")
	require.Error(t, err)
	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeDuplicate, typed.Type)
}

func TestAcceptReleasesClaimOnStoreError(t *testing.T) {
	store := &fakeStore{err: assert.AnError}
	d := New(store)
	ctx := context.Background()

	require.Error(t, d.Accept(ctx, "hash-c"))
	assert.Equal(t, 0, d.Seen(), "failed durable check must not keep the claim")

	store.err = nil
	store.hashes = map[string]bool{}
	require.NoError(t, d.Accept(ctx, "hash-c"))
}

func TestAcceptConcurrentSameHash(t *testing.T) {
	d := New(&fakeStore{hashes: map[string]bool{}})
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	accepted := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Accept(ctx, "contested") == nil {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(accepted)

	assert.Len(t, accepted, 1, "exactly one goroutine may claim a hash")
}
