package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/errors"
	"marketpulse/pkg/twitter"
)

func browserCookies() []BrowserCookie {
	return []BrowserCookie{
		{Name: "ct0", Value: "csrf-from-browser", Domain: ".x.com", Path: "/"},
		{Name: "auth_token", Value: "token-from-browser", Domain: ".x.com", Path: "/"},
		{Name: "guest_id", Value: "guest", Domain: ".x.com", Path: "/"},
	}
}

func TestStrategyOrderIsStable(t *testing.T) {
	bridge := NewCookieBridge(nil)

	assert.Equal(t,
		[]string{"client_cookies", "jar_injection", "manual_jar", "raw_header"},
		bridge.StrategyNames())
}

func TestTransferSucceedsWithFirstStrategy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-csrf-token") == "csrf-from-browser" {
			w.Write([]byte(`{"screen_name":"trader_one"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := twitter.NewClient(5*time.Second, nil)
	client.SetBaseURL(server.URL)

	bridge := NewCookieBridge(nil)
	strategy, err := bridge.Transfer(context.Background(), client, browserCookies())
	require.NoError(t, err)
	assert.Equal(t, "client_cookies", strategy)
	assert.True(t, client.HasEssentialCookies())
}

func TestTransferFailsWhenEveryProbeFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := twitter.NewClient(5*time.Second, nil)
	client.SetBaseURL(server.URL)

	bridge := NewCookieBridge(nil)
	_, err := bridge.Transfer(context.Background(), client, browserCookies())
	require.Error(t, err)

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeCookieTransferFailed, typed.Type)
}

func TestTransferRejectsIncompleteCookies(t *testing.T) {
	client := twitter.NewClient(5*time.Second, nil)
	bridge := NewCookieBridge(nil)

	_, err := bridge.Transfer(context.Background(), client, []BrowserCookie{
		{Name: "ct0", Value: "only-csrf"},
	})
	require.Error(t, err)

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeCookieTransferFailed, typed.Type)
}

func TestHeaderStrategyBuildsRawHeader(t *testing.T) {
	var gotCookie, gotCSRF string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotCSRF = r.Header.Get("x-csrf-token")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := twitter.NewClient(5*time.Second, nil)
	client.SetBaseURL(server.URL)

	strategy := &headerStrategy{}
	require.NoError(t, strategy.Apply(client, browserCookies()))
	require.NoError(t, client.VerifyCredentials(context.Background()))

	assert.Contains(t, gotCookie, "ct0=csrf-from-browser")
	assert.Contains(t, gotCookie, "auth_token=token-from-browser")
	assert.Equal(t, "csrf-from-browser", gotCSRF)
}
