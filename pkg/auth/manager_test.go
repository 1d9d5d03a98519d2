package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/config"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/twitter"
)

type fakeDriver struct {
	cookies []BrowserCookie
	err     error
	calls   int
}

func (f *fakeDriver) Login(ctx context.Context, username, password string) ([]BrowserCookie, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cookies, nil
}

func probeServer(t *testing.T, acceptToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-csrf-token") == acceptToken {
			w.Write([]byte(`{"screen_name":"trader_one"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
}

func clientFactory(baseURL string) func() *twitter.Client {
	return func() *twitter.Client {
		c := twitter.NewClient(5*time.Second, nil)
		c.SetBaseURL(baseURL)
		return c
	}
}

func TestCookiePathAuthenticatesWithoutBrowser(t *testing.T) {
	server := probeServer(t, "valid-csrf")
	defer server.Close()

	driver := &fakeDriver{}
	cfg := config.TwitterConfig{
		Username:  "trader_one",
		Password:  "hunter2",
		CT0:       "valid-csrf",
		AuthToken: "valid-token",
	}
	a := NewAuthenticator(cfg, driver, nil, nil, clientFactory(server.URL), nil)

	handle, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, StateAuthenticated, a.State())
	assert.Equal(t, 0, driver.calls, "valid cookies must never trigger the browser")
	assert.Empty(t, handle.Strategy)
	assert.True(t, handle.NewClient().HasEssentialCookies())
}

func TestCookiePathFailureWithoutLoginPairFails(t *testing.T) {
	server := probeServer(t, "some-other-csrf")
	defer server.Close()

	cfg := config.TwitterConfig{CT0: "stale-csrf", AuthToken: "stale-token"}
	a := NewAuthenticator(cfg, nil, nil, nil, clientFactory(server.URL), nil)

	handle, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Nil(t, handle, "no handle may exist without a validated probe")
	assert.Equal(t, StateFailed, a.State())
}

func TestStaleCookiesNeverTriggerBrowser(t *testing.T) {
	server := probeServer(t, "fresh-csrf")
	defer server.Close()

	// A login pair is also configured, but the path decision is made once:
	// cookies are present, so their probe failure is terminal.
	driver := &fakeDriver{cookies: []BrowserCookie{
		{Name: "ct0", Value: "fresh-csrf"},
		{Name: "auth_token", Value: "fresh-token"},
	}}
	cfg := config.TwitterConfig{
		Username:  "trader_one",
		Password:  "hunter2",
		CT0:       "stale-csrf",
		AuthToken: "stale-token",
	}
	a := NewAuthenticator(cfg, driver, nil, nil, clientFactory(server.URL), nil)

	handle, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Nil(t, handle)

	assert.Equal(t, 0, driver.calls, "a rejected cookie pair must not start a browser login")
	assert.Equal(t, StateFailed, a.State())
}

func TestBrowserLoginFailurePropagates(t *testing.T) {
	driver := &fakeDriver{err: errors.New(errors.ErrorTypePasswordResetDetected, "account flagged")}
	cfg := config.TwitterConfig{Username: "trader_one", Password: "hunter2"}
	a := NewAuthenticator(cfg, driver, nil, nil, clientFactory("http://127.0.0.1:0"), nil)

	handle, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Nil(t, handle)
	assert.Equal(t, StateFailed, a.State())

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypePasswordResetDetected, typed.Type)
}

func TestNoCredentialsFailsImmediately(t *testing.T) {
	a := NewAuthenticator(config.TwitterConfig{}, nil, nil, nil, clientFactory("http://127.0.0.1:0"), nil)

	handle, err := a.Authenticate(context.Background())
	require.Error(t, err)
	assert.Nil(t, handle)
	assert.Equal(t, StateFailed, a.State())

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeCredentialsMissing, typed.Type)
}

func TestBrowserPathPersistsHarvestedCookies(t *testing.T) {
	server := probeServer(t, "fresh-csrf")
	defer server.Close()

	store := NewMockStore()
	creds := NewManagerWithStores(store)
	driver := &fakeDriver{cookies: []BrowserCookie{
		{Name: "ct0", Value: "fresh-csrf"},
		{Name: "auth_token", Value: "fresh-token"},
	}}
	cfg := config.TwitterConfig{Username: "trader_one", Password: "hunter2"}
	a := NewAuthenticator(cfg, driver, nil, creds, clientFactory(server.URL), nil)

	_, err := a.Authenticate(context.Background())
	require.NoError(t, err)

	stored, err := creds.Retrieve("trader_one")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", stored.AuthToken)
	assert.Equal(t, "fresh-csrf", stored.CSRFToken)
}
