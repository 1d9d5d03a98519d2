package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/auth"
	"marketpulse/pkg/config"
	"marketpulse/pkg/errors"
)

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Headless:          true,
		KeystrokeDelayMin: time.Millisecond,
		KeystrokeDelayMax: 2 * time.Millisecond,
		NavigationTimeout: 300 * time.Millisecond,
		VerifyTimeout:     200 * time.Millisecond,
	}
}

// fakePage scripts the DOM the flow sees. Visibility and URL can be mutated
// from onClick to simulate page transitions.
type fakePage struct {
	mu          sync.Mutex
	visible     map[string]bool
	url         string
	cookies     []auth.BrowserCookie
	keys        map[string]int
	clicks      []string
	cookieCalls int
	onClick     func(p *fakePage, selector string)
}

func newFakePage() *fakePage {
	return &fakePage{
		visible: make(map[string]bool),
		keys:    make(map[string]int),
		url:     homeURL,
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *fakePage) Visible(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible[selector], nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	cb := p.onClick
	p.mu.Unlock()
	if cb != nil {
		cb(p, selector)
	}
	return nil
}

func (p *fakePage) SendKeys(ctx context.Context, selector, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[selector]++
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]auth.BrowserCookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookieCalls++
	return p.cookies, nil
}

func (p *fakePage) set(selector string, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible[selector] = visible
}

func sessionCookies() []auth.BrowserCookie {
	return []auth.BrowserCookie{
		{Name: "ct0", Value: "csrf", Domain: ".x.com"},
		{Name: "auth_token", Value: "token", Domain: ".x.com"},
	}
}

func TestLoginFlowHappyPath(t *testing.T) {
	page := newFakePage()
	page.set(usernameSelectors[0], true)
	page.set(nextButtonSelectors[0], true)
	page.onClick = func(p *fakePage, selector string) {
		switch selector {
		case nextButtonSelectors[0]:
			p.set(passwordSelectors[0], true)
			p.set(loginButtonSelectors[0], true)
		case loginButtonSelectors[0]:
			p.set(loggedInSelectors[0], true)
			p.mu.Lock()
			p.cookies = sessionCookies()
			p.mu.Unlock()
		}
	}

	flow := newLoginFlow(page, testBrowserConfig(), "", nil)
	cookies, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, StateDone, flow.State())
	assert.Len(t, cookies, 2)

	// Credentials must be typed one keystroke per character.
	assert.Equal(t, len("trader_one"), page.keys[usernameSelectors[0]])
	assert.Equal(t, len("hunter2"), page.keys[passwordSelectors[0]])
}

func TestLoginFlowPasswordResetRedirect(t *testing.T) {
	page := newFakePage()
	page.set(usernameSelectors[0], true)
	page.set(nextButtonSelectors[0], true)
	page.onClick = func(p *fakePage, selector string) {
		if selector == nextButtonSelectors[0] {
			p.mu.Lock()
			p.url = "https://x.com/account_access?flow=password_reset"
			p.mu.Unlock()
		}
	}

	flow := newLoginFlow(page, testBrowserConfig(), "", nil)
	_, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.Error(t, err)

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypePasswordResetDetected, typed.Type)
	assert.Equal(t, StateFailed, flow.State())
	assert.Zero(t, page.cookieCalls, "a flagged account must not reach cookie extraction")
}

func TestLoginFlowAnswersChallengeOnce(t *testing.T) {
	page := newFakePage()
	page.set(usernameSelectors[0], true)
	page.set(nextButtonSelectors[0], true)
	page.onClick = func(p *fakePage, selector string) {
		switch selector {
		case nextButtonSelectors[0]:
			p.set(challengeInputSelectors[0], true)
			p.set(challengeNextSelectors[0], true)
		case challengeNextSelectors[0]:
			p.set(challengeInputSelectors[0], false)
			p.set(passwordSelectors[0], true)
			p.set(loginButtonSelectors[0], true)
		case loginButtonSelectors[0]:
			p.mu.Lock()
			p.cookies = sessionCookies()
			p.mu.Unlock()
		}
	}

	flow := newLoginFlow(page, testBrowserConfig(), "trader@example.com", nil)
	cookies, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, StateDone, flow.State())
	assert.Len(t, cookies, 2)
	assert.Equal(t, len("trader@example.com"), page.keys[challengeInputSelectors[0]])
}

func TestLoginFlowRepeatedChallengeFails(t *testing.T) {
	page := newFakePage()
	page.set(usernameSelectors[0], true)
	page.set(nextButtonSelectors[0], true)
	page.onClick = func(p *fakePage, selector string) {
		if selector == nextButtonSelectors[0] {
			// Challenge appears and never goes away.
			p.set(challengeInputSelectors[0], true)
			p.set(challengeNextSelectors[0], true)
		}
	}

	flow := newLoginFlow(page, testBrowserConfig(), "", nil)
	_, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.Error(t, err)

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeVerificationRequired, typed.Type)
	assert.Equal(t, StateFailed, flow.State())
}

func TestLoginFlowWeakSuccessOnCookiesWithoutUI(t *testing.T) {
	page := newFakePage()
	page.set(usernameSelectors[0], true)
	page.set(nextButtonSelectors[0], true)
	page.onClick = func(p *fakePage, selector string) {
		switch selector {
		case nextButtonSelectors[0]:
			p.set(passwordSelectors[0], true)
			p.set(loginButtonSelectors[0], true)
		case loginButtonSelectors[0]:
			// No logged-in marker ever shows, but cookies arrive.
			p.mu.Lock()
			p.cookies = sessionCookies()
			p.mu.Unlock()
		}
	}

	flow := newLoginFlow(page, testBrowserConfig(), "", nil)
	cookies, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, StateDone, flow.State())
	assert.Len(t, cookies, 2)
}

func TestLoginFlowUncertainWithoutCookies(t *testing.T) {
	page := newFakePage()
	page.set(usernameSelectors[0], true)
	page.set(nextButtonSelectors[0], true)
	page.onClick = func(p *fakePage, selector string) {
		if selector == nextButtonSelectors[0] {
			p.set(passwordSelectors[0], true)
			p.set(loginButtonSelectors[0], true)
		}
	}

	flow := newLoginFlow(page, testBrowserConfig(), "", nil)
	_, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.Error(t, err)

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeVerificationUncertain, typed.Type)
	assert.Equal(t, StateFailed, flow.State())
}

func TestLoginFlowMissingSelectorNamesState(t *testing.T) {
	// Empty page: the username field never appears.
	flow := newLoginFlow(newFakePage(), testBrowserConfig(), "", nil)
	_, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.Error(t, err)

	typed, ok := err.(*errors.Error)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeSelectorNotFound, typed.Type)
	assert.Equal(t, string(StateEnterUsername), typed.State)
}

func TestFailedStateIsTerminal(t *testing.T) {
	flow := newLoginFlow(newFakePage(), testBrowserConfig(), "", nil)
	_, err := flow.Run(context.Background(), "trader_one", "hunter2")
	require.Error(t, err)
	require.Equal(t, StateFailed, flow.State())

	flow.transition(StateDone)
	assert.Equal(t, StateFailed, flow.State(), "no transition may leave Failed")
}
