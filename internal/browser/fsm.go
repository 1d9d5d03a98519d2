package browser

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"marketpulse/pkg/auth"
	"marketpulse/pkg/config"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

// State is one step of the login flow.
type State string

const (
	StateInit                  State = "init"
	StateNavigateHome          State = "navigate_home"
	StateNavigateLogin         State = "navigate_login"
	StateEnterUsername         State = "enter_username"
	StateVerificationChallenge State = "verification_challenge"
	StateEnterPassword         State = "enter_password"
	StateSubmit                State = "submit"
	StateVerifySuccess         State = "verify_success"
	StateExtractCookies        State = "extract_cookies"
	StateDone                  State = "done"
	StateFailed                State = "failed"
)

func (s State) terminal() bool { return s == StateDone || s == StateFailed }

// loginFlow walks the interactive login as an explicit state machine. One
// flow instance serves one login attempt.
type loginFlow struct {
	page   Page
	cfg    config.BrowserConfig
	email  string
	logger logger.Logger
	rng    *rand.Rand

	state      State
	challenges int
}

func newLoginFlow(page Page, cfg config.BrowserConfig, email string, log logger.Logger) *loginFlow {
	if log == nil {
		log = logger.GetLogger()
	}
	return &loginFlow{
		page:   page,
		cfg:    cfg,
		email:  email,
		logger: log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		state:  StateInit,
	}
}

// State returns the flow's current state.
func (f *loginFlow) State() State { return f.state }

// transition moves the flow to the next state. Terminal states are sticky:
// once Done or Failed, the flow never moves again.
func (f *loginFlow) transition(to State) {
	if f.state.terminal() {
		return
	}
	f.logger.DebugWithFields("login flow transition", map[string]interface{}{
		"from": string(f.state),
		"to":   string(to),
	})
	f.state = to
}

func (f *loginFlow) fail(err *errors.Error) error {
	if err.State == "" {
		err.State = string(f.state)
	}
	f.transition(StateFailed)
	return err
}

// Run executes the flow and returns the browser session's cookies on success.
func (f *loginFlow) Run(ctx context.Context, username, password string) ([]auth.BrowserCookie, error) {
	if username == "" || password == "" {
		return nil, f.fail(errors.New(errors.ErrorTypeCredentialsMissing, "username and password are required"))
	}

	f.transition(StateNavigateHome)
	if err := f.page.Navigate(ctx, homeURL); err != nil {
		return nil, f.fail(errors.Newf(errors.ErrorTypeNetwork, "home navigation failed: %v", err))
	}

	f.transition(StateNavigateLogin)
	if err := f.page.Navigate(ctx, loginURL); err != nil {
		return nil, f.fail(errors.Newf(errors.ErrorTypeNetwork, "login navigation failed: %v", err))
	}
	if err := f.checkBlockedRedirect(ctx); err != nil {
		return nil, err
	}

	f.transition(StateEnterUsername)
	if err := f.enterUsername(ctx, username); err != nil {
		return nil, err
	}

	// The platform may interpose an unusual-activity challenge between the
	// username and password screens. Answer it at most once; a second
	// challenge means the account needs manual attention.
	for {
		if sel, ok := findFirst(ctx, f.page, passwordSelectors, f.cfg.NavigationTimeout); ok {
			f.transition(StateEnterPassword)
			if err := f.typeInto(ctx, sel, password); err != nil {
				return nil, err
			}
			break
		}
		if _, ok := findFirst(ctx, f.page, challengeInputSelectors, 2*time.Second); ok {
			if err := f.answerChallenge(ctx, username); err != nil {
				return nil, err
			}
			continue
		}
		if err := f.checkBlockedRedirect(ctx); err != nil {
			return nil, err
		}
		return nil, f.fail(errors.InState(errors.ErrorTypeSelectorNotFound,
			string(StateEnterPassword), "password field never appeared"))
	}

	f.transition(StateSubmit)
	sel, ok := findFirst(ctx, f.page, loginButtonSelectors, f.cfg.NavigationTimeout)
	if !ok {
		return nil, f.fail(errors.New(errors.ErrorTypeSelectorNotFound, "login button not found"))
	}
	if err := f.page.Click(ctx, sel); err != nil {
		return nil, f.fail(errors.Newf(errors.ErrorTypeLoginFailed, "login click failed: %v", err))
	}

	f.transition(StateVerifySuccess)
	if err := f.verifySuccess(ctx); err != nil {
		return nil, err
	}

	f.transition(StateExtractCookies)
	cookies, err := f.extractCookies(ctx)
	if err != nil {
		return nil, err
	}

	f.transition(StateDone)
	return cookies, nil
}

func (f *loginFlow) enterUsername(ctx context.Context, username string) error {
	sel, ok := findFirst(ctx, f.page, usernameSelectors, f.cfg.NavigationTimeout)
	if !ok {
		return f.fail(errors.New(errors.ErrorTypeSelectorNotFound, "username field not found"))
	}
	if err := f.typeInto(ctx, sel, username); err != nil {
		return err
	}

	next, ok := findFirst(ctx, f.page, nextButtonSelectors, f.cfg.NavigationTimeout)
	if !ok {
		return f.fail(errors.New(errors.ErrorTypeSelectorNotFound, "next button not found"))
	}
	if err := f.page.Click(ctx, next); err != nil {
		return f.fail(errors.Newf(errors.ErrorTypeLoginFailed, "next click failed: %v", err))
	}
	return f.checkBlockedRedirect(ctx)
}

// answerChallenge responds to the unusual-activity prompt with the account
// email, falling back to the username when no email is configured.
func (f *loginFlow) answerChallenge(ctx context.Context, username string) error {
	if f.challenges >= 1 {
		return f.fail(errors.InState(errors.ErrorTypeVerificationRequired,
			string(StateVerificationChallenge), "verification challenge repeated after answering"))
	}
	f.challenges++
	f.transition(StateVerificationChallenge)
	f.logger.Warn("verification challenge interposed, answering with account identifier")

	answer := f.email
	if answer == "" {
		answer = username
	}

	sel, ok := findFirst(ctx, f.page, challengeInputSelectors, f.cfg.NavigationTimeout)
	if !ok {
		return f.fail(errors.New(errors.ErrorTypeSelectorNotFound, "challenge input not found"))
	}
	if err := f.typeInto(ctx, sel, answer); err != nil {
		return err
	}

	next, ok := findFirst(ctx, f.page, challengeNextSelectors, f.cfg.NavigationTimeout)
	if !ok {
		return f.fail(errors.New(errors.ErrorTypeSelectorNotFound, "challenge confirm button not found"))
	}
	if err := f.page.Click(ctx, next); err != nil {
		return f.fail(errors.Newf(errors.ErrorTypeLoginFailed, "challenge click failed: %v", err))
	}
	return f.checkBlockedRedirect(ctx)
}

// verifySuccess polls for logged-in UI markers within the verify budget.
// Cookies present without UI confirmation is accepted as a weak success; the
// probe after cookie transfer is the real arbiter.
func (f *loginFlow) verifySuccess(ctx context.Context) error {
	if err := f.checkBlockedRedirect(ctx); err != nil {
		return err
	}

	if _, ok := findFirst(ctx, f.page, loggedInSelectors, f.cfg.VerifyTimeout); ok {
		return nil
	}
	if err := f.checkBlockedRedirect(ctx); err != nil {
		return err
	}

	cookies, err := f.page.Cookies(ctx)
	if err == nil && hasSessionCookies(cookies) {
		f.logger.Warn("logged-in UI not confirmed but session cookies are present, continuing")
		return nil
	}

	return f.fail(errors.Newf(errors.ErrorTypeVerificationUncertain,
		"no logged-in UI within %s and no session cookies", f.cfg.VerifyTimeout))
}

func (f *loginFlow) extractCookies(ctx context.Context) ([]auth.BrowserCookie, error) {
	cookies, err := f.page.Cookies(ctx)
	if err != nil {
		return nil, f.fail(errors.Newf(errors.ErrorTypeNetwork, "cookie extraction failed: %v", err))
	}
	if !hasSessionCookies(cookies) {
		return nil, f.fail(errors.New(errors.ErrorTypeVerificationUncertain, "session cookies missing after login"))
	}
	return cookies, nil
}

// typeInto delivers the text one keystroke at a time with a randomized
// human-range pause between characters.
func (f *loginFlow) typeInto(ctx context.Context, selector, text string) error {
	for _, r := range text {
		if err := f.page.SendKeys(ctx, selector, string(r)); err != nil {
			return f.fail(errors.Newf(errors.ErrorTypeLoginFailed, "keystroke failed: %v", err))
		}
		select {
		case <-time.After(f.keystrokeDelay()):
		case <-ctx.Done():
			return f.fail(errors.New(errors.ErrorTypeTimeout, ctx.Err().Error()))
		}
	}
	return nil
}

func (f *loginFlow) keystrokeDelay() time.Duration {
	min, max := f.cfg.KeystrokeDelayMin, f.cfg.KeystrokeDelayMax
	if max <= min {
		return min
	}
	return min + time.Duration(f.rng.Int63n(int64(max-min)))
}

func (f *loginFlow) checkBlockedRedirect(ctx context.Context) error {
	current, err := f.page.URL(ctx)
	if err != nil {
		return nil
	}
	for _, fragment := range blockedPathFragments {
		if strings.Contains(current, fragment) {
			return f.fail(errors.Newf(errors.ErrorTypePasswordResetDetected,
				"account flagged, redirected to %s", current))
		}
	}
	return nil
}

func hasSessionCookies(cookies []auth.BrowserCookie) bool {
	var ct0, authToken bool
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		switch c.Name {
		case "ct0":
			ct0 = true
		case "auth_token":
			authToken = true
		}
	}
	return ct0 && authToken
}
