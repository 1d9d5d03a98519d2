package auth

import (
	"context"
	"sync"
	"time"

	"marketpulse/pkg/config"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/twitter"
)

// State is the authenticator's position in the session flow.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateCookiePath      State = "cookie_path"
	StateBrowserPath     State = "browser_path"
	StateAuthenticated   State = "authenticated"
	StateFailed          State = "failed"
)

// BrowserDriver performs an automated interactive login and returns the
// session cookies the browser ended up with. Implemented by internal/browser;
// an interface here so the authenticator is testable without a browser.
type BrowserDriver interface {
	Login(ctx context.Context, username, password string) ([]BrowserCookie, error)
}

// Handle is a validated session. It is only ever constructed after the
// credential probe has succeeded, so holding a Handle implies working cookies.
type Handle struct {
	client   *twitter.Client
	Username string
	Strategy string // cookie-transfer strategy used, empty on the cookie path
	IssuedAt time.Time
}

// NewClient returns an independent client carrying this session, one per
// pipeline worker.
func (h *Handle) NewClient() *twitter.Client {
	return h.client.Clone()
}

// Authenticator drives the session flow: pre-extracted cookies when
// configured, otherwise a browser login bridged onto the programmatic
// client. All inputs arrive through the constructor.
type Authenticator struct {
	cfg     config.TwitterConfig
	driver  BrowserDriver
	bridge  *CookieBridge
	creds   *Manager
	factory func() *twitter.Client
	logger  logger.Logger

	mu    sync.Mutex
	state State
}

// NewAuthenticator wires an authenticator. driver may be nil when no browser
// is available; creds may be nil to skip credential persistence; factory may
// be nil to use the default client constructor.
func NewAuthenticator(cfg config.TwitterConfig, driver BrowserDriver, bridge *CookieBridge, creds *Manager, factory func() *twitter.Client, log logger.Logger) *Authenticator {
	if log == nil {
		log = logger.GetLogger()
	}
	if bridge == nil {
		bridge = NewCookieBridge(log)
	}
	if factory == nil {
		factory = func() *twitter.Client {
			return twitter.NewClient(30*time.Second, log)
		}
	}
	return &Authenticator{
		cfg:     cfg,
		driver:  driver,
		bridge:  bridge,
		creds:   creds,
		factory: factory,
		logger:  log,
		state:   StateUnauthenticated,
	}
}

// State returns the authenticator's current state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Authenticator) transition(to State) {
	a.mu.Lock()
	from := a.state
	a.state = to
	a.mu.Unlock()
	a.logger.DebugWithFields("auth state transition", map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
}

// Authenticate establishes a validated session. The path is chosen once per
// invocation from the available credentials: a configured cookie pair commits
// to the cookie path, and a probe failure there is terminal. Falling through
// to a browser login after a rejected cookie would double the account's
// footprint on an already suspicious session.
func (a *Authenticator) Authenticate(ctx context.Context) (*Handle, error) {
	account := a.resolveAccount()

	if account.HasCookiePair() {
		handle, err := a.cookiePath(ctx, account)
		if err != nil {
			a.transition(StateFailed)
			return nil, err
		}
		return handle, nil
	}

	if account.HasLoginPair() {
		return a.browserPath(ctx, account)
	}

	a.transition(StateFailed)
	return nil, errors.New(errors.ErrorTypeCredentialsMissing,
		"no usable credentials: need ct0+auth_token cookies or username+password")
}

// resolveAccount merges configured credentials with any stored ones.
// Explicit configuration wins; the store fills gaps.
func (a *Authenticator) resolveAccount() *Account {
	account := &Account{
		Username:  a.cfg.Username,
		Password:  a.cfg.Password,
		AuthToken: a.cfg.AuthToken,
		CSRFToken: a.cfg.CT0,
		UserAgent: a.cfg.UserAgent,
	}
	if account.HasCookiePair() || a.creds == nil {
		return account
	}

	stored, err := a.creds.RetrieveDefault()
	if err != nil {
		return account
	}
	if account.Username == "" {
		account.Username = stored.Username
	}
	if account.AuthToken == "" {
		account.AuthToken = stored.AuthToken
	}
	if account.CSRFToken == "" {
		account.CSRFToken = stored.CSRFToken
	}
	if account.Password == "" {
		account.Password = stored.Password
	}
	return account
}

func (a *Authenticator) cookiePath(ctx context.Context, account *Account) (*Handle, error) {
	a.transition(StateCookiePath)

	client := a.factory()
	client.SetCookie("ct0", account.CSRFToken)
	client.SetCookie("auth_token", account.AuthToken)
	if account.UserAgent != "" {
		client.SetHeader("User-Agent", account.UserAgent)
	}

	if err := client.VerifyCredentials(ctx); err != nil {
		return nil, err
	}

	a.persist(account)
	a.transition(StateAuthenticated)
	return &Handle{
		client:   client,
		Username: account.Username,
		IssuedAt: time.Now(),
	}, nil
}

func (a *Authenticator) browserPath(ctx context.Context, account *Account) (*Handle, error) {
	a.transition(StateBrowserPath)

	if a.driver == nil {
		a.transition(StateFailed)
		return nil, errors.New(errors.ErrorTypeCredentialsMissing,
			"browser login required but no browser driver is configured")
	}

	cookies, err := a.driver.Login(ctx, account.Username, account.Password)
	if err != nil {
		a.transition(StateFailed)
		return nil, err
	}

	client := a.factory()
	if account.UserAgent != "" {
		client.SetHeader("User-Agent", account.UserAgent)
	}
	strategy, err := a.bridge.Transfer(ctx, client, cookies)
	if err != nil {
		a.transition(StateFailed)
		return nil, err
	}

	for _, c := range cookies {
		switch c.Name {
		case "auth_token":
			account.AuthToken = c.Value
		case "ct0":
			account.CSRFToken = c.Value
		}
	}
	a.persist(account)

	a.transition(StateAuthenticated)
	return &Handle{
		client:   client,
		Username: account.Username,
		Strategy: strategy,
		IssuedAt: time.Now(),
	}, nil
}

// persist refreshes the stored copy of the session cookies. Best effort;
// a storage failure never fails an otherwise valid session.
func (a *Authenticator) persist(account *Account) {
	if a.creds == nil || account.Username == "" || !account.HasCookiePair() {
		return
	}
	if err := a.creds.Store(account); err != nil {
		a.logger.WarnWithFields("failed to persist session credentials", map[string]interface{}{
			"username": account.Username,
			"error":    err.Error(),
		})
	}
}
