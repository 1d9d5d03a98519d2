package browser

import (
	"context"

	"marketpulse/pkg/auth"
	"marketpulse/pkg/config"
	"marketpulse/pkg/logger"
)

// sessionFactory opens a fresh browser tab. The returned cleanup tears the
// whole browser down; each login attempt gets its own browser.
type sessionFactory func(ctx context.Context, cfg config.BrowserConfig) (Page, func(), error)

// Driver performs automated logins. It satisfies auth.BrowserDriver.
type Driver struct {
	cfg     config.BrowserConfig
	email   string
	logger  logger.Logger
	session sessionFactory
}

// NewDriver creates a chromedp-backed login driver. email is optional and
// only used to answer verification challenges.
func NewDriver(cfg config.BrowserConfig, email string, log logger.Logger) *Driver {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Driver{
		cfg:     cfg,
		email:   email,
		logger:  log,
		session: newChromedpSession,
	}
}

// Login runs the interactive login flow in a dedicated browser session and
// returns the cookies it produced.
func (d *Driver) Login(ctx context.Context, username, password string) ([]auth.BrowserCookie, error) {
	page, cleanup, err := d.session(ctx, d.cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	d.logger.InfoWithFields("starting browser login", map[string]interface{}{
		"username": username,
		"headless": d.cfg.Headless,
	})

	flow := newLoginFlow(page, d.cfg, d.email, d.logger)
	cookies, err := flow.Run(ctx, username, password)
	if err != nil {
		d.logger.ErrorWithFields("browser login failed", map[string]interface{}{
			"username": username,
			"state":    string(flow.State()),
			"error":    err.Error(),
		})
		return nil, err
	}

	d.logger.InfoWithFields("browser login completed", map[string]interface{}{
		"username": username,
		"cookies":  len(cookies),
	})
	return cookies, nil
}
