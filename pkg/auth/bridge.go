package auth

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
	"marketpulse/pkg/twitter"
)

// BrowserCookie is one cookie harvested from the browser session.
type BrowserCookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
}

// TransferStrategy is one way of moving browser cookies onto the
// programmatic client. Strategies differ in which layer of the HTTP stack
// they touch; platform client versions have broken each layer at different
// times, which is why the bridge tries several.
type TransferStrategy interface {
	Name() string
	Apply(client *twitter.Client, cookies []BrowserCookie) error
}

// CookieBridge moves a browser session onto the programmatic client by
// trying each strategy in order and probing after each until one validates.
type CookieBridge struct {
	strategies []TransferStrategy
	logger     logger.Logger
}

// NewCookieBridge builds a bridge with the default strategy order.
func NewCookieBridge(log logger.Logger) *CookieBridge {
	if log == nil {
		log = logger.GetLogger()
	}
	return &CookieBridge{
		strategies: []TransferStrategy{
			&clientCookieStrategy{},
			&jarInjectionStrategy{},
			&manualJarStrategy{},
			&headerStrategy{},
		},
		logger: log,
	}
}

// StrategyNames returns the strategy order the bridge will attempt.
func (b *CookieBridge) StrategyNames() []string {
	names := make([]string, len(b.strategies))
	for i, s := range b.strategies {
		names[i] = s.Name()
	}
	return names
}

// Transfer applies strategies in order until the client's credential probe
// succeeds, returning the name of the strategy that worked.
func (b *CookieBridge) Transfer(ctx context.Context, client *twitter.Client, cookies []BrowserCookie) (string, error) {
	if !hasEssential(cookies) {
		return "", errors.New(errors.ErrorTypeCookieTransferFailed, "browser session missing ct0 or auth_token cookie")
	}

	for _, strategy := range b.strategies {
		if err := strategy.Apply(client, cookies); err != nil {
			b.logger.WarnWithFields("cookie transfer strategy failed to apply", map[string]interface{}{
				"strategy": strategy.Name(),
				"error":    err.Error(),
			})
			continue
		}

		if err := client.VerifyCredentials(ctx); err != nil {
			b.logger.WarnWithFields("cookie transfer strategy failed probe", map[string]interface{}{
				"strategy": strategy.Name(),
				"error":    err.Error(),
			})
			if ctx.Err() != nil {
				return "", err
			}
			continue
		}

		b.logger.InfoWithFields("cookie transfer succeeded", map[string]interface{}{
			"strategy": strategy.Name(),
		})
		return strategy.Name(), nil
	}

	return "", &errors.Error{
		Type:    errors.ErrorTypeCookieTransferFailed,
		Message: "all cookie transfer strategies failed",
	}
}

func hasEssential(cookies []BrowserCookie) bool {
	found := map[string]bool{}
	for _, c := range cookies {
		if c.Value != "" {
			found[c.Name] = true
		}
	}
	for _, name := range twitter.EssentialCookies {
		if !found[name] {
			return false
		}
	}
	return true
}

// clientCookieStrategy hands cookies to the client's own cookie map, the
// path the client builds its Cookie header from.
type clientCookieStrategy struct{}

func (s *clientCookieStrategy) Name() string { return "client_cookies" }

func (s *clientCookieStrategy) Apply(client *twitter.Client, cookies []BrowserCookie) error {
	for _, c := range cookies {
		client.SetCookie(c.Name, c.Value)
	}
	return nil
}

// jarInjectionStrategy installs a fresh transport-level jar and feeds it the
// cookies through the standard SetCookies path for both platform domains.
type jarInjectionStrategy struct{}

func (s *jarInjectionStrategy) Name() string { return "jar_injection" }

func (s *jarInjectionStrategy) Apply(client *twitter.Client, cookies []BrowserCookie) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	for _, domain := range twitter.Domains {
		u := &url.URL{Scheme: "https", Host: domain}
		jar.SetCookies(u, toHTTPCookies(cookies, ""))
	}
	client.InstallJar(jar)
	return nil
}

// manualJarStrategy rebuilds each cookie with explicit per-domain
// attribution before placing it in the jar, covering jars that drop cookies
// whose recorded domain does not match the request host.
type manualJarStrategy struct{}

func (s *manualJarStrategy) Name() string { return "manual_jar" }

func (s *manualJarStrategy) Apply(client *twitter.Client, cookies []BrowserCookie) error {
	jar, err := client.Jar()
	if err != nil {
		return err
	}
	for _, domain := range twitter.Domains {
		u := &url.URL{Scheme: "https", Host: domain}
		jar.SetCookies(u, toHTTPCookies(cookies, "."+domain))
	}
	return nil
}

// headerStrategy bypasses cookie management entirely and pins a raw Cookie
// header on every request. Last resort; survives any jar behavior.
type headerStrategy struct{}

func (s *headerStrategy) Name() string { return "raw_header" }

func (s *headerStrategy) Apply(client *twitter.Client, cookies []BrowserCookie) error {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		pairs = append(pairs, c.Name+"="+c.Value)
		if c.Name == "ct0" {
			client.SetHeader("x-csrf-token", c.Value)
		}
	}
	client.SetHeader("Cookie", strings.Join(pairs, "; "))
	return nil
}

func toHTTPCookies(cookies []BrowserCookie, forceDomain string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Value == "" {
			continue
		}
		domain := c.Domain
		if forceDomain != "" {
			domain = forceDomain
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Expires:  c.Expires,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}
	return out
}
