package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

// Domain variants the platform answers on. Cookies must be valid for both:
// the web UI lives on x.com while several API hosts still answer on
// twitter.com.
var Domains = []string{"x.com", "twitter.com"}

// EssentialCookies are the two cookies a session cannot work without.
var EssentialCookies = []string{"ct0", "auth_token"}

// Client is the programmatic scraping client. It is not safe for concurrent
// use; each pipeline worker owns a Clone.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	cookies    map[string]string
	baseURL    string
	logger     logger.Logger
}

// NewClient creates an unauthenticated client.
func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "en-US,en;q=0.9",
			"Authorization":   "Bearer " + publicBearerToken,
		},
		cookies: make(map[string]string),
		baseURL: DefaultBaseURL,
		logger:  log,
	}
}

// SetBaseURL overrides the API host, used by tests to point at a local server.
func (c *Client) SetBaseURL(base string) { c.baseURL = base }

// BaseURL returns the configured API host.
func (c *Client) BaseURL() string { return c.baseURL }

// SetHeader sets a request header sent on every call.
func (c *Client) SetHeader(key, value string) { c.headers[key] = value }

// SetCookie records a session cookie. The ct0 cookie doubles as the CSRF
// token header the API requires.
func (c *Client) SetCookie(name, value string) {
	c.cookies[name] = value
	if name == "ct0" {
		c.headers["x-csrf-token"] = value
	}
}

// Cookies returns the session cookies currently attached to the client.
func (c *Client) Cookies() map[string]string {
	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}
	return out
}

// HasEssentialCookies reports whether both required cookies are present and
// non-empty, via either the cookie map or an installed jar.
func (c *Client) HasEssentialCookies() bool {
	for _, name := range EssentialCookies {
		if c.cookieValue(name) == "" {
			return false
		}
	}
	return true
}

func (c *Client) cookieValue(name string) string {
	if v := c.cookies[name]; v != "" {
		return v
	}
	if c.httpClient.Jar != nil {
		for _, domain := range Domains {
			u := &url.URL{Scheme: "https", Host: domain}
			for _, ck := range c.httpClient.Jar.Cookies(u) {
				if ck.Name == name && ck.Value != "" {
					return ck.Value
				}
			}
		}
	}
	return ""
}

// InstallJar replaces the transport-level cookie jar.
func (c *Client) InstallJar(jar http.CookieJar) { c.httpClient.Jar = jar }

// Jar returns the transport-level cookie jar, creating one if absent.
func (c *Client) Jar() (http.CookieJar, error) {
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.httpClient.Jar = jar
	}
	return c.httpClient.Jar, nil
}

// Clone mints an independent client sharing the same session cookies and
// headers but none of the transport state. Workers must not share a Client.
func (c *Client) Clone() *Client {
	clone := &Client{
		httpClient: &http.Client{Timeout: c.httpClient.Timeout, Jar: c.httpClient.Jar},
		headers:    make(map[string]string, len(c.headers)),
		cookies:    make(map[string]string, len(c.cookies)),
		baseURL:    c.baseURL,
		logger:     c.logger,
	}
	for k, v := range c.headers {
		clone.headers[k] = v
	}
	for k, v := range c.cookies {
		clone.cookies[k] = v
	}
	return clone
}

func (c *Client) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Newf(errors.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if len(c.cookies) > 0 && req.Header.Get("Cookie") == "" {
		cookie := ""
		for name, value := range c.cookies {
			if cookie != "" {
				cookie += "; "
			}
			cookie += name + "=" + value
		}
		req.Header.Set("Cookie", cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.New(errors.ErrorTypeTimeout, ctx.Err().Error())
		}
		return nil, errors.Newf(errors.ErrorTypeNetwork, "request failed: %v", err)
	}

	c.logger.DebugWithFields("request completed", map[string]interface{}{
		"url":      req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, target interface{}) error {
	resp, err := c.doRequest(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.Error{
			Type:    errors.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
		}
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse JSON: %v", err),
			Code:    resp.StatusCode,
		}
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	errType := errors.TypeForStatusCode(resp.StatusCode)
	message := fmt.Sprintf("unexpected status %d", resp.StatusCode)
	switch errType {
	case errors.ErrorTypeRateLimited:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			retryAfter, _ = strconv.Atoi(v)
		}
		message = fmt.Sprintf("rate limited, retry after %ds", retryAfter)
	case errors.ErrorTypeLoginFailed:
		message = "authentication rejected"
	case errors.ErrorTypeServerError:
		message = fmt.Sprintf("server returned status %d", resp.StatusCode)
	}

	return &errors.Error{
		Type:    errType,
		Message: message,
		Code:    resp.StatusCode,
	}
}

// VerifyCredentials issues the cheap authenticated probe. A nil return means
// the session is usable.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	var settings struct {
		ScreenName string `json:"screen_name"`
	}
	if err := c.getJSON(ctx, c.baseURL+settingsPath, &settings); err != nil {
		return err
	}
	c.logger.DebugWithFields("credential probe succeeded", map[string]interface{}{
		"screen_name": settings.ScreenName,
	})
	return nil
}

// SearchLatest fetches one page of recent posts for the query. An empty
// cursor starts from the newest results.
func (c *Client) SearchLatest(ctx context.Context, query, cursor string, count int) (*SearchPage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("tweet_search_mode", "live")
	params.Set("count", strconv.Itoa(count))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var resp searchResponse
	if err := c.getJSON(ctx, c.baseURL+searchPath+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.toPage(), nil
}
