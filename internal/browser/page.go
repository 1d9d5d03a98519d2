package browser

import (
	"context"
	"time"

	"marketpulse/pkg/auth"
)

// Page abstracts the browser tab the login flow drives. The chromedp
// implementation lives in chromedp.go; tests substitute a fake.
type Page interface {
	// Navigate loads a URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error

	// Visible reports whether an element matching the selector is currently
	// visible. Selectors may be CSS or XPath.
	Visible(ctx context.Context, selector string) (bool, error)

	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error

	// SendKeys delivers one keystroke to the element. The flow calls this
	// once per character so inter-key pacing stays under its control.
	SendKeys(ctx context.Context, selector, key string) error

	// URL returns the tab's current location.
	URL(ctx context.Context) (string, error)

	// Cookies returns all cookies of the browser session.
	Cookies(ctx context.Context) ([]auth.BrowserCookie, error)
}

// findFirst polls the selectors in priority order until one is visible or
// the timeout lapses. The returned selector is the one that matched.
func findFirst(ctx context.Context, page Page, selectors []string, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			visible, err := page.Visible(ctx, sel)
			if err == nil && visible {
				return sel, true
			}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return "", false
		}
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return "", false
		}
	}
}
