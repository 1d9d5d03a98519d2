package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"marketpulse/pkg/auth"
	"marketpulse/pkg/config"
)

// newChromedpSession launches a browser and opens one tab. The tab context
// derives from ctx, so cancelling the login cancels the browser.
func newChromedpSession(ctx context.Context, cfg config.BrowserConfig) (Page, func(), error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// Starting the browser eagerly surfaces a missing chrome binary here
	// instead of on the first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	cleanup := func() {
		cancelTab()
		cancelAlloc()
	}
	return &chromedpPage{ctx: tabCtx, navTimeout: cfg.NavigationTimeout}, cleanup, nil
}

// chromedpPage implements Page over a chromedp tab context.
type chromedpPage struct {
	ctx        context.Context
	navTimeout time.Duration
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.navTimeout)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// visibleJS checks visibility for CSS and XPath selectors alike without
// blocking, unlike chromedp.WaitVisible.
const visibleJS = `(function(sel) {
	var el;
	if (sel.startsWith("//")) {
		el = document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} else {
		el = document.querySelector(sel);
	}
	if (!el) return false;
	var rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0;
})(%q)`

func (p *chromedpPage) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := chromedp.Run(p.ctx, chromedp.Evaluate(fmt.Sprintf(visibleJS, selector), &visible))
	return visible, err
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	runCtx, cancel := context.WithTimeout(p.ctx, p.navTimeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Click(selector, chromedp.BySearch))
}

func (p *chromedpPage) SendKeys(ctx context.Context, selector, key string) error {
	return chromedp.Run(p.ctx, chromedp.SendKeys(selector, key, chromedp.BySearch))
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var location string
	err := chromedp.Run(p.ctx, chromedp.Location(&location))
	return location, err
}

func (p *chromedpPage) Cookies(ctx context.Context) ([]auth.BrowserCookie, error) {
	var cookies []auth.BrowserCookie
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookie := auth.BrowserCookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			}
			if c.Expires > 0 {
				cookie.Expires = time.Unix(int64(c.Expires), 0)
			}
			cookies = append(cookies, cookie)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}
