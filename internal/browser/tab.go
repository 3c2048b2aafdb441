package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/toksearch/internal/session"
)

// navTimeout bounds a single navigation, load wait included.
const navTimeout = 30 * time.Second

// Tab wraps a Rod page with the narrow driver surface the pipeline needs:
// navigate, scroll, snapshot, element probe, and cookie transfer. It
// satisfies both acquire.Driver and session.Driver.
type Tab struct {
	page *rod.Page
	mgr  *Manager
}

// OpenTab creates a new tab. Headless tabs go through the stealth profile;
// headful tabs are plain pages, since a visible login flow needs none of it.
func OpenTab(ctx context.Context, mgr *Manager) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Headless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if ua := mgr.cfg.UserAgent; ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			mgr.cfg.Logger.Warn("browser: user-agent override failed", "error", err)
		}
	}
	return &Tab{page: page, mgr: mgr}, nil
}

// Navigate opens url and waits for the load event, bounded by navTimeout.
// A load-wait timeout is tolerated: scroll-rendered pages often never settle.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := t.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := t.page.Context(navCtx).WaitLoad(); err != nil {
		t.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// Scroll moves the viewport to the bottom of the document, triggering the
// platform's progressive result loading.
func (t *Tab) Scroll(ctx context.Context) error {
	_, err := t.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	if err != nil {
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

// HTML serialises the current DOM as outer HTML.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: snapshot: %w", err)
	}
	return res.Value.Str(), nil
}

// Has reports whether a selector is currently present in the DOM.
func (t *Tab) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := t.page.Context(ctx).Has(selector)
	if err != nil {
		return false, fmt.Errorf("browser: probe %s: %w", selector, err)
	}
	return has, nil
}

// Cookies snapshots all cookies visible to the tab.
func (t *Tab) Cookies(ctx context.Context) ([]session.Cookie, error) {
	raw, err := t.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: read cookies: %w", err)
	}
	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		sc := session.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		}
		if c.Expires > 0 {
			sc.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, sc)
	}
	return cookies, nil
}

// SetCookies replays a saved cookie jar into the tab.
func (t *Tab) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		}
		if !c.Expires.IsZero() {
			p.Expires = proto.TimeSinceEpoch(float64(c.Expires.Unix()))
		}
		params = append(params, p)
	}
	if err := t.page.Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}
