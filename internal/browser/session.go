package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// Session is a marketplace.Session bound to one browser generation.
type Session struct {
	manager *Manager
	gen     uint64
	ctx     context.Context
}

// Generation implements marketplace.Session.
func (s *Session) Generation() uint64 {
	return s.gen
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if _, err := s.check(); err != nil {
		return err
	}
	if s.manager.limiter != nil {
		if err := s.manager.limiter.Wait(ctx, url); err != nil {
			return err
		}
	}
	if err := s.run(ctx, s.manager.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		if marketplace.IsSessionError(err) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", marketplace.ErrNavigation, url, err)
	}
	return nil
}

// CurrentURL implements marketplace.Session.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, s.manager.cfg.ClickTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return u, nil
}

// ScrollToBottom implements marketplace.Session.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.eval(ctx, `window.scrollTo(0, document.body.scrollHeight); true`, nil)
}

// ScrollBy implements marketplace.Session.
func (s *Session) ScrollBy(ctx context.Context, pixels int) error {
	return s.eval(ctx, fmt.Sprintf(`window.scrollBy(0, %d); true`, pixels), nil)
}

// Hrefs implements marketplace.Session.
func (s *Session) Hrefs(ctx context.Context, selector string) ([]string, error) {
	var out []string
	expr := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%s)).map(a => a.href).filter(Boolean)`,
		jsString(selector),
	)
	if err := s.eval(ctx, expr, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PageText implements marketplace.Session.
func (s *Session) PageText(ctx context.Context) (string, error) {
	var text string
	if err := s.eval(ctx, `document.body ? document.body.innerText : ""`, &text); err != nil {
		return "", err
	}
	return text, nil
}

// Exists implements marketplace.Session.
func (s *Session) Exists(ctx context.Context, xpath string) (bool, error) {
	var found bool
	expr := fmt.Sprintf(
		`document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue !== null`,
		jsString(xpath),
	)
	if err := s.eval(ctx, expr, &found); err != nil {
		return false, err
	}
	return found, nil
}

// Click performs a real mouse click on the first node matching xpath.
func (s *Session) Click(ctx context.Context, xpath string) error {
	if err := s.run(ctx, s.manager.cfg.ClickTimeout, chromedp.Click(xpath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("click %s: %w", xpath, err)
	}
	return nil
}

// ScriptClick dispatches a DOM click on the first node matching xpath.
func (s *Session) ScriptClick(ctx context.Context, xpath string) error {
	var clicked bool
	expr := fmt.Sprintf(`(() => {
		const node = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!node) { return false; }
		node.click();
		return true;
	})()`, jsString(xpath))
	if err := s.eval(ctx, expr, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("script click %s: element not found", xpath)
	}
	return nil
}

// ImageSources implements marketplace.Session.
func (s *Session) ImageSources(ctx context.Context, xpath string) ([]string, error) {
	var out []string
	expr := fmt.Sprintf(`(() => {
		const snap = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const srcs = [];
		for (let i = 0; i < snap.snapshotLength; i++) {
			const src = snap.snapshotItem(i).getAttribute("src");
			if (src) { srcs.push(src); }
		}
		return srcs;
	})()`, jsString(xpath))
	if err := s.eval(ctx, expr, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) eval(ctx context.Context, expr string, res any) error {
	var sink bool
	if res == nil {
		res = &sink
	}
	if err := s.run(ctx, s.manager.cfg.ClickTimeout, chromedp.Evaluate(expr, res)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// check returns the browser context if this handle is still current.
func (s *Session) check() (context.Context, error) {
	gen, running := s.manager.currentGeneration()
	if gen != s.gen {
		return nil, marketplace.ErrStaleSession
	}
	if !running || s.ctx == nil || s.ctx.Err() != nil {
		return nil, marketplace.ErrSessionDead
	}
	return s.ctx, nil
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	browserCtx, err := s.check()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return s.classify(ctx, err)
	}
	return nil
}

// classify maps driver errors that mean the browser is gone onto
// marketplace.ErrSessionDead.
func (s *Session) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	if _, checkErr := s.check(); checkErr != nil {
		return fmt.Errorf("%w: %w", checkErr, err)
	}
	if isDeadBrowserError(err) {
		return fmt.Errorf("%w: %w", marketplace.ErrSessionDead, err)
	}
	return err
}

func isDeadBrowserError(err error) bool {
	if errors.Is(err, chromedp.ErrChannelClosed) || errors.Is(err, chromedp.ErrInvalidContext) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid session id", "target closed", "websocket: close", "no browser is open"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
