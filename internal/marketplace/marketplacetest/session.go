// Package marketplacetest provides in-memory fakes of the marketplace
// collaborators for package tests.
package marketplacetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// Page is the scripted content served for one URL.
type Page struct {
	Text string
	// Hrefs are returned per scroll pass; the last batch repeats once exhausted.
	Hrefs  [][]string
	Images []string
	// Present lists XPaths that exist on the page.
	Present map[string]bool
	// Clicks maps an XPath to the URL the tab lands on after clicking it.
	Clicks map[string]string
	// ClickFails makes a direct click on the XPath fail.
	ClickFails map[string]bool
	// NavigateErr is returned when navigating to this page.
	NavigateErr error
	// TextErr is returned when reading page text.
	TextErr error
}

// Session is a scripted marketplace.Session.
type Session struct {
	mu         sync.Mutex
	gen        uint64
	pages      map[string]*Page
	current    string
	scrolls    int
	navigated  []string
	scrolledBy int
	clicks     []string
	// Err is returned by every call when set.
	Err error
}

// NewSession creates a session serving pages keyed by URL.
func NewSession(pages map[string]*Page) *Session {
	if pages == nil {
		pages = make(map[string]*Page)
	}
	return &Session{pages: pages}
}

// SetGeneration sets the value reported by Generation.
func (s *Session) SetGeneration(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen = gen
}

// Generation implements marketplace.Session.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Navigate implements marketplace.Session.
func (s *Session) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.navigated = append(s.navigated, url)
	if page, ok := s.pages[url]; ok && page.NavigateErr != nil {
		return page.NavigateErr
	}
	s.current = url
	s.scrolls = 0
	return nil
}

// CurrentURL implements marketplace.Session.
func (s *Session) CurrentURL(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.current, nil
}

// ScrollToBottom implements marketplace.Session.
func (s *Session) ScrollToBottom(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.scrolls++
	return nil
}

// ScrollBy implements marketplace.Session.
func (s *Session) ScrollBy(_ context.Context, pixels int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.scrolledBy += pixels
	return nil
}

// Hrefs implements marketplace.Session.
func (s *Session) Hrefs(context.Context, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	page := s.pages[s.current]
	if page == nil || len(page.Hrefs) == 0 {
		return nil, nil
	}
	idx := s.scrolls - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(page.Hrefs) {
		idx = len(page.Hrefs) - 1
	}
	return append([]string(nil), page.Hrefs[idx]...), nil
}

// PageText implements marketplace.Session.
func (s *Session) PageText(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	page := s.pages[s.current]
	if page == nil {
		return "", nil
	}
	if page.TextErr != nil {
		return "", page.TextErr
	}
	return page.Text, nil
}

// Exists implements marketplace.Session.
func (s *Session) Exists(_ context.Context, xpath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	page := s.pages[s.current]
	return page != nil && page.Present[xpath], nil
}

// Click implements marketplace.Session.
func (s *Session) Click(_ context.Context, xpath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	page := s.pages[s.current]
	if page == nil || !page.Present[xpath] {
		return fmt.Errorf("no element for %s", xpath)
	}
	if page.ClickFails[xpath] {
		return errors.New("element not interactable")
	}
	s.follow(page, "click:"+xpath, xpath)
	return nil
}

// ScriptClick implements marketplace.Session.
func (s *Session) ScriptClick(_ context.Context, xpath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	page := s.pages[s.current]
	if page == nil || !page.Present[xpath] {
		return fmt.Errorf("no element for %s", xpath)
	}
	s.follow(page, "script:"+xpath, xpath)
	return nil
}

func (s *Session) follow(page *Page, label, xpath string) {
	s.clicks = append(s.clicks, label)
	if target, ok := page.Clicks[xpath]; ok {
		s.current = target
		s.scrolls = 0
	}
}

// ImageSources implements marketplace.Session.
func (s *Session) ImageSources(context.Context, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	page := s.pages[s.current]
	if page == nil {
		return nil, nil
	}
	return append([]string(nil), page.Images...), nil
}

// Scrolls returns the scroll-to-bottom count since the last navigation.
func (s *Session) Scrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolls
}

// Navigated returns every URL passed to Navigate.
func (s *Session) Navigated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

// NavigatedMatching returns the navigations whose URL contains substr.
func (s *Session) NavigatedMatching(substr string) []string {
	var out []string
	for _, u := range s.Navigated() {
		if strings.Contains(u, substr) {
			out = append(out, u)
		}
	}
	return out
}

// Clicks returns the recorded clicks, prefixed with "click:" or "script:".
func (s *Session) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// ScrolledBy returns the total pixels passed to ScrollBy.
func (s *Session) ScrolledBy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolledBy
}

// Clock is a marketplace.Clock that records sleeps instead of blocking.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewClock creates a clock starting at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now implements marketplace.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d without blocking.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Sleeps returns every recorded sleep.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// CountSleeps returns how many sleeps of exactly d were recorded.
func (c *Clock) CountSleeps(d time.Duration) int {
	n := 0
	for _, s := range c.Sleeps() {
		if s == d {
			n++
		}
	}
	return n
}

var _ marketplace.Session = (*Session)(nil)
var _ marketplace.Clock = (*Clock)(nil)
