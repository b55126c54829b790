// Package collector scrolls a marketplace results page and gathers unique
// listing links.
package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

// Config controls scrolling and link matching.
type Config struct {
	MaxScrolls   int
	ScrollDelay  time.Duration
	ArrivalDelay time.Duration
	// LinkSelector is the CSS selector for candidate anchors.
	LinkSelector string
	// ItemPathMarker must appear in an href for it to count as a listing.
	ItemPathMarker string
}

// Collector gathers listing links from a results page.
type Collector struct {
	cfg    Config
	clock  marketplace.Clock
	logger *zap.Logger
}

// New creates a Collector.
func New(cfg Config, clock marketplace.Clock, logger *zap.Logger) *Collector {
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = 50
	}
	if cfg.ItemPathMarker == "" {
		cfg.ItemPathMarker = "/marketplace/item/"
	}
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = fmt.Sprintf("a[href*='%s']", cfg.ItemPathMarker)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cfg: cfg, clock: clock, logger: logger}
}

// Collect opens marketplaceURL (when non-empty) and scrolls until threshold
// unique ids are found or MaxScrolls passes have run.
func (c *Collector) Collect(
	ctx context.Context,
	sess marketplace.Session,
	marketplaceURL string,
	threshold int,
) (*marketplace.LinkTable, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold must be > 0")
	}
	if marketplaceURL != "" {
		if err := c.open(ctx, sess, marketplaceURL); err != nil {
			return nil, err
		}
	}

	table := marketplace.NewLinkTable(threshold)
	for pass := 1; pass <= c.cfg.MaxScrolls && !table.Full(); pass++ {
		if err := ctx.Err(); err != nil {
			return table, err
		}
		added, err := c.scrollPass(ctx, sess, table)
		if err != nil {
			if marketplace.IsSessionError(err) || errors.Is(err, context.Canceled) {
				return table, err
			}
			c.logger.Warn("scroll pass failed", zap.Int("pass", pass), zap.Error(err))
			continue
		}
		c.logger.Debug("scroll pass",
			zap.Int("pass", pass),
			zap.Int("added", added),
			zap.Int("collected", table.Len()),
		)
	}
	metrics.ObserveLinksCollected(table.Len())
	c.logger.Info("link collection finished",
		zap.Int("collected", table.Len()),
		zap.Int("threshold", threshold),
	)
	return table, nil
}

func (c *Collector) open(ctx context.Context, sess marketplace.Session, marketplaceURL string) error {
	if err := sess.Navigate(ctx, marketplaceURL); err != nil {
		if marketplace.IsSessionError(err) || errors.Is(err, marketplace.ErrNavigation) {
			return err
		}
		return fmt.Errorf("%w: %w", marketplace.ErrNavigation, err)
	}
	if err := c.clock.Sleep(ctx, c.cfg.ArrivalDelay); err != nil {
		return err
	}
	current, err := sess.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("%w: read location: %w", marketplace.ErrNavigation, err)
	}
	if !strings.Contains(current, "marketplace") {
		return fmt.Errorf("%w: landed on %s", marketplace.ErrNavigation, current)
	}
	return nil
}

func (c *Collector) scrollPass(ctx context.Context, sess marketplace.Session, table *marketplace.LinkTable) (int, error) {
	if err := sess.ScrollToBottom(ctx); err != nil {
		return 0, fmt.Errorf("scroll: %w", err)
	}
	if err := c.clock.Sleep(ctx, c.cfg.ScrollDelay); err != nil {
		return 0, err
	}
	hrefs, err := sess.Hrefs(ctx, c.cfg.LinkSelector)
	if err != nil {
		return 0, fmt.Errorf("query links: %w", err)
	}
	added := 0
	for _, href := range hrefs {
		if !strings.Contains(href, c.cfg.ItemPathMarker) {
			continue
		}
		if table.Add(ItemIDFromURL(href), href) {
			added++
		}
		if table.Full() {
			break
		}
	}
	return added, nil
}

// ItemIDFromURL returns the last non-empty path segment of a listing URL,
// ignoring any query string or fragment.
func ItemIDFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}
