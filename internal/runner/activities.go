package runner

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// Activity is one no-op browsing action performed during a break.
type Activity struct {
	Name string
	Do   func(ctx context.Context, sess marketplace.Session, p *Pacer) error
}

// Pacer sleeps for randomised whole-second spans.
type Pacer struct {
	clock marketplace.Clock
	rng   *rand.Rand
}

// Seconds sleeps for a uniformly random number of seconds in [lo, hi].
func (p *Pacer) Seconds(ctx context.Context, lo, hi int) error {
	return p.clock.Sleep(ctx, time.Duration(p.intBetween(lo, hi))*time.Second)
}

// Between sleeps for a random duration in [lo, hi], rounded to whole seconds.
func (p *Pacer) Between(ctx context.Context, lo, hi time.Duration) error {
	return p.Seconds(ctx, int(lo/time.Second), int(hi/time.Second))
}

func (p *Pacer) intBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + p.rng.IntN(hi-lo+1)
}

func (p *Pacer) pick(n int) int {
	return p.rng.IntN(n)
}

// Marketplace categories browsed during breaks.
var breakCategories = []string{"electronics", "furniture", "clothing", "books", "home"}

// DefaultActivities returns the break activities rooted at home, e.g.
// "https://www.facebook.com".
func DefaultActivities(home string) []Activity {
	home = strings.TrimRight(home, "/")
	return []Activity{
		{Name: "newsfeed", Do: func(ctx context.Context, sess marketplace.Session, p *Pacer) error {
			if err := sess.Navigate(ctx, home); err != nil {
				return err
			}
			if err := p.Seconds(ctx, 3, 3); err != nil {
				return err
			}
			return scrollAround(ctx, sess, p, p.intBetween(3, 6), 2, 5)
		}},
		{Name: "own-profile", Do: func(ctx context.Context, sess marketplace.Session, p *Pacer) error {
			if err := sess.Navigate(ctx, home+"/me"); err != nil {
				return err
			}
			return p.Seconds(ctx, 3, 7)
		}},
		{Name: "notifications", Do: func(ctx context.Context, sess marketplace.Session, p *Pacer) error {
			if err := sess.Navigate(ctx, home+"/notifications"); err != nil {
				return err
			}
			return p.Seconds(ctx, 2, 5)
		}},
		{Name: "marketplace-category", Do: func(ctx context.Context, sess marketplace.Session, p *Pacer) error {
			category := breakCategories[p.pick(len(breakCategories))]
			if err := sess.Navigate(ctx, home+"/marketplace/category/"+category); err != nil {
				return err
			}
			if err := p.Seconds(ctx, 3, 6); err != nil {
				return err
			}
			return scrollAround(ctx, sess, p, p.intBetween(2, 4), 1, 3)
		}},
	}
}

func scrollAround(ctx context.Context, sess marketplace.Session, p *Pacer, times, lo, hi int) error {
	for range times {
		if err := sess.ScrollToBottom(ctx); err != nil {
			return err
		}
		if err := p.Seconds(ctx, lo, hi); err != nil {
			return err
		}
	}
	return nil
}
