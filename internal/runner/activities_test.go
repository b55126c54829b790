package runner

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/marketplace/marketplacetest"
)

func findActivity(t *testing.T, name string) Activity {
	t.Helper()
	for _, a := range DefaultActivities("https://www.facebook.com/") {
		if a.Name == name {
			return a
		}
	}
	t.Fatalf("activity %q not found", name)
	return Activity{}
}

func newPacer(clock marketplace.Clock) *Pacer {
	return &Pacer{clock: clock, rng: rand.New(rand.NewPCG(7, 11))}
}

func TestDefaultActivities(t *testing.T) {
	t.Parallel()

	names := []string{}
	for _, a := range DefaultActivities("https://www.facebook.com") {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"newsfeed", "own-profile", "notifications", "marketplace-category"}, names)
}

func TestNewsfeedActivity(t *testing.T) {
	t.Parallel()

	sess := marketplacetest.NewSession(nil)
	clock := marketplacetest.NewClock(time.Unix(0, 0))
	require.NoError(t, findActivity(t, "newsfeed").Do(context.Background(), sess, newPacer(clock)))

	assert.Equal(t, []string{"https://www.facebook.com"}, sess.Navigated())
	assert.GreaterOrEqual(t, sess.Scrolls(), 3)
	assert.LessOrEqual(t, sess.Scrolls(), 6)
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, sess.Scrolls()+1)
	assert.Equal(t, 3*time.Second, sleeps[0])
	for _, d := range sleeps[1:] {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestPageVisitActivities(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		url    string
		lo, hi time.Duration
	}{
		"own-profile":   {url: "https://www.facebook.com/me", lo: 3 * time.Second, hi: 7 * time.Second},
		"notifications": {url: "https://www.facebook.com/notifications", lo: 2 * time.Second, hi: 5 * time.Second},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sess := marketplacetest.NewSession(nil)
			clock := marketplacetest.NewClock(time.Unix(0, 0))
			require.NoError(t, findActivity(t, name).Do(context.Background(), sess, newPacer(clock)))
			assert.Equal(t, []string{tc.url}, sess.Navigated())
			require.Len(t, clock.Sleeps(), 1)
			assert.GreaterOrEqual(t, clock.Sleeps()[0], tc.lo)
			assert.LessOrEqual(t, clock.Sleeps()[0], tc.hi)
		})
	}
}

func TestMarketplaceCategoryActivity(t *testing.T) {
	t.Parallel()

	sess := marketplacetest.NewSession(nil)
	clock := marketplacetest.NewClock(time.Unix(0, 0))
	require.NoError(t, findActivity(t, "marketplace-category").Do(context.Background(), sess, newPacer(clock)))

	nav := sess.Navigated()
	require.Len(t, nav, 1)
	category := strings.TrimPrefix(nav[0], "https://www.facebook.com/marketplace/category/")
	assert.Contains(t, breakCategories, category)
	assert.GreaterOrEqual(t, sess.Scrolls(), 2)
	assert.LessOrEqual(t, sess.Scrolls(), 4)
}

func TestActivityPropagatesSessionErrors(t *testing.T) {
	t.Parallel()

	sess := marketplacetest.NewSession(nil)
	sess.Err = marketplace.ErrSessionDead
	err := findActivity(t, "notifications").Do(context.Background(), sess, newPacer(marketplacetest.NewClock(time.Unix(0, 0))))
	require.True(t, errors.Is(err, marketplace.ErrSessionDead))
}

func TestPacerBounds(t *testing.T) {
	t.Parallel()

	clock := marketplacetest.NewClock(time.Unix(0, 0))
	p := newPacer(clock)
	for range 50 {
		require.NoError(t, p.Between(context.Background(), 30*time.Second, 90*time.Second))
	}
	for _, d := range clock.Sleeps() {
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.LessOrEqual(t, d, 90*time.Second)
		assert.Zero(t, d%time.Second)
	}
	assert.Equal(t, 4, p.intBetween(4, 2))
}
