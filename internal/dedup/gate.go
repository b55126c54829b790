// Package dedup writes listings to the shared document store exactly once per
// item id and announces new listings to downstream consumers.
package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

// Upload outcomes.
const (
	OutcomeWritten   = "written"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Config controls event publication.
type Config struct {
	// Topic receives a ListingEvent for each new record. Empty disables events.
	Topic string
}

// Outcome describes what Upload did.
type Outcome struct {
	Written bool
}

// ListingEvent is published after a new listing is stored.
type ListingEvent struct {
	ID         int64     `json:"publication_id"`
	RegionCode string    `json:"city_code"`
	ListingURL string    `json:"publication_link"`
	Images     int       `json:"images"`
	ScrapedAt  time.Time `json:"scraped_at"`
	Make       string    `json:"make,omitempty"`
	Year       int       `json:"year,omitempty"`
}

// Attributes exposes message attributes for brokers that support them.
func (e ListingEvent) Attributes() map[string]string {
	return map[string]string{"city_code": e.RegionCode}
}

// Gate checks the store before writing.
type Gate struct {
	store     marketplace.DocumentStore
	publisher marketplace.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New creates a Gate. publisher may be nil.
func New(store marketplace.DocumentStore, publisher marketplace.Publisher, cfg Config, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, publisher: publisher, cfg: cfg, logger: logger}
}

// Upload stores rec unless a document already exists under its id. An
// existing document is never overwritten.
func (g *Gate) Upload(ctx context.Context, rec marketplace.ListingRecord) (Outcome, error) {
	key := rec.Key()
	exists, err := g.store.Exists(ctx, key)
	if err != nil {
		metrics.ObserveUpload(OutcomeFailed)
		return Outcome{}, &marketplace.UploadFailure{ItemID: key, Cause: err}
	}
	if exists {
		metrics.ObserveUpload(OutcomeDuplicate)
		g.logger.Info("listing already stored", zap.String("item_id", key))
		return Outcome{Written: false}, nil
	}
	if err := g.store.Put(ctx, key, rec); err != nil {
		metrics.ObserveUpload(OutcomeFailed)
		return Outcome{}, &marketplace.UploadFailure{ItemID: key, Cause: err}
	}
	metrics.ObserveUpload(OutcomeWritten)
	g.logger.Info("listing stored", zap.String("item_id", key), zap.String("city_code", rec.RegionCode))
	g.announce(ctx, rec)
	return Outcome{Written: true}, nil
}

func (g *Gate) announce(ctx context.Context, rec marketplace.ListingRecord) {
	if g.publisher == nil || g.cfg.Topic == "" {
		return
	}
	evt := ListingEvent{
		ID:         rec.ID,
		RegionCode: rec.RegionCode,
		ListingURL: rec.ListingURL,
		Images:     len(rec.ImageURLs),
		ScrapedAt:  rec.ScrapedAt,
	}
	if rec.Vehicle != nil {
		evt.Make = rec.Vehicle.Make
		evt.Year = rec.Vehicle.Year
	}
	if _, err := g.publisher.Publish(ctx, g.cfg.Topic, evt); err != nil {
		g.logger.Warn("publish listing event failed", zap.Int64("item_id", rec.ID), zap.Error(err))
	}
}
