// Package storage selects the document and blob store implementations named
// in configuration. Each backend lives in its own subpackage.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/marketplace-scraper/internal/config"
	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/storage/gcs"
	"github.com/JakeFAU/marketplace-scraper/internal/storage/local"
	"github.com/JakeFAU/marketplace-scraper/internal/storage/memory"
	"github.com/JakeFAU/marketplace-scraper/internal/storage/mongo"
	"github.com/JakeFAU/marketplace-scraper/internal/storage/postgres"
)

// OpenDocumentStore connects the listing store selected by cfg.Driver.
func OpenDocumentStore(ctx context.Context, cfg config.StoreConfig) (marketplace.DocumentStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.NewDocumentStore(), nil
	case "postgres":
		store, err := postgres.NewDocumentStore(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case "mongo":
		store, err := mongo.NewDocumentStore(ctx, mongo.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// BlobStore is a marketplace.BlobStore that may hold resources.
type BlobStore interface {
	marketplace.BlobStore
	io.Closer
}

// OpenBlobStore builds the image store selected by cfg.Driver.
func OpenBlobStore(ctx context.Context, cfg config.ImagesConfig) (BlobStore, error) {
	switch cfg.Driver {
	case "", "local":
		store, err := local.New(local.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("open local image store: %w", err)
		}
		return nopCloser{store}, nil
	case "memory":
		return nopCloser{memory.NewBlobStore()}, nil
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("open gcs image store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown images driver %q", cfg.Driver)
	}
}

type nopCloser struct {
	marketplace.BlobStore
}

func (nopCloser) Close() error { return nil }
