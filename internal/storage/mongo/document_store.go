// Package mongo stores listing documents in a MongoDB collection keyed by
// listing id.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// Config locates the collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

type document struct {
	ID                        string `bson:"_id"`
	marketplace.ListingRecord `bson:",inline"`
}

// DocumentStore reads and writes listings in one collection.
type DocumentStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewDocumentStore connects and pings the server.
func NewDocumentStore(ctx context.Context, cfg Config) (*DocumentStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("store.mongo.uri is required")
	}
	if cfg.Database == "" || cfg.Collection == "" {
		return nil, errors.New("store.mongo.database and store.mongo.collection are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &DocumentStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

// NewDocumentStoreWithCollection wraps an existing collection (primarily for testing).
func NewDocumentStoreWithCollection(coll *mongo.Collection) (*DocumentStore, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	return &DocumentStore{coll: coll}, nil
}

// Exists reports whether a document is stored under key.
func (s *DocumentStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check listing %s: %w", key, err)
	}
	return n > 0, nil
}

// Put upserts the record under key.
func (s *DocumentStore) Put(ctx context.Context, key string, record marketplace.ListingRecord) error {
	if key == "" {
		return errors.New("key is required")
	}
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": key},
		document{ID: key, ListingRecord: record},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", key, err)
	}
	return nil
}

// Close disconnects the client when this store created it.
func (s *DocumentStore) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

var _ marketplace.DocumentStore = (*DocumentStore)(nil)
