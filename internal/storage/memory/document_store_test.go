package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

func TestDocumentStorePutAndExists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocumentStore()

	ok, err := store.Exists(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)

	images := []string{"https://scontent/a.jpg"}
	require.NoError(t, store.Put(ctx, "42", marketplace.ListingRecord{ID: 42, ImageURLs: images}))
	images[0] = "mutated"

	ok, err = store.Exists(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, ok := store.Get("42")
	require.True(t, ok)
	assert.Equal(t, []string{"https://scontent/a.jpg"}, rec.ImageURLs)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, store.Puts())
	require.NoError(t, store.Close(ctx))
}

func TestDocumentStoreRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore()
	_, err := store.Exists(context.Background(), "")
	require.Error(t, err)
	require.Error(t, store.Put(context.Background(), "", marketplace.ListingRecord{}))
}
