package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "42/42_1.jpg", "image/jpeg", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://42/42_1.jpg", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Object("42/42_1.jpg")
	require.True(t, ok)
	assert.Equal(t, "content", string(stored))
	assert.Equal(t, "image/jpeg", contentType)
	assert.Equal(t, []string{"42/42_1.jpg"}, store.Paths())
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
