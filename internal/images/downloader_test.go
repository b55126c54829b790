package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-scraper/internal/storage/memory"
)

func TestDownloadStoresImages(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("jpeg"))
		case "/b":
			_, _ = w.Write([]byte("png"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	blobs := memory.NewBlobStore()
	d := NewWithClient(server.Client(), blobs, Config{Prefix: "images/", UserAgent: "test"}, nil)

	stored := d.Download(context.Background(), 42, []string{
		server.URL + "/a.jpg?stp=dst",
		server.URL + "/missing.jpg",
		server.URL + "/b",
	})
	assert.Equal(t, 2, stored)
	assert.Equal(t, []string{"images/42/42_0.jpg", "images/42/42_2.png"}, blobs.Paths())

	data, contentType, ok := blobs.Object("images/42/42_0.jpg")
	require.True(t, ok)
	assert.Equal(t, "jpeg", string(data))
	assert.Equal(t, "image/jpeg", contentType)
}

func TestDownloadHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	d := New(blobs, Config{Timeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, 0, d.Download(ctx, 1, []string{"http://127.0.0.1:1/x.jpg"}))
	assert.Empty(t, blobs.Paths())
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "7/7_0.png", ObjectPath("", 7, 0, "https://scontent.xx/v/t1/abc"))
	assert.Equal(t, "p/7/7_1.webp", ObjectPath("/p/", 7, 1, "https://scontent.xx/v/x.WEBP?x=1"))
	assert.Equal(t, "7/7_2.png", ObjectPath("", 7, 2, "::bad"))
}
