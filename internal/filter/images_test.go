package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestImageFileName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://img.alicdn.com/bao/a1.jpg", "product_9_1_a1.jpg"},
		{"https://img.alicdn.com/bao/a1.jpg?x=1", "product_9_1_a1.jpg"},
		{"https://img.alicdn.com/bao/a2.heic_790x10000Q90.jpg_.webp", "product_9_1_a2.jpg"},
		{"https://img.alicdn.com/bao/noext", "product_9_1_noext.jpg"},
		{"https://img.alicdn.com/bao/we<i>rd:na*me.png", "product_9_1_weirdname.png"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ImageFileName("9", 1, tt.url))
		})
	}
}

func TestImageFetcher_Fetch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("\xff\xd8\xff\xe0 jpeg"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cached := filepath.Join(dir, "product_7_3_cached.jpg")
	require.NoError(t, os.WriteFile(cached, []byte("old"), 0o644))

	cfg := DefaultImageConfig()
	cfg.Dir = dir
	cfg.RetryDelay = 0
	f := NewImageFetcher(cfg, nil)

	paths, err := f.Fetch(context.Background(), "7", []string{
		" " + srv.URL + "/a.jpg ",
		"fleamarket://not-http",
		srv.URL + "/missing.jpg",
		srv.URL + "/cached.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "product_7_1_a.jpg"), cached}, paths)
	// one success plus two attempts at the missing image
	assert.Equal(t, int32(3), hits.Load())

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8\xff\xe0 jpeg", string(data))
}

func TestImageFetcher_MaxImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img"))
	}))
	defer srv.Close()

	cfg := DefaultImageConfig()
	cfg.Dir = t.TempDir()
	cfg.MaxImages = 1
	paths, err := NewImageFetcher(cfg, nil).Fetch(context.Background(), "1", []string{srv.URL + "/a.png", srv.URL + "/b.png"})
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n0000"), 0o644))
	txt := filepath.Join(dir, "b.jpg")
	require.NoError(t, os.WriteFile(txt, []byte("plain"), 0o644))

	images := LoadImages([]string{png, filepath.Join(dir, "gone.jpg"), txt}, zap.NewNop())
	require.Len(t, images, 2)
	assert.Equal(t, "image/png", images[0].MIME)
	assert.Equal(t, "image/jpeg", images[1].MIME)
}

func writeFile(path, data string) error {
	return os.WriteFile(path, []byte(data), 0o644)
}
