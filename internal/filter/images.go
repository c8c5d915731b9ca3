package filter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"xianyuwatch/internal/retry"

	"go.uber.org/zap"
)

// DownloadHeaders are sent with every image request.
var DownloadHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:139.0) Gecko/20100101 Firefox/139.0",
	"Accept":                    "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
	"Accept-Language":           "zh-CN,zh;q=0.9,en;q=0.8",
	"Upgrade-Insecure-Requests": "1",
}

// ImageConfig tunes the image fetcher.
type ImageConfig struct {
	Dir        string
	MaxImages  int
	Attempts   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultImageConfig returns production settings.
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		Dir:        "images",
		Attempts:   2,
		RetryDelay: 3 * time.Second,
		Timeout:    20 * time.Second,
	}
}

// ImageFetcher downloads listing images to a local directory.
type ImageFetcher struct {
	cfg    ImageConfig
	client *http.Client
	log    *zap.Logger
}

// NewImageFetcher creates a fetcher writing into cfg.Dir.
func NewImageFetcher(cfg ImageConfig, log *zap.Logger) *ImageFetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// ImageFileName derives the local file name for the n-th (1-based) image.
func ImageFileName(listingID string, n int, rawURL string) string {
	clean, _, _ := strings.Cut(rawURL, ".heic")
	base, _, _ := strings.Cut(path.Base(clean), "?")
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`\/*?:"<>|`, r) {
			return -1
		}
		return r
	}, fmt.Sprintf("product_%s_%d_%s", listingID, n, base))
	if filepath.Ext(name) == "" {
		name += ".jpg"
	}
	return name
}

// Fetch downloads the listing's images and returns the local paths in URL
// order. Non-HTTP URLs are ignored, existing files are reused and failed
// downloads are skipped.
func (f *ImageFetcher) Fetch(ctx context.Context, listingID string, urls []string) ([]string, error) {
	var usable []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); strings.HasPrefix(u, "http") {
			usable = append(usable, u)
		}
	}
	if f.cfg.MaxImages > 0 && len(usable) > f.cfg.MaxImages {
		usable = usable[:f.cfg.MaxImages]
	}
	if len(usable) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(f.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}

	paths := make([]string, 0, len(usable))
	for i, u := range usable {
		dst := filepath.Join(f.cfg.Dir, ImageFileName(listingID, i+1, u))
		if _, err := os.Stat(dst); err == nil {
			f.log.Debug("image cached", zap.String("path", dst))
			paths = append(paths, dst)
			continue
		}
		policy := retry.Policy{
			Attempts: f.cfg.Attempts,
			Delay:    f.cfg.RetryDelay,
			OnRetry: func(attempt int, err error) {
				f.log.Debug("image download failed, retrying", zap.String("url", u), zap.Int("attempt", attempt), zap.Error(err))
			},
		}
		_, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (struct{}, error) {
			return struct{}{}, f.download(ctx, u, dst)
		})
		if err != nil {
			if ctx.Err() != nil {
				return paths, ctx.Err()
			}
			f.log.Warn("image skipped", zap.String("url", u), zap.Error(err))
			continue
		}
		paths = append(paths, dst)
	}
	return paths, nil
}

func (f *ImageFetcher) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	for k, v := range DownloadHeaders {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return retry.Permanent(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// LoadImages reads local image files for inline submission. Unreadable files
// are skipped.
func LoadImages(paths []string, log *zap.Logger) []Image {
	images := make([]Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Warn("image unreadable", zap.String("path", p), zap.Error(err))
			continue
		}
		mime := http.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			mime = "image/jpeg"
		}
		images = append(images, Image{MIME: mime, Data: data})
	}
	return images
}
