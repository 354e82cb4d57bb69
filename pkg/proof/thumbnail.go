package proof

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"log/slog"
	"os"
	"strings"

	"snoozer/pkg/cache"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const defaultJPEGQuality = 50

// Thumbnailer produces the compact representation of an image.
type Thumbnailer interface {
	// Thumbnail downsamples the image at uri to size×size and returns it encoded.
	Thumbnail(ctx context.Context, uri string, size int) (string, error)
}

// JPEGThumbnailer loads images from disk, scales them to a square and returns
// base64-encoded JPEG bytes.
type JPEGThumbnailer struct {
	Quality int
}

// Thumbnail implements Thumbnailer.
func (t JPEGThumbnailer) Thumbnail(ctx context.Context, uri string, size int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if size <= 0 {
		return "", fmt.Errorf("invalid thumbnail size %d", size)
	}

	f, err := os.Open(imagePath(uri))
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	dst := scaleSquare(src, size)

	quality := t.Quality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode JPEG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// scaleSquare resizes img to size×size, ignoring the aspect ratio.
func scaleSquare(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func decodeThumbnail(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode thumbnail: %w", err)
	}
	return raw, nil
}

func imagePath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// CachingThumbnailer memoizes thumbnails of files that have not changed
// since they were last encoded. The reference photo is re-read on every
// attempt otherwise.
type CachingThumbnailer struct {
	next  Thumbnailer
	cache cache.Cacher
}

// NewCachingThumbnailer wraps next with c.
func NewCachingThumbnailer(next Thumbnailer, c cache.Cacher) *CachingThumbnailer {
	return &CachingThumbnailer{next: next, cache: c}
}

// Thumbnail implements Thumbnailer.
func (t *CachingThumbnailer) Thumbnail(ctx context.Context, uri string, size int) (string, error) {
	info, err := os.Stat(imagePath(uri))
	if err != nil {
		// Let the wrapped thumbnailer report the failure.
		return t.next.Thumbnail(ctx, uri, size)
	}
	key := fmt.Sprintf("thumb:%s:%d:%d:%d", imagePath(uri), size, info.Size(), info.ModTime().UnixNano())

	if val, ok := t.cache.GetCache(ctx, key); ok {
		return string(val), nil
	}

	encoded, err := t.next.Thumbnail(ctx, uri, size)
	if err != nil {
		return "", err
	}
	if err := t.cache.SetCache(ctx, key, []byte(encoded)); err != nil {
		slog.Debug("Proof: Failed to cache thumbnail", "uri", uri, "error", err)
	}
	return encoded, nil
}
