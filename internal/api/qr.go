package api

import (
	"fmt"
	"time"

	"github.com/goodtune/classlog/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/skip2/go-qrcode"
)

// qrRenderer renders token payloads as PNG images. Each payload is only live
// for one rotation, so cached images expire on their own.
type qrRenderer struct {
	size  int
	cache *expirable.LRU[string, []byte]
}

func newQRRenderer(size, cacheSize int, ttl time.Duration) *qrRenderer {
	if size <= 0 {
		size = 256
	}
	if cacheSize <= 0 {
		cacheSize = 128
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &qrRenderer{
		size:  size,
		cache: expirable.NewLRU[string, []byte](cacheSize, nil, ttl),
	}
}

func (q *qrRenderer) Render(payload string) ([]byte, error) {
	if png, ok := q.cache.Get(payload); ok {
		metrics.QRCacheHits.Inc()
		return png, nil
	}
	metrics.QRCacheMisses.Inc()

	png, err := qrcode.Encode(payload, qrcode.Medium, q.size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}

	q.cache.Add(payload, png)
	return png, nil
}
