package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spinel-coop/rv/internal/logger"
)

// MinTTL is the floor for revalidation intervals: even a max-age of zero
// keeps an entry for a minute to dampen request storms.
const MinTTL = 60 * time.Second

// HTTPEntry is the stored state of an HTTP-backed cache entry.
type HTTPEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	ETag      string    `json:"etag"`
	Body      []byte    `json:"body"`
}

// GetHTTP fetches a URL through the cache. Fresh entries are served
// directly; expired entries are revalidated with If-None-Match; when the
// refresh fails and a stale entry exists, the stale body is returned with
// stale=true and a warning, not an error.
func (c *Cache) GetHTTP(ctx context.Context, client *http.Client, bucket Bucket, key Key, url string) (body []byte, stale bool, err error) {
	digest := Digest(key)

	var entry *HTTPEntry
	if raw, ok, readErr := c.Read(bucket, digest); readErr == nil && ok {
		var stored HTTPEntry
		if json.Unmarshal(raw, &stored) == nil {
			entry = &stored
		}
		// A corrupt entry is treated as a miss and overwritten below.
	}

	if entry != nil && time.Now().Before(entry.ExpiresAt) {
		return entry.Body, false, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	if entry != nil && entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}

	resp, err := client.Do(req)
	if err != nil {
		if entry != nil {
			logger.Warn("using stale cached response after network failure", "url", url, "error", err)
			return entry.Body, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && entry != nil:
		entry.ExpiresAt = time.Now().Add(ttlFrom(resp.Header))
		if etag := resp.Header.Get("ETag"); etag != "" {
			entry.ETag = etag
		}
		c.storeHTTPEntry(bucket, digest, entry)
		return entry.Body, false, nil

	case resp.StatusCode == http.StatusOK:
		fresh, err := io.ReadAll(resp.Body)
		if err != nil {
			if entry != nil {
				logger.Warn("using stale cached response after read failure", "url", url, "error", err)
				return entry.Body, true, nil
			}
			return nil, false, err
		}
		updated := &HTTPEntry{
			ExpiresAt: time.Now().Add(ttlFrom(resp.Header)),
			ETag:      resp.Header.Get("ETag"),
			Body:      fresh,
		}
		c.storeHTTPEntry(bucket, digest, updated)
		return fresh, false, nil
	}

	if entry != nil {
		logger.Warn("using stale cached response after HTTP error", "url", url, "status", resp.Status)
		return entry.Body, true, nil
	}
	return nil, false, fmt.Errorf("GET %s: %s", url, resp.Status)
}

func (c *Cache) storeHTTPEntry(bucket Bucket, digest string, entry *HTTPEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	// Replace whatever is there: revalidation legitimately rewrites
	// existing digests.
	dest := c.EntryPath(bucket, digest)
	pending, err := c.StartWrite(bucket, digest)
	if err != nil {
		logger.Debug("cache write skipped", "path", dest, "error", err)
		return
	}
	if _, err := pending.Write(raw); err != nil {
		pending.Abort()
		return
	}
	_ = pending.Commit()
}

// ttlFrom extracts max-age from Cache-Control, clamped to MinTTL.
func ttlFrom(header http.Header) time.Duration {
	ttl := MinTTL
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(value); err == nil {
				if parsed := time.Duration(seconds) * time.Second; parsed > ttl {
					ttl = parsed
				}
			}
		}
	}
	return ttl
}
