package evegateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"esi-knife/pkg/database"
)

// specKey is the state-store entry holding the cached swagger document.
const specKey = "esijson."

// specMaxAge is how long a cached spec is served without a conditional
// refresh against /latest/swagger.json.
const specMaxAge = 300 * time.Second

// specTTL is the redis expiry on the cached entry.
const specTTL = time.Hour

type specEntry struct {
	Timestamp int64          `json:"timestamp"`
	ETag      string         `json:"etag"`
	Spec      map[string]any `json:"spec"`
}

// SpecCache serves the fully dereferenced ESI swagger document, refreshed
// with ETag-conditional requests. Backed by redis when available and by an
// in-process copy otherwise (the CLI runs without a state store).
type SpecCache struct {
	client *Client
	redis  *database.Redis // may be nil

	mu  sync.Mutex
	mem *specEntry
}

// NewSpecCache creates a spec cache. redis may be nil.
func NewSpecCache(client *Client, redis *database.Redis) *SpecCache {
	return &SpecCache{client: client, redis: redis}
}

// GetSpec returns the current swagger document. On refresh failure the
// last known document is returned, possibly empty.
func (s *SpecCache) GetSpec(ctx context.Context) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.load(ctx)
	if entry == nil {
		entry = &specEntry{Spec: map[string]any{}}
	}

	if time.Now().Unix()-entry.Timestamp <= int64(specMaxAge.Seconds()) {
		return entry.Spec
	}

	status, header, body, err := s.fetchConditional(ctx, entry.ETag)
	if err != nil {
		slog.Warn("failed to refresh ESI spec", "error", err)
		return entry.Spec
	}

	switch status {
	case http.StatusNotModified:
		entry.Timestamp = time.Now().Unix()
	case http.StatusOK:
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			slog.Warn("failed to decode ESI spec", "error", err)
			return entry.Spec
		}
		entry.Timestamp = time.Now().Unix()
		entry.ETag = header.Get("ETag")
		entry.Spec = Deref(doc)
	default:
		slog.Warn("unexpected status refreshing ESI spec", "status", status)
		return entry.Spec
	}

	s.store(ctx, entry)
	return entry.Spec
}

func (s *SpecCache) fetchConditional(ctx context.Context, etag string) (int, http.Header, []byte, error) {
	return s.client.Do(ctx, Request{
		URL:         s.client.BaseURL() + "/latest/swagger.json",
		IfNoneMatch: etag,
	})
}

func (s *SpecCache) load(ctx context.Context) *specEntry {
	if s.redis != nil {
		var entry specEntry
		if err := s.redis.GetJSON(ctx, specKey, &entry); err == nil {
			return &entry
		}
	}
	return s.mem
}

func (s *SpecCache) store(ctx context.Context, entry *specEntry) {
	s.mem = entry
	if s.redis != nil {
		if err := s.redis.SetJSON(ctx, specKey, entry, specTTL); err != nil {
			slog.Warn("failed to cache ESI spec", "error", err)
		}
	}
}
