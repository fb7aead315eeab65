package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/database"

	"github.com/redis/go-redis/v9"
)

// Repository is the knife state store. Every run marker, completed
// document, rate limit counter and SSO auth state lives in redis under
// the prefixes defined in models.
type Repository struct {
	redis *database.Redis
}

func NewRepository(r *database.Redis) *Repository {
	return &Repository{redis: r}
}

// EncodeDocument packs a finished harvest for storage: JSON, gzipped,
// base64. The same bytes are served to download clients verbatim.
func EncodeDocument(results models.ResultMap) (string, error) {
	encoded, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(encoded); err != nil {
		return "", fmt.Errorf("failed to compress document: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress document: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDocument reverses EncodeDocument. Numbers decode as json.Number
// so IDs survive the round trip exactly.
func DecodeDocument(doc string) (models.ResultMap, error) {
	compressed, err := base64.StdEncoding.DecodeString(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress document: %w", err)
	}
	raw, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decompress document: %w", err)
	}

	var results models.ResultMap
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return results, nil
}

// ListTokens returns the run tokens currently under the given marker
// prefix.
func (r *Repository) ListTokens(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.redis.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(keys))
	for _, key := range keys {
		tokens = append(tokens, strings.TrimPrefix(key, prefix))
	}
	return tokens, nil
}

// ClearMarkers removes every key under the given prefix. Run at startup
// for pending. and processing. so runs interrupted by a restart show as
// failed rather than hanging forever.
func (r *Repository) ClearMarkers(ctx context.Context, prefix string) error {
	keys, err := r.redis.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	return r.redis.Delete(ctx, keys...)
}

// CreateRun registers a new run for the given SSO access token. The
// marker carries no TTL; the supervisor consumes it on its next sweep.
func (r *Repository) CreateRun(ctx context.Context, state, accessToken string) error {
	return r.redis.Set(ctx, models.KeyNew+state, accessToken, 0)
}

// TakeNewRun claims a new-run marker, returning its access token and
// swapping the marker to pending so ProcessNew never double-claims.
// The new marker comes off before pending goes on; a run never carries
// two markers at once.
func (r *Repository) TakeNewRun(ctx context.Context, state string) (string, error) {
	accessToken, err := r.redis.Get(ctx, models.KeyNew+state)
	if err != nil {
		return "", err
	}
	if err := r.redis.Delete(ctx, models.KeyNew+state); err != nil {
		return "", err
	}
	return accessToken, r.redis.Set(ctx, models.KeyPending+state, "1", models.PendingTTL)
}

// SetProcessing moves a run from pending to processing. The marker value
// is the character ID, which makes stuck runs attributable from redis.
func (r *Repository) SetProcessing(ctx context.Context, state string, characterID int64) error {
	if err := r.redis.Set(ctx, models.KeyProcessing+state, characterID, models.ProcessingTTL); err != nil {
		return err
	}
	return r.redis.Delete(ctx, models.KeyPending+state)
}

// ClearPending drops a run's pending marker.
func (r *Repository) ClearPending(ctx context.Context, state string) error {
	return r.redis.Delete(ctx, models.KeyPending+state)
}

// FailRun drops every marker for a run. The token simply becomes unknown.
func (r *Repository) FailRun(ctx context.Context, state string) error {
	return r.redis.Delete(ctx,
		models.KeyNew+state,
		models.KeyPending+state,
		models.KeyProcessing+state,
	)
}

// RunState reports which marker a run token currently holds.
func (r *Repository) RunState(ctx context.Context, state string) (string, error) {
	for _, prefix := range []string{models.KeyComplete, models.KeyProcessing, models.KeyPending, models.KeyNew} {
		_, err := r.redis.Get(ctx, prefix+state)
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", err
		}
		return prefix, nil
	}
	return "", nil
}

// WriteDocument stores the finished harvest and clears the processing
// marker.
func (r *Repository) WriteDocument(ctx context.Context, state string, results models.ResultMap) error {
	doc, err := EncodeDocument(results)
	if err != nil {
		return err
	}
	if err := r.redis.Set(ctx, models.KeyComplete+state, doc, models.CompleteTTL); err != nil {
		return err
	}
	return r.redis.Delete(ctx, models.KeyProcessing+state)
}

// ReadDocument returns the stored document for a completed run and
// refreshes its expiry, so actively shared results stay available.
func (r *Repository) ReadDocument(ctx context.Context, state string) (string, error) {
	doc, err := r.redis.Get(ctx, models.KeyComplete+state)
	if err != nil {
		return "", err
	}
	if err := r.redis.Expire(ctx, models.KeyComplete+state, models.CompleteTTL); err != nil {
		return "", err
	}
	return doc, nil
}

// IncrementAlltime bumps the persistent completed-run counter.
func (r *Repository) IncrementAlltime(ctx context.Context) error {
	_, err := r.redis.IncrBy(ctx, models.KeyAlltime, 1)
	return err
}

// Alltime returns the completed-run counter.
func (r *Repository) Alltime(ctx context.Context) int64 {
	value, err := r.redis.Get(ctx, models.KeyAlltime)
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return count
}

// RateLimited counts a request from the given IP against its one minute
// budget and reports whether the IP is over it.
func (r *Repository) RateLimited(ctx context.Context, ip string) bool {
	key := models.KeyRateLimit + ip

	requests := 0
	if value, err := r.redis.Get(ctx, key); err == nil {
		if parsed, err := strconv.Atoi(value); err == nil {
			requests = parsed
		}
	}

	if requests >= models.RateLimitThreshold {
		return true
	}

	// best effort; an unreachable store must not lock users out
	_ = r.redis.Set(ctx, key, strconv.Itoa(requests+1), models.RateLimitTTL)
	return false
}

// SetAuthState registers an SSO state token ahead of the login redirect.
func (r *Repository) SetAuthState(ctx context.Context, state string) error {
	return r.redis.Set(ctx, models.KeyAuthState+state, "1", models.AuthStateTTL)
}

// ConsumeAuthState validates and burns an SSO state token. Each state
// admits exactly one callback.
func (r *Repository) ConsumeAuthState(ctx context.Context, state string) bool {
	_, err := r.redis.Get(ctx, models.KeyAuthState+state)
	if err != nil {
		return false
	}
	_ = r.redis.Delete(ctx, models.KeyAuthState+state)
	return true
}

// Stats summarizes run counts for the metrics shell.
type Stats struct {
	New        int
	Pending    int
	Processing int
	Complete   int
	Alltime    int64
}

// CountStats snapshots the marker counts. Errors degrade to zero counts;
// metrics are advisory.
func (r *Repository) CountStats(ctx context.Context) Stats {
	count := func(prefix string) int {
		keys, err := r.redis.Keys(ctx, prefix)
		if err != nil {
			return 0
		}
		return len(keys)
	}

	return Stats{
		New:        count(models.KeyNew),
		Pending:    count(models.KeyPending),
		Processing: count(models.KeyProcessing),
		Complete:   count(models.KeyComplete),
		Alltime:    r.Alltime(ctx),
	}
}

// Helper for handlers that only need a cheap liveness check.
func (r *Repository) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.redis.HealthCheck(ctx)
}
