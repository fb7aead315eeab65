package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"esi-knife/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Redis wraps the shared redis client used as the knife state store.
// Every run marker, rate limit counter and the cached swagger document
// live here under the key prefixes defined in internal/knife/models.
type Redis struct {
	Client *redis.Client
	tracer trace.Tracer
}

func NewRedis(ctx context.Context) (*Redis, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err = client.Ping(pingCtx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	log.Printf("Connected to Redis at: %s", opt.Addr)

	r := &Redis{Client: client}

	// Only initialize tracer if telemetry is enabled
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		r.tracer = otel.Tracer("redis-client")
	}

	return r, nil
}

// NewRedisWithClient wraps an existing client, used by tests running
// against miniredis.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{Client: client}
}

func (r *Redis) Close() error {
	return r.Client.Close()
}

func (r *Redis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ctx, span := r.startSpan(ctx, "redis.set", key, "SET")
	defer endSpan(span)

	err := r.Client.Set(ctx, key, value, expiration).Err()
	recordError(span, err)
	return err
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	ctx, span := r.startSpan(ctx, "redis.get", key, "GET")
	defer endSpan(span)

	result, err := r.Client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		recordError(span, err)
	}
	return result, err
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, span := r.startSpan(ctx, "redis.delete", keys[0], "DEL")
	defer endSpan(span)

	err := r.Client.Del(ctx, keys...).Err()
	recordError(span, err)
	return err
}

// Keys returns every key matching the given prefix. SCAN is used rather
// than KEYS so large stores are not blocked while enumerating markers.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := r.startSpan(ctx, "redis.keys", prefix, "SCAN")
	defer endSpan(span)

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.Client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// IncrBy atomically increments a counter key.
func (r *Redis) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	ctx, span := r.startSpan(ctx, "redis.incrby", key, "INCRBY")
	defer endSpan(span)

	result, err := r.Client.IncrBy(ctx, key, value).Result()
	recordError(span, err)
	return result, err
}

// Expire refreshes the TTL on an existing key.
func (r *Redis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	ctx, span := r.startSpan(ctx, "redis.expire", key, "EXPIRE")
	defer endSpan(span)

	err := r.Client.Expire(ctx, key, expiration).Err()
	recordError(span, err)
	return err
}

// SetJSON stores a JSON-serializable object in Redis with expiration
func (r *Redis) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return r.Set(ctx, key, jsonData, expiration)
}

// GetJSON retrieves and unmarshals a JSON object from Redis
func (r *Redis) GetJSON(ctx context.Context, key string, dest interface{}) error {
	jsonData, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

func (r *Redis) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) startSpan(ctx context.Context, name, key, op string) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, nil
	}
	return r.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", op),
		),
	)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func recordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
	}
}
