package evegateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"esi-knife/pkg/database"

	"github.com/alicebob/miniredis/v2"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *database.Redis {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redisclient.NewClient(&redisclient.Options{Addr: mini.Addr()})
	t.Cleanup(func() { client.Close() })
	return database.NewRedisWithClient(client)
}

func TestGetSpecFetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/latest/swagger.json", r.URL.Path)
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"basePath": "/latest", "paths": {}}`))
	}))
	defer server.Close()

	cache := NewSpecCache(NewClientWithBase(server.URL), testRedis(t))

	spec := cache.GetSpec(context.Background())
	assert.Equal(t, "/latest", spec["basePath"])

	// young enough to be served without another request
	cache.GetSpec(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetSpecConditionalRefresh(t *testing.T) {
	var gotETag string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotETag = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	redis := testRedis(t)
	stale, err := json.Marshal(map[string]any{
		"timestamp": time.Now().Add(-10 * time.Minute).Unix(),
		"etag":      `"v1"`,
		"spec":      map[string]any{"basePath": "/latest"},
	})
	require.NoError(t, err)
	require.NoError(t, redis.Set(context.Background(), specKey, stale, time.Hour))

	cache := NewSpecCache(NewClientWithBase(server.URL), redis)
	spec := cache.GetSpec(context.Background())

	assert.Equal(t, `"v1"`, gotETag)
	assert.Equal(t, "/latest", spec["basePath"], "304 serves the cached document")
}

func TestGetSpecServesLastKnownOnFailure(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"basePath": "/latest"}`))
	}))
	defer server.Close()

	// nil redis: the CLI path, in-process copy only
	cache := NewSpecCache(NewClientWithBase(server.URL), nil)

	first := cache.GetSpec(context.Background())
	require.Equal(t, "/latest", first["basePath"])

	fail.Store(true)
	cache.mem.Timestamp = time.Now().Add(-10 * time.Minute).Unix()

	second := cache.GetSpec(context.Background())
	assert.Equal(t, "/latest", second["basePath"])
}

func TestGetSpecDereferencesDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"parameters": {"p": {"name": "character_id", "in": "path"}},
			"paths": {"/x/": {"get": {"parameters": [{"$ref": "#/parameters/p"}]}}}
		}`))
	}))
	defer server.Close()

	cache := NewSpecCache(NewClientWithBase(server.URL), nil)
	spec := cache.GetSpec(context.Background())

	oper := spec["paths"].(map[string]any)["/x/"].(map[string]any)["get"].(map[string]any)
	params := oper["parameters"].([]any)
	assert.Equal(t, "character_id", params[0].(map[string]any)["name"])
}
