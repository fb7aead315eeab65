package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/evegateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarvestStoresEveryURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latest/ok/":
			w.Write([]byte(`{"fine": true}`))
		case "/latest/broken/":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "boom"}`))
		}
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	urls := []string{server.URL + "/latest/ok/", server.URL + "/latest/broken/"}

	results := Harvest(context.Background(), client, "tok", urls, nil)

	require.Len(t, results, 2)
	assert.False(t, evegateway.IsErrorMarker(results[urls[0]]))
	assert.True(t, evegateway.IsErrorMarker(results[urls[1]]),
		"failed fetches stay in the document as error markers")
}

func TestHarvestMergesPagesAscending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pages", "3")
		switch r.URL.Query().Get("page") {
		case "":
			w.Write([]byte(`[1]`))
		case "2":
			w.Write([]byte(`[2]`))
		case "3":
			w.Write([]byte(`[3]`))
		}
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	url := server.URL + "/latest/assets/"

	results := Harvest(context.Background(), client, "tok", []string{url}, nil)

	merged, ok := results[url].([]any)
	require.True(t, ok)
	require.Len(t, merged, 3)
	for i, item := range merged {
		assert.Equal(t, strconv.Itoa(i+1), item.(json.Number).String())
	}
}

func TestHarvestDropsFailedPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pages", "2")
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[1]`))
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	url := server.URL + "/latest/assets/"

	results := Harvest(context.Background(), client, "tok", []string{url}, nil)

	merged, ok := results[url].([]any)
	require.True(t, ok)
	assert.Len(t, merged, 1, "failed pages are dropped from the merge")
}

func TestHarvestKeepsSeededResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	seeded := models.ResultMap{"https://example.test/listing/": []any{json.Number("1")}}

	results := Harvest(context.Background(), client, "tok", []string{server.URL + "/latest/x/"}, seeded)

	assert.Len(t, results, 2)
	assert.Contains(t, results, "https://example.test/listing/")
}

func TestHarvestBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := inFlight.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		defer inFlight.Add(-1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	urls := make([]string, 100)
	for i := range urls {
		urls[i] = server.URL + "/latest/x/" + string(rune('a'+i%26)) + "/"
	}

	Harvest(context.Background(), client, "tok", urls, nil)

	assert.LessOrEqual(t, peak.Load(), int32(poolWidth))
}
