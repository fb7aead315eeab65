package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/evegateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectIDsHonorsWhitelist(t *testing.T) {
	results := models.ResultMap{
		"https://esi.test/latest/characters/90000001/": map[string]any{
			"corporation_id": json.Number("2100000"),
			"security":       json.Number("5"),
			"standings": []any{
				map[string]any{"contact_id": json.Number("3009841")},
			},
		},
	}

	ids := CollectIDs(results)

	assert.Equal(t, []int64{2100000, 3009841}, ids)
}

func TestCollectIDsReadsRawIDRoutes(t *testing.T) {
	results := models.ResultMap{
		"https://esi.test/latest/corporations/2100000/members/": []any{
			json.Number("90000002"), json.Number("90000001"),
		},
		"https://esi.test/latest/characters/90000001/implants/": []any{
			json.Number("22118"),
		},
	}

	ids := CollectIDs(results)

	assert.Equal(t, []int64{22118, 90000001, 90000002}, ids)
}

func TestCollectIDsDeduplicates(t *testing.T) {
	results := models.ResultMap{
		"a": map[string]any{"type_id": json.Number("587")},
		"b": []any{
			map[string]any{"type_id": json.Number("587")},
			map[string]any{"type_id": json.Number("588")},
		},
	}

	ids := CollectIDs(results)

	assert.Equal(t, []int64{587, 588}, ids)
}

// namesServer resolves every posted ID except the poisoned ones, and
// fails the whole batch when a poisoned ID is present, the way the real
// endpoint rejects unresolvable IDs.
func namesServer(t *testing.T, poisoned map[int64]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/latest/universe/names/", r.URL.Path)

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var batch []int64
		require.NoError(t, json.Unmarshal(raw, &batch))

		for _, id := range batch {
			if poisoned[id] {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error": "Ensure all IDs are valid before resolving"}`))
				return
			}
		}

		entries := make([]map[string]any, 0, len(batch))
		for _, id := range batch {
			entries = append(entries, map[string]any{
				"id":       id,
				"name":     "name-" + strconv.FormatInt(id, 10),
				"category": "character",
			})
		}
		json.NewEncoder(w).Encode(entries)
	}))
}

func TestResolveNamesResolvesEverything(t *testing.T) {
	server := namesServer(t, nil)
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	names := ResolveNames(context.Background(), client, []int64{1, 2, 3})

	assert.Equal(t, map[int64]string{1: "name-1", 2: "name-2", 3: "name-3"}, names)
}

func TestResolveNamesIsolatesPoisonedIDs(t *testing.T) {
	server := namesServer(t, map[int64]bool{666: true})
	defer server.Close()

	ids := make([]int64, 0, 50)
	for i := int64(1); i <= 50; i++ {
		ids = append(ids, i)
	}
	ids = append(ids, 666)

	client := evegateway.NewClientWithBase(server.URL)
	names := ResolveNames(context.Background(), client, ids)

	// every resolvable ID made it despite sharing batches with the bad one
	assert.Len(t, names, 50)
	_, ok := names[666]
	assert.False(t, ok)
}

func TestResolveNamesTerminatesWhenEverythingFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	names := ResolveNames(context.Background(), client, []int64{1, 2, 3, 4})

	assert.Empty(t, names)
}

func TestAnnotateResultsAddsNameSiblings(t *testing.T) {
	results := models.ResultMap{
		"https://esi.test/latest/characters/90000001/": map[string]any{
			"corporation_id": json.Number("2100000"),
			"ship_type_id":   json.Number("587"),
		},
	}

	annotated := AnnotateResults(results, map[int64]string{2100000: "Karbowiak Inc"})

	body := annotated["https://esi.test/latest/characters/90000001/"].(map[string]any)
	assert.Equal(t, "Karbowiak Inc", body["corporation_id_name"])
	_, ok := body["ship_type_id_name"]
	assert.False(t, ok, "unresolved IDs stay unannotated")

	original := results["https://esi.test/latest/characters/90000001/"].(map[string]any)
	_, ok = original["corporation_id_name"]
	assert.False(t, ok, "the input tree is never mutated")
}

func TestAnnotateResultsRewritesRawIDRoutes(t *testing.T) {
	results := models.ResultMap{
		"https://esi.test/latest/corporations/2100000/members/": []any{
			json.Number("90000001"), json.Number("90000002"),
		},
	}

	annotated := AnnotateResults(results, map[int64]string{90000001: "CCP Alpha"})

	list := annotated["https://esi.test/latest/corporations/2100000/members/"].([]any)
	require.Len(t, list, 2)

	first := list[0].(map[string]any)
	assert.Equal(t, json.Number("90000001"), first["id"])
	assert.Equal(t, "CCP Alpha", first["name"])

	second := list[1].(map[string]any)
	assert.Equal(t, json.Number("90000002"), second["id"])
	_, ok := second["name"]
	assert.False(t, ok)
}

func TestAnnotateResultsDescendsNestedLists(t *testing.T) {
	results := models.ResultMap{
		"https://esi.test/latest/characters/90000001/assets/": []any{
			map[string]any{"type_id": json.Number("587")},
		},
	}

	annotated := AnnotateResults(results, map[int64]string{587: "Rifter"})

	list := annotated["https://esi.test/latest/characters/90000001/assets/"].([]any)
	item := list[0].(map[string]any)
	assert.Equal(t, "Rifter", item["type_id_name"])
}
