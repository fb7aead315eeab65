package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/evegateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expanderSpec() map[string]any {
	return specDoc(map[string]map[string]any{
		"/characters/{character_id}/planets/": scoped(
			"esi-planets.manage_planets.v1", pathParam("character_id")),
		"/characters/{character_id}/fittings/": scoped(
			"esi-fittings.read_fittings.v1", pathParam("character_id")),
		"/characters/{character_id}/mail/": scoped(
			"esi-mail.read_mail.v1", pathParam("character_id")),
	})
}

func TestExpandParamsAppliesTransforms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/latest/characters/90000001/planets/", r.URL.Path)
		w.Write([]byte(`[{"planet_id": 40000001, "solar_system_id": 30000001}]`))
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	table := models.PoolTable{"character_id": {"planet_id": "/characters/{character_id}/planets/"}}

	pools, results := ExpandParams(context.Background(), client, "tok",
		models.NewStringSet("esi-planets.manage_planets.v1"), models.NewStringSet(),
		expanderSpec(), map[string]any{"character_id": int64(90000001)}, table)

	ids := pools["character_id"]["planet_id"]
	require.Len(t, ids, 1)
	id, ok := asInt(ids[0])
	require.True(t, ok)
	assert.Equal(t, int64(40000001), id)

	// the raw listing body is kept for the final document
	listing := results[server.URL+"/latest/characters/90000001/planets/"]
	require.IsType(t, []any{}, listing)
}

func TestExpandParamsPurgesUngrantedListings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	table := models.PoolTable{"character_id": {"planet_id": "/characters/{character_id}/planets/"}}

	pools, _ := ExpandParams(context.Background(), client, "tok",
		models.NewStringSet(), models.NewStringSet(),
		expanderSpec(), map[string]any{"character_id": int64(90000001)}, table)

	_, ok := pools["character_id"]["planet_id"]
	assert.False(t, ok, "ungranted listing must not leave a pool entry")
}

func TestExpandParamsKeepsPlainLists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[101, 102]`))
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	table := models.PoolTable{"character_id": {"fitting_id": "/characters/{character_id}/fittings/"}}

	pools, results := ExpandParams(context.Background(), client, "tok",
		models.NewStringSet("esi-fittings.read_fittings.v1"), models.NewStringSet(),
		expanderSpec(), map[string]any{"character_id": int64(90000001)}, table)

	assert.Len(t, pools["character_id"]["fitting_id"], 2)
	assert.Empty(t, results, "plain lists are not seeded into the results")
}

func TestExpandParamsMergesListingPagesInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pages", "3")
		switch r.URL.Query().Get("page") {
		case "":
			w.Write([]byte(`[{"mail_id": 1}]`))
		case "2":
			w.Write([]byte(`[{"mail_id": 2}]`))
		case "3":
			w.Write([]byte(`[{"mail_id": 3}]`))
		}
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	table := models.PoolTable{"character_id": {"mail_id": "/characters/{character_id}/mail/"}}

	pools, _ := ExpandParams(context.Background(), client, "tok",
		models.NewStringSet("esi-mail.read_mail.v1"), models.NewStringSet(),
		expanderSpec(), map[string]any{"character_id": int64(90000001)}, table)

	ids := pools["character_id"]["mail_id"]
	require.Len(t, ids, 3)
	var got []int64
	for _, raw := range ids {
		id, ok := asInt(raw)
		require.True(t, ok)
		got = append(got, id)
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestExpandParamsToleratesListingFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "nope"}`))
	}))
	defer server.Close()

	client := evegateway.NewClientWithBase(server.URL)
	table := models.PoolTable{"character_id": {"planet_id": "/characters/{character_id}/planets/"}}

	pools, results := ExpandParams(context.Background(), client, "tok",
		models.NewStringSet("esi-planets.manage_planets.v1"), models.NewStringSet(),
		expanderSpec(), map[string]any{"character_id": int64(90000001)}, table)

	_, ok := pools["character_id"]["planet_id"]
	assert.False(t, ok)
	assert.Empty(t, results)
}
