package services

import (
	"sort"
	"strings"
	"testing"

	"esi-knife/internal/knife/models"

	"github.com/stretchr/testify/assert"
)

const esi = "https://esi.evetech.net"

// specDoc builds a minimal dereferenced swagger document from GET
// operations keyed by route.
func specDoc(opers map[string]map[string]any) map[string]any {
	paths := map[string]any{}
	for route, oper := range opers {
		paths[route] = map[string]any{"get": oper}
	}
	return map[string]any{"basePath": "/latest", "paths": paths}
}

func pathParam(names ...string) []any {
	params := make([]any, 0, len(names))
	for _, name := range names {
		params = append(params, map[string]any{"name": name, "in": "path"})
	}
	return params
}

func scoped(scope string, params []any) map[string]any {
	return map[string]any{
		"parameters": params,
		"security":   []any{map[string]any{"evesso": []any{scope}}},
	}
}

func TestBuildURLsSubstitutesEveryPlaceholder(t *testing.T) {
	spec := specDoc(map[string]map[string]any{
		"/characters/{character_id}/location/": scoped("esi-location.read_location.v1", pathParam("character_id")),
		"/characters/{character_id}/":          {"parameters": pathParam("character_id")},
	})

	urls := BuildURLs(esi,
		models.NewStringSet("esi-location.read_location.v1"),
		models.NewStringSet(),
		spec,
		map[string]any{"character_id": int64(90000001)},
		models.Pools{},
	)

	sort.Strings(urls)
	assert.Equal(t, []string{
		esi + "/latest/characters/90000001/",
		esi + "/latest/characters/90000001/location/",
	}, urls)
	for _, url := range urls {
		assert.NotContains(t, url, "{")
	}
}

func TestBuildURLsEnforcesScopeSubset(t *testing.T) {
	spec := specDoc(map[string]map[string]any{
		"/characters/{character_id}/wallet/": scoped("esi-wallet.read_character_wallet.v1", pathParam("character_id")),
	})

	urls := BuildURLs(esi,
		models.NewStringSet("esi-location.read_location.v1"),
		models.NewStringSet(),
		spec,
		map[string]any{"character_id": int64(90000001)},
		models.Pools{},
	)

	assert.Empty(t, urls)
}

func TestBuildURLsEnforcesRoleSubset(t *testing.T) {
	oper := scoped("esi-corporations.read_structures.v1", pathParam("corporation_id"))
	oper["x-required-roles"] = []any{"Station_Manager"}
	spec := specDoc(map[string]map[string]any{
		"/corporations/{corporation_id}/structures/": oper,
	})

	scopes := models.NewStringSet("esi-corporations.read_structures.v1")
	known := map[string]any{"corporation_id": int64(2100000)}

	urls := BuildURLs(esi, scopes, models.NewStringSet(), spec, known, models.Pools{})
	assert.Empty(t, urls, "missing corporate role must gate the route")

	urls = BuildURLs(esi, scopes, models.NewStringSet("Station_Manager"), spec, known, models.Pools{})
	assert.Len(t, urls, 1)
}

func TestBuildURLsNeverEmitsIgnoredRoutes(t *testing.T) {
	spec := specDoc(map[string]map[string]any{
		"/characters/{character_id}/opportunities/": {"parameters": pathParam("character_id")},
		"/characters/{character_id}/search/":        {"parameters": pathParam("character_id")},
	})

	urls := BuildURLs(esi, models.NewStringSet(), models.NewStringSet(), spec,
		map[string]any{"character_id": int64(90000001)}, models.Pools{})

	assert.Empty(t, urls)
}

func TestBuildURLsSkipsRoutesWithoutFanOutPools(t *testing.T) {
	spec := specDoc(map[string]map[string]any{
		"/characters/{character_id}/planets/{planet_id}/": {
			"parameters": pathParam("character_id", "planet_id"),
		},
	})

	// no planet_id pool: the route cannot be fanned out
	urls := BuildURLs(esi, models.NewStringSet(), models.NewStringSet(), spec,
		map[string]any{"character_id": int64(90000001)}, models.Pools{"character_id": {}})

	assert.Empty(t, urls)
}

func TestBuildURLsFansOutOverPools(t *testing.T) {
	spec := specDoc(map[string]map[string]any{
		"/characters/{character_id}/planets/{planet_id}/": {
			"parameters": pathParam("character_id", "planet_id"),
		},
	})

	urls := BuildURLs(esi, models.NewStringSet(), models.NewStringSet(), spec,
		map[string]any{"character_id": int64(90000001)},
		models.Pools{"character_id": {"planet_id": []any{int64(40000001), int64(40000002)}}},
	)

	sort.Strings(urls)
	assert.Equal(t, []string{
		esi + "/latest/characters/90000001/planets/40000001/",
		esi + "/latest/characters/90000001/planets/40000002/",
	}, urls)
}

func TestBuildURLsCartesianProduct(t *testing.T) {
	spec := specDoc(map[string]map[string]any{
		"/characters/{character_id}/mail/{mail_id}/{label_id}/": {
			"parameters": pathParam("character_id", "mail_id", "label_id"),
		},
	})

	urls := BuildURLs(esi, models.NewStringSet(), models.NewStringSet(), spec,
		map[string]any{"character_id": int64(90000001)},
		models.Pools{"character_id": {
			"mail_id":  []any{int64(1), int64(2), int64(3)},
			"label_id": []any{int64(7), int64(8)},
		}},
	)

	assert.Len(t, urls, 6)
	seen := map[string]bool{}
	for _, url := range urls {
		assert.False(t, seen[url], "duplicate URL %s", url)
		seen[url] = true
		assert.True(t, strings.HasPrefix(url, esi+"/latest/characters/90000001/mail/"))
	}
}

func TestBuildURLsSkipsParameterlessRoutes(t *testing.T) {
	spec := specDoc(map[string]map[string]any{
		"/status/": {},
	})

	urls := BuildURLs(esi, models.NewStringSet(), models.NewStringSet(), spec,
		map[string]any{"character_id": int64(90000001)}, models.Pools{})

	assert.Empty(t, urls)
}
