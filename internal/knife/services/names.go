package services

import (
	"context"
	"log/slog"
	"math/rand"
	"regexp"
	"sort"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/evegateway"
)

// namesBatchMax is the most IDs /universe/names/ accepts per call.
const namesBatchMax = 1000

// rawIDRoutes are listing endpoints whose bodies are flat lists of
// character, corporation or alliance IDs.
var rawIDRoutes = []*regexp.Regexp{
	regexp.MustCompile(`.*/alliances/[0-9]+/corporations/$`),
	regexp.MustCompile(`.*/characters/[0-9]+/implants/$`),
	regexp.MustCompile(`.*/corporations/[0-9]+/members/$`),
}

// idWhitelist names the only keys whose integer values are resolved.
// Broadening it needs a matching policy for batch failures: keys like
// planet_id or first_party_id can denote entities the names endpoint
// rejects, poisoning every batch they land in.
var idWhitelist = map[string]bool{
	"type_id":                 true,
	"creator_id":              true,
	"creator_corporation_id":  true,
	"executor_corporation_id": true,
	"contact_id":              true,
	"alliance_id":             true,
	"corporation_id":          true,
	"issuer_corporation_id":   true,
	"issuer_id":               true,
	"ship_type_id":            true,
	"installer_id":            true,
	"blueprint_type_id":       true,
	"product_type_id":         true,
	"solar_system_id":         true,
	"region_id":               true,
	"skill_id":                true,
	"tax_receiver_id":         true,
	"client_id":               true,
	"ceo_id":                  true,
	"home_station_id":         true,
	"assignee_id":             true,
}

// CollectIDs walks the result map and gathers every numeric ID eligible
// for name resolution, de-duplicated and sorted.
func CollectIDs(results models.ResultMap) []int64 {
	ids := map[int64]struct{}{}

	for route, data := range results {
		if rawIDs, ok := rawIDList(route, data); ok {
			for _, id := range rawIDs {
				ids[id] = struct{}{}
			}
			continue
		}
		recurseForIDs(data, ids)
	}

	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// rawIDList reports whether a route holds a flat list of integer IDs and
// returns them.
func rawIDList(route string, data any) ([]int64, bool) {
	if !isRawIDRoute(route) {
		return nil, false
	}

	list, ok := data.([]any)
	if !ok {
		return nil, false
	}

	out := make([]int64, 0, len(list))
	for _, item := range list {
		id, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, id)
	}
	return out, true
}

func isRawIDRoute(route string) bool {
	for _, re := range rawIDRoutes {
		if re.MatchString(route) {
			return true
		}
	}
	return false
}

// recurseForIDs collects integers appearing under whitelisted keys,
// descending through nested objects and lists. Integers under any other
// key are never collected.
func recurseForIDs(node any, ids map[int64]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		for key, value := range v {
			if idWhitelist[key] {
				if id, ok := asInt(value); ok {
					ids[id] = struct{}{}
					continue
				}
			}
			recurseForIDs(value, ids)
		}
	case []any:
		for _, item := range v {
			recurseForIDs(item, ids)
		}
	}
}

// ResolveNames turns IDs into display names via /universe/names/. Batches
// that fail are shrunk and reshuffled until every resolvable ID is
// resolved; IDs still failing alone are given up on. Best effort: missing
// names are not an error.
func ResolveNames(ctx context.Context, client *evegateway.Client, ids []int64) map[int64]string {
	resolved := map[int64]string{}

	failed := resolveBatches(ctx, client, ids, namesBatchMax, resolved)

	for len(failed) > 0 {
		size := len(failed) / 2
		if size > 500 {
			size = 500
		}
		if size < 1 {
			size = 1
		}

		rand.Shuffle(len(failed), func(i, j int) {
			failed[i], failed[j] = failed[j], failed[i]
		})

		still := resolveBatches(ctx, client, failed, size, resolved)

		if size == 1 {
			if len(still) > 0 {
				slog.Warn("giving up resolving names", "ids", still)
			}
			break
		}
		failed = still
	}

	return resolved
}

// resolveBatches posts the IDs in batches of the given size, merging
// successes into resolved and returning the IDs of failed batches.
func resolveBatches(ctx context.Context, client *evegateway.Client, ids []int64,
	size int, resolved map[int64]string) []int64 {

	url := client.BaseURL() + "/latest/universe/names/"

	var failed []int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		resp := client.Fetch(ctx, evegateway.Request{
			URL:    url,
			Method: "POST",
			Body:   batch,
		})

		entries, ok := resp.Data.([]any)
		if !ok {
			failed = append(failed, batch...)
			continue
		}

		for _, e := range entries {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			id, ok := asInt(entry["id"])
			if !ok {
				continue
			}
			if name, ok := entry["name"].(string); ok {
				resolved[id] = name
			}
		}
	}
	return failed
}

// AnnotateResults returns a new result tree with resolved names attached:
// raw-ID list routes become lists of {id, name} objects, and object nodes
// gain a <key>_name sibling for every resolved whitelisted key. Unresolved
// IDs simply stay unannotated.
func AnnotateResults(results models.ResultMap, names map[int64]string) models.ResultMap {
	out := make(models.ResultMap, len(results))

	for route, data := range results {
		if rawIDs, ok := rawIDList(route, data); ok {
			list := data.([]any)
			annotated := make([]any, len(list))
			for i, raw := range list {
				entry := map[string]any{"id": raw}
				if name, ok := names[rawIDs[i]]; ok {
					entry["name"] = name
				}
				annotated[i] = entry
			}
			out[route] = annotated
			continue
		}
		out[route] = annotateNode(data, names)
	}

	return out
}

func annotateNode(node any, names map[int64]string) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = annotateNode(value, names)

			if !idWhitelist[key] {
				continue
			}
			if id, ok := asInt(value); ok {
				if name, ok := names[id]; ok {
					out[key+"_name"] = name
				}
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = annotateNode(item, names)
		}
		return out
	default:
		return node
	}
}
