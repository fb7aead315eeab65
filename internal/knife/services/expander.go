package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/evegateway"
)

// transforms project a listing body into the ID list used for fan-out.
// Routes without a transform must already return a flat list.
var transforms = map[string]func(any) ([]any, error){
	"/characters/{character_id}/mail/labels/": func(v any) ([]any, error) {
		body, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		return pluck(body["labels"], "label_id")
	},
	"/characters/{character_id}/planets/": func(v any) ([]any, error) {
		return pluck(v, "planet_id")
	},
	"/characters/{character_id}/calendar/": func(v any) ([]any, error) {
		return pluck(v, "event_id")
	},
	"/characters/{character_id}/contracts/": func(v any) ([]any, error) {
		return pluck(v, "contract_id")
	},
	"/characters/{character_id}/mail/": func(v any) ([]any, error) {
		return pluck(v, "mail_id")
	},
	"/corporations/{corporation_id}/calendar/": func(v any) ([]any, error) {
		return pluck(v, "event_id")
	},
	"/corporations/{corporation_id}/contracts/": func(v any) ([]any, error) {
		return pluck(v, "contract_id")
	},
}

// pluck extracts one field from every element of a listing.
func pluck(v any, key string) ([]any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}

	out := make([]any, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object element, got %T", item)
		}
		field, ok := entry[key]
		if !ok {
			return nil, fmt.Errorf("element missing %q", key)
		}
		out = append(out, field)
	}
	return out, nil
}

// expandMeta identifies the listing a fetch belongs to.
type expandMeta struct {
	route  string // templated listing route
	parent string
	child  string
}

// pageKey identifies one paginated listing accumulation.
type pageKey struct {
	route  string
	parent string
	child  string
	url    string
}

// ExpandParams populates the fan-out ID pools by fetching the listing
// endpoints the token has access to. It returns the pools plus a partial
// result map seeded with the raw listing bodies, so the final document
// shows the full data rather than just the extracted IDs.
func ExpandParams(ctx context.Context, client *evegateway.Client, token string,
	scopes, roles models.StringSet, spec map[string]any,
	knownParams map[string]any, table models.PoolTable) (models.Pools, models.ResultMap) {

	pools := models.Pools{}
	results := models.ResultMap{}

	var jobs []fetchJob
	for parent, children := range table {
		pools[parent] = map[string][]any{}

		for child, route := range children {
			oper, ok := getOperation(spec, route)
			if !ok || !allowed(oper, scopes, roles) {
				// purged: the token cannot call this listing
				continue
			}

			jobs = append(jobs, fetchJob{
				req: evegateway.Request{
					URL:   client.BaseURL() + "/latest" + substitute(route, knownParams),
					Token: token,
				},
				meta: expandMeta{route: route, parent: parent, child: child},
			})
		}
	}

	pages := map[pageKey]map[int]any{}

	runFetches(ctx, client, jobs, func(job fetchJob, resp evegateway.Response) []fetchJob {
		meta := job.meta.(expandMeta)
		key := pageKey{route: meta.route, parent: meta.parent, child: meta.child, url: resp.URL}

		switch {
		case len(resp.Pages) > 0:
			pages[key] = map[int]any{1: resp.Data}

			follow := make([]fetchJob, 0, len(resp.Pages))
			for _, page := range resp.Pages {
				follow = append(follow, fetchJob{
					req:  evegateway.Request{URL: resp.URL, Token: token, Page: page},
					meta: meta,
				})
			}
			return follow

		case resp.Page > 0:
			if _, ok := resp.Data.([]any); ok {
				if accum, ok := pages[key]; ok {
					accum[resp.Page] = resp.Data
				}
			} else {
				slog.Warn("expansion page error", "url", resp.URL, "page", resp.Page, "data", resp.Data)
			}

		default:
			applyListing(pools, results, meta, resp.URL, resp.Data)
		}
		return nil
	})

	for key, pageData := range pages {
		merged := mergePages(pageData)
		if len(merged) == 0 {
			continue
		}
		applyListing(pools, results, expandMeta{route: key.route, parent: key.parent, child: key.child}, key.url, merged)
	}

	return pools, results
}

// applyListing turns one complete listing body into a pool entry, applying
// the route's transform when one exists. Transform failures drop the IDs
// but never abort the harvest.
func applyListing(pools models.Pools, results models.ResultMap, meta expandMeta, url string, data any) {
	if transform, ok := transforms[meta.route]; ok {
		results[url] = data
		ids, err := transform(data)
		if err != nil {
			slog.Warn("failed to transform listing", "url", url, "error", err)
			return
		}
		pools[meta.parent][meta.child] = ids
		return
	}

	if list, ok := data.([]any); ok {
		pools[meta.parent][meta.child] = list
		return
	}

	slog.Warn("expansion error", "url", url, "data", data)
}

// mergePages concatenates list pages in ascending page order. Non-list
// pages (error markers) are dropped.
func mergePages(pageData map[int]any) []any {
	numbers := make([]int, 0, len(pageData))
	for page := range pageData {
		numbers = append(numbers, page)
	}
	sort.Ints(numbers)

	var merged []any
	for _, page := range numbers {
		if list, ok := pageData[page].([]any); ok {
			merged = append(merged, list...)
		}
	}
	return merged
}
