package services

import (
	"esi-knife/internal/knife/models"
)

// ignoredRoutes are GET routes never fetched: search endpoints that need
// query parameters we cannot supply, and contract sub-resources that 404
// on finished contracts.
var ignoredRoutes = map[string]struct{}{
	"/loyalty/stores/{corporation_id}/offers/":                    {},
	"/characters/{character_id}/search/":                          {},
	"/corporations/{corporation_id}/contracts/{contract_id}/bids/":  {},
	"/corporations/{corporation_id}/contracts/{contract_id}/items/": {},
	"/characters/{character_id}/opportunities/":                   {},
}

// BuildURLs returns every fully substituted URL the token may legally call.
// The planner is purely syntactic over the swagger document: policy lives
// in the ignore list and the role/scope subset checks.
func BuildURLs(baseURL string, scopes, roles models.StringSet, spec map[string]any,
	knownParams map[string]any, pools models.Pools) []string {

	paths, ok := spec["paths"].(map[string]any)
	if !ok {
		return nil
	}
	basePath, _ := spec["basePath"].(string)

	var urls []string

	for route := range paths {
		if _, skip := ignoredRoutes[route]; skip {
			continue
		}

		oper, ok := getOperation(spec, route)
		if !ok {
			continue
		}

		if !allowed(oper, scopes, roles) {
			continue
		}

		params := map[string]any{}
		var unknown []string
		for _, name := range pathParams(oper) {
			if value, ok := knownParams[name]; ok {
				params[name] = value
			} else {
				unknown = append(unknown, name)
			}
		}

		fanOut := map[string][]any{}
		for _, name := range unknown {
			for knownName := range params {
				if ids, ok := pools[knownName][name]; ok {
					fanOut[name] = ids
				}
			}
		}
		if len(fanOut) != len(unknown) {
			// some route we don't have the IDs to fan out on
			continue
		}

		paramSets := buildParamSets(params, fanOut)
		if len(paramSets) == 0 {
			// no parameters, this route has no relevance then
			continue
		}

		for _, set := range paramSets {
			urls = append(urls, baseURL+basePath+substitute(route, set))
		}
	}

	return urls
}

// buildParamSets folds the fan-out pools into the Cartesian product of
// parameter sets, starting from the known values.
func buildParamSets(params map[string]any, fanOut map[string][]any) []map[string]any {
	if len(fanOut) == 0 {
		if len(params) == 0 {
			return nil
		}
		return []map[string]any{params}
	}

	product := []map[string]any{params}
	for name, ids := range fanOut {
		next := make([]map[string]any, 0, len(product)*len(ids))
		for _, partial := range product {
			for _, id := range ids {
				extended := make(map[string]any, len(partial)+1)
				for k, v := range partial {
					extended[k] = v
				}
				extended[name] = id
				next = append(next, extended)
			}
		}
		product = next
	}
	return product
}
