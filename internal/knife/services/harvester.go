package services

import (
	"context"

	"esi-knife/internal/knife/models"
	"esi-knife/pkg/evegateway"
)

// Harvest fetches every planned URL through the bounded pool, expanding
// pagination as it is discovered, and merges the outcome into the seeded
// result map. Error markers are stored in place so the final document
// shows which endpoints failed.
func Harvest(ctx context.Context, client *evegateway.Client, token string,
	urls []string, results models.ResultMap) models.ResultMap {

	if results == nil {
		results = models.ResultMap{}
	}

	jobs := make([]fetchJob, 0, len(urls))
	for _, url := range urls {
		jobs = append(jobs, fetchJob{req: evegateway.Request{URL: url, Token: token}})
	}

	pageExpansions := map[string]map[int]any{}

	runFetches(ctx, client, jobs, func(job fetchJob, resp evegateway.Response) []fetchJob {
		switch {
		case len(resp.Pages) > 0:
			pageExpansions[resp.URL] = map[int]any{1: resp.Data}

			follow := make([]fetchJob, 0, len(resp.Pages))
			for _, page := range resp.Pages {
				follow = append(follow, fetchJob{
					req: evegateway.Request{URL: resp.URL, Token: token, Page: page},
				})
			}
			return follow

		case resp.Page > 0:
			if accum, ok := pageExpansions[resp.URL]; ok {
				accum[resp.Page] = resp.Data
			}

		default:
			results[resp.URL] = resp.Data
		}
		return nil
	})

	for url, pageData := range pageExpansions {
		if merged := mergePages(pageData); len(merged) > 0 {
			results[url] = merged
		}
	}

	return results
}
