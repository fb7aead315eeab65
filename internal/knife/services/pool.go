package services

import (
	"context"

	"esi-knife/pkg/evegateway"

	"golang.org/x/sync/semaphore"
)

// poolWidth is the hard cap on concurrent in-flight ESI requests per
// harvest stage.
const poolWidth = 20

type fetchJob struct {
	req  evegateway.Request
	meta any
}

type fetchDone struct {
	job  fetchJob
	resp evegateway.Response
}

// runFetches drains jobs through a bounded fetch pool. The handler runs on
// the coordinating goroutine, so it needs no locking, and may return
// follow-up jobs (page expansions) that join the same pool.
func runFetches(ctx context.Context, client *evegateway.Client, jobs []fetchJob,
	handle func(job fetchJob, resp evegateway.Response) []fetchJob) {

	sem := semaphore.NewWeighted(poolWidth)
	results := make(chan fetchDone)

	pending := 0
	launch := func(job fetchJob) {
		pending++
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- fetchDone{job, evegateway.Response{
					Page: job.req.Page,
					URL:  job.req.URL,
					Data: evegateway.ErrorMarker(0, err.Error()),
				}}
				return
			}
			resp := client.Fetch(ctx, job.req)
			sem.Release(1)
			results <- fetchDone{job, resp}
		}()
	}

	for _, job := range jobs {
		launch(job)
	}

	for pending > 0 {
		done := <-results
		pending--
		for _, follow := range handle(done.job, done.resp) {
			launch(follow)
		}
	}
}
