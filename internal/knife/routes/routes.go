package routes

import (
	"context"
	"time"

	"esi-knife/internal/knife/dto"
	"esi-knife/internal/knife/services"
	"esi-knife/pkg/evegateway"

	"github.com/danielgtaylor/huma/v2"
)

// RegisterKnifeRoutes registers the JSON endpoints on the shared API.
func RegisterKnifeRoutes(api huma.API, basePath string, repo *services.Repository, client *evegateway.Client) {
	huma.Register(api, huma.Operation{
		OperationID: "knife-metrics",
		Method:      "GET",
		Path:        basePath + "/metrics",
		Summary:     "Run pipeline metrics",
		Description: "Counts of runs in each state plus the ESI error-limit flag",
		Tags:        []string{"Knife"},
	}, func(ctx context.Context, _ *struct{}) (*dto.MetricsOutput, error) {
		stats := repo.CountStats(ctx)
		return &dto.MetricsOutput{Body: dto.MetricsResponse{
			New:          stats.New,
			Pending:      stats.Pending,
			Processing:   stats.Processing,
			Complete:     stats.Complete,
			Alltime:      stats.Alltime,
			ErrorLimited: client.ErrorLimited(),
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "knife-status",
		Method:      "GET",
		Path:        basePath + "/status",
		Summary:     "Module health",
		Tags:        []string{"Knife"},
	}, func(ctx context.Context, _ *struct{}) (*dto.StatusOutput, error) {
		status := dto.StatusResponse{Module: "knife", Status: "healthy"}
		if err := repo.HealthCheck(ctx); err != nil {
			status.Status = "degraded"
			status.Message = err.Error()
		}
		return &dto.StatusOutput{Body: status}, nil
	})
}
