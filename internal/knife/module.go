package knife

import (
	"context"
	"log/slog"

	"esi-knife/internal/knife/routes"
	"esi-knife/internal/knife/services"
	"esi-knife/pkg/database"
	"esi-knife/pkg/evegateway"
	"esi-knife/pkg/module"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
)

// pollSchedule wakes the supervisor every 10 seconds.
const pollSchedule = "*/10 * * * * *"

// Module wires the knife pipeline into the server: web shell, JSON
// endpoints and the background run supervisor.
type Module struct {
	*module.BaseModule
	repo       *services.Repository
	client     *evegateway.Client
	specs      *evegateway.SpecCache
	supervisor *services.Supervisor
	web        *routes.Web
	cron       *cron.Cron
}

func New(redis *database.Redis, client *evegateway.Client) *Module {
	repo := services.NewRepository(redis)
	specs := evegateway.NewSpecCache(client, redis)

	return &Module{
		BaseModule: module.NewBaseModule("knife", redis),
		repo:       repo,
		client:     client,
		specs:      specs,
		supervisor: services.NewSupervisor(repo, client, specs),
		web:        routes.NewWeb(repo),
	}
}

// Routes implements module.Module, mounting the HTML shell.
func (m *Module) Routes(r chi.Router) {
	m.web.Register(r)
	m.RegisterHealthRoute(r)
}

// RegisterUnifiedRoutes registers the JSON endpoints on the shared API.
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	routes.RegisterKnifeRoutes(api, basePath, m.repo, m.client)
}

// StartBackgroundTasks clears stale markers and starts the supervisor
// poll loop.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	slog.Info("Starting knife background tasks", "module", m.Name())

	if err := m.supervisor.Startup(ctx); err != nil {
		slog.Error("Failed to clear stale run markers", "error", err)
	}

	m.cron = cron.New(cron.WithSeconds())
	if _, err := m.cron.AddFunc(pollSchedule, func() {
		m.supervisor.ProcessNew(ctx)
	}); err != nil {
		slog.Error("Failed to schedule run supervisor", "error", err)
		return
	}
	m.cron.Start()

	select {
	case <-ctx.Done():
	case <-m.StopChannel():
	}

	<-m.cron.Stop().Done()
	m.supervisor.Wait()
	slog.Info("Knife background tasks stopped")
}
