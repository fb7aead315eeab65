package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"esi-knife/internal/knife"
	"esi-knife/pkg/app"
	"esi-knife/pkg/evegateway"
	knifeMiddleware "esi-knife/pkg/middleware"
	"esi-knife/pkg/version"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "go.uber.org/automaxprocs"
)

// requestLogger logs requests but excludes health check endpoints
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/health") {
			next.ServeHTTP(w, r)
			return
		}
		middleware.Logger(next).ServeHTTP(w, r)
	})
}

func main() {
	log.Printf("ESI-knife %s (%d CPUs, GOMAXPROCS %d)",
		version.String(), runtime.NumCPU(), runtime.GOMAXPROCS(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appCtx, err := app.InitializeApp("esi-knife")
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(knifeMiddleware.Tracing)

	esiClient := evegateway.NewClient()
	knifeModule := knife.New(appCtx.Redis, esiClient)

	knifeModule.Routes(r)

	humaConfig := huma.DefaultConfig("ESI-knife", version.String())
	humaConfig.Info.Description = "Pulls everything an access token can reach out of ESI"
	api := humachi.New(r, humaConfig)
	knifeModule.RegisterUnifiedRoutes(api, "")

	go knifeModule.StartBackgroundTasks(ctx)

	srv := &http.Server{
		Addr:         ":" + app.GetPort("8888"),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Starting knife server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Received shutdown signal, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	knifeModule.Stop()
	cancel()

	appCtx.Shutdown(shutdownCtx)
	slog.Info("Shutdown completed")
}
