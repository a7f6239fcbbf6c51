package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"forecastica/cmd"
	"forecastica/internal/api"
	"forecastica/internal/client"
	"forecastica/internal/config"
	"forecastica/internal/core"
	"forecastica/internal/database"
	"forecastica/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func createServer(cfg *config.Config, service *api.ConsoleService) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{api.SessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Leave room for a full train and predict round trip when ?wait=true.
	r.Use(middleware.Timeout(2*cfg.RequestTimeout + 10*time.Second))

	service.AddRoutes(r)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ConsolePort),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logFile, err := cmd.SetupLogging(cfg.Root, "console.log")
	if err != nil {
		log.Fatalf("error setting up logging: %v", err)
	}
	defer logFile.Close()

	gallerySource, err := core.ParseManifestSource(cfg.GallerySource)
	if err != nil {
		log.Fatalf("invalid GALLERY_SOURCE: %v", err)
	}

	catalog, err := core.LoadCatalog(cfg.ModelCatalog)
	if err != nil {
		log.Fatalf("error loading model catalog: %v", err)
	}

	slog.Info("starting console", "root", cfg.Root, "port", cfg.ConsolePort, "server_url", cfg.ServerURL, "request_timeout", cfg.RequestTimeout, "auto_advance", cfg.AutoAdvanceOnTrainSuccess)

	db, err := database.NewDatabase(filepath.Join(cfg.Root, "db", "forecastica.db"))
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}

	sessions := session.NewSessionCache(cfg.SessionCacheSize, database.NewSessionStore(db))

	service := api.NewConsoleService(
		client.NewClient(cfg.ServerURL, cfg.RequestTimeout),
		sessions,
		database.NewRunStore(db),
		api.DefaultRoutes(),
		api.PageOptions{
			PreviewRowCap:             cfg.PreviewRowCap,
			AutoAdvanceOnTrainSuccess: cfg.AutoAdvanceOnTrainSuccess,
			GallerySource:             gallerySource,
			GalleryWorkers:            cfg.GalleryWorkers,
			Catalog:                   catalog,
		},
	)

	server := createServer(cfg, service)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server started", "port", cfg.ConsolePort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.ConsolePort, err)
	}

	slog.Info("server stopped")
}
