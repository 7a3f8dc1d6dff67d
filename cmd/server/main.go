package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiocast/internal/platform/config"
	"audiocast/internal/platform/logger"
	"audiocast/internal/platform/metrics"
	"audiocast/internal/storage"
	"audiocast/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	storeKind := config.GetEnv("STORE", "memory")
	sqlitePath := config.GetEnv("SQLITE_PATH", "audiocast.db")
	storageKind := config.GetEnv("STORAGE", "memory")
	storageDir := config.GetEnv("STORAGE_DIR", "data")
	baseURL := config.GetEnv("PUBLIC_BASE_URL", "http://localhost:"+port)

	log := logger.New(logLevel, logFormat)

	var store stream.Store
	switch storeKind {
	case "sqlite":
		s, err := stream.OpenSQLiteStore(sqlitePath)
		if err != nil {
			log.Error("open sqlite store", "error", err)
			os.Exit(1)
		}
		defer s.Close()
		store = s
	default:
		store = stream.NewInMemoryStore()
	}

	var objects storage.ObjectStore
	switch storageKind {
	case "fs":
		s, err := storage.NewFSStore(storageDir)
		if err != nil {
			log.Error("open fs storage", "error", err)
			os.Exit(1)
		}
		objects = s
	default:
		objects = storage.NewMemoryStore()
	}

	repo := stream.NewRepositoryWithStore(store)
	svc := stream.NewService(repo, objects, baseURL, log)
	met := metrics.New()
	h := stream.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			if n, err := svc.ActiveStreamCount(); err == nil {
				met.SetActiveStreams(n)
			}
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"store", storeKind,
		"storage", storageKind,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
