package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	glog "github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"inkwell/pkg/pipeline"
	"inkwell/pkg/providers"
	"inkwell/pkg/queue"
	"inkwell/pkg/search"
	"inkwell/pkg/server"
	"inkwell/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

// app is everything a command needs to run analyses.
type app struct {
	db       *store.DB
	registry *providers.Registry
	pipeline *pipeline.Pipeline
}

func newApp(ctx context.Context) (*app, error) {
	inf, err := cfg.Inferencer(ctx)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.Store.Path, logger.WithPrefix("store"))
	if err != nil {
		return nil, err
	}

	registry := providers.Default(cfg.ProviderKeys(), providers.WithLogger(logger.WithPrefix("providers")))
	dispatcher := search.NewDispatcher(registry, logger.WithPrefix("search"), cfg.SearchOptions())
	p := pipeline.New(pipeline.Config{
		Inferencer:  inf,
		Store:       db,
		Dispatcher:  dispatcher,
		Logger:      logger.WithPrefix("pipeline"),
		ChunkSize:   cfg.Analysis.ChunkSize,
		BatchSize:   cfg.Analysis.BatchSize,
		CountTokens: cfg.Analysis.CountTokens,
	})
	logger.Info("llm configured", "provider", cfg.ResolvedProvider(), "timeout", cfg.LLMTimeout())
	return &app{db: db, registry: registry, pipeline: p}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, done := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.db.Close()

	srv := server.NewServer(ctx, server.Deps{
		Store:      a.db,
		Pipeline:   a.pipeline,
		Registry:   a.registry,
		T2I:        cfg.T2IProviders(logger.WithPrefix("t2i")),
		Queue:      queue.New(cfg.T2I.QueueSize, logger.WithPrefix("queue")),
		UploadDir:  cfg.Store.UploadDir,
		ChunkSize:  cfg.Analysis.ChunkSize,
		SceneCount: cfg.Analysis.SceneCount,
		Logger:     logger.WithPrefix("server"),
	})
	if logger.GetLevel() <= log.DebugLevel {
		srv.Echo.Logger.SetLevel(glog.DEBUG)
	} else {
		srv.Echo.Logger.SetLevel(glog.INFO)
	}
	logger.Info("reference providers", "available", a.registry.Available())

	finishedShutDown := make(chan struct{})
	go func() {
		defer close(finishedShutDown)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		done()
		<-finishedShutDown
		return err
	}
	<-finishedShutDown
	return nil
}
