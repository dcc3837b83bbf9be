package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/skyload/skyload-api/internal/config"
	"github.com/skyload/skyload-api/internal/handlers"
	"github.com/skyload/skyload-api/internal/llm"
	"github.com/skyload/skyload-api/internal/migration"
	"github.com/skyload/skyload-api/internal/objectstore"
	"github.com/skyload/skyload-api/internal/profiler"
	"github.com/skyload/skyload-api/internal/repository"
	"github.com/skyload/skyload-api/internal/routes"
	"github.com/skyload/skyload-api/internal/sandbox"
	"github.com/skyload/skyload-api/internal/synth"
	"github.com/skyload/skyload-api/internal/warehouse"
	"github.com/skyload/skyload-api/internal/workflow"
)

type application struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *sql.DB
	wh     warehouse.Client
	server *http.Server
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := migration.Run(db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	app := &application{cfg: cfg, logger: logger, db: db}
	app.serve()
}

func (app *application) serve() {
	cfg, logger := app.cfg, app.logger

	var store objectstore.Store
	if cfg.Storage.Bucket != "" {
		s, err := objectstore.New(context.Background(), cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize object storage")
		}
		store = s
	} else {
		logger.Warn().Msg("Object storage not configured; uploads are stored locally")
	}

	if cfg.Warehouse.Configured() {
		wh, err := warehouse.Open(cfg.Warehouse, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Warehouse connection failed; validation will rely on execution logs")
		} else {
			app.wh = wh
		}
	} else {
		logger.Warn().Msg("Warehouse not configured; validation will rely on execution logs")
	}

	var gen llm.Generator
	if cfg.LLM.Endpoint != "" {
		gen = llm.NewClient(cfg.LLM, logger)
	} else {
		logger.Warn().Msg("LLM endpoint not configured; scripts come from the template")
	}

	repo := repository.NewWorkflowRepository(app.db)
	orch := workflow.New(cfg, store, app.wh,
		profiler.New(gen, logger),
		synth.New(gen, cfg.LLM, logger),
		sandbox.New(logger),
		repo, logger)

	router := routes.NewRouter(
		handlers.NewHealthHandler(app.db),
		handlers.NewUploadHandler(cfg, store, logger),
		handlers.NewWorkflowHandler(orch, repo, logger),
		handlers.NewChatHandler(gen, logger),
		logger,
	)

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	app.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      cors(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Msg("Server started")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	app.waitForShutdown()
}

func (app *application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.logger.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("Forced shutdown")
	}
	if app.wh != nil {
		_ = app.wh.Close()
	}
	_ = app.db.Close()

	app.logger.Info().Msg("Server stopped")
}
