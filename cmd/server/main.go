package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/choco0031/thisorthat/internal/config"
	"github.com/choco0031/thisorthat/internal/httpapi"
	"github.com/choco0031/thisorthat/internal/hub"
	"github.com/choco0031/thisorthat/internal/storage"
	"github.com/choco0031/thisorthat/internal/topics"
	"github.com/choco0031/thisorthat/internal/ws"
)

func main() {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	if err := config.NewCommand(cfg, serve).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	pool, terr := topics.LoadOrFallback(cfg.Topics)
	if terr != nil {
		log.Warn("topic file unreadable, using built-in topics", zap.String("path", cfg.Topics), zap.Error(terr))
	}
	log.Info("topics loaded", zap.Int("count", pool.Len()))

	opts := hub.Options{
		Topics:        pool,
		Rounds:        cfg.Rounds,
		Grace:         cfg.Grace,
		SweepInterval: cfg.SweepInterval,
		Logger:        log,
	}

	var recorder *storage.Recorder
	if cfg.DatabaseURL != "" {
		db, oerr := storage.Open(ctx, cfg.DatabaseURL)
		if oerr != nil {
			return fmt.Errorf("open archive: %w", oerr)
		}
		recorder = storage.NewRecorder(db, log)
		opts.Archive = recorder
		defer func() { err = multierr.Append(err, recorder.Close()) }()
		log.Info("game archive enabled")
	}

	h := hub.NewHub(ctx, opts)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:       h,
			Logger:    log,
			PublicURL: cfg.PublicURL,
			Version:   config.ReleaseVersion,
			WS:        ws.Options{OriginPatterns: cfg.AllowedOrigins},
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       10 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("version", config.ReleaseVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if recorder != nil {
		archiveCtx, stopArchive := context.WithCancel(context.Background())
		defer stopArchive()
		g.Go(func() error {
			return recorder.Run(archiveCtx)
		})
		g.Go(func() error {
			<-h.Done()
			stopArchive()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		serr := srv.Shutdown(shutdownCtx)
		h.Shutdown()
		return serr
	})

	return g.Wait()
}
