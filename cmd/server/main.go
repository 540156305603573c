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
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/config"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/httpapi"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/hub"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/imagery"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/room"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/store"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/ws"
)

const releaseVersion = "0.1.0"

const (
	resultQueueSize = 256
	shutdownTimeout = 10 * time.Second
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := config.Default()
	if err := newCmd(&cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "puzzle-duel:", err)
		os.Exit(1)
	}
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "puzzle-duel",
		Short:         "Realtime two-player sliding puzzle server.",
		Args:          cobra.NoArgs,
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ApplyEnv(cmd.Flags()); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(cfg.Verbose)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log)
		},
	}

	cfg.RegisterFlags(cmd.Flags())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("puzzle-duel v{{.Version}}\n")

	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var images imagery.Provider = imagery.Static(cfg.FallbackImageURL)
	if cfg.UnsplashKey != "" {
		images = imagery.NewUnsplash(cfg.UnsplashKey, cfg.ImageTimeout, cfg.FallbackImageURL, log)
	} else {
		log.Info("no unsplash key, using fallback image")
	}

	g, ctx := errgroup.WithContext(ctx)

	roomOpts := room.Options{
		BoardSize:    cfg.BoardSize,
		ImageTopic:   cfg.ImageTopic,
		Images:       images,
		ImageTimeout: cfg.ImageTimeout,
		StrictMoves:  cfg.StrictMoves,
		Logger:       log,
	}

	var lister store.Lister
	if cfg.DatabaseURL != "" {
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open results store: %w", err)
		}
		defer db.Close()

		results := store.NewAsync(db, resultQueueSize, log)
		g.Go(func() error { return results.Run(ctx) })

		roomOpts.Results = results
		lister = db
		log.Info("recording match results")
	}

	h := hub.NewHub(ctx, hub.Options{
		Room:    roomOpts,
		RoomTTL: cfg.RoomTTL,
		Logger:  log,
	})

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:       h,
			Results:   lister,
			PublicURL: cfg.PublicURL,
			WS:        ws.Options{OriginPatterns: cfg.AllowedOrigins},
			Logger:    log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.Int("board_size", cfg.BoardSize))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		// The hub and its rooms stop with ctx; this only drains HTTP.
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
