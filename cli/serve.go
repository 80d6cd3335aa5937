package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/api"
	"github.com/warp/allotment-engine/config"
	"github.com/warp/allotment-engine/logging"
	"github.com/warp/allotment-engine/staging"
	"github.com/warp/allotment-engine/store/memory"
	"github.com/warp/allotment-engine/store/sqlite"
	"github.com/warp/allotment-engine/store/webhook"
)

// NewServeCommand starts the HTTP server.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the allotment HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
}

func runServe(opts *RootOptions) error {
	log := logging.Setup()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Persistence: SQLite by default, webhook upstream when configured.
	// Webhook mode keeps staging in process memory since the upstream
	// has no KV surface.
	var (
		store allot.Store
		kv    staging.KV
	)
	if cfg.Upstream != "" {
		client, err := webhook.New(cfg.Upstream, &http.Client{Timeout: 15 * time.Second})
		if err != nil {
			return err
		}
		store = client
		kv = memory.New()
		log.Info("using webhook persistence", "upstream", cfg.Upstream)
	} else {
		db, err := sqlite.New(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close()
		store = db
		kv = db
		log.Info("using sqlite persistence", "db", cfg.DB)
	}

	staged := staging.New(cfg.StagingNamespace, kv)
	if err := staged.Load(context.Background()); err != nil {
		log.Warn("could not rehydrate staged changes", "error", err)
	}

	svc, err := allot.NewService(store, staged, allot.Options{
		Zone:   loc,
		Strict: cfg.Strict,
		Logger: log,
	})
	if err != nil {
		return err
	}

	handler := api.NewHandler(svc, log)
	if cfg.Seed {
		handler.SeedStore = store
	}
	router := api.NewRouter(handler, cfg.Origins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr, "zone", loc.String(), "strict", cfg.Strict)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
