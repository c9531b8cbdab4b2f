package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/outreach/internal/api/handlers"
	"github.com/cloo-solutions/outreach/internal/config"
	"github.com/cloo-solutions/outreach/internal/database"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/logger"
	"github.com/cloo-solutions/outreach/internal/server"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the outreach API server on the specified port. Lane workers run in the same process unless --no-workers is set.",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-workers", false, "Serve the API only and leave job processing to 'outreachd worker'")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	rt, err := setup(ctx, !noMigrate)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	if portFlag, _ := cmd.Flags().GetString("port"); portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	if noWorkers, _ := cmd.Flags().GetBool("no-workers"); !noWorkers {
		if err := rt.startWorkers(ctx, domain.Lanes); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
	}

	if cfg.WorkerToken == "" {
		slog.Warn("WORKER_TOKEN is not set, job callback routes reject every request")
	}
	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is not set, provisioning routes reject every request")
	}

	router := server.NewRouter(server.RouterConfig{
		Logger:            slog.Default(),
		PrincipalResolver: rt.auth,
		WorkerToken:       cfg.WorkerToken,
		AdminToken:        cfg.AdminToken,
		HealthHandler:     handlers.NewHealthHandler(rt.pool),
		AuthHandler:       handlers.NewAuthHandler(rt.auth),
		FileHandler:       handlers.NewFileHandler(rt.ingestion),
		DocumentHandler:   handlers.NewDocumentHandler(rt.ingestion),
		CampaignHandler:   handlers.NewCampaignHandler(rt.campaigns),
		JobHandler:        handlers.NewJobHandler(rt.settler, cfg.JobLease),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited")
	return nil
}

// WorkerCmd returns the worker command
func WorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run lane workers without the API",
		Long:  "Claim and process due jobs of the selected lanes until interrupted",
		RunE:  runWorker,
	}

	cmd.Flags().String("lanes", "", "Comma separated lanes to process (embedding,crawl,scrape); all when empty")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	lanesFlag, _ := cmd.Flags().GetString("lanes")
	lanes, err := parseLanes(lanesFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.startWorkers(ctx, lanes); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	if len(rt.workers) == 0 {
		return fmt.Errorf("no lane of %v can run in this process", lanes)
	}

	<-ctx.Done()
	slog.Info("worker shutting down", "workers", len(rt.workers))
	return nil
}

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

			version, err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Schema at version %d\n", version)
			return nil
		},
	}
}
