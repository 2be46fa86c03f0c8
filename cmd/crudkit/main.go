package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crudkit-io/crudkit/internal/api"
	"github.com/crudkit-io/crudkit/internal/config"
	"github.com/crudkit-io/crudkit/internal/logutil"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crudkit",
	Short: "HTTP CRUD service with a queryable condition language",
	Long: "crudkit exposes configured PostgreSQL tables over HTTP with " +
		"filtering, joins, sorting and pagination driven by query parameters.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("crudkit " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logutil.Configure(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	server := api.NewServer(cfg, pool)
	if err := server.RegisterResources(ctx, nil); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func connect(ctx context.Context, dc config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dc.ConnString())
	if err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if dc.MaxConnections > 0 {
		poolCfg.MaxConns = int32(dc.MaxConnections)
	}
	if dc.MinConnections > 0 {
		poolCfg.MinConns = int32(dc.MinConnections)
	}
	if dc.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = dc.MaxConnLifetime
	}
	if dc.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = dc.MaxConnIdleTime
	}
	if dc.HealthCheck > 0 {
		poolCfg.HealthCheckPeriod = dc.HealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	log.Info().Str("database", dc.Database).Msg("Connected to database")
	return pool, nil
}
