package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/careprograms/internal/config"
	"github.com/ehr/careprograms/internal/domain/careprogram"
	"github.com/ehr/careprograms/internal/platform/auth"
	"github.com/ehr/careprograms/internal/platform/db"
	"github.com/ehr/careprograms/internal/platform/middleware"
	"github.com/ehr/careprograms/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "careprograms",
		Short: "RPM and CCM monthly eligibility and billing service",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(replayCmd())
	return root
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(cfg.Level()).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg, os.Stdout))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withMigrator := func(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
		dir, _ := cmd.Flags().GetString("dir")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		var files fs.FS = migrations.FS
		if dir != "" {
			files = os.DirFS(dir)
		}
		return fn(ctx, db.NewMigrator(pool, files))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-8s %-36s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					state, at := "pending", ""
					if s.Applied {
						state, at = "applied", s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%-8d %-36s %-8s %s\n", s.Version, s.Name, state, at)
				}
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
		cmd.AddCommand(c)
	}
	return cmd
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded commands in memory and print the month's billing summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			month, _ := cmd.Flags().GetString("month")
			patientID, _ := cmd.Flags().GetString("patient")
			verbose, _ := cmd.Flags().GetBool("verbose")

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open commands: %w", err)
			}
			defer f.Close()

			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()

			summary, err := replay(cmd.Context(), logger, f, patientID, month)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().String("file", "", "JSON array of recorded commands")
	cmd.Flags().String("patient", "", "Patient to bill")
	cmd.Flags().String("month", "", "Billing month (YYYY-MM)")
	cmd.Flags().Bool("verbose", false, "Log every applied command")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("patient")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func replay(ctx context.Context, logger zerolog.Logger, r io.Reader, patientID, month string) (*careprogram.BillingSummary, error) {
	cmds, err := careprogram.DecodeCommands(r)
	if err != nil {
		return nil, err
	}
	svc := careprogram.NewService(careprogram.NewMemoryStore(), logger)
	if err := svc.ApplyAll(ctx, cmds); err != nil {
		return nil, err
	}
	return svc.GenerateBilling(ctx, patientID, month)
}

// openStore returns the configured store and, for postgres, a pinger for
// the health endpoint and a close func.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (careprogram.Store, db.Pinger, func(), error) {
	if cfg.StoreBackend != config.StorePostgres {
		logger.Info().Msg("using in-memory store")
		return careprogram.NewMemoryStore(), nil, func() {}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info().Msg("connected to database")
	return careprogram.NewPGStore(pool), pool, pool.Close, nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, svc *careprogram.Service, pinger db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if pinger != nil {
		e.GET("/health/db", db.HealthHandler(pinger))
	}

	authMW := auth.DevAuthMiddleware()
	if !cfg.IsDev() {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.Logger(logger), middleware.RateLimit(rateLimitCfg), middleware.Audit(logger))
	careprogram.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()
	store, pinger, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer closeStore()

	svc := careprogram.NewService(store, logger)
	e := newEcho(cfg, logger, svc, pinger)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
