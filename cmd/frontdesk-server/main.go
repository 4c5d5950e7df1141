package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/frontdesk/internal/config"
	"github.com/clinicdesk/frontdesk/internal/domain/admission"
	"github.com/clinicdesk/frontdesk/internal/domain/billing"
	"github.com/clinicdesk/frontdesk/internal/domain/patient"
	"github.com/clinicdesk/frontdesk/internal/platform/audit"
	"github.com/clinicdesk/frontdesk/internal/platform/auth"
	"github.com/clinicdesk/frontdesk/internal/platform/db"
	"github.com/clinicdesk/frontdesk/internal/platform/middleware"
	"github.com/clinicdesk/frontdesk/internal/platform/search"
	"github.com/clinicdesk/frontdesk/internal/platform/telemetry"
	"github.com/clinicdesk/frontdesk/migrations"
)

const version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "frontdesk-server",
		Short: "Clinic front-desk API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(searchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the front-desk API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns the embedded migrations unless dir points at a
// directory on disk.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

// openPool loads config and connects, for the one-shot commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}

			migrator := db.NewMigrator(pool, migrationSource(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", db.SchemaName(clinic))

			if err := db.CreateClinicSchema(ctx, migrator, clinic); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}
	upCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinic, _ := cmd.Flags().GetString("clinic")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}
			if !db.ValidClinicID(clinic) {
				return fmt.Errorf("invalid clinic identifier: %s", clinic)
			}

			migrator := db.NewMigrator(pool, migrationSource(dir))
			statuses, err := migrator.Status(ctx, db.SchemaName(clinic))
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), db.SchemaName(clinic), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and migrate a clinic schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating clinic schema: %s\n", db.SchemaName(name))
			if err := db.CreateClinicSchema(ctx, db.NewMigrator(pool, migrations.FS), name); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Clinic created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic identifier (letters, digits, underscores)")

	cmd.AddCommand(createCmd)
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the billing catalog",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert catalog items from a YAML price list",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			clinic, _ := cmd.Flags().GetString("clinic")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			items, err := billing.LoadCatalogYAML(f)
			if err != nil {
				return err
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if clinic == "" {
				clinic = cfg.DefaultClinic
			}

			ctx, release, err := db.ScopeConn(ctx, pool, clinic)
			if err != nil {
				return err
			}
			defer release()

			logger := newLogger(cfg)
			svc := billing.NewService(billing.NewCatalogRepoPG(pool), billing.NewBilledItemRepoPG(pool),
				billing.NewMemorySelectionStore(cfg.SelectionTTL), db.NewTxRunner(pool), logger)
			n, err := svc.ImportCatalog(ctx, items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d catalog item(s) into %s.\n", n, db.SchemaName(clinic))
			return nil
		},
	}
	importCmd.Flags().String("file", "", "Path to the catalog YAML file")
	importCmd.Flags().String("clinic", "", "Clinic identifier (defaults to DEFAULT_CLINIC)")

	cmd.AddCommand(importCmd)
	return cmd
}

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank a YAML roster against a query without a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			limit, _ := cmd.Flags().GetInt("limit")
			if file == "" {
				return fmt.Errorf("--file is required")
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			roster, err := loadRoster(f)
			if err != nil {
				return err
			}

			results := search.RankResults(search.ParseQuery(args[0]), roster)
			if limit > 0 && len(results) > limit {
				results = results[:limit]
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the roster YAML file")
	cmd.Flags().Int("limit", 10, "Maximum results to print (0 for all)")
	return cmd
}

type rosterFile struct {
	Patients []search.Candidate `yaml:"patients"`
}

func loadRoster(r io.Reader) ([]search.Candidate, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	for i, c := range f.Patients {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("roster entry %d: id is required", i+1)
		}
	}
	return f.Patients, nil
}

func printResults(w io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	fmt.Fprintf(w, "%-6s %-6s %-8s %-6s %-14s %s\n", "SCORE", "IDENT", "CONTACT", "NAME", "PATIENT", "FULL NAME")
	for _, r := range results {
		c := r.Candidate
		name := strings.Join(strings.Fields(strings.Join([]string{c.FirstName, c.MiddleName, c.LastName}, " ")), " ")
		fmt.Fprintf(w, "%-6d %-6d %-8d %-6d %-14s %s\n",
			r.Score, r.Breakdown.Identifier, r.Breakdown.Contact, r.Breakdown.Name, c.ID, name)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Logger()
}

// newRedis connects when REDIS_URL is set. A nil client means the server runs
// with in-process rate limiting and selection state.
func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func selectionStore(client *redis.Client, ttl time.Duration) billing.SelectionStore {
	if client == nil {
		return billing.NewMemorySelectionStore(ttl)
	}
	return billing.NewRedisSelectionStore(client, ttl)
}

func rateLimiter(client *redis.Client, cfg middleware.RateLimitConfig) middleware.Limiter {
	if client == nil {
		return middleware.NewMemoryLimiter(cfg)
	}
	return middleware.NewRedisLimiter(client, cfg)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	rdb, err := newRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	e := newServer(cfg, logger, pool, rdb)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires middleware and routes. rdb may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := telemetry.NewMetrics("frontdesk-server", version)
	if pool != nil {
		metrics.Gauge("db_pool_acquired_connections", "Connections in use.", func() float64 {
			return float64(pool.Stat().AcquiredConns())
		})
		metrics.Gauge("db_pool_idle_connections", "Idle pool connections.", func() float64 {
			return float64(pool.Stat().IdleConns())
		})
	}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(middleware.BodyLimit("1M", "8M", "/api/v1/admissions/census", "/api/v1/billing/catalog/import"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.ClinicHeader},
	}))

	// Auth middleware
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" {
		e.Use(auth.DevAuthMiddleware(cfg.DefaultClinic))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	// API group: rate limited per clinic, then scoped to the clinic schema
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1",
		middleware.RateLimitWith(rateLimiter(rdb, rateLimitCfg), rateLimitCfg, logger),
		db.ClinicMiddleware(pool, cfg.DefaultClinic),
	)
	auditStore := audit.NewPGStore(pool)
	if cfg.AuditEnabled {
		apiV1.Use(audit.Middleware(auditStore, logger, "/api/v1"))
	}
	audit.NewHandler(auditStore).RegisterRoutes(apiV1)

	// Patient registry
	patientSvc := patient.NewService(patient.NewPatientRepoPG(pool), logger,
		search.WithPoolLimit(cfg.SearchPoolLimit), search.WithLimit(cfg.SearchResultLimit))
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Billing
	billingSvc := billing.NewService(billing.NewCatalogRepoPG(pool), billing.NewBilledItemRepoPG(pool),
		selectionStore(rdb, cfg.SelectionTTL), db.NewTxRunner(pool), logger)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)

	// Admissions
	admissionSvc := admission.NewService(admission.NewAdmissionRepoPG(pool), logger, cfg.SearchResultLimit)
	admission.NewHandler(admissionSvc).RegisterRoutes(apiV1)

	return e
}
