package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/leadscout/internal/places"
	"github.com/MarkoPoloResearchLab/leadscout/internal/search"
	"github.com/MarkoPoloResearchLab/leadscout/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/leadscout/internal/store/historystore"
	"github.com/MarkoPoloResearchLab/leadscout/internal/webapi"
	"github.com/MarkoPoloResearchLab/leadscout/pkg/tokens"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagGoogleAPIKey   = "google-api-key"
	flagPlacesBaseURL  = "places-base-url"
	flagLookupTimeout  = "lookup-timeout"
	envPrefix          = "LEADSCOUT"

	defaultDatabaseURL = "sqlite:///tmp/leadscout.db"
)

type runtimeConfig struct {
	DatabaseURL string
	Web         webapi.Config
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "leadscout: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "leadscout",
		Short:         "Token-metered business lead search server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres:// or sqlite path)")
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagGoogleAPIKey, "", "Google Places API key (required)")
	cmd.Flags().String(flagPlacesBaseURL, "", "Places API base URL override")
	cmd.Flags().Duration(flagLookupTimeout, 0, "per-search lookup timeout (e.g. 90s)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagDatabaseURL, flagListenAddr, flagAllowedOrigins,
		flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName,
		flagGoogleAPIKey, flagPlacesBaseURL, flagLookupTimeout,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Web.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.Web.AllowedOrigins = webapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.Web.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.Web.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.Web.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.Web.GoogleAPIKey = strings.TrimSpace(v.GetString(flagGoogleAPIKey))
	cfg.Web.PlacesBaseURL = strings.TrimSpace(v.GetString(flagPlacesBaseURL))
	cfg.Web.LookupTimeout = v.GetDuration(flagLookupTimeout)

	if cfg.Web.GoogleAPIKey == "" {
		return fmt.Errorf("%s is required", flagGoogleAPIKey)
	}
	return cfg.Web.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	tokenService, err := tokens.NewService(gormstore.New(gormDB), clock)
	if err != nil {
		return fmt.Errorf("token service init: %w", err)
	}
	historyStore := historystore.New(gormDB)

	placesClient, err := places.NewClient(places.Config{
		APIKey:  cfg.Web.GoogleAPIKey,
		BaseURL: cfg.Web.PlacesBaseURL,
	})
	if err != nil {
		return fmt.Errorf("places client init: %w", err)
	}

	orchestrator, err := search.NewOrchestrator(search.Config{
		Tokens:        tokenService,
		Lookup:        places.NewLeadFinder(placesClient),
		History:       historyStore,
		LookupTimeout: cfg.Web.LookupTimeout,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("search orchestrator init: %w", err)
	}

	return webapi.Run(ctx, cfg.Web, webapi.Dependencies{
		Tokens:  tokenService,
		Search:  orchestrator,
		History: historyStore,
		Logger:  logger,
	})
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "leadscout.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(&gormstore.TokenLedger{}, &gormstore.TokenEntry{}, &historystore.SearchQuery{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
