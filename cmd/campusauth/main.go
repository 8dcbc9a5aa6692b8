// Campus Auth - account and session service for the school platform.
//
// This is the main entry point. It loads configuration, opens the SQLite
// store, wires the authentication core and serves the HTTP API until an
// interrupt or SIGTERM arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/campus-auth/migrations"

	"github.com/nerrad567/campus-auth/internal/api"
	"github.com/nerrad567/campus-auth/internal/audit"
	"github.com/nerrad567/campus-auth/internal/auth"
	"github.com/nerrad567/campus-auth/internal/infrastructure/config"
	"github.com/nerrad567/campus-auth/internal/infrastructure/database"
	"github.com/nerrad567/campus-auth/internal/infrastructure/influxdb"
	"github.com/nerrad567/campus-auth/internal/infrastructure/logging"
	"github.com/nerrad567/campus-auth/internal/infrastructure/mqtt"
	"github.com/nerrad567/campus-auth/internal/ratelimit"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "CAMPUSAUTH_CONFIG"
)

// options are the command-line flags.
type options struct {
	configPath string
	seedAdmin  string
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. An empty --config falls back to
// getConfigPath.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("campusauth", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file")
	fs.StringVar(&opts.seedAdmin, "seed-admin", "", "create an administrator with this email if none exists")
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("parsing flags: %w", err)
	}
	if opts.configPath == "" {
		opts.configPath = getConfigPath()
	}
	return opts, nil
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, opts options) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting campus auth",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "config", opts.configPath)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Activity sinks. SQLite is always on; MQTT and InfluxDB are optional.
	activityRepo := audit.NewSQLiteRepository(db.DB)
	sinks := []audit.Sink{activityRepo}

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT, version)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
			stats := mqttClient.Stats()
			log.Info("MQTT activity feed stats",
				"published", stats.Published,
				"failed", stats.Failed,
				"reconnects", stats.Reconnects,
			)
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected", "broker", cfg.MQTT.Broker.Host)
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT connection lost", "error", err)
		})
		sinks = append(sinks, audit.NewMQTTSink(mqttClient, mqtt.Topics{}.Activity))
		log.Info("activity feed publishing to MQTT")
	} else {
		log.Info("MQTT disabled")
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			stats := influxClient.Stats()
			log.Info("InfluxDB activity stats", "points", stats.Points, "failed_batches", stats.Failures)
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write failed", "error", err)
		})
		sinks = append(sinks, audit.NewMetricsSink(influxClient))
		log.Info("activity metrics writing to InfluxDB", "bucket", cfg.InfluxDB.Bucket)
	}

	dispatcher := audit.NewDispatcher(log.Logger, audit.DefaultQueueSize, sinks...)
	// Registered after the sinks so it drains before they close.
	defer func() {
		dispatcher.Close()
		if dropped := dispatcher.Dropped(); dropped > 0 {
			log.Warn("activity entries dropped", "count", dropped)
		}
	}()

	authSvc, sessions, err := buildAuthService(cfg, db, dispatcher, log)
	if err != nil {
		return err
	}

	if opts.seedAdmin != "" {
		if _, err := authSvc.SeedAdmin(ctx, opts.seedAdmin); err != nil {
			return fmt.Errorf("seeding admin: %w", err)
		}
	}

	limiter := connectLimiter(ctx, cfg, log)
	if limiter != nil {
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := limiter.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		RateLimit: cfg.RateLimit,
		Logger:    log,
		Auth:      authSvc,
		Database:  db,
		Limiter:   limiter,
		Activity:  activityRepo,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if interval := time.Duration(cfg.Sessions.SweepInterval) * time.Second; interval > 0 {
		go sweepExpiredSessions(ctx, sessions, interval, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse order: API server, Redis, activity
	// dispatcher, InfluxDB, MQTT, database.
	log.Info("campus auth stopped")
	return nil
}

// buildAuthService wires the authentication core from configuration.
// The access TTL must parse; a malformed refresh TTL falls back to
// auth.DefaultRefreshTTL with a warning.
func buildAuthService(cfg *config.Config, db *database.DB, activity auth.ActivityRecorder, log *logging.Logger) (*auth.Service, *auth.SQLiteSessionRepository, error) {
	accessTTL, err := auth.ParseTTL(cfg.Security.JWT.AccessTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("security.jwt.access_ttl: %w", err)
	}
	refreshTTL := auth.ParseTTLOrDefault(cfg.Security.JWT.RefreshTTL, auth.DefaultRefreshTTL, log.Logger)

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.Security.JWT.AccessSecret,
		RefreshSecret: cfg.Security.JWT.RefreshSecret,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating token issuer: %w", err)
	}

	hasher := auth.NewPasswordHasher(auth.HashParams{
		Memory:      cfg.Security.Password.MemoryKiB,
		Iterations:  cfg.Security.Password.Iterations,
		Parallelism: cfg.Security.Password.Parallelism,
	})

	sessions := auth.NewSessionRepository(db.DB, cfg.Sessions.MaxPerUser)
	relationships := auth.NewRelationshipRepository(db.DB)
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:         auth.NewUserRepository(db.DB),
		Sessions:      sessions,
		Access:        auth.NewAccessEvaluator(relationships),
		Relationships: relationships,
		Hasher:        hasher,
		Tokens:        tokens,
		Activity:      activity,
		Logger:        log.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating auth service: %w", err)
	}

	log.Info("auth service ready",
		"access_ttl", accessTTL.String(),
		"refresh_ttl", refreshTTL.String(),
		"max_sessions", cfg.Sessions.MaxPerUser,
	)
	return svc, sessions, nil
}

// connectLimiter returns a Redis-backed limiter, or nil when throttling is
// disabled or Redis cannot be reached. An unreachable Redis is not fatal.
func connectLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled || !cfg.Redis.Enabled {
		log.Info("rate limiting disabled")
		return nil
	}

	client, err := ratelimit.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Warn("Redis unavailable, continuing without rate limiting",
			"addr", cfg.RedisAddr(),
			"error", err,
		)
		return nil
	}

	log.Info("rate limiting enabled", "addr", cfg.RedisAddr(), "window_seconds", cfg.RateLimit.Window)
	return ratelimit.New(client, time.Duration(cfg.RateLimit.Window)*time.Second)
}

// expiredSessionSweeper is the subset of the session store the sweep needs.
type expiredSessionSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// sweepExpiredSessions deletes expired refresh sessions every interval
// until ctx is cancelled. Expired sessions are already rejected on use;
// the sweep only reclaims storage.
func sweepExpiredSessions(ctx context.Context, store expiredSessionSweeper, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("expired session sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				log.Info("expired sessions removed", "count", n)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses CAMPUSAUTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
