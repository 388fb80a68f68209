// Smart Server - IoT Device Bridge
//
// This is the main entry point for the Smart Server application: an
// MQTT-backed bridge that ingests device traffic into a durable
// registry, dispatches commands with correlation tracking, and fans
// events out to WebSocket observers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/sprchuoi/Smart-Server/migrations"

	"github.com/sprchuoi/Smart-Server/internal/api"
	"github.com/sprchuoi/Smart-Server/internal/bridge"
	"github.com/sprchuoi/Smart-Server/internal/device"
	"github.com/sprchuoi/Smart-Server/internal/infrastructure/config"
	"github.com/sprchuoi/Smart-Server/internal/infrastructure/database"
	"github.com/sprchuoi/Smart-Server/internal/infrastructure/influxdb"
	"github.com/sprchuoi/Smart-Server/internal/infrastructure/logging"
	"github.com/sprchuoi/Smart-Server/internal/infrastructure/mqtt"
	"github.com/sprchuoi/Smart-Server/internal/intent"
	"github.com/sprchuoi/Smart-Server/internal/ota"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// readingPruneInterval is how often old sensor readings are purged.
const readingPruneInterval = time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Linear startup wiring
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Smart Server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	readingRepo := device.NewSQLiteSensorReadingRepository(db.DB)
	registry := device.NewRegistry(deviceRepo, readingRepo)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub is created before the bridge so ingest events have an
	// observer fan-out from the first message.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Command dispatcher with audit trail
	auditRepo := bridge.NewSQLiteCommandAuditRepository(db.DB)
	dispatcher := bridge.NewDispatcher(mqttClient, mqttClient.Topics(), bridge.DispatcherOptions{
		DefaultTimeout: cfg.GetCommandTimeout(),
		MaxPending:     cfg.Bridge.PendingCap,
		Audit:          auditRepo,
		Events:         hub,
	})
	dispatcher.SetLogger(log)
	defer func() {
		log.Info("closing dispatcher")
		dispatcher.Close()
	}()

	// Ingest pipeline: MQTT device traffic into the registry
	var tsdb bridge.TimeSeriesWriter
	if influxClient != nil {
		tsdb = influxClient
	}
	ingestor := bridge.NewIngestor(mqttClient, mqttClient.Topics(), registry, dispatcher, hub, tsdb,
		bridge.IngestorConfig{
			StaleTimeout:  cfg.GetStaleTimeout(),
			SweepInterval: cfg.GetSweepInterval(),
		})
	ingestor.SetLogger(log)

	// Persistent registry write failures under contention mean state is
	// no longer durable; crash loudly rather than serve stale data.
	fatalCh := make(chan error, 1)
	ingestor.SetOnFatal(func(err error) {
		select {
		case fatalCh <- err:
		default:
		}
	})

	if startErr := ingestor.Start(ctx); startErr != nil {
		return fmt.Errorf("starting ingest pipeline: %w", startErr)
	}
	defer func() {
		log.Info("stopping ingest pipeline")
		ingestor.Stop()
	}()
	log.Info("ingest pipeline started", "namespace", cfg.MQTT.Namespace)

	// OTA firmware manager
	otaManager := ota.NewManager(ota.NewSQLiteRepository(db.DB), registry, dispatcher, cfg.OTA.Enabled)
	otaManager.SetLogger(log)

	// Start API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Registry:    registry,
		Dispatcher:  dispatcher,
		Audit:       auditRepo,
		Intent:      intent.NewRuleResolver(registry),
		OTA:         otaManager,
		MQTT:        mqttClient,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Periodic sensor reading retention
	go pruneReadingsLoop(ctx, registry, cfg.Bridge.ReadingRetention, log)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown or a fatal registry error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-fatalCh:
		log.Error("fatal registry error, shutting down", "error", err)
		return err
	}

	log.Info("Smart Server stopped")
	return nil
}

// pruneReadingsLoop periodically deletes sensor readings older than the
// configured retention window.
func pruneReadingsLoop(ctx context.Context, registry *device.Registry, retentionDays int, log *logging.Logger) {
	if retentionDays <= 0 {
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	ticker := time.NewTicker(readingPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := registry.PruneReadings(ctx, retention)
			if err != nil {
				log.Warn("pruning sensor readings failed", "error", err)
				continue
			}
			if pruned > 0 {
				log.Info("pruned sensor readings", "rows", pruned, "retention_days", retentionDays)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses SMARTSERVER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SMARTSERVER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
