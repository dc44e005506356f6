package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/scardbridge/internal/api"
	"github.com/nerrad567/scardbridge/internal/bridges/rdpdr"
	"github.com/nerrad567/scardbridge/internal/infrastructure/config"
	"github.com/nerrad567/scardbridge/internal/infrastructure/database"
	"github.com/nerrad567/scardbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/scardbridge/internal/infrastructure/logging"
	"github.com/nerrad567/scardbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/scardbridge/internal/journal"
	"github.com/nerrad567/scardbridge/internal/scard"
	"github.com/nerrad567/scardbridge/internal/smartcard"
	"github.com/nerrad567/scardbridge/migrations"
)

// run is the application logic, separated from main for testability.
// It blocks until ctx is cancelled, then shuts components down in reverse
// start order.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting scardbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	bridgeID := cfg.Bridge.ID
	if bridgeID == "" {
		bridgeID = uuid.NewString()
		log.Info("generated bridge ID", "bridge_id", bridgeID)
	}

	// Completion journal (optional)
	var db *database.DB
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		db, err = database.Open(database.Config{
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

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}

		jrnl = journal.New(journal.NewSQLiteRepository(db.DB), journal.Options{
			BufferSize:    cfg.Journal.BufferSize,
			Retention:     cfg.JournalRetention(),
			PruneInterval: cfg.JournalPruneInterval(),
			Logger:        log,
		})
		if startErr := jrnl.Start(ctx); startErr != nil {
			return fmt.Errorf("starting journal: %w", startErr)
		}
		defer func() {
			log.Info("stopping journal")
			jrnl.Stop()
		}()
		log.Info("journal started", "retention", cfg.JournalRetention())
	} else {
		log.Info("journal disabled")
	}

	// InfluxDB metrics (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Smart-card device
	emu := newEmulator(cfg.Emulator)
	dev, err := smartcard.New(smartcard.Options{
		Name:       cfg.Smartcard.DeviceName,
		AsyncMode:  cfg.Smartcard.Async,
		MaxWorkers: cfg.Smartcard.MaxWorkers,
		Handler:    scard.NewHandler(emu, log),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating smart card device: %w", err)
	}
	defer func() {
		log.Info("freeing smart card device")
		dev.Free()
	}()
	if jrnl != nil {
		dev.AddObserver(jrnl)
	}
	if influxClient != nil {
		dev.AddObserver(influxClient)
		go influxClient.RunStatsLoop(ctx, dev, cfg.StatsInterval())
	}
	log.Info("smart card device ready",
		"device", dev.Name(),
		"async", cfg.Smartcard.Async,
		"max_workers", cfg.Smartcard.MaxWorkers,
		"readers", len(cfg.Emulator.Readers),
	)

	// MQTT transport
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
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := rdpdr.NewBridge(rdpdr.BridgeOptions{
		BridgeID:       bridgeID,
		Version:        version,
		QoS:            byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0..2
		HealthInterval: cfg.HealthInterval(),
		Device:         dev,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Status API (optional)
	if cfg.API.Enabled {
		hub := api.NewHub(log)
		dev.AddObserver(hub)

		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Device:  dev,
			MQTT:    mqttClient,
			Bridge:  bridge,
			Hub:     hub,
			Version: version,
		}
		if jrnl != nil {
			deps.Journal = jrnl
		}

		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "bridge_id", bridgeID)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// newEmulator builds the virtual readers described by cfg.
func newEmulator(cfg config.EmulatorConfig) *scard.Emulator {
	emu := scard.NewEmulator()
	for _, r := range cfg.Readers {
		emu.AddReader(r.Name)
		if r.ATR != "" {
			emu.InsertCard(r.Name, r.ATRBytes(), nil)
		}
	}
	return emu
}

// healthCheck verifies the started infrastructure. db and influxClient may
// be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface, whose handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
