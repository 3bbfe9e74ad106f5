// Package main is the entry point for arcq, the quantum-classical coherence
// measurement service. It sweeps single-qubit preparations across backends,
// validates the semicircle constraint between measurement probability and
// coherence, and records every measurement in an immutable results ledger.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/archive"
	"github.com/arclab/arcq/internal/backends"
	"github.com/arclab/arcq/internal/backends/ionq"
	"github.com/arclab/arcq/internal/backends/simulator"
	"github.com/arclab/arcq/internal/config"
	"github.com/arclab/arcq/internal/database"
	"github.com/arclab/arcq/internal/events"
	"github.com/arclab/arcq/internal/modules/drift"
	"github.com/arclab/arcq/internal/modules/experiments"
	"github.com/arclab/arcq/internal/modules/settings"
	"github.com/arclab/arcq/internal/scheduler"
	"github.com/arclab/arcq/internal/server"
	"github.com/arclab/arcq/internal/version"
	"github.com/arclab/arcq/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Str("version", version.Version).Msg("Starting arcq")

	// Three-database architecture:
	// - results.db: immutable measurement record (paid hardware jobs are
	//   not reproducible, so this gets the maximum-safety profile)
	// - config.db: runtime settings (credentials, targets, shot counts)
	// - cache.db: ephemeral operational data (job history, drift series)
	resultsDB := mustOpenDB(log, cfg.DataDir, "results", database.ProfileResults)
	defer resultsDB.Close()
	configDB := mustOpenDB(log, cfg.DataDir, "config", database.ProfileStandard)
	defer configDB.Close()
	cacheDB := mustOpenDB(log, cfg.DataDir, "cache", database.ProfileCache)
	defer cacheDB.Close()

	// Settings: DB values override environment variables so credentials
	// can be rotated through the API without a restart.
	settingsRepo := settings.NewRepository(configDB.Conn(), log)
	settingsService := settings.NewService(settingsRepo, log)
	if err := cfg.UpdateFromSettings(settingsRepo); err != nil {
		log.Warn().Err(err).Msg("Failed to update config from settings DB, using environment variables")
	}

	bus := events.NewBus()

	// Backends. The simulator is always available; the hardware gateway is
	// registered only once credentials exist.
	registry := backends.NewRegistry()
	simFactory := func(seed int64) backends.Backend {
		return simulator.New(seed, noiseFromSettings(settingsRepo, log), log)
	}
	registry.Register(simFactory(time.Now().UnixNano()))

	refresher := &gatewayRefresher{
		cfg:      cfg,
		settings: settingsRepo,
		registry: registry,
		log:      log,
	}
	if cfg.IonQAPIKey != "" {
		if err := refresher.RefreshCredentials(); err != nil {
			log.Warn().Err(err).Msg("Failed to register hardware gateway")
		}
	} else {
		log.Info().Msg("No gateway credentials configured, hardware backend disabled")
	}

	// Experiments service: root context cancels in-flight runs on shutdown.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	expRepo := experiments.NewRepository(resultsDB.Conn(), log)
	expService := experiments.NewService(runCtx, expRepo, registry, simFactory, bus, experiments.ServiceConfig{
		DefaultShots:  cfg.DefaultShots,
		HardwareShots: cfg.HardwareShots,
	}, log)

	// Drift monitoring: each completed run feeds its mean q error into the
	// per-backend series.
	driftThreshold, err := settingsService.DriftThreshold(drift.DefaultThreshold)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read drift threshold, using default")
		driftThreshold = drift.DefaultThreshold
	}
	driftRepo := drift.NewRepository(cacheDB.Conn(), log)
	driftMonitor := drift.NewMonitor(driftRepo, bus, drift.Config{Threshold: driftThreshold}, log)

	bus.Subscribe(events.RunCompleted, func(event *events.Event) {
		runID, _ := event.Data["run_id"].(string)
		if runID == "" {
			return
		}
		run, err := expRepo.GetRun(runID)
		if err != nil || run == nil {
			return
		}
		meanError, err := expRepo.MeanQError(runID)
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("Failed to compute mean q error for drift series")
			return
		}
		if _, err := driftMonitor.Record(run.Backend, runID, meanError); err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("Failed to record drift point")
		}
	})

	// Scheduler and background jobs.
	history := scheduler.NewHistoryRepository(cacheDB.Conn(), log)
	sched := scheduler.New(history, bus, log)

	addJob(log, sched, "0 0 3 * * *", scheduler.NewCalibrationJob(expService, log))
	addJob(log, sched, "0 30 3 * * *", scheduler.NewDriftCheckJob(driftMonitor, registry.Names, log))
	addJob(log, sched, "0 0 5 * * *", scheduler.NewCacheCleanupJob(history, driftRepo, log))
	addJob(log, sched, "0 0 * * * *", scheduler.NewWALCheckpointJob(
		[]*database.DB{resultsDB, configDB, cacheDB}, log))

	if cfg.Archive.Enabled {
		s3Client, err := archive.NewS3Client(context.Background(), cfg.Archive, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize archive storage, archive job disabled")
		} else {
			archiveService := archive.NewService(resultsDB, expRepo, s3Client, cfg.DataDir, cfg.Archive.Keep, log)
			addJob(log, sched, "0 0 4 * * *", scheduler.NewArchiveJob(archiveService, log))
		}
	} else {
		log.Info().Msg("Results archival disabled")
	}

	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:       log,
		ResultsDB: resultsDB,
		ConfigDB:  configDB,
		CacheDB:   cacheDB,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,

		Bus:         bus,
		Registry:    registry,
		StatusCache: backends.NewStatusCache(cacheDB.Conn(), log),
		Experiments: expService,
		Drift:       driftMonitor,
		Settings:    settingsService,
		Refresher:   refresher,
		Scheduler:   sched,
		History:     history,
	})

	go func() {
		// ErrServerClosed is the normal return during graceful shutdown.
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancelRuns()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// mustOpenDB opens and migrates one of the application databases.
func mustOpenDB(log zerolog.Logger, dataDir, name string, profile database.DatabaseProfile) *database.DB {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("database", name).Msg("Failed to migrate database")
	}
	return db
}

func addJob(log zerolog.Logger, sched *scheduler.Scheduler, schedule string, job scheduler.Job) {
	if err := sched.AddJob(schedule, job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
	}
}

// noiseFromSettings builds the simulator noise model from config.db. All-zero
// parameters mean ideal sampling.
func noiseFromSettings(repo *settings.Repository, log zerolog.Logger) *simulator.NoiseModel {
	jitter, err := repo.GetFloat(settings.KeyPrepJitterStd, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read noise settings")
		return nil
	}
	flip01, _ := repo.GetFloat(settings.KeyReadoutFlip01, 0)
	flip10, _ := repo.GetFloat(settings.KeyReadoutFlip10, 0)

	if jitter == 0 && flip01 == 0 && flip10 == 0 {
		return nil
	}
	return &simulator.NoiseModel{
		PrepJitterStd: jitter,
		ReadoutFlip01: flip01,
		ReadoutFlip10: flip10,
	}
}

// gatewayRefresher rebuilds the hardware gateway client from the current
// settings and swaps it into the registry. Called at startup and whenever
// credentials or the target change through the API.
type gatewayRefresher struct {
	cfg      *config.Config
	settings *settings.Repository
	registry *backends.Registry
	log      zerolog.Logger
}

func (g *gatewayRefresher) RefreshCredentials() error {
	if err := g.cfg.UpdateFromSettings(g.settings); err != nil {
		return err
	}
	if g.cfg.IonQAPIKey == "" {
		g.log.Warn().Msg("No gateway API key configured, skipping gateway registration")
		return nil
	}

	client := ionq.New(g.cfg.IonQBaseURL, g.cfg.IonQAPIKey, g.cfg.IonQTarget, g.log)
	g.registry.Register(client)
	g.log.Info().Str("target", g.cfg.IonQTarget).Msg("Hardware gateway registered")
	return nil
}
