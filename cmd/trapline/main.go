// Command trapline runs the daily EOD decision service: scheduled
// market data sync, the evening decision pipeline, and the REST and
// websocket API around its state.
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

	"github.com/aristath/trapline/internal/clients/fred"
	"github.com/aristath/trapline/internal/clients/tiingo"
	"github.com/aristath/trapline/internal/config"
	"github.com/aristath/trapline/internal/database"
	"github.com/aristath/trapline/internal/events"
	"github.com/aristath/trapline/internal/modules/features"
	"github.com/aristath/trapline/internal/modules/history"
	"github.com/aristath/trapline/internal/modules/marketdata"
	"github.com/aristath/trapline/internal/modules/pipeline"
	"github.com/aristath/trapline/internal/modules/portfolio"
	"github.com/aristath/trapline/internal/modules/reporting"
	"github.com/aristath/trapline/internal/modules/universe"
	"github.com/aristath/trapline/internal/notify"
	"github.com/aristath/trapline/internal/reliability"
	"github.com/aristath/trapline/internal/scheduler"
	"github.com/aristath/trapline/internal/server"
	"github.com/aristath/trapline/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting trapline")

	databases, err := openDatabases(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open databases")
	}
	defer closeDatabases(log, databases)

	bus := events.NewBus(log)

	// Stores over the four databases.
	profiles := universe.NewProfileRepository(databases["universe"].Conn(), log)
	bars := history.NewRepository(databases["universe"].Conn(), log)
	macro := marketdata.NewMacroStore(databases["universe"].Conn(), log)
	calendar := marketdata.NewCalendar(databases["universe"].Conn(), log)
	store := portfolio.NewStore(databases["portfolio"].Conn(), log)
	journal := reporting.NewJournal(databases["decisions"].Conn(), log)
	snapshots := pipeline.NewSnapshotStore(databases["cache"].Conn(), log)
	syncMarks := marketdata.NewSyncCache(databases["cache"].Conn(), log)

	if err := profiles.Seed(universe.DefaultUniverse()); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed universe")
	}

	if err := seedInitialEquity(cfg, store, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed initial equity")
	}

	// Providers.
	tiingoClient := tiingo.NewClient(cfg.TiingoAPIKey, log)
	fredClient := fred.NewClient(cfg.FredAPIKey, log)
	notifier := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)

	var backupSvc *reliability.BackupService
	if cfg.BackupEnabled() {
		s3Client, err := reliability.NewS3Client(context.Background(),
			cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket,
			cfg.S3AccessKeyID, cfg.S3SecretAccessKey, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 client")
		}
		backupSvc = reliability.NewBackupService(databases, s3Client, cfg.DataDir, bus, log)
		log.Info().Str("bucket", cfg.S3Bucket).Msg("Backups enabled")
	} else {
		log.Warn().Msg("No S3 bucket configured; backups disabled")
	}

	// The pipeline and its collaborators.
	contextBuilder := marketdata.NewContextBuilder(macro, bars, profiles, log)
	runner := pipeline.NewRunner(
		profiles,
		bars,
		bars,
		contextBuilder,
		calendar,
		store,
		journal,
		features.NewEngine(log),
		snapshots,
		bus,
		cfg.Workers,
		log,
	)
	reporter := reporting.NewReporter(bars, log)

	// Background jobs.
	sched := scheduler.New(log)
	priceSync := scheduler.NewPriceSyncJob(scheduler.PriceSyncConfig{
		Log:      log,
		Profiles: profiles,
		Source:   tiingoClient,
		Bars:     bars,
		Earnings: calendar,
		Throttle: syncMarks,
	})
	macroSync := scheduler.NewMacroSyncJob(scheduler.MacroSyncConfig{
		Log:    log,
		Source: fredClient,
		Macro:  macro,
		Events: calendar,
	})
	pipelineJob := scheduler.NewPipelineJob(scheduler.PipelineConfig{
		Log:      log,
		Runner:   runner,
		Reporter: reporter,
		Notifier: notifier,
	})
	backupCfg := scheduler.BackupConfig{
		Log:           log,
		Journal:       journal,
		Snapshots:     snapshots,
		History:       bars,
		SyncMarks:     syncMarks,
		RetentionDays: cfg.BackupRetention,
	}
	if backupSvc != nil {
		backupCfg.Archiver = backupSvc
	}
	backupJob := scheduler.NewBackupJob(backupCfg)

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.PriceSyncSchedule, priceSync},
		{cfg.MacroSyncSchedule, macroSync},
		{cfg.PipelineSchedule, pipelineJob},
		{cfg.BackupSchedule, backupJob},
	}
	for _, entry := range jobs {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Fatal().Err(err).Str("job", entry.job.Name()).Msg("Failed to register job")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:       log,
		Cfg:       cfg,
		Bus:       bus,
		Journal:   journal,
		Portfolio: store,
		Profiles:  profiles,
		Macro:     macro,
		Databases: databases,
		Scheduler: sched,
		Pipeline:  pipelineJob,
		Backup:    backupSvc,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	if cfg.RunOnStartup {
		go func() {
			if err := sched.RunNow(pipelineJob); err != nil {
				log.Error().Err(err).Msg("Startup pipeline run failed")
			}
		}()
	}

	// Block until interrupted.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Stopped")
}

// openDatabases opens and migrates the four databases. On failure,
// everything opened so far is closed.
func openDatabases(cfg *config.Config) (map[string]*database.DB, error) {
	specs := []struct {
		name    string
		profile database.DatabaseProfile
	}{
		{"universe", database.ProfileStandard},
		{"portfolio", database.ProfileStandard},
		{"decisions", database.ProfileLedger},
		{"cache", database.ProfileCache},
	}

	databases := make(map[string]*database.DB, len(specs))
	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err == nil {
			databases[spec.name] = db
			err = db.Migrate()
		}
		if err != nil {
			for _, open := range databases {
				_ = open.Close()
			}
			return nil, err
		}
	}
	return databases, nil
}

func closeDatabases(log zerolog.Logger, databases map[string]*database.DB) {
	for name, db := range databases {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Str("database", name).Msg("Failed to close database")
		}
	}
}

// seedInitialEquity records the configured starting deposit once, on
// the first boot of an empty account.
func seedInitialEquity(cfg *config.Config, store *portfolio.Store, log zerolog.Logger) error {
	if cfg.InitialEquity <= 0 {
		return nil
	}
	flows, err := store.CashFlows(1)
	if err != nil {
		return err
	}
	if len(flows) > 0 {
		return nil
	}
	if err := store.RecordDeposit(cfg.InitialEquity, "initial equity"); err != nil {
		return err
	}
	log.Info().Float64("amount", cfg.InitialEquity).Msg("Seeded initial equity")
	return nil
}
