package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Retention applied by the weekly maintenance pass. Decisions keep a
// full year for audit; snapshots only need to cover recent replays;
// bars beyond four years are out of reach of the 600-session window.
const (
	journalRetentionDays = 365
	snapshotKeep         = 30
	historyRetentionYrs  = 4
)

// backupTimeout bounds the archive creation and upload.
const backupTimeout = 15 * time.Minute

// BackupJob creates the weekly database archive, rotates old remote
// archives, and prunes local retention (journal runs, cached
// snapshots, old bars). With no archiver configured it still runs the
// retention pass.
type BackupJob struct {
	log       zerolog.Logger
	archiver  Archiver
	journal   JournalPruner
	snapshots SnapshotPruner
	history   HistoryPruner
	syncMarks MarkPruner
	retention int

	nowFunc func() time.Time
}

// BackupConfig holds the backup job dependencies. Archiver may be nil
// when no object store is configured; SyncMarks may be nil when no
// sync cache is in use.
type BackupConfig struct {
	Log           zerolog.Logger
	Archiver      Archiver
	Journal       JournalPruner
	Snapshots     SnapshotPruner
	History       HistoryPruner
	SyncMarks     MarkPruner
	RetentionDays int
}

// NewBackupJob creates the weekly backup job.
func NewBackupJob(cfg BackupConfig) *BackupJob {
	return &BackupJob{
		log:       cfg.Log.With().Str("job", "weekly_backup").Logger(),
		archiver:  cfg.Archiver,
		journal:   cfg.Journal,
		snapshots: cfg.Snapshots,
		history:   cfg.History,
		syncMarks: cfg.SyncMarks,
		retention: cfg.RetentionDays,
		nowFunc:   time.Now,
	}
}

// Name returns the job name.
func (j *BackupJob) Name() string {
	return "weekly_backup"
}

// Run uploads the backup, rotates old archives, and prunes local data.
// The upload is the critical step; rotation and pruning failures are
// logged and retried next week.
func (j *BackupJob) Run() error {
	if j.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
		defer cancel()

		info, err := j.archiver.CreateAndUploadBackup(ctx)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		j.log.Info().Str("archive", info.Filename).Int64("bytes", info.SizeBytes).Msg("Backup uploaded")

		deleted, err := j.archiver.RotateOldBackups(ctx, j.retention)
		if err != nil {
			j.log.Error().Err(err).Msg("Backup rotation failed")
		} else if deleted > 0 {
			j.log.Info().Int("deleted", deleted).Msg("Old backups rotated")
		}
	} else {
		j.log.Debug().Msg("No object store configured, running retention only")
	}

	j.pruneRetention()
	return nil
}

func (j *BackupJob) pruneRetention() {
	if removed, err := j.journal.Prune(journalRetentionDays); err != nil {
		j.log.Error().Err(err).Msg("Journal prune failed")
	} else if removed > 0 {
		j.log.Info().Int64("decisions", removed).Msg("Journal pruned")
	}

	if removed, err := j.snapshots.Prune(snapshotKeep); err != nil {
		j.log.Error().Err(err).Msg("Snapshot prune failed")
	} else if removed > 0 {
		j.log.Info().Int64("snapshots", removed).Msg("Snapshots pruned")
	}

	cutoff := j.nowFunc().UTC().AddDate(-historyRetentionYrs, 0, 0)
	if removed, err := j.history.Prune(cutoff); err != nil {
		j.log.Error().Err(err).Msg("History prune failed")
	} else if removed > 0 {
		j.log.Info().Int64("bars", removed).Msg("History pruned")
	}

	if j.syncMarks != nil {
		if removed, err := j.syncMarks.Prune(j.nowFunc().UTC()); err != nil {
			j.log.Error().Err(err).Msg("Sync mark prune failed")
		} else if removed > 0 {
			j.log.Info().Int64("marks", removed).Msg("Expired sync marks pruned")
		}
	}
}
