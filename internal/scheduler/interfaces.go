package scheduler

import (
	"context"
	"time"

	"github.com/aristath/trapline/internal/clients/fred"
	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/modules/marketdata"
	"github.com/aristath/trapline/internal/modules/pipeline"
	"github.com/aristath/trapline/internal/reliability"
)

// PriceSource fetches EOD bars and statement dates. Satisfied by the
// Tiingo client; jobs are tested against fakes.
type PriceSource interface {
	DailyPrices(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error)
	DailyForexPrices(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error)
	StatementDates(ctx context.Context, ticker string, start, end time.Time) ([]time.Time, error)
}

// BarStore is the price history surface the sync job writes through.
type BarStore interface {
	UpsertBars(symbol string, bars []domain.Bar) error
	LatestDate(symbol string) (time.Time, bool, error)
}

// EarningsStore receives refreshed earnings dates per symbol.
type EarningsStore interface {
	ReplaceEarnings(symbol string, dates []time.Time) error
}

// SyncThrottle skips refetches of slow-moving provider data. Satisfied
// by the marketdata sync cache.
type SyncThrottle interface {
	Fresh(key string, now time.Time) bool
	Mark(key string, until time.Time) error
}

// MacroSource fetches observations for one macro series. Satisfied by
// the FRED client.
type MacroSource interface {
	Observations(ctx context.Context, seriesID string, start, end time.Time) ([]fred.Observation, error)
}

// MacroWriter is the macro series surface the sync job writes through.
type MacroWriter interface {
	UpsertObservations(seriesID string, obs []marketdata.Observation) error
	Latest(seriesID string) (marketdata.Observation, bool, error)
}

// EventWriter receives the refreshed economic calendar.
type EventWriter interface {
	ReplaceEconomicEvents(events []marketdata.EconomicEvent) error
}

// DecisionRunner executes one EOD batch.
type DecisionRunner interface {
	Run() (*pipeline.Result, error)
}

// ReportRenderer turns a pipeline result into the operator report.
type ReportRenderer interface {
	Render(res *pipeline.Result) string
}

// Archiver creates and rotates remote database backups.
type Archiver interface {
	CreateAndUploadBackup(ctx context.Context) (*reliability.BackupInfo, error)
	RotateOldBackups(ctx context.Context, retentionDays int) (int, error)
}

// JournalPruner trims old runs from the decision journal.
type JournalPruner interface {
	Prune(retentionDays int) (int64, error)
}

// SnapshotPruner trims old run snapshots from the cache.
type SnapshotPruner interface {
	Prune(keep int) (int64, error)
}

// HistoryPruner trims price bars older than a cutoff.
type HistoryPruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// MarkPruner drops expired sync markers from the cache.
type MarkPruner interface {
	Prune(now time.Time) (int64, error)
}
