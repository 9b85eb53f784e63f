package pipeline

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/trapline/internal/domain"
)

// History depths loaded into each snapshot. The composite needs the
// 273-session warm-up plus a full 252-session normalization window of
// defined values; 600 covers both with margin for market holidays.
const (
	HistoryWindow = 600
	ReturnsWindow = 60
)

// CalendarAnswer is a frozen blackout-calendar query result.
type CalendarAnswer struct {
	Days     int       `msgpack:"days"`
	Known    bool      `msgpack:"known"`
	SyncedAt time.Time `msgpack:"synced_at"`
}

// AssetSnapshot is the frozen per-asset input set.
type AssetSnapshot struct {
	Profile  domain.AssetProfile `msgpack:"profile"`
	Bars     []domain.Bar        `msgpack:"bars"`
	Earnings CalendarAnswer      `msgpack:"earnings"`
}

// Snapshot is the complete frozen input set for one run. Everything the
// evaluation reads comes from here, so re-running it reproduces the same
// decisions regardless of what the live stores have moved on to.
type Snapshot struct {
	RunID      string            `msgpack:"run_id"`
	RunDate    string            `msgpack:"run_date"`
	AsOf       time.Time         `msgpack:"as_of"`
	PrevStatus domain.RiskStatus `msgpack:"prev_status"`

	// State is the account marked to market, with the risk status already
	// advanced and lapsed reservations flipped to expired.
	State          domain.PortfolioState `msgpack:"state"`
	ExpireOrderIDs []string              `msgpack:"expire_order_ids,omitempty"`

	Context domain.MarketContext `msgpack:"context"`
	Macro   CalendarAnswer       `msgpack:"macro"`

	Assets     []AssetSnapshot         `msgpack:"assets"`
	Benchmarks map[string][]domain.Bar `msgpack:"benchmarks,omitempty"`
	Returns    map[string][]float64    `msgpack:"returns,omitempty"`
	OpenAssets []string                `msgpack:"open_assets,omitempty"`
}

// SnapshotStore persists run snapshots as msgpack blobs in cache.db.
type SnapshotStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotStore creates a snapshot store.
func NewSnapshotStore(db *sql.DB, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		db:  db,
		log: log.With().Str("component", "snapshot_store").Logger(),
	}
}

// Save persists one snapshot, replacing any previous blob for the run.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", snap.RunID, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (run_id, run_date, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			run_date = excluded.run_date,
			payload  = excluded.payload
	`, snap.RunID, snap.RunDate, payload, snap.AsOf.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", snap.RunID, err)
	}

	s.log.Debug().
		Str("run_id", snap.RunID).
		Int("assets", len(snap.Assets)).
		Int("bytes", len(payload)).
		Msg("Snapshot stored")
	return nil
}

// Load retrieves the snapshot for a run.
func (s *SnapshotStore) Load(runID string) (*Snapshot, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM snapshots WHERE run_id = ?", runID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no snapshot stored for run %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", runID, err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", runID, err)
	}
	return &snap, nil
}

// Prune deletes all but the newest keep snapshots.
func (s *SnapshotStore) Prune(keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.Exec(`
		DELETE FROM snapshots WHERE run_id NOT IN (
			SELECT run_id FROM snapshots ORDER BY created_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		s.log.Info().Int64("deleted", deleted).Int("kept", keep).Msg("Old snapshots pruned")
	}
	return deleted, nil
}
