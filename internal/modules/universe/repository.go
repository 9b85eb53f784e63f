// Package universe manages the tradeable asset list. Each asset carries a
// profile that configures the whole pipeline for that symbol: which guards
// apply, whether volume features are computed, the regime and benchmark
// indices, broker, tax rate, and data source.
package universe

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/trapline/internal/domain"
	"github.com/rs/zerolog"
)

// ErrInvalidProfile marks a profile that failed validation. A profile
// error is fatal for that asset only, never for the batch.
var ErrInvalidProfile = errors.New("invalid asset profile")

// profileColumns is the column list shared by every SELECT. Order must
// match scanProfile.
const profileColumns = `asset_id, asset_class, regime_index, regime_direction,
vix_guard, event_guard, macro_guard, volume_features,
benchmark_index, concentration_group, broker, tax_rate, data_source`

// ProfileRepository handles the profiles table in universe.db.
type ProfileRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *sql.DB, log zerolog.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:  db,
		log: log.With().Str("component", "profile_repository").Logger(),
	}
}

// Active returns all active profiles ordered by asset ID. Rows that fail
// validation are skipped with a warning so one malformed profile cannot
// take down a run.
func (r *ProfileRepository) Active() ([]domain.AssetProfile, error) {
	rows, err := r.db.Query(
		"SELECT " + profileColumns + " FROM profiles WHERE active = 1 ORDER BY asset_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query active profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.AssetProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if err := profile.Validate(); err != nil {
			r.log.Warn().
				Str("asset_id", profile.AssetID).
				Err(err).
				Msg("Skipping invalid profile")
			continue
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// Get returns one profile by asset ID, active or not. Returns nil when
// the asset is unknown.
func (r *ProfileRepository) Get(assetID string) (*domain.AssetProfile, error) {
	rows, err := r.db.Query(
		"SELECT "+profileColumns+" FROM profiles WHERE asset_id = ?",
		normalizeAssetID(assetID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	profile, err := scanProfile(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	return &profile, nil
}

// Upsert validates and writes a profile, activating it.
func (r *ProfileRepository) Upsert(profile domain.AssetProfile) error {
	profile.AssetID = normalizeAssetID(profile.AssetID)
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	_, err := r.db.Exec(`
		INSERT INTO profiles
			(asset_id, asset_class, regime_index, regime_direction,
			 vix_guard, event_guard, macro_guard, volume_features,
			 benchmark_index, concentration_group, broker, tax_rate, data_source,
			 active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, datetime('now'))
		ON CONFLICT(asset_id) DO UPDATE SET
			asset_class         = excluded.asset_class,
			regime_index        = excluded.regime_index,
			regime_direction    = excluded.regime_direction,
			vix_guard           = excluded.vix_guard,
			event_guard         = excluded.event_guard,
			macro_guard         = excluded.macro_guard,
			volume_features     = excluded.volume_features,
			benchmark_index     = excluded.benchmark_index,
			concentration_group = excluded.concentration_group,
			broker              = excluded.broker,
			tax_rate            = excluded.tax_rate,
			data_source         = excluded.data_source,
			active              = 1,
			updated_at          = datetime('now')`,
		profile.AssetID,
		string(profile.AssetClass),
		profile.RegimeIndex,
		string(profile.RegimeDirection),
		boolToInt(profile.VIXGuard),
		boolToInt(profile.EventGuard),
		boolToInt(profile.MacroGuard),
		boolToInt(profile.VolumeFeatures),
		profile.BenchmarkIndex,
		profile.ConcentrationGroup,
		string(profile.Broker),
		profile.TaxRate,
		profile.DataSource,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	r.log.Info().Str("asset_id", profile.AssetID).Msg("Profile saved")
	return nil
}

// Deactivate removes an asset from the active universe without losing its
// configuration. Unknown assets are a no-op.
func (r *ProfileRepository) Deactivate(assetID string) error {
	_, err := r.db.Exec(
		"UPDATE profiles SET active = 0, updated_at = datetime('now') WHERE asset_id = ?",
		normalizeAssetID(assetID),
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate profile: %w", err)
	}
	return nil
}

// Seed inserts profiles that do not exist yet, leaving existing rows
// untouched. Used at startup to install the template universe.
func (r *ProfileRepository) Seed(profiles []domain.AssetProfile) error {
	for _, profile := range profiles {
		profile.AssetID = normalizeAssetID(profile.AssetID)
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
		}
		_, err := r.db.Exec(`
			INSERT OR IGNORE INTO profiles
				(asset_id, asset_class, regime_index, regime_direction,
				 vix_guard, event_guard, macro_guard, volume_features,
				 benchmark_index, concentration_group, broker, tax_rate, data_source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			profile.AssetID,
			string(profile.AssetClass),
			profile.RegimeIndex,
			string(profile.RegimeDirection),
			boolToInt(profile.VIXGuard),
			boolToInt(profile.EventGuard),
			boolToInt(profile.MacroGuard),
			boolToInt(profile.VolumeFeatures),
			profile.BenchmarkIndex,
			profile.ConcentrationGroup,
			string(profile.Broker),
			profile.TaxRate,
			profile.DataSource,
		)
		if err != nil {
			return fmt.Errorf("failed to seed profile %s: %w", profile.AssetID, err)
		}
	}
	return nil
}

func scanProfile(rows *sql.Rows) (domain.AssetProfile, error) {
	var p domain.AssetProfile
	var assetClass, regimeDirection, broker string
	var vixGuard, eventGuard, macroGuard, volumeFeatures int
	err := rows.Scan(
		&p.AssetID,
		&assetClass,
		&p.RegimeIndex,
		&regimeDirection,
		&vixGuard,
		&eventGuard,
		&macroGuard,
		&volumeFeatures,
		&p.BenchmarkIndex,
		&p.ConcentrationGroup,
		&broker,
		&p.TaxRate,
		&p.DataSource,
	)
	if err != nil {
		return domain.AssetProfile{}, err
	}
	p.AssetClass = domain.AssetClass(assetClass)
	p.RegimeDirection = domain.RegimeDirection(regimeDirection)
	p.Broker = domain.Broker(broker)
	p.VIXGuard = vixGuard != 0
	p.EventGuard = eventGuard != 0
	p.MacroGuard = macroGuard != 0
	p.VolumeFeatures = volumeFeatures != 0
	return p, nil
}

func normalizeAssetID(assetID string) string {
	return strings.ToUpper(strings.TrimSpace(assetID))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
