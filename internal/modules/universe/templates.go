package universe

import (
	"fmt"

	"github.com/aristath/trapline/internal/domain"
)

// Data source identifiers. They key into the client registry, so they
// match the client package names.
const (
	SourceTiingo      = "tiingo"
	SourceTiingoForex = "tiingo_forex"
	SourceFRED        = "fred"
)

// Template names accepted by FromTemplate.
const (
	TemplateEquity            = "EQUITY"
	TemplateCommodityHaven    = "COMMODITY_HAVEN"
	TemplateCommodityCyclical = "COMMODITY_CYCLICAL"
	TemplateIndex             = "INDEX"
)

// EquityProfile is the template for exchange-listed stocks: bull-regime
// gated on SPY, panic and earnings guards on, relative strength vs SPY.
func EquityProfile(assetID string) domain.AssetProfile {
	return domain.AssetProfile{
		AssetID:         assetID,
		AssetClass:      domain.AssetClassEquity,
		RegimeIndex:     "SPY",
		RegimeDirection: domain.RegimeBull,
		VIXGuard:        true,
		EventGuard:      true,
		VolumeFeatures:  true,
		BenchmarkIndex:  "SPY",
		Broker:          domain.BrokerIBKR,
		TaxRate:         0.33,
		DataSource:      SourceTiingo,
	}
}

// CommodityHavenProfile is the template for safe-haven metals: they trade
// against dollar strength (UUP bear regime), have no earnings and no
// exchange volume, and share the precious metals concentration group.
func CommodityHavenProfile(assetID string) domain.AssetProfile {
	return domain.AssetProfile{
		AssetID:            assetID,
		AssetClass:         domain.AssetClassCommodity,
		RegimeIndex:        "UUP",
		RegimeDirection:    domain.RegimeBear,
		MacroGuard:         true,
		BenchmarkIndex:     "UUP",
		ConcentrationGroup: "PRECIOUS_METALS",
		Broker:             domain.BrokerIG,
		DataSource:         SourceTiingoForex,
	}
}

// CommodityCyclicalProfile is the template for demand-driven commodities:
// bull-regime gated on SPY like equities, but benchmarked against the
// dollar and subject to the macro blackout.
func CommodityCyclicalProfile(assetID string) domain.AssetProfile {
	return domain.AssetProfile{
		AssetID:            assetID,
		AssetClass:         domain.AssetClassCommodity,
		RegimeIndex:        "SPY",
		RegimeDirection:    domain.RegimeBull,
		VIXGuard:           true,
		MacroGuard:         true,
		VolumeFeatures:     true,
		BenchmarkIndex:     "UUP",
		ConcentrationGroup: "CYCLICAL",
		Broker:             domain.BrokerIG,
		DataSource:         SourceTiingo,
	}
}

// IndexProfile is the template for index trackers used as regime and
// benchmark inputs. No guards, paper broker: these are observed, not
// traded.
func IndexProfile(assetID string) domain.AssetProfile {
	return domain.AssetProfile{
		AssetID:         assetID,
		AssetClass:      domain.AssetClassIndex,
		RegimeDirection: domain.RegimeAny,
		VolumeFeatures:  true,
		Broker:          domain.BrokerPaper,
		DataSource:      SourceTiingo,
	}
}

// DefaultUniverse is the starter universe seeded on first boot: a few
// US megacaps, the regime and benchmark trackers they reference, and
// the precious metals pair. Seeding is idempotent, so assets added or
// deactivated through the API afterwards are left alone.
func DefaultUniverse() []domain.AssetProfile {
	equities := []string{"AAPL", "NVDA", "MSFT", "AMZN", "GOOGL"}
	indexes := []string{"SPY", "UUP"}
	havens := []string{"XAUUSD", "XAGUSD"}

	profiles := make([]domain.AssetProfile, 0, len(equities)+len(indexes)+len(havens))
	for _, id := range equities {
		profiles = append(profiles, EquityProfile(id))
	}
	for _, id := range indexes {
		profiles = append(profiles, IndexProfile(id))
	}
	for _, id := range havens {
		profiles = append(profiles, CommodityHavenProfile(id))
	}
	return profiles
}

// FromTemplate builds a profile for assetID from a named template.
func FromTemplate(template, assetID string) (domain.AssetProfile, error) {
	switch template {
	case TemplateEquity:
		return EquityProfile(assetID), nil
	case TemplateCommodityHaven:
		return CommodityHavenProfile(assetID), nil
	case TemplateCommodityCyclical:
		return CommodityCyclicalProfile(assetID), nil
	case TemplateIndex:
		return IndexProfile(assetID), nil
	default:
		return domain.AssetProfile{}, fmt.Errorf("%w: unknown template %q", ErrInvalidProfile, template)
	}
}
