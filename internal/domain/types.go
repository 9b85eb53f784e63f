// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Undefined returns the canonical undefined value.
// Warm-up indicator values, ratios with undefined denominators and the like
// are all represented as NaN and must be checked with IsDefined before use.
func Undefined() float64 {
	return math.NaN()
}

// IsDefined reports whether v carries a real value.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}

// Staleness thresholds for consumed context data. A guard whose input is
// older than its threshold fails closed.
const (
	ContextStaleness  = 24 * time.Hour
	CalendarStaleness = 24 * time.Hour
)

// Bar is one daily OHLCV observation.
type Bar struct {
	Date   time.Time `msgpack:"date" json:"date"`
	Open   float64   `msgpack:"open" json:"open"`
	High   float64   `msgpack:"high" json:"high"`
	Low    float64   `msgpack:"low" json:"low"`
	Close  float64   `msgpack:"close" json:"close"`
	Volume float64   `msgpack:"volume" json:"volume"`
}

// FeatureVector is one asset's technical indicators for one day.
// The entry order is fixed per asset profile; undefined values are stored
// as NaN and only reachable through Get, which reports definedness.
type FeatureVector struct {
	Names  []string  `msgpack:"names"`
	Values []float64 `msgpack:"values"`
}

// NewFeatureVector creates an empty vector with the given capacity.
func NewFeatureVector(capacity int) *FeatureVector {
	return &FeatureVector{
		Names:  make([]string, 0, capacity),
		Values: make([]float64, 0, capacity),
	}
}

// Add appends a named value. Undefined (NaN) values are allowed and
// preserved; they are never replaced with a default.
func (v *FeatureVector) Add(name string, value float64) {
	v.Names = append(v.Names, name)
	v.Values = append(v.Values, value)
}

// Get returns the named value. ok is false when the entry is absent or
// undefined, so callers cannot use a warm-up NaN by accident.
func (v *FeatureVector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			val := v.Values[i]
			return val, IsDefined(val)
		}
	}
	return 0, false
}

// Len returns the number of entries.
func (v *FeatureVector) Len() int {
	return len(v.Names)
}

// ContextField is a single market context value with its observation time.
type ContextField struct {
	Value float64   `msgpack:"value"`
	AsOf  time.Time `msgpack:"as_of"`
}

// IndexLevel is a benchmark index close with its 200-session moving average.
type IndexLevel struct {
	Close  float64   `msgpack:"close"`
	SMA200 float64   `msgpack:"sma200"`
	AsOf   time.Time `msgpack:"as_of"`
}

// MarketContext holds the cross-asset regime inputs for one run.
// Read-only during a run; every field carries its own staleness timestamp.
type MarketContext struct {
	VIX     ContextField          `msgpack:"vix"`
	Indexes map[string]IndexLevel `msgpack:"indexes"`
}

// Index returns the level for a benchmark symbol.
func (c MarketContext) Index(symbol string) (IndexLevel, bool) {
	lvl, ok := c.Indexes[symbol]
	return lvl, ok
}

// AssetClass categorizes an instrument.
type AssetClass string

const (
	AssetClassEquity    AssetClass = "EQUITY"
	AssetClassCommodity AssetClass = "COMMODITY"
	AssetClassIndex     AssetClass = "INDEX"
)

// RegimeDirection is the market regime an asset requires for admission.
type RegimeDirection string

const (
	RegimeBull RegimeDirection = "BULL"
	RegimeBear RegimeDirection = "BEAR"
	RegimeAny  RegimeDirection = "ANY"
)

// Broker identifies the execution venue for an asset.
type Broker string

const (
	BrokerIG    Broker = "IG"
	BrokerIBKR  Broker = "IBKR"
	BrokerPaper Broker = "PAPER"
)

// AssetProfile is the static per-asset configuration.
// Created at onboarding, never mutated mid-run.
type AssetProfile struct {
	AssetID            string          `msgpack:"asset_id" json:"asset_id"`
	AssetClass         AssetClass      `msgpack:"asset_class" json:"asset_class"`
	RegimeIndex        string          `msgpack:"regime_index" json:"regime_index"`
	RegimeDirection    RegimeDirection `msgpack:"regime_direction" json:"regime_direction"`
	VIXGuard           bool            `msgpack:"vix_guard" json:"vix_guard"`
	EventGuard         bool            `msgpack:"event_guard" json:"event_guard"`
	MacroGuard         bool            `msgpack:"macro_guard" json:"macro_guard"`
	VolumeFeatures     bool            `msgpack:"volume_features" json:"volume_features"`
	BenchmarkIndex     string          `msgpack:"benchmark_index" json:"benchmark_index"`
	ConcentrationGroup string          `msgpack:"concentration_group" json:"concentration_group"`
	Broker             Broker          `msgpack:"broker" json:"broker"`
	TaxRate            float64         `msgpack:"tax_rate" json:"tax_rate"`
	DataSource         string          `msgpack:"data_source" json:"data_source"`
}

// Validate checks profile consistency. A malformed profile is fatal for
// that asset only, never for the batch.
func (p AssetProfile) Validate() error {
	if p.AssetID == "" {
		return fmt.Errorf("empty asset id")
	}
	switch p.AssetClass {
	case AssetClassEquity, AssetClassCommodity, AssetClassIndex:
	default:
		return fmt.Errorf("unknown asset class %q", p.AssetClass)
	}
	switch p.RegimeDirection {
	case RegimeBull, RegimeBear, RegimeAny:
	default:
		return fmt.Errorf("unknown regime direction %q", p.RegimeDirection)
	}
	if p.RegimeDirection != RegimeAny && p.RegimeIndex == "" {
		return fmt.Errorf("regime direction %s requires a regime index", p.RegimeDirection)
	}
	switch p.Broker {
	case BrokerIG, BrokerIBKR, BrokerPaper:
	default:
		return fmt.Errorf("unknown broker %q", p.Broker)
	}
	if p.TaxRate < 0 || p.TaxRate > 1 {
		return fmt.Errorf("tax rate %.2f out of range", p.TaxRate)
	}
	return nil
}

// RiskStatus is the portfolio risk state.
type RiskStatus string

const (
	RiskNormal       RiskStatus = "NORMAL"
	RiskCaution      RiskStatus = "CAUTION"
	RiskCautionTight RiskStatus = "CAUTION_TIGHT"
	RiskHalt         RiskStatus = "HALT"
)

// OrderStatus is the lifecycle state of a staged trap order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderExpired   OrderStatus = "EXPIRED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Position is an open portfolio position.
type Position struct {
	AssetID      string    `msgpack:"asset_id" json:"asset_id"`
	Size         float64   `msgpack:"size" json:"size"`
	EntryPrice   float64   `msgpack:"entry_price" json:"entry_price"`
	Group        string    `msgpack:"group" json:"group"`
	RiskFraction float64   `msgpack:"risk_fraction" json:"risk_fraction"`
	OpenedAt     time.Time `msgpack:"opened_at" json:"opened_at"`
}

// PendingOrder is a staged trap order awaiting confirmation or expiry.
// It reserves position-count headroom and risk budget until resolved.
type PendingOrder struct {
	ID           string      `msgpack:"id" json:"id"`
	RunID        string      `msgpack:"run_id" json:"run_id"`
	AssetID      string      `msgpack:"asset_id" json:"asset_id"`
	Entry        float64     `msgpack:"entry" json:"entry"`
	Stop         float64     `msgpack:"stop" json:"stop"`
	Target       float64     `msgpack:"target" json:"target"`
	Size         float64     `msgpack:"size" json:"size"`
	RiskFraction float64     `msgpack:"risk_fraction" json:"risk_fraction"`
	Group        string      `msgpack:"group" json:"group"`
	Status       OrderStatus `msgpack:"status" json:"status"`
	ValidUntil   time.Time   `msgpack:"valid_until" json:"valid_until"`
	CreatedAt    time.Time   `msgpack:"created_at" json:"created_at"`
}

// PortfolioState is an immutable account snapshot taken at run start.
// Mutations are staged during the run and committed atomically at the end.
type PortfolioState struct {
	Cash          float64        `msgpack:"cash" json:"cash"`
	Equity        float64        `msgpack:"equity" json:"equity"`
	PeakEquity    float64        `msgpack:"peak_equity" json:"peak_equity"`
	Status        RiskStatus     `msgpack:"status" json:"status"`
	Positions     []Position     `msgpack:"positions" json:"positions"`
	PendingOrders []PendingOrder `msgpack:"pending_orders" json:"pending_orders"`
	AsOf          time.Time      `msgpack:"as_of" json:"as_of"`
}

// Drawdown returns the fractional decline from peak equity.
func (s PortfolioState) Drawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	dd := (s.PeakEquity - s.Equity) / s.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// OpenExposure counts open positions plus live reservations.
func (s PortfolioState) OpenExposure() int {
	n := len(s.Positions)
	for _, o := range s.PendingOrders {
		if o.Status == OrderPending {
			n++
		}
	}
	return n
}

// Heat returns the aggregate fraction of equity at risk across open
// positions and live reservations.
func (s PortfolioState) Heat() float64 {
	var heat float64
	for _, p := range s.Positions {
		heat += p.RiskFraction
	}
	for _, o := range s.PendingOrders {
		if o.Status == OrderPending {
			heat += o.RiskFraction
		}
	}
	return heat
}

// GroupOccupied reports whether a concentration group already holds an
// open position or a live reservation. Only one position per group at a
// time; empty group names never occupy.
func (s PortfolioState) GroupOccupied(group string) bool {
	if group == "" {
		return false
	}
	for _, p := range s.Positions {
		if p.Group == group {
			return true
		}
	}
	for _, o := range s.PendingOrders {
		if o.Status == OrderPending && o.Group == group {
			return true
		}
	}
	return false
}

// CommitSet is the single atomic mutation applied to the portfolio store
// at the end of a run.
type CommitSet struct {
	Equity         float64
	PeakEquity     float64
	Status         RiskStatus
	NewOrders      []PendingOrder
	ExpireOrderIDs []string
	AsOf           time.Time
}

// GuardResult is the immutable outcome of one guard.
type GuardResult struct {
	ID     string `json:"id"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Classification is the discrete composite verdict.
type Classification string

const (
	ClassStrongBuy  Classification = "STRONG_BUY"
	ClassBuy        Classification = "BUY"
	ClassNeutral    Classification = "NEUTRAL"
	ClassSell       Classification = "SELL"
	ClassStrongSell Classification = "STRONG_SELL"
)

// CompositeResult is the scorer output for one asset on one day.
// When Defined is false the score must not be read; the classification is
// NEUTRAL and the aggregator treats the asset fail-closed.
type CompositeResult struct {
	Score          float64            `json:"score"`
	Defined        bool               `json:"defined"`
	Classification Classification     `json:"classification"`
	Components     map[string]float64 `json:"components,omitempty"` // defined final-day z-scores only
	Weights        map[string]float64 `json:"weights,omitempty"`    // profile component weights, sum to 1.0
	Bars           int                `json:"bars"`
}

// TrapOrderParams are the derived execution parameters for an admitted
// signal. Entry sits above the signal-day high so the order only fills on
// confirmed continuation.
type TrapOrderParams struct {
	Entry           float64 `json:"entry"`
	Stop            float64 `json:"stop"`
	Target          float64 `json:"target"`
	Size            float64 `json:"size"`
	RiskFraction    float64 `json:"risk_fraction"`
	RiskAmount      float64 `json:"risk_amount"`
	TargetMultiple  float64 `json:"target_multiple"`
	TrailingATRMult float64 `json:"trailing_atr_mult"`
	ValidSessions   int     `json:"valid_sessions"`
}

// Outcome is the terminal decision kind.
type Outcome string

const (
	OutcomeSignal  Outcome = "SIGNAL"
	OutcomeNoTrade Outcome = "NO_TRADE"
)

// Aggregator-level reason codes. Guard failures use the guard's own ID.
const (
	ReasonNeutral        = "neutral"
	ReasonClassification = "classification"
	ReasonCorrelation    = "correlation"
	ReasonConcentration  = "concentration-limit"
	ReasonRiskBudget     = "risk-budget"
	ReasonSizeUnderflow  = "size-underflow"
	ReasonDataError      = "data-error"
)

// RunStatus is the lifecycle state of one pipeline execution.
type RunStatus string

const (
	RunRunning  RunStatus = "RUNNING"
	RunComplete RunStatus = "COMPLETE"
	RunFailed   RunStatus = "FAILED"
)

// Run is one end-of-day pipeline execution.
type Run struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"` // trading date, YYYY-MM-DD
	Status      RunStatus `json:"status"`
	AssetsTotal int       `json:"assets_total"`
	Signals     int       `json:"signals"`
	DurationMS  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// SignalDecision is the terminal artifact for one asset on one run:
// either an executable SIGNAL with full parameters, or a NO_TRADE with the
// first failing reason.
type SignalDecision struct {
	AssetID   string           `json:"asset_id"`
	Outcome   Outcome          `json:"outcome"`
	Reason    string           `json:"reason,omitempty"`
	Composite *CompositeResult `json:"composite,omitempty"`
	Guards    []GuardResult    `json:"guards,omitempty"`
	Trap      *TrapOrderParams `json:"trap,omitempty"`
	Reasoning string           `json:"reasoning"`
}

// IsSignal reports whether the decision admits a trade.
func (d SignalDecision) IsSignal() bool {
	return d.Outcome == OutcomeSignal
}
