package testing

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/trapline/internal/domain"
)

// MockBarProvider serves canned bar series keyed by symbol.
type MockBarProvider struct {
	mu   sync.RWMutex
	bars map[string][]domain.Bar
	err  error
}

// NewMockBarProvider creates an empty bar provider.
func NewMockBarProvider() *MockBarProvider {
	return &MockBarProvider{bars: make(map[string][]domain.Bar)}
}

// SetBars installs the series for a symbol.
func (m *MockBarProvider) SetBars(symbol string, bars []domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

// SetError makes every call fail.
func (m *MockBarProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// DailyBars implements domain.BarProvider.
func (m *MockBarProvider) DailyBars(symbol string, limit int, asOf time.Time) ([]domain.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	bars := m.bars[symbol]
	out := make([]domain.Bar, 0, limit)
	for _, b := range bars {
		if !b.Date.After(asOf) {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// DailyReturns implements domain.ReturnsProvider on the same canned bars.
func (m *MockBarProvider) DailyReturns(symbol string, n int, asOf time.Time) ([]float64, error) {
	bars, err := m.DailyBars(symbol, n+1, asOf)
	if err != nil {
		return nil, err
	}
	if len(bars) < 2 {
		return nil, nil
	}
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		returns = append(returns, bars[i].Close/bars[i-1].Close-1)
	}
	return returns, nil
}

// MockContextProvider returns a fixed MarketContext.
type MockContextProvider struct {
	mu  sync.RWMutex
	ctx domain.MarketContext
	err error
}

// NewMockContextProvider creates a provider serving the given context.
func NewMockContextProvider(ctx domain.MarketContext) *MockContextProvider {
	return &MockContextProvider{ctx: ctx}
}

// SetContext replaces the served context.
func (m *MockContextProvider) SetContext(ctx domain.MarketContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
}

// SetError makes every call fail.
func (m *MockContextProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// MarketContext implements domain.ContextProvider.
func (m *MockContextProvider) MarketContext(asOf time.Time) (domain.MarketContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return domain.MarketContext{}, m.err
	}
	return m.ctx, nil
}

// MockCalendarProvider serves fixed blackout distances.
type MockCalendarProvider struct {
	mu sync.RWMutex

	EarningsDays  map[string]int
	EarningsSync  time.Time
	MacroDays     int
	MacroKnown    bool
	MacroSync     time.Time
	Err           error
	defaultsKnown bool
}

// NewMockCalendarProvider creates a calendar with everything far away and
// freshly synced relative to asOf at call time.
func NewMockCalendarProvider(syncedAt time.Time) *MockCalendarProvider {
	return &MockCalendarProvider{
		EarningsDays:  make(map[string]int),
		EarningsSync:  syncedAt,
		MacroDays:     30,
		MacroKnown:    true,
		MacroSync:     syncedAt,
		defaultsKnown: true,
	}
}

// DaysToEarnings implements domain.CalendarProvider.
func (m *MockCalendarProvider) DaysToEarnings(symbol string, asOf time.Time) (int, bool, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, false, time.Time{}, m.Err
	}
	if days, ok := m.EarningsDays[symbol]; ok {
		return days, true, m.EarningsSync, nil
	}
	return 60, m.defaultsKnown, m.EarningsSync, nil
}

// DaysToMacroEvent implements domain.CalendarProvider.
func (m *MockCalendarProvider) DaysToMacroEvent(asOf time.Time) (int, bool, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, false, time.Time{}, m.Err
	}
	return m.MacroDays, m.MacroKnown, m.MacroSync, nil
}

// MockStateStore holds an in-memory portfolio state and records commits.
type MockStateStore struct {
	mu      sync.RWMutex
	state   domain.PortfolioState
	commits []domain.CommitSet
	err     error
}

// NewMockStateStore creates a store serving the given snapshot.
func NewMockStateStore(state domain.PortfolioState) *MockStateStore {
	return &MockStateStore{state: state}
}

// SetError makes every call fail.
func (m *MockStateStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Snapshot implements domain.StateStore.
func (m *MockStateStore) Snapshot() (domain.PortfolioState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return domain.PortfolioState{}, m.err
	}
	return m.state, nil
}

// Commit implements domain.StateStore, recording the commit and folding
// new orders into the held state.
func (m *MockStateStore) Commit(commit domain.CommitSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.commits = append(m.commits, commit)
	m.state.Equity = commit.Equity
	m.state.PeakEquity = commit.PeakEquity
	m.state.Status = commit.Status
	m.state.AsOf = commit.AsOf
	for _, id := range commit.ExpireOrderIDs {
		for i := range m.state.PendingOrders {
			if m.state.PendingOrders[i].ID == id {
				m.state.PendingOrders[i].Status = domain.OrderExpired
			}
		}
	}
	m.state.PendingOrders = append(m.state.PendingOrders, commit.NewOrders...)
	return nil
}

// Commits returns the recorded commit sets.
func (m *MockStateStore) Commits() []domain.CommitSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CommitSet, len(m.commits))
	copy(out, m.commits)
	return out
}

// MockProfileStore serves a fixed profile list.
type MockProfileStore struct {
	mu       sync.RWMutex
	profiles []domain.AssetProfile
	err      error
}

// NewMockProfileStore creates a store serving the given profiles.
func NewMockProfileStore(profiles []domain.AssetProfile) *MockProfileStore {
	return &MockProfileStore{profiles: profiles}
}

// SetError makes every call fail.
func (m *MockProfileStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Active implements domain.ProfileStore.
func (m *MockProfileStore) Active() ([]domain.AssetProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.AssetProfile, len(m.profiles))
	copy(out, m.profiles)
	return out, nil
}

// MockFeatureEngine serves pinned feature vectors keyed by asset.
type MockFeatureEngine struct {
	mu      sync.RWMutex
	vectors map[string]*domain.FeatureVector
	errs    map[string]error
}

// NewMockFeatureEngine creates an empty engine.
func NewMockFeatureEngine() *MockFeatureEngine {
	return &MockFeatureEngine{
		vectors: make(map[string]*domain.FeatureVector),
		errs:    make(map[string]error),
	}
}

// SetVector installs the vector returned for an asset.
func (m *MockFeatureEngine) SetVector(assetID string, v *domain.FeatureVector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[assetID] = v
}

// SetComputeError makes computation fail for one asset.
func (m *MockFeatureEngine) SetComputeError(assetID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[assetID] = err
}

// Compute implements domain.FeatureEngine. Assets without a pinned
// vector fail loudly so tests cannot pass on an accidental default.
func (m *MockFeatureEngine) Compute(bars []domain.Bar, profile domain.AssetProfile, benchmark []domain.Bar) (*domain.FeatureVector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.errs[profile.AssetID]; err != nil {
		return nil, err
	}
	v, ok := m.vectors[profile.AssetID]
	if !ok {
		return nil, fmt.Errorf("no feature vector pinned for %s", profile.AssetID)
	}
	return v, nil
}

// MockDecisionJournal records run lifecycle calls in memory.
type MockDecisionJournal struct {
	mu        sync.Mutex
	started   []domain.Run
	finished  []domain.Run
	decisions map[string][]domain.SignalDecision
	err       error
}

// NewMockDecisionJournal creates an empty journal.
func NewMockDecisionJournal() *MockDecisionJournal {
	return &MockDecisionJournal{decisions: make(map[string][]domain.SignalDecision)}
}

// SetError makes every call fail.
func (m *MockDecisionJournal) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// StartRun implements domain.DecisionJournal.
func (m *MockDecisionJournal) StartRun(run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.started = append(m.started, run)
	return nil
}

// RecordDecision implements domain.DecisionJournal.
func (m *MockDecisionJournal) RecordDecision(runID string, d domain.SignalDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.decisions[runID] = append(m.decisions[runID], d)
	return nil
}

// FinishRun implements domain.DecisionJournal.
func (m *MockDecisionJournal) FinishRun(run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.finished = append(m.finished, run)
	return nil
}

// Started returns the recorded run openings.
func (m *MockDecisionJournal) Started() []domain.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Run, len(m.started))
	copy(out, m.started)
	return out
}

// Finished returns the recorded run closings.
func (m *MockDecisionJournal) Finished() []domain.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Run, len(m.finished))
	copy(out, m.finished)
	return out
}

// Decisions returns the decisions journaled for a run.
func (m *MockDecisionJournal) Decisions(runID string) []domain.SignalDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SignalDecision, len(m.decisions[runID]))
	copy(out, m.decisions[runID])
	return out
}

// MockNotifier records sent reports.
type MockNotifier struct {
	mu      sync.Mutex
	reports []string
	err     error
}

// NewMockNotifier creates an empty notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// SetError makes every send fail.
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SendReport implements domain.Notifier.
func (m *MockNotifier) SendReport(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, text)
	return nil
}

// Reports returns the recorded report texts.
func (m *MockNotifier) Reports() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.reports))
	copy(out, m.reports)
	return out
}
