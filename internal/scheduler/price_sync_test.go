package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/trapline/internal/domain"
	testingpkg "github.com/aristath/trapline/internal/testing"
)

var priceSyncNow = time.Date(2026, 3, 6, 21, 40, 0, 0, time.UTC)

type sourceCall struct {
	method string
	ticker string
	start  time.Time
	end    time.Time
}

type fakePriceSource struct {
	bars       map[string][]domain.Bar
	statements map[string][]time.Time
	errs       map[string]error
	calls      []sourceCall
}

func newFakePriceSource() *fakePriceSource {
	return &fakePriceSource{
		bars:       make(map[string][]domain.Bar),
		statements: make(map[string][]time.Time),
		errs:       make(map[string]error),
	}
}

func (f *fakePriceSource) answer(method, ticker string, start, end time.Time) ([]domain.Bar, error) {
	f.calls = append(f.calls, sourceCall{method: method, ticker: ticker, start: start, end: end})
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return f.bars[ticker], nil
}

func (f *fakePriceSource) DailyPrices(_ context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	return f.answer("daily", ticker, start, end)
}

func (f *fakePriceSource) DailyForexPrices(_ context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	return f.answer("forex", ticker, start, end)
}

func (f *fakePriceSource) StatementDates(_ context.Context, ticker string, start, end time.Time) ([]time.Time, error) {
	f.calls = append(f.calls, sourceCall{method: "statements", ticker: ticker, start: start, end: end})
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return f.statements[ticker], nil
}

func (f *fakePriceSource) callsFor(ticker, method string) []sourceCall {
	var out []sourceCall
	for _, c := range f.calls {
		if c.ticker == ticker && c.method == method {
			out = append(out, c)
		}
	}
	return out
}

type fakeBarStore struct {
	latest    map[string]time.Time
	upserts   map[string][]domain.Bar
	latestErr error
}

func newFakeBarStore() *fakeBarStore {
	return &fakeBarStore{
		latest:  make(map[string]time.Time),
		upserts: make(map[string][]domain.Bar),
	}
}

func (f *fakeBarStore) UpsertBars(symbol string, bars []domain.Bar) error {
	f.upserts[symbol] = append(f.upserts[symbol], bars...)
	return nil
}

func (f *fakeBarStore) LatestDate(symbol string) (time.Time, bool, error) {
	if f.latestErr != nil {
		return time.Time{}, false, f.latestErr
	}
	t, ok := f.latest[symbol]
	return t, ok, nil
}

type fakeEarningsStore struct {
	replaced map[string][]time.Time
}

func (f *fakeEarningsStore) ReplaceEarnings(symbol string, dates []time.Time) error {
	if f.replaced == nil {
		f.replaced = make(map[string][]time.Time)
	}
	f.replaced[symbol] = dates
	return nil
}

type fakeThrottle struct {
	marks map[string]time.Time
}

func newFakeThrottle() *fakeThrottle {
	return &fakeThrottle{marks: make(map[string]time.Time)}
}

func (f *fakeThrottle) Fresh(key string, now time.Time) bool {
	until, ok := f.marks[key]
	return ok && now.Before(until)
}

func (f *fakeThrottle) Mark(key string, until time.Time) error {
	f.marks[key] = until
	return nil
}

func newPriceSyncJob(profiles domain.ProfileStore, source *fakePriceSource, bars *fakeBarStore, earnings *fakeEarningsStore) *PriceSyncJob {
	job := NewPriceSyncJob(PriceSyncConfig{
		Log:      zerolog.Nop(),
		Profiles: profiles,
		Source:   source,
		Bars:     bars,
		Earnings: earnings,
	})
	job.nowFunc = func() time.Time { return priceSyncNow }
	return job
}

func fixtureBar(date time.Time) domain.Bar {
	return domain.Bar{Date: date, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10_000}
}

func TestPriceSyncBootstrapAndGapFill(t *testing.T) {
	profiles := testingpkg.NewMockProfileStore(testingpkg.NewProfileFixtures())
	source := newFakePriceSource()
	bars := newFakeBarStore()
	earnings := &fakeEarningsStore{}

	// SIE.DE already has history up to Wednesday; everything else is new.
	bars.latest["SIE.DE"] = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, sym := range []string{"ASML.AS", "SIE.DE", "XAUUSD", "XAGUSD", "SPY", "UUP"} {
		source.bars[sym] = []domain.Bar{fixtureBar(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))}
	}
	source.statements["ASML.AS"] = []time.Time{time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)}
	source.statements["SIE.DE"] = []time.Time{time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)}

	job := newPriceSyncJob(profiles, source, bars, earnings)
	require.NoError(t, job.Run())

	// Gap fill starts the day after the last stored bar.
	gapCalls := source.callsFor("SIE.DE", "daily")
	require.Len(t, gapCalls, 1)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), gapCalls[0].start)

	// Bootstrap reaches the full lookback window.
	bootCalls := source.callsFor("ASML.AS", "daily")
	require.Len(t, bootCalls, 1)
	assert.Equal(t, priceSyncNow.AddDate(0, 0, -bootstrapLookbackDays), bootCalls[0].start)

	// Forex-sourced symbols route through the forex endpoint.
	assert.Len(t, source.callsFor("XAUUSD", "forex"), 1)
	assert.Len(t, source.callsFor("XAGUSD", "forex"), 1)
	assert.Empty(t, source.callsFor("XAUUSD", "daily"))

	// UUP is tracked only as a regime index, synced through the EOD endpoint.
	assert.Len(t, source.callsFor("UUP", "daily"), 1)

	for _, sym := range []string{"ASML.AS", "SIE.DE", "XAUUSD", "XAGUSD", "SPY", "UUP"} {
		assert.Contains(t, bars.upserts, sym)
	}

	// Earnings refresh only the event-guarded equities.
	assert.Len(t, earnings.replaced, 2)
	assert.Contains(t, earnings.replaced, "ASML.AS")
	assert.Contains(t, earnings.replaced, "SIE.DE")
	assert.NotContains(t, earnings.replaced, "XAUUSD")
}

func TestPriceSyncSkipsCurrentSymbol(t *testing.T) {
	profiles := testingpkg.NewMockProfileStore(testingpkg.NewProfileFixtures())
	source := newFakePriceSource()
	bars := newFakeBarStore()

	// SPY already holds today's bar, so there is nothing to fetch.
	bars.latest["SPY"] = time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

	job := newPriceSyncJob(profiles, source, bars, &fakeEarningsStore{})
	require.NoError(t, job.Run())

	assert.Empty(t, source.callsFor("SPY", "daily"))
	assert.NotContains(t, bars.upserts, "SPY")
}

func TestPriceSyncContinuesAfterSymbolFailure(t *testing.T) {
	profiles := testingpkg.NewMockProfileStore(testingpkg.NewProfileFixtures())
	source := newFakePriceSource()
	bars := newFakeBarStore()

	source.errs["ASML.AS"] = errors.New("tiingo 502")
	for _, sym := range []string{"SIE.DE", "XAUUSD", "XAGUSD", "SPY", "UUP"} {
		source.bars[sym] = []domain.Bar{fixtureBar(time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC))}
	}

	job := newPriceSyncJob(profiles, source, bars, &fakeEarningsStore{})
	require.NoError(t, job.Run())

	assert.NotContains(t, bars.upserts, "ASML.AS")
	assert.Contains(t, bars.upserts, "SIE.DE")
	assert.Contains(t, bars.upserts, "UUP")
}

func TestPriceSyncThrottlesEarningsRefresh(t *testing.T) {
	profiles := testingpkg.NewMockProfileStore(testingpkg.NewProfileFixtures())
	source := newFakePriceSource()
	throttle := newFakeThrottle()

	source.statements["ASML.AS"] = []time.Time{time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)}
	source.statements["SIE.DE"] = []time.Time{time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)}

	job := newPriceSyncJob(profiles, source, newFakeBarStore(), &fakeEarningsStore{})
	job.throttle = throttle

	require.NoError(t, job.Run())
	require.Len(t, source.callsFor("ASML.AS", "statements"), 1)
	assert.Equal(t, priceSyncNow.Add(earningsRefreshInterval), throttle.marks["earnings:ASML.AS"])

	// A second run inside the freshness window skips the fundamentals
	// endpoint entirely.
	require.NoError(t, job.Run())
	assert.Len(t, source.callsFor("ASML.AS", "statements"), 1)
	assert.Len(t, source.callsFor("SIE.DE", "statements"), 1)

	// Once the mark lapses the calendar is fetched again.
	job.nowFunc = func() time.Time { return priceSyncNow.Add(earningsRefreshInterval + time.Hour) }
	require.NoError(t, job.Run())
	assert.Len(t, source.callsFor("ASML.AS", "statements"), 2)
}

func TestPriceSyncFailedEarningsFetchNotMarked(t *testing.T) {
	profiles := testingpkg.NewMockProfileStore(testingpkg.NewProfileFixtures())
	source := newFakePriceSource()
	throttle := newFakeThrottle()

	source.errs["ASML.AS"] = errors.New("tiingo 502")
	source.statements["SIE.DE"] = []time.Time{time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)}

	job := newPriceSyncJob(profiles, source, newFakeBarStore(), &fakeEarningsStore{})
	job.throttle = throttle

	require.NoError(t, job.Run())

	// The failed fetch stays unmarked so the next run retries it.
	assert.NotContains(t, throttle.marks, "earnings:ASML.AS")
	assert.Contains(t, throttle.marks, "earnings:SIE.DE")
}

func TestPriceSyncFailsWhenNothingSyncs(t *testing.T) {
	profiles := testingpkg.NewMockProfileStore(testingpkg.NewProfileFixtures())
	source := newFakePriceSource()
	for _, sym := range []string{"ASML.AS", "SIE.DE", "XAUUSD", "XAGUSD", "SPY", "UUP"} {
		source.errs[sym] = errors.New("connection refused")
	}

	job := newPriceSyncJob(profiles, source, newFakeBarStore(), &fakeEarningsStore{})

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 6 symbols")
}

func TestPriceSyncProfileListFailureIsFatal(t *testing.T) {
	profiles := testingpkg.NewMockProfileStore(nil)
	profiles.SetError(errors.New("universe.db locked"))

	job := newPriceSyncJob(profiles, newFakePriceSource(), newFakeBarStore(), &fakeEarningsStore{})

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list active profiles")
}
