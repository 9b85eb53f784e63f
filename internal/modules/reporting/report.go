package reporting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/modules/pipeline"
	"github.com/aristath/trapline/internal/modules/risk"
	"github.com/aristath/trapline/internal/modules/trap"
)

// Reporter renders the evening report for a completed run: market
// context, risk state, staged signals, blocked assets, and what the
// last sessions did to previously staged trap orders. Plain text; the
// notifier posts it verbatim.
type Reporter struct {
	bars    domain.BarProvider
	riskMgr *risk.Manager
	log     zerolog.Logger
}

// NewReporter creates a report renderer.
func NewReporter(bars domain.BarProvider, log zerolog.Logger) *Reporter {
	return &Reporter{
		bars:    bars,
		riskMgr: risk.NewManager(log),
		log:     log.With().Str("component", "reporter").Logger(),
	}
}

// Render builds the report text from one pipeline result.
func (r *Reporter) Render(res *pipeline.Result) string {
	if res == nil || res.Snapshot == nil {
		return ""
	}

	parts := []string{
		r.renderHeader(res),
		r.renderMarket(res.Snapshot),
		r.renderRisk(res.Snapshot),
		r.renderSignals(res),
		r.renderBlocked(res.Decisions),
	}
	if s := r.renderResolutions(res.Snapshot); s != "" {
		parts = append(parts, s)
	}
	if s := r.renderUnconfirmed(res.Snapshot); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

func (r *Reporter) renderHeader(res *pipeline.Result) string {
	id := res.Run.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("TRAPLINE EOD %s\nRun %s %s, %d assets in %d ms",
		res.Run.Date, id, res.Run.Status, res.Run.AssetsTotal, res.Run.DurationMS)
}

func (r *Reporter) renderMarket(snap *pipeline.Snapshot) string {
	var b strings.Builder
	b.WriteString("MARKET\n")
	if snap.Context.VIX.AsOf.IsZero() {
		b.WriteString("VIX n/a")
	} else {
		b.WriteString(fmt.Sprintf("VIX %.1f", snap.Context.VIX.Value))
	}

	symbols := make([]string, 0, len(snap.Context.Indexes))
	for symbol := range snap.Context.Indexes {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		lvl := snap.Context.Indexes[symbol]
		if !domain.IsDefined(lvl.SMA200) {
			b.WriteString(fmt.Sprintf("\n%s %.2f, SMA200 n/a", symbol, lvl.Close))
			continue
		}
		side := "BULL"
		if lvl.Close < lvl.SMA200 {
			side = "BEAR"
		}
		b.WriteString(fmt.Sprintf("\n%s %.2f vs SMA200 %.2f (%s)", symbol, lvl.Close, lvl.SMA200, side))
	}
	return b.String()
}

func (r *Reporter) renderRisk(snap *pipeline.Snapshot) string {
	a := r.riskMgr.Assess(snap.State)

	var b strings.Builder
	b.WriteString("RISK\n")
	b.WriteString(fmt.Sprintf("Status %s, drawdown %.1f%%\n", snap.State.Status, a.Drawdown*100))
	b.WriteString(fmt.Sprintf("Equity %.2f EUR (peak %.2f), tier %s\n",
		snap.State.Equity, snap.State.PeakEquity, a.Tier.Name))
	b.WriteString(fmt.Sprintf("Budget %.2f EUR per trade, positions %d/%d",
		a.RiskBudget, len(snap.State.Positions), a.Tier.MaxPositions))
	if len(snap.State.Positions) > 0 {
		names := make([]string, 0, len(snap.State.Positions))
		for _, p := range snap.State.Positions {
			names = append(names, p.AssetID)
		}
		sort.Strings(names)
		b.WriteString("\nOpen: " + strings.Join(names, ", "))
	}
	return b.String()
}

func (r *Reporter) renderSignals(res *pipeline.Result) string {
	validUntil := make(map[string]string, len(res.Commit.NewOrders))
	for _, o := range res.Commit.NewOrders {
		validUntil[o.AssetID] = o.ValidUntil.Format("Mon 2006-01-02")
	}

	var lines []string
	for _, d := range res.Decisions {
		if !d.IsSignal() || d.Trap == nil {
			continue
		}
		head := d.AssetID
		if d.Composite != nil {
			head = fmt.Sprintf("%s %s %+.2f", d.AssetID, d.Composite.Classification, d.Composite.Score)
		}
		order := fmt.Sprintf("  buy-stop %.2f, stop %.2f, target %.2f, size %.4f",
			d.Trap.Entry, d.Trap.Stop, d.Trap.Target, d.Trap.Size)
		if until, ok := validUntil[d.AssetID]; ok {
			order += ", valid until " + until
		}
		lines = append(lines, head+"\n"+order)
	}

	if len(lines) == 0 {
		return "SIGNALS\nNo new signals."
	}
	return fmt.Sprintf("SIGNALS (%d)\n%s", len(lines), strings.Join(lines, "\n"))
}

// renderBlocked groups NO_TRADE decisions by reason so a large universe
// stays readable.
func (r *Reporter) renderBlocked(decisions []domain.SignalDecision) string {
	byReason := make(map[string][]string)
	total := 0
	for _, d := range decisions {
		if d.IsSignal() {
			continue
		}
		byReason[d.Reason] = append(byReason[d.Reason], d.AssetID)
		total++
	}
	if total == 0 {
		return "NO TRADE\nNone."
	}

	reasons := make([]string, 0, len(byReason))
	for reason := range byReason {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if len(byReason[reasons[i]]) != len(byReason[reasons[j]]) {
			return len(byReason[reasons[i]]) > len(byReason[reasons[j]])
		}
		return reasons[i] < reasons[j]
	})

	var b strings.Builder
	b.WriteString(fmt.Sprintf("NO TRADE (%d)", total))
	for _, reason := range reasons {
		assets := byReason[reason]
		sort.Strings(assets)
		b.WriteString(fmt.Sprintf("\n%d %s: %s", len(assets), reason, strings.Join(assets, ", ")))
	}
	return b.String()
}

// renderResolutions reports what the session did to each trap order that
// lapsed this run: filled through the entry, gapped over it, or never
// reached it. Advisory only; the stored order state stays EXPIRED until
// the operator confirms or cancels.
func (r *Reporter) renderResolutions(snap *pipeline.Snapshot) string {
	expired := make(map[string]bool, len(snap.ExpireOrderIDs))
	for _, id := range snap.ExpireOrderIDs {
		expired[id] = true
	}

	var lines []string
	for _, o := range snap.State.PendingOrders {
		if !expired[o.ID] {
			continue
		}
		lines = append(lines, r.resolveOrder(o))
	}
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("TRAP RESOLUTION (%d)\n%s", len(lines), strings.Join(lines, "\n"))
}

// resolveOrder reads the last session bar inside the order's validity
// window. A bar no newer than the staging time means the session has not
// synced yet and the outcome cannot be derived.
func (r *Reporter) resolveOrder(o domain.PendingOrder) string {
	bars, err := r.bars.DailyBars(o.AssetID, 1, o.ValidUntil)
	if err != nil || len(bars) == 0 || !bars[len(bars)-1].Date.After(o.CreatedAt) {
		if err != nil {
			r.log.Warn().Err(err).Str("asset", o.AssetID).Msg("No session bar for trap resolution")
		}
		return fmt.Sprintf("%s entry %.2f: no session bar, resolve manually", o.AssetID, o.Entry)
	}
	bar := bars[len(bars)-1]
	outcome := trap.ResolveFill(o.Entry, bar)
	return fmt.Sprintf("%s entry %.2f: %s (open %.2f, high %.2f)",
		o.AssetID, o.Entry, outcome, bar.Open, bar.High)
}

// renderUnconfirmed lists orders from earlier runs that are still
// pending: staged, not expired, and never confirmed at the broker.
func (r *Reporter) renderUnconfirmed(snap *pipeline.Snapshot) string {
	var lines []string
	for _, o := range snap.State.PendingOrders {
		if o.Status != domain.OrderPending {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s buy-stop %.2f, valid until %s",
			o.AssetID, o.Entry, o.ValidUntil.Format("Mon 2006-01-02")))
	}
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("UNCONFIRMED ORDERS (%d)\n%s", len(lines), strings.Join(lines, "\n"))
}
