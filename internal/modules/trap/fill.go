package trap

import "github.com/aristath/trapline/internal/domain"

// FillOutcome resolves what the next session did to a staged trap order.
type FillOutcome string

const (
	// FillFilled: the session traded through the entry without gapping
	// over it; the order fills at the entry price.
	FillFilled FillOutcome = "FILLED"
	// FillGapThrough: the session opened beyond the entry limit. The
	// order does not fill; a gap-through is a deliberate miss.
	FillGapThrough FillOutcome = "GAP_THROUGH"
	// FillExpired: price never reached the entry within the validity
	// window.
	FillExpired FillOutcome = "EXPIRED"
)

// ResolveFill applies the next session's bar to a trap order's entry.
// An open exactly at the entry is not a gap; the limit still honors it.
func ResolveFill(entry float64, next domain.Bar) FillOutcome {
	if next.Open > entry {
		return FillGapThrough
	}
	if next.High >= entry {
		return FillFilled
	}
	return FillExpired
}
