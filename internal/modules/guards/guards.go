package guards

import (
	"github.com/aristath/trapline/internal/domain"
	"github.com/aristath/trapline/internal/modules/features"
)

// regimeGuard compares the profile's regime benchmark against its
// 200-session moving average in the required direction. Profiles with
// direction ANY skip it.
func regimeGuard() Spec {
	return Spec{
		ID: GuardRegime,
		Applies: func(in Inputs) bool {
			return in.Profile.RegimeDirection != domain.RegimeAny && in.Profile.RegimeIndex != ""
		},
		Check: func(in Inputs) domain.GuardResult {
			lvl, ok := in.Context.Index(in.Profile.RegimeIndex)
			if !ok {
				return fail("regime benchmark %s missing from market context", in.Profile.RegimeIndex)
			}
			if reason, isStale := staleReason("regime benchmark "+in.Profile.RegimeIndex, in.AsOf, lvl.AsOf, domain.ContextStaleness); isStale {
				return fail("%s", reason)
			}
			if !domain.IsDefined(lvl.Close) || !domain.IsDefined(lvl.SMA200) {
				return fail("regime benchmark %s has no 200-session average", in.Profile.RegimeIndex)
			}
			switch in.Profile.RegimeDirection {
			case domain.RegimeBull:
				if lvl.Close > lvl.SMA200 {
					return pass()
				}
				return fail("%s %.2f at or below its 200-session average %.2f", in.Profile.RegimeIndex, lvl.Close, lvl.SMA200)
			case domain.RegimeBear:
				if lvl.Close < lvl.SMA200 {
					return pass()
				}
				return fail("%s %.2f at or above its 200-session average %.2f", in.Profile.RegimeIndex, lvl.Close, lvl.SMA200)
			default:
				return fail("unknown regime direction %q", in.Profile.RegimeDirection)
			}
		},
	}
}

// volatilityPanicGuard blocks entries while the market-wide volatility
// index sits at or above the panic ceiling.
func volatilityPanicGuard() Spec {
	return Spec{
		ID:      GuardVolatility,
		Applies: func(in Inputs) bool { return in.Profile.VIXGuard },
		Check: func(in Inputs) domain.GuardResult {
			if reason, isStale := staleReason("volatility index", in.AsOf, in.Context.VIX.AsOf, domain.ContextStaleness); isStale {
				return fail("%s", reason)
			}
			if !domain.IsDefined(in.Context.VIX.Value) {
				return fail("volatility index undefined")
			}
			if in.Context.VIX.Value < VIXPanicCeiling {
				return pass()
			}
			return fail("volatility index %.1f at or above panic ceiling %.0f", in.Context.VIX.Value, VIXPanicCeiling)
		},
	}
}

// exposureCapGuard blocks once the open-position count, including this
// run's provisional reservations, reaches the tier ceiling.
func exposureCapGuard() Spec {
	return Spec{
		ID: GuardExposureCap,
		Check: func(in Inputs) domain.GuardResult {
			if in.OpenPositions >= in.MaxPositions {
				return fail("open positions %d at tier ceiling %d", in.OpenPositions, in.MaxPositions)
			}
			return pass()
		},
	}
}

// trendStrengthGuard requires directional strength: ADX(14) above 20.
func trendStrengthGuard() Spec {
	return Spec{
		ID: GuardTrendStrength,
		Check: func(in Inputs) domain.GuardResult {
			adx, ok := in.Features.Get(features.FeatADX14)
			if !ok {
				return fail("adx_14 undefined")
			}
			if adx > ADXFloor {
				return pass()
			}
			return fail("adx_14 %.1f at or below floor %.0f", adx, ADXFloor)
		},
	}
}

// eventBlackoutGuard requires at least 7 days until the next scheduled
// corporate event. An unknown next event is a data gap and fails closed.
func eventBlackoutGuard() Spec {
	return Spec{
		ID:      GuardEventBlackout,
		Applies: func(in Inputs) bool { return in.Profile.EventGuard },
		Check: func(in Inputs) domain.GuardResult {
			if reason, isStale := staleReason("earnings calendar", in.AsOf, in.EarningsSyncedAt, domain.CalendarStaleness); isStale {
				return fail("%s", reason)
			}
			if !in.EarningsKnown {
				return fail("next corporate event unknown")
			}
			if in.DaysToEarnings >= EarningsMinDays {
				return pass()
			}
			return fail("%d days to next corporate event, need %d", in.DaysToEarnings, EarningsMinDays)
		},
	}
}

// macroBlackoutGuard requires at least 2 days until the next scheduled
// macro release. A freshly synced calendar with nothing upcoming passes.
func macroBlackoutGuard() Spec {
	return Spec{
		ID:      GuardMacroBlackout,
		Applies: func(in Inputs) bool { return in.Profile.MacroGuard },
		Check: func(in Inputs) domain.GuardResult {
			if reason, isStale := staleReason("macro calendar", in.AsOf, in.MacroSyncedAt, domain.CalendarStaleness); isStale {
				return fail("%s", reason)
			}
			if !in.MacroKnown {
				return pass()
			}
			if in.DaysToMacro >= MacroMinDays {
				return pass()
			}
			return fail("%d days to next macro release, need %d", in.DaysToMacro, MacroMinDays)
		},
	}
}

// pullbackGuard rejects chasing: the close must sit within 5% above the
// 20-session EMA. Price below the average is by definition not extended.
func pullbackGuard() Spec {
	return Spec{
		ID: GuardPullback,
		Check: func(in Inputs) domain.GuardResult {
			ema20, ok := in.Features.Get(features.FeatEMA20)
			if !ok {
				return fail("ema_20 undefined")
			}
			if ema20 <= 0 {
				return fail("ema_20 %.4f not positive", ema20)
			}
			if in.Close <= ema20*(1+PullbackMaxStretch) {
				return pass()
			}
			return fail("close %.2f more than %.0f%% above ema_20 %.2f",
				in.Close, PullbackMaxStretch*100, ema20)
		},
	}
}

// drawdownGuard delegates to the risk status: HALT blocks outright,
// CAUTION states pass but are recorded so the reduced sizing downstream
// is traceable.
func drawdownGuard() Spec {
	return Spec{
		ID: GuardDrawdown,
		Check: func(in Inputs) domain.GuardResult {
			switch in.RiskStatus {
			case domain.RiskHalt:
				return fail("risk status HALT, new admissions suspended")
			case domain.RiskCaution, domain.RiskCautionTight:
				res := pass()
				res.Reason = "risk status " + string(in.RiskStatus) + ", sizing reduced"
				return res
			default:
				return pass()
			}
		},
	}
}
