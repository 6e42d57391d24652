package pricing

import "math"

// CreditsForAmount converts a native-token amount (already expressed in
// USD via the caller's rate oracle) into credits, walking the ordered
// purchase tiers like a progressive tax bracket: the first MinCredits worth
// of purchasing power is earned at the first tier's rate, the next band at
// the next tier's rate, and so on, until amount is exhausted. The result is
// floor-rounded to an integer. amount <= 0 always returns 0.
func (c *Config) CreditsForAmount(amount float64) int64 {
	if amount <= 0 {
		return 0
	}

	tiers := c.sortedPurchaseTiers()
	if len(tiers) == 0 {
		return int64(math.Floor(amount * c.ConversionRate))
	}

	var totalCredits float64
	remaining := amount

	for i, tier := range tiers {
		if remaining <= 0 {
			break
		}
		if tier.CreditsPerUSD <= 0 {
			continue
		}

		hasNext := i+1 < len(tiers)
		if !hasNext {
			totalCredits += remaining * tier.CreditsPerUSD
			remaining = 0
			break
		}

		bandCredits := float64(tiers[i+1].MinCredits - tier.MinCredits)
		if bandCredits <= 0 {
			continue
		}
		bandUSD := bandCredits / tier.CreditsPerUSD

		if remaining <= bandUSD {
			totalCredits += remaining * tier.CreditsPerUSD
			remaining = 0
			break
		}

		totalCredits += bandCredits
		remaining -= bandUSD
	}

	return int64(math.Floor(totalCredits))
}

// AmountForCredits is the inverse walk: how much native-token value (in
// USD) is needed to purchase the given number of credits, ceiling-rounded
// up to a tick of the native token's sub-unit so the caller never quotes a
// price that rounds down below what the credits actually cost.
func (c *Config) AmountForCredits(credits int64) float64 {
	if credits <= 0 {
		return 0
	}

	tiers := c.sortedPurchaseTiers()
	if len(tiers) == 0 {
		if c.ConversionRate <= 0 {
			return 0
		}
		return ceilToTick(float64(credits)/c.ConversionRate, c.SubUnitTick)
	}

	var totalUSD float64
	remaining := float64(credits)

	for i, tier := range tiers {
		if remaining <= 0 {
			break
		}
		if tier.CreditsPerUSD <= 0 {
			continue
		}

		hasNext := i+1 < len(tiers)
		if !hasNext {
			totalUSD += remaining / tier.CreditsPerUSD
			remaining = 0
			break
		}

		bandCredits := float64(tiers[i+1].MinCredits - tier.MinCredits)
		if bandCredits <= 0 {
			continue
		}

		if remaining <= bandCredits {
			totalUSD += remaining / tier.CreditsPerUSD
			remaining = 0
			break
		}

		totalUSD += bandCredits / tier.CreditsPerUSD
		remaining -= bandCredits
	}

	return ceilToTick(totalUSD, c.SubUnitTick)
}

func ceilToTick(amount, tick float64) float64 {
	if tick <= 0 {
		return amount
	}
	return math.Ceil(amount/tick) * tick
}

// CostOptions carries the caller-supplied modifiers for OperationCost.
type CostOptions struct {
	IsBulk           bool
	PayloadSizeKB    float64
	UserTotalConsumed int64
	NowUTCHour        int // 0-23; caller supplies so tests can pin peak-hours behavior
}

// OperationCost looks up an operation's base cost and composes modifiers in
// the fixed order the contract requires: network-class multiplier, then
// payload-size additive component, then bulk discount, then loyalty
// discount, then peak-hours multiplier. The composition order is part of
// the contract — reordering it changes the integer result after rounding.
// Unknown operation names return 0 (free) rather than erroring, since the
// catalog may not list admin-only names a transport layer exposes.
func (c *Config) OperationCost(name string, opts CostOptions) int64 {
	oc, ok := c.lookupOperation(name)
	if !ok {
		return 0
	}

	cost := float64(oc.BaseCost)

	if oc.NetworkMultiplier > 0 {
		cost *= oc.NetworkMultiplier
	}

	if oc.SizeMultiplierPerKB > 0 && opts.PayloadSizeKB > 0 {
		cost += opts.PayloadSizeKB * oc.SizeMultiplierPerKB
	}

	if opts.IsBulk && c.BulkDiscountPercent > 0 {
		cost *= (100 - c.BulkDiscountPercent) / 100
	}

	for _, lt := range c.sortedLoyaltyTiers() {
		if opts.UserTotalConsumed >= lt.Threshold {
			cost *= (100 - lt.DiscountPercent) / 100
			break
		}
	}

	if c.isPeakHour(opts.NowUTCHour) {
		cost *= peakMultiplier
	}

	return int64(math.Ceil(cost))
}

// peakMultiplier is the fixed surcharge applied when NowUTCHour falls in
// [PeakStartHourUTC, PeakEndHourUTC).
const peakMultiplier = 1.25

func (c *Config) isPeakHour(hour int) bool {
	if c.PeakStartHourUTC == c.PeakEndHourUTC {
		return false
	}
	if c.PeakStartHourUTC < c.PeakEndHourUTC {
		return hour >= c.PeakStartHourUTC && hour < c.PeakEndHourUTC
	}
	// window wraps past midnight, e.g. 22 -> 2
	return hour >= c.PeakStartHourUTC || hour < c.PeakEndHourUTC
}
