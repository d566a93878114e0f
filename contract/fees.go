package contract

import "github.com/btcsuite/btcd/btcutil"

// FeeRateTotalParts defines the granularity of the amount-relative
// component of a Maker's fee model (spec §6): fees are expressed in
// parts-per-million of the swap amount, fixed-point arithmetic
// throughout rather than floating point.
const FeeRateTotalParts = 1e6

// FeeModel is a Maker's advertised fee schedule for a swap, taken
// verbatim from an Offer per spec §6: "absolute_fee_sats,
// amount_relative_fee_ppm, time_relative_fee_sats_per_block".
type FeeModel struct {
	AbsoluteFee        btcutil.Amount
	AmountRelativePPM  int64
	TimeRelativeSatsPerBlock btcutil.Amount
}

// Cost computes the deterministic fee a Maker charges for routing
// amount through a hop held for lockedBlocks, combining all three
// components of the fee model.
func (f FeeModel) Cost(amount btcutil.Amount, lockedBlocks int64) btcutil.Amount {
	amountRelative := amount * btcutil.Amount(f.AmountRelativePPM) /
		btcutil.Amount(FeeRateTotalParts)
	timeRelative := f.TimeRelativeSatsPerBlock * btcutil.Amount(lockedBlocks)

	return f.AbsoluteFee + amountRelative + timeRelative
}

// FeeRateAsPercentage converts a ppm fee rate to a human-readable
// percentage, used by CLI status output.
func FeeRateAsPercentage(ppm int64) float64 {
	return float64(ppm) / (FeeRateTotalParts / 100)
}
