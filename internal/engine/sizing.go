package engine

import "math"

// orderQty sizes a buy from the per-symbol budget after fees. Zero or
// negative means the symbol is skipped.
func orderQty(investment, feeRate, price float64) int {
	if price <= 0 {
		return 0
	}
	return int(math.Floor(investment * (1 - feeRate) / price))
}

// roundToTick rounds a limit price down to the exchange tick ladder. The
// band boundaries are the KRX equity price bands.
func roundToTick(price float64) float64 {
	tick := tickSize(price)
	return math.Floor(price/tick) * tick
}

func tickSize(price float64) float64 {
	switch {
	case price < 1_000:
		return 1
	case price < 5_000:
		return 5
	case price < 10_000:
		return 10
	case price < 50_000:
		return 50
	case price < 100_000:
		return 100
	case price < 500_000:
		return 500
	default:
		return 1_000
	}
}
