package ta

import (
	"math"

	"github.com/cap0y/kiumauto-sub000/internal/types"
)

// Field selects which candle value a rolling computation reads.
type Field int

const (
	Close Field = iota
	Volume
)

func fieldValue(c types.Candle, f Field) float64 {
	if f == Volume {
		return c.Volume
	}
	return c.Close
}

// RSI computes a non-smoothed Wilder-style RSI over the first period+1
// candles of a newest-first series. Returns 50 when there is not enough
// data and 100 when the average loss over the window is zero.
func RSI(candles []types.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 50.0
	}
	gain, loss := 0.0, 0.0
	// candles[i] is newer than candles[i+1]
	for i := 0; i < period; i++ {
		d := candles[i].Close - candles[i+1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// MovingAverage computes the simple moving average series of the given
// field with a rolling-sum update. out[i] averages candles[i..i+period-1];
// the result is empty when the series is shorter than the period.
func MovingAverage(candles []types.Candle, period int, field Field) []float64 {
	if period <= 0 || len(candles) < period {
		return nil
	}
	out := make([]float64, 0, len(candles)-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += fieldValue(candles[i], field)
	}
	out = append(out, sum/float64(period))
	for i := period; i < len(candles); i++ {
		sum += fieldValue(candles[i], field) - fieldValue(candles[i-period], field)
		out = append(out, sum/float64(period))
	}
	return out
}

// Band is one Bollinger window: middle is the rolling mean of the typical
// price, upper/lower are multiplier standard deviations away.
type Band struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// BollingerBands computes bands over period-sized windows of the typical
// price (high+low+close)/3, oldest-aligned: out[i] covers
// candles[i..i+period-1]. Standard deviation is the population form.
func BollingerBands(candles []types.Candle, period int, multiplier float64) []Band {
	if period <= 0 || len(candles) < period {
		return nil
	}
	tp := make([]float64, len(candles))
	for i, c := range candles {
		tp[i] = (c.High + c.Low + c.Close) / 3.0
	}
	out := make([]Band, 0, len(candles)-period+1)
	for i := 0; i+period <= len(tp); i++ {
		win := tp[i : i+period]
		mean := 0.0
		for _, v := range win {
			mean += v
		}
		mean /= float64(period)
		variance := 0.0
		for _, v := range win {
			d := v - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		out = append(out, Band{
			Upper:  mean + multiplier*sd,
			Middle: mean,
			Lower:  mean - multiplier*sd,
		})
	}
	return out
}
