package market

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// MinKlines is the shortest series Compute accepts.
const MinKlines = 5

const (
	atrPeriod    = 14
	rsiPeriod    = 14
	volumeWindow = 20
)

// Compute derives indicators from klines (oldest first). Moving averages
// over a window longer than the series fall back to the mean of the whole
// series; price changes with too little history are zero.
func Compute(klines []domain.Kline) (domain.Indicators, error) {
	n := len(klines)
	if n < MinKlines {
		return domain.Indicators{}, fmt.Errorf("market: %d klines, need %d: %w", n, MinKlines, domain.ErrInsufficientKlines)
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, k := range klines {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
		volumes[i] = k.Volume
	}

	ind := domain.Indicators{
		SMA5:     smaLast(closes, 5),
		SMA20:    smaLast(closes, 20),
		SMA50:    smaLast(closes, 50),
		SMA100:   smaLast(closes, 100),
		Change1:  rocLast(closes, 1),
		Change3:  rocLast(closes, 3),
		Change6:  rocLast(closes, 6),
		Change12: rocLast(closes, 12),
		ATR14:    atrLast(highs, lows, closes),
	}

	if last := closes[n-1]; math.Abs(last) > math.SmallestNonzeroFloat64 {
		ind.ATRPercent = ind.ATR14 / last * 100
	}
	if avg := smaLast(volumes, volumeWindow); math.Abs(avg) > math.SmallestNonzeroFloat64 {
		ind.VolumeRatio = volumes[n-1] / avg
	}
	if n > rsiPeriod {
		ind.RSI14 = talib.Rsi(closes, rsiPeriod)[n-1]
	}
	return ind, nil
}

func smaLast(values []float64, window int) float64 {
	if window <= len(values) {
		return talib.Sma(values, window)[len(values)-1]
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func rocLast(closes []float64, periods int) float64 {
	if len(closes) <= periods {
		return 0
	}
	return talib.Roc(closes, periods)[len(closes)-1]
}

// atrLast is the plain mean of the most recent true ranges, up to 14 of
// them. The first candle has no previous close and contributes none.
func atrLast(highs, lows, closes []float64) float64 {
	tr := talib.TRange(highs, lows, closes)[1:]
	window := min(atrPeriod, len(tr))
	if window == 0 {
		return 0
	}
	var sum float64
	for _, v := range tr[len(tr)-window:] {
		sum += v
	}
	return sum / float64(window)
}
