// Package constraint quantizes quantities and prices to exchange step and
// tick sizes. Every function is pure and total. A non-positive step leaves
// the value untouched; otherwise results never go below zero.
package constraint

import (
	"math"

	"github.com/shopspring/decimal"
)

// QuantizeDown rounds value down to a multiple of step.
func QuantizeDown(value, step float64) float64 {
	return quantize(value, step, decimal.Decimal.Floor)
}

// QuantizeUp rounds value up to a multiple of step.
func QuantizeUp(value, step float64) float64 {
	return quantize(value, step, decimal.Decimal.Ceil)
}

// QuantizePrice rounds price to the nearest multiple of tick. Exact halves
// round to the even multiple.
func QuantizePrice(price, tick float64) float64 {
	return quantize(price, tick, func(d decimal.Decimal) decimal.Decimal {
		return d.RoundBank(0)
	})
}

// FormatQuantity renders value with exactly as many decimals as step
// carries, which is the form the order endpoint accepts.
func FormatQuantity(value, step float64) string {
	if !finite(value) {
		return "0"
	}
	v := decimal.NewFromFloat(value)
	if !usableStep(step) {
		return v.String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return v.StringFixed(places)
}

func quantize(value, step float64, round func(decimal.Decimal) decimal.Decimal) float64 {
	if !usableStep(step) {
		return value
	}
	if math.IsNaN(value) {
		return 0
	}
	if math.IsInf(value, 0) {
		return clamp(value)
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	q := round(v.Div(s)).Mul(s)
	return clamp(q.InexactFloat64())
}

func usableStep(step float64) bool {
	return step > 0 && !math.IsInf(step, 1)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
