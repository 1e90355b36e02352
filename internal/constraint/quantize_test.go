package constraint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantizeDown(t *testing.T) {
	cases := []struct {
		name        string
		value, step float64
		want        float64
	}{
		{"already aligned", 0.05, 0.001, 0.05},
		{"truncates", 0.0519, 0.001, 0.051},
		{"float trap", 0.3, 0.1, 0.3},
		{"below one step", 0.0005, 0.001, 0},
		{"integer step", 17.9, 5, 15},
		{"negative clamps", -1.5, 0.1, 0},
		{"zero step is identity", 1.23456, 0, 1.23456},
		{"negative step is identity", -2, -0.1, -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, QuantizeDown(tc.value, tc.step), 1e-12)
		})
	}
}

func TestQuantizeUp(t *testing.T) {
	cases := []struct {
		name        string
		value, step float64
		want        float64
	}{
		{"already aligned", 0.002, 0.001, 0.002},
		{"rounds up", 0.0501, 0.001, 0.051},
		{"notional quotient", 5.0 / 100.0, 0.001, 0.05},
		{"float trap", 0.7, 0.1, 0.7},
		{"zero step is identity", 0.0005, 0, 0.0005},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, QuantizeUp(tc.value, tc.step), 1e-12)
		})
	}
}

func TestQuantizeBounds(t *testing.T) {
	steps := []float64{0.001, 0.01, 0.1, 0.5, 1, 25}
	values := []float64{0, 0.0004, 0.123456, 1, 3.14159, 99.999, 12345.678}

	for _, s := range steps {
		for _, v := range values {
			down := QuantizeDown(v, s)
			up := QuantizeUp(v, s)

			assert.LessOrEqual(t, down, v+1e-12, "down(%v,%v)", v, s)
			assert.GreaterOrEqual(t, up, v-1e-12, "up(%v,%v)", v, s)
			assert.True(t, isMultiple(down, s), "down(%v,%v)=%v not a multiple", v, s, down)
			assert.True(t, isMultiple(up, s), "up(%v,%v)=%v not a multiple", v, s, up)
		}
	}
}

func TestQuantizePriceHalfEven(t *testing.T) {
	assert.InDelta(t, 100.0, QuantizePrice(100.05, 0.1), 1e-9)
	assert.InDelta(t, 100.2, QuantizePrice(100.15, 0.1), 1e-9)
	assert.InDelta(t, 100.1, QuantizePrice(100.14, 0.1), 1e-9)
	assert.InDelta(t, 100.2, QuantizePrice(100.16, 0.1), 1e-9)
	assert.InDelta(t, 64250.0, QuantizePrice(64251.3, 2.5), 1e-9)
	assert.Equal(t, 0.0, QuantizePrice(-3, 0.1))
	assert.Equal(t, 100.07, QuantizePrice(100.07, 0))
}

func TestNonFiniteValues(t *testing.T) {
	assert.Equal(t, 0.0, QuantizeDown(math.NaN(), 0.1))
	assert.Equal(t, 0.0, QuantizeUp(math.Inf(-1), 0.1))
	assert.True(t, math.IsInf(QuantizeDown(math.Inf(1), 0.1), 1))
	assert.Equal(t, 2.5, QuantizeDown(2.5, math.Inf(1)))
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "0.050", FormatQuantity(0.05, 0.001))
	assert.Equal(t, "12", FormatQuantity(12, 1))
	assert.Equal(t, "0.3", FormatQuantity(QuantizeDown(0.3, 0.1), 0.1))
	assert.Equal(t, "1.5", FormatQuantity(1.5, 0))
	assert.Equal(t, "0", FormatQuantity(math.NaN(), 0.1))
}

func isMultiple(v, step float64) bool {
	r := v / step
	return math.Abs(r-math.Round(r)) < 1e-9
}
