// Package ticks converts price distances into tick counts using decimal
// arithmetic, so prices on the tick grid map to exact integers.
package ticks

import "github.com/shopspring/decimal"

// Delta returns (to - from) / tickSize, exact to decimal precision.
func Delta(from, to, tickSize float64) float64 {
	if tickSize <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(to).Sub(decimal.NewFromFloat(from))
	v, _ := d.Div(decimal.NewFromFloat(tickSize)).Float64()
	return v
}

// Round returns Delta rounded half away from zero to a whole tick count.
func Round(from, to, tickSize float64) int64 {
	if tickSize <= 0 {
		return 0
	}
	d := decimal.NewFromFloat(to).Sub(decimal.NewFromFloat(from))
	return d.Div(decimal.NewFromFloat(tickSize)).Round(0).IntPart()
}

// Distance is the absolute whole-tick distance between two prices.
func Distance(a, b, tickSize float64) int64 {
	n := Round(a, b, tickSize)
	if n < 0 {
		return -n
	}
	return n
}

// Project returns start + n*tickSize.
func Project(start float64, n int64, tickSize float64) float64 {
	v, _ := decimal.NewFromFloat(start).
		Add(decimal.NewFromFloat(tickSize).Mul(decimal.NewFromInt(n))).
		Float64()
	return v
}
