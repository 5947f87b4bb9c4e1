package features

import (
	"math"
	"strings"

	"mboflow/models"
)

const (
	bookPressureDepth   = 5
	largeTradeSize      = 100
	tradeCountScale     = 10
	momentumHistory     = 10
	volatilityHistory   = 20
	minPricesForReturns = 3
)

// OrderFlow averages volume imbalance and trade count imbalance between
// buyer- and seller-initiated trades.
type OrderFlow struct{}

func (OrderFlow) Compute(events []*models.EnrichedEvent) float64 {
	var buyVol, sellVol, buyN, sellN float64
	for _, ev := range events {
		if !ev.IsTrade {
			continue
		}
		if ev.IsBuyAggressor() {
			buyVol += ev.Size
			buyN++
		} else {
			sellVol += ev.Size
			sellN++
		}
	}
	return (imbalance(buyVol, sellVol) + imbalance(buyN, sellN)) / 2
}

func (OrderFlow) Reset() {}

// BookPressure compares depth-weighted volume on the top bid and ask levels
// of the latest snapshot in the batch.
type BookPressure struct{}

func (BookPressure) Compute(events []*models.EnrichedEvent) float64 {
	if len(events) == 0 {
		return 0
	}
	book := events[len(events)-1].Book
	return imbalance(weightedDepth(book.Bids), weightedDepth(book.Asks))
}

func (BookPressure) Reset() {}

func weightedDepth(levels []models.LevelEntry) float64 {
	var sum float64
	for i, lvl := range levels {
		if i == bookPressureDepth {
			break
		}
		sum += lvl.Volume / float64(i+1)
	}
	return sum
}

// TradeIntensity scores aggressive volume share, large trade ratio and
// trade count.
type TradeIntensity struct{}

func (TradeIntensity) Compute(events []*models.EnrichedEvent) float64 {
	var aggressiveVol, totalVol, large, n float64
	for _, ev := range events {
		if !ev.IsTrade {
			continue
		}
		n++
		totalVol += ev.Size
		if strings.HasPrefix(ev.EventSubtype, "aggressive") {
			aggressiveVol += ev.Size
		}
		if ev.Size > largeTradeSize {
			large++
		}
	}
	if n == 0 {
		return 0
	}
	var aggression float64
	if totalVol > 0 {
		aggression = aggressiveVol / totalVol
	}
	rate := math.Min(n/tradeCountScale, 1)
	return (aggression + large/n + rate) / 3
}

func (TradeIntensity) Reset() {}

// priceHistory is a bounded history of mid prices shared by the
// price-based strategies.
type priceHistory struct {
	max    int
	prices []float64
}

// observe appends the latest mid price in the batch, if any.
func (h *priceHistory) observe(events []*models.EnrichedEvent) {
	if len(events) == 0 {
		return
	}
	mid, ok := events[len(events)-1].MidPrice()
	if !ok {
		return
	}
	h.prices = append(h.prices, mid)
	if len(h.prices) > h.max {
		h.prices = h.prices[len(h.prices)-h.max:]
	}
}

func (h *priceHistory) returns() []float64 {
	if len(h.prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(h.prices)-1)
	for i := 1; i < len(h.prices); i++ {
		prev := h.prices[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (h.prices[i]-prev)/prev)
	}
	return out
}

func (h *priceHistory) reset() { h.prices = h.prices[:0] }

// Momentum is the sign of the mean-to-std ratio of recent mid returns,
// scaled by how rarely consecutive returns flip sign.
type Momentum struct {
	history priceHistory
}

func NewMomentum() *Momentum {
	return &Momentum{history: priceHistory{max: momentumHistory}}
}

func (m *Momentum) Compute(events []*models.EnrichedEvent) float64 {
	m.history.observe(events)
	if len(m.history.prices) < minPricesForReturns {
		return 0
	}
	rets := m.history.returns()

	consistency := 1.0
	if len(rets) > 1 {
		var flips float64
		for i := 1; i < len(rets); i++ {
			if rets[i]*rets[i-1] < 0 {
				flips++
			}
		}
		consistency = 1 - flips/float64(len(rets)-1)
	}

	mean, std := meanStd(rets)
	if std == 0 {
		return 0
	}
	return consistency * sign(mean/std)
}

func (m *Momentum) Reset() { m.history.reset() }

// Volatility is the skew between up-move and down-move volatility of recent
// mid returns. When there is no down-move dispersion it falls back to the
// realized volatility.
type Volatility struct {
	history priceHistory
}

func NewVolatility() *Volatility {
	return &Volatility{history: priceHistory{max: volatilityHistory}}
}

func (v *Volatility) Compute(events []*models.EnrichedEvent) float64 {
	v.history.observe(events)
	if len(v.history.prices) < minPricesForReturns {
		return 0
	}
	rets := v.history.returns()
	if len(rets) < 2 {
		return 0
	}
	var up, down []float64
	for _, r := range rets {
		switch {
		case r > 0:
			up = append(up, r)
		case r < 0:
			down = append(down, r)
		}
	}
	_, realized := meanStd(rets)
	_, upVol := meanStd(up)
	_, downVol := meanStd(down)
	if downVol == 0 {
		return realized
	}
	return upVol/downVol - 1
}

func (v *Volatility) Reset() { v.history.reset() }

func imbalance(a, b float64) float64 {
	total := a + b
	if total <= 0 {
		return 0
	}
	return (a - b) / total
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
