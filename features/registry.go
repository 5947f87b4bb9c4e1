package features

import (
	"fmt"
	"sort"
)

// Calculator names accepted in configuration.
const (
	NameOrderFlow      = "order_flow"
	NameBookPressure   = "book_pressure"
	NameTradeIntensity = "trade_intensity"
	NameMomentum       = "momentum"
	NameVolatility     = "volatility"
)

var strategies = map[string]func() Strategy{
	NameOrderFlow:      func() Strategy { return OrderFlow{} },
	NameBookPressure:   func() Strategy { return BookPressure{} },
	NameTradeIntensity: func() Strategy { return TradeIntensity{} },
	NameMomentum:       func() Strategy { return NewMomentum() },
	NameVolatility:     func() Strategy { return NewVolatility() },
}

// Names lists the known calculators in sorted order.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is a registered calculator.
func Known(name string) bool {
	_, ok := strategies[name]
	return ok
}

// New builds the named calculator with a fresh strategy.
func New(name string, cfg TimeSeriesConfig) (*Calculator, error) {
	factory, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalculator, name)
	}
	return NewCalculator(name, cfg, factory())
}

// NewSet builds one calculator per entry, ordered by name.
func NewSet(configs map[string]TimeSeriesConfig) ([]*Calculator, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	calcs := make([]*Calculator, 0, len(names))
	for _, name := range names {
		calc, err := New(name, configs[name])
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, calc)
	}
	return calcs, nil
}
