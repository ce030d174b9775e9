// Package strategy defines the trading strategy contract and the
// built-in strategies. Strategies attach indicator columns to a frame
// in Setup and emit at most one signal per bar from OnBar.
package strategy

import (
	"fmt"
	"sort"

	"github.com/pvandam/mtfbot/internal/frame"
	"github.com/pvandam/mtfbot/internal/models"
)

// Strategy is the capability set every trading strategy implements.
// OnBar must only read rows up to and including idx; the engine never
// exposes future bars.
type Strategy interface {
	Name() string

	// Setup recomputes the strategy's indicator columns over the
	// frame. Called once after warmup and again after every append.
	Setup(f *frame.Frame) error

	// OnBar evaluates the bar at idx and returns a signal or nil.
	// pos is the currently open position for this symbol, if any.
	OnBar(idx int, f *frame.Frame, pos *models.Position) (*models.Signal, error)

	// OnTradeClosed notifies the strategy that a trade finished, for
	// strategies that track re-entry state.
	OnTradeClosed(t *models.Trade)
}

// Factory builds a strategy instance from its parameter map.
type Factory func(params map[string]float64) Strategy

var registry = map[string]Factory{}

// Register adds a named strategy factory. Panics on duplicates so
// collisions surface at init time.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = factory
}

// New instantiates a registered strategy by name.
func New(name string, params map[string]float64) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Available())
	}
	return factory(params), nil
}

// Available lists the registered strategy names, sorted.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// param returns params[key] or def when the key is absent.
func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}
