// Package indicator computes technical indicators over completed candles,
// with fingerprint-keyed caching so identical requests across strategies are
// computed once per bar.
package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"stratcore/internal/model"
)

// Algorithm is one indicator implementation. Implementations are stateless;
// all inputs arrive through params and the candle window.
type Algorithm interface {
	// Name is the canonical type string ("SMA", "EMA", "RSI", "MACD",
	// "BBANDS").
	Name() string

	// ValidateParams rejects missing or out-of-range parameters.
	ValidateParams(params map[string]float64) error

	// RequiredHistory returns the minimum number of completed candles needed
	// for a stable value with the given params.
	RequiredHistory(params map[string]float64) int

	// Compute calculates the indicator over candles (oldest first). len(candles)
	// is at least RequiredHistory. Symbol/Timeframe/TS on the result are
	// filled by the engine.
	Compute(candles []model.Candle, params map[string]float64) (*model.IndicatorValue, error)
}

// registry of built-in algorithms by canonical name.
var registry = map[string]Algorithm{}

func register(a Algorithm) {
	registry[a.Name()] = a
}

// Lookup returns the algorithm for typ, or an error for unknown types.
func Lookup(typ string) (Algorithm, error) {
	a, ok := registry[strings.ToUpper(typ)]
	if !ok {
		return nil, fmt.Errorf("indicator: unknown type %q", typ)
	}
	return a, nil
}

// Fingerprint canonicalizes an indicator request: upper-cased type plus
// params in sorted key order. Equal requests always produce equal
// fingerprints regardless of map iteration order.
func Fingerprint(typ string, params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToUpper(typ))
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(params[k], 'g', -1, 64))
	}
	b.WriteByte(')')
	return b.String()
}

// intParam extracts a required positive integer-valued parameter.
func intParam(params map[string]float64, name string) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("indicator: missing param %q", name)
	}
	n := int(v)
	if float64(n) != v || n < 1 {
		return 0, fmt.Errorf("indicator: param %q must be a positive integer, got %g", name, v)
	}
	return n, nil
}

// closes extracts the close series as float64, oldest first.
func closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close.InexactFloat64()
	}
	return out
}
