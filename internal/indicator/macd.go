package indicator

import (
	"fmt"

	"stratcore/internal/model"
)

func init() { register(macdAlgo{}) }

// macdAlgo is moving average convergence/divergence: EMA(fast) - EMA(slow)
// with an EMA(signal) of that line. Produces Values{macd, signal, histogram}.
type macdAlgo struct{}

func (macdAlgo) Name() string { return "MACD" }

func (macdAlgo) ValidateParams(params map[string]float64) error {
	fast, err := intParam(params, "fast")
	if err != nil {
		return err
	}
	slow, err := intParam(params, "slow")
	if err != nil {
		return err
	}
	if _, err := intParam(params, "signal"); err != nil {
		return err
	}
	if fast >= slow {
		return fmt.Errorf("indicator: MACD fast (%d) must be less than slow (%d)", fast, slow)
	}
	return nil
}

func (macdAlgo) RequiredHistory(params map[string]float64) int {
	slow, _ := intParam(params, "slow")
	signal, _ := intParam(params, "signal")
	return slow + signal
}

func (a macdAlgo) Compute(candles []model.Candle, params map[string]float64) (*model.IndicatorValue, error) {
	if err := a.ValidateParams(params); err != nil {
		return nil, err
	}
	fast, _ := intParam(params, "fast")
	slow, _ := intParam(params, "slow")
	signal, _ := intParam(params, "signal")

	cs := closes(candles)
	fastEMA := emaSeries(cs, fast)
	slowEMA := emaSeries(cs, slow)

	macdLine := make([]float64, len(cs))
	for i := range cs {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := emaSeries(macdLine, signal)

	n := len(cs) - 1
	return &model.IndicatorValue{
		Type:   a.Name(),
		Params: params,
		Values: map[string]float64{
			"macd":      macdLine[n],
			"signal":    signalLine[n],
			"histogram": macdLine[n] - signalLine[n],
		},
	}, nil
}
