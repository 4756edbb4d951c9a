package indicator

import "stratcore/internal/model"

func init() { register(emaAlgo{}) }

// emaAlgo is the exponential moving average with smoothing 2/(period+1),
// seeded from the first close of the window. Twice the period of history is
// required so the seed bias has decayed by the time the value is read.
type emaAlgo struct{}

func (emaAlgo) Name() string { return "EMA" }

func (emaAlgo) ValidateParams(params map[string]float64) error {
	_, err := intParam(params, "period")
	return err
}

func (emaAlgo) RequiredHistory(params map[string]float64) int {
	p, _ := intParam(params, "period")
	return 2 * p
}

func (a emaAlgo) Compute(candles []model.Candle, params map[string]float64) (*model.IndicatorValue, error) {
	p, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	return &model.IndicatorValue{
		Type:   a.Name(),
		Params: params,
		Value:  emaLast(closes(candles), p),
	}, nil
}

// emaLast returns the final EMA value over the full series.
func emaLast(series []float64, period int) float64 {
	s := emaSeries(series, period)
	return s[len(s)-1]
}

// emaSeries computes the EMA at every point of series, seeding with the first
// value.
func emaSeries(series []float64, period int) []float64 {
	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(series))
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = alpha*series[i] + (1-alpha)*out[i-1]
	}
	return out
}
