package indicator

import "stratcore/internal/model"

func init() { register(rsiAlgo{}) }

// rsiAlgo is the relative strength index with Wilder smoothing. A window with
// no losses yields 100 rather than a division by zero.
type rsiAlgo struct{}

func (rsiAlgo) Name() string { return "RSI" }

func (rsiAlgo) ValidateParams(params map[string]float64) error {
	_, err := intParam(params, "period")
	return err
}

func (rsiAlgo) RequiredHistory(params map[string]float64) int {
	p, _ := intParam(params, "period")
	return p + 1 // p deltas need p+1 closes
}

func (a rsiAlgo) Compute(candles []model.Candle, params map[string]float64) (*model.IndicatorValue, error) {
	p, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	cs := closes(candles)

	// Seed averages from the first p deltas.
	var avgGain, avgLoss float64
	for i := 1; i <= p; i++ {
		d := cs[i] - cs[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(p)
	avgLoss /= float64(p)

	// Wilder smoothing over the remaining deltas.
	for i := p + 1; i < len(cs); i++ {
		d := cs[i] - cs[i-1]
		var gain, loss float64
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(p-1) + gain) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + loss) / float64(p)
	}

	value := 100.0
	if avgLoss > 0 {
		rs := avgGain / avgLoss
		value = 100.0 - 100.0/(1.0+rs)
	}
	return &model.IndicatorValue{
		Type:   a.Name(),
		Params: params,
		Value:  value,
	}, nil
}
