package indicator

import "stratcore/internal/model"

func init() { register(smaAlgo{}) }

// smaAlgo is the simple moving average of the last `period` closes.
type smaAlgo struct{}

func (smaAlgo) Name() string { return "SMA" }

func (smaAlgo) ValidateParams(params map[string]float64) error {
	_, err := intParam(params, "period")
	return err
}

func (smaAlgo) RequiredHistory(params map[string]float64) int {
	p, _ := intParam(params, "period")
	return p
}

func (a smaAlgo) Compute(candles []model.Candle, params map[string]float64) (*model.IndicatorValue, error) {
	p, err := intParam(params, "period")
	if err != nil {
		return nil, err
	}
	cs := closes(candles)
	window := cs[len(cs)-p:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	return &model.IndicatorValue{
		Type:   a.Name(),
		Params: params,
		Value:  sum / float64(p),
	}, nil
}
