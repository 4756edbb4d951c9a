package indicator

import (
	"fmt"
	"math"

	"stratcore/internal/model"
)

func init() { register(bbandsAlgo{}) }

// bbandsAlgo computes Bollinger Bands: an SMA middle band with upper and
// lower bands k population standard deviations away. Produces
// Values{upper, middle, lower}.
type bbandsAlgo struct{}

func (bbandsAlgo) Name() string { return "BBANDS" }

func (bbandsAlgo) ValidateParams(params map[string]float64) error {
	if _, err := intParam(params, "period"); err != nil {
		return err
	}
	k, ok := params["k"]
	if !ok {
		return fmt.Errorf("indicator: missing param %q", "k")
	}
	if k <= 0 {
		return fmt.Errorf("indicator: param %q must be positive, got %g", "k", k)
	}
	return nil
}

func (bbandsAlgo) RequiredHistory(params map[string]float64) int {
	p, _ := intParam(params, "period")
	return p
}

func (a bbandsAlgo) Compute(candles []model.Candle, params map[string]float64) (*model.IndicatorValue, error) {
	if err := a.ValidateParams(params); err != nil {
		return nil, err
	}
	p, _ := intParam(params, "period")
	k := params["k"]

	cs := closes(candles)
	window := cs[len(cs)-p:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(p)

	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(p))

	return &model.IndicatorValue{
		Type:   a.Name(),
		Params: params,
		Values: map[string]float64{
			"upper":  mean + k*sigma,
			"middle": mean,
			"lower":  mean - k*sigma,
		},
	}, nil
}
