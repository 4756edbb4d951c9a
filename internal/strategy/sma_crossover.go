package strategy

import (
	"github.com/shopspring/decimal"

	"stratcore/internal/model"
	"stratcore/internal/mtf"
)

func init() {
	minP, maxP := 1.0, 500.0
	Register(Manifest{
		Name:        "sma_crossover",
		Version:     "1.0.0",
		Description: "Enters long on a golden cross (fast SMA over slow), exits on the death cross.",
		Params: []ParamSpec{
			{Name: "fast", Type: "integer", Min: &minP, Max: &maxP, Required: true},
			{Name: "slow", Type: "integer", Min: &minP, Max: &maxP, Required: true},
			{Name: "qty", Type: "float", Min: &minP, Required: true},
		},
	}, func() Plugin { return &smaCrossover{} })
}

// smaCrossover trades the classic SMA crossover. Crossover detection needs
// the previous pair of averages, which lives in persisted state so a restart
// does not re-fire on the same cross.
type smaCrossover struct {
	fast, slow int
	qty        decimal.Decimal

	// prev holds the last seen (fast, slow) pair per "symbol|tf" key.
	prev map[string][2]float64
	// inPos tracks open long positions per symbol.
	inPos map[string]bool
}

func (p *smaCrossover) Initialize(cfg model.StrategyConfig) error {
	p.fast = intParam(cfg.Parameters, "fast", 9)
	p.slow = intParam(cfg.Parameters, "slow", 21)
	p.qty = decimal.NewFromFloat(floatParam(cfg.Parameters, "qty", 1))
	p.prev = make(map[string][2]float64)
	p.inPos = make(map[string]bool)
	return nil
}

func (p *smaCrossover) Indicators() []mtf.IndicatorReq {
	return []mtf.IndicatorReq{
		{Name: "fast", Type: "SMA", Params: map[string]float64{"period": float64(p.fast)}},
		{Name: "slow", Type: "SMA", Params: map[string]float64{"period": float64(p.slow)}},
	}
}

func (p *smaCrossover) OnTick(tick model.Tick, data *model.MultiTimeframeData) ([]model.Signal, error) {
	return nil, nil // candle-driven
}

func (p *smaCrossover) OnCandleComplete(c model.Candle, data *model.MultiTimeframeData) ([]model.Signal, error) {
	td := data.Timeframes[c.Timeframe]
	if td == nil {
		return nil, nil
	}
	fastV, ok1 := td.Indicators["fast"]
	slowV, ok2 := td.Indicators["slow"]
	if !ok1 || !ok2 {
		return nil, nil
	}

	key := c.Symbol + "|" + c.Timeframe.String()
	prev, seen := p.prev[key]
	p.prev[key] = [2]float64{fastV.Value, slowV.Value}
	if !seen {
		return nil, nil
	}

	switch {
	case prev[0] <= prev[1] && fastV.Value > slowV.Value && !p.inPos[c.Symbol]:
		p.inPos[c.Symbol] = true
		return []model.Signal{{
			Type:      model.SignalEntry,
			Direction: model.DirectionLong,
			Symbol:    c.Symbol,
			Quantity:  p.qty,
			OrderType: model.OrderMarket,
			Reason:    "SMA golden cross (fast > slow)",
		}}, nil
	case prev[0] >= prev[1] && fastV.Value < slowV.Value && p.inPos[c.Symbol]:
		p.inPos[c.Symbol] = false
		return []model.Signal{{
			Type:      model.SignalExit,
			Direction: model.DirectionLong,
			Symbol:    c.Symbol,
			Quantity:  p.qty,
			OrderType: model.OrderMarket,
			Reason:    "SMA death cross (fast < slow)",
		}}, nil
	}
	return nil, nil
}

func (p *smaCrossover) Cleanup() {}

func (p *smaCrossover) GetState() map[string]any {
	prev := make(map[string]any, len(p.prev))
	for k, v := range p.prev {
		prev[k] = []any{v[0], v[1]}
	}
	inPos := make(map[string]any, len(p.inPos))
	for k, v := range p.inPos {
		inPos[k] = v
	}
	return map[string]any{"prev": prev, "in_position": inPos}
}

func (p *smaCrossover) SetState(state map[string]any) {
	p.prev = make(map[string][2]float64)
	p.inPos = make(map[string]bool)

	if prev, ok := state["prev"].(map[string]any); ok {
		for k, raw := range prev {
			pair, ok := raw.([]any)
			if !ok || len(pair) != 2 {
				continue
			}
			f, ok1 := asFloat(pair[0])
			s, ok2 := asFloat(pair[1])
			if ok1 && ok2 {
				p.prev[k] = [2]float64{f, s}
			}
		}
	}
	if inPos, ok := state["in_position"].(map[string]any); ok {
		for k, raw := range inPos {
			if b, ok := raw.(bool); ok {
				p.inPos[k] = b
			}
		}
	}
}
