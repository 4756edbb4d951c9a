package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"stratcore/internal/model"
	"stratcore/internal/mtf"
)

func init() {
	one, rsiMax := 1.0, 100.0
	Register(Manifest{
		Name:        "rsi_reversion",
		Version:     "1.0.0",
		Description: "Mean reversion: enters long when RSI drops below the oversold level, exits above the overbought level.",
		Params: []ParamSpec{
			{Name: "period", Type: "integer", Min: &one, Required: true},
			{Name: "oversold", Type: "float", Min: &one, Max: &rsiMax, Required: false, Default: 30.0},
			{Name: "overbought", Type: "float", Min: &one, Max: &rsiMax, Required: false, Default: 70.0},
			{Name: "qty", Type: "float", Min: &one, Required: true},
		},
	}, func() Plugin { return &rsiReversion{} })
}

// rsiReversion buys oversold dips and sells overbought rallies on RSI.
type rsiReversion struct {
	period               int
	oversold, overbought float64
	qty                  decimal.Decimal

	inPos map[string]bool
}

func (p *rsiReversion) Initialize(cfg model.StrategyConfig) error {
	p.period = intParam(cfg.Parameters, "period", 14)
	p.oversold = floatParam(cfg.Parameters, "oversold", 30)
	p.overbought = floatParam(cfg.Parameters, "overbought", 70)
	p.qty = decimal.NewFromFloat(floatParam(cfg.Parameters, "qty", 1))
	p.inPos = make(map[string]bool)
	if p.oversold >= p.overbought {
		return fmt.Errorf("oversold (%g) must be below overbought (%g)", p.oversold, p.overbought)
	}
	return nil
}

func (p *rsiReversion) Indicators() []mtf.IndicatorReq {
	return []mtf.IndicatorReq{
		{Name: "rsi", Type: "RSI", Params: map[string]float64{"period": float64(p.period)}},
	}
}

func (p *rsiReversion) OnTick(tick model.Tick, data *model.MultiTimeframeData) ([]model.Signal, error) {
	return nil, nil
}

func (p *rsiReversion) OnCandleComplete(c model.Candle, data *model.MultiTimeframeData) ([]model.Signal, error) {
	td := data.Timeframes[c.Timeframe]
	if td == nil {
		return nil, nil
	}
	rsi, ok := td.Indicators["rsi"]
	if !ok {
		return nil, nil
	}

	switch {
	case rsi.Value < p.oversold && !p.inPos[c.Symbol]:
		p.inPos[c.Symbol] = true
		return []model.Signal{{
			Type:      model.SignalEntry,
			Direction: model.DirectionLong,
			Symbol:    c.Symbol,
			Quantity:  p.qty,
			OrderType: model.OrderMarket,
			Reason:    fmt.Sprintf("RSI %.1f below oversold %.0f", rsi.Value, p.oversold),
		}}, nil
	case rsi.Value > p.overbought && p.inPos[c.Symbol]:
		p.inPos[c.Symbol] = false
		return []model.Signal{{
			Type:      model.SignalExit,
			Direction: model.DirectionLong,
			Symbol:    c.Symbol,
			Quantity:  p.qty,
			OrderType: model.OrderMarket,
			Reason:    fmt.Sprintf("RSI %.1f above overbought %.0f", rsi.Value, p.overbought),
		}}, nil
	}
	return nil, nil
}

func (p *rsiReversion) Cleanup() {}

func (p *rsiReversion) GetState() map[string]any {
	inPos := make(map[string]any, len(p.inPos))
	for k, v := range p.inPos {
		inPos[k] = v
	}
	return map[string]any{"in_position": inPos}
}

func (p *rsiReversion) SetState(state map[string]any) {
	p.inPos = make(map[string]bool)
	if inPos, ok := state["in_position"].(map[string]any); ok {
		for k, raw := range inPos {
			if b, ok := raw.(bool); ok {
				p.inPos[k] = b
			}
		}
	}
}
