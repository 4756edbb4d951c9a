package strategy

import (
	"context"
	"fmt"
	"log"
	"time"

	"sync"

	"github.com/google/uuid"

	"stratcore/internal/bus"
	"stratcore/internal/model"
	"stratcore/internal/mtf"
)

// Activator is the risk-side admission check consulted before a strategy
// starts or resumes.
type Activator interface {
	// CanActivate returns nil when one more strategy may run for the
	// (account, mode) pair.
	CanActivate(accountID string, mode model.TradingMode) error
}

// instance pairs a plugin with its record. mu serializes callbacks and
// lifecycle transitions; no two callbacks ever run concurrently on one
// instance.
type instance struct {
	mu     sync.Mutex
	plugin Plugin
	rec    model.StrategyRecord
	reqs   []mtf.IndicatorReq
}

// Scheduler owns strategy lifecycle: load, callbacks, pause/resume/stop,
// fault isolation, and state persistence. One panicking or erroring strategy
// never affects its siblings.
type Scheduler struct {
	mu        sync.RWMutex
	instances map[string]*instance

	// admit serializes admission decisions (duplicate check, risk gate,
	// insertion) so concurrent loads cannot slip past the duplicate check or
	// the concurrency cap together. Never held while mu is already held.
	admit sync.Mutex

	state     model.StateStore
	pub       model.Publisher
	assembler *mtf.Assembler
	bus       *bus.Bus
	gate      Activator
	exchange  string

	// Optional metric hooks.
	OnStrategyError func()
	OnSignal        func()
	OnFleetPause    func()
}

// NewScheduler wires a scheduler. gate may be nil (no admission checks).
func NewScheduler(state model.StateStore, pub model.Publisher, assembler *mtf.Assembler, b *bus.Bus, gate Activator, exchange string) *Scheduler {
	return &Scheduler{
		instances: make(map[string]*instance),
		state:     state,
		pub:       pub,
		assembler: assembler,
		bus:       b,
		gate:      gate,
		exchange:  exchange,
	}
}

// Load validates, constructs, and starts a strategy instance. Parameters are
// checked against the plugin manifest, admission against the risk gate, and
// any persisted custom state for the same ID is restored before the first
// callback.
func (s *Scheduler) Load(ctx context.Context, cfg model.StrategyConfig) error {
	if cfg.StrategyID == "" {
		return fmt.Errorf("strategy: empty strategy_id")
	}
	if len(cfg.Symbols) == 0 || len(cfg.Timeframes) == 0 {
		return fmt.Errorf("strategy: %s: needs at least one symbol and one timeframe", cfg.StrategyID)
	}

	manifest, ctor, err := LookupPlugin(cfg.PluginName)
	if err != nil {
		return err
	}
	if err := manifest.ValidateParams(cfg.Parameters); err != nil {
		return err
	}

	s.admit.Lock()
	defer s.admit.Unlock()

	if s.get(cfg.StrategyID) != nil {
		return fmt.Errorf("strategy: %s already loaded", cfg.StrategyID)
	}
	if s.gate != nil {
		if err := s.gate.CanActivate(cfg.AccountID, cfg.Mode); err != nil {
			return err
		}
	}

	plugin := ctor()
	if err := plugin.Initialize(cfg); err != nil {
		return fmt.Errorf("strategy: %s initialize: %w", cfg.StrategyID, err)
	}

	now := time.Now()
	rec := model.StrategyRecord{
		Config:    cfg,
		Status:    model.StatusRunning,
		StartedAt: now,
	}

	// Restore persisted custom state from a previous run of the same ID.
	if prev, err := s.state.LoadStrategyState(ctx, cfg.StrategyID); err != nil {
		log.Printf("[strategy] %s: load persisted state: %v", cfg.StrategyID, err)
	} else if prev != nil && len(prev.CustomState) > 0 {
		plugin.SetState(prev.CustomState)
		rec.CustomState = prev.CustomState
		rec.StartedAt = prev.StartedAt
		log.Printf("[strategy] %s: restored persisted state", cfg.StrategyID)
	}
	rec.LastUpdate = now

	inst := &instance{plugin: plugin, rec: rec}
	if ip, ok := plugin.(IndicatorProvider); ok {
		inst.reqs = ip.Indicators()
	}

	s.mu.Lock()
	if _, exists := s.instances[cfg.StrategyID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("strategy: %s already loaded", cfg.StrategyID)
	}
	s.instances[cfg.StrategyID] = inst
	s.mu.Unlock()

	for _, sym := range cfg.Symbols {
		s.bus.Subscribe(cfg.StrategyID, sym, cfg.Timeframes, s.exchange)
	}
	s.persist(ctx, inst)

	log.Printf("[strategy] loaded %s (plugin=%s account=%s mode=%s symbols=%v)",
		cfg.StrategyID, cfg.PluginName, cfg.AccountID, cfg.Mode, cfg.Symbols)
	return nil
}

// Run consumes bus events and routes them to running instances.
// Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	events := s.bus.SubscribeLocal()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch {
			case ev.Tick != nil:
				s.routeTick(ctx, *ev.Tick)
			case ev.Candle != nil && ev.Complete:
				s.routeCandle(ctx, *ev.Candle)
			}
		}
	}
}

func (s *Scheduler) routeTick(ctx context.Context, tick model.Tick) {
	for _, inst := range s.matching(tick.Symbol, nil) {
		s.invoke(ctx, inst, tick.Symbol, func(data *model.MultiTimeframeData) ([]model.Signal, error) {
			return inst.plugin.OnTick(tick, data)
		})
	}
}

func (s *Scheduler) routeCandle(ctx context.Context, c model.Candle) {
	tf := c.Timeframe
	for _, inst := range s.matching(c.Symbol, &tf) {
		s.invoke(ctx, inst, c.Symbol, func(data *model.MultiTimeframeData) ([]model.Signal, error) {
			return inst.plugin.OnCandleComplete(c, data)
		})
	}
}

// matching snapshots the instances subscribed to symbol (and tf when set).
func (s *Scheduler) matching(symbol string, tf *model.Timeframe) []*instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*instance
	for _, inst := range s.instances {
		cfg := &inst.rec.Config
		if !cfg.HasSymbol(symbol) {
			continue
		}
		if tf != nil && !cfg.HasTimeframe(*tf) {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// invoke runs one callback under the instance lock with panic isolation,
// then flushes state and publishes emitted signals.
func (s *Scheduler) invoke(ctx context.Context, inst *instance, symbol string, call func(*model.MultiTimeframeData) ([]model.Signal, error)) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.rec.Status != model.StatusRunning {
		return
	}

	data := s.assembler.GetData(ctx, symbol, inst.rec.Config.Timeframes, inst.reqs)
	if err := s.assembler.EnsureConsistency(data); err != nil {
		log.Printf("[strategy] %s: skipping callback: %v", inst.rec.Config.StrategyID, err)
		return
	}

	signals, err := s.safeCall(inst, data, call)
	if err != nil {
		s.markErrorLocked(ctx, inst, err)
		return
	}

	inst.rec.CustomState = inst.plugin.GetState()
	inst.rec.LastUpdate = time.Now()
	s.persist(ctx, inst)

	for i := range signals {
		s.emitSignal(ctx, inst, &signals[i])
	}
}

// safeCall isolates plugin failures. Panics are recovered into errors, so a
// panicking or erroring strategy transitions to error while the rest of the
// fleet is untouched.
func (s *Scheduler) safeCall(inst *instance, data *model.MultiTimeframeData, call func(*model.MultiTimeframeData) ([]model.Signal, error)) (signals []model.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return call(data)
}

func (s *Scheduler) markErrorLocked(ctx context.Context, inst *instance, cause error) {
	id := inst.rec.Config.StrategyID
	inst.rec.Status = model.StatusError
	inst.rec.LastError = cause.Error()
	inst.rec.LastUpdate = time.Now()
	s.persist(ctx, inst)
	if s.OnStrategyError != nil {
		s.OnStrategyError()
	}
	log.Printf("[strategy] %s entered error state: %v", id, cause)
}

// emitSignal validates, enriches, and publishes one order intent.
func (s *Scheduler) emitSignal(ctx context.Context, inst *instance, sig *model.Signal) {
	cfg := &inst.rec.Config
	if err := validateSignal(cfg, sig); err != nil {
		log.Printf("[strategy] %s: rejected signal: %v", cfg.StrategyID, err)
		return
	}
	sig.ID = uuid.NewString()
	sig.StrategyID = cfg.StrategyID
	if sig.TS.IsZero() {
		sig.TS = time.Now()
	}
	if err := s.pub.PublishSignal(ctx, *sig); err != nil {
		log.Printf("[strategy] %s: publish signal %s: %v", cfg.StrategyID, sig.ID, err)
		return
	}
	if s.OnSignal != nil {
		s.OnSignal()
	}
	log.Printf("[strategy] %s: signal %s %s/%s %s qty=%s (%s)",
		cfg.StrategyID, sig.ID, sig.Type, sig.Direction, sig.Symbol, sig.Quantity, sig.Reason)
}

// validateSignal enforces the order-intent contract before handoff.
func validateSignal(cfg *model.StrategyConfig, sig *model.Signal) error {
	switch sig.Type {
	case model.SignalEntry, model.SignalExit:
	default:
		return fmt.Errorf("invalid type %q", sig.Type)
	}
	switch sig.Direction {
	case model.DirectionLong, model.DirectionShort:
	default:
		return fmt.Errorf("invalid direction %q", sig.Direction)
	}
	if !cfg.HasSymbol(sig.Symbol) {
		return fmt.Errorf("symbol %q not in strategy universe", sig.Symbol)
	}
	if !sig.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", sig.Quantity)
	}
	switch sig.OrderType {
	case model.OrderMarket:
	case model.OrderLimit:
		if sig.Price == nil || !sig.Price.IsPositive() {
			return fmt.Errorf("limit order needs a positive price")
		}
	default:
		return fmt.Errorf("invalid order type %q", sig.OrderType)
	}
	return nil
}

// ── Lifecycle ──

// Pause suspends callbacks for a running strategy. State is retained.
func (s *Scheduler) Pause(ctx context.Context, strategyID string) error {
	return s.transition(ctx, strategyID, model.StatusPaused, func(from model.StrategyStatus) error {
		if from != model.StatusRunning {
			return fmt.Errorf("strategy: %s is %s, cannot pause", strategyID, from)
		}
		return nil
	})
}

// Resume restarts callbacks for a paused strategy, re-checking admission
// with the risk gate. Errored strategies are recovered by stopping and
// reloading them, not by resuming.
func (s *Scheduler) Resume(ctx context.Context, strategyID string) error {
	inst := s.get(strategyID)
	if inst == nil {
		return fmt.Errorf("strategy: %s not loaded", strategyID)
	}

	s.admit.Lock()
	defer s.admit.Unlock()

	if s.gate != nil {
		cfg := &inst.rec.Config
		if err := s.gate.CanActivate(cfg.AccountID, cfg.Mode); err != nil {
			return err
		}
	}
	return s.transition(ctx, strategyID, model.StatusRunning, func(from model.StrategyStatus) error {
		if from != model.StatusPaused {
			return fmt.Errorf("strategy: %s is %s, cannot resume", strategyID, from)
		}
		return nil
	})
}

// Stop tears a strategy down: cleanup, unsubscribe, and removal of persisted
// state. The ID may be reused by a later Load.
func (s *Scheduler) Stop(ctx context.Context, strategyID string) error {
	s.mu.Lock()
	inst, ok := s.instances[strategyID]
	if ok {
		delete(s.instances, strategyID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("strategy: %s not loaded", strategyID)
	}

	inst.mu.Lock()
	inst.rec.Status = model.StatusStopped
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[strategy] %s: cleanup panic: %v", strategyID, r)
			}
		}()
		inst.plugin.Cleanup()
	}()
	inst.mu.Unlock()

	s.bus.Unsubscribe(strategyID, "", nil)
	if err := s.state.RemoveStrategy(ctx, strategyID); err != nil {
		log.Printf("[strategy] %s: remove persisted state: %v", strategyID, err)
	}
	log.Printf("[strategy] stopped %s", strategyID)
	return nil
}

// PauseFleet pauses every running strategy of (account, mode) and returns how
// many were paused. Used by the risk gate on loss-limit breach.
func (s *Scheduler) PauseFleet(accountID string, mode model.TradingMode, reason string) int {
	s.mu.RLock()
	var targets []*instance
	for _, inst := range s.instances {
		cfg := &inst.rec.Config
		if cfg.AccountID == accountID && cfg.Mode == mode {
			targets = append(targets, inst)
		}
	}
	s.mu.RUnlock()

	ctx := context.Background()
	paused := 0
	for _, inst := range targets {
		inst.mu.Lock()
		if inst.rec.Status == model.StatusRunning {
			inst.rec.Status = model.StatusPaused
			inst.rec.LastError = reason
			inst.rec.LastUpdate = time.Now()
			s.persist(ctx, inst)
			paused++
		}
		inst.mu.Unlock()
	}
	if paused > 0 {
		if s.OnFleetPause != nil {
			s.OnFleetPause()
		}
		log.Printf("[strategy] fleet pause: account=%s mode=%s paused=%d reason=%q",
			accountID, mode, paused, reason)
	}
	return paused
}

// CountRunning returns how many strategies of (account, mode) are currently
// running. Wired into the risk gate's concurrency cap.
func (s *Scheduler) CountRunning(accountID string, mode model.TradingMode) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, inst := range s.instances {
		cfg := &inst.rec.Config
		if cfg.AccountID == accountID && cfg.Mode == mode && inst.rec.Status == model.StatusRunning {
			n++
		}
	}
	return n
}

// Rehydrate reloads every strategy in the persisted active set, restoring
// custom state and prior status. Called once at startup.
func (s *Scheduler) Rehydrate(ctx context.Context) error {
	ids, err := s.state.ActiveStrategies(ctx)
	if err != nil {
		return fmt.Errorf("strategy: list active: %w", err)
	}

	restored := 0
	for _, id := range ids {
		rec, err := s.state.LoadStrategyState(ctx, id)
		if err != nil {
			log.Printf("[strategy] rehydrate %s: %v", id, err)
			continue
		}
		if rec == nil || rec.Status == model.StatusStopped {
			continue
		}
		if err := s.rehydrateOne(ctx, rec); err != nil {
			log.Printf("[strategy] rehydrate %s: %v", id, err)
			continue
		}
		restored++
	}
	log.Printf("[strategy] rehydrated %d/%d strategies", restored, len(ids))
	return nil
}

func (s *Scheduler) rehydrateOne(ctx context.Context, rec *model.StrategyRecord) error {
	cfg := rec.Config
	_, ctor, err := LookupPlugin(cfg.PluginName)
	if err != nil {
		return err
	}
	plugin := ctor()
	if err := plugin.Initialize(cfg); err != nil {
		return err
	}
	if len(rec.CustomState) > 0 {
		plugin.SetState(rec.CustomState)
	}

	inst := &instance{plugin: plugin, rec: *rec}
	if ip, ok := plugin.(IndicatorProvider); ok {
		inst.reqs = ip.Indicators()
	}

	s.mu.Lock()
	if _, exists := s.instances[cfg.StrategyID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("already loaded")
	}
	s.instances[cfg.StrategyID] = inst
	s.mu.Unlock()

	for _, sym := range cfg.Symbols {
		s.bus.Subscribe(cfg.StrategyID, sym, cfg.Timeframes, s.exchange)
	}
	return nil
}

// ReloadPlugins re-reads manifest files from dir. Running instances keep the
// schema they were validated against; new loads see the updated one.
func (s *Scheduler) ReloadPlugins(dir string) (int, error) {
	return ReloadPlugins(dir)
}

// Status returns a copy of the record for strategyID.
func (s *Scheduler) Status(strategyID string) (*model.StrategyRecord, error) {
	inst := s.get(strategyID)
	if inst == nil {
		return nil, fmt.Errorf("strategy: %s not loaded", strategyID)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	rec := inst.rec
	return &rec, nil
}

// List returns a snapshot of every loaded strategy record.
func (s *Scheduler) List() []model.StrategyRecord {
	s.mu.RLock()
	insts := make([]*instance, 0, len(s.instances))
	for _, inst := range s.instances {
		insts = append(insts, inst)
	}
	s.mu.RUnlock()

	out := make([]model.StrategyRecord, 0, len(insts))
	for _, inst := range insts {
		inst.mu.Lock()
		out = append(out, inst.rec)
		inst.mu.Unlock()
	}
	return out
}

func (s *Scheduler) get(strategyID string) *instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[strategyID]
}

func (s *Scheduler) transition(ctx context.Context, strategyID string, to model.StrategyStatus, guard func(from model.StrategyStatus) error) error {
	inst := s.get(strategyID)
	if inst == nil {
		return fmt.Errorf("strategy: %s not loaded", strategyID)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if err := guard(inst.rec.Status); err != nil {
		return err
	}
	inst.rec.Status = to
	if to == model.StatusRunning {
		inst.rec.LastError = ""
	}
	inst.rec.LastUpdate = time.Now()
	s.persist(ctx, inst)
	log.Printf("[strategy] %s -> %s", strategyID, to)
	return nil
}

// persist writes the record through the state store. Failures are logged;
// persistence never stalls the callback path.
func (s *Scheduler) persist(ctx context.Context, inst *instance) {
	rec := inst.rec
	if err := s.state.SaveStrategyState(ctx, &rec); err != nil {
		log.Printf("[strategy] %s: persist: %v", rec.Config.StrategyID, err)
	}
}
