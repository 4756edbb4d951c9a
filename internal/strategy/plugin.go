// Package strategy runs user strategies against the assembled market view.
// Plugins implement the callback contract; the scheduler owns lifecycle,
// serialization, fault isolation, and state persistence.
package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stratcore/internal/model"
	"stratcore/internal/mtf"
)

// Plugin is the strategy callback contract. Implementations return order
// intents; the scheduler validates, enriches, and publishes them. Callbacks
// on one instance are never invoked concurrently. A non-nil error from a
// callback moves the strategy to error status, same as a panic.
type Plugin interface {
	// Initialize is called once after construction with the validated config.
	Initialize(cfg model.StrategyConfig) error

	// OnTick is called for each tick on a subscribed symbol with the current
	// market view.
	OnTick(tick model.Tick, data *model.MultiTimeframeData) ([]model.Signal, error)

	// OnCandleComplete is called once per completed candle on a subscribed
	// (symbol, timeframe).
	OnCandleComplete(c model.Candle, data *model.MultiTimeframeData) ([]model.Signal, error)

	// Cleanup is called on stop. The instance is never used afterwards.
	Cleanup()

	// GetState returns the serializable custom state. The scheduler persists
	// it after every callback.
	GetState() map[string]any

	// SetState restores previously persisted custom state before the first
	// callback. SetState(GetState()) must be a no-op.
	SetState(state map[string]any)
}

// IndicatorProvider is optionally implemented by plugins that want indicators
// attached to their market view.
type IndicatorProvider interface {
	Indicators() []mtf.IndicatorReq
}

// ParamSpec declares one manifest parameter.
type ParamSpec struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "integer", "float", "string", "boolean"
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Required bool     `json:"required"`
	Default  any      `json:"default,omitempty"`
}

// Manifest describes a plugin: identity plus its parameter schema.
type Manifest struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Description string      `json:"description,omitempty"`
	Params      []ParamSpec `json:"params"`
}

// Constructor builds a fresh plugin instance.
type Constructor func() Plugin

type pluginEntry struct {
	manifest Manifest
	ctor     Constructor
}

var (
	pluginMu sync.RWMutex
	plugins  = map[string]pluginEntry{}
	builtins = map[string]Manifest{} // schemas as registered, before overlays
)

// Register makes a plugin loadable by name. Built-ins register from init();
// re-registering replaces the previous entry.
func Register(m Manifest, ctor Constructor) {
	pluginMu.Lock()
	plugins[m.Name] = pluginEntry{manifest: m, ctor: ctor}
	builtins[m.Name] = m
	pluginMu.Unlock()
}

// LookupPlugin returns the manifest and constructor for name.
func LookupPlugin(name string) (Manifest, Constructor, error) {
	pluginMu.RLock()
	defer pluginMu.RUnlock()
	e, ok := plugins[name]
	if !ok {
		return Manifest{}, nil, fmt.Errorf("strategy: unknown plugin %q", name)
	}
	return e.manifest, e.ctor, nil
}

// Plugins returns the registered plugin names.
func Plugins() []string {
	pluginMu.RLock()
	defer pluginMu.RUnlock()
	out := make([]string, 0, len(plugins))
	for name := range plugins {
		out = append(out, name)
	}
	return out
}

// LoadManifests reads *.json manifest files from dir and overlays them onto
// registered plugins of the same name, so parameter schemas can be tightened
// without a rebuild. A manifest with no registered constructor is an error.
// Returns the number of manifests applied.
func LoadManifests(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("strategy: read manifest dir: %w", err)
	}

	applied := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return applied, fmt.Errorf("strategy: read manifest %s: %w", entry.Name(), err)
		}
		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return applied, fmt.Errorf("strategy: parse manifest %s: %w", entry.Name(), err)
		}
		if m.Name == "" {
			return applied, fmt.Errorf("strategy: manifest %s has no name", entry.Name())
		}

		pluginMu.Lock()
		e, ok := plugins[m.Name]
		if !ok {
			pluginMu.Unlock()
			return applied, fmt.Errorf("strategy: manifest %s names unregistered plugin %q", entry.Name(), m.Name)
		}
		e.manifest = m
		plugins[m.Name] = e
		pluginMu.Unlock()
		applied++
	}
	return applied, nil
}

// ReloadPlugins restores every plugin's registered schema and re-applies the
// manifest overlays from dir, so edited or deleted manifest files take effect
// without a restart. Running strategy instances keep the schema they were
// validated against.
func ReloadPlugins(dir string) (int, error) {
	pluginMu.Lock()
	for name, m := range builtins {
		e := plugins[name]
		e.manifest = m
		plugins[name] = e
	}
	pluginMu.Unlock()
	return LoadManifests(dir)
}

// ValidateParams checks params against the manifest schema: required
// presence, type, and range. Unknown parameters are rejected.
func (m Manifest) ValidateParams(params map[string]any) error {
	specs := make(map[string]ParamSpec, len(m.Params))
	for _, s := range m.Params {
		specs[s.Name] = s
	}

	for name := range params {
		if _, ok := specs[name]; !ok {
			return fmt.Errorf("strategy: plugin %s: unknown parameter %q", m.Name, name)
		}
	}

	for _, s := range m.Params {
		v, ok := params[s.Name]
		if !ok {
			if s.Required {
				return fmt.Errorf("strategy: plugin %s: missing required parameter %q", m.Name, s.Name)
			}
			continue
		}
		if err := s.check(v); err != nil {
			return fmt.Errorf("strategy: plugin %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s ParamSpec) check(v any) error {
	switch s.Type {
	case "integer":
		f, ok := asFloat(v)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("parameter %q must be an integer, got %v", s.Name, v)
		}
		return s.checkRange(f)
	case "float":
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("parameter %q must be a number, got %v", s.Name, v)
		}
		return s.checkRange(f)
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("parameter %q must be a string, got %v", s.Name, v)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean, got %v", s.Name, v)
		}
	default:
		return fmt.Errorf("parameter %q has unknown type %q", s.Name, s.Type)
	}
	return nil
}

func (s ParamSpec) checkRange(f float64) error {
	if s.Min != nil && f < *s.Min {
		return fmt.Errorf("parameter %q below minimum %g: %g", s.Name, *s.Min, f)
	}
	if s.Max != nil && f > *s.Max {
		return fmt.Errorf("parameter %q above maximum %g: %g", s.Name, *s.Max, f)
	}
	return nil
}

// asFloat widens the numeric types JSON decoding and Go literals produce.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// floatParam reads a numeric parameter with a default.
func floatParam(params map[string]any, name string, def float64) float64 {
	if v, ok := params[name]; ok {
		if f, ok := asFloat(v); ok {
			return f
		}
	}
	return def
}

// intParam reads an integer parameter with a default.
func intParam(params map[string]any, name string, def int) int {
	return int(floatParam(params, name, float64(def)))
}
