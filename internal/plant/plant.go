// Package plant owns every entity of the heating plant and runs the
// periodic control tick. Entities are created through the plant so name
// uniqueness holds per kind; cross-references resolve to owning pointers
// at configuration end and the entity set is frozen at Online.
package plant

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/bmodel"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/dhwt"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/hcircuit"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/heatsource"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/pump"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/valve"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// clock is the engine time source, overridable in tests.
var clock = timekeep.Now

type Config struct {
	StartupSysMode model.SystemMode
	// AutoRunMode substitutes for the scheduler when the plant runs in
	// auto: entities configured auto follow it.
	AutoRunMode  model.RunMode
	TickInterval timekeep.Ticks

	SummerMaintenance bool
	SummerRunIntvl    timekeep.Ticks
	SummerRunDuration timekeep.Ticks
}

type Plant struct {
	cfg Config
	reg *hwbackend.Registry

	pumps    []*pump.Pump
	valves   []*valve.Valve
	bmodels  []*bmodel.Model
	dhwts    []*dhwt.Tank
	circuits []*hcircuit.Circuit
	sources  []*heatsource.Boiler

	// consumer -> heatsource binding, by source index
	circuitSource map[*hcircuit.Circuit]int
	dhwtSource    map[*dhwt.Tank]int

	mu      sync.Mutex
	sysMode model.SystemMode

	online bool

	lastSummerRun  timekeep.Ticks
	summerRunUntil timekeep.Ticks
}

func New(cfg Config) (*Plant, error) {
	if cfg.StartupSysMode == "" {
		return nil, fmt.Errorf("plant needs a startup system mode: %w", errs.ErrMisconfigured)
	}
	if cfg.AutoRunMode == "" || cfg.AutoRunMode == model.RunAuto {
		cfg.AutoRunMode = model.RunComfort
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = timekeep.Second
	}
	if cfg.SummerMaintenance {
		if cfg.SummerRunIntvl <= 0 || cfg.SummerRunDuration <= 0 {
			return nil, fmt.Errorf("summer maintenance needs interval and duration: %w", errs.ErrMisconfigured)
		}
	}
	return &Plant{
		cfg:           cfg,
		reg:           hwbackend.NewRegistry(),
		circuitSource: make(map[*hcircuit.Circuit]int),
		dhwtSource:    make(map[*dhwt.Tank]int),
		sysMode:       cfg.StartupSysMode,
	}, nil
}

// Registry exposes the backend registry for backend registration and
// reference resolution during configuration.
func (p *Plant) Registry() *hwbackend.Registry { return p.reg }

// TickInterval reports the configured tick cadence.
func (p *Plant) TickInterval() timekeep.Ticks { return p.cfg.TickInterval }

// SetSysMode changes the global operating mode.
func (p *Plant) SetSysMode(m model.SystemMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sysMode != m {
		log.Info().Str("from", string(p.sysMode)).Str("to", string(m)).Msg("system mode change")
		p.sysMode = m
	}
}

// SysMode reads the global operating mode.
func (p *Plant) SysMode() model.SystemMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sysMode
}

func (p *Plant) frozen(kind string) error {
	if p.online {
		return fmt.Errorf("%s: plant already online: %w", kind, errs.ErrInvalid)
	}
	return nil
}

// CreatePump constructs a pump owned by the plant.
func (p *Plant) CreatePump(cfg pump.Config) (*pump.Pump, error) {
	if err := p.frozen("pump"); err != nil {
		return nil, err
	}
	if p.FindPump(cfg.Name) != nil {
		return nil, fmt.Errorf("pump %q: %w", cfg.Name, errs.ErrExists)
	}
	pm, err := pump.New(cfg, p.reg)
	if err != nil {
		return nil, err
	}
	p.pumps = append(p.pumps, pm)
	return pm, nil
}

// CreateValve constructs a valve owned by the plant.
func (p *Plant) CreateValve(cfg valve.Config) (*valve.Valve, error) {
	if err := p.frozen("valve"); err != nil {
		return nil, err
	}
	if p.FindValve(cfg.Name) != nil {
		return nil, fmt.Errorf("valve %q: %w", cfg.Name, errs.ErrExists)
	}
	v, err := valve.New(cfg, p.reg)
	if err != nil {
		return nil, err
	}
	p.valves = append(p.valves, v)
	return v, nil
}

// CreateBmodel constructs a building model owned by the plant.
func (p *Plant) CreateBmodel(cfg bmodel.Config) (*bmodel.Model, error) {
	if err := p.frozen("bmodel"); err != nil {
		return nil, err
	}
	if p.FindBmodel(cfg.Name) != nil {
		return nil, fmt.Errorf("bmodel %q: %w", cfg.Name, errs.ErrExists)
	}
	m, err := bmodel.New(cfg, p.reg)
	if err != nil {
		return nil, err
	}
	p.bmodels = append(p.bmodels, m)
	return m, nil
}

// CreateDHWT constructs a tank, resolving actuators by owning pointer.
func (p *Plant) CreateDHWT(cfg dhwt.Config, feed, recycle *pump.Pump, isol *valve.Valve, sourceName string) (*dhwt.Tank, error) {
	if err := p.frozen("dhwt"); err != nil {
		return nil, err
	}
	if p.FindDHWT(cfg.Name) != nil {
		return nil, fmt.Errorf("dhwt %q: %w", cfg.Name, errs.ErrExists)
	}
	t, err := dhwt.New(cfg, p.reg, feed, recycle, isol)
	if err != nil {
		return nil, err
	}
	p.dhwts = append(p.dhwts, t)
	p.dhwtSource[t] = p.sourceIndexFor(sourceName)
	return t, nil
}

// CreateHCircuit constructs a circuit, resolving actuators by owning pointer.
func (p *Plant) CreateHCircuit(cfg hcircuit.Config, feed *pump.Pump, mix *valve.Valve, bm *bmodel.Model, sourceName string) (*hcircuit.Circuit, error) {
	if err := p.frozen("hcircuit"); err != nil {
		return nil, err
	}
	if p.FindHCircuit(cfg.Name) != nil {
		return nil, fmt.Errorf("hcircuit %q: %w", cfg.Name, errs.ErrExists)
	}
	c, err := hcircuit.New(cfg, p.reg, feed, mix, bm)
	if err != nil {
		return nil, err
	}
	p.circuits = append(p.circuits, c)
	p.circuitSource[c] = p.sourceIndexFor(sourceName)
	return c, nil
}

// CreateBoiler constructs a boiler heat source.
func (p *Plant) CreateBoiler(cfg heatsource.Config, load *pump.Pump, ret *valve.Valve) (*heatsource.Boiler, error) {
	if err := p.frozen("heatsource"); err != nil {
		return nil, err
	}
	if p.FindBoiler(cfg.Name) != nil {
		return nil, fmt.Errorf("heatsource %q: %w", cfg.Name, errs.ErrExists)
	}
	b, err := heatsource.New(cfg, p.reg, load, ret)
	if err != nil {
		return nil, err
	}
	p.sources = append(p.sources, b)
	return b, nil
}

// sourceIndexFor maps a heat source name to its index at resolution time.
// An empty name binds to source 0, the single-source common case; a
// dangling name is caught by ResolveReferences.
func (p *Plant) sourceIndexFor(name string) int {
	if name == "" {
		return 0
	}
	for i, s := range p.sources {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

// ResolveReferences verifies every consumer found its heat source. The
// config layer creates sources before consumers, so by the time this runs
// every valid name has an index.
func (p *Plant) ResolveReferences() error {
	if len(p.sources) == 0 && (len(p.circuits) > 0 || len(p.dhwts) > 0) {
		return fmt.Errorf("consumers configured without a heat source: %w", errs.ErrMisconfigured)
	}
	for c, idx := range p.circuitSource {
		if idx < 0 || idx >= len(p.sources) {
			return fmt.Errorf("hcircuit %q: heat source reference: %w", c.Name(), errs.ErrNotFound)
		}
	}
	for t, idx := range p.dhwtSource {
		if idx < 0 || idx >= len(p.sources) {
			return fmt.Errorf("dhwt %q: heat source reference: %w", t.Name(), errs.ErrNotFound)
		}
	}
	return nil
}

// Find helpers, used by the config layer to resolve quoted-name references.

func (p *Plant) FindPump(name string) *pump.Pump {
	for _, pm := range p.pumps {
		if pm.Name() == name {
			return pm
		}
	}
	return nil
}

func (p *Plant) FindValve(name string) *valve.Valve {
	for _, v := range p.valves {
		if v.Name() == name {
			return v
		}
	}
	return nil
}

func (p *Plant) FindBmodel(name string) *bmodel.Model {
	for _, m := range p.bmodels {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

func (p *Plant) FindDHWT(name string) *dhwt.Tank {
	for _, t := range p.dhwts {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

func (p *Plant) FindHCircuit(name string) *hcircuit.Circuit {
	for _, c := range p.circuits {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (p *Plant) FindBoiler(name string) *heatsource.Boiler {
	for _, b := range p.sources {
		if b.Name() == name {
			return b
		}
	}
	return nil
}

// Online brings the whole plant up, leaves first. Any failure aborts and
// leaves the plant offline.
func (p *Plant) Online() error {
	if err := p.ResolveReferences(); err != nil {
		return err
	}
	if err := p.reg.Online(); err != nil {
		return err
	}
	for _, pm := range p.pumps {
		if err := pm.Online(); err != nil {
			return err
		}
	}
	for _, v := range p.valves {
		if err := v.Online(); err != nil {
			return err
		}
	}
	for _, m := range p.bmodels {
		if err := m.Online(); err != nil {
			return err
		}
	}
	for _, t := range p.dhwts {
		if err := t.Online(); err != nil {
			return err
		}
	}
	for _, c := range p.circuits {
		if err := c.Online(); err != nil {
			return err
		}
	}
	for _, b := range p.sources {
		if err := b.Online(); err != nil {
			return err
		}
	}
	p.online = true
	log.Info().
		Int("pumps", len(p.pumps)).
		Int("valves", len(p.valves)).
		Int("dhwts", len(p.dhwts)).
		Int("hcircuits", len(p.circuits)).
		Int("heatsources", len(p.sources)).
		Msg("plant online")
	return nil
}

// Offline drives every relay safe and takes the plant down. It always
// runs to completion; the first error is returned.
func (p *Plant) Offline() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, b := range p.sources {
		keep(b.Offline())
	}
	for _, c := range p.circuits {
		keep(c.Offline())
	}
	for _, t := range p.dhwts {
		keep(t.Offline())
	}
	for _, m := range p.bmodels {
		keep(m.Offline())
	}
	for _, v := range p.valves {
		keep(v.Offline())
	}
	for _, pm := range p.pumps {
		keep(pm.Offline())
	}
	keep(p.reg.Offline())
	p.online = false
	log.Info().Msg("plant offline")
	return first
}
