// Package dhwt models a domestic hot-water tank: one or two storage
// sensors, an optional electric self-heater, feed and recycle pumps and an
// isolation valve. Each tick it derives a target storage temperature from
// the effective runmode, walks the charge cycle, and emits a heat request
// while charging.
package dhwt

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/pump"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/valve"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// clock is the engine time source, overridable in tests.
var clock = timekeep.Now

// SetClockForTest swaps the package time source and returns a restore
// function. Test support only.
func SetClockForTest(fn func() timekeep.Ticks) (restore func()) {
	orig := clock
	clock = fn
	return func() { clock = orig }
}

// ChargePrio orders concurrent DHW charges against heating circuits.
type ChargePrio string

const (
	PrioParalMax ChargePrio = "paralmax"
	PrioParalDHW ChargePrio = "paraldhw"
	PrioSlidMax  ChargePrio = "slidmax"
	PrioSlidDHW  ChargePrio = "sliddhw"
	PrioAbsolute ChargePrio = "absolute"
)

// ForceMode controls forced charges on mode transitions.
type ForceMode string

const (
	ForceNever  ForceMode = "never"
	ForceFirst  ForceMode = "first"
	ForceAlways ForceMode = "always"
)

type Params struct {
	TComfort    temp.Temp
	TEco        temp.Temp
	TFrostFree  temp.Temp
	TLegionella temp.Temp

	LimitTmin    temp.Temp
	LimitTmax    temp.Temp
	LimitWintmax temp.Temp

	Hysteresis temp.Temp

	// LimitChargetime bounds a single charge; zero disables.
	LimitChargetime timekeep.Ticks

	// TempInoffset is added to the target when requesting heat upstream.
	TempInoffset temp.Temp
}

type Config struct {
	Name    string
	RunMode model.RunMode
	Params  Params

	TidTop  hwbackend.SensorID
	HasTop  bool
	TidBot  hwbackend.SensorID
	HasBot  bool
	TidWin  hwbackend.SensorID
	HasWin  bool
	TidWout hwbackend.SensorID
	HasWout bool

	RidSelfheater hwbackend.RelayID
	HasSelfheater bool

	CPrio     ChargePrio
	Force     ForceMode
	ElectricFailover bool

	AntiLegionella    bool
	LegionellaIntvl   timekeep.Ticks
	LegionellaRecycle bool
}

type Tank struct {
	cfg     Config
	reg     *hwbackend.Registry
	feed    *pump.Pump
	recycle *pump.Pump
	isol    *valve.Valve

	configured bool
	online     bool

	charging    bool
	chargeStart timekeep.Ticks
	electric    bool

	legionella     bool
	lastLegionella timekeep.Ticks
	legionellaDone bool

	prevTarget temp.Temp
	forcedOnce bool
}

func New(cfg Config, reg *hwbackend.Registry, feed, recycle *pump.Pump, isol *valve.Valve) (*Tank, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("dhwt needs a name: %w", errs.ErrMisconfigured)
	}
	if !cfg.HasTop && !cfg.HasBot {
		return nil, fmt.Errorf("dhwt %q: at least one storage sensor required: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.Params.LimitTmin >= cfg.Params.LimitTmax {
		return nil, fmt.Errorf("dhwt %q: storage limits inverted: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.Params.Hysteresis <= 0 {
		return nil, fmt.Errorf("dhwt %q: hysteresis must be positive: %w", cfg.Name, errs.ErrMisconfigured)
	}
	switch cfg.CPrio {
	case PrioParalMax, PrioParalDHW, PrioSlidMax, PrioSlidDHW, PrioAbsolute:
	case "":
		cfg.CPrio = PrioParalMax
	default:
		return nil, fmt.Errorf("dhwt %q: unknown charge priority %q: %w", cfg.Name, cfg.CPrio, errs.ErrMisconfigured)
	}
	switch cfg.Force {
	case ForceNever, ForceFirst, ForceAlways:
	case "":
		cfg.Force = ForceNever
	default:
		return nil, fmt.Errorf("dhwt %q: unknown force mode %q: %w", cfg.Name, cfg.Force, errs.ErrMisconfigured)
	}
	if cfg.AntiLegionella {
		if cfg.Params.TLegionella <= 0 {
			return nil, fmt.Errorf("dhwt %q: anti-legionella needs t_legionella: %w", cfg.Name, errs.ErrMisconfigured)
		}
		if cfg.LegionellaIntvl <= 0 {
			cfg.LegionellaIntvl = 7 * timekeep.Day
		}
	}
	if cfg.ElectricFailover && !cfg.HasSelfheater {
		return nil, fmt.Errorf("dhwt %q: electric failover needs rid_selfheater: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if isol != nil && isol.Kind() != valve.KindIsolation {
		return nil, fmt.Errorf("dhwt %q: hwisol valve is not an isolation valve: %w", cfg.Name, errs.ErrMisconfigured)
	}
	return &Tank{cfg: cfg, reg: reg, feed: feed, recycle: recycle, isol: isol, configured: true}, nil
}

func (t *Tank) Name() string { return t.cfg.Name }

// RunModeCfg reports the configured (not effective) runmode.
func (t *Tank) RunModeCfg() model.RunMode { return t.cfg.RunMode }

// CPrio exposes the configured charge priority to the plant aggregator.
func (t *Tank) CPrio() ChargePrio { return t.cfg.CPrio }

// Feed, Recycle and Isol expose the shared actuators to the plant phases.
func (t *Tank) Feed() *pump.Pump     { return t.feed }
func (t *Tank) Recycle() *pump.Pump  { return t.recycle }
func (t *Tank) Isol() *valve.Valve   { return t.isol }

// Charging reports whether a charge cycle is in progress.
func (t *Tank) Charging() bool { return t.charging }

// Electric reports whether the tank has failed over to its self-heater.
func (t *Tank) Electric() bool { return t.electric }

func (t *Tank) Online() error {
	if !t.configured {
		return errs.ErrNotConfigured
	}
	for _, s := range []struct {
		has bool
		sid hwbackend.SensorID
		tag string
	}{
		{t.cfg.HasTop, t.cfg.TidTop, "top"},
		{t.cfg.HasBot, t.cfg.TidBot, "bottom"},
		{t.cfg.HasWin, t.cfg.TidWin, "water-in"},
		{t.cfg.HasWout, t.cfg.TidWout, "water-out"},
	} {
		if !s.has {
			continue
		}
		if _, err := t.reg.CloneTime(s.sid); err != nil {
			return fmt.Errorf("dhwt %q %s sensor: %w", t.cfg.Name, s.tag, err)
		}
	}
	if t.cfg.HasSelfheater {
		if _, err := t.reg.State(t.cfg.RidSelfheater); err != nil {
			return fmt.Errorf("dhwt %q selfheater relay: %w", t.cfg.Name, err)
		}
	}
	t.online = true
	t.electric = false
	t.legionella = false
	t.forcedOnce = false
	t.prevTarget = 0
	return nil
}

// target derives the storage setpoint for a runmode. ok is false when the
// tank is out of service.
func (t *Tank) target(mode model.RunMode) (temp.Temp, bool) {
	var set temp.Temp
	switch mode {
	case model.RunComfort, model.RunDHWOnly, model.RunTest:
		set = t.cfg.Params.TComfort
	case model.RunEco:
		set = t.cfg.Params.TEco
	case model.RunFrostFree:
		set = t.cfg.Params.TFrostFree
	default:
		return 0, false
	}
	return set, true
}

// Run advances the tank one tick. demand is the heat request while a
// hydronic charge is running; charging reports an active charge cycle.
func (t *Tank) Run(mode model.RunMode) (demand temp.Temp, charging bool, err error) {
	if !t.online {
		return 0, false, errs.ErrOffline
	}
	now := clock()

	set, inService := t.target(mode)
	if !inService {
		return 0, false, t.shutdownTick()
	}

	// legionella cycle preempts the mode target at most once per interval
	if t.cfg.AntiLegionella && !t.legionella &&
		(!t.legionellaDone || now-t.lastLegionella >= t.cfg.LegionellaIntvl) {
		t.legionella = true
		log.Info().Str("dhwt", t.cfg.Name).Msg("anti-legionella cycle starting")
	}
	if t.legionella {
		set = t.cfg.Params.TLegionella
	}

	set = temp.Clamp(set, t.cfg.Params.LimitTmin, t.cfg.Params.LimitTmax)

	// a cold feed cannot push storage past wintmax
	if t.cfg.HasWin && t.cfg.Params.LimitWintmax > 0 && !t.legionella {
		if win, werr := t.reg.CloneTemp(t.cfg.TidWin); werr == nil && win < set {
			set = temp.Min(set, t.cfg.Params.LimitWintmax)
		}
	}

	// charge start reference prefers the top sensor, end reference the
	// bottom one: the tank is full when the coldest layer is at target
	startRef, err := t.storageTemp(t.cfg.HasTop, t.cfg.TidTop, t.cfg.HasBot, t.cfg.TidBot)
	if err != nil {
		return 0, false, t.sensorFault(err)
	}
	endRef, err := t.storageTemp(t.cfg.HasBot, t.cfg.TidBot, t.cfg.HasTop, t.cfg.TidTop)
	if err != nil {
		return 0, false, t.sensorFault(err)
	}

	// forced charge on an upward mode transition
	force := false
	if t.prevTarget != 0 && set > t.prevTarget {
		switch t.cfg.Force {
		case ForceAlways:
			force = true
		case ForceFirst:
			if !t.forcedOnce {
				force = true
				t.forcedOnce = true
			}
		}
	}
	t.prevTarget = set

	if !t.charging {
		if startRef < set-t.cfg.Params.Hysteresis || (force && startRef < set) {
			t.charging = true
			t.electric = false
			t.chargeStart = now
			log.Info().
				Str("dhwt", t.cfg.Name).
				Float64("storage", startRef.Celsius()).
				Float64("target", set.Celsius()).
				Bool("forced", force).
				Msg("charge cycle starting")
		}
	} else if endRef >= set {
		t.charging = false
		t.electric = false
		if t.legionella {
			t.legionella = false
			t.lastLegionella = now
			t.legionellaDone = true
			log.Info().Str("dhwt", t.cfg.Name).Msg("anti-legionella cycle complete")
		}
		log.Info().Str("dhwt", t.cfg.Name).Float64("storage", endRef.Celsius()).Msg("charge cycle complete")
	}

	// overlong hydronic charge fails over to the electric heater
	if t.charging && !t.electric &&
		t.cfg.Params.LimitChargetime > 0 && now-t.chargeStart > t.cfg.Params.LimitChargetime {
		if t.cfg.ElectricFailover {
			t.electric = true
			log.Warn().Str("dhwt", t.cfg.Name).Msg("charge time limit exceeded, electric failover")
		}
	}

	if err := t.driveActuators(); err != nil {
		return 0, false, err
	}

	if t.charging && !t.electric {
		return set + t.cfg.Params.TempInoffset, true, nil
	}
	return 0, t.charging, nil
}

// storageTemp reads the preferred sensor, falling back to the alternate.
func (t *Tank) storageTemp(hasPref bool, pref hwbackend.SensorID, hasAlt bool, alt hwbackend.SensorID) (temp.Temp, error) {
	if hasPref {
		return t.reg.CloneTemp(pref)
	}
	if hasAlt {
		return t.reg.CloneTemp(alt)
	}
	return 0, errs.ErrNotConfigured
}

// driveActuators programs pumps, isolation valve and self-heater for the
// current charge state.
func (t *Tank) driveActuators() error {
	hydronic := t.charging && !t.electric
	if t.feed != nil {
		if err := t.feed.RequestOn(hydronic); err != nil {
			return err
		}
	}
	if t.isol != nil {
		if err := t.isol.RequestIsol(hydronic); err != nil && err != errs.ErrDeadband {
			return err
		}
	}
	if t.recycle != nil {
		on := t.legionella && t.cfg.LegionellaRecycle
		if err := t.recycle.RequestOn(on); err != nil {
			return err
		}
	}
	if t.cfg.HasSelfheater {
		if err := t.reg.SetState(t.cfg.RidSelfheater, t.electric, 0); err != nil {
			return fmt.Errorf("dhwt %q selfheater: %w", t.cfg.Name, err)
		}
	}
	return nil
}

// sensorFault drives the tank safe on a storage sensor failure: charge
// aborted, heater off, pumps released.
func (t *Tank) sensorFault(err error) error {
	t.charging = false
	t.electric = false
	if derr := t.driveActuators(); derr != nil {
		log.Error().Str("dhwt", t.cfg.Name).Err(derr).Msg("drive safe after sensor fault")
	}
	return fmt.Errorf("dhwt %q: %w", t.cfg.Name, err)
}

func (t *Tank) shutdownTick() error {
	t.charging = false
	t.electric = false
	t.legionella = false
	return t.driveActuators()
}

func (t *Tank) Offline() error {
	if !t.configured {
		return errs.ErrNotConfigured
	}
	t.charging = false
	t.electric = false
	t.legionella = false
	t.online = false
	return nil
}

// LastLegionella exposes the last completed cycle instant for persistence.
func (t *Tank) LastLegionella() timekeep.Ticks { return t.lastLegionella }

// RestoreLastLegionella reinstates a persisted cycle instant. A zero
// instant counts as no cycle on record.
func (t *Tank) RestoreLastLegionella(at timekeep.Ticks) {
	t.lastLegionella = at
	t.legionellaDone = at != 0
}

// RestoreCharging reinstates a persisted charge-in-progress flag before
// Online. The charge timer restarts from now: the monotonic clock does
// not survive the process, so the old start instant is meaningless here.
func (t *Tank) RestoreCharging(charging bool) {
	t.charging = charging
	if charging {
		t.chargeStart = clock()
	}
}
