// Package heatsource models staged on/off heat sources. The boiler
// variant consumes the aggregate heat request of its consumers and drives
// one or two burner stages through symmetric hysteresis, with anti-freeze,
// hard-limit and return-temperature protection.
package heatsource

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

// IdleMode governs the boiler when no consumer requests heat.
type IdleMode string

const (
	// IdleNever keeps the boiler at its minimum temperature at all times.
	IdleNever IdleMode = "never"
	// IdleFrostOnly maintains minimum temperature only while the plant
	// runs in auto, comfort or frost-free system mode.
	IdleFrostOnly IdleMode = "frostonly"
	// IdleAlways lets the boiler go cold when nothing requests heat.
	IdleAlways IdleMode = "always"
)

// ParseIdleMode validates a config string.
func ParseIdleMode(s string) (IdleMode, error) {
	switch m := IdleMode(s); m {
	case IdleNever, IdleFrostOnly, IdleAlways:
		return m, nil
	}
	return "", fmt.Errorf("idle mode %q: %w", s, errs.ErrInvalid)
}

type Config struct {
	Name string
	Idle IdleMode

	Hysteresis     temp.Temp
	LimitTmin      temp.Temp
	LimitTmax      temp.Temp
	LimitThardmax  temp.Temp
	LimitTreturnmin temp.Temp
	TFreeze        temp.Temp
	BurnerMinTime  timekeep.Ticks

	TidBoiler       hwbackend.SensorID
	TidBoilerReturn hwbackend.SensorID
	HasReturn       bool

	RidBurner1 hwbackend.RelayID
	RidBurner2 hwbackend.RelayID
	HasBurner2 bool
}

// Status is the per-tick outcome the plant reacts to.
type Status struct {
	Target     temp.Temp
	Burner1    bool
	Burner2    bool
	Antifreeze bool
	// Dump asks consumers to absorb excess heat: the hard limit tripped
	// or the boiler sensor failed.
	Dump bool
}

type Boiler struct {
	cfg  Config
	reg  *hwbackend.Registry
	load *pump.Pump
	ret  *valve.Valve

	configured bool
	online     bool

	burner1On  bool
	burner2On  bool
	antifreeze bool

	retTarget  temp.Temp
	retControl bool

	status Status
}

func New(cfg Config, reg *hwbackend.Registry, load *pump.Pump, ret *valve.Valve) (*Boiler, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("heatsource needs a name: %w", errs.ErrMisconfigured)
	}
	switch cfg.Idle {
	case IdleNever, IdleFrostOnly, IdleAlways:
	case "":
		cfg.Idle = IdleNever
	default:
		return nil, fmt.Errorf("boiler %q: unknown idle mode %q: %w", cfg.Name, cfg.Idle, errs.ErrMisconfigured)
	}
	if cfg.Hysteresis <= 0 {
		return nil, fmt.Errorf("boiler %q: hysteresis must be positive: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.TFreeze <= 0 {
		return nil, fmt.Errorf("boiler %q: t_freeze must be positive: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.LimitTmax > cfg.LimitThardmax-2*temp.Kelvin {
		return nil, fmt.Errorf("boiler %q: limit_tmax must stay 2K under limit_thardmax: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.LimitTmin >= cfg.LimitTmax {
		return nil, fmt.Errorf("boiler %q: temperature limits inverted: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.LimitTreturnmin > 0 && !cfg.HasReturn {
		return nil, fmt.Errorf("boiler %q: return protection needs tid_boiler_return: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if ret != nil && ret.Kind() != valve.KindMixing {
		return nil, fmt.Errorf("boiler %q: return valve is not a mixing valve: %w", cfg.Name, errs.ErrMisconfigured)
	}
	return &Boiler{cfg: cfg, reg: reg, load: load, ret: ret, configured: true}, nil
}

func (b *Boiler) Name() string { return b.cfg.Name }

// LoadPump and RetValve expose the boiler's actuators to the plant phases.
func (b *Boiler) LoadPump() *pump.Pump  { return b.load }
func (b *Boiler) RetValve() *valve.Valve { return b.ret }

// RetTarget reports the return-valve control target for this tick.
func (b *Boiler) RetTarget() (temp.Temp, bool) { return b.retTarget, b.retControl }

// Status returns the last tick's outcome.
func (b *Boiler) Status() Status { return b.status }

func (b *Boiler) Online() error {
	if !b.configured {
		return errs.ErrNotConfigured
	}
	if _, err := b.reg.CloneTime(b.cfg.TidBoiler); err != nil {
		return fmt.Errorf("boiler %q sensor: %w", b.cfg.Name, err)
	}
	if b.cfg.HasReturn {
		if _, err := b.reg.CloneTime(b.cfg.TidBoilerReturn); err != nil {
			return fmt.Errorf("boiler %q return sensor: %w", b.cfg.Name, err)
		}
	}
	if _, err := b.reg.State(b.cfg.RidBurner1); err != nil {
		return fmt.Errorf("boiler %q burner 1 relay: %w", b.cfg.Name, err)
	}
	if b.cfg.HasBurner2 {
		if _, err := b.reg.State(b.cfg.RidBurner2); err != nil {
			return fmt.Errorf("boiler %q burner 2 relay: %w", b.cfg.Name, err)
		}
	}
	b.online = true
	b.burner1On = false
	b.burner2On = false
	return nil
}

// idleTarget is the setpoint with no consumer demand.
func (b *Boiler) idleTarget(sys model.SystemMode) (temp.Temp, bool) {
	switch b.cfg.Idle {
	case IdleAlways:
		return 0, false
	case IdleFrostOnly:
		switch sys {
		case model.SysAuto, model.SysComfort, model.SysFrostFree:
			return b.cfg.LimitTmin, true
		}
		return 0, false
	}
	return b.cfg.LimitTmin, true
}

// Run drives the burners for this tick. demand is the aggregate consumer
// request (valid when active), sys the plant mode.
func (b *Boiler) Run(demand temp.Temp, active bool, sys model.SystemMode) (Status, error) {
	if !b.online {
		return Status{}, errs.ErrOffline
	}

	tboiler, err := b.reg.CloneTemp(b.cfg.TidBoiler)
	if err != nil {
		// without the boiler sensor assume the worst: burners off, load
		// pump on, consumers asked to dump
		st := Status{Dump: true}
		b.applyBurners(false, false)
		b.status = st
		if b.load != nil {
			if perr := b.load.RequestOn(true); perr != nil {
				return st, perr
			}
		}
		return st, fmt.Errorf("boiler %q sensor: %w", b.cfg.Name, err)
	}

	// anti-freeze trumps everything else
	if !b.antifreeze && tboiler < b.cfg.TFreeze {
		b.antifreeze = true
		log.Warn().Str("boiler", b.cfg.Name).Float64("temp", tboiler.Celsius()).Msg("anti-freeze engaged")
	} else if b.antifreeze && tboiler > b.cfg.TFreeze+b.cfg.Hysteresis {
		b.antifreeze = false
		log.Info().Str("boiler", b.cfg.Name).Float64("temp", tboiler.Celsius()).Msg("anti-freeze released")
	}

	var target temp.Temp
	fire := false
	switch {
	case b.antifreeze:
		target = b.cfg.LimitTmin
		fire = true
	case active:
		target = temp.Clamp(demand, b.cfg.LimitTmin, b.cfg.LimitTmax)
		fire = true
	default:
		target, fire = b.idleTarget(sys)
	}

	st := Status{Target: target, Antifreeze: b.antifreeze}

	// hard limit: everything off, dump heat through the consumers
	if tboiler >= b.cfg.LimitThardmax {
		log.Error().Str("boiler", b.cfg.Name).Float64("temp", tboiler.Celsius()).Msg("hard temperature limit reached")
		st.Dump = true
		b.applyBurners(false, false)
		b.status = st
		if b.load != nil {
			if perr := b.load.RequestOn(true); perr != nil {
				return st, perr
			}
		}
		b.retControl = false
		return st, nil
	}

	h := b.cfg.Hysteresis / 2
	if fire {
		// stage 1 two-position comparator around target
		if !b.burner1On && tboiler < target-h {
			b.burner1On = true
		} else if b.burner1On && tboiler > target+h {
			b.burner1On = false
		}
		// stage 2 trails a full band below stage 1
		if b.cfg.HasBurner2 {
			if !b.burner2On && tboiler < target-h-b.cfg.Hysteresis {
				b.burner2On = true
			} else if b.burner2On && tboiler > target+h-b.cfg.Hysteresis {
				b.burner2On = false
			}
			// stage order: 2 never burns without 1
			if !b.burner1On {
				b.burner2On = false
			}
		}
		if b.antifreeze {
			b.burner1On = true
		}
	} else {
		b.burner1On = false
		b.burner2On = false
	}
	b.applyBurners(b.burner1On, b.burner2On)
	st.Burner1 = b.burner1On
	st.Burner2 = b.burner2On

	// the load pump circulates whenever the boiler serves or protects
	if b.load != nil {
		if perr := b.load.RequestOn(fire || b.burner1On); perr != nil {
			return st, perr
		}
	}

	// return protection mixes the return up to its floor
	b.retControl = false
	if b.cfg.LimitTreturnmin > 0 && b.ret != nil {
		if tret, rerr := b.reg.CloneTemp(b.cfg.TidBoilerReturn); rerr == nil {
			if tret < b.cfg.LimitTreturnmin {
				b.retTarget = b.cfg.LimitTreturnmin
				b.retControl = true
				if b.load != nil {
					if perr := b.load.RequestOn(true); perr != nil {
						return st, perr
					}
				}
			}
		} else {
			log.Warn().Str("boiler", b.cfg.Name).Err(rerr).Msg("return sensor failed, protection suspended")
		}
	}

	b.status = st
	return st, nil
}

// applyBurners pushes burner requests to the relays. The burner minimum
// state time rides on the relay commit as its change delay, so staging
// cannot short-cycle regardless of what the comparator asks.
func (b *Boiler) applyBurners(on1, on2 bool) {
	if err := b.reg.SetState(b.cfg.RidBurner1, on1, b.cfg.BurnerMinTime); err != nil {
		log.Error().Str("boiler", b.cfg.Name).Err(err).Msg("burner 1 relay")
	}
	if b.cfg.HasBurner2 {
		if err := b.reg.SetState(b.cfg.RidBurner2, on2, b.cfg.BurnerMinTime); err != nil {
			log.Error().Str("boiler", b.cfg.Name).Err(err).Msg("burner 2 relay")
		}
	}
}

func (b *Boiler) Offline() error {
	if !b.configured {
		return errs.ErrNotConfigured
	}
	if b.online {
		b.applyBurners(false, false)
	}
	b.burner1On = false
	b.burner2On = false
	b.antifreeze = false
	b.retControl = false
	b.online = false
	return nil
}

// Antifreeze exposes the protection flag for persistence and telemetry.
func (b *Boiler) Antifreeze() bool { return b.antifreeze }

// RestoreAntifreeze reinstates a persisted protection flag before Online.
// A boiler that went down protecting itself comes back protecting itself;
// the comparator re-evaluates against the sensor on the first tick.
func (b *Boiler) RestoreAntifreeze(on bool) {
	b.antifreeze = on
}

// Temp reads the snapshotted boiler temperature, for the plant's charge
// prioritisation.
func (b *Boiler) Temp() (temp.Temp, error) {
	if !b.online {
		return 0, errs.ErrOffline
	}
	return b.reg.CloneTemp(b.cfg.TidBoiler)
}

// ForceOff drops both burners, bypassing the comparator. Used by the
// plant's manual mode.
func (b *Boiler) ForceOff() {
	if !b.online {
		return
	}
	b.burner1On = false
	b.burner2On = false
	b.applyBurners(false, false)
	b.status = Status{}
}
