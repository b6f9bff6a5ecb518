// Package valve models motorised 2-way and 3-way valves driven by open
// and close relays. A mixing valve translates a target output temperature
// into timed travel pulses through one of three control algorithms; an
// isolation valve only ever travels to its end stops.
//
// Positions and courses are integer per-mille of fully open. The valve
// tracks estimated travel from commanded run time against the configured
// end-to-end time, and only trusts its estimate once the motor has been
// held against an end stop long enough to guarantee mechanical saturation.
package valve

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// MotorKind selects the motor wiring.
type MotorKind string

const (
	Motor2Way MotorKind = "2way"
	Motor3Way MotorKind = "3way"
)

// Kind separates mixing from isolation duty.
type Kind string

const (
	KindMixing    Kind = "mixing"
	KindIsolation Kind = "isolation"
)

// Algo selects the mixing control algorithm.
type Algo string

const (
	AlgoNone     Algo = "none"
	AlgoBangBang Algo = "bangbang"
	AlgoSapprox  Algo = "sapprox"
	AlgoPI       Algo = "pi"
)

// Action is the motor command.
type Action int

const (
	Stop Action = iota
	Open
	Close
)

func (a Action) String() string {
	switch a {
	case Open:
		return "open"
	case Close:
		return "close"
	}
	return "stop"
}

// maxRunx is how many full end-to-end travels the motor is held before
// the position estimate is declared true.
const maxRunx = 3

// fpdec is the fractional scale of the PI fixed-point pipeline.
const fpdec int64 = 1 << 20

// defaultDeadband is the minimum actionable course when none configured.
const defaultDeadband int16 = 2

// clock is the engine time source, overridable in tests.
var clock = timekeep.Now

// SetClockForTest swaps the package time source and returns a restore
// function. Test support only.
func SetClockForTest(fn func() timekeep.Ticks) (restore func()) {
	orig := clock
	clock = fn
	return func() { clock = orig }
}

type PIParams struct {
	SampleIntvl timekeep.Ticks
	Tu          timekeep.Ticks // process response time
	Td          timekeep.Ticks // process dead time
	TuneFactor  int            // 1 aggressive, 10 moderate, 100 conservative
	Ksmax       temp.Temp      // max observable delta for a 100% step
}

type SapproxParams struct {
	SampleIntvl timekeep.Ticks
	AmountPct   int // course per correction, percent of full travel
}

type Config struct {
	Name string
	Kind Kind
	Motor MotorKind
	Algo  Algo

	EteTime   timekeep.Ticks
	Deadband  int16     // per-mille, minimum actionable course
	Tdeadzone temp.Temp // mixing deadzone, full width
	Reverse   bool      // isolation polarity

	RidOpen  hwbackend.RelayID
	RidClose hwbackend.RelayID
	HasClose bool // 2-way spring-return valves have no close relay

	TidOut  hwbackend.SensorID
	HasOut  bool
	TidHot  hwbackend.SensorID
	HasHot  bool
	TidCold hwbackend.SensorID
	HasCold bool

	PI      PIParams
	Sapprox SapproxParams
}

type Valve struct {
	cfg Config
	reg *hwbackend.Registry

	configured bool
	online     bool

	actualPosition int32 // per-mille [0,1000]
	targetCourse   int16
	requestAction  Action
	actualAction   Action
	accOpenTime    timekeep.Ticks
	accCloseTime   timekeep.Ticks
	truePos        bool
	lastRunTime    timekeep.Ticks

	// control runtime
	ctrlReady  bool
	prevOut    temp.Temp
	dbAcc      int64
	lastSample timekeep.Ticks
	kpFixed    int64
}

func New(cfg Config, reg *hwbackend.Registry) (*Valve, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("valve needs a name: %w", errs.ErrMisconfigured)
	}
	if cfg.EteTime <= 0 {
		return nil, fmt.Errorf("valve %q: ete_time must be positive: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.Deadband <= 0 {
		cfg.Deadband = defaultDeadband
	}
	v := &Valve{cfg: cfg, reg: reg}

	switch cfg.Kind {
	case KindIsolation:
		if cfg.Algo != "" && cfg.Algo != AlgoNone {
			return nil, fmt.Errorf("valve %q: isolation valves take no algorithm: %w", cfg.Name, errs.ErrMisconfigured)
		}
		v.cfg.Algo = AlgoNone
	case KindMixing:
		switch cfg.Algo {
		case AlgoBangBang:
			if !cfg.HasOut {
				return nil, fmt.Errorf("valve %q: bangbang needs tid_out: %w", cfg.Name, errs.ErrMisconfigured)
			}
		case AlgoSapprox:
			if !cfg.HasOut {
				return nil, fmt.Errorf("valve %q: sapprox needs tid_out: %w", cfg.Name, errs.ErrMisconfigured)
			}
			if cfg.Sapprox.AmountPct < 1 || cfg.Sapprox.AmountPct > 100 {
				return nil, fmt.Errorf("valve %q: sapprox amount out of [1,100]: %w", cfg.Name, errs.ErrMisconfigured)
			}
			if cfg.Sapprox.SampleIntvl < timekeep.Second {
				return nil, fmt.Errorf("valve %q: sapprox sample interval too short: %w", cfg.Name, errs.ErrMisconfigured)
			}
		case AlgoPI:
			if !cfg.HasOut || !cfg.HasHot {
				return nil, fmt.Errorf("valve %q: pi needs tid_hot and tid_out: %w", cfg.Name, errs.ErrMisconfigured)
			}
			if !cfg.HasCold {
				log.Warn().Str("valve", cfg.Name).Msg("pi without tid_cold, low boundary estimated from Ksmax")
			}
			p := cfg.PI
			if p.Tu <= 0 || p.Td <= 0 || p.Ksmax <= 0 || p.SampleIntvl <= 0 {
				return nil, fmt.Errorf("valve %q: pi parameters must be positive: %w", cfg.Name, errs.ErrMisconfigured)
			}
			if p.TuneFactor != 1 && p.TuneFactor != 10 && p.TuneFactor != 100 {
				return nil, fmt.Errorf("valve %q: tune factor must be 1, 10 or 100: %w", cfg.Name, errs.ErrMisconfigured)
			}
			if p.SampleIntvl > p.Tu/4 {
				return nil, fmt.Errorf("valve %q: sample interval beyond Tu/4 undersamples the process: %w", cfg.Name, errs.ErrMisconfigured)
			}
			tc := p.Tu
			if 8*p.Td > tc {
				tc = 8 * p.Td
			}
			tc = tc * timekeep.Ticks(p.TuneFactor) / 10
			v.kpFixed = int64(p.Tu) * fpdec / int64(p.Td+tc)
			if v.kpFixed <= 0 {
				return nil, fmt.Errorf("valve %q: degenerate pi gain: %w", cfg.Name, errs.ErrMisconfigured)
			}
		default:
			return nil, fmt.Errorf("valve %q: mixing valve needs an algorithm: %w", cfg.Name, errs.ErrMisconfigured)
		}
	default:
		return nil, fmt.Errorf("valve %q: unknown kind %q: %w", cfg.Name, cfg.Kind, errs.ErrMisconfigured)
	}

	v.configured = true
	return v, nil
}

func (v *Valve) Name() string { return v.cfg.Name }
func (v *Valve) Kind() Kind   { return v.cfg.Kind }

// Position returns the estimated position in per-mille.
func (v *Valve) Position() int16 { return int16(v.actualPosition) }

// TruePos reports whether the position estimate is end-stop calibrated.
func (v *Valve) TruePos() bool { return v.truePos }

// RestorePosition reinstates a persisted travel estimate. Valid before
// Online only.
func (v *Valve) RestorePosition(pos int16, truePos bool) error {
	if v.online {
		return errs.ErrInvalid
	}
	if pos < 0 || pos > 1000 {
		return fmt.Errorf("position %d: %w", pos, errs.ErrInvalid)
	}
	v.actualPosition = int32(pos)
	v.truePos = truePos
	return nil
}

// Online validates sensors and relays and arms the valve.
func (v *Valve) Online() error {
	if !v.configured {
		return errs.ErrNotConfigured
	}
	if _, err := v.reg.State(v.cfg.RidOpen); err != nil {
		return fmt.Errorf("valve %q open relay: %w", v.cfg.Name, err)
	}
	if v.cfg.HasClose {
		if _, err := v.reg.State(v.cfg.RidClose); err != nil {
			return fmt.Errorf("valve %q close relay: %w", v.cfg.Name, err)
		}
	}
	for _, s := range []struct {
		has bool
		sid hwbackend.SensorID
		tag string
	}{
		{v.cfg.HasOut, v.cfg.TidOut, "out"},
		{v.cfg.HasHot, v.cfg.TidHot, "hot"},
		{v.cfg.HasCold, v.cfg.TidCold, "cold"},
	} {
		if !s.has {
			continue
		}
		if _, err := v.reg.CloneTime(s.sid); err != nil {
			return fmt.Errorf("valve %q %s sensor: %w", v.cfg.Name, s.tag, err)
		}
	}
	v.online = true
	v.requestAction = Stop
	v.actualAction = Stop
	v.targetCourse = 0
	v.accOpenTime = 0
	v.accCloseTime = 0
	v.ctrlReady = false
	v.dbAcc = 0
	v.lastSample = 0
	v.lastRunTime = clock()
	return nil
}

// RequestPth requests a relative course of |perth| per-mille, opening for
// positive perth and closing for negative. Requests below the deadband
// return ErrDeadband and change nothing.
func (v *Valve) RequestPth(perth int16) error {
	if !v.configured {
		return errs.ErrNotConfigured
	}
	if !v.online {
		return errs.ErrOffline
	}
	course := perth
	if course < 0 {
		course = -course
	}
	if course < v.cfg.Deadband {
		return errs.ErrDeadband
	}
	if course > 1000 {
		course = 1000
	}
	if perth < 0 {
		v.requestAction = Close
	} else {
		v.requestAction = Open
	}
	v.targetCourse = course
	return nil
}

// RequestStop cancels any pending course.
func (v *Valve) RequestStop() error {
	if !v.configured {
		return errs.ErrNotConfigured
	}
	if !v.online {
		return errs.ErrOffline
	}
	v.requestAction = Stop
	v.targetCourse = 0
	return nil
}

// RequestOpenFull and RequestCloseFull drive to the end stops.
func (v *Valve) RequestOpenFull() error  { return v.RequestPth(1000) }
func (v *Valve) RequestCloseFull() error { return v.RequestPth(-1000) }

// RequestIsol drives an isolation valve open or closed, honouring the
// reverse polarity flag.
func (v *Valve) RequestIsol(open bool) error {
	if v.cfg.Kind != KindIsolation {
		return fmt.Errorf("valve %q is not an isolation valve: %w", v.cfg.Name, errs.ErrInvalid)
	}
	if v.cfg.Reverse {
		open = !open
	}
	if open {
		return v.RequestOpenFull()
	}
	return v.RequestCloseFull()
}

// Logic enforces travel sanity between control and run: a motor held in
// one direction for maxRunx end-to-end times must be at the stop, so the
// estimate snaps there, becomes trusted, and the motor is released.
// Further requests toward a trusted end stop collapse to Stop.
func (v *Valve) Logic() error {
	if !v.online {
		return errs.ErrOffline
	}
	limit := timekeep.Ticks(maxRunx) * v.cfg.EteTime
	if v.requestAction == Open && v.accOpenTime >= limit {
		v.actualPosition = 1000
		v.truePos = true
		return v.RequestStop()
	}
	if v.requestAction == Close && v.accCloseTime >= limit {
		v.actualPosition = 0
		v.truePos = true
		return v.RequestStop()
	}
	if v.truePos {
		if v.requestAction == Open && v.actualPosition >= 1000 {
			return v.RequestStop()
		}
		if v.requestAction == Close && v.actualPosition <= 0 {
			return v.RequestStop()
		}
	}
	return nil
}

// Run updates travel accounting from elapsed time and drives the relays
// toward the requested action with break-before-make discipline.
func (v *Valve) Run() error {
	if !v.configured {
		return errs.ErrNotConfigured
	}
	if !v.online {
		return errs.ErrOffline
	}
	now := clock()
	dt := now - v.lastRunTime
	v.lastRunTime = now
	if dt < 0 {
		dt = 0
	}
	course := int32((int64(dt)*1000 + int64(v.cfg.EteTime)/2) / int64(v.cfg.EteTime))

	switch v.actualAction {
	case Open:
		v.accOpenTime += dt
		v.accCloseTime = 0
		v.actualPosition += course
		if v.actualPosition > 1000 {
			v.actualPosition = 1000
		}
	case Close:
		v.accCloseTime += dt
		v.accOpenTime = 0
		v.actualPosition -= course
		if v.actualPosition < 0 {
			v.actualPosition = 0
		}
	}

	// consume travelled course; stop when the remainder is not worth the
	// start/stop bounce
	if v.actualAction != Stop && v.requestAction != Stop {
		if int32(v.targetCourse) > course {
			v.targetCourse -= int16(course)
		} else {
			v.targetCourse = 0
		}
		if int32(v.targetCourse) < course/2 {
			v.requestAction = Stop
			v.targetCourse = 0
		}
	}

	if err := v.drive(v.requestAction); err != nil {
		return err
	}
	v.actualAction = v.requestAction
	return nil
}

// drive commands the relays. Break before make: the opposing relay is
// released before the driving relay is energised. On any failure both
// relays are driven off and the first error is returned.
func (v *Valve) drive(a Action) error {
	set := func(rid hwbackend.RelayID, on bool) error {
		return v.reg.SetState(rid, on, 0)
	}
	var err error
	switch {
	case a == Open:
		if v.cfg.HasClose {
			err = set(v.cfg.RidClose, false)
		}
		if err == nil {
			err = set(v.cfg.RidOpen, true)
		}
	case a == Close && v.cfg.HasClose:
		err = set(v.cfg.RidOpen, false)
		if err == nil {
			err = set(v.cfg.RidClose, true)
		}
	default: // Stop, or Close on a spring-return 2-way
		err = set(v.cfg.RidOpen, false)
		if err == nil && v.cfg.HasClose {
			err = set(v.cfg.RidClose, false)
		}
	}
	if err != nil {
		// fail safe: best effort both off
		_ = set(v.cfg.RidOpen, false)
		if v.cfg.HasClose {
			_ = set(v.cfg.RidClose, false)
		}
		v.actualAction = Stop
		return fmt.Errorf("valve %q drive %s: %w", v.cfg.Name, a, err)
	}
	return nil
}

// Offline stops the motor and releases the valve.
func (v *Valve) Offline() error {
	if !v.configured {
		return errs.ErrNotConfigured
	}
	if v.online {
		_ = v.drive(Stop)
	}
	v.requestAction = Stop
	v.actualAction = Stop
	v.targetCourse = 0
	v.online = false
	return nil
}
