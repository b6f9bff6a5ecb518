package valve

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
)

// Control runs one cycle of the configured mixing algorithm toward the
// target output temperature. ErrDeadzone means no action was needed. Any
// sensor failure aborts the cycle without touching the motor request.
func (v *Valve) Control(target temp.Temp) error {
	if !v.configured {
		return errs.ErrNotConfigured
	}
	if !v.online {
		return errs.ErrOffline
	}
	if v.cfg.Kind != KindMixing {
		return fmt.Errorf("valve %q is not a mixing valve: %w", v.cfg.Name, errs.ErrInvalid)
	}
	switch v.cfg.Algo {
	case AlgoBangBang:
		return v.controlBangBang(target)
	case AlgoSapprox:
		return v.controlSapprox(target)
	case AlgoPI:
		return v.controlPI(target)
	}
	return fmt.Errorf("valve %q: no algorithm: %w", v.cfg.Name, errs.ErrMisconfigured)
}

func (v *Valve) controlBangBang(target temp.Temp) error {
	tout, err := v.reg.CloneTemp(v.cfg.TidOut)
	if err != nil {
		return fmt.Errorf("valve %q out sensor: %w", v.cfg.Name, err)
	}
	e := target - tout
	if e > -v.cfg.Tdeadzone/2 && e < v.cfg.Tdeadzone/2 {
		return errs.ErrDeadzone
	}
	if e > 0 {
		return v.RequestOpenFull()
	}
	return v.RequestCloseFull()
}

func (v *Valve) controlSapprox(target temp.Temp) error {
	now := clock()
	if v.lastSample != 0 && now-v.lastSample < v.cfg.Sapprox.SampleIntvl {
		return nil
	}
	v.lastSample = now

	tout, err := v.reg.CloneTemp(v.cfg.TidOut)
	if err != nil {
		return fmt.Errorf("valve %q out sensor: %w", v.cfg.Name, err)
	}
	amount := int16(v.cfg.Sapprox.AmountPct * 10) // percent to per-mille
	switch {
	case tout < target-v.cfg.Tdeadzone/2:
		err = v.RequestPth(amount)
	case tout > target+v.cfg.Tdeadzone/2:
		err = v.RequestPth(-amount)
	default:
		return errs.ErrDeadzone
	}
	if errors.Is(err, errs.ErrDeadband) {
		return nil
	}
	return err
}

// controlPI is a velocity-form PI in fixed point: each sample computes an
// increment of valve course, so the valve itself integrates the command.
// The proportional term acts on the measured output, not the error, which
// kills proportional kick on setpoint changes.
func (v *Valve) controlPI(target temp.Temp) error {
	now := clock()
	if v.lastSample != 0 && now-v.lastSample < v.cfg.PI.SampleIntvl {
		return nil
	}
	dt := now - v.lastSample
	if v.lastSample == 0 {
		dt = v.cfg.PI.SampleIntvl
	}
	v.lastSample = now

	tout, err := v.reg.CloneTemp(v.cfg.TidOut)
	if err != nil {
		return fmt.Errorf("valve %q out sensor: %w", v.cfg.Name, err)
	}

	// inside the deadzone there is nothing to do; the controller restarts
	// cleanly from measurement when the error reappears
	e64 := int64(target) - int64(tout)
	if e64 > -int64(v.cfg.Tdeadzone)/2 && e64 < int64(v.cfg.Tdeadzone)/2 {
		v.ctrlReady = false
		return errs.ErrDeadzone
	}

	tinHot, err := v.reg.CloneTemp(v.cfg.TidHot)
	if err != nil {
		return fmt.Errorf("valve %q hot sensor: %w", v.cfg.Name, err)
	}
	var tinCold temp.Temp
	if v.cfg.HasCold {
		tinCold, err = v.reg.CloneTemp(v.cfg.TidCold)
		if err != nil {
			return fmt.Errorf("valve %q cold sensor: %w", v.cfg.Name, err)
		}
	} else {
		tinCold = tinHot - v.cfg.PI.Ksmax
	}

	// widen the jacket when the output escapes it
	if tout > tinHot {
		tinHot = tout
	}
	if tout < tinCold {
		tinCold = tout
	}

	// output saturation: outside the jacket no gain can help, slam the
	// valve and restart the controller on re-entry
	if target <= tinCold {
		v.ctrlReady = false
		return v.RequestCloseFull()
	}
	if target >= tinHot {
		v.ctrlReady = false
		return v.RequestOpenFull()
	}

	span := int64(tinHot) - int64(tinCold)
	if span <= int64(temp.Kelvin) {
		// ill-conditioned: gains would explode
		return errs.ErrDeadzone
	}

	if !v.ctrlReady {
		v.prevOut = tout
		v.dbAcc = 0
		v.ctrlReady = true
		return nil
	}

	// Kp adapts to the observable span so a 100% course always maps to
	// the same controller authority
	kp := v.kpFixed * 1000 / span
	ti := int64(v.cfg.PI.Tu)

	ierr := kp * e64 / ti * int64(dt)
	perr := kp * (int64(v.prevOut) - int64(tout))

	pthfl := ierr + perr + v.dbAcc
	perth := pthfl / fpdec
	if perth > 1000 {
		perth = 1000
	}
	if perth < -1000 {
		perth = -1000
	}

	log.Debug().
		Str("valve", v.cfg.Name).
		Float64("target", target.Celsius()).
		Float64("tempout", tout.Celsius()).
		Int64("perth", perth).
		Msg("pi sample")

	err = v.RequestPth(int16(perth))
	if errors.Is(err, errs.ErrDeadband) {
		// too small to act on: bank the integral share so slow drifts
		// still accumulate authority across samples
		v.dbAcc += ierr
		return nil
	}
	if err != nil {
		return err
	}
	v.prevOut = tout
	v.dbAcc = 0
	return nil
}
