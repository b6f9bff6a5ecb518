// Package hcircuit models one heating circuit: a water loop with an
// optional mixing valve and feed pump, bound to a building model. Each
// tick it turns the effective runmode, the filtered outdoor temperature
// and optional ambient feedback into a commanded water temperature, and
// emits the matching heat request upstream.
package hcircuit

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/bmodel"
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

// ambientCorrGain is the water correction per Kelvin of ambient error at
// ambient_factor = 100.
const ambientCorrGain = 5

type Params struct {
	TComfort   temp.Temp
	TEco       temp.Temp
	TFrostFree temp.Temp
	TOffset    temp.Temp

	OuthoffComfort    temp.Temp
	OuthoffEco        temp.Temp
	OuthoffFrostFree  temp.Temp
	OuthoffHysteresis temp.Temp

	LimitWtmin temp.Temp
	LimitWtmax temp.Temp

	// TempInoffset is added to the commanded water temperature when the
	// circuit expresses its heat request upstream.
	TempInoffset temp.Temp
}

type Config struct {
	Name    string
	RunMode model.RunMode
	Params  Params
	Law     BilinearLaw

	TidOutgoing hwbackend.SensorID
	TidReturn   hwbackend.SensorID
	HasReturn   bool
	TidAmbient  hwbackend.SensorID
	HasAmbient  bool

	// AmbientFactor in [-100,100] scales measured-ambient feedback into
	// the commanded water temperature.
	AmbientFactor int

	// WtempRorh limits the commanded water rise in K/h; zero disables.
	WtempRorh temp.Temp

	// Boost on upward setpoint transitions.
	BoostMaxtime     timekeep.Ticks
	TambientBoostdelta temp.Temp

	FastCooldown bool
}

// Circuit references its pump, valve and bmodel by owning pointer,
// resolved by the plant at configuration end.
type Circuit struct {
	cfg    Config
	reg    *hwbackend.Registry
	feed   *pump.Pump
	mix    *valve.Valve
	bmodel *bmodel.Model

	configured bool
	online     bool

	prevAmbientSet temp.Temp
	boostUntil     timekeep.Ticks
	boosting       bool

	lastWater     temp.Temp
	lastWaterTime timekeep.Ticks
	haveLastWater bool

	outhoffActive bool

	targetWater temp.Temp
	wantControl bool
	active      bool
}

func New(cfg Config, reg *hwbackend.Registry, feed *pump.Pump, mix *valve.Valve, bm *bmodel.Model) (*Circuit, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("hcircuit needs a name: %w", errs.ErrMisconfigured)
	}
	if bm == nil {
		return nil, fmt.Errorf("hcircuit %q: building model required: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if err := cfg.Law.validate(); err != nil {
		return nil, fmt.Errorf("hcircuit %q: %w", cfg.Name, err)
	}
	if cfg.Params.LimitWtmin >= cfg.Params.LimitWtmax {
		return nil, fmt.Errorf("hcircuit %q: water limits inverted: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.AmbientFactor < -100 || cfg.AmbientFactor > 100 {
		return nil, fmt.Errorf("hcircuit %q: ambient factor out of [-100,100]: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.AmbientFactor != 0 && !cfg.HasAmbient {
		return nil, fmt.Errorf("hcircuit %q: ambient factor needs tid_ambient: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if mix != nil && mix.Kind() != valve.KindMixing {
		return nil, fmt.Errorf("hcircuit %q: valve is not a mixing valve: %w", cfg.Name, errs.ErrMisconfigured)
	}
	return &Circuit{cfg: cfg, reg: reg, feed: feed, mix: mix, bmodel: bm, configured: true}, nil
}

func (c *Circuit) Name() string { return c.cfg.Name }

// RunModeCfg reports the configured (not effective) runmode.
func (c *Circuit) RunModeCfg() model.RunMode { return c.cfg.RunMode }

// Mix exposes the circuit's mixing valve to the plant valve phase.
func (c *Circuit) Mix() *valve.Valve { return c.mix }

// Feed exposes the circuit's feed pump to the plant pump phase.
func (c *Circuit) Feed() *pump.Pump { return c.feed }

// WaterTarget reports the current valve control target and whether the
// valve should be controlled this tick.
func (c *Circuit) WaterTarget() (temp.Temp, bool) { return c.targetWater, c.wantControl }

// Active reports whether the circuit is calling for heat.
func (c *Circuit) Active() bool { return c.active }

func (c *Circuit) Online() error {
	if !c.configured {
		return errs.ErrNotConfigured
	}
	if _, err := c.reg.CloneTime(c.cfg.TidOutgoing); err != nil {
		return fmt.Errorf("hcircuit %q outgoing sensor: %w", c.cfg.Name, err)
	}
	if c.cfg.HasAmbient {
		if _, err := c.reg.CloneTime(c.cfg.TidAmbient); err != nil {
			return fmt.Errorf("hcircuit %q ambient sensor: %w", c.cfg.Name, err)
		}
	}
	if c.cfg.HasReturn {
		if _, err := c.reg.CloneTime(c.cfg.TidReturn); err != nil {
			return fmt.Errorf("hcircuit %q return sensor: %w", c.cfg.Name, err)
		}
	}
	c.online = true
	c.boosting = false
	c.prevAmbientSet = 0
	c.outhoffActive = false
	return nil
}

// ambientSetpoint returns the requested ambient temperature for a runmode,
// before offset and boost. ok is false when the circuit must not heat.
func (c *Circuit) ambientSetpoint(mode model.RunMode) (temp.Temp, bool) {
	switch mode {
	case model.RunComfort, model.RunTest:
		return c.cfg.Params.TComfort, true
	case model.RunEco:
		return c.cfg.Params.TEco, true
	case model.RunFrostFree:
		return c.cfg.Params.TFrostFree, true
	}
	return 0, false
}

func (c *Circuit) outhoff(mode model.RunMode) temp.Temp {
	switch mode {
	case model.RunEco:
		return c.cfg.Params.OuthoffEco
	case model.RunFrostFree:
		return c.cfg.Params.OuthoffFrostFree
	}
	return c.cfg.Params.OuthoffComfort
}

// Run computes the circuit's commanded water temperature and heat request
// for this tick. The returned demand is only meaningful when the circuit
// reports active.
func (c *Circuit) Run(mode model.RunMode) (demand temp.Temp, active bool, err error) {
	if !c.online {
		return 0, false, errs.ErrOffline
	}
	now := clock()

	// frost safety floor: an off circuit still protects the building
	if c.bmodel.Frost() {
		if set, ok := c.ambientSetpoint(mode); !ok || set < c.cfg.Params.TFrostFree {
			mode = model.RunFrostFree
		}
	}

	set, heating := c.ambientSetpoint(mode)
	if !heating {
		return c.shutdownTick()
	}
	set += c.cfg.Params.TOffset

	// outdoor cutoff with hysteresis, summer overrides
	outdoor, oerr := c.bmodel.Outdoor()
	if oerr == nil {
		cutoff := c.outhoff(mode)
		h := c.cfg.Params.OuthoffHysteresis / 2
		if c.outhoffActive {
			if outdoor < cutoff-h {
				c.outhoffActive = false
			}
		} else if outdoor > cutoff+h {
			c.outhoffActive = true
		}
	}
	if c.bmodel.Summer() || c.outhoffActive {
		return c.shutdownTick()
	}

	// boost management on upward setpoint transitions
	if c.prevAmbientSet != 0 && set > c.prevAmbientSet &&
		c.cfg.BoostMaxtime > 0 && c.cfg.TambientBoostdelta != 0 {
		c.boosting = true
		c.boostUntil = now + c.cfg.BoostMaxtime
		log.Info().Str("hcircuit", c.cfg.Name).Float64("setpoint", set.Celsius()).Msg("ambient boost engaged")
	}
	c.prevAmbientSet = set

	var ambient temp.Temp
	haveAmbient := false
	if c.cfg.HasAmbient {
		if a, aerr := c.reg.CloneTemp(c.cfg.TidAmbient); aerr == nil {
			ambient = a
			haveAmbient = true
		}
	}

	if c.boosting {
		if now >= c.boostUntil || (haveAmbient && ambient >= set) {
			c.boosting = false
		}
	}
	effSet := set
	if c.boosting {
		effSet += c.cfg.TambientBoostdelta
	}

	// fast cooldown: when the room is warmer than the new setpoint, let
	// it coast down unheated instead of mixing lukewarm water
	if c.cfg.FastCooldown && haveAmbient && ambient > set {
		return c.shutdownTick()
	}

	if oerr != nil {
		// no outdoor data: fall back to frost-free water, localised fault
		log.Warn().Str("hcircuit", c.cfg.Name).Err(oerr).Msg("no outdoor temperature, frost-free fallback")
		return c.applyWater(c.cfg.Params.LimitWtmin, now)
	}

	water := c.cfg.Law.Water(outdoor)

	// shift the curve for non-comfort setpoints: the law is calibrated
	// for comfort, colder rooms need proportionally cooler water
	water += effSet - c.cfg.Params.TComfort

	if c.cfg.AmbientFactor != 0 && haveAmbient {
		corr := int64(effSet-ambient) * ambientCorrGain * int64(c.cfg.AmbientFactor) / 100
		water += temp.Temp(corr)
	}

	return c.applyWater(water, now)
}

// applyWater runs the rate-of-rise limiter and clamp, records the result
// and programs pump and valve requests.
func (c *Circuit) applyWater(water temp.Temp, now timekeep.Ticks) (temp.Temp, bool, error) {
	if c.cfg.WtempRorh > 0 && c.haveLastWater && !c.cfg.FastCooldown {
		dt := now - c.lastWaterTime
		allowed := c.lastWater + temp.Temp(int64(c.cfg.WtempRorh)*int64(dt)/int64(timekeep.Hour))
		if water > allowed {
			water = allowed
		}
	}
	water = temp.Clamp(water, c.cfg.Params.LimitWtmin, c.cfg.Params.LimitWtmax)
	c.lastWater = water
	c.lastWaterTime = now
	c.haveLastWater = true

	c.targetWater = water
	c.wantControl = c.mix != nil
	c.active = true

	if c.feed != nil {
		if err := c.feed.RequestOn(true); err != nil {
			return 0, false, err
		}
	}
	return water + c.cfg.Params.TempInoffset, true, nil
}

// shutdownTick releases the circuit for a non-heating tick. The feed pump
// is simply not requested: requests OR across consumers, so a shared pump
// keeps running for whoever still needs it.
func (c *Circuit) shutdownTick() (temp.Temp, bool, error) {
	c.active = false
	c.wantControl = false
	c.haveLastWater = false
	c.boosting = false
	if c.mix != nil {
		if err := c.mix.RequestCloseFull(); err != nil && err != errs.ErrDeadband {
			return 0, false, err
		}
	}
	return 0, false, nil
}

func (c *Circuit) Offline() error {
	if !c.configured {
		return errs.ErrNotConfigured
	}
	c.online = false
	c.active = false
	c.wantControl = false
	return nil
}

// LastWater exposes the rate-limiter reference for persistence.
func (c *Circuit) LastWater() (temp.Temp, bool) {
	return c.lastWater, c.haveLastWater
}

// RestoreLastWater reinstates a persisted rate-limiter reference.
func (c *Circuit) RestoreLastWater(w temp.Temp) {
	c.lastWater = w
	c.lastWaterTime = clock()
	c.haveLastWater = true
}
