package heatsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/mockbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/pump"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/valve"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

type rig struct {
	reg    *hwbackend.Registry
	mock   *mockbackend.Backend
	boiler *Boiler
	load   *pump.Pump

	sensor, retSensor  int
	burner1, burner2   int
	loadRelay          int
}

func newRig(t *testing.T, now *timekeep.Ticks, mutate func(*Config)) *rig {
	t.Helper()

	r := &rig{reg: hwbackend.NewRegistry(), mock: mockbackend.New("proto")}
	r.mock.Clock = func() timekeep.Ticks { return *now }
	r.sensor = r.mock.AddSensor("boiler")
	r.retSensor = r.mock.AddSensor("boiler_return")
	r.burner1 = r.mock.AddRelay("burner1")
	r.burner2 = r.mock.AddRelay("burner2")
	r.loadRelay = r.mock.AddRelay("load")
	_, err := r.reg.Register(r.mock)
	require.NoError(t, err)

	sid := func(name string) hwbackend.SensorID {
		id, err := r.reg.SensorIBN("proto", name)
		require.NoError(t, err)
		return id
	}
	rid := func(name string) hwbackend.RelayID {
		id, err := r.reg.RelayIBN("proto", name)
		require.NoError(t, err)
		return id
	}

	r.load, err = pump.New(pump.Config{Name: "load", Rid: rid("load")}, r.reg)
	require.NoError(t, err)

	cfg := Config{
		Name:          "main-boiler",
		Idle:          IdleAlways,
		Hysteresis:    temp.DeltaK(3),
		LimitTmin:     temp.FromCelsius(40),
		LimitTmax:     temp.FromCelsius(90),
		LimitThardmax: temp.FromCelsius(95),
		TFreeze:       temp.FromCelsius(5),
		BurnerMinTime: 2 * timekeep.Minute,
		TidBoiler:     sid("boiler"),
		RidBurner1:    rid("burner1"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r.boiler, err = New(cfg, r.reg, r.load, nil)
	require.NoError(t, err)

	require.NoError(t, r.reg.Online())
	require.NoError(t, r.load.Online())
	require.NoError(t, r.boiler.Online())
	return r
}

func (r *rig) temp(t *testing.T, c float64) {
	t.Helper()
	r.mock.SetTemp(r.sensor, temp.FromCelsius(c))
	require.NoError(t, r.reg.Input())
}

func TestHysteresisStaging(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	// demand 60, band 58.5..61.5
	demand := temp.FromCelsius(60)

	r.temp(t, 50)
	st, err := r.boiler.Run(demand, true, model.SysComfort)
	require.NoError(t, err)
	assert.True(t, st.Burner1)

	// inside the band the burner holds
	r.temp(t, 60)
	st, err = r.boiler.Run(demand, true, model.SysComfort)
	require.NoError(t, err)
	assert.True(t, st.Burner1)

	// above the band it trips off
	r.temp(t, 62)
	st, err = r.boiler.Run(demand, true, model.SysComfort)
	require.NoError(t, err)
	assert.False(t, st.Burner1)

	// back inside the band: still off
	r.temp(t, 60)
	st, err = r.boiler.Run(demand, true, model.SysComfort)
	require.NoError(t, err)
	assert.False(t, st.Burner1)
}

func TestTargetClampedToLimits(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	r.temp(t, 50)
	st, err := r.boiler.Run(temp.FromCelsius(120), true, model.SysComfort)
	require.NoError(t, err)
	assert.Equal(t, temp.FromCelsius(90), st.Target)

	st, err = r.boiler.Run(temp.FromCelsius(20), true, model.SysComfort)
	require.NoError(t, err)
	assert.Equal(t, temp.FromCelsius(40), st.Target)
}

// Anti-freeze: t_freeze 5, hysteresis 3. 4°C engages, 8°C holds, 9°C
// releases.
func TestAntifreeze(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	r.temp(t, 4)
	st, err := r.boiler.Run(0, false, model.SysOff)
	require.NoError(t, err)
	assert.True(t, st.Antifreeze)
	assert.True(t, st.Burner1, "burner fires regardless of mode")

	require.NoError(t, r.reg.Output())
	assert.True(t, r.mock.State(r.burner1))

	r.temp(t, 8)
	st, err = r.boiler.Run(0, false, model.SysOff)
	require.NoError(t, err)
	assert.True(t, st.Antifreeze, "holds below t_freeze + hysteresis")

	r.temp(t, 9)
	st, err = r.boiler.Run(0, false, model.SysOff)
	require.NoError(t, err)
	assert.False(t, st.Antifreeze)
}

// Hard limit: 95.5°C with thardmax 95 drops every burner and asks
// consumers to dump.
func TestHardLimit(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	r.temp(t, 50)
	_, err := r.boiler.Run(temp.FromCelsius(90), true, model.SysComfort)
	require.NoError(t, err)
	require.NoError(t, r.reg.Output())
	require.True(t, r.mock.State(r.burner1))

	now += 3 * timekeep.Minute // past burner_min_time
	r.temp(t, 95.5)
	st, err := r.boiler.Run(temp.FromCelsius(90), true, model.SysComfort)
	require.NoError(t, err)
	assert.True(t, st.Dump)
	assert.False(t, st.Burner1)
	assert.False(t, st.Burner2)
	assert.True(t, r.load.Requested(), "load pump moves the excess heat")

	require.NoError(t, r.reg.Output())
	assert.False(t, r.mock.State(r.burner1))
}

func TestBurnerMinTimeEnforced(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	r.temp(t, 50)
	_, err := r.boiler.Run(temp.FromCelsius(60), true, model.SysComfort)
	require.NoError(t, err)
	require.NoError(t, r.reg.Output())
	require.True(t, r.mock.State(r.burner1))

	// satisfied 30s later: the comparator wants off but the relay holds
	now += 30 * timekeep.Second
	r.temp(t, 70)
	st, err := r.boiler.Run(temp.FromCelsius(60), true, model.SysComfort)
	require.NoError(t, err)
	assert.False(t, st.Burner1, "comparator side")
	require.NoError(t, r.reg.Output())
	assert.True(t, r.mock.State(r.burner1), "relay side holds for burner_min_time")

	// after the minimum time the relay follows
	now += 2 * timekeep.Minute
	require.NoError(t, r.reg.Output())
	assert.False(t, r.mock.State(r.burner1))

	assert.Equal(t, 2, r.mock.Switches(r.burner1))
}

func TestSecondStageTrailsFirst(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, func(c *Config) {
		c.HasBurner2 = true
	})
	// wire burner2 relay
	rid2, err := r.reg.RelayIBN("proto", "burner2")
	require.NoError(t, err)
	r.boiler.cfg.RidBurner2 = rid2

	demand := temp.FromCelsius(60) // stage1 trips below 58.5, stage2 below 55.5

	r.temp(t, 57)
	st, err := r.boiler.Run(demand, true, model.SysComfort)
	require.NoError(t, err)
	assert.True(t, st.Burner1)
	assert.False(t, st.Burner2)

	r.temp(t, 54)
	st, err = r.boiler.Run(demand, true, model.SysComfort)
	require.NoError(t, err)
	assert.True(t, st.Burner1)
	assert.True(t, st.Burner2)

	// stage 2 drops first on recovery
	r.temp(t, 59)
	st, err = r.boiler.Run(demand, true, model.SysComfort)
	require.NoError(t, err)
	assert.True(t, st.Burner1)
	assert.False(t, st.Burner2)
}

func TestIdleModes(t *testing.T) {
	var now timekeep.Ticks

	t.Run("always permits shutdown", func(t *testing.T) {
		r := newRig(t, &now, func(c *Config) { c.Idle = IdleAlways })
		r.temp(t, 30)
		st, err := r.boiler.Run(0, false, model.SysComfort)
		require.NoError(t, err)
		assert.False(t, st.Burner1)
	})

	t.Run("never keeps minimum temperature", func(t *testing.T) {
		r := newRig(t, &now, func(c *Config) { c.Idle = IdleNever })
		r.temp(t, 30)
		st, err := r.boiler.Run(0, false, model.SysComfort)
		require.NoError(t, err)
		assert.True(t, st.Burner1, "boiler held at limit_tmin")
	})

	t.Run("frostonly fires in heating modes", func(t *testing.T) {
		r := newRig(t, &now, func(c *Config) { c.Idle = IdleFrostOnly })
		r.temp(t, 30)
		st, err := r.boiler.Run(0, false, model.SysComfort)
		require.NoError(t, err)
		assert.True(t, st.Burner1)
	})

	t.Run("frostonly stays cold in dhw-only", func(t *testing.T) {
		r := newRig(t, &now, func(c *Config) { c.Idle = IdleFrostOnly })
		r.temp(t, 30)
		st, err := r.boiler.Run(0, false, model.SysDHWOnly)
		require.NoError(t, err)
		assert.False(t, st.Burner1)
	})
}

func TestBoilerSensorFaultDumps(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	r.mock.SetFault(r.sensor, temp.ErrSensorDisconnected)
	require.NoError(t, r.reg.Input())

	st, err := r.boiler.Run(temp.FromCelsius(60), true, model.SysComfort)
	assert.Error(t, err)
	assert.True(t, st.Dump)
	assert.True(t, r.load.Requested())
	require.NoError(t, r.reg.Output())
	assert.False(t, r.mock.State(r.burner1))
}

func TestReturnProtection(t *testing.T) {
	var now timekeep.Ticks

	reg := hwbackend.NewRegistry()
	mock := mockbackend.New("proto")
	mock.Clock = func() timekeep.Ticks { return now }
	sBoiler := mock.AddSensor("boiler")
	sRet := mock.AddSensor("boiler_return")
	mock.AddRelay("burner1")
	vOpen := mock.AddRelay("v_open")
	vClose := mock.AddRelay("v_close")
	_ = vOpen
	_ = vClose
	_, err := reg.Register(mock)
	require.NoError(t, err)

	sid := func(n string) hwbackend.SensorID { id, _ := reg.SensorIBN("proto", n); return id }
	rid := func(n string) hwbackend.RelayID { id, _ := reg.RelayIBN("proto", n); return id }

	// a bangbang mixing valve on the return line
	retValve := newTestMixingValve(t, reg, rid("v_open"), rid("v_close"), sid("boiler_return"))

	b, err := New(Config{
		Name:            "main-boiler",
		Idle:            IdleAlways,
		Hysteresis:      temp.DeltaK(3),
		LimitTmin:       temp.FromCelsius(40),
		LimitTmax:       temp.FromCelsius(90),
		LimitThardmax:   temp.FromCelsius(95),
		LimitTreturnmin: temp.FromCelsius(35),
		TFreeze:         temp.FromCelsius(5),
		BurnerMinTime:   2 * timekeep.Minute,
		TidBoiler:       sid("boiler"),
		TidBoilerReturn: sid("boiler_return"),
		HasReturn:       true,
		RidBurner1:      rid("burner1"),
	}, reg, nil, retValve)
	require.NoError(t, err)

	require.NoError(t, reg.Online())
	require.NoError(t, retValve.Online())
	require.NoError(t, b.Online())

	mock.SetTemp(sBoiler, temp.FromCelsius(60))
	mock.SetTemp(sRet, temp.FromCelsius(30)) // below treturnmin
	require.NoError(t, reg.Input())

	_, err = b.Run(temp.FromCelsius(60), true, model.SysComfort)
	require.NoError(t, err)

	target, want := b.RetTarget()
	assert.True(t, want)
	assert.Equal(t, temp.FromCelsius(35), target)

	// return healthy again: protection stands down
	mock.SetTemp(sRet, temp.FromCelsius(40))
	require.NoError(t, reg.Input())
	_, err = b.Run(temp.FromCelsius(60), true, model.SysComfort)
	require.NoError(t, err)
	_, want = b.RetTarget()
	assert.False(t, want)
}

func newTestMixingValve(t *testing.T, reg *hwbackend.Registry, open, close hwbackend.RelayID, out hwbackend.SensorID) *valve.Valve {
	t.Helper()
	v, err := valve.New(valve.Config{
		Name:      "boiler-return",
		Kind:      valve.KindMixing,
		Motor:     valve.Motor3Way,
		Algo:      valve.AlgoBangBang,
		EteTime:   120 * timekeep.Second,
		Tdeadzone: temp.DeltaK(2),
		RidOpen:   open,
		RidClose:  close,
		HasClose:  true,
		TidOut:    out,
		HasOut:    true,
	}, reg)
	require.NoError(t, err)
	return v
}

func TestConstructionValidation(t *testing.T) {
	reg := hwbackend.NewRegistry()
	base := Config{
		Name:          "b",
		Hysteresis:    temp.DeltaK(3),
		LimitTmin:     temp.FromCelsius(40),
		LimitTmax:     temp.FromCelsius(90),
		LimitThardmax: temp.FromCelsius(95),
		TFreeze:       temp.FromCelsius(5),
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tmax too close to thardmax", func(c *Config) { c.LimitTmax = temp.FromCelsius(94) }},
		{"zero t_freeze", func(c *Config) { c.TFreeze = 0 }},
		{"zero hysteresis", func(c *Config) { c.Hysteresis = 0 }},
		{"inverted limits", func(c *Config) { c.LimitTmin = temp.FromCelsius(92); c.LimitThardmax = temp.FromCelsius(120); c.LimitTmax = temp.FromCelsius(91) }},
		{"return protection without sensor", func(c *Config) { c.LimitTreturnmin = temp.FromCelsius(35) }},
		{"unknown idle mode", func(c *Config) { c.Idle = "sometimes" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg, reg, nil, nil)
			assert.ErrorIs(t, err, errs.ErrMisconfigured)
		})
	}
}

func TestParseIdleMode(t *testing.T) {
	for s, want := range map[string]IdleMode{
		"never": IdleNever, "frostonly": IdleFrostOnly, "always": IdleAlways,
	} {
		got, err := ParseIdleMode(s)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIdleMode("bogus")
	assert.ErrorIs(t, err, errs.ErrInvalid)
}
