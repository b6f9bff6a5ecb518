package valve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/mockbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// rig bundles a valve under test with its backend and sensor handles.
type rig struct {
	reg   *hwbackend.Registry
	mock  *mockbackend.Backend
	valve *Valve

	out, hot, cold int // sensor objects
	open, close    int // relay objects
}

func setClock(t *testing.T, at *timekeep.Ticks) {
	t.Helper()
	orig := clock
	clock = func() timekeep.Ticks { return *at }
	t.Cleanup(func() { clock = orig })
}

func newRig(t *testing.T, now *timekeep.Ticks, mutate func(*Config)) *rig {
	t.Helper()
	setClock(t, now)

	r := &rig{reg: hwbackend.NewRegistry(), mock: mockbackend.New("proto")}
	r.mock.Clock = func() timekeep.Ticks { return *now }
	r.out = r.mock.AddSensor("out")
	r.hot = r.mock.AddSensor("hot")
	r.cold = r.mock.AddSensor("cold")
	r.open = r.mock.AddRelay("open")
	r.close = r.mock.AddRelay("close")
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

	cfg := Config{
		Name:      "mix",
		Kind:      KindMixing,
		Motor:     Motor3Way,
		Algo:      AlgoPI,
		EteTime:   120 * timekeep.Second,
		Tdeadzone: temp.DeltaK(2),
		RidOpen:   rid("open"),
		RidClose:  rid("close"),
		HasClose:  true,
		TidOut:    sid("out"),
		HasOut:    true,
		TidHot:    sid("hot"),
		HasHot:    true,
		TidCold:   sid("cold"),
		HasCold:   true,
		PI: PIParams{
			SampleIntvl: 10 * timekeep.Second,
			Tu:          300 * timekeep.Second,
			Td:          30 * timekeep.Second,
			TuneFactor:  10,
			Ksmax:       temp.DeltaK(30),
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	v, err := New(cfg, r.reg)
	require.NoError(t, err)
	r.valve = v

	require.NoError(t, r.reg.Online())
	require.NoError(t, v.Online())
	return r
}

func (r *rig) temps(t *testing.T, out, hot, cold float64) {
	t.Helper()
	r.mock.SetTemp(r.out, temp.FromCelsius(out))
	r.mock.SetTemp(r.hot, temp.FromCelsius(hot))
	r.mock.SetTemp(r.cold, temp.FromCelsius(cold))
	require.NoError(t, r.reg.Input())
}

func TestConstructionValidation(t *testing.T) {
	reg := hwbackend.NewRegistry()
	base := Config{
		Name:    "v",
		Kind:    KindMixing,
		Motor:   Motor3Way,
		Algo:    AlgoPI,
		EteTime: 120 * timekeep.Second,
		HasOut:  true,
		HasHot:  true,
		PI: PIParams{
			SampleIntvl: 10 * timekeep.Second,
			Tu:          300 * timekeep.Second,
			Td:          30 * timekeep.Second,
			TuneFactor:  10,
			Ksmax:       temp.DeltaK(30),
		},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ete_time", func(c *Config) { c.EteTime = 0 }},
		{"pi without tid_out", func(c *Config) { c.HasOut = false }},
		{"pi without tid_hot", func(c *Config) { c.HasHot = false }},
		{"nyquist violation", func(c *Config) { c.PI.SampleIntvl = 100 * timekeep.Second }},
		{"bad tune factor", func(c *Config) { c.PI.TuneFactor = 5 }},
		{"non-positive tu", func(c *Config) { c.PI.Tu = 0 }},
		{"non-positive ksmax", func(c *Config) { c.PI.Ksmax = 0 }},
		{"mixing without algo", func(c *Config) { c.Algo = AlgoNone }},
		{"isolation with algo", func(c *Config) { c.Kind = KindIsolation }},
		{"sapprox amount too big", func(c *Config) {
			c.Algo = AlgoSapprox
			c.Sapprox = SapproxParams{SampleIntvl: 10 * timekeep.Second, AmountPct: 150}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg, reg)
			assert.ErrorIs(t, err, errs.ErrMisconfigured)
		})
	}
}

func TestRequestPth(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	// below deadband
	assert.ErrorIs(t, r.valve.RequestPth(1), errs.ErrDeadband)

	// saturation at full course
	require.NoError(t, r.valve.RequestPth(1500))
	assert.Equal(t, Open, r.valve.requestAction)
	assert.Equal(t, int16(1000), r.valve.targetCourse)

	require.NoError(t, r.valve.RequestPth(-300))
	assert.Equal(t, Close, r.valve.requestAction)
	assert.Equal(t, int16(300), r.valve.targetCourse)

	require.NoError(t, r.valve.RequestStop())
	assert.Equal(t, Stop, r.valve.requestAction)
	assert.Equal(t, int16(0), r.valve.targetCourse)
}

func TestRunDrivesRelaysBreakBeforeMake(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	require.NoError(t, r.valve.RequestOpenFull())
	require.NoError(t, r.valve.Run())
	require.NoError(t, r.reg.Output())
	assert.True(t, r.mock.State(r.open))
	assert.False(t, r.mock.State(r.close))

	now += 5 * timekeep.Second
	require.NoError(t, r.valve.RequestCloseFull())
	require.NoError(t, r.valve.Run())
	require.NoError(t, r.reg.Output())
	assert.False(t, r.mock.State(r.open))
	assert.True(t, r.mock.State(r.close))

	now += 5 * timekeep.Second
	require.NoError(t, r.valve.RequestStop())
	require.NoError(t, r.valve.Run())
	require.NoError(t, r.reg.Output())
	assert.False(t, r.mock.State(r.open))
	assert.False(t, r.mock.State(r.close))
}

func TestTravelAccounting(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, nil)

	// open for 12s of a 120s ete: 100 per-mille
	require.NoError(t, r.valve.RequestOpenFull())
	require.NoError(t, r.valve.Run()) // starts moving
	now += 12 * timekeep.Second
	require.NoError(t, r.valve.RequestOpenFull())
	require.NoError(t, r.valve.Run())
	assert.Equal(t, int16(100), r.valve.Position())

	// position clamps at the stops
	for i := 0; i < 20; i++ {
		now += 12 * timekeep.Second
		_ = r.valve.RequestOpenFull()
		require.NoError(t, r.valve.Run())
		pos := r.valve.Position()
		assert.GreaterOrEqual(t, pos, int16(0))
		assert.LessOrEqual(t, pos, int16(1000))
	}
	assert.Equal(t, int16(1000), r.valve.Position())
}

func TestAntiStallTrueposAfterThreeTravels(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, func(c *Config) { c.EteTime = 10 * timekeep.Second })

	// hold close continuously past 3x ete
	for i := 0; i < 8; i++ {
		_ = r.valve.RequestCloseFull()
		require.NoError(t, r.valve.Logic())
		require.NoError(t, r.valve.Run())
		now += 5 * timekeep.Second
	}
	assert.True(t, r.valve.TruePos())
	assert.Equal(t, int16(0), r.valve.Position())

	// a further close request at the stop collapses to Stop
	require.NoError(t, r.valve.RequestCloseFull())
	require.NoError(t, r.valve.Logic())
	assert.Equal(t, Stop, r.valve.requestAction)
}

func TestBangBangDeadzone(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, func(c *Config) {
		c.Algo = AlgoBangBang
		c.PI = PIParams{}
	})

	// 49.8 against a 50.0 target inside a 2K deadzone: no action
	r.temps(t, 49.8, 70, 30)
	err := r.valve.Control(temp.FromCelsius(50))
	assert.ErrorIs(t, err, errs.ErrDeadzone)
	assert.Equal(t, Stop, r.valve.requestAction)

	// well below: full open
	r.temps(t, 45, 70, 30)
	require.NoError(t, r.valve.Control(temp.FromCelsius(50)))
	assert.Equal(t, Open, r.valve.requestAction)
	assert.Equal(t, int16(1000), r.valve.targetCourse)

	// well above: full close
	r.temps(t, 55, 70, 30)
	require.NoError(t, r.valve.Control(temp.FromCelsius(50)))
	assert.Equal(t, Close, r.valve.requestAction)
}

func TestSapproxSteps(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, func(c *Config) {
		c.Algo = AlgoSapprox
		c.PI = PIParams{}
		c.Sapprox = SapproxParams{SampleIntvl: 10 * timekeep.Second, AmountPct: 5}
	})

	now = 100 * timekeep.Second
	r.temps(t, 40, 70, 30)
	require.NoError(t, r.valve.Control(temp.FromCelsius(50)))
	assert.Equal(t, Open, r.valve.requestAction)
	assert.Equal(t, int16(50), r.valve.targetCourse)

	// within the sample interval nothing changes
	now += 5 * timekeep.Second
	r.temps(t, 60, 70, 30)
	require.NoError(t, r.valve.RequestStop())
	require.NoError(t, r.valve.Control(temp.FromCelsius(50)))
	assert.Equal(t, Stop, r.valve.requestAction)

	// next sample reverses
	now += 10 * timekeep.Second
	require.NoError(t, r.valve.Control(temp.FromCelsius(50)))
	assert.Equal(t, Close, r.valve.requestAction)
	assert.Equal(t, int16(50), r.valve.targetCourse)
}

// PI warm-up: post-reset, the first live sample must emit a moderate
// opening course, not zero and not saturation.
func TestPIWarmup(t *testing.T) {
	now := 1000 * timekeep.Second
	r := newRig(t, &now, nil)

	r.temps(t, 30, 70, 30)
	target := temp.FromCelsius(50)

	// reset tick: controller initialises its state and holds
	require.NoError(t, r.valve.Control(target))
	assert.Equal(t, Stop, r.valve.requestAction)

	// first live sample
	now += 10 * timekeep.Second
	require.NoError(t, r.valve.Control(target))
	assert.Equal(t, Open, r.valve.requestAction)
	assert.Greater(t, r.valve.targetCourse, int16(0))
	assert.Less(t, r.valve.targetCourse, int16(1000))
}

func TestPISaturation(t *testing.T) {
	now := 1000 * timekeep.Second
	r := newRig(t, &now, nil)

	// target at/below the cold boundary: full close regardless of gains
	r.temps(t, 45, 70, 30)
	require.NoError(t, r.valve.Control(temp.FromCelsius(25)))
	assert.Equal(t, Close, r.valve.requestAction)
	assert.Equal(t, int16(1000), r.valve.targetCourse)

	// target at/above the hot boundary: full open
	now += 10 * timekeep.Second
	require.NoError(t, r.valve.Control(temp.FromCelsius(75)))
	assert.Equal(t, Open, r.valve.requestAction)
	assert.Equal(t, int16(1000), r.valve.targetCourse)
}

func TestPIDeadzoneResetsController(t *testing.T) {
	now := 1000 * timekeep.Second
	r := newRig(t, &now, nil)

	r.temps(t, 30, 70, 30)
	target := temp.FromCelsius(50)
	require.NoError(t, r.valve.Control(target)) // reset tick
	now += 10 * timekeep.Second
	require.NoError(t, r.valve.Control(target))
	assert.True(t, r.valve.ctrlReady)

	// output reaches the deadzone: controller disarms
	now += 10 * timekeep.Second
	r.temps(t, 49.9, 70, 30)
	err := r.valve.Control(target)
	assert.ErrorIs(t, err, errs.ErrDeadzone)
	assert.False(t, r.valve.ctrlReady)
}

func TestPIIllConditionedJacket(t *testing.T) {
	now := 1000 * timekeep.Second
	r := newRig(t, &now, func(c *Config) { c.Tdeadzone = temp.FromCelsius(0.2) })

	// hot and cold within 1K of each other: gains would explode, the
	// controller refuses to act
	r.temps(t, 44.3, 45, 44.2)
	err := r.valve.Control(temp.FromCelsius(44.8))
	assert.ErrorIs(t, err, errs.ErrDeadzone)
	assert.Equal(t, Stop, r.valve.requestAction)
}

func TestControlSensorFaultAbortsCycle(t *testing.T) {
	now := 1000 * timekeep.Second
	r := newRig(t, &now, nil)

	r.temps(t, 30, 70, 30)
	r.mock.SetFault(r.out, temp.ErrSensorDisconnected)
	require.NoError(t, r.reg.Input())

	err := r.valve.Control(temp.FromCelsius(50))
	assert.ErrorIs(t, err, temp.ErrSensorDisconnected)
	assert.Equal(t, Stop, r.valve.requestAction)
}

func TestIsolationValve(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, func(c *Config) {
		c.Kind = KindIsolation
		c.Algo = AlgoNone
		c.PI = PIParams{}
	})

	require.NoError(t, r.valve.RequestIsol(true))
	assert.Equal(t, Open, r.valve.requestAction)

	require.NoError(t, r.valve.RequestIsol(false))
	assert.Equal(t, Close, r.valve.requestAction)

	// control is a mixing-valve operation
	err := r.valve.Control(temp.FromCelsius(50))
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestIsolationReverse(t *testing.T) {
	var now timekeep.Ticks
	r := newRig(t, &now, func(c *Config) {
		c.Kind = KindIsolation
		c.Algo = AlgoNone
		c.PI = PIParams{}
		c.Reverse = true
	})

	require.NoError(t, r.valve.RequestIsol(true))
	assert.Equal(t, Close, r.valve.requestAction)
}

func TestRestorePosition(t *testing.T) {
	var now timekeep.Ticks
	setClock(t, &now)

	reg := hwbackend.NewRegistry()
	mock := mockbackend.New("proto")
	mock.AddRelay("open")
	mock.AddRelay("close")
	_, err := reg.Register(mock)
	require.NoError(t, err)
	ridOpen, _ := reg.RelayIBN("proto", "open")
	ridClose, _ := reg.RelayIBN("proto", "close")

	v, err := New(Config{
		Name: "isol", Kind: KindIsolation, Motor: Motor3Way,
		EteTime: 10 * timekeep.Second,
		RidOpen: ridOpen, RidClose: ridClose, HasClose: true,
	}, reg)
	require.NoError(t, err)

	require.NoError(t, v.RestorePosition(420, true))
	assert.Equal(t, int16(420), v.Position())
	assert.True(t, v.TruePos())

	assert.Error(t, v.RestorePosition(1500, false))

	require.NoError(t, reg.Online())
	require.NoError(t, v.Online())
	assert.ErrorIs(t, v.RestorePosition(100, false), errs.ErrInvalid)
}
