package pump_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/mockbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/pump"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

func newRig(t *testing.T, now *timekeep.Ticks) (*pump.Pump, *mockbackend.Backend, *hwbackend.Registry, int) {
	t.Helper()
	reg := hwbackend.NewRegistry()
	mock := mockbackend.New("proto")
	if now != nil {
		mock.Clock = func() timekeep.Ticks { return *now }
	}
	obj := mock.AddRelay("circulator")
	_, err := reg.Register(mock)
	require.NoError(t, err)
	rid, err := reg.RelayIBN("proto", "circulator")
	require.NoError(t, err)

	p, err := pump.New(pump.Config{Name: "circulator", Cooldown: timekeep.Minute, Rid: rid}, reg)
	require.NoError(t, err)
	require.NoError(t, reg.Online())
	require.NoError(t, p.Online())
	return p, mock, reg, obj
}

func TestRequestAndRun(t *testing.T) {
	var now timekeep.Ticks
	p, mock, reg, obj := newRig(t, &now)

	require.NoError(t, p.RequestOn(true))
	require.NoError(t, p.Run())
	require.NoError(t, reg.Output())
	assert.True(t, mock.State(obj))

	on, err := p.State()
	assert.NoError(t, err)
	assert.True(t, on)
}

func TestCooldownRidesOnRelay(t *testing.T) {
	var now timekeep.Ticks
	p, mock, reg, obj := newRig(t, &now)

	require.NoError(t, p.RequestOn(true))
	require.NoError(t, p.Run())
	require.NoError(t, reg.Output())
	require.True(t, mock.State(obj))

	// next tick nobody asks for the pump; the off commit still waits out
	// the cooldown
	now += 10 * timekeep.Second
	p.ResetRequest()
	require.NoError(t, p.Run())
	require.NoError(t, reg.Output())
	assert.True(t, mock.State(obj))

	now += timekeep.Minute
	require.NoError(t, reg.Output())
	assert.False(t, mock.State(obj))
}

// Requests from consumers sharing a pump OR together within a tick.
func TestSharedRequestsOrTogether(t *testing.T) {
	var now timekeep.Ticks
	p, _, _, _ := newRig(t, &now)

	p.ResetRequest()
	require.NoError(t, p.RequestOn(true))  // first consumer needs it
	require.NoError(t, p.RequestOn(false)) // second one does not
	assert.True(t, p.Requested(), "one consumer is enough")

	// the next tick starts from scratch
	p.ResetRequest()
	require.NoError(t, p.RequestOn(false))
	assert.False(t, p.Requested())
}

func TestForceOffOverridesRequests(t *testing.T) {
	var now timekeep.Ticks
	p, _, _, _ := newRig(t, &now)

	p.ResetRequest()
	require.NoError(t, p.RequestOn(true))
	require.NoError(t, p.ForceOff())
	assert.False(t, p.Requested())
}

func TestLifecycleErrors(t *testing.T) {
	reg := hwbackend.NewRegistry()
	mock := mockbackend.New("proto")
	mock.AddRelay("circulator")
	_, err := reg.Register(mock)
	require.NoError(t, err)
	rid, _ := reg.RelayIBN("proto", "circulator")

	p, err := pump.New(pump.Config{Name: "circulator", Rid: rid}, reg)
	require.NoError(t, err)

	// not online yet
	assert.ErrorIs(t, p.RequestOn(true), errs.ErrOffline)
	assert.ErrorIs(t, p.Run(), errs.ErrOffline)

	require.NoError(t, reg.Online())
	require.NoError(t, p.Online())
	require.NoError(t, p.Offline())
	assert.ErrorIs(t, p.RequestOn(true), errs.ErrOffline)
}

func TestNewRequiresName(t *testing.T) {
	_, err := pump.New(pump.Config{}, hwbackend.NewRegistry())
	assert.ErrorIs(t, err, errs.ErrMisconfigured)
}
