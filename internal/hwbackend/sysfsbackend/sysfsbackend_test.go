package sysfsbackend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := FromMap("w1", DeviceMap{
		Sensors: []SensorSpec{{Name: "boiler", Bus: "28-0301a2791e9f"}},
		Relays:  []RelaySpec{{Name: "burner", Pin: 17, ActiveHigh: false}},
	})
	require.NoError(t, err)
	return b
}

func TestReadSensorParsesW1Slave(t *testing.T) {
	b := newTestBackend(t)

	tests := []struct {
		name     string
		content  string
		readErr  error
		expected temp.Temp
		wantErr  error
	}{
		{
			name:     "good reading",
			content:  "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n",
			expected: 23125,
		},
		{
			name:     "negative reading",
			content:  "ff fe 4b 46 7f ff 0e 10 a1 : crc=a1 YES\nff fe 4b 46 7f ff 0e 10 a1 t=-1250\n",
			expected: -1250,
		},
		{
			name:    "crc failure",
			content: "72 01 4b 46 7f ff 0e 10 57 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=23125\n",
			wantErr: temp.ErrSensorInvalid,
		},
		{
			name:    "power-on reset value",
			content: "50 05 4b 46 7f ff 0c 10 1c : crc=1c YES\n50 05 4b 46 7f ff 0c 10 1c t=85000\n",
			wantErr: temp.ErrSensorInvalid,
		},
		{
			name:    "missing t field",
			content: "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\ngarbage\n",
			wantErr: temp.ErrSensorInvalid,
		},
		{
			name:    "read failure",
			readErr: errors.New("no such device"),
			wantErr: temp.ErrSensorDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.readFile = func(string) ([]byte, error) {
				if tt.readErr != nil {
					return nil, tt.readErr
				}
				return []byte(tt.content), nil
			}
			got, err := b.readSensor("28-0301a2791e9f")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestOutputDrivesPinLevels(t *testing.T) {
	b := newTestBackend(t)

	var calls []string
	b.setPin = func(pin int, opts ...string) error {
		calls = append(calls, fmt.Sprintf("%d:%v", pin, opts))
		return nil
	}
	b.readFile = func(string) ([]byte, error) {
		return []byte("x : crc=x YES\nx t=20000\n"), nil
	}
	b.online = true

	// active-low relay: on drives low
	require.NoError(t, b.SetState(0, true, 0))
	require.NoError(t, b.Output())
	require.Len(t, calls, 1)
	assert.Equal(t, "17:[op pn dl]", calls[0])
	assert.True(t, b.State(0))

	require.NoError(t, b.SetState(0, false, 0))
	require.NoError(t, b.Output())
	require.Len(t, calls, 2)
	assert.Equal(t, "17:[op pn dh]", calls[1])
	assert.False(t, b.State(0))
}

func TestInputKeepsSnapshotOnFault(t *testing.T) {
	b := newTestBackend(t)
	good := "x : crc=x YES\nx t=21500\n"
	content := &good
	b.readFile = func(string) ([]byte, error) { return []byte(*content), nil }
	b.setPin = func(int, ...string) error { return nil }
	b.online = true

	require.NoError(t, b.Input())
	got, err := b.CloneTemp(0)
	require.NoError(t, err)
	assert.Equal(t, temp.Temp(21500), got)

	bad := "x : crc=x NO\nx t=0\n"
	content = &bad
	require.NoError(t, b.Input())
	_, err = b.CloneTemp(0)
	assert.ErrorIs(t, err, temp.ErrSensorInvalid)
}

func TestFromMapValidation(t *testing.T) {
	_, err := FromMap("w1", DeviceMap{Sensors: []SensorSpec{{Name: "x"}}})
	assert.Error(t, err, "sensor without bus")

	_, err = FromMap("w1", DeviceMap{Relays: []RelaySpec{{Pin: 4}}})
	assert.Error(t, err, "relay without name")
}

func TestNameLookups(t *testing.T) {
	b := newTestBackend(t)

	i, err := b.SensorByName("boiler")
	assert.NoError(t, err)
	name, ok := b.SensorName(i)
	assert.True(t, ok)
	assert.Equal(t, "boiler", name)

	j, err := b.RelayByName("burner")
	assert.NoError(t, err)
	rname, ok := b.RelayName(j)
	assert.True(t, ok)
	assert.Equal(t, "burner", rname)

	_, err = b.SensorByName("nope")
	assert.Error(t, err)
}
