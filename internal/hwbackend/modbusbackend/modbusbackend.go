// Package modbusbackend exposes a Modbus unit (TCP or RTU) as a hardware
// backend: input registers become temperature sensors, coils become
// relays. The register map is loaded from a YAML file.
package modbusbackend

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// DeviceMap is the YAML register table for one Modbus unit.
type DeviceMap struct {
	// URL as accepted by simonvetter/modbus, e.g. tcp://10.0.0.5:502
	// or rtu:///dev/ttyUSB0.
	URL            string       `yaml:"url"`
	UnitID         uint8        `yaml:"unit_id"`
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	Sensors        []SensorSpec `yaml:"sensors"`
	Relays         []RelaySpec  `yaml:"relays"`
}

type SensorSpec struct {
	Name     string `yaml:"name"`
	Register uint16 `yaml:"register"`
	// Scale converts the raw register value to m°C, e.g. 100 for a unit
	// reporting in 1/10 °C. Defaults to 100.
	Scale int32 `yaml:"scale"`
	// Signed interprets the register as int16 before scaling.
	Signed bool `yaml:"signed"`
}

type RelaySpec struct {
	Name string `yaml:"name"`
	Coil uint16 `yaml:"coil"`
}

type sensor struct {
	spec SensorSpec

	snapTemp  temp.Temp
	snapFault error
	snapTime  timekeep.Ticks
}

type relay struct {
	core hwbackend.RelayCore
	coil uint16
}

// client is the slice of modbus.ModbusClient the backend uses, split out
// so tests can substitute a fake.
type client interface {
	Open() error
	Close() error
	ReadRegister(addr uint16, regType modbus.RegType) (uint16, error)
	WriteCoil(addr uint16, value bool) error
}

type Backend struct {
	name    string
	dm      DeviceMap
	client  client
	sensors []*sensor
	relays  []*relay
	online  bool
}

// New builds a backend from a device-map file.
func New(name, mapPath string) (*Backend, error) {
	raw, err := os.ReadFile(mapPath)
	if err != nil {
		return nil, fmt.Errorf("device map %s: %w", mapPath, err)
	}
	var dm DeviceMap
	if err := yaml.Unmarshal(raw, &dm); err != nil {
		return nil, fmt.Errorf("device map %s: %w", mapPath, err)
	}
	return FromMap(name, dm)
}

// FromMap builds a backend from an in-memory device map.
func FromMap(name string, dm DeviceMap) (*Backend, error) {
	if dm.URL == "" {
		return nil, fmt.Errorf("modbus backend %q needs a url: %w", name, errs.ErrMisconfigured)
	}
	if dm.TimeoutSeconds <= 0 {
		dm.TimeoutSeconds = 5
	}
	b := &Backend{name: name, dm: dm}
	for _, s := range dm.Sensors {
		if s.Name == "" {
			return nil, fmt.Errorf("sensor entry needs a name: %w", errs.ErrMisconfigured)
		}
		if s.Scale == 0 {
			s.Scale = 100
		}
		b.sensors = append(b.sensors, &sensor{spec: s, snapFault: temp.ErrSensorInvalid})
	}
	for _, r := range dm.Relays {
		if r.Name == "" {
			return nil, fmt.Errorf("relay entry needs a name: %w", errs.ErrMisconfigured)
		}
		b.relays = append(b.relays, &relay{core: hwbackend.RelayCore{Name: r.Name}, coil: r.Coil})
	}
	return b, nil
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Online() error {
	if b.client == nil {
		mc, err := modbus.NewClient(&modbus.ClientConfiguration{
			URL:     b.dm.URL,
			Timeout: time.Duration(b.dm.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("modbus client %q: %w", b.dm.URL, err)
		}
		if b.dm.UnitID != 0 {
			if err := mc.SetUnitId(b.dm.UnitID); err != nil {
				return fmt.Errorf("modbus unit id %d: %w", b.dm.UnitID, err)
			}
		}
		b.client = mc
	}
	if err := b.client.Open(); err != nil {
		return fmt.Errorf("modbus open %q: %w", b.dm.URL, err)
	}
	for _, r := range b.relays {
		r.core.Arm()
		if err := b.client.WriteCoil(r.coil, false); err != nil {
			return fmt.Errorf("relay %q coil %d: %w", r.core.Name, r.coil, err)
		}
		r.core.Applied(timekeep.Now())
	}
	b.online = true
	return b.Input()
}

func (b *Backend) Input() error {
	if !b.online {
		return fmt.Errorf("backend %q: %w", b.name, errs.ErrOffline)
	}
	now := timekeep.Now()
	var first error
	for _, s := range b.sensors {
		raw, err := b.client.ReadRegister(s.spec.Register, modbus.INPUT_REGISTER)
		if err != nil {
			s.snapFault = fmt.Errorf("%w: %v", temp.ErrSensorDisconnected, err)
			log.Warn().Str("backend", b.name).Str("sensor", s.spec.Name).Err(err).Msg("register read failed")
			if first == nil {
				first = s.snapFault
			}
			continue
		}
		var val int32
		if s.spec.Signed {
			val = int32(int16(raw))
		} else {
			val = int32(raw)
		}
		s.snapTemp = temp.Temp(val * s.spec.Scale)
		s.snapFault = nil
		s.snapTime = now
	}
	return first
}

func (b *Backend) Output() error {
	if !b.online {
		return fmt.Errorf("backend %q: %w", b.name, errs.ErrOffline)
	}
	now := timekeep.Now()
	var first error
	for _, r := range b.relays {
		change, on := r.core.Commit(now)
		if !change {
			continue
		}
		if err := b.client.WriteCoil(r.coil, on); err != nil {
			if first == nil {
				first = fmt.Errorf("relay %q coil %d: %w", r.core.Name, r.coil, err)
			}
			continue
		}
		r.core.Applied(now)
	}
	return first
}

func (b *Backend) Offline() error {
	if b.client == nil {
		return nil
	}
	var first error
	for _, r := range b.relays {
		if err := b.client.WriteCoil(r.coil, false); err != nil && first == nil {
			first = fmt.Errorf("relay %q coil %d: %w", r.core.Name, r.coil, err)
		}
		r.core.Request(false, 0)
		r.core.Arm()
	}
	if err := b.client.Close(); err != nil && first == nil {
		first = err
	}
	b.online = false
	return first
}

func (b *Backend) SensorByName(name string) (int, error) {
	for i, s := range b.sensors {
		if s.spec.Name == name {
			return i, nil
		}
	}
	return 0, errs.ErrNotFound
}

func (b *Backend) SensorName(obj int) (string, bool) {
	if obj < 0 || obj >= len(b.sensors) {
		return "", false
	}
	return b.sensors[obj].spec.Name, true
}

func (b *Backend) CloneTemp(obj int) (temp.Temp, error) {
	s := b.sensors[obj]
	if s.snapFault != nil {
		return 0, s.snapFault
	}
	return s.snapTemp, nil
}

func (b *Backend) CloneTime(obj int) timekeep.Ticks {
	return b.sensors[obj].snapTime
}

func (b *Backend) RelayByName(name string) (int, error) {
	for i, r := range b.relays {
		if r.core.Name == name {
			return i, nil
		}
	}
	return 0, errs.ErrNotFound
}

func (b *Backend) RelayName(obj int) (string, bool) {
	if obj < 0 || obj >= len(b.relays) {
		return "", false
	}
	return b.relays[obj].core.Name, true
}

func (b *Backend) State(obj int) bool {
	return b.relays[obj].core.State()
}

func (b *Backend) SetState(obj int, on bool, changeDelay timekeep.Ticks) error {
	if !b.online {
		return fmt.Errorf("backend %q: %w", b.name, errs.ErrOffline)
	}
	b.relays[obj].core.Request(on, changeDelay)
	return nil
}
