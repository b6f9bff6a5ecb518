// Package sysfsbackend drives DS18B20 1-Wire temperature sensors through
// the kernel's w1 sysfs interface and relays through the Raspberry Pi
// pinctrl utility. The device map (object names to bus ids and pins) is
// loaded from a YAML file.
package sysfsbackend

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/pinctrl"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

const w1Root = "/sys/bus/w1/devices"

// ds18b20PowerOn is the chip's power-on reset value; seeing it exactly
// means the conversion never ran.
const ds18b20PowerOn temp.Temp = 85000

// DeviceMap is the YAML device table for one backend instance.
type DeviceMap struct {
	Sensors []SensorSpec `yaml:"sensors"`
	Relays  []RelaySpec  `yaml:"relays"`
}

type SensorSpec struct {
	Name string `yaml:"name"`
	Bus  string `yaml:"bus"`
}

type RelaySpec struct {
	Name       string `yaml:"name"`
	Pin        int    `yaml:"pin"`
	ActiveHigh bool   `yaml:"active_high"`
}

type sensor struct {
	name string
	bus  string

	snapTemp  temp.Temp
	snapFault error
	snapTime  timekeep.Ticks
}

type relay struct {
	core       hwbackend.RelayCore
	pin        int
	activeHigh bool
}

type Backend struct {
	name    string
	w1Root  string
	sensors []*sensor
	relays  []*relay
	online  bool

	// seams for tests; production uses the package defaults
	readFile func(string) ([]byte, error)
	setPin   func(pin int, opts ...string) error
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
	b := &Backend{
		name:     name,
		w1Root:   w1Root,
		readFile: os.ReadFile,
		setPin:   pinctrl.SetPin,
	}
	for _, s := range dm.Sensors {
		if s.Name == "" || s.Bus == "" {
			return nil, fmt.Errorf("sensor entry needs name and bus: %w", errs.ErrMisconfigured)
		}
		b.sensors = append(b.sensors, &sensor{name: s.Name, bus: s.Bus, snapFault: temp.ErrSensorInvalid})
	}
	for _, r := range dm.Relays {
		if r.Name == "" {
			return nil, fmt.Errorf("relay entry needs a name: %w", errs.ErrMisconfigured)
		}
		b.relays = append(b.relays, &relay{
			core:       hwbackend.RelayCore{Name: r.Name},
			pin:        r.Pin,
			activeHigh: r.ActiveHigh,
		})
	}
	return b, nil
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Online() error {
	for _, s := range b.sensors {
		if _, err := os.Stat(filepath.Join(b.w1Root, s.bus)); err != nil {
			return fmt.Errorf("sensor %q bus %q: %w", s.name, s.bus, errs.ErrMisconfigured)
		}
	}
	// configure every relay pin as output, driven safe
	for _, r := range b.relays {
		r.core.Arm()
		if err := b.drive(r, false); err != nil {
			return fmt.Errorf("relay %q pin %d: %w", r.core.Name, r.pin, err)
		}
		r.core.Applied(timekeep.Now())
	}
	// prime sensor snapshots so the first tick has data
	b.online = true
	return b.Input()
}

func (b *Backend) Input() error {
	if !b.online {
		return fmt.Errorf("backend %q: %w", b.name, errs.ErrOffline)
	}
	now := timekeep.Now()
	for _, s := range b.sensors {
		t, err := b.readSensor(s.bus)
		if err != nil {
			// keep the previous snapshot value but expose the fault
			s.snapFault = err
			log.Warn().Str("backend", b.name).Str("sensor", s.name).Err(err).Msg("sensor read failed")
			continue
		}
		s.snapTemp = t
		s.snapFault = nil
		s.snapTime = now
	}
	return nil
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
		if err := b.drive(r, on); err != nil {
			if first == nil {
				first = fmt.Errorf("relay %q: %w", r.core.Name, err)
			}
			continue
		}
		r.core.Applied(now)
	}
	return first
}

func (b *Backend) Offline() error {
	var first error
	for _, r := range b.relays {
		if err := b.drive(r, false); err != nil && first == nil {
			first = fmt.Errorf("relay %q: %w", r.core.Name, err)
		}
		r.core.Request(false, 0)
		r.core.Arm()
	}
	b.online = false
	return first
}

// drive sets the physical pin level for the logical state.
func (b *Backend) drive(r *relay, on bool) error {
	level := "dl"
	if on == r.activeHigh {
		level = "dh"
	}
	return b.setPin(r.pin, "op", "pn", level)
}

// readSensor parses a w1_slave file:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func (b *Backend) readSensor(bus string) (temp.Temp, error) {
	data, err := b.readFile(filepath.Join(b.w1Root, bus, "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", temp.ErrSensorDisconnected, err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("%w: truncated w1_slave", temp.ErrSensorInvalid)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("%w: bad crc", temp.ErrSensorInvalid)
	}
	parts := strings.Split(lines[1], "t=")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: missing t= field", temp.ErrSensorInvalid)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", temp.ErrSensorInvalid, err)
	}
	t := temp.Temp(milli)
	if t == ds18b20PowerOn {
		return 0, fmt.Errorf("%w: power-on reset value", temp.ErrSensorInvalid)
	}
	return t, nil
}

func (b *Backend) SensorByName(name string) (int, error) {
	for i, s := range b.sensors {
		if s.name == name {
			return i, nil
		}
	}
	return 0, errs.ErrNotFound
}

func (b *Backend) SensorName(obj int) (string, bool) {
	if obj < 0 || obj >= len(b.sensors) {
		return "", false
	}
	return b.sensors[obj].name, true
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
