// Package mockbackend is an in-memory hardware backend. It backs the
// engine's tests and the daemon's dry-run mode: sensors are set from code,
// relays commit into memory, and every commit is counted so tests can
// assert on switching behaviour.
package mockbackend

import (
	"fmt"
	"sync"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

type sensor struct {
	name string

	// live side, written by SetTemp/SetFault
	liveTemp  temp.Temp
	liveFault error
	liveTime  timekeep.Ticks

	// snapshot side, copied by Input
	snapTemp  temp.Temp
	snapFault error
	snapTime  timekeep.Ticks
}

type relay struct {
	core     hwbackend.RelayCore
	switches int
}

// Backend implements hwbackend.Backend, SensorReader and RelayDriver.
type Backend struct {
	name string

	mu      sync.Mutex
	sensors []*sensor
	relays  []*relay
	online  bool

	// Clock supplies commit timestamps; defaults to timekeep.Now.
	Clock func() timekeep.Ticks
}

func New(name string) *Backend {
	return &Backend{name: name, Clock: timekeep.Now}
}

// AddSensor declares a sensor and returns its object index.
func (b *Backend) AddSensor(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors = append(b.sensors, &sensor{name: name, liveFault: temp.ErrSensorInvalid})
	return len(b.sensors) - 1
}

// AddRelay declares a relay and returns its object index.
func (b *Backend) AddRelay(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relays = append(b.relays, &relay{core: hwbackend.RelayCore{Name: name}})
	return len(b.relays) - 1
}

// SetTemp sets the live value of a sensor; it becomes visible after the
// next Input.
func (b *Backend) SetTemp(obj int, t temp.Temp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sensors[obj]
	s.liveTemp = t
	s.liveFault = nil
	s.liveTime = b.Clock()
}

// SetFault marks a sensor failed with the given fault kind.
func (b *Backend) SetFault(obj int, fault error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors[obj].liveFault = fault
}

// Switches reports how many committed state changes a relay has seen.
func (b *Backend) Switches(obj int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[obj].switches
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Online() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.relays {
		r.core.Arm()
	}
	// Seed snapshots so CloneTime succeeds for configured sensors from the
	// first tick, per the backend contract.
	now := b.Clock()
	for _, s := range b.sensors {
		s.snapTemp = s.liveTemp
		s.snapFault = s.liveFault
		s.snapTime = now
		if s.liveTime > 0 {
			s.snapTime = s.liveTime
		}
	}
	b.online = true
	return nil
}

func (b *Backend) Input() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online {
		return fmt.Errorf("backend %q: %w", b.name, errs.ErrOffline)
	}
	for _, s := range b.sensors {
		s.snapTemp = s.liveTemp
		s.snapFault = s.liveFault
		if s.liveTime > 0 {
			s.snapTime = s.liveTime
		}
	}
	return nil
}

func (b *Backend) Output() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online {
		return fmt.Errorf("backend %q: %w", b.name, errs.ErrOffline)
	}
	now := b.Clock()
	for _, r := range b.relays {
		if change, _ := r.core.Commit(now); change {
			r.core.Applied(now)
			r.switches++
		}
	}
	return nil
}

func (b *Backend) Offline() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.Clock()
	for _, r := range b.relays {
		r.core.Request(false, 0)
		if change, _ := r.core.Commit(now); change {
			r.core.Applied(now)
			r.switches++
		}
	}
	b.online = false
	return nil
}

func (b *Backend) SensorByName(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.sensors {
		if s.name == name {
			return i, nil
		}
	}
	return 0, errs.ErrNotFound
}

func (b *Backend) SensorName(obj int) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if obj < 0 || obj >= len(b.sensors) {
		return "", false
	}
	return b.sensors[obj].name, true
}

func (b *Backend) CloneTemp(obj int) (temp.Temp, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sensors[obj]
	if s.snapFault != nil {
		return 0, s.snapFault
	}
	return s.snapTemp, nil
}

func (b *Backend) CloneTime(obj int) timekeep.Ticks {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sensors[obj].snapTime
}

func (b *Backend) RelayByName(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.relays {
		if r.core.Name == name {
			return i, nil
		}
	}
	return 0, errs.ErrNotFound
}

func (b *Backend) RelayName(obj int) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if obj < 0 || obj >= len(b.relays) {
		return "", false
	}
	return b.relays[obj].core.Name, true
}

func (b *Backend) State(obj int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[obj].core.State()
}

func (b *Backend) SetState(obj int, on bool, changeDelay timekeep.Ticks) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online {
		return fmt.Errorf("backend %q: %w", b.name, errs.ErrOffline)
	}
	b.relays[obj].core.Request(on, changeDelay)
	return nil
}
