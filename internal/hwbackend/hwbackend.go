// Package hwbackend defines the hardware abstraction the plant engine
// drives: named temperature sensors and named relays behind pluggable
// backends. Entities hold (backend, object) index pairs resolved once at
// configuration time and never touch hardware APIs directly.
package hwbackend

import (
	"fmt"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// SensorID identifies a sensor as (backend index, object index).
type SensorID struct {
	Backend int
	Object  int
}

// RelayID identifies a relay as (backend index, object index).
type RelayID struct {
	Backend int
	Object  int
}

// Backend is the mandatory capability set. Input snapshots all sensors
// from hardware; Output commits pending relay requests to hardware. They
// are the only points where a backend may perform I/O: between them,
// CloneTemp and State answer from the snapshot without blocking.
type Backend interface {
	Name() string
	Online() error
	Input() error
	Output() error
	Offline() error
}

// SensorReader is the optional sensor capability.
type SensorReader interface {
	SensorByName(name string) (int, error)
	SensorName(obj int) (string, bool)
	// CloneTemp returns the snapshotted value or a sensor fault error.
	CloneTemp(obj int) (temp.Temp, error)
	// CloneTime returns the instant of the sensor's last good update.
	// After Online it always succeeds for configured sensors.
	CloneTime(obj int) timekeep.Ticks
}

// RelayDriver is the optional relay capability. State reports the
// committed (post-Output) state, never a pending request.
type RelayDriver interface {
	RelayByName(name string) (int, error)
	RelayName(obj int) (string, bool)
	State(obj int) bool
	SetState(obj int, on bool, changeDelay timekeep.Ticks) error
}

// Registry owns the backend set. Indices are assigned at registration and
// stay stable for the life of the plant.
type Registry struct {
	backends []Backend
	online   bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a backend under a unique name and returns its index.
func (r *Registry) Register(b Backend) (int, error) {
	if r.online {
		return 0, fmt.Errorf("register %q: registry already online: %w", b.Name(), errs.ErrInvalid)
	}
	for _, have := range r.backends {
		if have.Name() == b.Name() {
			return 0, fmt.Errorf("backend %q: %w", b.Name(), errs.ErrExists)
		}
	}
	r.backends = append(r.backends, b)
	return len(r.backends) - 1, nil
}

func (r *Registry) backend(i int) (Backend, error) {
	if i < 0 || i >= len(r.backends) {
		return nil, fmt.Errorf("backend index %d: %w", i, errs.ErrNotFound)
	}
	return r.backends[i], nil
}

// SensorIBN resolves (backend name, sensor name) to a SensorID.
func (r *Registry) SensorIBN(backendName, name string) (SensorID, error) {
	for i, b := range r.backends {
		if b.Name() != backendName {
			continue
		}
		sr, ok := b.(SensorReader)
		if !ok {
			return SensorID{}, fmt.Errorf("backend %q has no sensors: %w", backendName, errs.ErrInvalid)
		}
		obj, err := sr.SensorByName(name)
		if err != nil {
			return SensorID{}, fmt.Errorf("sensor %q@%q: %w", name, backendName, err)
		}
		return SensorID{Backend: i, Object: obj}, nil
	}
	return SensorID{}, fmt.Errorf("backend %q: %w", backendName, errs.ErrNotFound)
}

// RelayIBN resolves (backend name, relay name) to a RelayID.
func (r *Registry) RelayIBN(backendName, name string) (RelayID, error) {
	for i, b := range r.backends {
		if b.Name() != backendName {
			continue
		}
		rd, ok := b.(RelayDriver)
		if !ok {
			return RelayID{}, fmt.Errorf("backend %q has no relays: %w", backendName, errs.ErrInvalid)
		}
		obj, err := rd.RelayByName(name)
		if err != nil {
			return RelayID{}, fmt.Errorf("relay %q@%q: %w", name, backendName, err)
		}
		return RelayID{Backend: i, Object: obj}, nil
	}
	return RelayID{}, fmt.Errorf("backend %q: %w", backendName, errs.ErrNotFound)
}

func (r *Registry) sensors(i int) (SensorReader, error) {
	b, err := r.backend(i)
	if err != nil {
		return nil, err
	}
	sr, ok := b.(SensorReader)
	if !ok {
		return nil, fmt.Errorf("backend %q has no sensors: %w", b.Name(), errs.ErrInvalid)
	}
	return sr, nil
}

func (r *Registry) relays(i int) (RelayDriver, error) {
	b, err := r.backend(i)
	if err != nil {
		return nil, err
	}
	rd, ok := b.(RelayDriver)
	if !ok {
		return nil, fmt.Errorf("backend %q has no relays: %w", b.Name(), errs.ErrInvalid)
	}
	return rd, nil
}

// CloneTemp returns the snapshotted temperature for sid.
func (r *Registry) CloneTemp(sid SensorID) (temp.Temp, error) {
	sr, err := r.sensors(sid.Backend)
	if err != nil {
		return 0, err
	}
	return sr.CloneTemp(sid.Object)
}

// CloneTime returns the last-update instant for sid.
func (r *Registry) CloneTime(sid SensorID) (timekeep.Ticks, error) {
	sr, err := r.sensors(sid.Backend)
	if err != nil {
		return 0, err
	}
	return sr.CloneTime(sid.Object), nil
}

// SensorName returns a printable name for sid, or its indices if unknown.
func (r *Registry) SensorName(sid SensorID) string {
	if sr, err := r.sensors(sid.Backend); err == nil {
		if name, ok := sr.SensorName(sid.Object); ok {
			return name
		}
	}
	return fmt.Sprintf("sensor(%d:%d)", sid.Backend, sid.Object)
}

// State returns the committed state of rid.
func (r *Registry) State(rid RelayID) (bool, error) {
	rd, err := r.relays(rid.Backend)
	if err != nil {
		return false, err
	}
	return rd.State(rid.Object), nil
}

// SetState records a relay request, to be committed at the next Output
// once changeDelay since the last committed change has elapsed.
func (r *Registry) SetState(rid RelayID, on bool, changeDelay timekeep.Ticks) error {
	rd, err := r.relays(rid.Backend)
	if err != nil {
		return err
	}
	return rd.SetState(rid.Object, on, changeDelay)
}

// RelayName returns a printable name for rid, or its indices if unknown.
func (r *Registry) RelayName(rid RelayID) string {
	if rd, err := r.relays(rid.Backend); err == nil {
		if name, ok := rd.RelayName(rid.Object); ok {
			return name
		}
	}
	return fmt.Sprintf("relay(%d:%d)", rid.Backend, rid.Object)
}

// Online brings every backend online. Fails on the first backend error.
func (r *Registry) Online() error {
	for _, b := range r.backends {
		if err := b.Online(); err != nil {
			return fmt.Errorf("backend %q online: %w", b.Name(), err)
		}
	}
	r.online = true
	return nil
}

// Input snapshots sensors on every backend. A failing backend keeps its
// previous snapshot; the first error is returned after all backends ran.
func (r *Registry) Input() error {
	var first error
	for _, b := range r.backends {
		if err := b.Input(); err != nil && first == nil {
			first = fmt.Errorf("backend %q input: %w", b.Name(), err)
		}
	}
	return first
}

// Output commits relay requests on every backend.
func (r *Registry) Output() error {
	var first error
	for _, b := range r.backends {
		if err := b.Output(); err != nil && first == nil {
			first = fmt.Errorf("backend %q output: %w", b.Name(), err)
		}
	}
	return first
}

// Offline takes every backend offline. All backends are attempted.
func (r *Registry) Offline() error {
	var first error
	for _, b := range r.backends {
		if err := b.Offline(); err != nil && first == nil {
			first = fmt.Errorf("backend %q offline: %w", b.Name(), err)
		}
	}
	r.online = false
	return first
}
