// Package pump models a circulator pump behind a single relay. Consumers
// only request a state; the request is pushed to the relay once per tick
// by Run, with the pump's cooldown as the relay's minimum state time.
package pump

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

type Config struct {
	Name     string
	Cooldown timekeep.Ticks
	Rid      hwbackend.RelayID
}

type Pump struct {
	cfg        Config
	reg        *hwbackend.Registry
	configured bool
	online     bool
	requested  bool
	lastState  bool
}

func New(cfg Config, reg *hwbackend.Registry) (*Pump, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("pump needs a name: %w", errs.ErrMisconfigured)
	}
	return &Pump{cfg: cfg, reg: reg, configured: true}, nil
}

func (p *Pump) Name() string { return p.cfg.Name }

// Online verifies the relay resolves and arms the pump.
func (p *Pump) Online() error {
	if !p.configured {
		return errs.ErrNotConfigured
	}
	if _, err := p.reg.State(p.cfg.Rid); err != nil {
		return fmt.Errorf("pump %q relay: %w", p.cfg.Name, err)
	}
	p.online = true
	p.requested = false
	return nil
}

// ResetRequest clears the accumulated request. The plant calls this once
// at the start of every tick, before any consumer runs.
func (p *Pump) ResetRequest() {
	p.requested = false
}

// RequestOn accumulates the desired state for this tick: requests from
// multiple consumers sharing the pump OR together, so the pump runs if
// anyone needs it. RequestOn(false) is therefore a no-op; an idle
// consumer simply does not ask.
func (p *Pump) RequestOn(on bool) error {
	if !p.configured {
		return errs.ErrNotConfigured
	}
	if !p.online {
		return errs.ErrOffline
	}
	if on {
		p.requested = true
	}
	return nil
}

// ForceOff overrides the accumulated request. Only the plant uses this,
// to shed consumers during a prioritised DHW charge.
func (p *Pump) ForceOff() error {
	if !p.configured {
		return errs.ErrNotConfigured
	}
	if !p.online {
		return errs.ErrOffline
	}
	p.requested = false
	return nil
}

// Requested reports the pending request.
func (p *Pump) Requested() bool { return p.requested }

// State reports the committed relay state.
func (p *Pump) State() (bool, error) {
	if !p.configured {
		return false, errs.ErrNotConfigured
	}
	return p.reg.State(p.cfg.Rid)
}

// Run pushes the current request to the relay.
func (p *Pump) Run() error {
	if !p.configured {
		return errs.ErrNotConfigured
	}
	if !p.online {
		return errs.ErrOffline
	}
	if err := p.reg.SetState(p.cfg.Rid, p.requested, p.cfg.Cooldown); err != nil {
		return fmt.Errorf("pump %q: %w", p.cfg.Name, err)
	}
	if p.requested != p.lastState {
		log.Info().Str("pump", p.cfg.Name).Bool("on", p.requested).Msg("pump state requested")
		p.lastState = p.requested
	}
	return nil
}

// Offline releases the pump. The relay itself is driven safe by the
// backend's offline sequence.
func (p *Pump) Offline() error {
	if !p.configured {
		return errs.ErrNotConfigured
	}
	p.requested = false
	p.online = false
	return nil
}
