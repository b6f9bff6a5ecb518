// Package bmodel is the building thermal model: a first-order low-pass of
// the outdoor temperature with time constant tau, and the summer / frost
// flags derived from it with hysteresis.
package bmodel

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
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

type Config struct {
	Name       string
	TidOutdoor hwbackend.SensorID
	Tau        timekeep.Ticks

	// TSummer above which (filtered) the building needs no heating;
	// TFrost below which (filtered) frost protection engages.
	TSummer temp.Temp
	TFrost  temp.Temp
	// Hysteresis applies symmetrically to both thresholds.
	Hysteresis temp.Temp
}

type Model struct {
	cfg Config
	reg *hwbackend.Registry

	configured bool
	online     bool

	filtered   temp.Temp
	seeded     bool
	lastUpdate timekeep.Ticks
	summer     bool
	frost      bool
}

func New(cfg Config, reg *hwbackend.Registry) (*Model, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("bmodel needs a name: %w", errs.ErrMisconfigured)
	}
	if cfg.Tau <= 0 {
		return nil, fmt.Errorf("bmodel %q: tau must be positive: %w", cfg.Name, errs.ErrMisconfigured)
	}
	if cfg.Hysteresis <= 0 {
		cfg.Hysteresis = temp.Kelvin
	}
	return &Model{cfg: cfg, reg: reg, configured: true}, nil
}

func (m *Model) Name() string { return m.cfg.Name }

func (m *Model) Online() error {
	if !m.configured {
		return errs.ErrNotConfigured
	}
	if _, err := m.reg.CloneTime(m.cfg.TidOutdoor); err != nil {
		return fmt.Errorf("bmodel %q outdoor sensor: %w", m.cfg.Name, err)
	}
	m.online = true
	m.seeded = false
	m.lastUpdate = clock()
	return nil
}

// Run folds the current outdoor reading into the filter and refreshes the
// summer and frost flags. A failed sensor keeps the previous filter state.
func (m *Model) Run() error {
	if !m.online {
		return errs.ErrOffline
	}
	now := clock()
	dt := now - m.lastUpdate
	m.lastUpdate = now

	outdoor, err := m.reg.CloneTemp(m.cfg.TidOutdoor)
	if err != nil {
		return fmt.Errorf("bmodel %q outdoor sensor: %w", m.cfg.Name, err)
	}

	if !m.seeded {
		m.filtered = outdoor
		m.seeded = true
	} else if dt > 0 {
		// first-order low-pass: filtered += dt/(tau+dt) * (outdoor-filtered)
		delta := int64(outdoor) - int64(m.filtered)
		m.filtered += temp.Temp(delta * int64(dt) / int64(m.cfg.Tau+dt))
	}

	h := m.cfg.Hysteresis / 2
	if m.summer {
		if m.filtered < m.cfg.TSummer-h {
			m.summer = false
			log.Info().Str("bmodel", m.cfg.Name).Float64("outdoor", m.filtered.Celsius()).Msg("leaving summer")
		}
	} else if m.filtered > m.cfg.TSummer+h {
		m.summer = true
		log.Info().Str("bmodel", m.cfg.Name).Float64("outdoor", m.filtered.Celsius()).Msg("entering summer")
	}

	if m.frost {
		if m.filtered > m.cfg.TFrost+h {
			m.frost = false
			log.Info().Str("bmodel", m.cfg.Name).Float64("outdoor", m.filtered.Celsius()).Msg("frost condition cleared")
		}
	} else if m.filtered < m.cfg.TFrost-h {
		m.frost = true
		log.Warn().Str("bmodel", m.cfg.Name).Float64("outdoor", m.filtered.Celsius()).Msg("frost condition")
	}

	return nil
}

// Outdoor returns the filtered outdoor temperature.
func (m *Model) Outdoor() (temp.Temp, error) {
	if !m.online {
		return 0, errs.ErrOffline
	}
	if !m.seeded {
		return 0, errs.ErrEmpty
	}
	return m.filtered, nil
}

// Summer reports whether the building needs no heating.
func (m *Model) Summer() bool { return m.online && m.summer }

// Frost reports whether frost protection applies.
func (m *Model) Frost() bool { return m.online && m.frost }

func (m *Model) Offline() error {
	if !m.configured {
		return errs.ErrNotConfigured
	}
	m.online = false
	m.seeded = false
	m.summer = false
	m.frost = false
	return nil
}
