package plant

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/storage"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// Blob layout versions. Bump on any field change: restore then falls back
// to cold start rather than misreading old state.
const (
	valveStateVersion   storage.Version = 1
	dhwtStateVersion    storage.Version = 2
	sourceStateVersion  storage.Version = 1
	circuitStateVersion storage.Version = 1
)

type valveBlob struct {
	Position int16 `json:"position"`
	TruePos  bool  `json:"true_pos"`
}

type dhwtBlob struct {
	Charging       bool           `json:"charging"`
	LastLegionella timekeep.Ticks `json:"last_legionella"`
}

type sourceBlob struct {
	Antifreeze bool `json:"antifreeze"`
}

type circuitBlob struct {
	LastWater temp.Temp `json:"last_water"`
}

// SaveState persists per-entity runtime state. Best effort: the first
// error is returned but every entity is attempted.
func (p *Plant) SaveState(st *storage.Store) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, v := range p.valves {
		blob, err := json.Marshal(valveBlob{Position: v.Position(), TruePos: v.TruePos()})
		if err != nil {
			keep(err)
			continue
		}
		keep(st.Put("valve/"+v.Name(), valveStateVersion, blob))
	}
	for _, t := range p.dhwts {
		blob, err := json.Marshal(dhwtBlob{Charging: t.Charging(), LastLegionella: t.LastLegionella()})
		if err != nil {
			keep(err)
			continue
		}
		keep(st.Put("dhwt/"+t.Name(), dhwtStateVersion, blob))
	}
	for _, c := range p.circuits {
		water, ok := c.LastWater()
		if !ok {
			keep(st.Delete("hcircuit/" + c.Name()))
			continue
		}
		blob, err := json.Marshal(circuitBlob{LastWater: water})
		if err != nil {
			keep(err)
			continue
		}
		keep(st.Put("hcircuit/"+c.Name(), circuitStateVersion, blob))
	}
	for _, b := range p.sources {
		blob, err := json.Marshal(sourceBlob{Antifreeze: b.Antifreeze()})
		if err != nil {
			keep(err)
			continue
		}
		keep(st.Put("heatsource/"+b.Name(), sourceStateVersion, blob))
	}
	return first
}

// RestoreState reinstates persisted runtime state before Online. Missing
// or version-mismatched blobs are skipped: the entity cold-starts.
func (p *Plant) RestoreState(st *storage.Store) {
	skip := func(err error) bool {
		if err == nil {
			return false
		}
		if !errors.Is(err, errs.ErrNotFound) {
			log.Warn().Err(err).Msg("state restore skipped")
		}
		return true
	}
	for _, v := range p.valves {
		raw, err := st.Fetch("valve/"+v.Name(), valveStateVersion)
		if skip(err) {
			continue
		}
		var blob valveBlob
		if err := json.Unmarshal(raw, &blob); err != nil {
			log.Warn().Str("valve", v.Name()).Err(err).Msg("state blob unreadable")
			continue
		}
		if err := v.RestorePosition(blob.Position, blob.TruePos); err != nil {
			log.Warn().Str("valve", v.Name()).Err(err).Msg("position restore rejected")
		}
	}
	for _, t := range p.dhwts {
		raw, err := st.Fetch("dhwt/"+t.Name(), dhwtStateVersion)
		if skip(err) {
			continue
		}
		var blob dhwtBlob
		if err := json.Unmarshal(raw, &blob); err != nil {
			log.Warn().Str("dhwt", t.Name()).Err(err).Msg("state blob unreadable")
			continue
		}
		t.RestoreLastLegionella(blob.LastLegionella)
		t.RestoreCharging(blob.Charging)
		if blob.Charging {
			log.Info().Str("dhwt", t.Name()).Msg("resuming interrupted charge cycle")
		}
	}
	for _, c := range p.circuits {
		raw, err := st.Fetch("hcircuit/"+c.Name(), circuitStateVersion)
		if skip(err) {
			continue
		}
		var blob circuitBlob
		if err := json.Unmarshal(raw, &blob); err != nil {
			log.Warn().Str("hcircuit", c.Name()).Err(err).Msg("state blob unreadable")
			continue
		}
		// seed the rate-of-rise reference so a restart cannot slew the
		// water temperature faster than a running plant could
		c.RestoreLastWater(blob.LastWater)
	}
	for _, b := range p.sources {
		raw, err := st.Fetch("heatsource/"+b.Name(), sourceStateVersion)
		if skip(err) {
			continue
		}
		var blob sourceBlob
		if err := json.Unmarshal(raw, &blob); err != nil {
			continue
		}
		b.RestoreAntifreeze(blob.Antifreeze)
		if blob.Antifreeze {
			log.Warn().Str("heatsource", b.Name()).Msg("went down in anti-freeze condition, protection re-armed")
		}
	}
}
