package plant

import (
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

// Snapshot is a read-only copy of observable plant state for telemetry
// exporters. It is taken between ticks and carries no references into the
// live entity graph.
type Snapshot struct {
	SysMode  model.SystemMode
	Pumps    []PumpState
	Valves   []ValveState
	Bmodels  []BmodelState
	Tanks    []TankState
	Circuits []CircuitState
	Sources  []SourceState
}

type PumpState struct {
	Name string
	On   bool
}

type ValveState struct {
	Name     string
	Position int16
	TruePos  bool
}

type BmodelState struct {
	Name      string
	OutdoorC  float64
	HasOutdoor bool
	Summer    bool
	Frost     bool
}

type TankState struct {
	Name     string
	Charging bool
	Electric bool
}

type CircuitState struct {
	Name         string
	Active       bool
	WaterTargetC float64
}

type SourceState struct {
	Name       string
	TargetC    float64
	TempC      float64
	HasTemp    bool
	Burner1    bool
	Burner2    bool
	Antifreeze bool
	Dump       bool
}

// TakeSnapshot captures the current plant state.
func (p *Plant) TakeSnapshot() Snapshot {
	snap := Snapshot{SysMode: p.SysMode()}
	for _, pm := range p.pumps {
		on, err := pm.State()
		snap.Pumps = append(snap.Pumps, PumpState{Name: pm.Name(), On: err == nil && on})
	}
	for _, v := range p.valves {
		snap.Valves = append(snap.Valves, ValveState{Name: v.Name(), Position: v.Position(), TruePos: v.TruePos()})
	}
	for _, m := range p.bmodels {
		st := BmodelState{Name: m.Name(), Summer: m.Summer(), Frost: m.Frost()}
		if outdoor, err := m.Outdoor(); err == nil {
			st.OutdoorC = outdoor.Celsius()
			st.HasOutdoor = true
		}
		snap.Bmodels = append(snap.Bmodels, st)
	}
	for _, t := range p.dhwts {
		snap.Tanks = append(snap.Tanks, TankState{Name: t.Name(), Charging: t.Charging(), Electric: t.Electric()})
	}
	for _, c := range p.circuits {
		st := CircuitState{Name: c.Name(), Active: c.Active()}
		if target, ok := c.WaterTarget(); ok {
			st.WaterTargetC = target.Celsius()
		}
		snap.Circuits = append(snap.Circuits, st)
	}
	for _, b := range p.sources {
		status := b.Status()
		st := SourceState{
			Name:       b.Name(),
			TargetC:    status.Target.Celsius(),
			Burner1:    status.Burner1,
			Burner2:    status.Burner2,
			Antifreeze: status.Antifreeze,
			Dump:       status.Dump,
		}
		if t, err := b.Temp(); err == nil {
			st.TempC = t.Celsius()
			st.HasTemp = true
		}
		snap.Sources = append(snap.Sources, st)
	}
	return snap
}
