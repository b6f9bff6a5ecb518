package plant

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/dhwt"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/heatsource"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/valve"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
)

// demandState accumulates one heat source's aggregation for a tick.
type demandState struct {
	circDemand temp.Temp
	circActive bool
	dhwDemand  temp.Temp
	dhwActive  bool
	// shedCircuits pauses circuit feed pumps for the charge duration
	// (sliding priority); suppress drops their requests entirely
	// (absolute priority).
	shedCircuits bool
	suppress     bool
}

// Tick runs one control cycle: phases 1-8 of the plant loop. Entity
// faults are localised and logged; the tick always runs to completion so
// healthy entities keep controlling.
func (p *Plant) Tick() {
	if !p.online {
		return
	}
	sys := p.SysMode()

	// 1. snapshot all sensors
	if err := p.reg.Input(); err != nil {
		log.Warn().Err(err).Msg("backend input incomplete, using last snapshot")
	}

	// pump requests OR-accumulate across consumers; start the tick clean
	for _, pm := range p.pumps {
		pm.ResetRequest()
	}

	if sys == model.SysManual {
		p.tickManual()
		return
	}

	// 2. building models
	for _, m := range p.bmodels {
		if err := m.Run(); err != nil {
			log.Warn().Str("bmodel", m.Name()).Err(err).Msg("bmodel run")
		}
	}

	states := make([]demandState, len(p.sources))

	// 3a. tanks first: their charge state gates circuit shedding
	for _, t := range p.dhwts {
		mode := model.ResolveRunMode(t.RunModeCfg(), sys, p.cfg.AutoRunMode)
		demand, charging, err := t.Run(mode)
		if err != nil && !errors.Is(err, errs.ErrDeadzone) {
			log.Warn().Str("dhwt", t.Name()).Err(err).Msg("dhwt run")
			continue
		}
		if !charging {
			continue
		}
		st := &states[p.dhwtSource[t]]
		if demand > 0 {
			st.dhwDemand = temp.Max(st.dhwDemand, demand)
			st.dhwActive = true
		}
		switch t.CPrio() {
		case dhwt.PrioAbsolute:
			st.suppress = true
		case dhwt.PrioSlidMax, dhwt.PrioSlidDHW:
			st.shedCircuits = true
		}
	}

	// 3b. heating circuits
	for _, c := range p.circuits {
		mode := model.ResolveRunMode(c.RunModeCfg(), sys, p.cfg.AutoRunMode)
		if sys == model.SysDHWOnly {
			mode = model.RunDHWOnly
		}
		st := &states[p.circuitSource[c]]
		if st.suppress {
			mode = model.RunOff
		}
		demand, active, err := c.Run(mode)
		if err != nil {
			log.Warn().Str("hcircuit", c.Name()).Err(err).Msg("hcircuit run")
			continue
		}
		if active {
			st.circDemand = temp.Max(st.circDemand, demand)
			st.circActive = true
		}
	}

	// 4+5. aggregate per heat source and drive it
	for i, b := range p.sources {
		st := &states[i]
		demand, active := p.aggregate(i, st)
		status, err := b.Run(demand, active, sys)
		if err != nil {
			log.Warn().Str("heatsource", b.Name()).Err(err).Msg("heatsource run")
		}
		if status.Dump {
			p.dumpHeat(i)
		}
		if st.shedCircuits && !status.Dump {
			p.shedCircuits(i, b, st)
		}
	}

	p.summerMaintenance(sys)

	// 6. valves: logic, control, run
	p.runValves(false)

	// 7. pumps
	p.runPumps(false)

	// 8. commit relays
	if err := p.reg.Output(); err != nil {
		log.Warn().Err(err).Msg("backend output incomplete")
	}
}

// aggregate merges DHW and circuit demands under the charge priorities.
func (p *Plant) aggregate(i int, st *demandState) (temp.Temp, bool) {
	switch {
	case !st.dhwActive:
		return st.circDemand, st.circActive
	case st.suppress:
		return st.dhwDemand, true
	}
	// any *dhw-typed priority serves the charge alone; the max variants
	// serve both
	dhwOnly := false
	for _, t := range p.dhwts {
		if p.dhwtSource[t] != i {
			continue
		}
		if t.Charging() && (t.CPrio() == dhwt.PrioParalDHW || t.CPrio() == dhwt.PrioSlidDHW) {
			dhwOnly = true
			break
		}
	}
	if dhwOnly {
		return st.dhwDemand, true
	}
	if st.circActive {
		return temp.Max(st.dhwDemand, st.circDemand), true
	}
	return st.dhwDemand, true
}

// shedCircuits pauses circuit feed pumps bound to source i while the
// source is still below the charge demand (sliding priority).
func (p *Plant) shedCircuits(i int, b *heatsource.Boiler, st *demandState) {
	tsource, err := b.Temp()
	if err != nil || tsource >= st.dhwDemand {
		return
	}
	for _, c := range p.circuits {
		if p.circuitSource[c] != i {
			continue
		}
		if feed := c.Feed(); feed != nil {
			if err := feed.ForceOff(); err != nil {
				log.Warn().Str("hcircuit", c.Name()).Err(err).Msg("shed feed pump")
			}
		}
	}
}

// dumpHeat opens every consumer of source i so excess heat has somewhere
// to go.
func (p *Plant) dumpHeat(i int) {
	log.Warn().Msg("dumping heat through consumers")
	for _, c := range p.circuits {
		if p.circuitSource[c] != i {
			continue
		}
		if feed := c.Feed(); feed != nil {
			if err := feed.RequestOn(true); err != nil {
				log.Warn().Str("hcircuit", c.Name()).Err(err).Msg("dump feed pump")
			}
		}
		if mix := c.Mix(); mix != nil {
			if err := mix.RequestOpenFull(); err != nil && !errors.Is(err, errs.ErrDeadband) {
				log.Warn().Str("hcircuit", c.Name()).Err(err).Msg("dump valve")
			}
		}
	}
	for _, t := range p.dhwts {
		if p.dhwtSource[t] != i {
			continue
		}
		if feed := t.Feed(); feed != nil {
			if err := feed.RequestOn(true); err != nil {
				log.Warn().Str("dhwt", t.Name()).Err(err).Msg("dump feed pump")
			}
		}
	}
}

// runValves executes phase 6. With force50 (manual mode) every mixing
// valve courses toward mid-travel instead of algorithmic control.
func (p *Plant) runValves(force50 bool) {
	// shared valves take the max of their consumers' targets
	targets := make(map[*valve.Valve]temp.Temp)
	claim := func(v *valve.Valve, target temp.Temp) {
		if have, ok := targets[v]; ok {
			target = temp.Max(have, target)
		}
		targets[v] = target
	}
	if !force50 {
		for _, c := range p.circuits {
			if mix := c.Mix(); mix != nil {
				if target, ok := c.WaterTarget(); ok {
					claim(mix, target)
				}
			}
		}
		for _, b := range p.sources {
			if ret := b.RetValve(); ret != nil {
				if target, ok := b.RetTarget(); ok {
					claim(ret, target)
				}
			}
		}
	}
	for _, v := range p.valves {
		if err := v.Logic(); err != nil && !errors.Is(err, errs.ErrDeadband) {
			log.Warn().Str("valve", v.Name()).Err(err).Msg("valve logic")
		}
		if force50 && v.Kind() == valve.KindMixing {
			if err := v.RequestPth(500 - v.Position()); err != nil && !errors.Is(err, errs.ErrDeadband) {
				log.Warn().Str("valve", v.Name()).Err(err).Msg("manual course")
			}
		} else if target, ok := targets[v]; ok {
			if err := v.Control(target); err != nil && !errors.Is(err, errs.ErrDeadzone) && !errors.Is(err, errs.ErrDeadband) {
				log.Warn().Str("valve", v.Name()).Err(err).Msg("valve control")
			}
		}
		if err := v.Run(); err != nil {
			log.Warn().Str("valve", v.Name()).Err(err).Msg("valve run")
		}
	}
}

// runPumps executes phase 7. With forceOn (manual mode) every pump
// request is overridden on first.
func (p *Plant) runPumps(forceOn bool) {
	for _, pm := range p.pumps {
		if forceOn {
			if err := pm.RequestOn(true); err != nil {
				log.Warn().Str("pump", pm.Name()).Err(err).Msg("pump force")
			}
		}
		if err := pm.Run(); err != nil {
			log.Warn().Str("pump", pm.Name()).Err(err).Msg("pump run")
		}
	}
}

// tickManual exercises every actuator for commissioning: pumps on, mixing
// valves to mid-travel, isolation valves open, burners off.
func (p *Plant) tickManual() {
	for _, b := range p.sources {
		b.ForceOff()
	}
	for _, v := range p.valves {
		if v.Kind() == valve.KindIsolation {
			if err := v.RequestIsol(true); err != nil && !errors.Is(err, errs.ErrDeadband) {
				log.Warn().Str("valve", v.Name()).Err(err).Msg("manual isolation")
			}
		}
	}
	p.runValves(true)
	p.runPumps(true)
	if err := p.reg.Output(); err != nil {
		log.Warn().Err(err).Msg("backend output incomplete")
	}
}

// summerMaintenance periodically exercises pumps and valves while the
// plant idles through summer, so nothing seizes. Pumps run first, then
// valves travel, so the valves move water.
func (p *Plant) summerMaintenance(sys model.SystemMode) {
	if !p.cfg.SummerMaintenance {
		return
	}
	summer := len(p.bmodels) > 0
	for _, m := range p.bmodels {
		if !m.Summer() {
			summer = false
			break
		}
	}
	if !summer || sys == model.SysOff || sys == model.SysTest {
		return
	}
	now := clock()
	if p.summerRunUntil == 0 || now > p.summerRunUntil {
		if p.summerRunUntil != 0 && now-p.lastSummerRun < p.cfg.SummerRunIntvl {
			return
		}
		p.lastSummerRun = now
		p.summerRunUntil = now + p.cfg.SummerRunDuration
		log.Info().Msg("summer maintenance run starting")
	}
	if now <= p.summerRunUntil {
		for _, pm := range p.pumps {
			if err := pm.RequestOn(true); err != nil {
				log.Warn().Str("pump", pm.Name()).Err(err).Msg("maintenance pump")
			}
		}
		for _, v := range p.valves {
			if v.Kind() != valve.KindMixing {
				continue
			}
			course := int16(1000 - v.Position())
			if v.Position() > 500 {
				course = -v.Position()
			}
			if err := v.RequestPth(course); err != nil && !errors.Is(err, errs.ErrDeadband) {
				log.Warn().Str("valve", v.Name()).Err(err).Msg("maintenance course")
			}
		}
	}
}
