package config

import (
	"github.com/thatsimonsguy/hydronic-controller/internal/isc"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// Dump renders the configuration in canonical form. Parse(Dump(f))
// reproduces f exactly.
func (f *File) Dump() string {
	var nodes []*isc.Node

	backends := block("backends", "")
	for _, b := range f.Backends {
		n := block("backend", b.Name, str("type", b.Type))
		if b.DeviceMap != "" {
			n.Children = append(n.Children, str("device_map", b.DeviceMap))
		}
		backends.Children = append(backends.Children, n)
	}
	nodes = append(nodes, backends)

	nodes = append(nodes, &isc.Node{Key: "scheduler", Kind: isc.KindBlock, Children: f.Scheduler})

	def := block("defconfig", "", str("startup_sysmode", f.Defconfig.StartupSysmode))
	if f.Defconfig.AutoRunmode != "" {
		def.Children = append(def.Children, str("auto_runmode", f.Defconfig.AutoRunmode))
	}
	if f.Defconfig.TickInterval != 0 {
		def.Children = append(def.Children, dur("tick_interval", f.Defconfig.TickInterval))
	}
	if f.Defconfig.SummerMaintenance {
		def.Children = append(def.Children,
			boolean("summer_maintenance", true),
			dur("summer_run_interval", f.Defconfig.SummerRunIntvl),
			dur("summer_run_duration", f.Defconfig.SummerRunDuration))
	}
	nodes = append(nodes, def)

	if len(f.Models) > 0 {
		models := block("models", "")
		for _, m := range f.Models {
			n := block("bmodel", m.Name,
				sensorRef("tid_outdoor", m.TidOutdoor),
				dur("tau", m.Tau),
				flt("t_summer", m.TSummer),
				flt("t_frost", m.TFrost))
			if m.Hysteresis != 0 {
				n.Children = append(n.Children, flt("hysteresis", m.Hysteresis))
			}
			models.Children = append(models.Children, n)
		}
		nodes = append(nodes, models)
	}

	if f.Storage.Path != "" {
		nodes = append(nodes, block("storage", "", str("path", f.Storage.Path)))
	}
	if f.Logging.Level != "" {
		nodes = append(nodes, block("logging", "", str("level", f.Logging.Level)))
	}

	plant := block("plant", "")
	for _, p := range f.Plant.Pumps {
		n := block("pump", p.Name)
		if p.Cooldown != 0 {
			n.Children = append(n.Children, dur("cooldown_time", p.Cooldown))
		}
		n.Children = append(n.Children, relayRef("rid", p.Rid))
		plant.Children = append(plant.Children, n)
	}
	for _, v := range f.Plant.Valves {
		plant.Children = append(plant.Children, dumpValve(v))
	}
	for _, h := range f.Plant.Heatsources {
		plant.Children = append(plant.Children, dumpHeatsource(h))
	}
	for _, d := range f.Plant.DHWTs {
		plant.Children = append(plant.Children, dumpDHWT(d))
	}
	for _, h := range f.Plant.HCircuits {
		plant.Children = append(plant.Children, dumpHCircuit(h))
	}
	nodes = append(nodes, plant)

	return isc.Dump(nodes)
}

func block(key, label string, children ...*isc.Node) *isc.Node {
	return &isc.Node{Key: key, Label: label, Kind: isc.KindBlock, Children: children}
}

func str(key, val string) *isc.Node {
	return &isc.Node{Key: key, Kind: isc.KindString, Str: val}
}

func boolean(key string, val bool) *isc.Node {
	return &isc.Node{Key: key, Kind: isc.KindBool, Bool: val}
}

func integer(key string, val int64) *isc.Node {
	return &isc.Node{Key: key, Kind: isc.KindInt, Int: val}
}

func flt(key string, val float64) *isc.Node {
	return &isc.Node{Key: key, Kind: isc.KindFloat, Float: val}
}

func dur(key string, val timekeep.Ticks) *isc.Node {
	return &isc.Node{Key: key, Kind: isc.KindDuration, Duration: val}
}

func sensorRef(key string, ref SensorRef) *isc.Node {
	return block(key, "", str("backend", ref.Backend), str("name", ref.Name))
}

func relayRef(key string, ref RelayRef) *isc.Node {
	return block(key, "", str("backend", ref.Backend), str("name", ref.Name))
}

func dumpValve(v ValveDef) *isc.Node {
	n := block("valve", v.Name,
		str("kind", v.Kind),
		str("motor", v.Motor),
		dur("ete_time", v.EteTime))
	if v.Deadband != 0 {
		n.Children = append(n.Children, integer("deadband", v.Deadband))
	}
	if v.Tdeadzone != 0 {
		n.Children = append(n.Children, flt("tdeadzone", v.Tdeadzone))
	}
	if v.Reverse {
		n.Children = append(n.Children, boolean("reverse", true))
	}
	switch {
	case v.PI != nil:
		n.Children = append(n.Children, block("algo", "pi",
			dur("sample_intvl", v.PI.SampleIntvl),
			dur("tu", v.PI.Tu),
			dur("td", v.PI.Td),
			integer("tune_f", v.PI.TuneF),
			flt("ksmax", v.PI.Ksmax)))
	case v.Sapprox != nil:
		n.Children = append(n.Children, block("algo", "sapprox",
			dur("sample_intvl", v.Sapprox.SampleIntvl),
			integer("amount", v.Sapprox.Amount)))
	case v.Algo != "":
		n.Children = append(n.Children, str("algo", v.Algo))
	}
	n.Children = append(n.Children, relayRef("rid_open", v.RidOpen))
	if v.RidClose != nil {
		n.Children = append(n.Children, relayRef("rid_close", *v.RidClose))
	}
	if v.TidOut != nil {
		n.Children = append(n.Children, sensorRef("tid_out", *v.TidOut))
	}
	if v.TidHot != nil {
		n.Children = append(n.Children, sensorRef("tid_hot", *v.TidHot))
	}
	if v.TidCold != nil {
		n.Children = append(n.Children, sensorRef("tid_cold", *v.TidCold))
	}
	return n
}

func dumpHeatsource(h HeatsourceDef) *isc.Node {
	n := block("heatsource", h.Name, str("type", h.Type))
	if h.IdleMode != "" {
		n.Children = append(n.Children, str("idle_mode", h.IdleMode))
	}
	n.Children = append(n.Children,
		flt("hysteresis", h.Hysteresis),
		flt("limit_tmin", h.LimitTmin),
		flt("limit_tmax", h.LimitTmax),
		flt("limit_thardmax", h.LimitThardmax))
	if h.LimitTreturnmin != 0 {
		n.Children = append(n.Children, flt("limit_treturnmin", h.LimitTreturnmin))
	}
	n.Children = append(n.Children,
		flt("t_freeze", h.TFreeze),
		dur("burner_min_time", h.BurnerMinTime),
		sensorRef("tid_boiler", h.TidBoiler))
	if h.TidBoilerReturn != nil {
		n.Children = append(n.Children, sensorRef("tid_boiler_return", *h.TidBoilerReturn))
	}
	n.Children = append(n.Children, relayRef("rid_burner_1", h.RidBurner1))
	if h.RidBurner2 != nil {
		n.Children = append(n.Children, relayRef("rid_burner_2", *h.RidBurner2))
	}
	if h.PumpLoad != "" {
		n.Children = append(n.Children, str("pump_load", h.PumpLoad))
	}
	if h.ValveRet != "" {
		n.Children = append(n.Children, str("valve_ret", h.ValveRet))
	}
	return n
}

func dumpDHWT(d DHWTDef) *isc.Node {
	n := block("dhwt", d.Name)
	if d.Runmode != "" {
		n.Children = append(n.Children, str("runmode", d.Runmode))
	}
	p := block("params", "",
		flt("t_comfort", d.Params.TComfort),
		flt("t_eco", d.Params.TEco),
		flt("t_frostfree", d.Params.TFrostFree))
	if d.Params.TLegionella != 0 {
		p.Children = append(p.Children, flt("t_legionella", d.Params.TLegionella))
	}
	p.Children = append(p.Children,
		flt("limit_tmin", d.Params.LimitTmin),
		flt("limit_tmax", d.Params.LimitTmax))
	if d.Params.LimitWintmax != 0 {
		p.Children = append(p.Children, flt("limit_wintmax", d.Params.LimitWintmax))
	}
	p.Children = append(p.Children, flt("hysteresis", d.Params.Hysteresis))
	if d.Params.LimitChargetime != 0 {
		p.Children = append(p.Children, dur("limit_chargetime", d.Params.LimitChargetime))
	}
	if d.Params.TempInoffset != 0 {
		p.Children = append(p.Children, flt("temp_inoffset", d.Params.TempInoffset))
	}
	n.Children = append(n.Children, p)

	if d.TidTop != nil {
		n.Children = append(n.Children, sensorRef("tid_top", *d.TidTop))
	}
	if d.TidBot != nil {
		n.Children = append(n.Children, sensorRef("tid_bot", *d.TidBot))
	}
	if d.TidWin != nil {
		n.Children = append(n.Children, sensorRef("tid_win", *d.TidWin))
	}
	if d.TidWout != nil {
		n.Children = append(n.Children, sensorRef("tid_wout", *d.TidWout))
	}
	if d.RidSelfheater != nil {
		n.Children = append(n.Children, relayRef("rid_selfheater", *d.RidSelfheater))
	}
	for _, kv := range []struct{ key, val string }{
		{"pump_feed", d.PumpFeed},
		{"pump_recycle", d.PumpRecycle},
		{"valve_hwisol", d.ValveHwisol},
		{"heatsource", d.Heatsource},
		{"dhwt_cprio", d.CPrio},
		{"force_mode", d.ForceMode},
	} {
		if kv.val != "" {
			n.Children = append(n.Children, str(kv.key, kv.val))
		}
	}
	if d.ElectricFailover {
		n.Children = append(n.Children, boolean("electric_failover", true))
	}
	if d.AntiLegionella {
		n.Children = append(n.Children, boolean("anti_legionella", true))
	}
	if d.LegionellaIntvl != 0 {
		n.Children = append(n.Children, dur("legionella_interval", d.LegionellaIntvl))
	}
	if d.LegionellaRecycle {
		n.Children = append(n.Children, boolean("legionella_recycle", true))
	}
	return n
}

func dumpHCircuit(h HCircuitDef) *isc.Node {
	n := block("hcircuit", h.Name)
	if h.Runmode != "" {
		n.Children = append(n.Children, str("runmode", h.Runmode))
	}
	p := block("params", "",
		flt("t_comfort", h.Params.TComfort),
		flt("t_eco", h.Params.TEco),
		flt("t_frostfree", h.Params.TFrostFree))
	if h.Params.TOffset != 0 {
		p.Children = append(p.Children, flt("t_offset", h.Params.TOffset))
	}
	p.Children = append(p.Children,
		flt("outhoff_comfort", h.Params.OuthoffComfort),
		flt("outhoff_eco", h.Params.OuthoffEco),
		flt("outhoff_frostfree", h.Params.OuthoffFrostFree),
		flt("outhoff_hysteresis", h.Params.OuthoffHysteresis),
		flt("limit_wtmin", h.Params.LimitWtmin),
		flt("limit_wtmax", h.Params.LimitWtmax))
	if h.Params.TempInoffset != 0 {
		p.Children = append(p.Children, flt("temp_inoffset", h.Params.TempInoffset))
	}
	n.Children = append(n.Children, p)

	n.Children = append(n.Children, block("tlaw", "bilinear",
		flt("tout1", h.Tlaw.Tout1),
		flt("twater1", h.Tlaw.Twater1),
		flt("tout2", h.Tlaw.Tout2),
		flt("twater2", h.Tlaw.Twater2),
		integer("nH100", h.Tlaw.NH100)))

	n.Children = append(n.Children, sensorRef("tid_outgoing", h.TidOutgoing))
	if h.TidReturn != nil {
		n.Children = append(n.Children, sensorRef("tid_return", *h.TidReturn))
	}
	if h.TidAmbient != nil {
		n.Children = append(n.Children, sensorRef("tid_ambient", *h.TidAmbient))
	}
	if h.AmbientFactor != 0 {
		n.Children = append(n.Children, integer("ambient_factor", h.AmbientFactor))
	}
	if h.WtempRorh != 0 {
		n.Children = append(n.Children, flt("wtemp_rorh", h.WtempRorh))
	}
	if h.BoostMaxtime != 0 {
		n.Children = append(n.Children, dur("boost_maxtime", h.BoostMaxtime))
	}
	if h.TambientBoostdelta != 0 {
		n.Children = append(n.Children, flt("tambient_boostdelta", h.TambientBoostdelta))
	}
	if h.FastCooldown {
		n.Children = append(n.Children, boolean("fast_cooldown", true))
	}
	for _, kv := range []struct{ key, val string }{
		{"pump_feed", h.PumpFeed},
		{"valve_mix", h.ValveMix},
		{"bmodel", h.Bmodel},
		{"heatsource", h.Heatsource},
	} {
		if kv.val != "" {
			n.Children = append(n.Children, str(kv.key, kv.val))
		}
	}
	return n
}
