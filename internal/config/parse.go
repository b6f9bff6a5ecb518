package config

import (
	"fmt"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/isc"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

func reqChild(n *isc.Node, key string) (*isc.Node, error) {
	c := n.Child(key)
	if c == nil {
		return nil, fmt.Errorf("%s: missing %q: %w", n.Key, key, errs.ErrMisconfigured)
	}
	return c, nil
}

func reqString(n *isc.Node, key string) (string, error) {
	c, err := reqChild(n, key)
	if err != nil {
		return "", err
	}
	return c.AsString()
}

func optString(n *isc.Node, key string) (string, error) {
	c := n.Child(key)
	if c == nil {
		return "", nil
	}
	return c.AsString()
}

func reqFloat(n *isc.Node, key string) (float64, error) {
	c, err := reqChild(n, key)
	if err != nil {
		return 0, err
	}
	return c.AsFloat()
}

func optFloat(n *isc.Node, key string) (float64, error) {
	c := n.Child(key)
	if c == nil {
		return 0, nil
	}
	return c.AsFloat()
}

func optInt(n *isc.Node, key string) (int64, error) {
	c := n.Child(key)
	if c == nil {
		return 0, nil
	}
	return c.AsInt()
}

func optBool(n *isc.Node, key string) (bool, error) {
	c := n.Child(key)
	if c == nil {
		return false, nil
	}
	return c.AsBool()
}

func reqDuration(n *isc.Node, key string) (timekeep.Ticks, error) {
	c, err := reqChild(n, key)
	if err != nil {
		return 0, err
	}
	return c.AsDuration()
}

func optDuration(n *isc.Node, key string) (timekeep.Ticks, error) {
	c := n.Child(key)
	if c == nil {
		return 0, nil
	}
	return c.AsDuration()
}

func parseRef(n *isc.Node) (backend, name string, err error) {
	if n.Kind != isc.KindBlock {
		return "", "", fmt.Errorf("%s: want a reference block: %w", n.Key, errs.ErrMisconfigured)
	}
	backend, err = reqString(n, "backend")
	if err != nil {
		return "", "", err
	}
	name, err = reqString(n, "name")
	return backend, name, err
}

func reqSensorRef(n *isc.Node, key string) (SensorRef, error) {
	c, err := reqChild(n, key)
	if err != nil {
		return SensorRef{}, err
	}
	b, name, err := parseRef(c)
	return SensorRef{Backend: b, Name: name}, err
}

func optSensorRef(n *isc.Node, key string) (*SensorRef, error) {
	c := n.Child(key)
	if c == nil {
		return nil, nil
	}
	b, name, err := parseRef(c)
	if err != nil {
		return nil, err
	}
	return &SensorRef{Backend: b, Name: name}, nil
}

func reqRelayRef(n *isc.Node, key string) (RelayRef, error) {
	c, err := reqChild(n, key)
	if err != nil {
		return RelayRef{}, err
	}
	b, name, err := parseRef(c)
	return RelayRef{Backend: b, Name: name}, err
}

func optRelayRef(n *isc.Node, key string) (*RelayRef, error) {
	c := n.Child(key)
	if c == nil {
		return nil, nil
	}
	b, name, err := parseRef(c)
	if err != nil {
		return nil, err
	}
	return &RelayRef{Backend: b, Name: name}, nil
}

func (f *File) parseBackends(n *isc.Node) error {
	for _, c := range n.ChildrenOf("backend") {
		if c.Label == "" {
			return fmt.Errorf("backend needs a name label: %w", errs.ErrMisconfigured)
		}
		typ, err := reqString(c, "type")
		if err != nil {
			return err
		}
		devmap, err := optString(c, "device_map")
		if err != nil {
			return err
		}
		f.Backends = append(f.Backends, BackendDef{Name: c.Label, Type: typ, DeviceMap: devmap})
	}
	if len(f.Backends) == 0 {
		return fmt.Errorf("backends: %w", errs.ErrEmpty)
	}
	return nil
}

func (f *File) parseDefconfig(n *isc.Node) error {
	var err error
	if f.Defconfig.StartupSysmode, err = reqString(n, "startup_sysmode"); err != nil {
		return err
	}
	if f.Defconfig.AutoRunmode, err = optString(n, "auto_runmode"); err != nil {
		return err
	}
	if f.Defconfig.TickInterval, err = optDuration(n, "tick_interval"); err != nil {
		return err
	}
	if f.Defconfig.SummerMaintenance, err = optBool(n, "summer_maintenance"); err != nil {
		return err
	}
	if f.Defconfig.SummerRunIntvl, err = optDuration(n, "summer_run_interval"); err != nil {
		return err
	}
	if f.Defconfig.SummerRunDuration, err = optDuration(n, "summer_run_duration"); err != nil {
		return err
	}
	return nil
}

func (f *File) parseStorage(n *isc.Node) error {
	var err error
	f.Storage.Path, err = reqString(n, "path")
	return err
}

func (f *File) parseLogging(n *isc.Node) error {
	var err error
	f.Logging.Level, err = optString(n, "level")
	return err
}

func (f *File) parseModels(n *isc.Node) error {
	for _, c := range n.ChildrenOf("bmodel") {
		if c.Label == "" {
			return fmt.Errorf("bmodel needs a name label: %w", errs.ErrMisconfigured)
		}
		def := BmodelDef{Name: c.Label}
		var err error
		if def.TidOutdoor, err = reqSensorRef(c, "tid_outdoor"); err != nil {
			return err
		}
		if def.Tau, err = reqDuration(c, "tau"); err != nil {
			return err
		}
		if def.TSummer, err = reqFloat(c, "t_summer"); err != nil {
			return err
		}
		if def.TFrost, err = reqFloat(c, "t_frost"); err != nil {
			return err
		}
		if def.Hysteresis, err = optFloat(c, "hysteresis"); err != nil {
			return err
		}
		f.Models = append(f.Models, def)
	}
	return nil
}

func (f *File) parsePlant(n *isc.Node) error {
	for _, c := range n.Children {
		var err error
		switch c.Key {
		case "pump":
			err = f.parsePump(c)
		case "valve":
			err = f.parseValve(c)
		case "heatsource":
			err = f.parseHeatsource(c)
		case "dhwt":
			err = f.parseDHWT(c)
		case "hcircuit":
			err = f.parseHCircuit(c)
		default:
			err = fmt.Errorf("plant: unknown entity %q: %w", c.Key, errs.ErrInvalid)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *File) parsePump(n *isc.Node) error {
	if n.Label == "" {
		return fmt.Errorf("pump needs a name label: %w", errs.ErrMisconfigured)
	}
	def := PumpDef{Name: n.Label}
	var err error
	if def.Cooldown, err = optDuration(n, "cooldown_time"); err != nil {
		return err
	}
	if def.Rid, err = reqRelayRef(n, "rid"); err != nil {
		return err
	}
	f.Plant.Pumps = append(f.Plant.Pumps, def)
	return nil
}

func (f *File) parseValve(n *isc.Node) error {
	if n.Label == "" {
		return fmt.Errorf("valve needs a name label: %w", errs.ErrMisconfigured)
	}
	def := ValveDef{Name: n.Label}
	var err error
	if def.Kind, err = reqString(n, "kind"); err != nil {
		return err
	}
	if def.Motor, err = reqString(n, "motor"); err != nil {
		return err
	}
	if def.EteTime, err = reqDuration(n, "ete_time"); err != nil {
		return err
	}
	if def.Deadband, err = optInt(n, "deadband"); err != nil {
		return err
	}
	if def.Tdeadzone, err = optFloat(n, "tdeadzone"); err != nil {
		return err
	}
	if def.Reverse, err = optBool(n, "reverse"); err != nil {
		return err
	}
	if def.RidOpen, err = reqRelayRef(n, "rid_open"); err != nil {
		return err
	}
	if def.RidClose, err = optRelayRef(n, "rid_close"); err != nil {
		return err
	}
	if def.TidOut, err = optSensorRef(n, "tid_out"); err != nil {
		return err
	}
	if def.TidHot, err = optSensorRef(n, "tid_hot"); err != nil {
		return err
	}
	if def.TidCold, err = optSensorRef(n, "tid_cold"); err != nil {
		return err
	}

	if algo := n.Child("algo"); algo != nil {
		if algo.Kind == isc.KindString {
			def.Algo = algo.Str
		} else if algo.Kind == isc.KindBlock {
			def.Algo = algo.Label
			switch algo.Label {
			case "pi":
				pi := &ValvePIDef{}
				if pi.SampleIntvl, err = reqDuration(algo, "sample_intvl"); err != nil {
					return err
				}
				if pi.Tu, err = reqDuration(algo, "tu"); err != nil {
					return err
				}
				if pi.Td, err = reqDuration(algo, "td"); err != nil {
					return err
				}
				tf, err := reqChild(algo, "tune_f")
				if err != nil {
					return err
				}
				if pi.TuneF, err = tf.AsInt(); err != nil {
					return err
				}
				if pi.Ksmax, err = reqFloat(algo, "ksmax"); err != nil {
					return err
				}
				def.PI = pi
			case "sapprox":
				sa := &ValveSapproxDef{}
				if sa.SampleIntvl, err = reqDuration(algo, "sample_intvl"); err != nil {
					return err
				}
				am, err := reqChild(algo, "amount")
				if err != nil {
					return err
				}
				if sa.Amount, err = am.AsInt(); err != nil {
					return err
				}
				def.Sapprox = sa
			case "bangbang":
			default:
				return fmt.Errorf("valve %q: unknown algorithm %q: %w", def.Name, algo.Label, errs.ErrInvalid)
			}
		}
	}
	f.Plant.Valves = append(f.Plant.Valves, def)
	return nil
}

func (f *File) parseHeatsource(n *isc.Node) error {
	if n.Label == "" {
		return fmt.Errorf("heatsource needs a name label: %w", errs.ErrMisconfigured)
	}
	def := HeatsourceDef{Name: n.Label}
	var err error
	if def.Type, err = reqString(n, "type"); err != nil {
		return err
	}
	if def.Type != "boiler" {
		return fmt.Errorf("heatsource %q: unknown type %q: %w", def.Name, def.Type, errs.ErrInvalid)
	}
	if def.IdleMode, err = optString(n, "idle_mode"); err != nil {
		return err
	}
	if def.Hysteresis, err = reqFloat(n, "hysteresis"); err != nil {
		return err
	}
	if def.LimitTmin, err = reqFloat(n, "limit_tmin"); err != nil {
		return err
	}
	if def.LimitTmax, err = reqFloat(n, "limit_tmax"); err != nil {
		return err
	}
	if def.LimitThardmax, err = reqFloat(n, "limit_thardmax"); err != nil {
		return err
	}
	if def.LimitTreturnmin, err = optFloat(n, "limit_treturnmin"); err != nil {
		return err
	}
	if def.TFreeze, err = reqFloat(n, "t_freeze"); err != nil {
		return err
	}
	if def.BurnerMinTime, err = reqDuration(n, "burner_min_time"); err != nil {
		return err
	}
	if def.TidBoiler, err = reqSensorRef(n, "tid_boiler"); err != nil {
		return err
	}
	if def.TidBoilerReturn, err = optSensorRef(n, "tid_boiler_return"); err != nil {
		return err
	}
	if def.RidBurner1, err = reqRelayRef(n, "rid_burner_1"); err != nil {
		return err
	}
	if def.RidBurner2, err = optRelayRef(n, "rid_burner_2"); err != nil {
		return err
	}
	if def.PumpLoad, err = optString(n, "pump_load"); err != nil {
		return err
	}
	if def.ValveRet, err = optString(n, "valve_ret"); err != nil {
		return err
	}
	f.Plant.Heatsources = append(f.Plant.Heatsources, def)
	return nil
}

func (f *File) parseDHWT(n *isc.Node) error {
	if n.Label == "" {
		return fmt.Errorf("dhwt needs a name label: %w", errs.ErrMisconfigured)
	}
	def := DHWTDef{Name: n.Label}
	var err error
	if def.Runmode, err = optString(n, "runmode"); err != nil {
		return err
	}
	params, err := reqChild(n, "params")
	if err != nil {
		return err
	}
	p := &def.Params
	if p.TComfort, err = reqFloat(params, "t_comfort"); err != nil {
		return err
	}
	if p.TEco, err = reqFloat(params, "t_eco"); err != nil {
		return err
	}
	if p.TFrostFree, err = reqFloat(params, "t_frostfree"); err != nil {
		return err
	}
	if p.TLegionella, err = optFloat(params, "t_legionella"); err != nil {
		return err
	}
	if p.LimitTmin, err = reqFloat(params, "limit_tmin"); err != nil {
		return err
	}
	if p.LimitTmax, err = reqFloat(params, "limit_tmax"); err != nil {
		return err
	}
	if p.LimitWintmax, err = optFloat(params, "limit_wintmax"); err != nil {
		return err
	}
	if p.Hysteresis, err = reqFloat(params, "hysteresis"); err != nil {
		return err
	}
	if p.LimitChargetime, err = optDuration(params, "limit_chargetime"); err != nil {
		return err
	}
	if p.TempInoffset, err = optFloat(params, "temp_inoffset"); err != nil {
		return err
	}
	if def.TidTop, err = optSensorRef(n, "tid_top"); err != nil {
		return err
	}
	if def.TidBot, err = optSensorRef(n, "tid_bot"); err != nil {
		return err
	}
	if def.TidWin, err = optSensorRef(n, "tid_win"); err != nil {
		return err
	}
	if def.TidWout, err = optSensorRef(n, "tid_wout"); err != nil {
		return err
	}
	if def.RidSelfheater, err = optRelayRef(n, "rid_selfheater"); err != nil {
		return err
	}
	if def.PumpFeed, err = optString(n, "pump_feed"); err != nil {
		return err
	}
	if def.PumpRecycle, err = optString(n, "pump_recycle"); err != nil {
		return err
	}
	if def.ValveHwisol, err = optString(n, "valve_hwisol"); err != nil {
		return err
	}
	if def.Heatsource, err = optString(n, "heatsource"); err != nil {
		return err
	}
	if def.CPrio, err = optString(n, "dhwt_cprio"); err != nil {
		return err
	}
	if def.ForceMode, err = optString(n, "force_mode"); err != nil {
		return err
	}
	if def.ElectricFailover, err = optBool(n, "electric_failover"); err != nil {
		return err
	}
	if def.AntiLegionella, err = optBool(n, "anti_legionella"); err != nil {
		return err
	}
	if def.LegionellaIntvl, err = optDuration(n, "legionella_interval"); err != nil {
		return err
	}
	if def.LegionellaRecycle, err = optBool(n, "legionella_recycle"); err != nil {
		return err
	}
	f.Plant.DHWTs = append(f.Plant.DHWTs, def)
	return nil
}

func (f *File) parseHCircuit(n *isc.Node) error {
	if n.Label == "" {
		return fmt.Errorf("hcircuit needs a name label: %w", errs.ErrMisconfigured)
	}
	def := HCircuitDef{Name: n.Label}
	var err error
	if def.Runmode, err = optString(n, "runmode"); err != nil {
		return err
	}
	params, err := reqChild(n, "params")
	if err != nil {
		return err
	}
	p := &def.Params
	if p.TComfort, err = reqFloat(params, "t_comfort"); err != nil {
		return err
	}
	if p.TEco, err = reqFloat(params, "t_eco"); err != nil {
		return err
	}
	if p.TFrostFree, err = reqFloat(params, "t_frostfree"); err != nil {
		return err
	}
	if p.TOffset, err = optFloat(params, "t_offset"); err != nil {
		return err
	}
	if p.OuthoffComfort, err = reqFloat(params, "outhoff_comfort"); err != nil {
		return err
	}
	if p.OuthoffEco, err = reqFloat(params, "outhoff_eco"); err != nil {
		return err
	}
	if p.OuthoffFrostFree, err = reqFloat(params, "outhoff_frostfree"); err != nil {
		return err
	}
	if p.OuthoffHysteresis, err = reqFloat(params, "outhoff_hysteresis"); err != nil {
		return err
	}
	if p.LimitWtmin, err = reqFloat(params, "limit_wtmin"); err != nil {
		return err
	}
	if p.LimitWtmax, err = reqFloat(params, "limit_wtmax"); err != nil {
		return err
	}
	if p.TempInoffset, err = optFloat(params, "temp_inoffset"); err != nil {
		return err
	}

	tlaw, err := reqChild(n, "tlaw")
	if err != nil {
		return err
	}
	if tlaw.Label != "bilinear" {
		return fmt.Errorf("hcircuit %q: unknown tlaw %q: %w", def.Name, tlaw.Label, errs.ErrInvalid)
	}
	l := &def.Tlaw
	if l.Tout1, err = reqFloat(tlaw, "tout1"); err != nil {
		return err
	}
	if l.Twater1, err = reqFloat(tlaw, "twater1"); err != nil {
		return err
	}
	if l.Tout2, err = reqFloat(tlaw, "tout2"); err != nil {
		return err
	}
	if l.Twater2, err = reqFloat(tlaw, "twater2"); err != nil {
		return err
	}
	if l.NH100, err = optInt(tlaw, "nH100"); err != nil {
		return err
	}
	if l.NH100 == 0 {
		l.NH100 = 100
	}

	if def.TidOutgoing, err = reqSensorRef(n, "tid_outgoing"); err != nil {
		return err
	}
	if def.TidReturn, err = optSensorRef(n, "tid_return"); err != nil {
		return err
	}
	if def.TidAmbient, err = optSensorRef(n, "tid_ambient"); err != nil {
		return err
	}
	if def.AmbientFactor, err = optInt(n, "ambient_factor"); err != nil {
		return err
	}
	if def.WtempRorh, err = optFloat(n, "wtemp_rorh"); err != nil {
		return err
	}
	if def.BoostMaxtime, err = optDuration(n, "boost_maxtime"); err != nil {
		return err
	}
	if def.TambientBoostdelta, err = optFloat(n, "tambient_boostdelta"); err != nil {
		return err
	}
	if def.FastCooldown, err = optBool(n, "fast_cooldown"); err != nil {
		return err
	}
	if def.PumpFeed, err = optString(n, "pump_feed"); err != nil {
		return err
	}
	if def.ValveMix, err = optString(n, "valve_mix"); err != nil {
		return err
	}
	if def.Bmodel, err = reqString(n, "bmodel"); err != nil {
		return err
	}
	if def.Heatsource, err = optString(n, "heatsource"); err != nil {
		return err
	}
	f.Plant.HCircuits = append(f.Plant.HCircuits, def)
	return nil
}
