package config

import (
	"fmt"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/bmodel"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/dhwt"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/hcircuit"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/heatsource"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/pump"
	"github.com/thatsimonsguy/hydronic-controller/internal/plant/valve"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/mockbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/modbusbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/sysfsbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
)

// BackendHook lets the caller substitute backend construction, e.g. the
// daemon's dry-run mode routing every backend to a mock, or tests
// injecting a pre-seeded one. A nil hook builds real backends by type.
type BackendHook func(def BackendDef) (hwbackend.Backend, error)

// Build constructs the whole plant from a parsed configuration: backends
// first, then entities in dependency order, then reference resolution.
func Build(f *File, hook BackendHook) (*plant.Plant, error) {
	sys, err := model.ParseSystemMode(f.Defconfig.StartupSysmode)
	if err != nil {
		return nil, err
	}
	autoMode := model.RunComfort
	if f.Defconfig.AutoRunmode != "" {
		if autoMode, err = model.ParseRunMode(f.Defconfig.AutoRunmode); err != nil {
			return nil, err
		}
	}

	p, err := plant.New(plant.Config{
		StartupSysMode:    sys,
		AutoRunMode:       autoMode,
		TickInterval:      f.Defconfig.TickInterval,
		SummerMaintenance: f.Defconfig.SummerMaintenance,
		SummerRunIntvl:    f.Defconfig.SummerRunIntvl,
		SummerRunDuration: f.Defconfig.SummerRunDuration,
	})
	if err != nil {
		return nil, err
	}
	reg := p.Registry()

	for _, bd := range f.Backends {
		var b hwbackend.Backend
		if hook != nil {
			b, err = hook(bd)
		} else {
			b, err = buildBackend(bd)
		}
		if err != nil {
			return nil, err
		}
		if _, err := reg.Register(b); err != nil {
			return nil, err
		}
	}

	resolveSensor := func(ref SensorRef) (hwbackend.SensorID, error) {
		return reg.SensorIBN(ref.Backend, ref.Name)
	}
	resolveRelay := func(ref RelayRef) (hwbackend.RelayID, error) {
		return reg.RelayIBN(ref.Backend, ref.Name)
	}

	for _, pd := range f.Plant.Pumps {
		rid, err := resolveRelay(pd.Rid)
		if err != nil {
			return nil, fmt.Errorf("pump %q: %w", pd.Name, err)
		}
		if _, err := p.CreatePump(pump.Config{Name: pd.Name, Cooldown: pd.Cooldown, Rid: rid}); err != nil {
			return nil, err
		}
	}

	for _, vd := range f.Plant.Valves {
		cfg, err := valveConfig(vd, resolveSensor, resolveRelay)
		if err != nil {
			return nil, err
		}
		if _, err := p.CreateValve(cfg); err != nil {
			return nil, err
		}
	}

	for _, md := range f.Models {
		sid, err := resolveSensor(md.TidOutdoor)
		if err != nil {
			return nil, fmt.Errorf("bmodel %q: %w", md.Name, err)
		}
		cfg := bmodel.Config{
			Name:       md.Name,
			TidOutdoor: sid,
			Tau:        md.Tau,
			TSummer:    temp.FromCelsius(md.TSummer),
			TFrost:     temp.FromCelsius(md.TFrost),
			Hysteresis: temp.FromCelsius(md.Hysteresis),
		}
		if _, err := p.CreateBmodel(cfg); err != nil {
			return nil, err
		}
	}

	findPump := func(owner, name string) (*pump.Pump, error) {
		if name == "" {
			return nil, nil
		}
		if pm := p.FindPump(name); pm != nil {
			return pm, nil
		}
		return nil, fmt.Errorf("%s: pump %q: %w", owner, name, errs.ErrNotFound)
	}
	findValve := func(owner, name string) (*valve.Valve, error) {
		if name == "" {
			return nil, nil
		}
		if v := p.FindValve(name); v != nil {
			return v, nil
		}
		return nil, fmt.Errorf("%s: valve %q: %w", owner, name, errs.ErrNotFound)
	}

	for _, hd := range f.Plant.Heatsources {
		cfg, err := boilerConfig(hd, resolveSensor, resolveRelay)
		if err != nil {
			return nil, err
		}
		load, err := findPump(hd.Name, hd.PumpLoad)
		if err != nil {
			return nil, err
		}
		ret, err := findValve(hd.Name, hd.ValveRet)
		if err != nil {
			return nil, err
		}
		if _, err := p.CreateBoiler(cfg, load, ret); err != nil {
			return nil, err
		}
	}

	for _, dd := range f.Plant.DHWTs {
		cfg, err := dhwtConfig(dd, resolveSensor, resolveRelay)
		if err != nil {
			return nil, err
		}
		feed, err := findPump(dd.Name, dd.PumpFeed)
		if err != nil {
			return nil, err
		}
		recycle, err := findPump(dd.Name, dd.PumpRecycle)
		if err != nil {
			return nil, err
		}
		isol, err := findValve(dd.Name, dd.ValveHwisol)
		if err != nil {
			return nil, err
		}
		if _, err := p.CreateDHWT(cfg, feed, recycle, isol, dd.Heatsource); err != nil {
			return nil, err
		}
	}

	for _, hd := range f.Plant.HCircuits {
		cfg, err := hcircuitConfig(hd, resolveSensor)
		if err != nil {
			return nil, err
		}
		feed, err := findPump(hd.Name, hd.PumpFeed)
		if err != nil {
			return nil, err
		}
		mix, err := findValve(hd.Name, hd.ValveMix)
		if err != nil {
			return nil, err
		}
		bm := p.FindBmodel(hd.Bmodel)
		if bm == nil {
			return nil, fmt.Errorf("hcircuit %q: bmodel %q: %w", hd.Name, hd.Bmodel, errs.ErrNotFound)
		}
		if _, err := p.CreateHCircuit(cfg, feed, mix, bm, hd.Heatsource); err != nil {
			return nil, err
		}
	}

	if err := p.ResolveReferences(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildBackend(def BackendDef) (hwbackend.Backend, error) {
	switch def.Type {
	case "mock":
		return mockbackend.New(def.Name), nil
	case "sysfs":
		if def.DeviceMap == "" {
			return nil, fmt.Errorf("backend %q: sysfs needs a device_map: %w", def.Name, errs.ErrMisconfigured)
		}
		return sysfsbackend.New(def.Name, def.DeviceMap)
	case "modbus":
		if def.DeviceMap == "" {
			return nil, fmt.Errorf("backend %q: modbus needs a device_map: %w", def.Name, errs.ErrMisconfigured)
		}
		return modbusbackend.New(def.Name, def.DeviceMap)
	}
	return nil, fmt.Errorf("backend %q: unknown type %q: %w", def.Name, def.Type, errs.ErrInvalid)
}

func valveConfig(vd ValveDef, rs func(SensorRef) (hwbackend.SensorID, error), rr func(RelayRef) (hwbackend.RelayID, error)) (valve.Config, error) {
	cfg := valve.Config{
		Name:      vd.Name,
		Kind:      valve.Kind(vd.Kind),
		Motor:     valve.MotorKind(vd.Motor),
		Algo:      valve.Algo(vd.Algo),
		EteTime:   vd.EteTime,
		Deadband:  int16(vd.Deadband),
		Tdeadzone: temp.FromCelsius(vd.Tdeadzone),
		Reverse:   vd.Reverse,
	}
	switch cfg.Motor {
	case valve.Motor2Way, valve.Motor3Way:
	default:
		return cfg, fmt.Errorf("valve %q: unknown motor %q: %w", vd.Name, vd.Motor, errs.ErrInvalid)
	}
	var err error
	if cfg.RidOpen, err = rr(vd.RidOpen); err != nil {
		return cfg, fmt.Errorf("valve %q: %w", vd.Name, err)
	}
	if vd.RidClose != nil {
		if cfg.RidClose, err = rr(*vd.RidClose); err != nil {
			return cfg, fmt.Errorf("valve %q: %w", vd.Name, err)
		}
		cfg.HasClose = true
	} else if cfg.Motor == valve.Motor3Way {
		return cfg, fmt.Errorf("valve %q: 3-way motor needs rid_close: %w", vd.Name, errs.ErrMisconfigured)
	}
	if vd.TidOut != nil {
		if cfg.TidOut, err = rs(*vd.TidOut); err != nil {
			return cfg, fmt.Errorf("valve %q: %w", vd.Name, err)
		}
		cfg.HasOut = true
	}
	if vd.TidHot != nil {
		if cfg.TidHot, err = rs(*vd.TidHot); err != nil {
			return cfg, fmt.Errorf("valve %q: %w", vd.Name, err)
		}
		cfg.HasHot = true
	}
	if vd.TidCold != nil {
		if cfg.TidCold, err = rs(*vd.TidCold); err != nil {
			return cfg, fmt.Errorf("valve %q: %w", vd.Name, err)
		}
		cfg.HasCold = true
	}
	if vd.PI != nil {
		cfg.PI = valve.PIParams{
			SampleIntvl: vd.PI.SampleIntvl,
			Tu:          vd.PI.Tu,
			Td:          vd.PI.Td,
			TuneFactor:  int(vd.PI.TuneF),
			Ksmax:       temp.FromCelsius(vd.PI.Ksmax),
		}
	}
	if vd.Sapprox != nil {
		cfg.Sapprox = valve.SapproxParams{
			SampleIntvl: vd.Sapprox.SampleIntvl,
			AmountPct:   int(vd.Sapprox.Amount),
		}
	}
	return cfg, nil
}

func boilerConfig(hd HeatsourceDef, rs func(SensorRef) (hwbackend.SensorID, error), rr func(RelayRef) (hwbackend.RelayID, error)) (heatsource.Config, error) {
	cfg := heatsource.Config{
		Name:            hd.Name,
		Idle:            heatsource.IdleMode(hd.IdleMode),
		Hysteresis:      temp.FromCelsius(hd.Hysteresis),
		LimitTmin:       temp.FromCelsius(hd.LimitTmin),
		LimitTmax:       temp.FromCelsius(hd.LimitTmax),
		LimitThardmax:   temp.FromCelsius(hd.LimitThardmax),
		LimitTreturnmin: temp.FromCelsius(hd.LimitTreturnmin),
		TFreeze:         temp.FromCelsius(hd.TFreeze),
		BurnerMinTime:   hd.BurnerMinTime,
	}
	var err error
	if cfg.TidBoiler, err = rs(hd.TidBoiler); err != nil {
		return cfg, fmt.Errorf("heatsource %q: %w", hd.Name, err)
	}
	if hd.TidBoilerReturn != nil {
		if cfg.TidBoilerReturn, err = rs(*hd.TidBoilerReturn); err != nil {
			return cfg, fmt.Errorf("heatsource %q: %w", hd.Name, err)
		}
		cfg.HasReturn = true
	}
	if cfg.RidBurner1, err = rr(hd.RidBurner1); err != nil {
		return cfg, fmt.Errorf("heatsource %q: %w", hd.Name, err)
	}
	if hd.RidBurner2 != nil {
		if cfg.RidBurner2, err = rr(*hd.RidBurner2); err != nil {
			return cfg, fmt.Errorf("heatsource %q: %w", hd.Name, err)
		}
		cfg.HasBurner2 = true
	}
	return cfg, nil
}

func dhwtConfig(dd DHWTDef, rs func(SensorRef) (hwbackend.SensorID, error), rr func(RelayRef) (hwbackend.RelayID, error)) (dhwt.Config, error) {
	mode := model.RunAuto
	if dd.Runmode != "" {
		var err error
		if mode, err = model.ParseRunMode(dd.Runmode); err != nil {
			return dhwt.Config{}, fmt.Errorf("dhwt %q: %w", dd.Name, err)
		}
	}
	cfg := dhwt.Config{
		Name:    dd.Name,
		RunMode: mode,
		Params: dhwt.Params{
			TComfort:        temp.FromCelsius(dd.Params.TComfort),
			TEco:            temp.FromCelsius(dd.Params.TEco),
			TFrostFree:      temp.FromCelsius(dd.Params.TFrostFree),
			TLegionella:     temp.FromCelsius(dd.Params.TLegionella),
			LimitTmin:       temp.FromCelsius(dd.Params.LimitTmin),
			LimitTmax:       temp.FromCelsius(dd.Params.LimitTmax),
			LimitWintmax:    temp.FromCelsius(dd.Params.LimitWintmax),
			Hysteresis:      temp.FromCelsius(dd.Params.Hysteresis),
			LimitChargetime: dd.Params.LimitChargetime,
			TempInoffset:    temp.FromCelsius(dd.Params.TempInoffset),
		},
		CPrio:            dhwt.ChargePrio(dd.CPrio),
		Force:            dhwt.ForceMode(dd.ForceMode),
		ElectricFailover: dd.ElectricFailover,
		AntiLegionella:   dd.AntiLegionella,
		LegionellaIntvl:  dd.LegionellaIntvl,
		LegionellaRecycle: dd.LegionellaRecycle,
	}
	var err error
	if dd.TidTop != nil {
		if cfg.TidTop, err = rs(*dd.TidTop); err != nil {
			return cfg, fmt.Errorf("dhwt %q: %w", dd.Name, err)
		}
		cfg.HasTop = true
	}
	if dd.TidBot != nil {
		if cfg.TidBot, err = rs(*dd.TidBot); err != nil {
			return cfg, fmt.Errorf("dhwt %q: %w", dd.Name, err)
		}
		cfg.HasBot = true
	}
	if dd.TidWin != nil {
		if cfg.TidWin, err = rs(*dd.TidWin); err != nil {
			return cfg, fmt.Errorf("dhwt %q: %w", dd.Name, err)
		}
		cfg.HasWin = true
	}
	if dd.TidWout != nil {
		if cfg.TidWout, err = rs(*dd.TidWout); err != nil {
			return cfg, fmt.Errorf("dhwt %q: %w", dd.Name, err)
		}
		cfg.HasWout = true
	}
	if dd.RidSelfheater != nil {
		if cfg.RidSelfheater, err = rr(*dd.RidSelfheater); err != nil {
			return cfg, fmt.Errorf("dhwt %q: %w", dd.Name, err)
		}
		cfg.HasSelfheater = true
	}
	return cfg, nil
}

func hcircuitConfig(hd HCircuitDef, rs func(SensorRef) (hwbackend.SensorID, error)) (hcircuit.Config, error) {
	mode := model.RunAuto
	if hd.Runmode != "" {
		var err error
		if mode, err = model.ParseRunMode(hd.Runmode); err != nil {
			return hcircuit.Config{}, fmt.Errorf("hcircuit %q: %w", hd.Name, err)
		}
	}
	cfg := hcircuit.Config{
		Name:    hd.Name,
		RunMode: mode,
		Params: hcircuit.Params{
			TComfort:          temp.FromCelsius(hd.Params.TComfort),
			TEco:              temp.FromCelsius(hd.Params.TEco),
			TFrostFree:        temp.FromCelsius(hd.Params.TFrostFree),
			TOffset:           temp.FromCelsius(hd.Params.TOffset),
			OuthoffComfort:    temp.FromCelsius(hd.Params.OuthoffComfort),
			OuthoffEco:        temp.FromCelsius(hd.Params.OuthoffEco),
			OuthoffFrostFree:  temp.FromCelsius(hd.Params.OuthoffFrostFree),
			OuthoffHysteresis: temp.FromCelsius(hd.Params.OuthoffHysteresis),
			LimitWtmin:        temp.FromCelsius(hd.Params.LimitWtmin),
			LimitWtmax:        temp.FromCelsius(hd.Params.LimitWtmax),
			TempInoffset:      temp.FromCelsius(hd.Params.TempInoffset),
		},
		Law: hcircuit.BilinearLaw{
			Tout1:   temp.FromCelsius(hd.Tlaw.Tout1),
			Twater1: temp.FromCelsius(hd.Tlaw.Twater1),
			Tout2:   temp.FromCelsius(hd.Tlaw.Tout2),
			Twater2: temp.FromCelsius(hd.Tlaw.Twater2),
			NH100:   int(hd.Tlaw.NH100),
		},
		AmbientFactor:      int(hd.AmbientFactor),
		WtempRorh:          temp.FromCelsius(hd.WtempRorh),
		BoostMaxtime:       hd.BoostMaxtime,
		TambientBoostdelta: temp.FromCelsius(hd.TambientBoostdelta),
		FastCooldown:       hd.FastCooldown,
	}
	var err error
	if cfg.TidOutgoing, err = rs(hd.TidOutgoing); err != nil {
		return cfg, fmt.Errorf("hcircuit %q: %w", hd.Name, err)
	}
	if hd.TidReturn != nil {
		if cfg.TidReturn, err = rs(*hd.TidReturn); err != nil {
			return cfg, fmt.Errorf("hcircuit %q: %w", hd.Name, err)
		}
		cfg.HasReturn = true
	}
	if hd.TidAmbient != nil {
		if cfg.TidAmbient, err = rs(*hd.TidAmbient); err != nil {
			return cfg, fmt.Errorf("hcircuit %q: %w", hd.Name, err)
		}
		cfg.HasAmbient = true
	}
	return cfg, nil
}
