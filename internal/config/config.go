// Package config maps the ISC-style configuration file onto typed
// definitions and builds the plant from them. Parse and Dump are exact
// inverses over the definition structs, so a configuration survives a
// round trip unchanged.
package config

import (
	"fmt"
	"os"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/isc"
	"github.com/thatsimonsguy/hydronic-controller/internal/timekeep"
)

// File is the full parsed configuration.
type File struct {
	Backends  []BackendDef
	Scheduler []*isc.Node // external collaborator, preserved verbatim
	Defconfig Defconfig
	Models    []BmodelDef
	Storage   StorageDef
	Logging   LoggingDef
	Plant     PlantDef
}

// SensorRef and RelayRef are { backend "…"; name "…"; } reference blocks.
type SensorRef struct {
	Backend string
	Name    string
}

type RelayRef struct {
	Backend string
	Name    string
}

type BackendDef struct {
	Name string
	Type string // mock, sysfs, modbus
	// DeviceMap is the YAML device table path for hardware backends.
	DeviceMap string
}

type Defconfig struct {
	StartupSysmode    string
	AutoRunmode       string
	TickInterval      timekeep.Ticks
	SummerMaintenance bool
	SummerRunIntvl    timekeep.Ticks
	SummerRunDuration timekeep.Ticks
}

type StorageDef struct {
	Path string
}

type LoggingDef struct {
	Level string
}

type BmodelDef struct {
	Name       string
	TidOutdoor SensorRef
	Tau        timekeep.Ticks
	TSummer    float64
	TFrost     float64
	Hysteresis float64
}

type PumpDef struct {
	Name     string
	Cooldown timekeep.Ticks
	Rid      RelayRef
}

type ValvePIDef struct {
	SampleIntvl timekeep.Ticks
	Tu          timekeep.Ticks
	Td          timekeep.Ticks
	TuneF       int64
	Ksmax       float64
}

type ValveSapproxDef struct {
	SampleIntvl timekeep.Ticks
	Amount      int64
}

type ValveDef struct {
	Name      string
	Kind      string // mixing, isolation
	Motor     string // 2way, 3way
	EteTime   timekeep.Ticks
	Deadband  int64
	Tdeadzone float64
	Reverse   bool

	Algo    string // bangbang, sapprox, pi
	PI      *ValvePIDef
	Sapprox *ValveSapproxDef

	RidOpen  RelayRef
	RidClose *RelayRef

	TidOut  *SensorRef
	TidHot  *SensorRef
	TidCold *SensorRef
}

type DHWTParamsDef struct {
	TComfort        float64
	TEco            float64
	TFrostFree      float64
	TLegionella     float64
	LimitTmin       float64
	LimitTmax       float64
	LimitWintmax    float64
	Hysteresis      float64
	LimitChargetime timekeep.Ticks
	TempInoffset    float64
}

type DHWTDef struct {
	Name    string
	Runmode string
	Params  DHWTParamsDef

	TidTop  *SensorRef
	TidBot  *SensorRef
	TidWin  *SensorRef
	TidWout *SensorRef

	RidSelfheater *RelayRef

	PumpFeed    string
	PumpRecycle string
	ValveHwisol string
	Heatsource  string

	CPrio            string
	ForceMode        string
	ElectricFailover bool

	AntiLegionella    bool
	LegionellaIntvl   timekeep.Ticks
	LegionellaRecycle bool
}

type TlawDef struct {
	Tout1   float64
	Twater1 float64
	Tout2   float64
	Twater2 float64
	NH100   int64
}

type HCircuitParamsDef struct {
	TComfort          float64
	TEco              float64
	TFrostFree        float64
	TOffset           float64
	OuthoffComfort    float64
	OuthoffEco        float64
	OuthoffFrostFree  float64
	OuthoffHysteresis float64
	LimitWtmin        float64
	LimitWtmax        float64
	TempInoffset      float64
}

type HCircuitDef struct {
	Name    string
	Runmode string
	Params  HCircuitParamsDef
	Tlaw    TlawDef

	TidOutgoing SensorRef
	TidReturn   *SensorRef
	TidAmbient  *SensorRef

	AmbientFactor int64
	WtempRorh     float64

	BoostMaxtime       timekeep.Ticks
	TambientBoostdelta float64
	FastCooldown       bool

	PumpFeed   string
	ValveMix   string
	Bmodel     string
	Heatsource string
}

type HeatsourceDef struct {
	Name string
	Type string // boiler

	IdleMode        string
	Hysteresis      float64
	LimitTmin       float64
	LimitTmax       float64
	LimitThardmax   float64
	LimitTreturnmin float64
	TFreeze         float64
	BurnerMinTime   timekeep.Ticks

	TidBoiler       SensorRef
	TidBoilerReturn *SensorRef

	RidBurner1 RelayRef
	RidBurner2 *RelayRef

	PumpLoad string
	ValveRet string
}

type PlantDef struct {
	Pumps       []PumpDef
	Valves      []ValveDef
	Heatsources []HeatsourceDef
	DHWTs       []DHWTDef
	HCircuits   []HCircuitDef
}

// Load parses a configuration file from disk.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	f, err := Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse maps configuration text onto a File. Structural errors are fatal
// to the caller: a plant must not come up on a half-read configuration.
func Parse(src string) (*File, error) {
	nodes, err := isc.Parse(src)
	if err != nil {
		return nil, err
	}
	f := &File{}
	seen := map[string]bool{}
	for _, n := range nodes {
		if seen[n.Key] {
			return nil, fmt.Errorf("top-level block %q: %w", n.Key, errs.ErrExists)
		}
		seen[n.Key] = true
		switch n.Key {
		case "backends":
			err = f.parseBackends(n)
		case "scheduler":
			f.Scheduler = n.Children
		case "defconfig":
			err = f.parseDefconfig(n)
		case "models":
			err = f.parseModels(n)
		case "storage":
			err = f.parseStorage(n)
		case "logging":
			err = f.parseLogging(n)
		case "plant":
			err = f.parsePlant(n)
		default:
			err = fmt.Errorf("unknown top-level block %q: %w", n.Key, errs.ErrInvalid)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, req := range []string{"backends", "scheduler", "defconfig", "plant"} {
		if !seen[req] {
			return nil, fmt.Errorf("missing required block %q: %w", req, errs.ErrMisconfigured)
		}
	}
	return f, nil
}
