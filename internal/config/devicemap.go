package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/hydronic-controller/internal/errs"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/modbusbackend"
	"github.com/thatsimonsguy/hydronic-controller/internal/hwbackend/sysfsbackend"
)

// DeviceNames lists the object names a backend's device map declares.
type DeviceNames struct {
	Sensors []string
	Relays  []string
}

// DeviceMapNames reads a backend definition's device map for its object
// names only. Dry-run mode uses this to mirror a production configuration
// onto mock backends.
func DeviceMapNames(def BackendDef) (DeviceNames, error) {
	var names DeviceNames
	switch def.Type {
	case "mock":
		return names, nil
	case "sysfs":
		raw, err := os.ReadFile(def.DeviceMap)
		if err != nil {
			return names, fmt.Errorf("device map %s: %w", def.DeviceMap, err)
		}
		var dm sysfsbackend.DeviceMap
		if err := yaml.Unmarshal(raw, &dm); err != nil {
			return names, fmt.Errorf("device map %s: %w", def.DeviceMap, err)
		}
		for _, s := range dm.Sensors {
			names.Sensors = append(names.Sensors, s.Name)
		}
		for _, r := range dm.Relays {
			names.Relays = append(names.Relays, r.Name)
		}
		return names, nil
	case "modbus":
		raw, err := os.ReadFile(def.DeviceMap)
		if err != nil {
			return names, fmt.Errorf("device map %s: %w", def.DeviceMap, err)
		}
		var dm modbusbackend.DeviceMap
		if err := yaml.Unmarshal(raw, &dm); err != nil {
			return names, fmt.Errorf("device map %s: %w", def.DeviceMap, err)
		}
		for _, s := range dm.Sensors {
			names.Sensors = append(names.Sensors, s.Name)
		}
		for _, r := range dm.Relays {
			names.Relays = append(names.Relays, r.Name)
		}
		return names, nil
	}
	return names, fmt.Errorf("backend %q: unknown type %q: %w", def.Name, def.Type, errs.ErrInvalid)
}
