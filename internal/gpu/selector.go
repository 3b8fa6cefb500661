package gpu

import (
	"errors"
	"fmt"
)

// Driver names understood by Selector.
const (
	DriverAuto   = "auto"
	DriverNative = "native"
	DriverSoft   = "soft"
)

// Power preferences.
const (
	PowerHighPerformance = "high-performance"
	PowerLowPower        = "low-power"
)

// Selector chooses a driver and adapter when opening a device.
type Selector struct {
	Driver          string // auto, native or soft
	Ordinal         int    // adapter index within the driver
	PowerPreference string
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	return fmt.Sprintf("%s:%d", s.Driver, s.Ordinal)
}

// Open opens the device described by sel using the first matching driver.
// With DriverAuto every driver is tried in order and the first success wins.
func Open(sel Selector, drivers ...Driver) (Device, error) {
	name := sel.Driver
	if name == "" {
		name = DriverAuto
	}

	var errs []error
	for _, d := range drivers {
		if name != DriverAuto && d.Name() != name {
			continue
		}
		dev, err := d.Open(sel)
		if err == nil {
			return dev, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		if name != DriverAuto {
			break
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no driver named %q", ErrUnavailable, name)
	}
	return nil, errors.Join(errs...)
}

// Find returns the driver called name.
func Find(name string, drivers ...Driver) (Driver, bool) {
	for _, d := range drivers {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}
