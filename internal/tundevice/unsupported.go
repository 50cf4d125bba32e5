//go:build !darwin && !freebsd

package tundevice

import "fmt"

type unsupportedDriver struct{}

// NewDriver returns a driver that always fails to create devices on
// platforms this core does not run on (spec.md's non-goal of Linux
// netlink support means this module never owns a Linux tunnel path).
func NewDriver() Driver {
	return unsupportedDriver{}
}

func (unsupportedDriver) Create() (Device, error) {
	return nil, fmt.Errorf("tundevice: unsupported platform")
}
