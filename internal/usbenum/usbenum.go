// Package usbenum filters candidate serial device paths by USB vendor/
// product id, the "simple filter" spec.md §1 names as an external
// collaborator contract rather than core engine logic. It is deliberately
// thin: no core component depends on its implementation, only on the
// DeviceInfo shape it produces.
package usbenum

import "fmt"

// VidPid is one recognized (vendor, product) pair.
type VidPid struct {
	Vendor, Product uint16
}

// Known lists the Grid device vid/pid pairs named in spec.md §6.
var Known = []VidPid{
	{0x03EB, 0xECAC},
	{0x03EB, 0xECAD},
	{0x303A, 0x8123},
	{0x303A, 0x8124},
}

// IsKnown reports whether vp matches one of the recognized Grid pairs.
func IsKnown(vp VidPid) bool {
	for _, k := range Known {
		if k == vp {
			return true
		}
	}
	return false
}

// DeviceInfo is the immutable record produced by enumeration (spec.md §3).
type DeviceInfo struct {
	Path         string
	VidPid       VidPid
	Product      string
	SerialNumber string
}

// String renders the pair as lowercase hex "vvvv:pppp".
func (vp VidPid) String() string {
	return fmt.Sprintf("%04x:%04x", vp.Vendor, vp.Product)
}

// Candidate is one raw entry a platform-specific lister discovers, before
// vid/pid filtering.
type Candidate struct {
	Path         string
	VidPid       VidPid
	Product      string
	SerialNumber string
}

// Lister discovers raw USB-serial candidates on the host. The production
// implementation (see sysfs_linux.go) walks /sys/bus/usb/devices; tests
// supply a fake.
type Lister interface {
	List() ([]Candidate, error)
}

// Enumerate lists candidates via l and keeps only the ones matching a known
// Grid vid/pid.
func Enumerate(l Lister) ([]DeviceInfo, error) {
	candidates, err := l.List()
	if err != nil {
		return nil, err
	}
	var out []DeviceInfo
	for _, c := range candidates {
		if !IsKnown(c.VidPid) {
			continue
		}
		out = append(out, DeviceInfo{
			Path:         c.Path,
			VidPid:       c.VidPid,
			Product:      c.Product,
			SerialNumber: c.SerialNumber,
		})
	}
	return out, nil
}
