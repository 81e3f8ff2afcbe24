//go:build linux

package usbenum

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsLister walks /sys/bus/usb/devices, the standard Linux USB device
// tree, to find serial devices and their enclosing USB interface's
// vid/pid. This concern is host-OS sysfs plumbing with no third-party
// library in the corpus addressing it (DESIGN.md justifies the stdlib use);
// everything downstream of List (vid/pid filtering, DeviceInfo shape)
// stays pure Go with no OS dependency.
type SysfsLister struct {
	Root string // defaults to /sys/bus/usb/devices
	Dev  string // defaults to /dev
}

// NewSysfsLister returns a lister rooted at the real sysfs/devfs paths.
func NewSysfsLister() *SysfsLister {
	return &SysfsLister{Root: "/sys/bus/usb/devices", Dev: "/dev"}
}

func (s *SysfsLister) root() string {
	if s.Root != "" {
		return s.Root
	}
	return "/sys/bus/usb/devices"
}

func (s *SysfsLister) dev() string {
	if s.Dev != "" {
		return s.Dev
	}
	return "/dev"
}

// List scans each USB device directory for idVendor/idProduct and an
// associated tty child node.
func (s *SysfsLister) List() ([]Candidate, error) {
	entries, err := os.ReadDir(s.root())
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, e := range entries {
		dir := filepath.Join(s.root(), e.Name())
		vp, ok := readVidPid(dir)
		if !ok {
			continue
		}
		ttyName, ok := findTTYChild(dir)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Path:         filepath.Join(s.dev(), ttyName),
			VidPid:       vp,
			Product:      readSysfsString(filepath.Join(dir, "product")),
			SerialNumber: readSysfsString(filepath.Join(dir, "serial")),
		})
	}
	return out, nil
}

func readVidPid(dir string) (VidPid, bool) {
	vendor, ok := readHex16(filepath.Join(dir, "idVendor"))
	if !ok {
		return VidPid{}, false
	}
	product, ok := readHex16(filepath.Join(dir, "idProduct"))
	if !ok {
		return VidPid{}, false
	}
	return VidPid{Vendor: vendor, Product: product}, true
}

func readHex16(path string) (uint16, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(n), true
}

func readSysfsString(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// findTTYChild locates a tty device node under a USB device's interface
// subdirectories, e.g. <dir>/<iface>/tty/ttyACM0.
func findTTYChild(dir string) (string, bool) {
	var found string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if info.IsDir() && info.Name() == "tty" {
			children, rerr := os.ReadDir(path)
			if rerr == nil {
				for _, c := range children {
					found = c.Name()
					return filepath.SkipDir
				}
			}
		}
		return nil
	})
	return found, found != ""
}
