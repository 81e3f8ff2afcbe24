// Package device implements the stateful façade spec.md §4.4 describes:
// module inventory, heartbeat-driven discovery, and the high-level
// fetch/send/page/store/erase operations with their retry and ordering
// policy. Grounded on the teacher's services/hal/hal.go service loop (one
// owning goroutine driving a state map plus periodic ticks) and
// services/heartbeat/service.go's ticker pattern for the editor heartbeat.
package device

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gridctl/internal/errcode"
)

// FirmwareVersion is the {major,minor,patch} tuple reported by a module's
// heartbeat (spec.md §3, ModuleInfo).
type FirmwareVersion struct {
	Major, Minor, Patch int
}

// ModuleKey addresses a module within a connected device (spec.md §3,
// invariant a).
type ModuleKey struct {
	DX, DY int8
}

func (k ModuleKey) String() string { return fmt.Sprintf("(%d,%d)", k.DX, k.DY) }

// ModuleInfo is discovered from HEARTBEAT traffic and mutated only by
// Device (spec.md §3).
type ModuleInfo struct {
	DX, DY       int8
	TypeName     string
	TypeID       int64
	Firmware     FirmwareVersion
	ElementCount int
}

// Key returns the ModuleKey addressing this module.
func (m ModuleInfo) Key() ModuleKey { return ModuleKey{DX: m.DX, DY: m.DY} }

// EventConfig is one element/event binding within a page (spec.md §3).
type EventConfig struct {
	Element   int
	EventType string
	Actions   []Action
}

// Action mirrors elements.Action; re-declared here (instead of imported) so
// device does not force every caller to depend on the elements registry
// just to read a ModuleConfig back. Device itself uses elements.Action
// internally and converts at the boundary (see device.go).
type Action struct {
	Short  string
	Name   string
	Script string
}

// PageConfig is one of a module's four selectable pages (spec.md §3).
type PageConfig struct {
	Page   int
	Events []EventConfig
}

// ModuleConfig is a full fetch/read result: module identity plus its pages
// (spec.md §3). Immutable once constructed.
type ModuleConfig struct {
	Module ModuleInfo
	Pages  []PageConfig
}

// PageFilter selects a subset of pages 0..3. At most one of Include/Exclude
// may be set (spec.md §4.4); Resolve applies the page-filter law (spec.md
// §8 property 4): include ∪ (0..3 ∖ exclude).
type PageFilter struct {
	Include []int
	Exclude []int
}

// Resolve returns the sorted, deduplicated page list this filter selects.
func (f PageFilter) Resolve() []int {
	set := map[int]bool{}
	switch {
	case len(f.Include) > 0:
		for _, p := range f.Include {
			set[p] = true
		}
	case len(f.Exclude) > 0:
		excluded := map[int]bool{}
		for _, p := range f.Exclude {
			excluded[p] = true
		}
		for p := 0; p < 4; p++ {
			if !excluded[p] {
				set[p] = true
			}
		}
	default:
		for p := 0; p < 4; p++ {
			set[p] = true
		}
	}
	out := make([]int, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// ParsePageList parses the CLI page-list grammar (spec.md §6, S3): comma
// separated items, each a non-negative integer or "lo-hi" with lo ≤ hi.
func ParsePageList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, errcode.New(errcode.Config, "ParsePageList", "empty item in page list: "+s)
		}
		if dash := strings.IndexByte(item, '-'); dash > 0 {
			lo, err1 := strconv.Atoi(item[:dash])
			hi, err2 := strconv.Atoi(item[dash+1:])
			if err1 != nil || err2 != nil {
				return nil, errcode.New(errcode.Config, "ParsePageList", "malformed range: "+item)
			}
			if lo > hi {
				return nil, errcode.New(errcode.Config, "ParsePageList", "range lo>hi: "+item)
			}
			for p := lo; p <= hi; p++ {
				out = append(out, p)
			}
			continue
		}
		n, err := strconv.Atoi(item)
		if err != nil || n < 0 {
			return nil, errcode.New(errcode.Config, "ParsePageList", "malformed page number: "+item)
		}
		out = append(out, n)
	}
	return out, nil
}
