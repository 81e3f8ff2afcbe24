// Package elements models the closed enumeration of element types and
// event types as tagged variants backed by a per-variant descriptor table,
// per spec.md §9 ("Polymorphism"): no inheritance, just a registry mapping a
// type tag to its capability set. Grounded on the teacher's device-builder
// registry (services/hal/registry.go): a package-level, mutex-guarded map
// populated by RegisterBuilder at init, looked up by a string key.
package elements

import (
	"fmt"
	"sync"
)

// EventType is one of the small set of triggers an element can fire.
type EventType string

const (
	EventInit    EventType = "init"
	EventPress   EventType = "press"
	EventTurn    EventType = "turn"
	EventMove    EventType = "move"
	EventTimer   EventType = "timer"
	EventMapMode EventType = "mapmode"
	EventMIDIRx  EventType = "midirx"
	EventDraw    EventType = "draw"
)

// Action is a single script binding: a short tag, optional display name,
// and the script body text (spec.md §3, Action).
type Action struct {
	Short  string
	Name   string
	Script string
}

// Descriptor is the per-element-type capability set: how many physical
// elements a module of this type carries, the events each element
// supports, in canonical order, and the factory default action list for
// each (spec.md §9: "supportedEvents, defaultConfig"; §4.4 "enumerate
// elements from the element-type table").
type Descriptor struct {
	ElementCount    int
	SupportedEvents []EventType
	DefaultConfig   map[EventType][]Action
}

// SupportsEvent reports whether et is one of d's supported events.
func (d Descriptor) SupportsEvent(et EventType) bool {
	for _, e := range d.SupportedEvents {
		if e == et {
			return true
		}
	}
	return false
}

var (
	mu       sync.RWMutex
	registry = map[string]Descriptor{}
)

// Register installs the descriptor for an element type tag. It panics on
// duplicate registration, matching the teacher's startup-mistake-catching
// RegisterBuilder contract.
func Register(typeTag string, d Descriptor) {
	mu.Lock()
	defer mu.Unlock()
	if typeTag == "" {
		panic("elements: empty type tag")
	}
	if _, exists := registry[typeTag]; exists {
		panic(fmt.Sprintf("elements: descriptor already registered for type %q", typeTag))
	}
	registry[typeTag] = d
}

// Lookup returns the descriptor registered for typeTag.
func Lookup(typeTag string) (Descriptor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := registry[typeTag]
	return d, ok
}

// ModuleTypeFromHWCFG resolves a heartbeat's HWCFG byte to a type tag,
// following spec.md §9's deterministic order: full value first, then
// masked with 0x7F, then an opaque Unknown tag.
func ModuleTypeFromHWCFG(hwcfg int64) string {
	if name, ok := moduleTypeFull(hwcfg); ok {
		return name
	}
	if name, ok := moduleTypeFull(hwcfg & 0x7F); ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", hwcfg)
}

func moduleTypeFull(hwcfg int64) (string, bool) {
	name, ok := moduleTypes[hwcfg]
	return name, ok
}

// moduleTypes maps raw HWCFG values to their type tag. Populated alongside
// the built-in descriptors in builtin.go.
var moduleTypes = map[int64]string{}

// registerModuleType associates a HWCFG value with a type tag already
// registered via Register.
func registerModuleType(hwcfg int64, typeTag string) {
	mu.Lock()
	defer mu.Unlock()
	moduleTypes[hwcfg] = typeTag
}
