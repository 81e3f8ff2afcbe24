package elements

// Built-in element-type descriptors. Real Grid firmware ships many more
// types; these are the ones exercised by the testable scenarios and a
// representative cross-section of the control families named in spec.md's
// GLOSSARY (button, encoder, potentiometer, fader, display).

func init() {
	Register("BU16", Descriptor{
		ElementCount:    16,
		SupportedEvents: []EventType{EventInit, EventPress},
		DefaultConfig: map[EventType][]Action{
			EventInit:  {},
			EventPress: {},
		},
	})
	registerModuleType(1, "BU16")

	Register("PO16", Descriptor{
		ElementCount:    16,
		SupportedEvents: []EventType{EventInit, EventMove},
		DefaultConfig: map[EventType][]Action{
			EventInit: {},
			EventMove: {},
		},
	})
	registerModuleType(0, "PO16")

	Register("EN16", Descriptor{
		ElementCount:    16,
		SupportedEvents: []EventType{EventInit, EventTurn, EventPress},
		DefaultConfig: map[EventType][]Action{
			EventInit:  {},
			EventTurn:  {},
			EventPress: {},
		},
	})
	registerModuleType(2, "EN16")

	Register("FA16", Descriptor{
		ElementCount:    16,
		SupportedEvents: []EventType{EventInit, EventMove},
		DefaultConfig: map[EventType][]Action{
			EventInit: {},
			EventMove: {},
		},
	})
	registerModuleType(3, "FA16")

	Register("DI16", Descriptor{
		ElementCount:    16,
		SupportedEvents: []EventType{EventInit, EventDraw, EventTimer},
		DefaultConfig: map[EventType][]Action{
			EventInit:  {},
			EventDraw:  {},
			EventTimer: {},
		},
	})
	registerModuleType(4, "DI16")

	// TEST is a fixture element type used by round-trip tests (spec.md §8
	// S4): two elements, each supporting init and press, both defaulting to
	// no actions.
	Register("TEST", Descriptor{
		ElementCount:    2,
		SupportedEvents: []EventType{EventInit, EventPress},
		DefaultConfig: map[EventType][]Action{
			EventInit:  {},
			EventPress: {},
		},
	})
}
