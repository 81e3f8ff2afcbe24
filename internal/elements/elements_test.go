package elements

import "testing"

func TestModuleTypeFromHWCFG_S2(t *testing.T) {
	cases := []struct {
		hwcfg int64
		want  string
	}{
		{1, "BU16"},
		{0, "PO16"},
	}
	for _, c := range cases {
		if got := ModuleTypeFromHWCFG(c.hwcfg); got != c.want {
			t.Errorf("ModuleTypeFromHWCFG(%d) = %q, want %q", c.hwcfg, got, c.want)
		}
	}
}

func TestModuleTypeFromHWCFG_MaskedFallback(t *testing.T) {
	// 0x81 has no full-value registration but masked 0x01 resolves to BU16.
	if got := ModuleTypeFromHWCFG(0x81); got != "BU16" {
		t.Errorf("got %q, want BU16", got)
	}
}

func TestModuleTypeFromHWCFG_Unknown(t *testing.T) {
	got := ModuleTypeFromHWCFG(999)
	if got != "Unknown(999)" {
		t.Errorf("got %q, want Unknown(999)", got)
	}
}

func TestLookup_TestFixture(t *testing.T) {
	d, ok := Lookup("TEST")
	if !ok {
		t.Fatal("TEST descriptor not registered")
	}
	if !d.SupportsEvent(EventInit) || !d.SupportsEvent(EventPress) {
		t.Errorf("TEST descriptor missing expected events: %+v", d)
	}
	if d.SupportsEvent(EventDraw) {
		t.Error("TEST descriptor should not support draw")
	}
}
