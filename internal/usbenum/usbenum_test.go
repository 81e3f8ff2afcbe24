package usbenum

import "testing"

type fakeLister struct {
	candidates []Candidate
}

func (f fakeLister) List() ([]Candidate, error) { return f.candidates, nil }

func TestEnumerate_FiltersUnknownVidPid(t *testing.T) {
	l := fakeLister{candidates: []Candidate{
		{Path: "/dev/ttyACM0", VidPid: VidPid{0x03EB, 0xECAC}, Product: "Grid"},
		{Path: "/dev/ttyUSB1", VidPid: VidPid{0x1234, 0x5678}, Product: "Other"},
	}}
	got, err := Enumerate(l)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d devices, want 1", len(got))
	}
	if got[0].Path != "/dev/ttyACM0" {
		t.Errorf("path = %q", got[0].Path)
	}
}

func TestIsKnown(t *testing.T) {
	if !IsKnown(VidPid{0x303A, 0x8123}) {
		t.Error("expected known vid/pid")
	}
	if IsKnown(VidPid{0, 0}) {
		t.Error("expected unknown vid/pid")
	}
}
