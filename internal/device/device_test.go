package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridctl/internal/logging"
	"gridctl/internal/wire"
)

// fakeLink is a minimal in-memory stand-in for *link.Link: it supports
// multiple independent broadcast subscribers (Device needs two: one for its
// owned Correlator, one for DEBUGTEXT watching) and records every written
// payload, decoded back via the same codec so tests can assert on requests.
type fakeLink struct {
	codec wire.PacketCodec

	mu        sync.Mutex
	subs      map[int]chan wire.DecodedMessage
	nextSubID int
	sent      []wire.DecodedMessage
}

func newFakeLink(codec wire.PacketCodec) *fakeLink {
	return &fakeLink{codec: codec, subs: map[int]chan wire.DecodedMessage{}}
}

func (f *fakeLink) Subscribe() (<-chan wire.DecodedMessage, func()) {
	f.mu.Lock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan wire.DecodedMessage, 64)
	f.subs[id] = ch
	f.mu.Unlock()
	return ch, func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeLink) Write(payload []byte) error {
	msgs, err := f.codec.DecodePacketFrame(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, msgs...)
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) emit(msg wire.DecodedMessage) {
	f.mu.Lock()
	subs := make([]chan wire.DecodedMessage, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- msg
	}
}

func (f *fakeLink) lastSent() (wire.DecodedMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return wire.DecodedMessage{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func newTestDevice(t *testing.T) (*Device, *fakeLink) {
	t.Helper()
	codec := wire.NewBRCCodec()
	fl := newFakeLink(codec)
	d := Open(fl, codec, logging.New(logging.DefaultConfig()))
	t.Cleanup(d.Close)
	return d, fl
}

func TestDevice_Inventory_S2(t *testing.T) {
	d, fl := newTestDevice(t)

	fl.emit(wire.DecodedMessage{
		Class: "HEARTBEAT", Instruction: wire.InstructionReport,
		SX: "0", SY: "0",
		Params: map[string]any{"HWCFG": "1", "VMAJOR": "1", "VMINOR": "2", "VPATCH": "3"},
	})
	fl.emit(wire.DecodedMessage{
		Class: "HEARTBEAT", Instruction: wire.InstructionReport,
		SX: "1", SY: "0",
		Params: map[string]any{"HWCFG": "0", "VMAJOR": "2", "VMINOR": "0", "VPATCH": "5"},
	})
	time.Sleep(50 * time.Millisecond)

	mods := d.GetModules()
	if len(mods) != 2 {
		t.Fatalf("got %d modules, want 2", len(mods))
	}
	byKey := map[ModuleKey]ModuleInfo{}
	for _, m := range mods {
		byKey[m.Key()] = m
	}
	m0, ok := byKey[ModuleKey{DX: 0, DY: 0}]
	if !ok || m0.TypeName != "BU16" || m0.Firmware != (FirmwareVersion{1, 2, 3}) {
		t.Errorf("module 0: %+v", m0)
	}
	if m0.ElementCount != 16 {
		t.Errorf("module 0 ElementCount = %d, want 16 (BU16's physical control count, not its 2 event types)", m0.ElementCount)
	}
	m1, ok := byKey[ModuleKey{DX: 1, DY: 0}]
	if !ok || m1.TypeName != "PO16" || m1.Firmware != (FirmwareVersion{2, 0, 5}) {
		t.Errorf("module 1: %+v", m1)
	}
	if m1.ElementCount != 16 {
		t.Errorf("module 1 ElementCount = %d, want 16", m1.ElementCount)
	}
}

func TestDevice_WaitForModules_EmptyNeverFails(t *testing.T) {
	d, _ := newTestDevice(t)
	mods := d.WaitForModules(context.Background(), 50*time.Millisecond)
	if mods != nil {
		t.Errorf("expected nil/empty, got %v", mods)
	}
}

func TestDevice_FetchEventConfig_Succeeds(t *testing.T) {
	d, fl := newTestDevice(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fl.emit(wire.DecodedMessage{
			Class: "CONFIG", Instruction: wire.InstructionReport,
			Params: map[string]any{
				"PAGENUMBER": 0, "ELEMENTNUMBER": 0, "EVENTTYPE": 0,
				"ACTIONSTRING": "<?lua --[[@a1]] print(1) ?>",
			},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	actions, failed := d.FetchEventConfig(ctx, 0, 0, 0, 0, 0)
	if failed {
		t.Fatal("expected success")
	}
	if len(actions) != 1 || actions[0].Short != "a1" {
		t.Errorf("actions = %+v", actions)
	}
	if _, ok := fl.lastSent(); !ok {
		t.Error("expected a CONFIG/FETCH to have been sent")
	}
}

func TestDevice_EraseNvm_NoRetryOnTimeout(t *testing.T) {
	d, _ := newTestDevice(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := d.EraseNvm(ctx)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took too long, suggests a retry happened: %v", elapsed)
	}
}

func TestParsePageList_S3(t *testing.T) {
	got, err := ParsePageList("0,2-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{0, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if _, err := ParsePageList("3-1"); err == nil {
		t.Fatal("expected Config error for lo>hi range")
	}
}

func TestPageFilter_Resolve_Law(t *testing.T) {
	inc := PageFilter{Include: []int{1, 2}}
	if got := inc.Resolve(); len(got) != 2 {
		t.Errorf("include: %v", got)
	}
	exc := PageFilter{Exclude: []int{1, 2}}
	got := exc.Resolve()
	want := []int{0, 3}
	if len(got) != len(want) || got[0] != 0 || got[1] != 3 {
		t.Errorf("exclude: got %v, want %v", got, want)
	}
}
