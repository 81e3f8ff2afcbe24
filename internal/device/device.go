package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"gridctl/internal/correlator"
	"gridctl/internal/elements"
	"gridctl/internal/errcode"
	"gridctl/internal/logging"
	"gridctl/internal/scriptcodec"
	"gridctl/internal/wire"
	"gridctl/internal/xmath"
)

// Timeouts mandated by spec.md §5.
const (
	timeoutPageActive     = 1500 * time.Millisecond
	timeoutFetchConfig    = 5 * time.Second
	timeoutExecuteConfig  = 10 * time.Second
	timeoutPageStore      = 10 * time.Second
	timeoutNVMErase       = 15 * time.Second
	discoveryPollInterval = 100 * time.Millisecond
	discoveryTailWindow   = 500 * time.Millisecond
	editorHeartbeatPeriod = 300 * time.Millisecond
	interEventPacing      = 30 * time.Millisecond
)

// MaxConfigLength is the device CONFIG_LENGTH bound sendEventConfig
// validates ACTIONSTRING against (spec.md §4.4). The real firmware constant
// is not given numerically in scope; this is a representative bound.
const MaxConfigLength = 4096

// protocol version fields this engine emits on CONFIG/FETCH and
// CONFIG/EXECUTE requests (spec.md §6 table, "VERSIONMAJOR/MINOR/PATCH").
const (
	protocolVersionMajor = 1
	protocolVersionMinor = 0
	protocolVersionPatch = 0
)

// Sender is the subset of Link's interface Device needs to transmit.
type Sender interface {
	Write(payload []byte) error
}

// Awaiter is the subset of Correlator's interface Device needs to receive.
type Awaiter interface {
	Await(ctx context.Context, f wire.Filter, timeout time.Duration) (wire.DecodedMessage, error)
	Close()
}

// Device is the stateful façade over one connected Grid device (spec.md
// §4.4). Construct via Open.
type Device struct {
	link  Sender
	corr  Awaiter
	codec wire.PacketCodec
	log   *logging.Logger

	min Minifier
	hum Humanizer

	mu                 sync.Mutex
	modules            map[ModuleKey]ModuleInfo
	activePage         map[ModuleKey]int
	pageChangeDisabled bool
	closing            bool

	heartbeatStop chan struct{}
	heartbeatDone chan struct{}

	rawSub    <-chan wire.DecodedMessage
	rawCancel func()
}

// Minifier and Humanizer let Open wire in the same script transform
// collaborators scriptcodec.EncodeActionStream/DecodeActionStream expect.
type Minifier = scriptcodec.Minifier
type Humanizer = scriptcodec.Humanizer

// Source is the subset of Link's interface Device needs beyond Sender: a
// broadcast subscription, consumed twice — once to feed the owned
// Correlator, once directly for DEBUGTEXT monitoring.
type Source interface {
	correlator.Source
}

// Open constructs a Device atop an already-open Link, starting its owned
// Correlator and the periodic editor-heartbeat task.
func Open(link interface {
	Sender
	Source
}, codec wire.PacketCodec, logger *logging.Logger) *Device {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Device{
		link:          link,
		codec:         codec,
		log:           logger,
		min:           scriptcodec.NopMinifier{},
		hum:           scriptcodec.NopHumanizer{},
		modules:       map[ModuleKey]ModuleInfo{},
		activePage:    map[ModuleKey]int{},
		heartbeatStop: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
	d.corr = correlator.New(link, d.onHeartbeat)
	d.rawSub, d.rawCancel = link.Subscribe()
	go d.watchDebugText()
	go d.runEditorHeartbeat()
	return d
}

// SetScriptCollaborators overrides the minifier/humanizer used by
// sendEventConfig/fetchEventConfig. Defaults to no-ops that return scripts
// unchanged.
func (d *Device) SetScriptCollaborators(m Minifier, h Humanizer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m != nil {
		d.min = m
	}
	if h != nil {
		d.hum = h
	}
}

func (d *Device) onHeartbeat(msg wire.DecodedMessage) {
	// SX/SY travel in the message's source fields, not its class parameters.
	pos := wire.DecodedMessage{Params: map[string]any{"SX": msg.SX, "SY": msg.SY}}
	sx, ok1 := pos.Int("SX")
	sy, ok2 := pos.Int("SY")
	hwcfg, ok3 := msg.Int("HWCFG")
	if !ok1 || !ok2 || !ok3 {
		return // invalid heartbeat dropped silently (spec.md §4.4)
	}
	vmajor, _ := msg.Int("VMAJOR")
	vminor, _ := msg.Int("VMINOR")
	vpatch, _ := msg.Int("VPATCH")

	typeName := elements.ModuleTypeFromHWCFG(hwcfg)
	elementCount := 0
	if desc, ok := elements.Lookup(typeName); ok {
		elementCount = desc.ElementCount
	}

	info := ModuleInfo{
		DX:           int8(sx),
		DY:           int8(sy),
		TypeName:     typeName,
		TypeID:       hwcfg,
		Firmware:     FirmwareVersion{Major: int(vmajor), Minor: int(vminor), Patch: int(vpatch)},
		ElementCount: elementCount,
	}

	d.mu.Lock()
	d.modules[info.Key()] = info
	d.mu.Unlock()
}

func (d *Device) watchDebugText() {
	for msg := range d.rawSub {
		if msg.Class != "DEBUGTEXT" {
			continue
		}
		text, _ := msg.String("TEXT")
		if strings.Contains(text, "page change is disabled") {
			d.mu.Lock()
			d.pageChangeDisabled = true
			d.mu.Unlock()
		}
	}
}

func (d *Device) runEditorHeartbeat() {
	defer close(d.heartbeatDone)
	ticker := time.NewTicker(editorHeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.sendDescriptor(wire.Descriptor{
				DX: wire.BroadcastX, DY: wire.BroadcastY,
				Class:       "EDITORHEARTBEAT",
				Instruction: wire.InstructionExecute,
				Params:      map[string]any{"TYPE": 255},
			}); err != nil {
				d.log.Warn("editor heartbeat send failed: %v", err)
			}
		case <-d.heartbeatStop:
			return
		}
	}
}

func (d *Device) sendDescriptor(desc wire.Descriptor) error {
	payload, err := d.codec.EncodePacket(desc)
	if err != nil {
		return errcode.Wrap(errcode.Protocol, "device.sendDescriptor", err)
	}
	return d.link.Write(payload)
}

// GetModules returns a snapshot of the current inventory.
func (d *Device) GetModules() []ModuleInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ModuleInfo, 0, len(d.modules))
	for _, m := range d.modules {
		out = append(out, m)
	}
	return out
}

// WaitForModules polls the inventory every 100 ms up to timeout; once
// non-empty, absorbs up to a further 500 ms tail window (capped by
// remaining budget) to let late heartbeats arrive, then returns a snapshot.
// Never fails; may return empty (spec.md §4.4).
func (d *Device) WaitForModules(ctx context.Context, timeout time.Duration) []ModuleInfo {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(discoveryPollInterval)
	defer ticker.Stop()

	for {
		if mods := d.GetModules(); len(mods) > 0 {
			remaining := time.Until(deadline)
			tail := discoveryTailWindow
			if remaining < tail {
				tail = remaining
			}
			if tail > 0 {
				select {
				case <-time.After(tail):
				case <-ctx.Done():
				}
			}
			return d.GetModules()
		}
		if time.Now().After(deadline) {
			return d.GetModules()
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return d.GetModules()
		}
	}
}

// FetchEventConfig sends a CONFIG/FETCH request and awaits the matching
// CONFIG/REPORT, retrying once on Timeout (spec.md §4.4). The two-valued
// return distinguishes a genuinely empty binding from a communication
// glitch.
func (d *Device) FetchEventConfig(ctx context.Context, dx, dy int8, page, element, eventType int) (actions []elements.Action, failed bool) {
	attempt := func() ([]elements.Action, error) {
		err := d.sendDescriptor(wire.Descriptor{
			DX: dx, DY: dy,
			Class:       "CONFIG",
			Instruction: wire.InstructionFetch,
			Params: map[string]any{
				"VERSIONMAJOR": protocolVersionMajor,
				"VERSIONMINOR": protocolVersionMinor,
				"VERSIONPATCH": protocolVersionPatch,
				"PAGENUMBER":   page,
				"ELEMENTNUMBER": element,
				"EVENTTYPE":     eventType,
				"ACTIONLENGTH":  0,
			},
		})
		if err != nil {
			return nil, err
		}
		msg, err := d.corr.Await(ctx, wire.Filter{
			Class:       "CONFIG",
			Instruction: wire.InstructionReport,
			Params: map[string]any{
				"PAGENUMBER":    page,
				"ELEMENTNUMBER": element,
				"EVENTTYPE":     eventType,
			},
		}, timeoutFetchConfig)
		if err != nil {
			return nil, err
		}
		raw, ok := msg.String("ACTIONSTRING")
		if !ok {
			return nil, errcode.New(errcode.Protocol, "device.FetchEventConfig", "missing ACTIONSTRING")
		}
		unwrapped, err := scriptcodec.UnwrapLua(raw)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		hum := d.hum
		d.mu.Unlock()
		return scriptcodec.DecodeActionStream(unwrapped, hum)
	}

	actions, err := attempt()
	if err != nil && errcode.Of(err) == errcode.Timeout {
		actions, err = attempt()
	}
	if err != nil {
		return nil, true
	}
	return actions, false
}

// ProgressFunc reports a non-decreasing progress index during
// FetchModuleConfig.
type ProgressFunc func(done, total int)

// FetchModuleConfig enumerates the filtered pages, the module's elements,
// and their supported events, fetching each binding. Aborts with
// ProtocolUnstable if the failed-event count exceeds max(5, floor(0.1 ×
// total)) (spec.md §4.4).
func (d *Device) FetchModuleConfig(ctx context.Context, module ModuleInfo, filter PageFilter, progress ProgressFunc) (ModuleConfig, error) {
	desc, ok := elements.Lookup(module.TypeName)
	if !ok {
		return ModuleConfig{}, errcode.New(errcode.Config, "device.FetchModuleConfig", "unknown element type: "+module.TypeName)
	}

	pages := filter.Resolve()
	total := len(pages) * module.ElementCount * len(desc.SupportedEvents)
	threshold := 5
	if t := total / 10; t > threshold {
		threshold = t
	}

	var failedCount, done int
	var pageConfigs []PageConfig
	for _, page := range pages {
		var events []EventConfig
		for element := 0; element < module.ElementCount; element++ {
			for _, et := range desc.SupportedEvents {
				actions, failed := d.FetchEventConfig(ctx, module.DX, module.DY, page, element, eventTypeCode(et))
				done++
				if progress != nil {
					progress(done, total)
				}
				if failed {
					failedCount++
					if failedCount > threshold {
						return ModuleConfig{}, errcode.New(errcode.Protocol, "device.FetchModuleConfig", "ProtocolUnstable: too many failed fetches")
					}
				}
				events = append(events, EventConfig{
					Element:   element,
					EventType: string(et),
					Actions:   toDeviceActions(actions),
				})
			}
		}
		pageConfigs = append(pageConfigs, PageConfig{Page: page, Events: events})
	}

	return ModuleConfig{Module: module, Pages: pageConfigs}, nil
}

// eventTypeCode maps an event type tag to its wire integer code. This table
// is an engine-internal convention, not a vendor-specified code table; fetch
// and send both consult it so the mapping is at least self-consistent.
func eventTypeCode(et elements.EventType) int {
	codes := map[elements.EventType]int{
		elements.EventInit:    0,
		elements.EventPress:   1,
		elements.EventTurn:    2,
		elements.EventMove:    3,
		elements.EventTimer:   4,
		elements.EventMapMode: 5,
		elements.EventMIDIRx:  6,
		elements.EventDraw:    7,
	}
	return codes[et]
}

func toDeviceActions(in []elements.Action) []Action {
	out := make([]Action, len(in))
	for i, a := range in {
		out[i] = Action{Short: a.Short, Name: a.Name, Script: a.Script}
	}
	return out
}

func toElementActions(in []Action) []elements.Action {
	out := make([]elements.Action, len(in))
	for i, a := range in {
		out[i] = elements.Action{Short: a.Short, Name: a.Name, Script: a.Script}
	}
	return out
}

// SendEventConfig formats actions to the device wire shape, validates the
// encoded length, and sends CONFIG/EXECUTE, retrying up to twice on Timeout
// (spec.md §4.4).
func (d *Device) SendEventConfig(ctx context.Context, dx, dy int8, page, element, eventType int, actions []Action) error {
	d.mu.Lock()
	min := d.min
	d.mu.Unlock()

	encoded, err := scriptcodec.EncodeActionStream(toElementActions(actions), min)
	if err != nil {
		return errcode.Wrap(errcode.Protocol, "device.SendEventConfig", err)
	}
	wrapped := scriptcodec.WrapLua(encoded)
	if len(wrapped) > MaxConfigLength {
		return errcode.New(errcode.Protocol, "device.SendEventConfig", "encoded action stream exceeds CONFIG_LENGTH")
	}

	attempt := func() error {
		if err := d.sendDescriptor(wire.Descriptor{
			DX: dx, DY: dy,
			Class:       "CONFIG",
			Instruction: wire.InstructionExecute,
			Params: map[string]any{
				"VERSIONMAJOR": protocolVersionMajor,
				"VERSIONMINOR": protocolVersionMinor,
				"VERSIONPATCH": protocolVersionPatch,
				"PAGENUMBER":   page,
				"ELEMENTNUMBER": element,
				"EVENTTYPE":     eventType,
				"ACTIONSTRING":  wrapped,
				"ACTIONLENGTH":  len(wrapped),
			},
		}); err != nil {
			return err
		}
		_, err := d.corr.Await(ctx, wire.Filter{
			Class:       "CONFIG",
			Instruction: wire.InstructionAcknowledge,
		}, timeoutExecuteConfig)
		return err
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		lastErr = attempt()
		if lastErr == nil || errcode.Of(lastErr) != errcode.Timeout {
			return lastErr
		}
	}
	return lastErr
}

// SendModuleConfig pushes config to the device, addressing by
// target.Position if provided, else config.Module.Position (spec.md
// §4.4). Page switches are confirmed before any EXECUTE for that page is
// issued; successive EXECUTEs within a page are paced 30 ms apart.
func (d *Device) SendModuleConfig(ctx context.Context, config ModuleConfig, target *ModuleInfo) error {
	addr := config.Module
	if target != nil {
		addr = *target
	}
	key := addr.Key()

	for _, page := range config.Pages {
		d.mu.Lock()
		current, known := d.activePage[key]
		d.mu.Unlock()
		if !known || current != page.Page {
			confirmed, err := d.ChangePage(ctx, page.Page, &addr)
			if err != nil {
				return err
			}
			if !confirmed {
				return errcode.New(errcode.Protocol, "device.SendModuleConfig", "page change not confirmed")
			}
			d.mu.Lock()
			d.activePage[key] = page.Page
			d.mu.Unlock()
		}

		for i, ev := range page.Events {
			if i > 0 {
				time.Sleep(interEventPacing)
			}
			code := eventTypeCodeByName(ev.EventType)
			if err := d.SendEventConfig(ctx, addr.DX, addr.DY, page.Page, ev.Element, code, ev.Actions); err != nil {
				return err
			}
		}
	}
	return nil
}

func eventTypeCodeByName(name string) int {
	return eventTypeCode(elements.EventType(name))
}

// ChangePage attempts to switch the active page, broadcasting first and
// then, if module is supplied, addressing it directly — two rounds total.
// If the page-change-disabled latch is set and n>0, attempts storeToFlash
// first, clearing the latch only on success (spec.md §4.4).
func (d *Device) ChangePage(ctx context.Context, n int, module *ModuleInfo) (bool, error) {
	if !xmath.Between(n, 0, 3) {
		return false, errcode.New(errcode.Validation, "Device.ChangePage", "page number out of range 0-3")
	}
	d.mu.Lock()
	disabled := d.pageChangeDisabled
	d.mu.Unlock()
	if disabled && n > 0 {
		if err := d.StoreToFlash(ctx); err == nil {
			d.mu.Lock()
			d.pageChangeDisabled = false
			d.mu.Unlock()
		}
	}

	attemptAt := func(dx, dy int8) bool {
		if err := d.sendDescriptor(wire.Descriptor{
			DX: dx, DY: dy,
			Class:       "PAGEACTIVE",
			Instruction: wire.InstructionExecute,
			Params:      map[string]any{"PAGENUMBER": n},
		}); err != nil {
			return false
		}
		_, err := d.corr.Await(ctx, wire.Filter{
			Class:       "PAGEACTIVE",
			Instruction: wire.InstructionReport,
			Params:      map[string]any{"PAGENUMBER": n},
		}, timeoutPageActive)
		return err == nil
	}

	for round := 0; round < 2; round++ {
		if attemptAt(wire.BroadcastX, wire.BroadcastY) {
			return true, nil
		}
		if module != nil && attemptAt(module.DX, module.DY) {
			return true, nil
		}
	}
	return false, nil
}

// StoreToFlash issues PAGESTORE/EXECUTE broadcast, one retry on Timeout.
// Clears the page-change-disabled latch on success.
func (d *Device) StoreToFlash(ctx context.Context) error {
	attempt := func() error {
		if err := d.sendDescriptor(wire.Descriptor{
			DX: wire.BroadcastX, DY: wire.BroadcastY,
			Class:       "PAGESTORE",
			Instruction: wire.InstructionExecute,
		}); err != nil {
			return err
		}
		_, err := d.corr.Await(ctx, wire.Filter{
			Class:       "PAGESTORE",
			Instruction: wire.InstructionAcknowledge,
		}, timeoutPageStore)
		return err
	}
	err := attempt()
	if err != nil && errcode.Of(err) == errcode.Timeout {
		err = attempt()
	}
	if err == nil {
		d.mu.Lock()
		d.pageChangeDisabled = false
		d.mu.Unlock()
	}
	return err
}

// EraseNvm issues NVMERASE/EXECUTE broadcast with no retry.
func (d *Device) EraseNvm(ctx context.Context) error {
	if err := d.sendDescriptor(wire.Descriptor{
		DX: wire.BroadcastX, DY: wire.BroadcastY,
		Class:       "NVMERASE",
		Instruction: wire.InstructionExecute,
	}); err != nil {
		return err
	}
	_, err := d.corr.Await(ctx, wire.Filter{
		Class:       "NVMERASE",
		Instruction: wire.InstructionAcknowledge,
	}, timeoutNVMErase)
	return err
}

// Close synchronously stops the editor-heartbeat task, detaches the
// DEBUGTEXT listener, cancels every pending Waiter via the owned
// Correlator, and marks the Device closing (spec.md §5).
func (d *Device) Close() {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.closing = true
	d.mu.Unlock()

	close(d.heartbeatStop)
	<-d.heartbeatDone
	d.rawCancel()
	d.corr.Close()
}
