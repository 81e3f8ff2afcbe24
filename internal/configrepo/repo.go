package configrepo

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gridctl/internal/device"
	"gridctl/internal/elements"
	"gridctl/internal/errcode"
)

// Repo is a directory-backed store of ModuleConfigs (spec.md §4.5).
type Repo struct {
	BaseDir string
}

// New returns a Repo rooted at baseDir.
func New(baseDir string) *Repo {
	return &Repo{BaseDir: baseDir}
}

// resolveModuleDir validates dirName against path-traversal and resolves it
// under the repo's base directory (spec.md §4.5 "Path safety").
func (r *Repo) resolveModuleDir(dirName string) (string, error) {
	if dirName == "" || strings.ContainsAny(dirName, "/\\") || strings.Contains(dirName, "..") {
		return "", errcode.New(errcode.Config, "configrepo.resolveModuleDir", "unsafe module directory name: "+dirName)
	}
	base, err := filepath.Abs(r.BaseDir)
	if err != nil {
		return "", errcode.Wrap(errcode.Config, "configrepo.resolveModuleDir", err)
	}
	full := filepath.Join(base, dirName)
	rel, err := filepath.Rel(base, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", errcode.New(errcode.Config, "configrepo.resolveModuleDir", "path escapes base directory: "+dirName)
	}
	return full, nil
}

// WriteModule writes one module's directory: module.json plus a page-<N>.lua
// per page whose events are not all default, applying default-collapse and
// the empty-module sentinel (spec.md §4.5).
func (r *Repo) WriteModule(index int, cfg device.ModuleConfig, now time.Time) error {
	dirName, err := moduleDirName(index, cfg.Module.TypeName)
	if err != nil {
		return err
	}
	dir, err := r.resolveModuleDir(dirName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errcode.Wrap(errcode.Config, "configrepo.WriteModule", err)
	}

	var writtenPages []int
	anyWritten := false
	for _, page := range cfg.Pages {
		collapsed := collapseDefaults(cfg.Module.TypeName, page.Events)
		if len(collapsed) == 0 {
			continue
		}
		writtenPages = append(writtenPages, page.Page)
		anyWritten = true
		if err := r.writePageFile(dir, page.Page, collapsed, false); err != nil {
			return err
		}
	}

	if !anyWritten {
		writtenPages = []int{0}
		if err := r.writePageFile(dir, 0, nil, true); err != nil {
			return err
		}
	}
	sort.Ints(writtenPages)

	mf := moduleFileFromConfig(cfg, index, now, writtenPages)
	raw, err := encodeModuleFile(mf)
	if err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(dir, "module.json"), raw)
}

func (r *Repo) writePageFile(dir string, page int, events []device.EventConfig, sentinel bool) error {
	data := renderScriptFile(page, events, sentinel)
	return atomicWriteFile(filepath.Join(dir, pageFilename(page)), data)
}

func pageFilename(page int) string {
	return "page-" + strconv.Itoa(page) + ".lua"
}

// collapseDefaults elides EventConfigs whose action list structurally
// equals the (element-type, event-type) default (spec.md §4.5 "Default
// collapse").
func collapseDefaults(typeName string, events []device.EventConfig) []device.EventConfig {
	desc, ok := elements.Lookup(typeName)
	if !ok {
		return events
	}
	var out []device.EventConfig
	for _, ev := range events {
		def := desc.DefaultConfig[elements.EventType(ev.EventType)]
		if actionsEqualDevice(toElementActionsPkg(ev.Actions), def) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// ReadModule reads one module directory, reconciling front-matter with
// file-name page numbers and expanding unspecified (element,event) pairs to
// their defaults (spec.md §4.5 "Default expansion").
func (r *Repo) ReadModule(dirName string) (device.ModuleConfig, []string, error) {
	dir, err := r.resolveModuleDir(dirName)
	if err != nil {
		return device.ModuleConfig{}, nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "module.json"))
	if err != nil {
		return device.ModuleConfig{}, nil, errcode.Wrap(errcode.Config, "configrepo.ReadModule", err)
	}
	mf, err := decodeModuleFile(raw)
	if err != nil {
		return device.ModuleConfig{}, nil, err
	}
	if mf.Version != ManifestVersion {
		return device.ModuleConfig{}, nil, errcode.New(errcode.Config, "configrepo.ReadModule", "unsupported module.json version: "+mf.Version)
	}

	elementTypeAt := func(idx int) (string, bool) {
		for _, e := range mf.Elements {
			if e.Index == idx {
				return e.Type, true
			}
		}
		return "", false
	}

	var warnings []string
	byPage := map[int][]device.EventConfig{}
	for _, page := range mf.Pages {
		filename := pageFilename(page)
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			return device.ModuleConfig{}, nil, errcode.Wrap(errcode.Config, "configrepo.ReadModule", err)
		}
		parsed, err := parseScriptFile(filename, data, elementTypeAt)
		if err != nil {
			return device.ModuleConfig{}, nil, err
		}
		warnings = append(warnings, parsed.Warnings...)
		byPage[parsed.Page] = parsed.Events
	}

	desc, ok := elements.Lookup(mf.Type)
	if !ok {
		return device.ModuleConfig{}, nil, errcode.New(errcode.Config, "configrepo.ReadModule", "unknown element type: "+mf.Type)
	}

	var pages []device.PageConfig
	for _, pageNum := range mf.Pages {
		present := indexEvents(byPage[pageNum])
		var events []device.EventConfig
		for _, e := range mf.Elements {
			for _, et := range desc.SupportedEvents {
				key := eventKey{element: e.Index, eventType: string(et)}
				if ev, found := present[key]; found {
					events = append(events, ev)
					continue
				}
				events = append(events, device.EventConfig{
					Element:   e.Index,
					EventType: string(et),
					Actions:   toDeviceActionsPkg(desc.DefaultConfig[et]),
				})
			}
		}
		pages = append(pages, device.PageConfig{Page: pageNum, Events: events})
	}

	module := device.ModuleInfo{
		DX: mf.Position[0], DY: mf.Position[1],
		TypeName:     mf.Type,
		TypeID:       mf.TypeID,
		Firmware:     device.FirmwareVersion{Major: mf.Firmware.Major, Minor: mf.Firmware.Minor, Patch: mf.Firmware.Patch},
		ElementCount: len(mf.Elements),
	}
	return device.ModuleConfig{Module: module, Pages: pages}, warnings, nil
}

type eventKey struct {
	element   int
	eventType string
}

func indexEvents(events []device.EventConfig) map[eventKey]device.EventConfig {
	m := make(map[eventKey]device.EventConfig, len(events))
	for _, e := range events {
		m[eventKey{element: e.Element, eventType: e.EventType}] = e
	}
	return m
}

// atomicWriteFile writes data to a temp file in the same directory and
// renames it into place, so a crash mid-write never leaves a truncated
// module.json or script file (spec.md §4.5 "Written atomically per
// module").
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errcode.Wrap(errcode.Config, "configrepo.atomicWriteFile", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errcode.Wrap(errcode.Config, "configrepo.atomicWriteFile", err)
	}
	return nil
}
