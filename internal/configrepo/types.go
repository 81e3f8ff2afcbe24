// Package configrepo implements the on-disk configuration format spec.md
// §4.5 describes: one directory per module (module.json manifest plus
// per-page .lua script files with "-- grid:" front-matter), with
// default-collapse on write and default-expansion on read. Grounded on the
// teacher's services/config/config.go for the tinyjson tolerant-pre-parse
// idiom, generalized from "publish embedded JSON onto the bus" to "decode
// and validate a module manifest."
package configrepo

import (
	"fmt"
	"strings"
	"time"

	"gridctl/internal/device"
	"gridctl/internal/errcode"
)

// ElementEntry is one element's manifest record (spec.md §4.5).
type ElementEntry struct {
	Index int    `json:"index"`
	Type  string `json:"type"`
}

// ModuleFile is the module.json schema (spec.md §4.5).
type ModuleFile struct {
	Version     string         `json:"version"`
	Created     time.Time      `json:"created"`
	Modified    time.Time      `json:"modified"`
	ToolVersion string         `json:"toolVersion"`
	Index       int            `json:"index"`
	Position    [2]int8        `json:"position"`
	Type        string         `json:"type"`
	TypeID      int64          `json:"typeId"`
	Firmware    FirmwareFile   `json:"firmware"`
	Elements    []ElementEntry `json:"elements"`
	Pages       []int          `json:"pages"`
}

// FirmwareFile mirrors device.FirmwareVersion for JSON purposes.
type FirmwareFile struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// ManifestVersion is the module.json "version" field this codec writes and
// expects on read.
const ManifestVersion = "1.0.0"

// ToolVersion is the tool-version tag stamped into every manifest this
// codec writes.
const ToolVersion = "gridctl/1.0.0"

// moduleFileFromConfig builds the on-disk manifest shape from a fetched
// ModuleConfig plus the module's position in the directory listing.
func moduleFileFromConfig(cfg device.ModuleConfig, index int, now time.Time, pages []int) ModuleFile {
	m := cfg.Module
	elems := make([]ElementEntry, m.ElementCount)
	for i := range elems {
		elems[i] = ElementEntry{Index: i, Type: m.TypeName}
	}
	return ModuleFile{
		Version:     ManifestVersion,
		Created:     now,
		Modified:    now,
		ToolVersion: ToolVersion,
		Index:       index,
		Position:    [2]int8{m.DX, m.DY},
		Type:        m.TypeName,
		TypeID:      m.TypeID,
		Firmware:    FirmwareFile{Major: m.Firmware.Major, Minor: m.Firmware.Minor, Patch: m.Firmware.Patch},
		Elements:    elems,
		Pages:       pages,
	}
}

// slugify lowercases typeName and collapses non-alphanumerics to '-', for
// the "NN-<slug>" module directory naming convention (spec.md §4.5).
func slugify(typeName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(typeName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// moduleDirName renders the "NN-<slug>" directory name for a 1-based index.
func moduleDirName(index int, typeName string) (string, error) {
	if err := validateTypeName(typeName); err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d-%s", index, slugify(typeName)), nil
}

// validateTypeName rejects module type strings containing path-unsafe
// characters at write time (spec.md §4.5 "Path safety").
func validateTypeName(typeName string) error {
	if strings.ContainsAny(typeName, "/\\") || strings.Contains(typeName, "..") {
		return errcode.New(errcode.Config, "configrepo.validateTypeName", "unsafe module type string: "+typeName)
	}
	return nil
}
