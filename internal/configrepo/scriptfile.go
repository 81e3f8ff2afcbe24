package configrepo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gridctl/internal/device"
	"gridctl/internal/elements"
	"gridctl/internal/errcode"
)

var pageFilenameRe = regexp.MustCompile(`^page-(\d+)\.lua$`)

var separatorRe = regexp.MustCompile(`^--\s*[=-]{3,}\s*$`)

var ignoredPrefixes = []string{
	"-- Grid Configuration",
	"-- Module:",
	"-- Element:",
	"-- Event:",
	"-- Page:",
	"-- action:",
}

func isIgnoredLine(trimmed string) bool {
	if separatorRe.MatchString(trimmed) {
		return true
	}
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

var newHeaderRe = regexp.MustCompile(`^--\[\[@([^#\]]+?)(?:#([^\]]+))?\]\](.*)$`)
var legacyHeaderRe = regexp.MustCompile(`^--\[\[\s*@action\s+(\S+)\s+"([^"]*)"\s*\]\]\s*$`)

type parsedHeader struct {
	short, name, inline string
}

func matchActionHeader(trimmed string) (parsedHeader, bool) {
	if m := newHeaderRe.FindStringSubmatch(trimmed); m != nil {
		return parsedHeader{short: m[1], name: m[2], inline: strings.TrimSpace(m[3])}, true
	}
	if m := legacyHeaderRe.FindStringSubmatch(trimmed); m != nil {
		return parsedHeader{short: m[1], name: m[2]}, true
	}
	return parsedHeader{}, false
}

// parsedPage is the intermediate result of parsing one script file, before
// default-expansion is applied by the caller.
type parsedPage struct {
	Page       int
	Events     []device.EventConfig
	PageFromFM bool
	Warnings   []string
}

// parseScriptFile implements the front-matter and event-block read rules of
// spec.md §4.5. elementType resolves a manifest element index to its
// registered type, used to resolve elementType disagreement warnings.
func parseScriptFile(filename string, data []byte, elementType func(index int) (string, bool)) (parsedPage, error) {
	lines := strings.Split(string(data), "\n")
	var warnings []string

	i := 0
	frontPage := -1
	frontPageSet := false
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "-- grid:event") {
			break
		}
		if strings.HasPrefix(trimmed, "-- grid:") {
			kv := strings.TrimSpace(strings.TrimPrefix(trimmed, "-- grid:"))
			eq := strings.IndexByte(kv, '=')
			if eq <= 0 || eq == len(kv)-1 {
				return parsedPage{}, errcode.New(errcode.Config, "configrepo.parseScriptFile", "malformed front-matter line: "+trimmed)
			}
			key, val := strings.TrimSpace(kv[:eq]), strings.TrimSpace(kv[eq+1:])
			if key == "" || val == "" {
				return parsedPage{}, errcode.New(errcode.Config, "configrepo.parseScriptFile", "malformed front-matter line: "+trimmed)
			}
			if key == "page" {
				n, err := strconv.Atoi(val)
				if err != nil {
					return parsedPage{}, errcode.New(errcode.Config, "configrepo.parseScriptFile", "non-numeric page in front-matter: "+val)
				}
				frontPage = n
				frontPageSet = true
			}
			continue
		}
		// non-"-- grid:" comment or stray content: skipped
	}

	page, warnings := resolvePageNumber(filename, frontPage, frontPageSet, warnings)

	var events []device.EventConfig
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, "-- grid:event") {
			i++
			continue
		}
		header := strings.TrimSpace(strings.TrimPrefix(trimmed, "-- grid:event"))
		fields, err := tokenizeKV(header)
		if err != nil {
			return parsedPage{}, errcode.Wrap(errcode.Config, "configrepo.parseScriptFile", err)
		}
		elemStr, hasElem := fields["element"]
		eventName, hasEvent := fields["event"]
		if !hasElem || !hasEvent {
			return parsedPage{}, errcode.New(errcode.Config, "configrepo.parseScriptFile", "event header missing element/event: "+trimmed)
		}
		elemIdx, err := strconv.Atoi(elemStr)
		if err != nil {
			return parsedPage{}, errcode.New(errcode.Config, "configrepo.parseScriptFile", "non-numeric element in event header: "+elemStr)
		}
		var manifestType string
		var manifestTypeKnown bool
		if elementType != nil {
			manifestType, manifestTypeKnown = elementType(elemIdx)
		}
		if declaredType, ok := fields["elementType"]; ok && manifestTypeKnown && manifestType != declaredType {
			warnings = append(warnings, fmt.Sprintf("elementType mismatch at element %d: file says %q, manifest says %q (manifest wins)", elemIdx, declaredType, manifestType))
		}
		if manifestTypeKnown {
			desc, ok := elements.Lookup(manifestType)
			if !ok {
				return parsedPage{}, errcode.New(errcode.Config, "configrepo.parseScriptFile", "unknown element type: "+manifestType)
			}
			if !desc.SupportsEvent(elements.EventType(eventName)) {
				return parsedPage{}, errcode.New(errcode.Config, "configrepo.parseScriptFile", fmt.Sprintf("unsupported event %q for element %d of type %s", eventName, elemIdx, manifestType))
			}
		}

		i++
		var blockLines []string
		for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "-- grid:event") {
			blockLines = append(blockLines, lines[i])
			i++
		}
		actions := parseActionBlock(blockLines)
		events = append(events, device.EventConfig{
			Element:   elemIdx,
			EventType: eventName,
			Actions:   actions,
		})
	}

	return parsedPage{Page: page, Events: events, PageFromFM: frontPageSet, Warnings: warnings}, nil
}

func resolvePageNumber(filename string, frontPage int, frontPageSet bool, warnings []string) (int, []string) {
	var filePage int
	var filePageSet bool
	if m := pageFilenameRe.FindStringSubmatch(filename); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			filePage, filePageSet = n, true
		}
	}
	switch {
	case frontPageSet:
		if filePageSet && filePage != frontPage {
			warnings = append(warnings, fmt.Sprintf("page mismatch: front-matter says %d, filename says %d (front-matter wins)", frontPage, filePage))
		}
		return frontPage, warnings
	case filePageSet:
		warnings = append(warnings, fmt.Sprintf("page number taken from filename (%d); front-matter absent", filePage))
		return filePage, warnings
	default:
		return 0, warnings
	}
}

func parseActionBlock(lines []string) []device.Action {
	var actions []device.Action
	var cur *device.Action
	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			if cur != nil {
				cur.Script += "\n"
			}
			continue
		}
		if strings.HasPrefix(trimmed, "-- grid:") || isIgnoredLine(trimmed) {
			continue
		}
		if hdr, ok := matchActionHeader(trimmed); ok {
			if cur != nil {
				cur.Script = strings.TrimRight(cur.Script, "\n")
				actions = append(actions, *cur)
			}
			cur = &device.Action{Short: hdr.short, Name: hdr.name, Script: hdr.inline}
			continue
		}
		if cur == nil {
			continue
		}
		if cur.Script == "" {
			cur.Script = raw
		} else {
			cur.Script += "\n" + raw
		}
	}
	if cur != nil {
		cur.Script = strings.TrimRight(cur.Script, "\n")
		actions = append(actions, *cur)
	}
	return actions
}

// tokenizeKV parses a whitespace-separated k=v list with optional quoted
// values (spec.md §4.5 event header grammar).
func tokenizeKV(s string) (map[string]string, error) {
	out := map[string]string{}
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		for i < len(s) && s[i] != '=' && s[i] != ' ' {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			return nil, errcode.New(errcode.Config, "configrepo.tokenizeKV", "malformed key=value token near: "+s[start:])
		}
		key := s[start:i]
		i++ // skip '='
		var val string
		if i < len(s) && s[i] == '"' {
			i++
			vstart := i
			for i < len(s) && s[i] != '"' {
				i++
			}
			val = s[vstart:i]
			if i < len(s) {
				i++ // skip closing quote
			}
		} else {
			vstart := i
			for i < len(s) && s[i] != ' ' {
				i++
			}
			val = s[vstart:i]
		}
		out[key] = val
	}
	return out, nil
}

// renderScriptFile serializes one page's events to the script file text.
// sentinel, when true, renders the empty-module corner-case comment
// instead of any event blocks (spec.md §4.5).
func renderScriptFile(page int, events []device.EventConfig, sentinel bool) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "-- grid: page=%d\n\n", page)
	if sentinel {
		b.WriteString("-- All events use default configuration\n")
		return []byte(b.String())
	}
	for i, ev := range events {
		if i > 0 {
			b.WriteString("-- ============================================================\n")
		}
		fmt.Fprintf(&b, "-- grid:event element=%d event=%s\n", ev.Element, ev.EventType)
		for _, a := range ev.Actions {
			if a.Name != "" {
				fmt.Fprintf(&b, "--[[@%s#%s]]\n", a.Short, a.Name)
			} else {
				fmt.Fprintf(&b, "--[[@%s]]\n", a.Short)
			}
			if a.Script != "" {
				b.WriteString(a.Script)
				if !strings.HasSuffix(a.Script, "\n") {
					b.WriteByte('\n')
				}
			}
		}
	}
	return []byte(b.String())
}
