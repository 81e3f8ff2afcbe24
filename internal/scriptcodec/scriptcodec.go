// Package scriptcodec implements the wire-format action-stream codec spec.md
// §4.5 describes under "Wire-format script codec": device-resident actions
// are carried as a single line of the shape
//
//	--[[@<short>[#<name>]]] <body> --[[@<short2>]] <body2> …
//
// wrapped in <?lua  ?> when placed in ACTIONSTRING. The script minifier and
// humanizer are named external collaborators (spec.md §1); this package
// defines their contract as interfaces and supplies a whitespace-collapse
// fallback, mirroring how internal/wire.PacketCodec stands in for the
// packet byte-layout collaborator.
package scriptcodec

import (
	"strings"

	"gridctl/internal/elements"
	"gridctl/internal/errcode"
)

// MaxScriptLength is the parse-time bound spec.md §4.5 specifies; beyond
// this, parsing fails with ScriptTooLarge (Protocol).
const MaxScriptLength = 100_000

const luaPrefix = "<?lua "
const luaSuffix = " ?>"

// WrapLua wraps a serialized action stream for placement in ACTIONSTRING.
func WrapLua(s string) string {
	return luaPrefix + s + luaSuffix
}

// UnwrapLua strips the <?lua  ?> wrapper placed around an incoming
// ACTIONSTRING.
func UnwrapLua(s string) (string, error) {
	if !strings.HasPrefix(s, luaPrefix) || !strings.HasSuffix(s, luaSuffix) {
		return "", errcode.New(errcode.Protocol, "scriptcodec.UnwrapLua", "missing <?lua ?> wrapper")
	}
	return s[len(luaPrefix) : len(s)-len(luaSuffix)], nil
}

// Minifier shortens a script body for wire transmission. Real minifiers
// reject bare fragments ("if … end" with no enclosing statement) — callers
// fall back to NormalizeWhitespace on error (spec.md §4.5).
type Minifier interface {
	Minify(script string) (string, error)
}

// Humanizer expands a minified script body for display/editing.
type Humanizer interface {
	Humanize(script string) (string, error)
}

// NopMinifier returns scripts unchanged; used as the default collaborator
// when no real minifier is wired in.
type NopMinifier struct{}

func (NopMinifier) Minify(script string) (string, error) { return script, nil }

// NopHumanizer returns scripts unchanged.
type NopHumanizer struct{}

func (NopHumanizer) Humanize(script string) (string, error) { return script, nil }

// NormalizeWhitespace collapses runs of whitespace to a single space and
// trims the result — the comparison basis for structural equality (spec.md
// §4.5 "Default collapse") and the minifier fallback.
func NormalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// EncodeActionStream serializes actions to the device wire line, minifying
// each body via m (or falling back to whitespace-collapse on minify
// failure).
func EncodeActionStream(actions []elements.Action, m Minifier) (string, error) {
	if m == nil {
		m = NopMinifier{}
	}
	var b strings.Builder
	for i, a := range actions {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("--[[@")
		b.WriteString(a.Short)
		if a.Name != "" {
			b.WriteByte('#')
			b.WriteString(a.Name)
		}
		b.WriteString("]] ")
		body, err := m.Minify(a.Script)
		if err != nil {
			body = NormalizeWhitespace(a.Script)
		}
		b.WriteString(body)
	}
	return b.String(), nil
}

// DecodeActionStream parses a device wire line back into actions, expanding
// each body via h (or leaving it unchanged when h is nil).
func DecodeActionStream(s string, h Humanizer) ([]elements.Action, error) {
	if len(s) > MaxScriptLength {
		return nil, errcode.New(errcode.Protocol, "scriptcodec.DecodeActionStream", "script exceeds maximum length")
	}
	if h == nil {
		h = NopHumanizer{}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var out []elements.Action
	rest := s
	for {
		idx := strings.Index(rest, "--[[@")
		if idx != 0 {
			return nil, errcode.New(errcode.Protocol, "scriptcodec.DecodeActionStream", "malformed action header")
		}
		end := strings.Index(rest, "]]")
		if end < 0 {
			return nil, errcode.New(errcode.Protocol, "scriptcodec.DecodeActionStream", "unterminated action header")
		}
		header := rest[len("--[[@"):end]
		short, name := header, ""
		if h := strings.IndexByte(header, '#'); h >= 0 {
			short, name = header[:h], header[h+1:]
		}
		rest = strings.TrimPrefix(rest[end+2:], " ")

		next := strings.Index(rest, "--[[@")
		var body string
		if next < 0 {
			body = rest
			rest = ""
		} else {
			body = strings.TrimSuffix(rest[:next], " ")
			rest = rest[next:]
		}
		humanized, err := h.Humanize(body)
		if err != nil {
			humanized = body
		}
		out = append(out, elements.Action{Short: short, Name: name, Script: humanized})
		if rest == "" {
			break
		}
	}
	return out, nil
}

// ActionsEqual implements the structural equality spec.md §4.5's
// "Default collapse" requires: equal length, short/name exactly equal, and
// scripts equal after whitespace normalization.
func ActionsEqual(a, b []elements.Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Short != b[i].Short || a[i].Name != b[i].Name {
			return false
		}
		if NormalizeWhitespace(a[i].Script) != NormalizeWhitespace(b[i].Script) {
			return false
		}
	}
	return true
}
