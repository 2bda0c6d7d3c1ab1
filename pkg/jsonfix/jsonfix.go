// Package jsonfix recovers JSON from model output that may be wrapped in prose,
// truncated or slightly malformed.
package jsonfix

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Layer names the recovery step that produced a parse.
type Layer string

// Recovery layers, in the order they are tried.
const (
	LayerStrict   Layer = "strict"
	LayerRepair   Layer = "repair"
	LayerBalance  Layer = "balance"
	LayerBareKeys Layer = "bare-keys"
	LayerEmpty    Layer = "empty"
)

// Decode unmarshals s into v, trying each recovery layer in turn. If every layer fails,
// v receives an empty object and LayerEmpty is returned. Decode never panics.
func Decode(s string, v any) Layer {
	s = stripFences(s)
	if json.Unmarshal([]byte(s), v) == nil {
		return LayerStrict
	}
	if fixed, err := jsonrepair.JSONRepair(s); err == nil && json.Unmarshal([]byte(fixed), v) == nil {
		return LayerRepair
	}
	balanced := Balance(s)
	if json.Unmarshal([]byte(balanced), v) == nil {
		return LayerBalance
	}
	if json.Unmarshal([]byte(QuoteBareKeys(balanced)), v) == nil {
		return LayerBareKeys
	}
	_ = json.Unmarshal([]byte("{}"), v) //nolint:errcheck // v may not accept an object
	return LayerEmpty
}

// Object decodes s as a JSON object. It returns an empty map, never nil, when nothing
// can be recovered.
func Object(s string) map[string]any {
	var m map[string]any
	if Decode(s, &m) == LayerEmpty || m == nil {
		return map[string]any{}
	}
	return m
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*(?:```|$)")

// stripFences removes a markdown code fence around the payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

type frame struct {
	open     byte
	sep      int
	sawColon bool
	sawValue bool
}

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// Balance drops any prose before the first '{' or '[', closes an unterminated string,
// completes a dangling key or colon, and closes every open object and array.
func Balance(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	s = s[start:]

	var (
		stack    []*frame
		inString bool
		escaped  bool
		end      = len(s)
	)
	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return stack[len(stack)-1]
	}
	markValue := func() {
		if f := top(); f != nil && f.open == '{' && f.sawColon {
			f.sawValue = true
		}
	}

scan:
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			markValue()
		case '{', '[':
			markValue()
			stack = append(stack, &frame{open: c, sep: i})
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				// Everything after the root value is trailing prose.
				end = i + 1
				break scan
			}
		case ',':
			if f := top(); f != nil {
				f.sep, f.sawColon, f.sawValue = i, false, false
			}
		case ':':
			if f := top(); f != nil {
				f.sawColon = true
			}
		case ' ', '\t', '\n', '\r':
		default:
			markValue()
		}
	}

	out := s[:end]
	if inString {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		f := stack[i]
		if f.open == '{' {
			switch {
			case !f.sawColon && strings.TrimSpace(out[min(f.sep+1, len(out)):]) != "":
				// A key with no value: cut back to the separator.
				if out[f.sep] == ',' {
					out = out[:f.sep]
				} else {
					out = out[:f.sep+1]
				}
			case f.sawColon && !f.sawValue:
				out = strings.TrimRight(out, " \t\r\n") + "null"
			}
		}
		out = strings.TrimRight(out, " \t\r\n")
		out = strings.TrimSuffix(out, ",")
		if f.open == '{' {
			out += "}"
		} else {
			out += "]"
		}
	}
	return trailingComma.ReplaceAllString(out, "$1")
}

var bareKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_\-]*)\s*:`)

// QuoteBareKeys wraps unquoted object keys in double quotes.
func QuoteBareKeys(s string) string {
	return bareKey.ReplaceAllString(s, `$1"$2":`)
}
