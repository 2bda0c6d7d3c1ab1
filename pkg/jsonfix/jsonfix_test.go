package jsonfix

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBalance(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"complete", `{"a": 1}`, `{"a": 1}`},
		{"leading prose", `Sure! Here you go: {"a": 1}`, `{"a": 1}`},
		{"trailing prose", `{"a": [1, 2]} hope that helps`, `{"a": [1, 2]}`},
		{"unterminated string in array", `{"topics": ["space", "astro`, `{"topics": ["space", "astro"]}`},
		{"dangling key", `{"a": 1, "b`, `{"a": 1}`},
		{"dangling colon", `{"a": 1, "b": `, `{"a": 1, "b":null}`},
		{"dangling comma", `{"a": [1, 2,`, `{"a": [1, 2]}`},
		{"trailing comma inside", `{"a": [1, 2,], "b": 3,}`, `{"a": [1, 2], "b": 3}`},
		{"nested", `[{"x": {"y": "z`, `[{"x": {"y": "z"}}]`},
		{"escaped quote", `{"q": "say \"hi`, `{"q": "say \"hi"}`},
		{"no json", `nothing here`, `nothing here`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Balance(tt.in)
			if got != tt.want {
				t.Errorf("Balance(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if tt.name != "no json" && !json.Valid([]byte(got)) {
				t.Errorf("Balance(%q) produced invalid JSON %q", tt.in, got)
			}
		})
	}
}

func TestQuoteBareKeys(t *testing.T) {
	got := QuoteBareKeys(`{name: "x", nested: {count_2: 2}}`)
	want := `{"name": "x", "nested": {"count_2": 2}}`
	if got != want {
		t.Errorf("QuoteBareKeys = %q, want %q", got, want)
	}
}

func TestDecodeLayers(t *testing.T) {
	var v map[string]any
	if layer := Decode(`{"ok": true}`, &v); layer != LayerStrict {
		t.Errorf("layer = %s, want strict", layer)
	}

	fenced := "```json\n{\"topics\": [\"astro\"]}\n```"
	v = nil
	if layer := Decode(fenced, &v); layer != LayerStrict {
		t.Errorf("fenced layer = %s, want strict", layer)
	}
	if diff := cmp.Diff(map[string]any{"topics": []any{"astro"}}, v); diff != "" {
		t.Errorf("fenced decode (-want +got):\n%s", diff)
	}
}

func TestObjectRecovers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"truncated", `{"topics": ["space", "astro`, map[string]any{"topics": []any{"space", "astro"}}},
		{"trailing comma", `{"score": 0.5,}`, map[string]any{"score": 0.5}},
		{"garbage", `not json at all`, map[string]any{}},
		{"empty", ``, map[string]any{}},
		{"array is not an object", `[1, 2]`, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Object(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Object(%q) (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}
