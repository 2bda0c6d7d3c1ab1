package metric

import (
	"encoding/json"
	"testing"
)

func ptr(n int64) *int64 { return &n }

func equal(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func show(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want *int64
	}{
		{"1.3M", ptr(1_300_000)},
		{"10k", ptr(10_000)},
		{"10K", ptr(10_000)},
		{"1,234", ptr(1234)},
		{" 42 ", ptr(42)},
		{"2.5k", ptr(2500)},
		{"0", ptr(0)},
		{"", nil},
		{"-", nil},
		{"lots", nil},
		{"k", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseCount(tt.in); !equal(got, tt.want) {
				t.Errorf("ParseCount(%q) = %v, want %v", tt.in, show(got), show(tt.want))
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		record string
		kind   Kind
		want   *int64
	}{
		{"camelCase", `{"followersCount": 1200}`, Followers, ptr(1200)},
		{"snake_case", `{"followers_count": "3.4k"}`, Followers, ptr(3400)},
		{"singular", `{"followerCount": 7}`, Followers, ptr(7)},
		{"instagram edge", `{"edge_followed_by": {"count": 99}}`, Followers, ptr(99)},
		{"legitimate zero stops search", `{"followersCount": 0, "followers_count": 50}`, Followers, ptr(0)},
		{"null is skipped", `{"followersCount": null, "followers_count": 50}`, Followers, ptr(50)},
		{"list of followers is not a count", `{"followers": [{"username": "a"}]}`, Followers, nil},
		{"unparsable string", `{"postsCount": "-"}`, Posts, nil},
		{"following alias", `{"follows_count": "1,001"}`, Following, ptr(1001)},
		{"posts edge", `{"edge_owner_to_timeline_media": {"count": 12}}`, Posts, ptr(12)},
		{"missing", `{"username": "x"}`, Posts, nil},
		{"boolean is not a count", `{"followersCount": true}`, Followers, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec map[string]any
			if err := json.Unmarshal([]byte(tt.record), &rec); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := Extract(rec, tt.kind); !equal(got, tt.want) {
				t.Errorf("Extract(%s, %s) = %v, want %v", tt.record, tt.kind, show(got), show(tt.want))
			}
		})
	}
}

func TestExtractNilRecord(t *testing.T) {
	if got := Extract(nil, Followers); got != nil {
		t.Errorf("Extract(nil) = %v, want nil", *got)
	}
}

func TestToIntNumberTypes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *int64
	}{
		{"float64", float64(12), ptr(12)},
		{"float rounds", 12.6, ptr(13)},
		{"int", 5, ptr(5)},
		{"json.Number", json.Number("77"), ptr(77)},
		{"json.Number float", json.Number("7.5"), ptr(8)},
		{"slice", []any{1}, nil},
		{"float too large", 1e30, nil},
		{"float too small", -1e30, nil},
		{"string too large", "1e30", nil},
		{"json.Number too large", json.Number("1e30"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToInt(tt.in); !equal(got, tt.want) {
				t.Errorf("ToInt(%v) = %v, want %v", tt.in, show(got), show(tt.want))
			}
		})
	}
}
