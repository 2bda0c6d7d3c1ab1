package biolink

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/httpcache"
)

func TestHandleFromURL(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"https://linktr.ee/astrokobi", "astrokobi", true},
		{"linktr.ee/AstroKobi?utm_source=ig", "astrokobi", true},
		{"https://www.beacons.ai/kobi.k/", "kobi.k", true},
		{"https://lnk.bio/@space_cat", "space_cat", true},
		{"https://linktr.ee/", "", false},
		{"https://example.com/astrokobi", "", false},
		{"https://linktr.ee/has space", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := HandleFromURL(tt.raw, nil)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("HandleFromURL(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
	if _, ok := HandleFromURL("https://my.links/kobi", []string{"my.links"}); !ok {
		t.Error("custom host not recognized")
	}
}

func TestSocialHandles(t *testing.T) {
	page := `<html><body>
		<a href="https://www.instagram.com/KobiShoots/">IG</a>
		<a href="https://instagram.com/p/Cx123/">a post</a>
		<a href="https://www.tiktok.com/@kobi.tt">TikTok</a>
		<a href="https://www.tiktok.com/discover/space">not a profile</a>
		<a href="mailto:hi@kobi.dev">mail</a>
		<script id="__NEXT_DATA__" type="application/json">
			{"props":{"pageProps":{"socialLinks":[{"type":"INSTAGRAM","url":"https://instagram.com/kobishoots"}]}}}
		</script>
	</body></html>`
	got := SocialHandles(page)
	if diff := cmp.Diff([]string{"kobishoots", "kobi.tt"}, got); diff != "" {
		t.Errorf("SocialHandles mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve(t *testing.T) {
	pages := map[string]string{
		"/single": `<a href="https://instagram.com/real_owner">Instagram</a>`,
		"/many":   `<a href="https://instagram.com/one">1</a><a href="https://instagram.com/two">2</a>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, p)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	client := httpcache.NewClient(httpcache.WithPolicy(httpcache.Policy{Attempts: 1, Delay: time.Millisecond}))
	r := New(client, WithHosts([]string{"127.0.0.1"}))
	ctx := context.Background()

	tests := []struct {
		path string
		want string
	}{
		{"/single", "real_owner"},
		{"/many", "many"},
		{"/gone", "gone"},
	}
	for _, tt := range tests {
		got, ok := r.Resolve(ctx, "http://"+host+tt.path)
		if !ok || got != tt.want {
			t.Errorf("Resolve(%s) = (%q, %v), want (%q, true)", tt.path, got, ok, tt.want)
		}
	}
	if _, ok := r.Resolve(ctx, "https://example.com/x"); ok {
		t.Error("Resolve accepted a non bio-link host")
	}
}
