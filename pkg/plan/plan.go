// Package plan turns a job query into an ordered list of scraper steps.
package plan

import (
	"regexp"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/profile"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/textutil"
)

// Intent selects the graph builder for a job.
type Intent string

// Intents.
const (
	IntentGeneral    Intent = "general"
	IntentComparison Intent = "comparison"
	IntentSentiment  Intent = "sentiment"
	IntentHashtag    Intent = "hashtag"
	IntentCompetitor Intent = "competitor"
	IntentInfluencer Intent = "influencer"
)

// Intents lists every known intent.
var Intents = []Intent{IntentGeneral, IntentComparison, IntentSentiment, IntentHashtag, IntentCompetitor, IntentInfluencer}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	return slices.Contains(Intents, i)
}

// Actors names the scraper actor used for each kind of step.
type Actors struct {
	Profile   string `yaml:"profile"`
	Followers string `yaml:"followers"`
	Posts     string `yaml:"posts"`
	Hashtag   string `yaml:"hashtag"`
	Comments  string `yaml:"comments"`
}

// DefaultActors are public Apify actors for Instagram.
var DefaultActors = Actors{
	Profile:   "apify/instagram-profile-scraper",
	Followers: "apify/instagram-followers-scraper",
	Posts:     "apify/instagram-post-scraper",
	Hashtag:   "apify/instagram-hashtag-scraper",
	Comments:  "apify/instagram-comment-scraper",
}

// Step is one scraper invocation.
type Step struct {
	ActorID  string         `json:"actorId"`
	Input    map[string]any `json:"input"`
	DataType string         `json:"dataType"`
	// Subject is the handle or tag the step is about.
	Subject string `json:"subject"`
}

// Plan is the resolved work for one query.
type Plan struct {
	Query    string   `json:"query"`
	Intent   Intent   `json:"intent"`
	Subjects []string `json:"subjects"`
	Hashtags []string `json:"hashtags,omitempty"`
	Steps    []Step   `json:"steps"`
	// SampleSize caps list scrapes (followers, posts) per subject.
	SampleSize int `json:"sampleSize"`
}

// DefaultSampleSize is used when the caller does not set one.
const DefaultSampleSize = 200

// Options configures Resolve.
type Options struct {
	Actors     Actors
	SampleSize int
	// Intent overrides keyword detection when valid.
	Intent Intent
}

var (
	compareWords = regexp.MustCompile(`(?i)\b(vs\.?|versus|compare|comparison|overlap)\b`)
	stopWords    = map[string]bool{
		"vs": true, "versus": true, "compare": true, "comparison": true, "overlap": true, "and": true,
		"sentiment": true, "competitor": true, "competitors": true, "influencer": true, "influencers": true,
		"of": true, "for": true, "the": true, "with": true, "audience": true, "map": true, "fans": true,
		"in": true, "on": true, "about": true, "find": true, "top": true,
	}
)

// DetectIntent sniffs the intent from query keywords.
func DetectIntent(query string) Intent {
	lower := strings.ToLower(query)
	switch {
	case compareWords.MatchString(query):
		return IntentComparison
	case strings.Contains(lower, "sentiment"):
		return IntentSentiment
	case strings.Contains(lower, "competitor"):
		return IntentCompetitor
	case strings.Contains(lower, "influencer"):
		return IntentInfluencer
	case len(textutil.Hashtags(query)) > 0:
		return IntentHashtag
	default:
		return IntentGeneral
	}
}

// Subjects returns the @handles in query. Without any, the remaining non-keyword words
// are used as handles.
func Subjects(query string) []string {
	var out []string
	add := func(h string) {
		h = profile.NormalizeUsername(strings.Trim(h, ".,;:!?"))
		if h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	for _, f := range strings.Fields(query) {
		if strings.HasPrefix(f, "@") {
			add(f)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, f := range strings.Fields(query) {
		w := strings.ToLower(strings.Trim(f, ".,;:!?"))
		if w == "" || stopWords[w] || strings.HasPrefix(w, "#") {
			continue
		}
		add(w)
	}
	return out
}

// Resolve builds the plan for query.
func Resolve(query string, opts Options) *Plan {
	if opts.Actors == (Actors{}) {
		opts.Actors = DefaultActors
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	intent := opts.Intent
	if !intent.Valid() {
		intent = DetectIntent(query)
	}
	p := &Plan{
		Query:      query,
		Intent:     intent,
		Subjects:   Subjects(query),
		Hashtags:   textutil.Hashtags(query),
		SampleSize: opts.SampleSize,
	}
	a := opts.Actors

	switch intent {
	case IntentHashtag:
		for _, tag := range p.Hashtags {
			p.Steps = append(p.Steps, Step{
				ActorID:  a.Hashtag,
				Input:    map[string]any{"hashtags": []string{tag}, "resultsLimit": p.SampleSize},
				DataType: fingerprint.DataPosts,
				Subject:  tag,
			})
		}
	case IntentSentiment:
		for _, s := range p.Subjects {
			p.Steps = append(p.Steps, p.profileStep(a, s), p.postsStep(a, s), Step{
				ActorID:  a.Comments,
				Input:    map[string]any{"directUrls": []string{profileURL(s)}, "resultsLimit": p.SampleSize},
				DataType: fingerprint.DataComments,
				Subject:  s,
			})
		}
	case IntentCompetitor:
		for _, s := range p.Subjects {
			p.Steps = append(p.Steps, p.profileStep(a, s), p.postsStep(a, s))
		}
	default:
		for _, s := range p.Subjects {
			p.Steps = append(p.Steps, p.profileStep(a, s), Step{
				ActorID:  a.Followers,
				Input:    map[string]any{"usernames": []string{s}, "resultsLimit": p.SampleSize},
				DataType: fingerprint.DataFollowers,
				Subject:  s,
			})
		}
	}
	return p
}

// EnrichStep returns a profile-details step for handles found by gap detection.
func EnrichStep(a Actors, handles []string) Step {
	if a.Profile == "" {
		a.Profile = DefaultActors.Profile
	}
	hs := slices.Clone(handles)
	slices.Sort(hs)
	return Step{
		ActorID:  a.Profile,
		Input:    map[string]any{"usernames": hs},
		DataType: fingerprint.DataProfile,
		Subject:  strings.Join(hs, ","),
	}
}

func (p *Plan) profileStep(a Actors, s string) Step {
	return Step{
		ActorID:  a.Profile,
		Input:    map[string]any{"usernames": []string{s}},
		DataType: fingerprint.DataProfile,
		Subject:  s,
	}
}

func (p *Plan) postsStep(a Actors, s string) Step {
	return Step{
		ActorID:  a.Posts,
		Input:    map[string]any{"username": []string{s}, "resultsLimit": p.SampleSize},
		DataType: fingerprint.DataPosts,
		Subject:  s,
	}
}

func profileURL(handle string) string {
	return "https://www.instagram.com/" + handle + "/"
}
