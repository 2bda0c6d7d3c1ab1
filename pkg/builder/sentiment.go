package builder

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/graph"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/plan"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/provenance"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/textutil"
)

// DefaultLexicon is a small English word list tuned on comment threads.
var DefaultLexicon = Lexicon{
	Positive: []string{
		"love", "loved", "lovely", "amazing", "awesome", "beautiful", "best", "great", "good", "happy",
		"excellent", "perfect", "fantastic", "wonderful", "gorgeous", "obsessed", "favorite", "favourite",
		"incredible", "cute", "nice", "wow", "yes", "fire", "stunning", "recommend", "thanks", "thank",
	},
	Negative: []string{
		"hate", "hated", "awful", "terrible", "worst", "bad", "ugly", "disappointed", "disappointing",
		"boring", "poor", "broken", "scam", "fake", "sad", "angry", "refund", "waste", "overpriced",
		"cringe", "trash", "horrible", "never", "problem", "rude",
	},
}

// Polarity classes.
const (
	polarityPositive = "positive"
	polarityNegative = "negative"
	polarityNeutral  = "neutral"
)

// scoredText is one caption or comment with its lexicon score.
type scoredText struct {
	post     ownedPost
	polarity string
	hits     []string
	score    int
}

// scoreText sums +1 per positive and -1 per negative token.
func scoreText(text string, pos, neg map[string]bool) (int, []string) {
	score := 0
	var hits []string
	for _, tok := range textutil.Tokenize(text) {
		switch {
		case pos[tok]:
			score++
			hits = append(hits, tok)
		case neg[tok]:
			score--
			hits = append(hits, tok)
		}
	}
	return score, hits
}

func polarity(score int) string {
	switch {
	case score > 0:
		return polarityPositive
	case score < 0:
		return polarityNegative
	default:
		return polarityNeutral
	}
}

func wordSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return m
}

func init() {
	Register(plan.IntentSentiment, buildSentiment)
}

// buildSentiment scores captions and comments against the lexicon. Texts detected as a
// language other than English are counted but not scored.
func buildSentiment(in *Input) *graph.Graph {
	g := graph.New()
	key, label := in.Query, in.Query
	if len(in.Plan.Subjects) == 1 {
		key, label = in.Plan.Subjects[0], "@"+in.Plan.Subjects[0]
	}
	root := addMain(g, key, label)

	lex := in.Params.Lexicon
	if len(lex.Positive) == 0 && len(lex.Negative) == 0 {
		lex = DefaultLexicon
	}
	pos, neg := wordSet(lex.Positive), wordSet(lex.Negative)

	var texts []ownedPost
	if len(in.Plan.Subjects) == 0 {
		texts = in.posts("")
	}
	for _, s := range in.Plan.Subjects {
		texts = append(texts, in.posts(s)...)
	}

	var scored []scoredText
	skipped := make(map[string]int)
	for _, p := range texts {
		text := textutil.Clean(p.Caption)
		if text == "" {
			continue
		}
		if lang := textutil.DetectLanguage(text); lang != "" && lang != "en" {
			skipped[lang]++
			continue
		}
		score, hits := scoreText(text, pos, neg)
		scored = append(scored, scoredText{post: p, score: score, hits: hits, polarity: polarity(score)})
	}

	dist := map[string]int{polarityPositive: 0, polarityNegative: 0, polarityNeutral: 0}
	var sum float64
	for _, s := range scored {
		dist[s.polarity]++
		sum += float64(s.score)
	}
	mean, variance := 0.0, 0.0
	if len(scored) > 0 {
		mean = sum / float64(len(scored))
		for _, s := range scored {
			d := float64(s.score) - mean
			variance += d * d
		}
		variance /= float64(len(scored))
	}
	dominant := dominantPolarity(dist)

	steps := []string{
		fmt.Sprintf("%d texts scored, %d skipped as non-English", len(scored), sumCounts(skipped)),
		fmt.Sprintf("positive=%d negative=%d neutral=%d", dist[polarityPositive], dist[polarityNegative], dist[polarityNeutral]),
	}
	var ev []provenance.Evidence
	for _, s := range scored {
		if s.score != 0 {
			ev = append(ev, postEvidence(s.post))
		}
	}
	ev = firstEvidence(ev)

	root.SetScore("aggregate_score", round2(mean), in.Tracker.Record(
		"Sentiment", "lexicon", "aggregate_score = mean(positive hits - negative hits per text)", steps, ev))
	root.SetScore("polarization_score", round2(variance), in.Tracker.Record(
		"Sentiment", "lexicon", "polarization_score = variance of per-text scores", steps, ev))
	root.SetScore("dominant_emotion", dominant, in.Tracker.Record(
		"Sentiment", "lexicon", "dominant_emotion = most frequent text polarity", steps, ev))

	for _, class := range []string{polarityPositive, polarityNegative, polarityNeutral} {
		n := g.AddNode(&graph.Node{
			ID:    graph.ID("sentiment", class),
			Label: class,
			Group: graph.GroupTopic,
			Val:   graph.Val(float64(dist[class]), 1),
		})
		var classEv []provenance.Evidence
		words := make(map[string]int)
		for _, s := range scored {
			if s.polarity != class {
				continue
			}
			classEv = append(classEv, postEvidence(s.post))
			for _, w := range s.hits {
				words[w]++
			}
		}
		share := 0.0
		if len(scored) > 0 {
			share = round2(float64(dist[class]) * 100 / float64(len(scored)))
		}
		n.SetScore("share", share, in.Tracker.Record(
			"Sentiment", "lexicon", "share = texts in class / texts scored * 100",
			[]string{fmt.Sprintf("%d of %d texts", dist[class], len(scored))}, firstEvidence(classEv)))
		g.Link(root.ID, n.ID, float64(dist[class]))

		for _, w := range topWords(words, 5) {
			wn := g.AddNode(&graph.Node{
				ID:    graph.ID("word", class+"."+w),
				Label: w,
				Group: graph.GroupSubtopic,
				Val:   graph.Val(float64(words[w]), 1),
			})
			wn.SetScore("occurrences", words[w], in.Tracker.Record(
				"Sentiment", "lexicon", "occurrences = lexicon hits across scored texts",
				nil, firstEvidence(wordEvidence(scored, w))))
			g.Link(n.ID, wn.ID, float64(words[w]))
		}
	}

	g.Analytics["aggregate_score"] = round2(mean)
	g.Analytics["polarization_score"] = round2(variance)
	g.Analytics["dominant_emotion"] = dominant
	g.Analytics["distribution"] = dist
	g.Analytics["scoredCount"] = len(scored)
	g.Analytics["skippedLanguages"] = skipped
	if len(scored) == 0 {
		g.Analytics["warnings"] = []string{"no English captions or comments to score"}
	}
	return g
}

// dominantPolarity returns the most frequent class. Ties resolve to neutral.
func dominantPolarity(dist map[string]int) string {
	p, n := dist[polarityPositive], dist[polarityNegative]
	switch {
	case p > n && p > dist[polarityNeutral]:
		return polarityPositive
	case n > p && n > dist[polarityNeutral]:
		return polarityNegative
	default:
		return polarityNeutral
	}
}

func topWords(words map[string]int, n int) []string {
	keys := make([]string, 0, len(words))
	for w := range words {
		keys = append(keys, w)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(words[b], words[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func wordEvidence(scored []scoredText, w string) []provenance.Evidence {
	var ev []provenance.Evidence
	for _, s := range scored {
		if slices.Contains(s.hits, w) {
			ev = append(ev, postEvidence(s.post))
		}
	}
	return ev
}

func sumCounts(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
