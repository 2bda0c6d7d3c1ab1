package aiclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/metric"
)

// TopicSchema constrains topic extraction answers.
const TopicSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["topics"],
  "properties": {
    "topics": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "weight": {"type": "number", "minimum": 0},
          "subtopics": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

// Topic is one theme found in an audience's captions.
type Topic struct {
	Name      string   `json:"name"`
	Weight    float64  `json:"weight"`
	Subtopics []string `json:"subtopics,omitempty"`
}

// maxPromptChars bounds how much caption text is sent per request.
const maxPromptChars = 12000

// ExtractTopics asks the model for up to limit topics across texts. An answer that does
// not match TopicSchema yields no topics rather than an error.
func (c *Client) ExtractTopics(ctx context.Context, texts []string, limit int) ([]Topic, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "List at most %d topics that these social media captions are about. "+
		"Give each a weight between 0 and 1 and a few subtopics.\n\n", limit)
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if b.Len()+len(t) > maxPromptChars {
			break
		}
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteByte('\n')
	}

	res, err := c.Classify(ctx, b.String(), TopicSchema)
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		return nil, nil
	}
	return parseTopics(res.JSON, limit), nil
}

func parseTopics(v any, limit int) []Topic {
	root, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	list, _ := root["topics"].([]any) //nolint:errcheck // type assertion
	var out []Topic
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string) //nolint:errcheck // type assertion
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t := Topic{Name: name, Weight: 1}
		if w, ok := m["weight"].(float64); ok {
			t.Weight = w
		} else if n := metric.ToInt(m["weight"]); n != nil {
			t.Weight = float64(*n)
		}
		if subs, ok := m["subtopics"].([]any); ok {
			for _, s := range subs {
				if str, ok := s.(string); ok && strings.TrimSpace(str) != "" {
					t.Subtopics = append(t.Subtopics, strings.TrimSpace(str))
				}
			}
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
