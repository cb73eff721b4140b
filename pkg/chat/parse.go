package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// reply is a validated model reply. Only parseReply creates one.
type reply struct {
	Thinking      string
	SQL           string
	Visualization Visualization
	ChartConfig   *ChartConfig
	Narrative     string
}

// rawReply mirrors the requested JSON contract. Unknown fields are ignored.
type rawReply struct {
	Thinking      string       `json:"thinking"`
	SQL           *string      `json:"sql"`
	Visualization string       `json:"visualization"`
	ChartConfig   *ChartConfig `json:"chart_config"`
	Narrative     string       `json:"narrative"`
}

// parseReply extracts and validates the JSON object in a completion.
func parseReply(text string) (*reply, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	var raw rawReply
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %w", ErrMalformedOutput, err)
	}

	if raw.SQL == nil || strings.TrimSpace(*raw.SQL) == "" {
		return nil, fmt.Errorf("%w: reply has no sql", ErrMalformedOutput)
	}
	viz := Visualization(strings.ToLower(strings.TrimSpace(raw.Visualization)))
	if !modelVisualizations[viz] {
		return nil, fmt.Errorf("%w: unknown visualization %q", ErrMalformedOutput, raw.Visualization)
	}

	r := &reply{
		Thinking:      strings.TrimSpace(raw.Thinking),
		SQL:           strings.TrimSpace(*raw.SQL),
		Visualization: viz,
		Narrative:     strings.TrimSpace(raw.Narrative),
	}
	if viz.IsChart() {
		cc := raw.ChartConfig
		if cc == nil || strings.TrimSpace(cc.X) == "" || strings.TrimSpace(cc.Y) == "" {
			return nil, fmt.Errorf("%w: %s needs chart_config x and y", ErrMalformedOutput, viz)
		}
		r.ChartConfig = &ChartConfig{
			X:     strings.TrimSpace(cc.X),
			Y:     strings.TrimSpace(cc.Y),
			Title: strings.TrimSpace(cc.Title),
		}
	}
	return r, nil
}

// extractObject strips a markdown fence, if any, and returns the span from
// the first '{' to the last '}'.
func extractObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if start := strings.Index(s, "```"); start >= 0 {
		body := s[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
			body = body[nl+1:] // language tag
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		s = body
	}
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last < first {
		return "", fmt.Errorf("%w: no JSON object in reply", ErrMalformedOutput)
	}
	return s[first : last+1], nil
}
