package detector

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CandidateTerm is one entry the detector LLM is asked to return:
// {term, confidence, context, timestamp}.
type CandidateTerm struct {
	Term       string  `json:"term"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context"`
	Timestamp  float64 `json:"timestamp"`
}

var objectLiteralRe = regexp.MustCompile(`\{[^{}]*"term"[^{}]*\}`)
var fieldRe = regexp.MustCompile(`"(\w+)"\s*:\s*("(?:[^"\\]|\\.)*"|[-\d.]+)`)

// ParseCandidateTerms is the three-tier defensive parse of a detector
// LLM response: locate the outermost JSON array, then fall back to a
// regex sweep of object literals containing "term", then to nothing
// (callers run regexFallbackDetect on the original transcript text).
func ParseCandidateTerms(raw string) ([]CandidateTerm, error) {
	if terms, err := parseOutermostArray(raw); err == nil {
		return terms, nil
	}
	if terms := parseObjectLiteralSweep(raw); len(terms) > 0 {
		return terms, nil
	}
	return nil, fmt.Errorf("detector: no parseable terms in response")
}

func parseOutermostArray(raw string) ([]CandidateTerm, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no bracketed array found")
	}
	var terms []CandidateTerm
	if err := json.Unmarshal([]byte(raw[start:end+1]), &terms); err != nil {
		return nil, fmt.Errorf("invalid json array: %w", err)
	}
	return terms, nil
}

func parseObjectLiteralSweep(raw string) []CandidateTerm {
	var terms []CandidateTerm
	for _, obj := range objectLiteralRe.FindAllString(raw, -1) {
		fields := map[string]string{}
		for _, m := range fieldRe.FindAllStringSubmatch(obj, -1) {
			fields[m[1]] = strings.Trim(m[2], `"`)
		}
		term, ok := fields["term"]
		if !ok || term == "" {
			continue
		}
		confidence := 0.5
		if raw, ok := fields["confidence"]; ok {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				confidence = v
			}
		}
		terms = append(terms, CandidateTerm{
			Term:       term,
			Confidence: confidence,
			Context:    fields["context"],
		})
	}
	return terms
}
