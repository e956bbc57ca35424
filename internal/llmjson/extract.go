// Package llmjson extracts JSON objects from LLM output. Models asked for
// "JSON only" still wrap payloads in code fences or prose often enough that
// tolerant extraction is the normal path, not the exception.
package llmjson

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractObject returns the best JSON-object candidate inside text:
// a fenced code block if present, otherwise the substring between the
// first '{' and the last '}'. The second return is false when no
// candidate exists at all.
func ExtractObject(text string) (string, bool) {
	candidate := strings.TrimSpace(text)
	if m := fencedBlock.FindStringSubmatch(candidate); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return candidate[start : end+1], true
}

// Unmarshal extracts a JSON object from text and decodes it into dst.
// Returns false on any shape or syntax problem; dst may be partially
// written in that case and must not be reused.
func Unmarshal(text string, dst any) bool {
	candidate, ok := ExtractObject(text)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(candidate), dst) == nil
}

// ClampConfidence forces a model-reported confidence into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
