// Package parsers turns raw model output into typed results.
package parsers

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/clinic-agent/server/internal/agent/model"
)

const maxContentLen = 32 * 1024

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

type rawClassification struct {
	Clasificacion      string          `json:"clasificacion"`
	Confianza          json.RawMessage `json:"confianza"`
	Razonamiento       string          `json:"razonamiento"`
	PreguntaAclaracion *string         `json:"pregunta_aclaracion"`
}

// ParseClassification reads the classifier answer. It accepts bare JSON, JSON
// inside code fences, or JSON surrounded by prose.
func ParseClassification(content string) (*model.Classification, error) {
	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}
	obj, err := extractObject(content)
	if err != nil {
		return nil, err
	}

	var raw rawClassification
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("classification json: %w", err)
	}
	label := strings.ToLower(strings.TrimSpace(raw.Clasificacion))
	if label == "" {
		return nil, fmt.Errorf("classification json: missing clasificacion")
	}

	out := &model.Classification{
		Category:   model.ParseCategory(label),
		Confidence: parseConfidence(raw.Confianza),
		Reasoning:  strings.TrimSpace(raw.Razonamiento),
		Source:     model.SourceLLM,
	}
	if raw.PreguntaAclaracion != nil {
		out.Clarification = strings.TrimSpace(*raw.PreguntaAclaracion)
	}
	return out, nil
}

// FallbackClassification is used when the classifier answer cannot be read.
func FallbackClassification(reason string) *model.Classification {
	return &model.Classification{
		Category:  model.CategoryChat,
		Reasoning: reason,
		Source:    model.SourceFallback,
	}
}

func extractObject(content string) (string, error) {
	s := strings.TrimSpace(content)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("classification: no json object in %q", snippet(content))
	}
	return s[start : end+1], nil
}

// parseConfidence accepts numbers or numeric strings and clamps to [0, 1].
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		v = f
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}

func snippet(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
