package structured

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/DracoR22/InvoiceIQ/constants"
)

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. ```json
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseJSON(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(stripFences(raw)), &v); err != nil {
		return nil, &InvalidJSONOutputError{Reason: err.Error()}
	}
	return v, nil
}

// Correction is one issue the analysis found in a generated JSON document.
type Correction struct {
	Field       string `json:"field"`
	Issue       string `json:"issue"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

func parseAnalysis(raw string) ([]Correction, string, error) {
	v, err := parseJSON(raw)
	if err != nil {
		return nil, "", err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, "", &InvalidJSONOutputError{Reason: "analysis is not an object"}
	}
	list, ok := obj["corrections"].([]any)
	if !ok {
		return nil, "", &InvalidJSONOutputError{Reason: "corrections is not an array"}
	}

	corrections := make([]Correction, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, "", &InvalidJSONOutputError{Reason: fmt.Sprintf("corrections[%d] is not an object", i)}
		}
		var c Correction
		for _, f := range []struct {
			key string
			dst *string
		}{
			{"field", &c.Field},
			{"issue", &c.Issue},
			{"description", &c.Description},
			{"suggestion", &c.Suggestion},
		} {
			s, ok := m[f.key].(string)
			if !ok {
				return nil, "", &InvalidJSONOutputError{Reason: fmt.Sprintf("corrections[%d].%s is not a string", i, f.key)}
			}
			*f.dst = s
		}
		corrections = append(corrections, c)
	}

	text, _ := obj["textAnalysis"].(string)
	return corrections, text, nil
}

// parseClassification requires a non-empty label and a non-zero numeric
// confidence. Labels outside categories fold to "other".
func parseClassification(raw string, categories []string) (string, float64, error) {
	v, err := parseJSON(raw)
	if err != nil {
		return "", 0, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", 0, &InvalidJSONOutputError{Reason: "classification is not an object"}
	}

	label, _ := obj["classification"].(string)
	label = strings.TrimSpace(label)
	if label == "" {
		return "", 0, &InvalidJSONOutputError{Reason: "classification is missing"}
	}

	var confidence float64
	switch c := obj["confidence"].(type) {
	case float64:
		confidence = c
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(c), "%"), 64)
		if err != nil {
			return "", 0, &InvalidJSONOutputError{Reason: fmt.Sprintf("confidence %q is not a number", c)}
		}
		confidence = f
	}
	if confidence == 0 {
		return "", 0, &InvalidJSONOutputError{Reason: "confidence is missing"}
	}
	if confidence < 0 || confidence > 100 {
		return "", 0, &InvalidJSONOutputError{Reason: fmt.Sprintf("confidence %v is outside 0-100", confidence)}
	}

	return matchCategory(label, categories), confidence, nil
}

func matchCategory(label string, categories []string) string {
	for _, c := range categories {
		if strings.EqualFold(strings.TrimSpace(c), label) {
			return c
		}
	}
	return string(constants.OtherCategory)
}
