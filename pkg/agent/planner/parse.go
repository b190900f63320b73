package planner

import (
	"encoding/json"
	"regexp"
	"strings"
)

// StepSpec is one step as extracted from planner model output, before it is
// turned into a PlanStep.
type StepSpec struct {
	Description     string   `json:"description"`
	ExpectedOutcome string   `json:"expected_outcome"`
	Tools           []string `json:"tools"`
}

type planSpec struct {
	Steps []StepSpec `json:"steps"`
}

var (
	fencedBlockRe   = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_-]*)\s*:`)
	listMarkerRe    = regexp.MustCompile(`(?i)(?:step\s*)?\d+\s*[.:：、)]\s+`)
)

// ParsePlanText extracts step specs from raw model output. It runs an
// ordered fallback chain: direct JSON, fenced code block, first top-level
// object span, light JSON repair, and finally numbered-list scanning.
// Returns false when no strategy yields at least one step with a non-empty
// description.
func ParsePlanText(text string) ([]StepSpec, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	candidates := []string{trimmed}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}

	if span := firstObjectSpan(trimmed); span != "" {
		candidates = append(candidates, span)
	}

	for _, candidate := range candidates {
		if steps, ok := decodeSpec(candidate); ok {
			return steps, true
		}
	}

	// Light repair pass over the extracted candidates
	for _, candidate := range candidates[1:] {
		if steps, ok := decodeSpec(repairJSON(candidate)); ok {
			return steps, true
		}
	}

	// Last resort: synthesize steps from numbered-list patterns
	if steps := stepsFromNumberedList(trimmed); len(steps) > 0 {
		return steps, true
	}

	return nil, false
}

// decodeSpec parses a candidate JSON document and applies the validity
// predicate: an object with a non-empty steps array where every element
// carries a description.
func decodeSpec(candidate string) ([]StepSpec, bool) {
	if candidate == "" {
		return nil, false
	}

	var spec planSpec
	if err := json.Unmarshal([]byte(candidate), &spec); err != nil {
		return nil, false
	}

	if len(spec.Steps) == 0 {
		return nil, false
	}

	for _, step := range spec.Steps {
		if strings.TrimSpace(step.Description) == "" {
			return nil, false
		}
	}

	for i := range spec.Steps {
		spec.Steps[i].Description = strings.TrimSpace(spec.Steps[i].Description)
	}

	return spec.Steps, true
}

// firstObjectSpan returns the first balanced top-level {...} span, or "".
// Braces inside JSON strings are ignored.
func firstObjectSpan(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}

// repairJSON applies best-effort fixes for the malformations planner models
// commonly produce: trailing commas, bare object keys, single quotes.
func repairJSON(candidate string) string {
	repaired := trailingCommaRe.ReplaceAllString(candidate, "$1")
	repaired = bareKeyRe.ReplaceAllString(repaired, `$1"$2":`)
	repaired = strings.ReplaceAll(repaired, "'", `"`)
	return repaired
}

// stepsFromNumberedList scans prose for "1. ...", "Step 2: ..." style
// markers and synthesizes one step per captured segment. Expected outcomes
// and tools stay empty.
func stepsFromNumberedList(text string) []StepSpec {
	markers := listMarkerRe.FindAllStringIndex(text, -1)
	if len(markers) == 0 {
		return nil
	}

	var steps []StepSpec
	for i, marker := range markers {
		segmentEnd := len(text)
		if i+1 < len(markers) {
			segmentEnd = markers[i+1][0]
		}

		description := strings.TrimSpace(text[marker[1]:segmentEnd])
		description = strings.Trim(description, "-*• \t\r\n")
		if description == "" {
			continue
		}

		steps = append(steps, StepSpec{Description: description})
	}

	return steps
}
