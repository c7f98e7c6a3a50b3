package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/riposte-app/riposte-cli/internal/types"
)

// Models wrap JSON in markdown fences often enough that parsing has to
// tolerate it. Precompiled since these run on every response.
var (
	codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")
	objectRegex    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// ParseAnnotation parses a model response into an Annotation.
//
// Strategy sequence: direct parse, then strip code fences, then extract the
// outermost JSON object from mixed prose. A response that parses but lacks
// the required emojis field is still malformed.
func ParseAnnotation(text string) (*types.Annotation, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &APIError{Kind: KindMalformed, Message: "empty response"}
	}

	candidates := []string{trimmed}
	if unfenced := stripCodeFences(trimmed); unfenced != trimmed {
		candidates = append(candidates, unfenced)
	}
	if extracted := objectRegex.FindString(trimmed); extracted != "" && extracted != trimmed {
		candidates = append(candidates, extracted)
	}

	var lastErr error
	for _, candidate := range candidates {
		var annotation types.Annotation
		if err := json.Unmarshal([]byte(candidate), &annotation); err != nil {
			lastErr = err
			continue
		}
		if err := annotation.Validate(); err != nil {
			return nil, &APIError{
				Kind:    KindMalformed,
				Message: fmt.Sprintf("%v (response: %s)", err, truncate(text, 200)),
			}
		}
		return &annotation, nil
	}

	slog.Debug("annotation parse failed on all strategies",
		"error", lastErr,
		"responsePreview", truncate(text, 100))
	return nil, &APIError{
		Kind:    KindMalformed,
		Message: fmt.Sprintf("response is not valid JSON: %v (response: %s)", lastErr, truncate(text, 200)),
		Err:     lastErr,
	}
}

// stripCodeFences removes markdown code fences wrapping the payload.
func stripCodeFences(text string) string {
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(strings.Trim(text, "`"))
}

// truncate limits a string to maxLen characters for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
