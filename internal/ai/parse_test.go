package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validResponse = `{"emojis": ["😂", "🐱"], "title": "Confused cat at computer", "description": "A cat stares at code.", "tags": ["cat", "programming"], "searchPhrases": ["confused programmer cat"], "basedOn": "Programmer humor"}`

func TestParseAnnotationDirect(t *testing.T) {
	annotation, err := ParseAnnotation(validResponse)
	require.NoError(t, err)

	assert.Equal(t, []string{"😂", "🐱"}, annotation.Emojis)
	assert.Equal(t, "Confused cat at computer", annotation.Title)
	assert.Equal(t, "Programmer humor", annotation.BasedOn)
}

func TestParseAnnotationStripsCodeFences(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "json fence", text: "```json\n" + validResponse + "\n```"},
		{name: "bare fence", text: "```\n" + validResponse + "\n```"},
		{name: "fence without newlines", text: "```json" + validResponse + "```"},
		{name: "surrounding whitespace", text: "\n\n  " + validResponse + "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			annotation, err := ParseAnnotation(tt.text)
			require.NoError(t, err)
			assert.NotEmpty(t, annotation.Emojis)
		})
	}
}

func TestParseAnnotationExtractsFromProse(t *testing.T) {
	text := "Here is the analysis you asked for:\n" + validResponse + "\nLet me know if you need anything else."

	annotation, err := ParseAnnotation(text)
	require.NoError(t, err)
	assert.Equal(t, "Confused cat at computer", annotation.Title)
}

func TestParseAnnotationLocalizations(t *testing.T) {
	text := `{"emojis": ["😂"], "title": "Confused cat", "localizations": {"cs": {"title": "Zmatená kočka", "tags": ["kočka"]}}}`

	annotation, err := ParseAnnotation(text)
	require.NoError(t, err)

	require.Contains(t, annotation.Localizations, "cs")
	assert.Equal(t, "Zmatená kočka", annotation.Localizations["cs"].Title)
	assert.Equal(t, []string{"kočka"}, annotation.Localizations["cs"].Tags)
}

func TestParseAnnotationFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "whitespace only", text: "   \n  "},
		{name: "not json", text: "I could not analyze this image."},
		{name: "missing emojis", text: `{"title": "No emojis here"}`},
		{name: "empty emojis", text: `{"emojis": [], "title": "Still none"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnnotation(tt.text)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, KindMalformed, apiErr.Kind)
		})
	}
}

func TestSystemPromptSingleLanguage(t *testing.T) {
	prompt := SystemPrompt([]string{"cs"})

	assert.Contains(t, prompt, "Czech (cs)")
	assert.NotContains(t, prompt, "localizations")
}

func TestSystemPromptMultilingual(t *testing.T) {
	prompt := SystemPrompt([]string{"en", "cs", "de"})

	assert.Contains(t, prompt, "English (en)")
	assert.Contains(t, prompt, "Czech (cs)")
	assert.Contains(t, prompt, "German (de)")
	assert.Contains(t, prompt, "localizations")
}

func TestSystemPromptDefaultsToEnglish(t *testing.T) {
	assert.Contains(t, SystemPrompt(nil), "English (en)")
}

func TestSystemPromptUnknownLanguageCode(t *testing.T) {
	assert.Contains(t, SystemPrompt([]string{"xx"}), "xx (xx)")
}
