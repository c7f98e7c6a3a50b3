package ai

import (
	"fmt"
	"strings"
)

// languageNames maps BCP 47 codes to the names used in prompts. Spelling
// the language out produces noticeably better localized output than the
// bare code.
var languageNames = map[string]string{
	"en":    "English",
	"cs":    "Czech",
	"de":    "German",
	"es":    "Spanish",
	"fr":    "French",
	"it":    "Italian",
	"ja":    "Japanese",
	"ko":    "Korean",
	"pl":    "Polish",
	"pt":    "Portuguese",
	"ru":    "Russian",
	"uk":    "Ukrainian",
	"zh":    "Chinese (Simplified)",
	"zh-TW": "Chinese (Traditional)",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

const promptFields = `1. "emojis": An array of 1-8 Unicode emoji characters that best represent the mood, emotion, or theme of the meme. Order from most significant to least significant. All emojis should be relevant.

2. "title": A simple, descriptive title that plainly describes the meme content (max 50 characters). Don't try to be clever or catchy - just describe what's in the image.

3. "description": A thorough description covering: what's literally in the image, the mood or emotion it conveys, and any themes or cultural references it relates to. If there is text visible in the image, incorporate it naturally into your description.

4. "tags": An array of 8-15 lowercase keywords covering: subject matter, emotion/mood, synonyms, common slang, meme format name if recognizable, and related cultural references.

5. "searchPhrases": An array of 2-3 short natural language phrases someone might type when searching for this meme.

6. "basedOn": If the image is based on a recognizable meme template, franchise, video game, movie, TV show, or other cultural reference, provide its name. Use the most commonly known name. If the source is not recognizable, omit this field or set it to null.`

// SystemPrompt builds the analysis system prompt for the given language
// list. The first language is primary; any additional languages request a
// "localizations" object with per-language translations.
func SystemPrompt(languages []string) string {
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	primary := languages[0]
	additional := languages[1:]

	var b strings.Builder
	b.WriteString("You are a meme analysis assistant. Analyze the provided meme image and return a JSON object with the following fields.\n\n")
	fmt.Fprintf(&b, "IMPORTANT: All text fields (title, description, tags, searchPhrases) must be in %s (%s).\n\n",
		languageName(primary), primary)
	b.WriteString(promptFields)

	if len(additional) > 0 {
		names := make([]string, len(additional))
		for i, code := range additional {
			names[i] = fmt.Sprintf("%s (%s)", languageName(code), code)
		}
		fmt.Fprintf(&b, "\n\n7. \"localizations\": An object containing translations for each additional language: %s. Each key is a language code, and each value is an object with \"title\", \"description\", \"tags\", and \"searchPhrases\" fields in that language.",
			strings.Join(names, ", "))
	}

	b.WriteString("\n\nRespond ONLY with valid JSON, no markdown or explanation.")
	return b.String()
}

// userPrompt is the per-request instruction that accompanies the image.
const userPrompt = "Analyze this meme and provide the JSON metadata."
