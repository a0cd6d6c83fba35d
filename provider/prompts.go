package provider

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/weftline/weft/langmeta"
)

// ---------------------------------------------------------------------------
// System prompts
// ---------------------------------------------------------------------------

// TranslateSystemPrompt instructs the model for first-time translation of a
// single catalog entry, with retrieval context.
const TranslateSystemPrompt = `You are a professional translator specializing in software and product localization. You are translating UI strings for a software application into {{targetLang}}.

CONTEXT AWARENESS:
- The audience is software users
- Tone: professional yet approachable, clear and concise
- Use IT/software terminology that is standard in the {{targetLang}} tech community
- You may be given similar previously approved translations; stay consistent with their terminology and register

IMPORTANT TRANSLATION PRINCIPLES:
- Translate for NATURALNESS and FLUENCY in {{targetLang}}, not word-for-word
- Use idiomatic expressions natural to {{targetLang}}, not literal translations
- When a GLOSSARY section is present, its translations are MANDATORY: use exactly the given rendering for each listed term
- Maintain the original tone and intent, but express it naturally in {{targetLang}}

TECHNICAL REQUIREMENTS:
- Preserve all format specifiers and interpolation variables exactly as-is (%s, %d, {name}, {{count}}, etc.)
- Preserve leading/trailing whitespace, newlines, and punctuation patterns
- Keep brand names and proper nouns unchanged
- Return ONLY the translated string, no explanations, no quotes, no markdown`

// ReviewSystemPrompt instructs the model to critique and optionally rewrite
// an existing translation.
const ReviewSystemPrompt = `You are a professional translation reviewer for software localization into {{targetLang}}.

You are given a source string and its existing {{targetLang}} translation. Decide whether the translation can be improved: accuracy, naturalness, terminology, preserved format specifiers. When a GLOSSARY section is present, its translations are mandatory; flag and fix any deviation.

Respond in EXACTLY this two-line format:

IMPROVED: <the improved translation, or the existing translation unchanged if no improvement is warranted>
CHANGES: <a one-line human-readable summary of what changed, or "no changes needed">

Do not add any other lines, explanations, or markdown.`

// resolveSystemPrompt substitutes the target language display name.
func resolveSystemPrompt(prompt, lang string) string {
	return strings.ReplaceAll(prompt, "{{targetLang}}", langmeta.EnglishName(lang))
}

// ---------------------------------------------------------------------------
// User prompt construction
// ---------------------------------------------------------------------------

// Example is one prior translation retrieved from the similarity index.
type Example struct {
	Source      string
	Translation string
	Similarity  float64
}

// Request carries everything needed to translate one entry.
type Request struct {
	// Text is the source string to translate.
	Text string
	// Language is the target language code.
	Language string
	// Context is an optional usage hint ("button label", ...).
	Context string
	// Similar are prior translations of similar strings, most similar first.
	Similar []Example
	// Glossary maps terms to their mandatory translations.
	Glossary map[string]string
}

// ReviewRequest carries everything needed to review one entry.
type ReviewRequest struct {
	// Text is the current source string.
	Text string
	// Existing is the translation under review.
	Existing string
	// Language is the target language code.
	Language string
	// Context is an optional usage hint.
	Context  string
	Glossary map[string]string
}

func buildTranslatePrompt(req Request) string {
	var b strings.Builder

	if req.Context != "" {
		fmt.Fprintf(&b, "USAGE CONTEXT: %s\n\n", req.Context)
	}

	if len(req.Similar) > 0 {
		b.WriteString("SIMILAR APPROVED TRANSLATIONS:\n")
		for _, ex := range req.Similar {
			fmt.Fprintf(&b, "- %q => %q (similarity %.2f)\n", ex.Source, ex.Translation, ex.Similarity)
		}
		b.WriteByte('\n')
	}

	writeGlossaryBlock(&b, req.Glossary)

	fmt.Fprintf(&b, "Translate this string to %s:\n\n%s", langmeta.EnglishName(req.Language), req.Text)
	return b.String()
}

func buildReviewPrompt(req ReviewRequest) string {
	var b strings.Builder

	if req.Context != "" {
		fmt.Fprintf(&b, "USAGE CONTEXT: %s\n\n", req.Context)
	}

	writeGlossaryBlock(&b, req.Glossary)

	fmt.Fprintf(&b, "SOURCE: %s\n", req.Text)
	fmt.Fprintf(&b, "EXISTING %s TRANSLATION: %s\n", strings.ToUpper(req.Language), req.Existing)
	return b.String()
}

// writeGlossaryBlock emits the mandatory-terms section, sorted for prompt
// stability across runs.
func writeGlossaryBlock(b *strings.Builder, glossary map[string]string) {
	if len(glossary) == 0 {
		return
	}
	terms := make([]string, 0, len(glossary))
	for term := range glossary {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	b.WriteString("GLOSSARY (mandatory translations):\n")
	for _, term := range terms {
		fmt.Fprintf(b, "- %q => %q\n", term, glossary[term])
	}
	b.WriteByte('\n')
}

// ---------------------------------------------------------------------------
// Response cleanup and review parsing
// ---------------------------------------------------------------------------

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:[a-z]*)\\s*(.*?)\\s*```")

// cleanTranslation strips markdown fences and surrounding quotes models
// sometimes add despite instructions.
func cleanTranslation(text string) string {
	text = strings.TrimSpace(text)
	if m := markdownCodeBlock.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	return text
}

// Review is the result of one review call.
type Review struct {
	// Improved is the (possibly unchanged) translation.
	Improved string
	// Changes is a human-readable summary; empty when the response could
	// not be parsed and the existing translation was kept.
	Changes string
}

// parseReview extracts the IMPROVED/CHANGES fields from a review response.
// A response missing the markers falls back to the existing translation
// rather than failing the entry.
func parseReview(text, existing string) Review {
	text = strings.TrimSpace(text)
	if m := markdownCodeBlock.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
	}

	var improved, changes string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "IMPROVED:"); ok {
			improved = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(line, "CHANGES:"); ok {
			changes = strings.TrimSpace(rest)
		}
	}

	if improved == "" {
		return Review{Improved: existing, Changes: ""}
	}
	return Review{Improved: improved, Changes: changes}
}
