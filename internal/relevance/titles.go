package relevance

import (
	"regexp"
	"strings"
)

// FallbackTitle is used when no display title can be derived.
const FallbackTitle = "Northeastern University Resource"

// maxSentenceTitleLen bounds a first-sentence title.
const maxSentenceTitleLen = 80

// junkTitles are metadata titles that carry no information.
var junkTitles = map[string]struct{}{
	"":                  {},
	"untitled document": {},
	"untitled":          {},
}

var (
	h1Regex        = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	htmlTitleRegex = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	urlRegex       = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)
	tagRegex       = regexp.MustCompile(`<[^>]+>`)
)

// SynthesizeTitle derives a display title for a chunk. The cascade
// takes the first non-empty source: usable metadata title, first
// Markdown H1, first HTML <title>, first short sentence of content,
// then the fallback constant. The cascade is idempotent: a title it
// produced is accepted unchanged by a later pass.
func SynthesizeTitle(metaTitle, content string) string {
	if t := strings.TrimSpace(metaTitle); t != "" {
		if _, junk := junkTitles[strings.ToLower(t)]; !junk {
			return t
		}
	}

	if m := h1Regex.FindStringSubmatch(content); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}

	if m := htmlTitleRegex.FindStringSubmatch(content); m != nil {
		if t := strings.TrimSpace(tagRegex.ReplaceAllString(m[1], "")); t != "" {
			return t
		}
	}

	if t := firstSentence(content); t != "" {
		return t
	}

	return FallbackTitle
}

// SynthesizeURL takes the metadata URL when present, else the first
// absolute URL found in the content.
func SynthesizeURL(metaURL, content string) string {
	if u := strings.TrimSpace(metaURL); u != "" {
		return u
	}
	return urlRegex.FindString(content)
}

// firstSentence extracts the first sentence of content when it is at
// most maxSentenceTitleLen characters.
func firstSentence(content string) string {
	text := strings.TrimSpace(content)
	if text == "" {
		return ""
	}
	// A leading Markdown heading marker would already have matched.
	text = strings.TrimLeft(text, "# ")

	end := len(text)
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(text, sep); idx >= 0 && idx < end {
			end = idx
		}
	}
	sentence := strings.TrimSpace(strings.TrimRight(text[:end], ".!?"))
	if sentence == "" || len(sentence) > maxSentenceTitleLen {
		return ""
	}
	return sentence
}
