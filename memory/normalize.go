package memory

import (
	"strings"
	"unicode"
)

// MaxTextLen bounds normalized memory text.
const MaxTextLen = 2000

// maxDedupKeyLen bounds the near-duplicate pre-check key.
const maxDedupKeyLen = 200

// Normalize cleans raw message text for storage and indexing: trims,
// replaces control characters with spaces, collapses whitespace runs to a
// single space, and truncates to MaxTextLen characters. Deterministic and
// pure; both ingestion and query paths use it.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return truncateRunes(b.String(), MaxTextLen)
}

// DedupKey reduces text to a coarse comparison key for near-duplicate
// pre-checks: lowercase, alphanumerics and spaces only, collapsed
// whitespace, truncated to 200 characters.
func DedupKey(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return truncateRunes(b.String(), maxDedupKeyLen)
}

// TooShort reports whether text has fewer than three whitespace-separated
// tokens. Exposed as an optional pre-ingest filter; the ingestion path
// itself never applies it.
func TooShort(text string) bool {
	return len(strings.Fields(text)) < 3
}

// greetings is the fixed filler-phrase set matched by IsGreeting.
var greetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {},
	"ok": {}, "okay": {}, "yes": {}, "no": {},
	"thanks": {}, "thank you": {}, "lol": {},
	"good morning": {}, "good night": {}, "good evening": {},
	"bye": {}, "goodbye": {}, "see you": {},
}

// IsGreeting reports whether text is exactly one of a small set of filler
// phrases. Like TooShort, it is an opt-in filter for callers.
func IsGreeting(text string) bool {
	_, ok := greetings[DedupKey(text)]
	return ok
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
