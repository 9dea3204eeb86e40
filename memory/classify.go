package memory

import (
	"strings"
	"unicode"
)

// The classifier is an ordered rule chain: rules are evaluated in slice
// order and the first match wins, which keeps precedence explicit and
// testable. All matching is case-insensitive substring matching over the
// normalized text.

type kindRule struct {
	kind    Kind
	phrases []string
}

// kindRules in precedence order: preference, event, project, fact,
// knowledge, emotion. Anything unmatched is KindOther.
var kindRules = []kindRule{
	{KindPreference, []string{
		"i like", "i love", "i prefer", "i hate", "i enjoy", "i dislike",
		"my favorite", "my favourite", "i'm a fan of", "can't stand",
	}},
	{KindEvent, []string{
		"yesterday", "today", "tomorrow", "tonight", "this morning",
		"this weekend", "last night", "last week", "last month",
		"next week", "next month", "went to", "we met", "i attended",
		"happened",
	}},
	{KindProject, []string{
		"working on", "my project", "our project", "i'm building",
		"i am building", "deadline", "milestone", "launching", "shipping",
		"prototype",
	}},
	{KindFact, []string{
		"my name is", "i live in", "i'm from", "i am from", "i work at",
		"i work as", "my job", "my birthday", "years old", "i was born",
		"my wife", "my husband", "my partner", "my son", "my daughter",
	}},
	{KindKnowledge, []string{
		"did you know", "fun fact", "is defined as", "refers to",
		"means that", "is called", "consists of", "was invented",
		"is located",
	}},
	{KindEmotion, []string{
		"i feel", "i'm feeling", "i am feeling", "makes me happy",
		"makes me sad", "makes me angry", "i'm so", "i am so",
	}},
}

// ClassifyKind assigns the semantic category for a normalized text using
// the ordered rule chain above.
func ClassifyKind(text string) Kind {
	t := strings.ToLower(text)
	for _, rule := range kindRules {
		if containsAny(t, rule.phrases) {
			return rule.kind
		}
	}
	return KindOther
}

type emotionRule struct {
	emotion Emotion
	phrases []string
}

// emotionRules in precedence order: the high-arousal emotions first so a
// text like "so excited and a bit nervous" lands on the stronger signal,
// then valence, then the softer categories. Neutral is the explicit
// default when nothing matches.
var emotionRules = []emotionRule{
	{EmotionExcited, []string{
		"excited", "can't wait", "cant wait", "thrilled", "stoked", "pumped",
	}},
	{EmotionFrustrated, []string{
		"frustrated", "frustrating", "annoyed", "annoying", "fed up", "sick of",
	}},
	{EmotionAnxious, []string{
		"anxious", "nervous", "worried", "worrying", "stressed", "scared", "afraid",
	}},
	{EmotionHappy, []string{
		"happy", "glad", "delighted", "wonderful", "awesome", "great news",
	}},
	{EmotionSad, []string{
		"sad", "unhappy", "depressed", "miserable", "heartbroken", "crying",
	}},
	{EmotionCurious, []string{
		"curious", "i wonder", "wondering", "intrigued", "interested in",
	}},
	{EmotionConfident, []string{
		"confident", "i'm sure", "i am sure", "no doubt", "certain",
	}},
}

// DetectEmotion finds the emotional tone of a normalized text, first
// match wins. Returns EmotionNeutral when no rule matches.
func DetectEmotion(text string) Emotion {
	t := strings.ToLower(text)
	for _, rule := range emotionRules {
		if containsAny(t, rule.phrases) {
			return rule.emotion
		}
	}
	return EmotionNeutral
}

// ScoreImportance computes the retention score for a memory in [0,1].
// The arithmetic is fixed: base 0.5, a token-length bonus, a per-kind
// bonus, a per-emotion bonus, and +0.02 per capitalized-word entity,
// clamped at the end.
func ScoreImportance(text string, kind Kind, emotion Emotion) float64 {
	score := 0.5

	switch tokens := len(strings.Fields(text)); {
	case tokens > 50:
		score += 0.2
	case tokens > 20:
		score += 0.1
	case tokens < 5:
		score -= 0.1
	}

	switch kind {
	case KindPreference, KindProject:
		score += 0.15
	case KindFact:
		score += 0.10
	case KindEvent:
		score += 0.05
	}

	switch emotion {
	case EmotionExcited, EmotionFrustrated, EmotionAnxious:
		score += 0.10
	case EmotionHappy, EmotionSad:
		score += 0.05
	}

	score += 0.02 * float64(countEntities(text))

	return clamp01(score)
}

// countEntities counts capitalized words past the first one, a cheap
// proper-noun proxy. The leading word is excluded so ordinary sentence
// case does not count.
func countEntities(text string) int {
	count := 0
	for i, word := range strings.Fields(text) {
		if i == 0 {
			continue
		}
		r := []rune(word)
		if len(r) >= 2 && unicode.IsUpper(r[0]) && unicode.IsLower(r[1]) {
			count++
		}
	}
	return count
}

func containsAny(t string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
