package buzz

import (
	"strings"
	"unicode"
)

// minTokens is the smallest whitespace-token count worth classifying.
// One- and two-word messages are almost always reactions, not questions.
const minTokens = 3

// greetings are whole-message patterns that never warrant a response,
// compared after lowercasing and stripping surrounding punctuation.
var greetings = map[string]struct{}{
	"hi": {}, "hii": {}, "hello": {}, "hey": {}, "yo": {}, "sup": {},
	"good morning": {}, "good evening": {}, "good night": {},
	"gg": {}, "lol": {}, "lmao": {}, "rofl": {}, "haha": {}, "hahaha": {},
	"ok": {}, "okay": {}, "nice": {}, "cool": {}, "wow": {}, "pog": {},
	"thanks": {}, "thank you": {}, "ty": {}, "thx": {},
	"bye": {}, "goodbye": {}, "cya": {}, "see ya": {},
	"first": {}, "hype": {}, "lets go": {}, "let's go": {},
}

// IsNoise reports whether a chat message is obviously non-actionable:
// too short, a stock greeting/acknowledgement, or carrying no letters or
// digits at all (emoji-only, punctuation-only).
func IsNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if !hasWordContent(trimmed) {
		return true
	}
	normalized := strings.ToLower(strings.TrimFunc(trimmed, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	}))
	if _, ok := greetings[normalized]; ok {
		return true
	}
	if len(strings.Fields(trimmed)) < minTokens {
		return true
	}
	return false
}

// hasWordContent reports whether the string contains at least one letter or digit.
func hasWordContent(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}
