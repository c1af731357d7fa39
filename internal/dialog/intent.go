package dialog

import (
	"strings"
	"unicode"
)

type intent int

const (
	intentNone intent = iota
	intentProceed
	intentDefer
	intentRestart
	intentMeaning
	intentFinish
)

// words lowercases text and splits it on anything that is not a letter or
// digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matches(w string, exact, prefixes []string) bool {
	for _, e := range exact {
		if w == e {
			return true
		}
	}
	for _, p := range prefixes {
		if strings.HasPrefix(w, p) {
			return true
		}
	}
	return false
}

// hasWord reports a matching word that is not negated by a preceding "не".
func hasWord(ws []string, exact []string, prefixes []string) bool {
	for i, w := range ws {
		if matches(w, exact, prefixes) && !negatedAt(ws, i) {
			return true
		}
	}
	return false
}

// hasNegated reports a matching word preceded by "не", as in "не готов".
func hasNegated(ws []string, exact []string, prefixes []string) bool {
	for i, w := range ws {
		if matches(w, exact, prefixes) && negatedAt(ws, i) {
			return true
		}
	}
	return false
}

func negatedAt(ws []string, i int) bool {
	return i > 0 && ws[i-1] == "не"
}

// idleIntent reads the answer to the welcome message.
func idleIntent(text string) intent {
	ws := words(text)
	proceedExact := []string{"да", "давай", "поехали", "старт"}
	proceedPrefixes := []string{"начать", "начн", "готов"}
	switch {
	case hasWord(ws, []string{"нет", "позже", "потом"}, []string{"подума"}),
		hasNegated(ws, proceedExact, proceedPrefixes):
		return intentDefer
	case hasWord(ws, proceedExact, proceedPrefixes):
		return intentProceed
	default:
		return intentNone
	}
}

// completedIntent reads a message sent after the session ended.
func completedIntent(text string) intent {
	ws := words(text)
	if hasWord(ws, []string{"еще", "ещё"}, []string{"нов", "готов", "заново"}) {
		return intentRestart
	}
	return intentNone
}

// meaningIntent reads the choice offered after the third card.
func meaningIntent(text string) intent {
	if strings.Contains(text, "✨") || hasWord(words(text), nil, []string{"смысл"}) {
		return intentMeaning
	}
	return intentFinish
}
