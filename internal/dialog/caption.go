package dialog

import "strings"

// paragraphThreshold is the share of the limit a paragraph cut must reach
// before it is preferred over a cut at the last line or word break.
const paragraphThreshold = 0.7

// SplitCaption splits text so that head fits in limit runes. head+tail is
// always exactly text. The cut prefers the last paragraph break past 70% of
// the limit, then the last line break or space, then a hard cut. A cut never
// lands inside an HTML tag.
func SplitCaption(text string, limit int) (head, tail string) {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text, ""
	}

	window := runes[:limit]
	cut := lastIndexRunes(window, []rune("\n\n"))
	if cut < int(float64(limit)*paragraphThreshold) {
		cut = -1
	}
	if cut <= 0 {
		cut = lastIndexAny(window, '\n', ' ')
	}
	if cut <= 0 {
		cut = limit
	}
	cut = avoidTag(runes, cut)
	if cut <= 0 {
		cut = limit
	}

	return string(runes[:cut]), string(runes[cut:])
}

func lastIndexRunes(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j := range sep {
			if s[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func lastIndexAny(s []rune, chars ...rune) int {
	for i := len(s) - 1; i >= 0; i-- {
		for _, c := range chars {
			if s[i] == c {
				return i
			}
		}
	}
	return -1
}

// avoidTag moves cut back to the start of an HTML tag it would split.
func avoidTag(runes []rune, cut int) int {
	for i := cut - 1; i >= 0; i-- {
		switch runes[i] {
		case '>':
			return cut
		case '<':
			return i
		}
	}
	return cut
}

// joinCaption renders a caption preview and the follow-up text for the
// remainder. The follow-up is empty when text fits. Only whitespace at the
// cut is dropped; the caption gains an ellipsis, and a bold run split by the
// cut is closed in the caption and reopened in the follow-up.
func joinCaption(text string, limit int) (caption, followUp string) {
	const more = "…"
	if len([]rune(text)) <= limit {
		return text, ""
	}
	head, tail := SplitCaption(text, limit-len([]rune(more))-len("</b>"))
	caption = strings.TrimRight(head, " \n") + more
	followUp = strings.TrimSpace(tail)
	if strings.Count(head, "<b>") > strings.Count(head, "</b>") {
		caption += "</b>"
		followUp = "<b>" + followUp
	}
	return caption, followUp
}
