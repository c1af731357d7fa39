package dialog

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Sections holds labeled blocks extracted from generated text.
type Sections map[string]string

// Get returns the section or fallback when it is missing or empty.
func (s Sections) Get(label, fallback string) string {
	if v := s[label]; v != "" {
		return v
	}
	return fallback
}

// labelPatterns caches compiled label patterns by label.
var labelPatterns sync.Map

func labelPattern(label string) *regexp.Regexp {
	if re, ok := labelPatterns.Load(label); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?m)^[ \t*_#]*` + regexp.QuoteMeta(label) + `[ \t]*\**[ \t]*:[ \t]*\**`)
	labelPatterns.Store(label, re)
	return re
}

type labelHit struct {
	label      string
	start, end int
}

// ParseSections splits text into the blocks introduced by "LABEL:" markers.
// A label counts only in upper case at the start of a line, optionally
// wrapped in markdown emphasis. Labels may appear in any order; a block runs
// until the next known label. Missing labels are absent from the result.
func ParseSections(text string, labels ...string) Sections {
	out := make(Sections, len(labels))
	var hits []labelHit
	for _, label := range labels {
		loc := labelPattern(label).FindStringIndex(text)
		if loc == nil {
			continue
		}
		hits = append(hits, labelHit{label: label, start: loc[0], end: loc[1]})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	for i, h := range hits {
		stop := len(text)
		if i+1 < len(hits) {
			stop = hits[i+1].start
		}
		if stop < h.end {
			continue
		}
		body := strings.TrimSpace(text[h.end:stop])
		body = strings.TrimSpace(strings.Trim(body, "*"))
		if body != "" {
			out[h.label] = body
		}
	}
	return out
}
