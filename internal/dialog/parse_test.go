package dialog

import (
	"testing"

	"github.com/ashureev/metacards/internal/domain"
)

func TestParseSections(t *testing.T) {
	t.Parallel()

	raw := "VISUAL: a misty forest at dawn\n" +
		"DESCRIPTION: Туман окутывает лес.\nЛучи едва пробиваются.\n" +
		"SYMBOLS: 🌫️ Туман\n🌲 Лес"
	sec := ParseSections(raw, labelVisual, labelDescription, labelSymbols, labelConclusion)

	if got := sec[labelVisual]; got != "a misty forest at dawn" {
		t.Errorf("visual = %q", got)
	}
	if got := sec[labelDescription]; got != "Туман окутывает лес.\nЛучи едва пробиваются." {
		t.Errorf("description = %q", got)
	}
	if got := sec[labelSymbols]; got != "🌫️ Туман\n🌲 Лес" {
		t.Errorf("symbols = %q", got)
	}
	if _, ok := sec[labelConclusion]; ok {
		t.Error("conclusion should be absent")
	}
	if got := sec.Get(labelConclusion, "fallback"); got != "fallback" {
		t.Errorf("Get fallback = %q", got)
	}
}

func TestParseSectionsOrderAndMarkup(t *testing.T) {
	t.Parallel()

	raw := "**SYMBOLS:** 🕯️ Свеча\n\n**DESCRIPTION**: Мост над рекой.\n  **VISUAL**: bridge"
	sec := ParseSections(raw, labelVisual, labelDescription, labelSymbols)

	if got := sec[labelSymbols]; got != "🕯️ Свеча" {
		t.Errorf("symbols = %q", got)
	}
	if got := sec[labelDescription]; got != "Мост над рекой." {
		t.Errorf("description = %q", got)
	}
	if got := sec[labelVisual]; got != "bridge" {
		t.Errorf("visual = %q", got)
	}
}

func TestParseSectionsSingularDoesNotMatchPlural(t *testing.T) {
	t.Parallel()

	sec := ParseSections("SUMMARY: итог\nRECOMMENDATIONS: 1. дышать", labelSummary, labelRecommendation, labelRecommendations)
	if _, ok := sec[labelRecommendation]; ok {
		t.Errorf("RECOMMENDATION matched plural label: %q", sec[labelRecommendation])
	}
	if got := sec[labelRecommendations]; got != "1. дышать" {
		t.Errorf("recommendations = %q", got)
	}
}

func TestParseSectionsUnstructured(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "просто текст без меток", "VISUAL:", "DESCRIPTION:   \n  "} {
		sec := ParseSections(raw, labelVisual, labelDescription)
		if len(sec) != 0 {
			t.Errorf("ParseSections(%q) = %v, want empty", raw, sec)
		}
	}
}

func TestParseSectionsIgnoresLabelWordsInBody(t *testing.T) {
	t.Parallel()

	raw := "VISUAL: An archetypal card with symbols: a lantern and a bridge in fog, its description: calm\n" +
		"DESCRIPTION: Мост в тумане.\n" +
		"SYMBOLS: 🌉 Мост"
	sec := ParseSections(raw, labelVisual, labelDescription, labelSymbols)

	if got := sec[labelVisual]; got != "An archetypal card with symbols: a lantern and a bridge in fog, its description: calm" {
		t.Errorf("visual = %q", got)
	}
	if got := sec[labelDescription]; got != "Мост в тумане." {
		t.Errorf("description = %q", got)
	}
	if got := sec[labelSymbols]; got != "🌉 Мост" {
		t.Errorf("symbols = %q", got)
	}
}

func TestParseCardKeepsVisualPrompt(t *testing.T) {
	t.Parallel()

	raw := "VISUAL: An archetypal card with symbols: a lantern and a bridge in fog\n" +
		"DESCRIPTION: Переход через туман.\n" +
		"SYMBOLS: 🌉 Мост"
	card := transitionCard(500).parseCard(raw, &domain.Session{StateDescription: "a", Metaphor: "b"})

	if card.VisualPrompt != "An archetypal card with symbols: a lantern and a bridge in fog" {
		t.Errorf("visual prompt = %q", card.VisualPrompt)
	}
	if card.Symbols != "🌉 Мост" {
		t.Errorf("symbols = %q", card.Symbols)
	}
}
