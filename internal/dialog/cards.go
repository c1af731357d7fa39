package dialog

import (
	"fmt"
	"html"
	"strings"

	"github.com/ashureev/metacards/internal/domain"
)

// Section labels the prompts ask the model to emit.
const (
	labelVisual          = "VISUAL"
	labelDescription     = "DESCRIPTION"
	labelInterpretation  = "INTERPRETATION"
	labelSymbols         = "SYMBOLS"
	labelConclusion      = "CONCLUSION"
	labelAnalysis        = "ANALYSIS"
	labelRecommendation  = "RECOMMENDATION"
	labelSummary         = "SUMMARY"
	labelRecommendations = "RECOMMENDATIONS"
)

// cardDef describes how one card is drawn and presented.
type cardDef struct {
	kind      domain.CardKind
	title     string
	question  string // bold closing line; empty when the card has a conclusion
	header    string // progress message header
	analyzing func(s *domain.Session) string
	painting  string
	sending   string
	maxTokens int
	prompt    func(s *domain.Session) string
	visual    func(s *domain.Session) string
	symbols   string
}

const cardFormat = `Создай:
1. Визуальное описание для генерации изображения (на английском, для DALL-E)
2. Краткое описание (2-3 предложения)
3. Список символов (2-3 пункта со смайлами)

Формат ответа:
VISUAL: [описание для генерации изображения]
DESCRIPTION: [описание 2-3 предложения]
SYMBOLS: [символы со смайлами, каждый с новой строки]`

func stateCard(textTokens int) cardDef {
	return cardDef{
		kind:     domain.CardState,
		title:    "🜃 <b>Карта №1 — Состояние</b>",
		question: "Что в этой карте откликается тебе сильнее всего?",
		header:   "🔮 <b>Создаю твои архетипические карты...</b>",
		analyzing: func(s *domain.Session) string {
			return fmt.Sprintf("📝 Анализирую твоё состояние \"%s\" в образе \"%s\"...",
				html.EscapeString(s.StateDescription), html.EscapeString(s.Metaphor))
		},
		painting:  "🎨 Генерирую визуальный образ для карты состояния...",
		sending:   "📤 Отправляю первую карту...",
		maxTokens: textTokens,
		prompt: func(s *domain.Session) string {
			return fmt.Sprintf("Ты — архетипический рассказчик и UX-редактор.\n"+
				"Сгенерируй метафорическое описание состояния пользователя.\n\n"+
				"Состояние: %q\nМетафора: %q\n\n%s", s.StateDescription, s.Metaphor, cardFormat)
		},
		visual: func(s *domain.Session) string {
			return fmt.Sprintf("Archetypal card representing %s in %s", s.StateDescription, s.Metaphor)
		},
		symbols: "🌫️ Туман неопределенности\n💔 Трещины в душе\n🌊 Волны эмоций",
	}
}

func resourceCard(textTokens int) cardDef {
	return cardDef{
		kind:     domain.CardResource,
		title:    "🜁 <b>Карта №2 — Ресурс</b>",
		question: "Что этот символ может значить именно для тебя?",
		header:   "🌱 <b>Создаю вторую карту — ресурс для перехода...</b>",
		analyzing: func(s *domain.Session) string {
			return fmt.Sprintf("📝 Анализирую ресурсы для перехода из \"%s\"...", html.EscapeString(s.StateDescription))
		},
		painting:  "🎨 Генерирую визуальный образ для карты ресурса...",
		sending:   "📤 Отправляю вторую карту...",
		maxTokens: textTokens,
		prompt: func(s *domain.Session) string {
			return fmt.Sprintf("Ты — психолог-проводник и архетипический рассказчик.\n"+
				"Сгенерируй карту-ресурс для пользователя, которая помогает ему выйти из состояния.\n\n"+
				"Исходное состояние: %q\nМетафора: %q\nОтклик на карту состояния: %q\n\n%s",
				s.StateDescription, s.Metaphor, s.Response(0), cardFormat)
		},
		visual: func(s *domain.Session) string {
			return fmt.Sprintf("Archetypal resource card for transition from %s", s.StateDescription)
		},
		symbols: "🌱 Росток надежды\n💎 Внутренняя сила\n🌟 Путеводная звезда",
	}
}

func transitionCard(textTokens int) cardDef {
	return cardDef{
		kind:     domain.CardTransition,
		title:    "🜂 <b>Карта №3 — Переход</b>",
		question: "Что может быть таким мостом в твоей жизни прямо сейчас?",
		header:   "🌉 <b>Создаю третью карту — мост между состояниями...</b>",
		analyzing: func(*domain.Session) string {
			return "📝 Анализирую связь между картой состояния и картой ресурса..."
		},
		painting:  "🎨 Генерирую визуальный образ моста-перехода...",
		sending:   "📤 Отправляю третью карту...",
		maxTokens: textTokens,
		prompt: func(s *domain.Session) string {
			c1, _ := s.CardAt(0)
			c2, _ := s.CardAt(1)
			return fmt.Sprintf("Ты — архетипический художник-проводник.\n"+
				"Сгенерируй метафорическую карту перехода от состояния к ресурсу.\n\n"+
				"Карта состояния: %s\nОтклик пользователя: %q\n\n"+
				"Карта ресурса: %s\nОтклик пользователя: %q\n\n%s",
				c1.Description, s.Response(0), c2.Description, s.Response(1), cardFormat)
		},
		visual: func(*domain.Session) string {
			return "Archetypal transition card bridging two states"
		},
		symbols: "🌉 Мост между мирами\n🕯️ Свет на пути\n👣 Следы шагов",
	}
}

func meaningCard(textTokens int) cardDef {
	return cardDef{
		kind:   domain.CardMeaning,
		title:  "✨ <b>Карта смысла</b>",
		header: "✨ <b>Создаю карту смысла...</b>",
		analyzing: func(*domain.Session) string {
			return "🎯 Анализирую ради чего сейчас движение..."
		},
		painting:  "🎨 Генерирую визуальный образ смысла...",
		sending:   "📤 Отправляю карту смысла...",
		maxTokens: textTokens,
		prompt: func(s *domain.Session) string {
			c1, _ := s.CardAt(0)
			c2, _ := s.CardAt(1)
			c3, _ := s.CardAt(2)
			return fmt.Sprintf("Ты — психолог и автор архетипических карт.\n"+
				"Сгенерируй карту смысла (ради чего сейчас движение).\n\n"+
				"Карта состояния: %s\nКарта ресурса: %s\nКарта перехода: %s\n\n"+
				"Отклики пользователя: %s\n\n"+
				"Создай:\n"+
				"1. Визуальное описание для генерации изображения (на английском, для DALL-E)\n"+
				"2. Краткое описание смысла (2-3 предложения)\n"+
				"3. Список символов смысла (2 пункта со смайлами)\n"+
				"4. Заключение о смысле\n\n"+
				"Формат ответа:\n"+
				"VISUAL: [описание для генерации изображения]\n"+
				"DESCRIPTION: [описание смысла 2-3 предложения]\n"+
				"SYMBOLS: [символы смысла со смайлами, каждый с новой строки]\n"+
				"CONCLUSION: [заключение о смысле]",
				c1.Description, c2.Description, c3.Description, strings.Join(s.Responses, ", "))
		},
		visual: func(*domain.Session) string {
			return "Archetypal meaning card showing purpose and direction"
		},
		symbols: "🎯 Цель пути\n💫 Внутренний свет",
	}
}

// parseCard builds a card from model output. It never fails: every
// missing section falls back to a value derived from the session.
func (c cardDef) parseCard(raw string, s *domain.Session) domain.Card {
	sec := ParseSections(raw, labelVisual, labelDescription, labelInterpretation, labelSymbols, labelConclusion)
	description := sec.Get(labelDescription, sec.Get(labelInterpretation, strings.TrimSpace(raw)))
	card := domain.Card{
		Kind:         c.kind,
		VisualPrompt: sec.Get(labelVisual, c.visual(s)),
		Description:  description,
		Symbols:      sec.Get(labelSymbols, c.symbols),
	}
	if c.kind == domain.CardMeaning {
		card.Conclusion = sec.Get(labelConclusion, fallbackConclusion)
	}
	return card
}

// caption renders the card as HTML.
func (c cardDef) caption(card domain.Card) string {
	closing := c.question
	if card.Conclusion != "" {
		closing = card.Conclusion
	}
	parts := []string{c.title, html.EscapeString(card.Description)}
	if card.Symbols != "" {
		parts = append(parts, html.EscapeString(card.Symbols))
	}
	if closing != "" {
		parts = append(parts, "<b>"+html.EscapeString(closing)+"</b>")
	}
	return strings.Join(parts, "\n\n")
}

func analysisPrompt(s *domain.Session) string {
	c1, _ := s.CardAt(0)
	c2, _ := s.CardAt(1)
	return fmt.Sprintf("Ты — психолог-аналитик и редактор UX.\n"+
		"Сделай короткий итог анализа карт 1 и 2, используя ответы пользователя.\n\n"+
		"Карта состояния: %s\nОтклик пользователя: %q\n\n"+
		"Карта ресурса: %s\nОтклик пользователя: %q\n\n"+
		"Создай:\n"+
		"1. 2-3 абзаца по 2 предложения\n"+
		"2. Свяжи символы состояния и ресурса в одну историю\n"+
		"3. Добавь 1 практическую рекомендацию (\"найди маленькое действие...\")\n\n"+
		"Формат ответа:\n"+
		"ANALYSIS: [психологический анализ связки]\n"+
		"RECOMMENDATION: [практическая рекомендация]",
		c1.Description, s.Response(0), c2.Description, s.Response(1))
}

func summaryPrompt(s *domain.Session) string {
	var b strings.Builder
	b.WriteString("Ты — профессиональный психолог, работающий с архетипами и метафорическими картами.\n")
	b.WriteString("Составь итог сессии.\n\n")
	for _, c := range s.Cards {
		fmt.Fprintf(&b, "%s: %s\n", cardLabel(c.Kind), c.Description)
	}
	fmt.Fprintf(&b, "\nОтклики пользователя: %s\n\n", strings.Join(s.Responses, ", "))
	b.WriteString("Создай:\n" +
		"1. Краткие ключевые смыслы для каждой карты\n" +
		"2. 5 практических рекомендаций\n" +
		"3. Заключение с упоминанием возможности обращения к психотерапевту\n\n" +
		"Пиши ясно и понятно, короткими предложениями. Будь человечным.\n\n" +
		"Формат ответа:\n" +
		"SUMMARY: [итог сессии с ключевыми смыслами]\n" +
		"RECOMMENDATIONS: [5 практических рекомендаций, каждая с новой строки]\n" +
		"CONCLUSION: [заключение]")
	return b.String()
}

func cardLabel(k domain.CardKind) string {
	switch k {
	case domain.CardState:
		return "Карта состояния"
	case domain.CardResource:
		return "Карта ресурса"
	case domain.CardTransition:
		return "Карта перехода"
	case domain.CardMeaning:
		return "Карта смысла"
	default:
		return "Карта"
	}
}

func cardIcon(k domain.CardKind) string {
	switch k {
	case domain.CardState:
		return "🜃 <b>Состояние:</b>"
	case domain.CardResource:
		return "🜁 <b>Ресурс:</b>"
	case domain.CardTransition:
		return "🜂 <b>Переход:</b>"
	case domain.CardMeaning:
		return "✨ <b>Смысл:</b>"
	default:
		return "<b>Карта:</b>"
	}
}

func escape(s string) string { return html.EscapeString(s) }
