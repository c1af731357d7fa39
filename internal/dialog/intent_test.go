package dialog

import "testing"

func TestIdleIntent(t *testing.T) {
	t.Parallel()

	cases := map[string]intent{
		"Да":              intentProceed,
		"давай начнём":    intentProceed,
		"Начать!":         intentProceed,
		"готов":           intentProceed,
		"нет":             intentDefer,
		"я подумаю":       intentDefer,
		"не готов":        intentDefer,
		"Не готов ещё":    intentDefer,
		"пока не начнём":  intentDefer,
		"когда-нибудь":    intentNone,
		"что это за бот?": intentNone,
	}
	for text, want := range cases {
		if got := idleIntent(text); got != want {
			t.Errorf("idleIntent(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestCompletedIntent(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"новая карта", "Ещё", "заново", "готов"} {
		if got := completedIntent(text); got != intentRestart {
			t.Errorf("completedIntent(%q) = %v", text, got)
		}
	}
	for _, text := range []string{"спасибо", "не готов"} {
		if got := completedIntent(text); got != intentNone {
			t.Errorf("completedIntent(%q) = %v", text, got)
		}
	}
}

func TestMeaningIntent(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"смысл", "Карта смысла", "✨"} {
		if got := meaningIntent(text); got != intentMeaning {
			t.Errorf("meaningIntent(%q) = %v", text, got)
		}
	}
	if got := meaningIntent("завершить"); got != intentFinish {
		t.Errorf("meaningIntent(завершить) = %v", got)
	}
}
