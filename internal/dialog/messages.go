package dialog

// User-facing texts.
const (
	msgWelcome = "Привет 👋\n" +
		"Я помогу тебе увидеть своё текущее состояние через метафорические карты и найти ресурс для выхода.\n\n" +
		"Готов начать путешествие к самопониманию? ✨\n" +
		"Напиши \"Да\" или \"Начать\", чтобы продолжить."

	msgWelcomeButtons = "Привет 👋\n" +
		"Я твой проводник в мире психологических состояний.\n\n" +
		"С помощью метафорических карт мы вместе найдём ресурс для тебя и твоего сознания.\n\n" +
		"✨ Нажми \"Готов\", чтобы начать.\n" +
		"✨ Нажми \"Подумаю\", если хочешь взять паузу."

	msgIdleHint       = "Пожалуйста, напиши \"Да\" или \"Начать\", чтобы начать работу с картами."
	msgIdleHintButton = "Пожалуйста, напиши \"Готов\" или \"Подумаю\"."
	msgThink          = "Понятно. Когда будешь готов, просто напиши \"Готов\" или используй /start для начала заново."

	msgAskState = "Отлично! 🌟\n\n" +
		"Опиши своё состояние одним-двумя словами или короткой фразой.\n" +
		"Например: \"я потерял путь\", \"пустота\", \"тревога\", \"застрял\"."

	msgAskMetaphor = "Понял, ты чувствуешь \"%s\".\n\n" +
		"Если бы это состояние было местом или картиной, что бы это было?\n" +
		"Лес, пустыня, море, туман, дождь?"

	msgNewSession = "Отлично! Начинаем новую сессию.\n\n" +
		"Опиши своё текущее состояние одним-двумя словами или короткой фразой."

	msgCompletedHint = "Напиши \"новая карта\" для следующей сессии или используй /start для начала заново."
	msgMeaningHint   = "Напиши \"смысл\", чтобы вытянуть карту смысла, или \"завершить\", чтобы закончить сессию."

	msgError       = "Произошла ошибка при обработке твоего запроса. Попробуй еще раз или используй /start для начала заново."
	msgRateLimited = "⏰ Слишком много запросов. Попробуйте через минуту."
	msgUnknownCmd  = "Я не знаю такой команды. Используй /start, чтобы начать заново, или /help для подсказки."

	msgHelp = "Я веду короткую сессию с архетипическими картами:\n" +
		"1. Ты описываешь своё состояние и образ.\n" +
		"2. Я вытягиваю карту состояния и карту ресурса.\n" +
		"3. Мы ищем переход и смысл.\n\n" +
		"/start - начать заново\n/help - эта подсказка"

	msgImageFallback = "🖼️ Изображение карты:\n\n"

	msgAnalysis = "📊 <b>Психологический анализ</b>\n\n%s\n\n💡 <b>Рекомендация:</b>\n%s"

	msgPathSummary = "Вот твой путь 🌌\n\n" +
		"🜃 <b>Карта №1 — Состояние:</b> %s\n" +
		"🜁 <b>Карта №2 — Ресурс:</b> %s\n" +
		"🜂 <b>Карта №3 — Переход:</b> %s\n\n" +
		"Береги свой ресурс и шагай по мосту.\n" +
		"Хочешь завершить сессию 📂 или вытянуть карту смысла ✨?"

	msgFinalClosing = "Это твоя история движения. Береги свой ресурс и шагай по мосту. 🙏\n\n" + msgCompletedHint
)

// Button labels and callback payloads.
const (
	cbReady      = "ready"
	cbThink      = "think"
	cbNewSession = "new_session"
	cbMeaning    = "meaning"
	cbFinish     = "finish"
)

// Fallbacks for sections the model left out.
const (
	fallbackConclusion      = "Смысл сейчас для тебя в движении к себе."
	fallbackRecommendation  = "Найди маленькое действие, которое даст тебе ощущение жизни."
	fallbackRecommendations = "1. Практикуй осознанное дыхание\n2. Веди дневник эмоций\n3. Используй техники заземления\n4. Планируй маленькие достижения\n5. Обращайся за поддержкой"
	fallbackSummaryEnding   = "Береги себя. Если почувствуешь, что ресурсов недостаточно, всегда можно обратиться к психотерапевту."
)

const msgReplyHint = "Напиши свой отклик на карту, чтобы продолжить."
