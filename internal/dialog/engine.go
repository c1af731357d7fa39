// Package dialog drives the card session for each user: it reads inbound
// events, advances the session state machine, and talks to the generation
// client and the chat transport.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/metacards/internal/domain"
	"github.com/ashureev/metacards/internal/generation"
	"github.com/ashureev/metacards/internal/transport"
)

// messageLimit is the longest text a single chat message may carry.
const messageLimit = 4096

// Generator produces card text and images.
type Generator interface {
	Text(ctx context.Context, prompt string, maxTokens int, p generation.Priority) (string, error)
	Image(ctx context.Context, prompt string, p generation.Priority) (string, error)
}

// ImageSender delivers a generated image by URL.
type ImageSender interface {
	SendImage(ctx context.Context, chatID int64, imageURL, caption string, opts transport.MessageOptions) error
}

// SessionStore holds the per-user sessions.
type SessionStore interface {
	Get(id int64) *domain.Session
	Save(sess *domain.Session) error
	Reset(id int64) *domain.Session
	Touch(id int64) bool
	Lock(id int64) func()
}

// RateLimiter admits or rejects a user's event.
type RateLimiter interface {
	Allow(id int64) bool
}

// Archiver keeps completed sessions.
type Archiver interface {
	SaveSession(ctx context.Context, sess *domain.Session) error
}

// Recorder counts dialog outcomes.
type Recorder interface {
	IncRequests()
	IncRateLimited()
	IncErrors()
	IncGenerationFailures()
	IncImages()
	IncCompleted()
}

type nopRecorder struct{}

func (nopRecorder) IncRequests()           {}
func (nopRecorder) IncRateLimited()        {}
func (nopRecorder) IncErrors()             {}
func (nopRecorder) IncGenerationFailures() {}
func (nopRecorder) IncImages()             {}
func (nopRecorder) IncCompleted()          {}

// Flow toggles the optional parts of the session.
type Flow struct {
	Buttons        bool
	TransitionCard bool
	MeaningCard    bool
}

// Options tune the engine.
type Options struct {
	Flow              Flow
	CaptionLimit      int
	ProgressDelay     time.Duration
	TextMaxTokens     int
	AnalysisMaxTokens int
}

// DefaultOptions returns the full flow with production limits.
func DefaultOptions() Options {
	return Options{
		Flow:              Flow{Buttons: true, TransitionCard: true, MeaningCard: true},
		CaptionLimit:      1000,
		ProgressDelay:     time.Second,
		TextMaxTokens:     500,
		AnalysisMaxTokens: 600,
	}
}

// Deps are the collaborators of an Engine. Archive, Recorder and Pacer
// are optional.
type Deps struct {
	Sessions  SessionStore
	Limiter   RateLimiter
	Generator Generator
	Sender    transport.Sender
	Images    ImageSender
	Archive   Archiver
	Recorder  Recorder
	Pacer     Pacer
	Logger    *slog.Logger
}

type stepFunc func(ctx context.Context, s *domain.Session, text string) error

// Engine handles inbound events.
type Engine struct {
	sessions SessionStore
	limiter  RateLimiter
	gen      Generator
	sender   transport.Sender
	images   ImageSender
	archive  Archiver
	rec      Recorder
	pacer    Pacer
	log      *slog.Logger
	opts     Options
	cards    [domain.MaxCards]cardDef
	steps    map[domain.State]stepFunc
}

// stepError names the step that failed.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// New builds an Engine.
func New(d Deps, opts Options) (*Engine, error) {
	switch {
	case d.Sessions == nil:
		return nil, errors.New("dialog: session store is required")
	case d.Limiter == nil:
		return nil, errors.New("dialog: rate limiter is required")
	case d.Generator == nil:
		return nil, errors.New("dialog: generator is required")
	case d.Sender == nil:
		return nil, errors.New("dialog: sender is required")
	case d.Images == nil:
		return nil, errors.New("dialog: image sender is required")
	}
	def := DefaultOptions()
	if opts.CaptionLimit <= 0 {
		opts.CaptionLimit = def.CaptionLimit
	}
	if opts.TextMaxTokens <= 0 {
		opts.TextMaxTokens = def.TextMaxTokens
	}
	if opts.AnalysisMaxTokens <= 0 {
		opts.AnalysisMaxTokens = def.AnalysisMaxTokens
	}

	e := &Engine{
		sessions: d.Sessions,
		limiter:  d.Limiter,
		gen:      d.Generator,
		sender:   d.Sender,
		images:   d.Images,
		archive:  d.Archive,
		rec:      d.Recorder,
		pacer:    d.Pacer,
		log:      d.Logger,
		opts:     opts,
	}
	if e.rec == nil {
		e.rec = nopRecorder{}
	}
	if e.pacer == nil {
		e.pacer = TimerPacer{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.cards = [domain.MaxCards]cardDef{
		stateCard(opts.TextMaxTokens),
		resourceCard(opts.TextMaxTokens),
		transitionCard(opts.TextMaxTokens),
		meaningCard(opts.TextMaxTokens),
	}
	e.steps = map[domain.State]stepFunc{
		domain.StateIdle:                  e.onIdle,
		domain.StateAwaitingState:         e.onState,
		domain.StateAwaitingMetaphor:      e.onMetaphor,
		domain.StateAwaitingCard1Reply:    e.onCard1Reply,
		domain.StateAwaitingCard2Reply:    e.onCard2Reply,
		domain.StateAwaitingCard3Reply:    e.onCard3Reply,
		domain.StateAwaitingMeaningChoice: e.onMeaningChoice,
		domain.StateCompleted:             e.onCompleted,
	}
	return e, nil
}

// Handle processes one inbound event. Events for the same user are
// handled one at a time.
func (e *Engine) Handle(ctx context.Context, ev transport.Event) {
	if ev.Kind == transport.EventCallback && ev.CallbackID != "" {
		if err := e.sender.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
			e.log.Debug("Callback not answered", "user_id", ev.UserID, "error", err)
		}
	}
	e.rec.IncRequests()

	if !e.limiter.Allow(ev.UserID) {
		e.rec.IncRateLimited()
		e.log.Info("Rate limit exceeded", "user_id", ev.UserID, "kind", ev.Kind.String())
		e.say(ctx, ev.ChatID, msgRateLimited, transport.MessageOptions{})
		return
	}

	unlock := e.sessions.Lock(ev.UserID)
	defer unlock()

	e.sessions.Touch(ev.UserID)
	s := e.sessions.Get(ev.UserID)
	s.ChatID = ev.ChatID

	var err error
	switch ev.Kind {
	case transport.EventCommand:
		err = e.handleCommand(ctx, s, ev.Command)
	case transport.EventCallback:
		err = e.handleCallback(ctx, s, ev.Data)
	default:
		err = e.handleText(ctx, s, ev.Text)
	}
	if err != nil {
		e.fail(ctx, s, err)
	}
}

func (e *Engine) handleCommand(ctx context.Context, s *domain.Session, cmd string) error {
	switch cmd {
	case "start", "reset", "restart":
		fresh := e.sessions.Reset(s.UserID)
		fresh.ChatID = s.ChatID
		e.welcome(ctx, fresh.ChatID)
		e.commit(fresh)
	case "help":
		e.say(ctx, s.ChatID, msgHelp, transport.MessageOptions{})
	default:
		e.say(ctx, s.ChatID, msgUnknownCmd, transport.MessageOptions{})
	}
	return nil
}

func (e *Engine) handleCallback(ctx context.Context, s *domain.Session, data string) error {
	switch data {
	case cbReady:
		switch s.State {
		case domain.StateIdle:
			return e.begin(ctx, s)
		case domain.StateCompleted:
			return e.restart(ctx, s)
		}
	case cbThink:
		e.say(ctx, s.ChatID, msgThink, transport.MessageOptions{})
		return nil
	case cbNewSession:
		return e.restart(ctx, s)
	case cbMeaning, cbFinish:
		if s.State == domain.StateAwaitingMeaningChoice {
			return e.chooseMeaning(ctx, s, data == cbMeaning)
		}
	default:
		e.log.Debug("Unknown callback", "user_id", s.UserID, "data", data)
	}
	e.remind(ctx, s)
	return nil
}

func (e *Engine) handleText(ctx context.Context, s *domain.Session, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		e.remind(ctx, s)
		return nil
	}
	step, ok := e.steps[s.State]
	if !ok {
		return fmt.Errorf("no handler for state %s", s.State)
	}
	return step(ctx, s, text)
}

func (e *Engine) onIdle(ctx context.Context, s *domain.Session, text string) error {
	switch idleIntent(text) {
	case intentProceed:
		return e.begin(ctx, s)
	case intentDefer:
		e.say(ctx, s.ChatID, msgThink, transport.MessageOptions{})
	default:
		e.remind(ctx, s)
	}
	return nil
}

func (e *Engine) onState(ctx context.Context, s *domain.Session, text string) error {
	s.StateDescription = text
	if err := s.Advance(domain.StateAwaitingMetaphor); err != nil {
		return err
	}
	e.say(ctx, s.ChatID, fmt.Sprintf(msgAskMetaphor, text), transport.MessageOptions{})
	e.commit(s)
	return nil
}

func (e *Engine) onMetaphor(ctx context.Context, s *domain.Session, text string) error {
	s.Metaphor = text
	if err := e.drawCard(ctx, s, 0); err != nil {
		return err
	}
	return e.advance(s, domain.StateAwaitingCard1Reply)
}

func (e *Engine) onCard1Reply(ctx context.Context, s *domain.Session, text string) error {
	s.SetResponse(0, text)
	if err := e.drawCard(ctx, s, 1); err != nil {
		return err
	}
	return e.advance(s, domain.StateAwaitingCard2Reply)
}

func (e *Engine) onCard2Reply(ctx context.Context, s *domain.Session, text string) error {
	s.SetResponse(1, text)
	if !e.opts.Flow.TransitionCard {
		return e.summarize(ctx, s)
	}
	if err := e.analyze(ctx, s); err != nil {
		return err
	}
	if err := e.drawCard(ctx, s, 2); err != nil {
		return err
	}
	return e.advance(s, domain.StateAwaitingCard3Reply)
}

func (e *Engine) onCard3Reply(ctx context.Context, s *domain.Session, text string) error {
	s.SetResponse(2, text)
	if !e.opts.Flow.MeaningCard {
		return e.summarize(ctx, s)
	}
	c1, _ := s.CardAt(0)
	c2, _ := s.CardAt(1)
	c3, _ := s.CardAt(2)
	msg := fmt.Sprintf(msgPathSummary, escape(c1.Description), escape(c2.Description), escape(c3.Description))
	opts := transport.MessageOptions{HTML: true}
	if e.opts.Flow.Buttons {
		opts.Buttons = [][]transport.Button{{
			{Text: "📂 Завершить", Data: cbFinish},
			{Text: "✨ Карта смысла", Data: cbMeaning},
		}}
	}
	e.say(ctx, s.ChatID, msg, opts)
	return e.advance(s, domain.StateAwaitingMeaningChoice)
}

func (e *Engine) onMeaningChoice(ctx context.Context, s *domain.Session, text string) error {
	return e.chooseMeaning(ctx, s, meaningIntent(text) == intentMeaning)
}

func (e *Engine) onCompleted(ctx context.Context, s *domain.Session, text string) error {
	if completedIntent(text) == intentRestart {
		return e.restart(ctx, s)
	}
	e.remind(ctx, s)
	return nil
}

// begin moves an idle session to the first question.
func (e *Engine) begin(ctx context.Context, s *domain.Session) error {
	if err := s.Advance(domain.StateAwaitingState); err != nil {
		return err
	}
	e.say(ctx, s.ChatID, msgAskState, transport.MessageOptions{})
	e.commit(s)
	return nil
}

// restart replaces the session with a fresh one awaiting the state
// description.
func (e *Engine) restart(ctx context.Context, s *domain.Session) error {
	fresh := e.sessions.Reset(s.UserID)
	fresh.ChatID = s.ChatID
	if err := fresh.Advance(domain.StateAwaitingState); err != nil {
		return err
	}
	e.say(ctx, fresh.ChatID, msgNewSession, transport.MessageOptions{})
	e.commit(fresh)
	return nil
}

func (e *Engine) chooseMeaning(ctx context.Context, s *domain.Session, meaning bool) error {
	if meaning {
		if err := e.drawCard(ctx, s, 3); err != nil {
			return err
		}
	}
	e.say(ctx, s.ChatID, finalSummary(s), e.newSessionOptions(true))
	return e.complete(ctx, s)
}

// summarize asks the model for a closing summary and ends the session.
func (e *Engine) summarize(ctx context.Context, s *domain.Session) error {
	p := e.startProgress(ctx, s.ChatID, "✨ <b>Создаю итоговый анализ...</b>", "📋 Формирую полную картину твоего пути...")
	raw, err := e.gen.Text(ctx, summaryPrompt(s), e.opts.AnalysisMaxTokens, generation.PriorityLow)
	p.done(ctx)
	if err != nil {
		return &stepError{step: "summary", err: err}
	}
	sec := ParseSections(raw, labelSummary, labelRecommendations, labelConclusion)
	s.Summary = sec.Get(labelSummary, strings.TrimSpace(raw))
	s.Recommendations = sec.Get(labelRecommendations, fallbackRecommendations)
	conclusion := sec.Get(labelConclusion, fallbackSummaryEnding)

	var b strings.Builder
	b.WriteString("🎉 <b>Итог твоей сессии</b>\n\n")
	b.WriteString(escape(s.Summary))
	b.WriteString("\n\n💡 <b>Рекомендации:</b>\n")
	b.WriteString(escape(s.Recommendations))
	b.WriteString("\n\n")
	b.WriteString(escape(conclusion))
	b.WriteString("\n\n")
	b.WriteString(msgCompletedHint)
	e.say(ctx, s.ChatID, b.String(), e.newSessionOptions(true))
	return e.complete(ctx, s)
}

// analyze links the first two cards before the transition card.
func (e *Engine) analyze(ctx context.Context, s *domain.Session) error {
	if s.Analysis != "" {
		return nil
	}
	p := e.startProgress(ctx, s.ChatID, "🧠 <b>Провожу психологический анализ...</b>",
		"📊 Анализирую твои ответы и создаю связку между картами...")
	raw, err := e.gen.Text(ctx, analysisPrompt(s), e.opts.AnalysisMaxTokens, generation.PriorityLow)
	p.done(ctx)
	if err != nil {
		return &stepError{step: "analysis", err: err}
	}
	sec := ParseSections(raw, labelAnalysis, labelRecommendation)
	s.Analysis = sec.Get(labelAnalysis, strings.TrimSpace(raw))
	s.Recommendations = sec.Get(labelRecommendation, fallbackRecommendation)
	e.say(ctx, s.ChatID, fmt.Sprintf(msgAnalysis, escape(s.Analysis), escape(s.Recommendations)),
		transport.MessageOptions{HTML: true})
	return nil
}

// drawCard generates the card at pos and sends it. A card that is already
// in the session is not drawn again.
func (e *Engine) drawCard(ctx context.Context, s *domain.Session, pos int) error {
	if _, ok := s.CardAt(pos); ok {
		return nil
	}
	def := e.cards[pos]
	p := e.startProgress(ctx, s.ChatID, def.header, def.analyzing(s))
	defer p.done(ctx)

	raw, err := e.gen.Text(ctx, def.prompt(s), def.maxTokens, generation.PriorityHigh)
	if err != nil {
		return &stepError{step: string(def.kind) + " card text", err: err}
	}
	card := def.parseCard(raw, s)

	p.step(ctx, def.painting)
	url, err := e.gen.Image(ctx, card.VisualPrompt, generation.PriorityNormal)
	if err != nil {
		return &stepError{step: string(def.kind) + " card image", err: err}
	}
	card.ImageURL = url
	e.rec.IncImages()

	p.step(ctx, def.sending)
	e.sendCard(ctx, s.ChatID, url, def.caption(card))
	return s.AddCard(pos, card)
}

// sendCard delivers the image with as much of the caption as fits. When
// the image cannot be delivered the whole caption goes out as text.
func (e *Engine) sendCard(ctx context.Context, chatID int64, url, caption string) {
	short, rest := joinCaption(caption, e.opts.CaptionLimit)
	opts := transport.MessageOptions{HTML: true}
	if err := e.images.SendImage(ctx, chatID, url, short, opts); err != nil {
		e.log.Warn("Card image not delivered, sending text", "chat_id", chatID, "error", err)
		e.say(ctx, chatID, msgImageFallback+caption, opts)
		return
	}
	if rest != "" {
		e.say(ctx, chatID, rest, opts)
	}
}

// advance moves s to the next state and stores it.
func (e *Engine) advance(s *domain.Session, to domain.State) error {
	if err := s.Advance(to); err != nil {
		return err
	}
	e.commit(s)
	return nil
}

// complete closes the session and archives it.
func (e *Engine) complete(ctx context.Context, s *domain.Session) error {
	if err := e.advance(s, domain.StateCompleted); err != nil {
		return err
	}
	e.rec.IncCompleted()
	e.log.Info("Session completed", "user_id", s.UserID, "run_id", s.RunID, "cards", len(s.Cards))
	if e.archive == nil {
		return nil
	}
	if err := e.archive.SaveSession(ctx, s); err != nil {
		e.log.Warn("Session not archived", "user_id", s.UserID, "run_id", s.RunID, "error", err)
	}
	return nil
}

func (e *Engine) commit(s *domain.Session) {
	if err := e.sessions.Save(s); err != nil {
		e.log.Warn("Session not saved", "user_id", s.UserID, "state", s.State.String(), "error", err)
	}
}

// remind repeats what the current state expects.
func (e *Engine) remind(ctx context.Context, s *domain.Session) {
	switch s.State {
	case domain.StateIdle:
		if e.opts.Flow.Buttons {
			e.say(ctx, s.ChatID, msgIdleHintButton, e.welcomeOptions())
			return
		}
		e.say(ctx, s.ChatID, msgIdleHint, transport.MessageOptions{})
	case domain.StateAwaitingState:
		e.say(ctx, s.ChatID, msgAskState, transport.MessageOptions{})
	case domain.StateAwaitingMetaphor:
		e.say(ctx, s.ChatID, fmt.Sprintf(msgAskMetaphor, s.StateDescription), transport.MessageOptions{})
	case domain.StateAwaitingMeaningChoice:
		e.say(ctx, s.ChatID, msgMeaningHint, transport.MessageOptions{})
	case domain.StateCompleted:
		e.say(ctx, s.ChatID, msgCompletedHint, e.newSessionOptions(false))
	default:
		e.say(ctx, s.ChatID, msgReplyHint, transport.MessageOptions{})
	}
}

func (e *Engine) welcome(ctx context.Context, chatID int64) {
	if e.opts.Flow.Buttons {
		e.say(ctx, chatID, msgWelcomeButtons, e.welcomeOptions())
		return
	}
	e.say(ctx, chatID, msgWelcome, transport.MessageOptions{})
}

func (e *Engine) welcomeOptions() transport.MessageOptions {
	return transport.MessageOptions{Buttons: [][]transport.Button{{
		{Text: "✨ Готов", Data: cbReady},
		{Text: "🤔 Подумаю", Data: cbThink},
	}}}
}

func (e *Engine) newSessionOptions(html bool) transport.MessageOptions {
	opts := transport.MessageOptions{HTML: html}
	if e.opts.Flow.Buttons {
		opts.Buttons = [][]transport.Button{{{Text: "🔄 Новая сессия", Data: cbNewSession}}}
	}
	return opts
}

// say sends text, splitting it when it exceeds the message limit. Buttons
// go with the last part. Delivery failures are logged and dropped.
func (e *Engine) say(ctx context.Context, chatID int64, text string, opts transport.MessageOptions) {
	for {
		head, tail := SplitCaption(text, messageLimit-len("</b>"))
		partOpts := opts
		if tail != "" {
			partOpts.Buttons = nil
			if opts.HTML && strings.Count(head, "<b>") > strings.Count(head, "</b>") {
				head += "</b>"
				tail = "<b>" + tail
			}
		}
		if _, err := e.sender.SendMessage(ctx, chatID, head, partOpts); err != nil {
			e.log.Warn("Message not delivered", "chat_id", chatID, "error", err)
			return
		}
		if tail == "" {
			return
		}
		text = tail
	}
}

func (e *Engine) typing(ctx context.Context, chatID int64) {
	if err := e.sender.SendTyping(ctx, chatID); err != nil {
		e.log.Debug("Typing action not sent", "chat_id", chatID, "error", err)
	}
}

func (e *Engine) fail(ctx context.Context, s *domain.Session, err error) {
	step := s.State.String()
	var se *stepError
	if errors.As(err, &se) {
		step = se.step
	}
	if errors.Is(err, generation.ErrGenerationFailed) {
		e.rec.IncGenerationFailures()
		e.log.Error("Generation failed", "user_id", s.UserID, "state", s.State.String(), "step", step, "error", err)
	} else {
		e.rec.IncErrors()
		e.log.Error("Step failed", "user_id", s.UserID, "state", s.State.String(), "step", step, "error", err)
	}
	e.say(ctx, s.ChatID, msgError, transport.MessageOptions{})
}

// finalSummary renders the closing message from the cards and replies.
func finalSummary(s *domain.Session) string {
	var b strings.Builder
	b.WriteString("🎉 <b>Твоя сессия завершена!</b>\n\n")
	if s.StateDescription != "" {
		fmt.Fprintf(&b, "<b>Исходное состояние:</b> %s\n", escape(s.StateDescription))
	}
	for _, c := range s.Cards {
		fmt.Fprintf(&b, "%s %s\n", cardIcon(c.Kind), escape(c.Description))
	}
	if len(s.Responses) > 0 {
		b.WriteString("\n<b>Твои отклики:</b>\n")
		for i, r := range s.Responses {
			if r == "" {
				continue
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, escape(r))
		}
	}
	if s.Analysis != "" {
		fmt.Fprintf(&b, "\n<b>Психологический анализ:</b>\n%s\n", escape(s.Analysis))
	}
	if s.Recommendations != "" {
		fmt.Fprintf(&b, "\n💡 <b>Рекомендация:</b>\n%s\n", escape(s.Recommendations))
	}
	if c, ok := s.CardAt(3); ok && c.Conclusion != "" {
		fmt.Fprintf(&b, "\n✨ <b>%s</b>\n", escape(c.Conclusion))
	}
	b.WriteString("\n")
	b.WriteString(msgFinalClosing)
	return b.String()
}
