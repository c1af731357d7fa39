package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram implements Sender on the Telegram Bot API and feeds inbound
// updates to a Dispatcher, either by long polling or through a webhook.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	log         *slog.Logger
	pollTimeout int
}

// TelegramConfig configures the adapter.
type TelegramConfig struct {
	Token       string
	Endpoint    string // API endpoint format, defaults to tgbotapi.APIEndpoint
	PollTimeout int    // seconds
	HTTPClient  *http.Client
}

// NewTelegram connects to the Bot API and verifies the token.
func NewTelegram(cfg TelegramConfig, log *slog.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot api: %w", err)
	}
	log.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &Telegram{bot: bot, log: log, pollTimeout: cfg.PollTimeout}, nil
}

// Username returns the bot's username.
func (t *Telegram) Username() string { return t.bot.Self.UserName }

func inlineKeyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

func parseMode(opts MessageOptions) string {
	if opts.HTML {
		return tgbotapi.ModeHTML
	}
	return ""
}

// SendMessage sends text and returns the new message ID.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string, opts MessageOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &DeliveryError{Op: "send message", Err: err}
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode(opts)
	if len(opts.Buttons) > 0 {
		msg.ReplyMarkup = inlineKeyboard(opts.Buttons)
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, &DeliveryError{Op: "send message", Err: err}
	}
	return sent.MessageID, nil
}

// EditMessage replaces the text of an earlier message.
func (t *Telegram) EditMessage(ctx context.Context, chatID int64, messageID int, text string, opts MessageOptions) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Op: "edit message", Err: err}
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode(opts)
	if len(opts.Buttons) > 0 {
		kb := inlineKeyboard(opts.Buttons)
		edit.ReplyMarkup = &kb
	}
	if _, err := t.bot.Request(edit); err != nil {
		return &DeliveryError{Op: "edit message", Err: err}
	}
	return nil
}

// DeleteMessage removes a message.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Op: "delete message", Err: err}
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return &DeliveryError{Op: "delete message", Err: err}
	}
	return nil
}

// SendPhoto uploads the file at path with a caption.
func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, path, caption string, opts MessageOptions) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Op: "send photo", Err: err}
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	photo.ParseMode = parseMode(opts)
	if len(opts.Buttons) > 0 {
		photo.ReplyMarkup = inlineKeyboard(opts.Buttons)
	}
	if _, err := t.bot.Send(photo); err != nil {
		return &DeliveryError{Op: "send photo", Err: err}
	}
	return nil
}

// SendTyping shows the typing indicator.
func (t *Telegram) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Op: "send typing", Err: err}
	}
	if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return &DeliveryError{Op: "send typing", Err: err}
	}
	return nil
}

// AnswerCallback acknowledges a button press.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Op: "answer callback", Err: err}
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return &DeliveryError{Op: "answer callback", Err: err}
	}
	return nil
}

// Poll receives updates by long polling until ctx is done.
func (t *Telegram) Poll(ctx context.Context, d *Dispatcher) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)
	t.log.Info("Telegram polling started", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.log.Info("Telegram polling stopped", "reason", ctx.Err())
			return nil
		case upd, ok := <-updates:
			if !ok {
				return fmt.Errorf("telegram update channel closed")
			}
			if ev, ok := EventFromUpdate(upd); ok {
				d.Dispatch(ctx, ev)
			}
		}
	}
}

// SetWebhook registers url with Telegram.
func (t *Telegram) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := t.bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// WebhookHandler decodes pushed updates and dispatches them with ctx, which
// should outlive individual requests.
func (t *Telegram) WebhookHandler(ctx context.Context, d *Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		upd, err := t.bot.HandleUpdate(r)
		if err != nil {
			t.log.Warn("Invalid webhook update", "error", err)
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		if ev, ok := EventFromUpdate(*upd); ok {
			d.Dispatch(ctx, ev)
		}
		w.WriteHeader(http.StatusOK)
	}
}

// EventFromUpdate converts a Telegram update. Updates that carry neither
// text nor a callback are ignored.
func EventFromUpdate(upd tgbotapi.Update) (Event, bool) {
	if cq := upd.CallbackQuery; cq != nil {
		if cq.From == nil {
			return Event{}, false
		}
		chatID := cq.From.ID
		if cq.Message != nil && cq.Message.Chat != nil {
			chatID = cq.Message.Chat.ID
		}
		return Event{
			Kind:       EventCallback,
			UserID:     cq.From.ID,
			ChatID:     chatID,
			CallbackID: cq.ID,
			Data:       cq.Data,
		}, true
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return Event{}, false
	}
	ev := Event{Kind: EventText, UserID: msg.From.ID, ChatID: msg.Chat.ID, Text: msg.Text}
	if name, args, ok := ParseCommand(msg.Text); ok {
		ev.Kind = EventCommand
		ev.Command = name
		ev.Text = args
	}
	return ev, true
}

// ParseCommand splits "/name@bot args" into name and args.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
