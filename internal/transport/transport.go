// Package transport defines the chat transport boundary and its Telegram
// implementation.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// EventKind tells inbound events apart.
type EventKind int

// Inbound event kinds.
const (
	EventText EventKind = iota
	EventCommand
	EventCallback
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventCommand:
		return "command"
	case EventCallback:
		return "callback"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one inbound update.
type Event struct {
	Kind       EventKind
	UserID     int64
	ChatID     int64
	Text       string // message text, or command arguments
	Command    string // command name without the slash
	CallbackID string
	Data       string // callback payload
}

// Button is an inline keyboard button.
type Button struct {
	Text string
	Data string
}

// MessageOptions controls formatting of outbound messages.
type MessageOptions struct {
	HTML    bool
	Buttons [][]Button
}

// Sender is the outbound side of the chat transport.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts MessageOptions) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, opts MessageOptions) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendPhoto(ctx context.Context, chatID int64, path, caption string, opts MessageOptions) error
	SendTyping(ctx context.Context, chatID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Handler consumes inbound events.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// ErrDelivery matches every DeliveryError.
var ErrDelivery = errors.New("delivery failed")

// DeliveryError reports a failed outbound call.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() []error { return []error{ErrDelivery, e.Err} }
