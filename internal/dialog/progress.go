package dialog

import (
	"context"
	"strings"
	"time"

	"github.com/ashureev/metacards/internal/transport"
)

// Pacer spaces out progress updates.
type Pacer interface {
	Pause(ctx context.Context, d time.Duration) error
}

// TimerPacer waits on a real timer.
type TimerPacer struct{}

// Pause waits for d or until ctx is done.
func (TimerPacer) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoPacer never waits.
type NoPacer struct{}

// Pause returns immediately.
func (NoPacer) Pause(context.Context, time.Duration) error { return nil }

// progress is a status message that grows one line per stage and is
// removed when the work is done. Every failure here is cosmetic.
type progress struct {
	e      *Engine
	chatID int64
	msgID  int
	header string
	lines  []string
}

func (e *Engine) startProgress(ctx context.Context, chatID int64, header, first string) *progress {
	p := &progress{e: e, chatID: chatID, header: header}
	id, err := e.sender.SendMessage(ctx, chatID, header+"\n\n⏳ Пожалуйста, подожди...", transport.MessageOptions{HTML: true})
	if err != nil {
		e.log.Debug("Progress message not sent", "chat_id", chatID, "error", err)
	}
	p.msgID = id
	if first != "" {
		p.step(ctx, first)
	}
	return p
}

func (p *progress) text() string {
	return p.header + "\n\n" + strings.Join(p.lines, "\n")
}

// step appends a line. When the edit fails the text goes out as a new
// message, which then becomes the one to edit.
func (p *progress) step(ctx context.Context, line string) {
	p.e.typing(ctx, p.chatID)
	if err := p.e.pacer.Pause(ctx, p.e.opts.ProgressDelay); err != nil {
		return
	}
	p.lines = append(p.lines, line)
	opts := transport.MessageOptions{HTML: true}

	if p.msgID != 0 {
		err := p.e.sender.EditMessage(ctx, p.chatID, p.msgID, p.text(), opts)
		if err == nil {
			return
		}
		p.e.log.Debug("Progress edit failed, sending new message", "chat_id", p.chatID, "error", err)
	}
	id, err := p.e.sender.SendMessage(ctx, p.chatID, p.text(), opts)
	if err != nil {
		p.e.log.Debug("Progress message not sent", "chat_id", p.chatID, "error", err)
		return
	}
	p.msgID = id
}

func (p *progress) done(ctx context.Context) {
	if p.msgID == 0 {
		return
	}
	if err := p.e.sender.DeleteMessage(ctx, p.chatID, p.msgID); err != nil {
		p.e.log.Debug("Progress message not deleted", "chat_id", p.chatID, "error", err)
	}
}
