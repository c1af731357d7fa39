package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxCards is the most cards one session can draw.
const MaxCards = 4

var (
	// ErrCardExists is returned when a card position is already filled.
	ErrCardExists = errors.New("card already drawn")
	// ErrCardOutOfOrder is returned when earlier positions are still empty.
	ErrCardOutOfOrder = errors.New("card drawn out of order")
)

// Session is one user's conversation state.
type Session struct {
	UserID           int64     `json:"user_id"`
	ChatID           int64     `json:"chat_id"`
	RunID            string    `json:"run_id"`
	State            State     `json:"state"`
	StateDescription string    `json:"state_description"`
	Metaphor         string    `json:"metaphor"`
	Cards            []Card    `json:"cards"`
	Responses        []string  `json:"responses"`
	Analysis         string    `json:"analysis,omitempty"`
	Recommendations  string    `json:"recommendations,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewSession returns a fresh IDLE session with a new run ID.
func NewSession(userID int64, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		RunID:        newRunID(),
		State:        StateIdle,
		StartedAt:    now,
		LastActivity: now,
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Cards != nil {
		c.Cards = make([]Card, len(s.Cards))
		copy(c.Cards, s.Cards)
	}
	if s.Responses != nil {
		c.Responses = make([]string, len(s.Responses))
		copy(c.Responses, s.Responses)
	}
	return &c
}

// Advance moves the session along one edge of the flow graph. Entering a
// card-reply state requires the matching number of cards.
func (s *Session) Advance(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	if need := CardsRequired(to); need > 0 && len(s.Cards) != need {
		return fmt.Errorf("%w: %s needs %d cards, have %d", ErrInvalidTransition, to, need, len(s.Cards))
	}
	s.State = to
	return nil
}

// AddCard stores c at position pos. Cards are filled strictly in order and
// never replaced.
func (s *Session) AddCard(pos int, c Card) error {
	switch {
	case pos < 0 || pos >= MaxCards:
		return fmt.Errorf("card position %d out of range", pos)
	case pos < len(s.Cards):
		return fmt.Errorf("%w: position %d", ErrCardExists, pos)
	case pos > len(s.Cards):
		return fmt.Errorf("%w: position %d, have %d", ErrCardOutOfOrder, pos, len(s.Cards))
	}
	s.Cards = append(s.Cards, c)
	return nil
}

// CardAt returns the card at pos if it has been drawn.
func (s *Session) CardAt(pos int) (Card, bool) {
	if pos < 0 || pos >= len(s.Cards) {
		return Card{}, false
	}
	return s.Cards[pos], true
}

// Response returns the user's reply to card pos, or "".
func (s *Session) Response(pos int) string {
	if pos < 0 || pos >= len(s.Responses) {
		return ""
	}
	return s.Responses[pos]
}

// SetResponse records the reply to card pos, replacing an earlier reply
// to the same card when the step is retried.
func (s *Session) SetResponse(pos int, text string) {
	for len(s.Responses) <= pos {
		s.Responses = append(s.Responses, "")
	}
	s.Responses[pos] = text
}

// Touch moves LastActivity forward. It never moves it back.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}
