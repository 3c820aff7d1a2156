package question

import (
	"fmt"
	"time"

	"github.com/auralog/voicejournal/internal/shared"
)

// Kind classifies a question relative to the running dialogue.
type Kind string

const (
	KindDefault  Kind = "default"
	KindFollowUp Kind = "follow-up"
	KindNewTopic Kind = "new-topic"
)

// Status is the lifecycle state of an asked question. Answered and ignored are
// terminal.
type Status string

const (
	StatusShown             Status = "shown"
	StatusPendingValidation Status = "pending_validation"
	StatusAnswered          Status = "answered"
	StatusIgnored           Status = "ignored"
)

// Item is one question shown to the user during a capture session.
type Item struct {
	ID           string
	Text         string
	CoverageTag  string
	Kind         Kind
	Status       Status
	AskedAt      time.Time
	AnsweredText string
}

func NewItem(text, coverageTag string, kind Kind, askedAt time.Time) *Item {
	return &Item{
		ID:          shared.NewID("qst"),
		Text:        text,
		CoverageTag: coverageTag,
		Kind:        kind,
		Status:      StatusShown,
		AskedAt:     askedAt,
	}
}

// BeginValidation moves the item into pending validation while the answer is
// checked.
func (i *Item) BeginValidation() error {
	if i.Status != StatusShown {
		return fmt.Errorf("question %s: cannot validate from status %q", i.ID, i.Status)
	}
	i.Status = StatusPendingValidation
	return nil
}

// MarkAnswered resolves a pending validation positively. Terminal.
func (i *Item) MarkAnswered(answeredText string) error {
	if i.Status != StatusPendingValidation {
		return fmt.Errorf("question %s: cannot answer from status %q", i.ID, i.Status)
	}
	i.Status = StatusAnswered
	i.AnsweredText = answeredText
	return nil
}

// ReturnToShown resolves a pending validation negatively; the question stays
// on screen.
func (i *Item) ReturnToShown() error {
	if i.Status != StatusPendingValidation {
		return fmt.Errorf("question %s: cannot reshow from status %q", i.ID, i.Status)
	}
	i.Status = StatusShown
	return nil
}

// Ignore retires a shown question without an answer, e.g. on refresh.
// Terminal.
func (i *Item) Ignore() error {
	if i.Status != StatusShown {
		return fmt.Errorf("question %s: cannot ignore from status %q", i.ID, i.Status)
	}
	i.Status = StatusIgnored
	return nil
}

// Terminal reports whether the item can never be shown again.
func (i *Item) Terminal() bool {
	return i.Status == StatusAnswered || i.Status == StatusIgnored
}

// History is the append-only record of every question asked this session, in
// ask order. Items are updated in place, never removed.
type History struct {
	items []*Item
}

func (h *History) Append(item *Item) {
	h.items = append(h.items, item)
}

func (h *History) Len() int {
	return len(h.items)
}

func (h *History) Items() []*Item {
	out := make([]*Item, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Last() *Item {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[len(h.items)-1]
}

// LastKinds returns the kinds of the most recent n items, oldest first.
func (h *History) LastKinds(n int) []Kind {
	if n > len(h.items) {
		n = len(h.items)
	}
	kinds := make([]Kind, 0, n)
	for _, item := range h.items[len(h.items)-n:] {
		kinds = append(kinds, item.Kind)
	}
	return kinds
}
