package question

import (
	"strings"
	"sync"
	"time"

	"github.com/auralog/voicejournal/internal/transcript"
)

// Proactivity controls how eagerly the dialogue injects new questions.
type Proactivity string

const (
	ProactivityLow    Proactivity = "low"
	ProactivityMedium Proactivity = "medium"
	ProactivityHigh   Proactivity = "high"
)

// Interval returns the minimum time between questions for this setting.
func (p Proactivity) Interval() time.Duration {
	switch p {
	case ProactivityHigh:
		return 20 * time.Second
	case ProactivityMedium:
		return 30 * time.Second
	default:
		return 45 * time.Second
	}
}

// Reason records why the engine wants a new question.
type Reason string

const (
	ReasonInterval Reason = "interval"
	ReasonSilence  Reason = "silence"
	ReasonRefresh  Reason = "refresh"
)

const (
	// A shown question needs at least this many new spoken words before its
	// answer is worth validating.
	minAnswerWords = 6

	// No transcript movement for this long counts as a silence episode.
	silenceThreshold = 4500 * time.Millisecond
)

// Action is what the engine asks the host to do next.
type Action interface {
	isAction()
}

// ActionValidate asks the host to check whether RecentText answers the
// current question.
type ActionValidate struct {
	RecentText string
}

// ActionAsk asks the host to fetch the next question.
type ActionAsk struct {
	Reason     Reason
	RecentText string
}

func (ActionValidate) isAction() {}
func (ActionAsk) isAction()      {}

// Engine is the pure questioning policy. It consumes transcript updates and
// timer polls and decides when to validate an answer or request the next
// question; it performs no I/O itself. Time always arrives as an argument so
// tests control the clock.
type Engine struct {
	mu sync.Mutex

	proactivity Proactivity
	history     History

	current     *Item
	lastAskedAt time.Time

	lastTranscript  string
	lastUpdate      time.Time
	wordsAtAsk      int
	silenceNotified bool
}

func NewEngine(proactivity Proactivity, startedAt time.Time) *Engine {
	return &Engine{
		proactivity: proactivity,
		lastAskedAt: startedAt,
		lastUpdate:  startedAt,
	}
}

// OnTranscript consumes a transcript update. Decisions only fire when the text
// ends at a sentence boundary, so half-spoken thoughts are not interrupted.
func (e *Engine) OnTranscript(text string, now time.Time) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	if text != e.lastTranscript {
		e.lastTranscript = text
		e.lastUpdate = now
		e.silenceNotified = false
	}

	if !transcript.EndsAtBoundary(text) {
		return nil
	}

	recent := e.recentTextLocked()

	if e.current != nil && e.current.Status == StatusShown {
		newWords := countWords(text) - e.wordsAtAsk
		if newWords >= minAnswerWords && (containsAnswerMarker(recent) || containsQuestionKeyword(recent, e.current.Text)) {
			e.current.BeginValidation()
			return ActionValidate{RecentText: recent}
		}
	}

	if e.intervalElapsedLocked(now) && e.askableLocked() {
		return ActionAsk{Reason: ReasonInterval, RecentText: recent}
	}
	return nil
}

// OnSilenceCheck is polled by the host a couple of times per second. It fires
// at most once per silence episode.
func (e *Engine) OnSilenceCheck(now time.Time) Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.silenceNotified {
		return nil
	}
	if now.Sub(e.lastUpdate) < silenceThreshold {
		return nil
	}
	if !e.intervalElapsedLocked(now) || !e.askableLocked() {
		return nil
	}

	e.silenceNotified = true
	return ActionAsk{Reason: ReasonSilence, RecentText: e.recentTextLocked()}
}

// Refresh retires the current question and requests a replacement. The
// retired question is terminal: it never returns to the screen.
func (e *Engine) Refresh() Action {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		if e.current.Status == StatusPendingValidation {
			// A question mid-validation keeps the screen until the outcome
			// lands.
			return nil
		}
		if e.current.Status == StatusShown {
			e.current.Ignore()
		}
		e.current = nil
	}
	return ActionAsk{Reason: ReasonRefresh, RecentText: e.recentTextLocked()}
}

// QuestionShown records that the host displayed a new question. Resets the
// new-word marker so answer detection measures speech after this moment.
// Returns false without installing when the on-screen question entered
// validation while the replacement was being fetched; the host must drop the
// fetched question in that case.
func (e *Engine) QuestionShown(item *Item) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.askableLocked() {
		return false
	}
	e.current = item
	e.history.Append(item)
	e.lastAskedAt = item.AskedAt
	e.wordsAtAsk = countWords(e.lastTranscript)
	return true
}

// ValidationResolved applies the outcome of a validate request. answered moves
// the question to its terminal state; otherwise it returns to shown and the
// word marker advances so the same words cannot re-trigger validation.
func (e *Engine) ValidationResolved(answered bool, answeredText string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.current.Status != StatusPendingValidation {
		return
	}
	if answered {
		e.current.MarkAnswered(answeredText)
		return
	}
	e.current.ReturnToShown()
	e.wordsAtAsk = countWords(e.lastTranscript)
}

// PreferredNextKind picks the kind for the next question. Refresh always
// rotates to a new topic, as does any repetition of the last two kinds, so the
// dialogue never asks a third consecutive follow-up.
func (e *Engine) PreferredNextKind(reason Reason) Kind {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reason == ReasonRefresh {
		return KindNewTopic
	}

	if kinds := e.history.LastKinds(2); len(kinds) == 2 && kinds[0] == kinds[1] {
		return KindNewTopic
	}

	if last := e.history.Last(); last != nil && last.Status == StatusAnswered {
		return KindFollowUp
	}
	return KindDefault
}

// Current returns the question currently on screen, nil when none.
func (e *Engine) Current() *Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// CurrentStatus reads the on-screen question's status under the engine lock.
func (e *Engine) CurrentStatus() (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return "", false
	}
	return e.current.Status, true
}

// History returns a snapshot of every question asked so far, in ask order.
func (e *Engine) History() []*Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Items()
}

func (e *Engine) intervalElapsedLocked(now time.Time) bool {
	return now.Sub(e.lastAskedAt) >= e.proactivity.Interval()
}

// askableLocked: a question mid-validation or already resolved blocks new asks
// until the host records the outcome.
func (e *Engine) askableLocked() bool {
	return e.current == nil || e.current.Status == StatusShown
}

// recentTextLocked returns the words spoken since the current question was
// shown, the raw material for validation and generation requests.
func (e *Engine) recentTextLocked() string {
	words := strings.Fields(e.lastTranscript)
	if e.wordsAtAsk >= len(words) {
		return ""
	}
	return strings.Join(words[e.wordsAtAsk:], " ")
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// Phrases that typically open a direct answer.
var answerMarkers = []string{
	"i think",
	"i guess",
	"i feel",
	"i felt",
	"because",
	"honestly",
	"i mean",
	"for me",
	"the answer is",
	"well, ",
}

func containsAnswerMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range answerMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// containsQuestionKeyword reports whether the spoken text echoes a content
// word from the question itself.
func containsQuestionKeyword(text, questionText string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range extractKeywords(questionText) {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func extractKeywords(questionText string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(questionText)) {
		word = strings.Trim(word, ".,!?\"'():;")
		if len(word) < 4 || stopwords[word] {
			continue
		}
		keywords = append(keywords, word)
	}
	return keywords
}

var stopwords = map[string]bool{
	"what": true, "when": true, "where": true, "which": true, "whom": true,
	"this": true, "that": true, "these": true, "those": true,
	"with": true, "from": true, "into": true, "about": true, "over": true,
	"your": true, "yours": true, "yourself": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"would": true, "could": true, "should": true, "will": true,
	"been": true, "being": true, "were": true,
	"there": true, "their": true, "them": true, "they": true,
	"tell": true, "describe": true, "anything": true, "something": true,
	"more": true, "most": true, "some": true, "today": true,
}
