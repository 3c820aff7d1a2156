package question

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrRequestInFlight reports that a generation call of the same mode is
// already running; the caller simply skips this trigger.
var ErrRequestInFlight = errors.New("question request already in flight")

// Asker performs the engine's validate and next-question requests against the
// generation backend. One request of each mode runs at a time; a failed
// next-question call is answered from the local pool so the dialogue keeps
// moving.
type Asker struct {
	gen  Generator
	pool *Pool
	log  *slog.Logger

	validateInFlight atomic.Bool
	nextInFlight     atomic.Bool
}

func NewAsker(gen Generator, log *slog.Logger) *Asker {
	if log == nil {
		log = slog.Default()
	}
	return &Asker{
		gen:  gen,
		pool: NewPool(),
		log:  log.With("component", "question_asker"),
	}
}

// Validate asks the backend whether the recent speech answers the current
// question.
func (a *Asker) Validate(ctx context.Context, req Request) (bool, error) {
	if !a.validateInFlight.CompareAndSwap(false, true) {
		return false, ErrRequestInFlight
	}
	defer a.validateInFlight.Store(false)

	req.Mode = ModeValidate
	resp, err := a.gen.Generate(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Answered != nil && *resp.Answered, nil
}

// Next fetches the next question. The second return value reports whether the
// local fallback pool supplied it.
func (a *Asker) Next(ctx context.Context, req Request) (*NextQuestion, bool, error) {
	if !a.nextInFlight.CompareAndSwap(false, true) {
		return nil, false, ErrRequestInFlight
	}
	defer a.nextInFlight.Store(false)

	req.Mode = ModeNext
	resp, err := a.gen.Generate(ctx, req)
	if err != nil || resp.NextQuestion == nil {
		if err != nil {
			a.log.Warn("generation request failed, using fallback pool", "error", err)
		}
		q := a.pool.Next(req.PreferredKind)
		return &q, true, nil
	}
	return resp.NextQuestion, resp.FallbackUsed, nil
}
