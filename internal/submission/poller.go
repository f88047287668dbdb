// Package submission drives a created submission to its terminal grading
// state and maps the result to a UI-facing outcome.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkivela/lmsc/internal/model"
)

// DefaultInterval is the fixed delay between grading polls.
const DefaultInterval = 500 * time.Millisecond

// ErrPollLimit is returned when a poll cap is configured and reached before
// the submission turned terminal.
var ErrPollLimit = errors.New("submission still waiting after poll limit")

// State is the poll chain's position in its lifecycle. Only one chain may
// be active per submission attempt; callers disable the submit control
// while the state is StateSubmitted or StatePolling.
type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateTerminal  State = "terminal"
)

// FetchFunc fetches one submission record by id.
type FetchFunc func(ctx context.Context, id int64) (*model.SubmissionRecord, error)

// Poller repolls a submission at a fixed interval until it reaches a
// terminal grading state. There is no backoff and, by default, no retry
// cap: polling continues until the record turns terminal or the context is
// cancelled. Cancelling the context stops the pending repoll timer, so a
// view being torn down never leaks a scheduled fetch.
type Poller struct {
	Fetch    FetchFunc
	Interval time.Duration // zero means DefaultInterval
	MaxPolls int           // zero means unlimited
	OnState  func(State)   // optional state observer
}

func (p *Poller) setState(s State) {
	if p.OnState != nil {
		p.OnState(s)
	}
}

// Wait fetches the submission until it is terminal and returns the terminal
// record. A waiting record schedules exactly one re-fetch after the fixed
// interval.
func (p *Poller) Wait(ctx context.Context, id int64) (*model.SubmissionRecord, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.setState(StatePolling)
	for n := 1; ; n++ {
		rec, err := p.Fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("poll submission %d: %w", id, err)
		}
		if rec.Terminal() {
			p.setState(StateTerminal)
			slog.Debug("submission terminal", "submission_id", id, "status", rec.Status, "polls", n)
			return rec, nil
		}
		if p.MaxPolls > 0 && n >= p.MaxPolls {
			return nil, ErrPollLimit
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Run submits via submit, then polls the returned reference to a terminal
// record and reconciles it. refresh runs unconditionally after
// reconciliation so counters and point summaries are re-fetched from the
// server.
func (p *Poller) Run(ctx context.Context, submit func(ctx context.Context) (int64, error), refresh func()) (*Outcome, error) {
	p.setState(StateSubmitted)
	id, err := submit(ctx)
	if err != nil {
		p.setState(StateIdle)
		return nil, err
	}
	rec, err := p.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	return Reconcile(rec, refresh)
}
