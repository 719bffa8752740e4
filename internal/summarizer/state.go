package summarizer

import (
	"context"
	"strings"

	"paperlens/internal/domain"
)

const FailureMessage = "Failed to generate summary. Please check your API key or try a different file."

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRequesting Phase = "requesting"
	PhaseStreaming  Phase = "streaming"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// State is the observable progress of one summary request.
type State struct {
	Phase        Phase
	Text         string
	ErrorMessage string
}

// InFlight reports whether a new request must be refused.
func (s State) InFlight() bool {
	return s.Phase == PhaseRequesting || s.Phase == PhaseStreaming
}

func (s State) Finished() bool {
	return s.Phase == PhaseDone || s.Phase == PhaseFailed
}

// Run drives one summary request from requesting to done or failed,
// calling update after every state change. The returned error carries
// the raw cause of a failure and is meant for diagnostics only.
func (o *Orchestrator) Run(
	ctx context.Context,
	payload domain.Payload,
	update func(State),
) (State, error) {
	if update == nil {
		update = func(State) {}
	}

	state := State{Phase: PhaseRequesting}
	update(state)

	stream, err := o.Summarize(ctx, payload)
	if err != nil {
		return o.fail(ctx, state, err, update), err
	}

	var text strings.Builder

	for fragment, err := range stream {
		if err != nil {
			return o.fail(ctx, state, err, update), err
		}

		if state.Phase == PhaseRequesting {
			state.Phase = PhaseStreaming
			if fragment == "" {
				update(state)
			}
		}

		if fragment == "" {
			continue
		}

		text.WriteString(fragment)
		state.Text = text.String()
		update(state)
	}

	if state.Phase == PhaseRequesting {
		state.Phase = PhaseStreaming
		update(state)
	}

	state.Phase = PhaseDone
	update(state)

	o.log.InfoContext(ctx, "Summary is generated",
		"chars", len(state.Text))

	return state, nil
}

func (o *Orchestrator) fail(
	ctx context.Context,
	state State,
	err error,
	update func(State),
) State {
	o.log.ErrorContext(ctx, "Failed to generate summary",
		"error", err,
		"phase", state.Phase,
		"chars", len(state.Text))

	state.Phase = PhaseFailed
	state.ErrorMessage = FailureMessage
	update(state)

	return state
}
