// ABOUTME: Run orchestration state machine: submit, poll, answer tool calls, fetch the reply
// ABOUTME: Poll timing is injectable so state transitions can be tested without real delays

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Defaults for the waiting phase.
const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator runs assistant turns against a Backend.
type Orchestrator struct {
	backend      Backend
	dispatcher   Dispatcher
	logger       *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
	sleep        Sleeper
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval sets the delay before each status poll.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxAttempts sets the number of polls allowed per waiting phase.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithSleeper replaces the poll delay implementation.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// New creates an Orchestrator.
func New(backend Backend, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		backend:      backend,
		dispatcher:   dispatcher,
		logger:       logger.With("component", "orchestrator"),
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type state int

const (
	stateWaiting state = iota
	stateActing
	stateFetching
)

func (s state) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateActing:
		return "acting"
	case stateFetching:
		return "fetching"
	}
	return "unknown"
}

// turn is the mutable state of one Run call.
type turn struct {
	conversationID string
	run            *Run
	state          state
	attempts       int
	logger         *slog.Logger
}

// Run submits text to the conversation and drives one run to completion.
// It returns the assistant's reply or a *RunError.
func (o *Orchestrator) Run(ctx context.Context, conversationID, text string) (string, error) {
	if err := o.backend.AppendMessage(ctx, conversationID, text); err != nil {
		return "", o.callError(ctx, "add message", err)
	}

	run, err := o.backend.StartRun(ctx, conversationID)
	if err != nil {
		return "", o.callError(ctx, "start run", err)
	}
	if run == nil || run.ID == "" {
		return "", protocolError("backend returned a run without an id")
	}

	t := &turn{
		conversationID: conversationID,
		run:            run,
		state:          stateWaiting,
		logger:         o.logger.With("conversation_id", conversationID, "run_id", run.ID),
	}
	t.logger.Debug("run started", "status", run.Status)

	for {
		var (
			reply string
			done  bool
		)
		switch t.state {
		case stateWaiting:
			err = o.wait(ctx, t)
		case stateActing:
			err = o.act(ctx, t)
		case stateFetching:
			reply, err = o.fetch(ctx, t)
			done = err == nil
		}
		if err != nil {
			var runErr *RunError
			if errors.As(err, &runErr) && runErr.RunID == "" {
				runErr.RunID = t.run.ID
			}
			t.logger.Warn("run ended without a reply", "state", t.state, "error", err)
			return "", err
		}
		if done {
			t.logger.Debug("run completed")
			return reply, nil
		}
	}
}

// wait performs one poll attempt and picks the next state.
func (o *Orchestrator) wait(ctx context.Context, t *turn) error {
	if t.attempts >= o.maxAttempts {
		return &RunError{Kind: KindTimeout, Status: t.run.Status}
	}

	if err := o.sleep(ctx, o.pollInterval); err != nil {
		return &RunError{Kind: KindInterrupted, Err: err}
	}
	t.attempts++

	run, err := o.backend.GetRun(ctx, t.conversationID, t.run.ID)
	if err != nil {
		return o.callError(ctx, "get run status", err)
	}
	t.run = run

	switch run.Status {
	case StatusQueued, StatusInProgress, StatusCancelling:
		return nil
	case StatusRequiresAction:
		t.state = stateActing
		return nil
	case StatusCompleted:
		t.state = stateFetching
		return nil
	case StatusFailed, StatusIncomplete:
		return &RunError{Kind: KindFailed, Status: run.Status, Detail: run.LastError}
	case StatusCancelled:
		return &RunError{Kind: KindCancelled, Status: run.Status, Detail: run.LastError}
	case StatusExpired:
		return &RunError{Kind: KindExpired, Status: run.Status, Detail: run.LastError}
	default:
		return protocolError(fmt.Sprintf("unknown run status %q", run.Status))
	}
}

// act answers every pending action and re-enters waiting with a fresh budget.
func (o *Orchestrator) act(ctx context.Context, t *turn) error {
	actions := t.run.PendingActions
	if len(actions) == 0 {
		return protocolError("run requires action but carries no tool calls")
	}

	outputs := make([]ToolOutput, 0, len(actions))
	for _, action := range actions {
		output, handled := o.dispatcher.Dispatch(ctx, action.Function, action.Arguments)
		if !handled {
			t.logger.Warn("no output for unrecognized tool call", "function", action.Function, "action_id", action.ID)
			continue
		}
		outputs = append(outputs, ToolOutput{ActionID: action.ID, Output: output})
	}

	if _, err := o.backend.SubmitToolOutputs(ctx, t.conversationID, t.run.ID, outputs); err != nil {
		return o.callError(ctx, "submit tool outputs", err)
	}
	t.logger.Debug("submitted tool outputs", "count", len(outputs), "polls_used", t.attempts)

	t.state = stateWaiting
	t.attempts = 0
	return nil
}

// fetch returns the newest assistant message, preferring one from this run.
func (o *Orchestrator) fetch(ctx context.Context, t *turn) (string, error) {
	messages, err := o.backend.ListMessages(ctx, t.conversationID)
	if err != nil {
		return "", o.callError(ctx, "get messages", err)
	}

	var reply *Message
	for i := range messages {
		m := &messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		if m.RunID == t.run.ID {
			reply = m
			break
		}
		if reply == nil {
			reply = m
		}
	}

	if reply == nil {
		return "", protocolError("No assistant response found")
	}
	if reply.Text == "" {
		t.logger.Warn("assistant message has no text content")
		return NoContentReply, nil
	}
	return reply.Text, nil
}

// callError classifies a failed backend call.
func (o *Orchestrator) callError(ctx context.Context, op string, err error) *RunError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &RunError{Kind: KindInterrupted, Op: op, Err: err}
	}
	return transportError(op, err)
}
