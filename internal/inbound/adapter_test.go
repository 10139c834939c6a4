// ABOUTME: Tests for the inbound adapter's resolve-then-run flow and fail-soft replies
// ABOUTME: Includes an end-to-end timeout through the real orchestrator

package inbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/clinic-gateway/internal/orchestrator"
	"github.com/2389/clinic-gateway/internal/registry"
)

type stubResolver struct {
	id  string
	err error
}

func (s stubResolver) Resolve(context.Context, string) (string, error) {
	return s.id, s.err
}

type stubRunner struct {
	reply   string
	err     error
	gotConv string
	gotText string
}

func (s *stubRunner) Run(_ context.Context, conversationID, text string) (string, error) {
	s.gotConv, s.gotText = conversationID, text
	return s.reply, s.err
}

func TestHandleIncomingText_Success(t *testing.T) {
	runner := &stubRunner{reply: "You're booked for Monday at 9:00 AM."}
	adapter := New(stubResolver{id: "thread_1"}, runner, nil)

	got := adapter.HandleIncomingText(context.Background(), "whatsapp:15550100", "Book Monday 9am")
	assert.Equal(t, "You're booked for Monday at 9:00 AM.", got)
	assert.Equal(t, "thread_1", runner.gotConv)
	assert.Equal(t, "Book Monday 9am", runner.gotText)
}

func TestHandleIncomingText_ResolveFailure(t *testing.T) {
	runner := &stubRunner{}
	adapter := New(stubResolver{err: errors.New("creating conversation: 401, Body: bad key")}, runner, nil)

	got := adapter.HandleIncomingText(context.Background(), "user", "hi")
	assert.Equal(t, "Error: creating conversation: 401, Body: bad key", got)
	assert.Empty(t, runner.gotConv)
}

func TestHandleIncomingText_RunFailure(t *testing.T) {
	adapter := New(stubResolver{id: "thread_1"}, &stubRunner{err: &orchestrator.RunError{
		Kind: orchestrator.KindFailed, Status: orchestrator.StatusFailed,
	}}, nil)

	got := adapter.HandleIncomingText(context.Background(), "user", "hi")
	assert.Equal(t, "Error: Run failed with status: failed", got)
}

// stuckBackend never leaves in_progress.
type stuckBackend struct {
	created int
	polls   int
}

func (b *stuckBackend) CreateConversation(context.Context) (string, error) {
	b.created++
	return "thread_stuck", nil
}

func (b *stuckBackend) AppendMessage(context.Context, string, string) error { return nil }

func (b *stuckBackend) StartRun(context.Context, string) (*orchestrator.Run, error) {
	return &orchestrator.Run{ID: "run_1", Status: orchestrator.StatusQueued}, nil
}

func (b *stuckBackend) GetRun(_ context.Context, _, runID string) (*orchestrator.Run, error) {
	b.polls++
	return &orchestrator.Run{ID: runID, Status: orchestrator.StatusInProgress}, nil
}

func (b *stuckBackend) SubmitToolOutputs(context.Context, string, string, []orchestrator.ToolOutput) (*orchestrator.Run, error) {
	return nil, errors.New("unexpected submit")
}

func (b *stuckBackend) ListMessages(context.Context, string) ([]orchestrator.Message, error) {
	return nil, errors.New("unexpected list")
}

type noTools struct{}

func (noTools) Dispatch(context.Context, string, string) (string, bool) { return "", false }

func TestHandleIncomingText_TimeoutIsFailSoft(t *testing.T) {
	backend := &stuckBackend{}
	var slept []time.Duration
	orch := orchestrator.New(backend, noTools{}, nil,
		orchestrator.WithSleeper(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))
	adapter := New(registry.New(nil, backend, nil), orch, nil)

	got := adapter.HandleIncomingText(context.Background(), "user-1", "hello")
	assert.Equal(t, "Error: Run timed out", got)
	assert.Equal(t, 30, backend.polls)
	require.Len(t, slept, 30)
	assert.Equal(t, time.Second, slept[0])

	// The conversation survives the failed turn.
	adapter.HandleIncomingText(context.Background(), "user-1", "again")
	assert.Equal(t, 1, backend.created)
}
