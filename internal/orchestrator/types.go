// ABOUTME: Run, action and message types exchanged with the assistant backend
// ABOUTME: Declares the Backend and Dispatcher interfaces the orchestrator consumes

package orchestrator

import "context"

// RunStatus is the backend-reported state of a run.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
	StatusIncomplete     RunStatus = "incomplete"
)

// Run is the orchestrator's view of one backend run.
type Run struct {
	ID             string
	Status         RunStatus
	PendingActions []PendingAction
	// LastError carries the backend's explanation for a failed run.
	LastError string
}

// PendingAction is a function call the backend wants answered.
type PendingAction struct {
	ID        string
	Function  string
	Arguments string
}

// ToolOutput answers one PendingAction.
type ToolOutput struct {
	ActionID string
	Output   string
}

// RoleAssistant marks messages written by the assistant.
const RoleAssistant = "assistant"

// NoContentReply is returned when the assistant's reply carries no text.
const NoContentReply = "No response content"

// Message is a conversation message as returned by the backend.
type Message struct {
	Role  string
	RunID string
	Text  string
}

// Backend is the remote conversational service.
type Backend interface {
	AppendMessage(ctx context.Context, conversationID, text string) error
	StartRun(ctx context.Context, conversationID string) (*Run, error)
	GetRun(ctx context.Context, conversationID, runID string) (*Run, error)
	SubmitToolOutputs(ctx context.Context, conversationID, runID string, outputs []ToolOutput) (*Run, error)
	// ListMessages returns the conversation's messages, newest first.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// Dispatcher executes a function call. handled is false for functions it
// does not know, which then receive no output.
type Dispatcher interface {
	Dispatch(ctx context.Context, function, arguments string) (output string, handled bool)
}
