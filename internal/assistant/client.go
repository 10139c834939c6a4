// ABOUTME: OpenAI Assistants v2 client implementing the orchestrator backend
// ABOUTME: Maps SDK threads, runs and messages onto orchestrator types

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389/clinic-gateway/internal/orchestrator"
)

// messagePageSize bounds how many recent messages are read per fetch.
const messagePageSize = 20

// Config holds the settings needed to reach the assistant.
type Config struct {
	APIKey         string
	AssistantID    string
	BaseURL        string
	RequestTimeout time.Duration
	MaxRetries     int
	HTTPClient     *http.Client
}

// TransportError is a non-2xx response or connection failure.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%d, Body: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to the Assistants API.
type Client struct {
	sdk         openai.Client
	assistantID string
	logger      *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("assistant api key is required")
	}
	if cfg.AssistantID == "" {
		return nil, errors.New("assistant id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("OpenAI-Beta", "assistants=v2"),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		sdk:         openai.NewClient(opts...),
		assistantID: cfg.AssistantID,
		logger:      logger.With("component", "assistant"),
	}, nil
}

// CreateConversation opens a new thread.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	thread, err := c.sdk.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", wrapError("create thread", err)
	}
	c.logger.Debug("created thread", "thread_id", thread.ID)
	return thread.ID, nil
}

// AppendMessage adds a user message to the thread.
func (c *Client) AppendMessage(ctx context.Context, conversationID, text string) error {
	_, err := c.sdk.Beta.Threads.Messages.New(ctx, conversationID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return wrapError("add message", err)
	}
	return nil
}

// StartRun starts the configured assistant on the thread.
func (c *Client) StartRun(ctx context.Context, conversationID string) (*orchestrator.Run, error) {
	run, err := c.sdk.Beta.Threads.Runs.New(ctx, conversationID, openai.BetaThreadRunNewParams{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return nil, wrapError("start run", err)
	}
	return toRun(run), nil
}

// GetRun reads the run's current status.
func (c *Client) GetRun(ctx context.Context, conversationID, runID string) (*orchestrator.Run, error) {
	run, err := c.sdk.Beta.Threads.Runs.Get(ctx, conversationID, runID)
	if err != nil {
		return nil, wrapError("get run status", err)
	}
	return toRun(run), nil
}

// SubmitToolOutputs answers the run's pending tool calls in one request.
func (c *Client) SubmitToolOutputs(ctx context.Context, conversationID, runID string, outputs []orchestrator.ToolOutput) (*orchestrator.Run, error) {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(out.ActionID),
			Output:     openai.String(out.Output),
		})
	}

	run, err := c.sdk.Beta.Threads.Runs.SubmitToolOutputs(ctx, conversationID, runID, params)
	if err != nil {
		return nil, wrapError("submit tool outputs", err)
	}
	return toRun(run), nil
}

// ListMessages returns the most recent messages, newest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]orchestrator.Message, error) {
	page, err := c.sdk.Beta.Threads.Messages.List(ctx, conversationID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(messagePageSize),
	})
	if err != nil {
		return nil, wrapError("get messages", err)
	}

	messages := make([]orchestrator.Message, 0, len(page.Data))
	for _, m := range page.Data {
		messages = append(messages, orchestrator.Message{
			Role:  string(m.Role),
			RunID: m.RunID,
			Text:  firstText(m),
		})
	}
	return messages, nil
}

func toRun(run *openai.Run) *orchestrator.Run {
	out := &orchestrator.Run{
		ID:        run.ID,
		Status:    orchestrator.RunStatus(run.Status),
		LastError: run.LastError.Message,
	}
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		out.PendingActions = append(out.PendingActions, orchestrator.PendingAction{
			ID:        call.ID,
			Function:  call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}

// firstText returns the first text content block of a message.
func firstText(m openai.Message) string {
	for _, content := range m.Content {
		if content.Type == "text" {
			return content.Text.Value
		}
	}
	return ""
}

func wrapError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if body == "" {
			body = http.StatusText(apiErr.StatusCode)
		}
		return &TransportError{Op: op, StatusCode: apiErr.StatusCode, Body: body, Err: err}
	}
	return &TransportError{Op: op, Err: err}
}
