// ABOUTME: Inbound adapter turning (user id, text) into an assistant reply
// ABOUTME: The only place orchestration errors are converted into user-facing text

package inbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Resolver maps a user id to a conversation handle.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// Runner drives one assistant turn in a conversation.
type Runner interface {
	Run(ctx context.Context, conversationID, text string) (string, error)
}

// Adapter connects messaging transports to the assistant.
type Adapter struct {
	resolver Resolver
	runner   Runner
	logger   *slog.Logger
}

// New creates an Adapter.
func New(resolver Resolver, runner Runner, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		resolver: resolver,
		runner:   runner,
		logger:   logger.With("component", "inbound"),
	}
}

// HandleIncomingText returns the assistant's reply to text from userID.
// It never fails; errors are rendered as text.
func (a *Adapter) HandleIncomingText(ctx context.Context, userID, text string) string {
	logger := a.logger.With("turn_id", uuid.NewString(), "user_id", userID)
	start := time.Now()

	conversationID, err := a.resolver.Resolve(ctx, userID)
	if err != nil {
		logger.Error("resolving conversation", "error", err)
		return Reply(err)
	}

	reply, err := a.runner.Run(ctx, conversationID, text)
	if err != nil {
		logger.Error("assistant turn failed", "conversation_id", conversationID, "error", err, "duration", time.Since(start))
		return Reply(err)
	}

	logger.Info("assistant turn completed", "conversation_id", conversationID, "duration", time.Since(start))
	return reply
}

// Reply renders an error as the text shown to the user.
func Reply(err error) string {
	return "Error: " + err.Error()
}
