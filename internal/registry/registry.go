// ABOUTME: Lazy, single-flight resolution of user ids to conversation handles
// ABOUTME: Creation failures propagate and are never cached

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// ErrEmptyUserID is returned when resolving a blank user id.
var ErrEmptyUserID = errors.New("user id is required")

// HandleStore persists the user id to handle mapping.
type HandleStore interface {
	LookupConversation(ctx context.Context, userID string) (string, bool, error)
	// SaveConversation stores id unless a handle already exists and returns
	// the handle that is stored afterwards.
	SaveConversation(ctx context.Context, userID, id string) (string, error)
}

// Creator opens a new remote conversation.
type Creator interface {
	CreateConversation(ctx context.Context) (string, error)
}

// Registry resolves user ids to conversation handles.
type Registry struct {
	store   HandleStore
	creator Creator
	group   singleflight.Group
	logger  *slog.Logger
}

// New creates a Registry. A nil store defaults to an in-memory store.
func New(store HandleStore, creator Creator, logger *slog.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		creator: creator,
		logger:  logger.With("component", "registry"),
	}
}

// Resolve returns the user's conversation handle, creating one if needed.
func (r *Registry) Resolve(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	if id, ok, err := r.store.LookupConversation(ctx, userID); err != nil {
		return "", fmt.Errorf("looking up conversation: %w", err)
	} else if ok {
		return id, nil
	}

	// The shared creation must not die with the first caller's context.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(userID, func() (any, error) {
		return r.create(shared, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Registry) create(ctx context.Context, userID string) (string, error) {
	// Another caller may have finished between our lookup and joining the flight.
	if id, ok, err := r.store.LookupConversation(ctx, userID); err != nil {
		return "", fmt.Errorf("looking up conversation: %w", err)
	} else if ok {
		return id, nil
	}

	id, err := r.creator.CreateConversation(ctx)
	if err != nil {
		return "", fmt.Errorf("creating conversation: %w", err)
	}

	stored, err := r.store.SaveConversation(ctx, userID, id)
	if err != nil {
		return "", fmt.Errorf("saving conversation: %w", err)
	}
	if stored != id {
		r.logger.Warn("conversation created concurrently elsewhere, using stored handle",
			"user_id", userID, "discarded", id, "conversation_id", stored)
	} else {
		r.logger.Info("created conversation", "user_id", userID, "conversation_id", id)
	}
	return stored, nil
}
