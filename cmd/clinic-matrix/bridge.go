// ABOUTME: Matrix bridge core for clinic-matrix
// ABOUTME: Logs in, syncs rooms and relays patient messages to the clinic gateway

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/clinic-gateway/internal/dedupe"
)

const frontendMatrix = "matrix"

// Relay sends a patient message to the gateway and returns the reply.
type Relay interface {
	SendMessage(ctx context.Context, req MessageRequest) (string, error)
}

// roomSender posts messages and typing notifications to Matrix rooms.
type roomSender interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Bridge connects Matrix rooms to clinic-gateway.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	rooms   roomSender
	gateway Relay
	seen    *dedupe.Window
	logger  *slog.Logger
	started time.Time

	// pending messages per room; a room with an entry has a drain worker
	queueMu sync.Mutex
	queues  map[id.RoomID][]roomMessage
	wg      sync.WaitGroup

	// ctx is the parent context for message processing goroutines
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge creates a new Matrix bridge.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	gw := NewGatewayClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout)

	b := newBridge(cfg, client, gw, logger)
	b.matrix = client
	return b, nil
}

func newBridge(cfg *Config, rooms roomSender, relay Relay, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		config:  cfg,
		rooms:   rooms,
		gateway: relay,
		seen:    dedupe.New(cfg.Bridge.DedupeWindow, cfg.Bridge.DedupeCapacity),
		queues:  make(map[id.RoomID][]roomMessage),
		logger:  logger.With("component", "matrix"),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Login authenticates with the homeserver using the configured password.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: b.config.Matrix.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		return err
	}
	b.logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// UserID returns the logged-in Matrix user id.
func (b *Bridge) UserID() string {
	return b.matrix.UserID.String()
}

// Run starts syncing and blocks until ctx is cancelled or sync fails.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.config.Matrix.Homeserver,
		"user_id", b.UserID(),
		"gateway", b.config.Gateway.URL,
	)

	defer b.Close()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.matrix.SyncWithContext(ctx)
	}()

	b.logger.Info("matrix bridge running")

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		return nil
	case err := <-syncErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// Close cancels in-flight relays and waits for them to finish.
func (b *Bridge) Close() {
	b.cancel()
	b.wg.Wait()
	b.seen.Close()
}

// handleMemberEvent joins rooms the bot is invited to, when they are allowed.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	if b.matrix == nil || evt.GetStateKey() != b.UserID() {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Debug("ignoring invite to non-allowed room", "room", evt.RoomID.String())
		return
	}
	if _, err := b.matrix.JoinRoomByID(ctx, evt.RoomID); err != nil {
		b.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// handleMessageEvent filters incoming Matrix messages and queues the ones
// addressed to the assistant.
func (b *Bridge) handleMessageEvent(_ context.Context, evt *event.Event) {
	if b.matrix != nil && evt.Sender.String() == b.UserID() {
		return
	}

	// initial sync replays room history
	if time.UnixMilli(evt.Timestamp).Before(b.started) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	msgBody, ok := b.stripPrefix(content.Body)
	if !ok {
		return
	}

	if b.seen.Seen(evt.ID.String()) {
		b.logger.Debug("ignoring redelivered event", "event_id", evt.ID.String())
		return
	}

	b.logger.Info("received message",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", truncate(msgBody, 50),
	)

	b.enqueue(roomMessage{room: evt.RoomID, sender: evt.Sender, eventID: evt.ID, text: msgBody})
}

// roomMessage is a patient message waiting for its room's worker.
type roomMessage struct {
	room    id.RoomID
	sender  id.UserID
	eventID id.EventID
	text    string
}

// enqueue appends msg to its room's queue and starts a worker for the room
// if none is running, so a room's messages are relayed in arrival order.
func (b *Bridge) enqueue(msg roomMessage) {
	b.queueMu.Lock()
	pending, active := b.queues[msg.room]
	b.queues[msg.room] = append(pending, msg)
	b.queueMu.Unlock()

	if !active {
		b.wg.Add(1)
		go b.drain(msg.room)
	}
}

func (b *Bridge) drain(room id.RoomID) {
	defer b.wg.Done()

	for {
		b.queueMu.Lock()
		pending := b.queues[room]
		if len(pending) == 0 {
			delete(b.queues, room)
			b.queueMu.Unlock()
			return
		}
		msg := pending[0]
		b.queues[room] = pending[1:]
		b.queueMu.Unlock()

		b.processMessage(b.ctx, msg)
	}
}

// stripPrefix applies the optional command prefix. ok is false when the
// message is not for the bridge.
func (b *Bridge) stripPrefix(body string) (string, bool) {
	if prefix := b.config.Bridge.CommandPrefix; prefix != "" {
		if !strings.HasPrefix(body, prefix) {
			return "", false
		}
		body = strings.TrimPrefix(body, prefix)
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

// processMessage relays one message and posts the reply back to the room.
func (b *Bridge) processMessage(ctx context.Context, msg roomMessage) {
	roomID, eventID := msg.room, msg.eventID
	roomStr := roomID.String()

	if b.config.Bridge.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	reply, err := b.gateway.SendMessage(ctx, MessageRequest{
		UserID:    frontendMatrix + ":" + msg.sender.String(),
		Text:      msg.text,
		Frontend:  frontendMatrix,
		MessageID: eventID.String(),
	})
	switch {
	case errors.Is(err, ErrDuplicate):
		b.logger.Debug("gateway already answered event", "event_id", eventID.String())
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("gateway request failed", "room", roomStr, "error", err)
		b.sendMessage(roomID, eventID, "Sorry, I couldn't reach the clinic assistant. Please try again shortly.")
		return
	}

	if reply == "" {
		b.logger.Warn("empty reply from gateway", "room", roomStr)
		return
	}

	b.logger.Info("sending reply", "room", roomStr, "length", len(reply))
	b.sendMessage(roomID, eventID, reply)
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.config.Bridge.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}

	for _, allowed := range b.config.Bridge.AllowedRooms {
		if allowed == roomID {
			return true
		}
	}
	return false
}

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout bounds each Matrix API call.
const networkTimeout = 10 * time.Second

func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.rooms.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// sendMessage posts text as a reply to inReplyTo, with an HTML body when the
// text carries markdown.
func (b *Bridge) sendMessage(roomID id.RoomID, inReplyTo id.EventID, text string) {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderHTML(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	if inReplyTo != "" {
		content.RelatesTo = (&event.RelatesTo{}).SetReplyTo(inReplyTo)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.rooms.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		b.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
