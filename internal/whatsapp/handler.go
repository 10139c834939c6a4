// ABOUTME: WhatsApp webhook HTTP handler: verification handshake and message notifications
// ABOUTME: Replies are produced asynchronously by one queue worker per sender

package whatsapp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/clinic-gateway/internal/dedupe"
)

// maxBodyBytes bounds webhook request bodies.
const maxBodyBytes = 1 << 20

// UserIDPrefix namespaces WhatsApp senders in the conversation registry.
const UserIDPrefix = "whatsapp:"

// Replier produces the assistant's answer to a user's text.
type Replier interface {
	HandleIncomingText(ctx context.Context, userID, text string) string
}

// Sender delivers a reply to a WhatsApp user.
type Sender interface {
	SendText(ctx context.Context, to, body, replyTo string) ([]string, error)
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	VerifyToken string
	// AppSecret enables signature verification when set.
	AppSecret string
	// ReplyTimeout bounds producing and sending one reply.
	ReplyTimeout time.Duration
}

// Handler serves the WhatsApp webhook.
type Handler struct {
	cfg     HandlerConfig
	replier Replier
	sender  Sender
	seen    *dedupe.Window
	logger  *slog.Logger

	queueMu  sync.Mutex
	queues   map[string][]InboundText // pending messages per sender
	inflight sync.WaitGroup
}

// NewHandler creates a Handler. seen suppresses redelivered message ids.
func NewHandler(cfg HandlerConfig, replier Replier, sender Sender, seen *dedupe.Window, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 2 * time.Minute
	}
	if seen == nil {
		seen = dedupe.New(time.Hour, 10000)
	}
	return &Handler{
		cfg:     cfg,
		replier: replier,
		sender:  sender,
		seen:    seen,
		logger:  logger.With("component", "whatsapp"),
		queues:  make(map[string][]InboundText),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleNotification(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the subscription handshake by echoing hub.challenge.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || challenge == "" {
		http.Error(w, "invalid verification request", http.StatusBadRequest)
		return
	}
	if h.cfg.VerifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.VerifyToken)) != 1 {
		h.logger.Warn("webhook verification rejected")
		http.Error(w, "verification token mismatch", http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}

	if h.cfg.AppSecret != "" {
		if err := VerifySignature(h.cfg.AppSecret, r.Header.Get(SignatureHeader), body); err != nil {
			h.logger.Warn("rejected webhook delivery", "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if n.Object != ObjectBusinessAccount {
		h.logger.Debug("ignoring notification", "object", n.Object)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, msg := range n.TextMessages() {
		if h.seen.Seen(msg.ID) {
			h.logger.Debug("dropping redelivered message", "message_id", msg.ID)
			continue
		}
		h.enqueue(msg)
	}

	w.WriteHeader(http.StatusOK)
}

// enqueue appends msg to its sender's queue, starting a drain worker if
// none is running. Each sender has at most one worker, so replies to one
// sender are produced strictly in arrival order.
func (h *Handler) enqueue(msg InboundText) {
	h.queueMu.Lock()
	pending, active := h.queues[msg.From]
	h.queues[msg.From] = append(pending, msg)
	h.queueMu.Unlock()

	if !active {
		h.inflight.Add(1)
		go h.drain(msg.From)
	}
}

func (h *Handler) drain(from string) {
	defer h.inflight.Done()

	for {
		h.queueMu.Lock()
		pending := h.queues[from]
		if len(pending) == 0 {
			delete(h.queues, from)
			h.queueMu.Unlock()
			return
		}
		msg := pending[0]
		h.queues[from] = pending[1:]
		h.queueMu.Unlock()

		h.reply(msg)
	}
}

func (h *Handler) reply(msg InboundText) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ReplyTimeout)
	defer cancel()

	logger := h.logger.With("message_id", msg.ID, "from", msg.From)
	logger.Debug("answering message")

	text := h.replier.HandleIncomingText(ctx, UserIDPrefix+msg.From, msg.Body)

	if _, err := h.sender.SendText(ctx, msg.From, text, msg.ID); err != nil {
		var sendErr *SendError
		if errors.As(err, &sendErr) {
			logger.Error("whatsapp rejected reply", "status", sendErr.StatusCode, "body", sendErr.Body)
			return
		}
		logger.Error("sending reply", "error", err)
		return
	}
	logger.Info("reply sent")
}

// Wait blocks until every in-flight reply has finished or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
