// ABOUTME: HTTP API handlers for operators: bookings, availability and test conversations
// ABOUTME: POST /api/messages also carries Matrix bridge traffic with per-message dedupe

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/clinic-gateway/internal/auth"
	"github.com/2389/clinic-gateway/internal/inbound"
	"github.com/2389/clinic-gateway/internal/slots"
	"github.com/2389/clinic-gateway/internal/store"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 64 << 10

// BookingResponse is the JSON form of a booking. SlotAt is rendered in the
// clinic's time zone.
type BookingResponse struct {
	ID          int64  `json:"id"`
	PatientName string `json:"patient_name"`
	PhoneNumber string `json:"phone_number"`
	SlotAt      string `json:"slot_at"`
	Slot        string `json:"slot"`
	Status      string `json:"status"`
	Reason      string `json:"reason_for_visit,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ListBookingsResponse is the JSON response for GET /api/bookings.
type ListBookingsResponse struct {
	Bookings []BookingResponse `json:"bookings"`
}

// CreateBookingRequest is the JSON request body for POST /api/bookings.
// Date is YYYY-MM-DD and Time a clock value in the clinic's zone.
type CreateBookingRequest struct {
	PatientName string `json:"patient_name"`
	PhoneNumber string `json:"phone_number"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Reason      string `json:"reason_for_visit"`
}

// UpdateBookingRequest is the JSON request body for PATCH /api/bookings/{id}.
type UpdateBookingRequest struct {
	Status string `json:"status"`
}

// ConversationResponse is the JSON response for POST /api/conversations.
type ConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// MessageRequest is the JSON request body for POST /api/messages. Exactly
// one of UserID and ConversationID is set. Bridges set Frontend and
// MessageID so redelivered events are answered once.
type MessageRequest struct {
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
	Frontend       string `json:"frontend,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
}

// MessageResponse is the JSON response for POST /api/messages.
type MessageResponse struct {
	Reply     string `json:"reply"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (g *Gateway) toBookingResponse(b *store.Booking) BookingResponse {
	local := b.SlotAt.In(g.clinicLocation())
	return BookingResponse{
		ID:          b.ID,
		PatientName: b.PatientName,
		PhoneNumber: b.Phone,
		SlotAt:      local.Format(time.RFC3339),
		Slot:        slots.Describe(local),
		Status:      string(b.Status),
		Reason:      b.Reason,
		CreatedAt:   b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   b.UpdatedAt.Format(time.RFC3339),
	}
}

func (g *Gateway) clinicLocation() *time.Location {
	if loc := g.checker.Rules().Location; loc != nil {
		return loc
	}
	return time.Local
}

// handleListBookings handles GET /api/bookings.
func (g *Gateway) handleListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := g.store.ListBookings(r.Context())
	if err != nil {
		g.logger.Error("failed to list bookings", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListBookingsResponse{Bookings: make([]BookingResponse, 0, len(bookings))}
	for _, b := range bookings {
		resp.Bookings = append(resp.Bookings, g.toBookingResponse(b))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleCreateBooking handles POST /api/bookings. The same slot rules the
// assistant is held to apply here.
func (g *Gateway) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	rules := g.checker.Rules()
	requested, err := slots.ParseSlot(req.Date, req.Time, rules.Location)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	slot := slots.Normalize(requested)
	if rejection := rules.Validate(slot, g.now()); rejection != nil {
		g.sendJSONError(w, http.StatusUnprocessableEntity, rejection.Message)
		return
	}

	booking, err := g.store.CreateBooking(r.Context(), &store.Booking{
		PatientName: strings.TrimSpace(req.PatientName),
		Phone:       strings.TrimSpace(req.PhoneNumber),
		SlotAt:      rules.ToUTC(slot),
		Status:      store.StatusPending,
		Reason:      strings.TrimSpace(req.Reason),
	})
	if !g.handleStoreError(w, err, "create booking") {
		return
	}

	g.logger.Info("booking created via API", "booking_id", booking.ID, "slot", booking.SlotAt, "operator", operator(r))
	g.sendJSON(w, http.StatusCreated, g.toBookingResponse(booking))
}

// handleGetBooking handles GET /api/bookings/{id}.
func (g *Gateway) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := g.bookingID(w, r)
	if !ok {
		return
	}
	booking, err := g.store.GetBooking(r.Context(), id)
	if !g.handleStoreError(w, err, "get booking") {
		return
	}
	g.sendJSON(w, http.StatusOK, g.toBookingResponse(booking))
}

// handleUpdateBooking handles PATCH /api/bookings/{id}.
func (g *Gateway) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := g.bookingID(w, r)
	if !ok {
		return
	}

	var req UpdateBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := store.ParseBookingStatus(req.Status)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	booking, err := g.store.UpdateBookingStatus(r.Context(), id, status)
	if !g.handleStoreError(w, err, "update booking") {
		return
	}

	g.logger.Info("booking status changed", "booking_id", id, "status", status, "operator", operator(r))
	g.sendJSON(w, http.StatusOK, g.toBookingResponse(booking))
}

// handleCancelBooking handles DELETE /api/bookings/{id}.
func (g *Gateway) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := g.bookingID(w, r)
	if !ok {
		return
	}
	if !g.handleStoreError(w, g.store.CancelBooking(r.Context(), id), "cancel booking") {
		return
	}

	g.logger.Info("booking cancelled", "booking_id", id, "operator", operator(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleAvailability handles GET /api/availability?date=YYYY-MM-DD&time=HH:MM.
func (g *Gateway) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slot, err := slots.ParseSlot(q.Get("date"), q.Get("time"), g.checker.Rules().Location)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	availability, err := g.checker.CheckAvailability(r.Context(), slot, g.now())
	if err != nil {
		g.logger.Error("failed to check availability", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, availability)
}

// handleCreateConversation handles POST /api/conversations.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	id, err := g.assistant.CreateConversation(r.Context())
	if err != nil {
		g.logger.Error("failed to create conversation", "error", err)
		g.sendJSONError(w, http.StatusBadGateway, inbound.Reply(err))
		return
	}
	g.sendJSON(w, http.StatusCreated, ConversationResponse{ConversationID: id})
}

// handleMessage handles POST /api/messages. With user_id the message goes
// through the same path as WhatsApp traffic and always yields a reply; with
// conversation_id it runs directly and failures are reported as errors.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.MessageID != "" {
		key := fmt.Sprintf("bridge:%s:%s", req.Frontend, req.MessageID)
		if g.dedupe.Seen(key) {
			g.logger.Debug("duplicate bridge message ignored", "frontend", req.Frontend, "message_id", req.MessageID)
			g.sendJSON(w, http.StatusOK, MessageResponse{Duplicate: true})
			return
		}
		// A client that went away never saw the reply; let its retry through.
		defer func() {
			if r.Context().Err() != nil {
				g.dedupe.Forget(key)
				g.logger.Info("bridge message abandoned, retry allowed", "frontend", req.Frontend, "message_id", req.MessageID)
			}
		}()
	}

	if req.ConversationID != "" {
		reply, err := g.orchestrator.Run(r.Context(), req.ConversationID, req.Text)
		if err != nil {
			g.logger.Error("direct run failed", "conversation_id", req.ConversationID, "error", err)
			g.sendJSONError(w, http.StatusBadGateway, inbound.Reply(err))
			return
		}
		g.sendJSON(w, http.StatusOK, MessageResponse{Reply: reply})
		return
	}

	reply := g.adapter.HandleIncomingText(r.Context(), req.UserID, req.Text)
	g.sendJSON(w, http.StatusOK, MessageResponse{Reply: reply})
}

func (req *MessageRequest) validate() error {
	req.Text = strings.TrimSpace(req.Text)
	switch {
	case req.Text == "":
		return errors.New("text is required")
	case req.UserID == "" && req.ConversationID == "":
		return errors.New("user_id or conversation_id is required")
	case req.UserID != "" && req.ConversationID != "":
		return errors.New("user_id and conversation_id are mutually exclusive")
	}
	return nil
}

// handleStoreError writes the HTTP error for err and reports whether the
// handler may continue.
func (g *Gateway) handleStoreError(w http.ResponseWriter, err error, op string) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, store.ErrSlotTaken):
		g.sendJSONError(w, http.StatusConflict, store.ErrSlotTaken.Error())
	case errors.Is(err, store.ErrInvalidBooking):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("store operation failed", "op", op, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
	return false
}

func (g *Gateway) bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "invalid booking id")
		return 0, false
	}
	return id, true
}

// operator names the authenticated caller for logs.
func operator(r *http.Request) string {
	if id, ok := auth.FromContext(r.Context()); ok {
		return id.Subject
	}
	return "anonymous"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
