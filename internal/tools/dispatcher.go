// ABOUTME: Tool dispatcher executing assistant function calls against slot rules and bookings
// ABOUTME: Converts every outcome, including failures, into the JSON the assistant expects

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/clinic-gateway/internal/slots"
	"github.com/2389/clinic-gateway/internal/store"
)

// User-visible failure messages.
const (
	msgInvalidDate    = "Invalid date format. Please use YYYY-MM-DD format."
	msgInvalidTime    = "Invalid time format. Please use HH:MM format."
	msgInvalidRequest = "Invalid request format. Please provide the date as YYYY-MM-DD and the time as HH:MM."
	msgCheckFailed    = "Sorry, I encountered an error while checking booking availability. Please try again."
	msgBookFailed     = "Sorry, I encountered an error while booking the appointment. Please try again."
	msgSlotTaken      = "Sorry, I couldn't book the appointment: This time slot is already booked."
)

// BookingCreator is the part of the booking store AddAppointment needs.
type BookingCreator interface {
	CreateBooking(ctx context.Context, b *store.Booking) (*store.Booking, error)
}

// Dispatcher runs assistant function calls.
type Dispatcher struct {
	checker  *slots.Checker
	bookings BookingCreator
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the wall clock used for "now".
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(checker *slots.Checker, bookings BookingCreator, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		checker:  checker,
		bookings: bookings,
		now:      time.Now,
		logger:   logger.With("component", "tools"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes the named function with its JSON arguments. handled is
// false for unknown names, in which case no output must be submitted.
func (d *Dispatcher) Dispatch(ctx context.Context, function, arguments string) (output string, handled bool) {
	name := ParseName(function)
	start := time.Now()

	var result any
	switch name {
	case GetCurrentDate:
		result = d.currentDate()
	case CheckBookingTimeAvailability:
		result = d.checkAvailability(ctx, arguments)
	case AddAppointment:
		result = d.addAppointment(ctx, arguments)
	default:
		d.logger.Warn("ignoring unknown function call", "function", function)
		return "", false
	}

	data, err := json.Marshal(result)
	if err != nil {
		// Only reachable if a result type stops being marshalable.
		d.logger.Error("encoding tool output", "function", name, "error", err)
		data = []byte(`{"message":"internal error"}`)
	}

	d.logger.Debug("tool call handled", "function", name, "duration", time.Since(start))
	return string(data), true
}

func (d *Dispatcher) location() *time.Location {
	return d.checker.Rules().Location
}

type currentDateResult struct {
	CurrentDate string `json:"currentDate"`
	CurrentTime string `json:"currentTime"`
	DayOfWeek   string `json:"dayOfWeek"`
	Message     string `json:"message"`
}

func (d *Dispatcher) currentDate() currentDateResult {
	now := d.now()
	if loc := d.location(); loc != nil {
		now = now.In(loc)
	}
	return currentDateResult{
		CurrentDate: now.Format(slots.DateLayout),
		CurrentTime: now.Format("15:04"),
		DayOfWeek:   now.Weekday().String(),
		Message: fmt.Sprintf("Today is %s and the current time is %s.",
			now.Format("Monday, January 02, 2006"), now.Format("15:04")),
	}
}

type availabilityArgs struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type availabilityResult struct {
	IsAvailable        bool   `json:"isAvailable"`
	Message            string `json:"message"`
	RequestedDateTime  string `json:"requestedDateTime,omitempty"`
	NormalizedDateTime string `json:"normalizedDateTime,omitempty"`
}

func (d *Dispatcher) checkAvailability(ctx context.Context, arguments string) availabilityResult {
	var args availabilityArgs
	if err := decodeArgs(arguments, &args); err != nil {
		d.logger.Warn("malformed availability arguments", "error", err)
		return availabilityResult{Message: msgInvalidRequest}
	}

	slot, err := slots.ParseSlot(args.Date, args.Time, d.location())
	if err != nil {
		return availabilityResult{Message: parseFailureMessage(err)}
	}

	availability, err := d.checker.CheckAvailability(ctx, slot, d.now())
	if err != nil {
		d.logger.Error("checking availability", "date", args.Date, "time", args.Time, "error", err)
		return availabilityResult{Message: msgCheckFailed}
	}

	return availabilityResult{
		IsAvailable:        availability.Available,
		Message:            availability.Message,
		RequestedDateTime:  availability.Requested.Format(time.RFC3339),
		NormalizedDateTime: availability.Normalized.Format(time.RFC3339),
	}
}

type appointmentArgs struct {
	Name           string `json:"name"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	PhoneNumber    string `json:"phoneNumber"`
	Phone          string `json:"phone"`
	ReasonForVisit string `json:"reasonForVisit"`
	Reason         string `json:"reason"`
}

func (a appointmentArgs) phone() string {
	return strings.TrimSpace(firstNonEmpty(a.PhoneNumber, a.Phone))
}

func (a appointmentArgs) reason() string {
	return strings.TrimSpace(firstNonEmpty(a.ReasonForVisit, a.Reason))
}

type appointmentResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	BookingID int64  `json:"bookingId,omitempty"`
}

func (d *Dispatcher) addAppointment(ctx context.Context, arguments string) appointmentResult {
	var args appointmentArgs
	if err := decodeArgs(arguments, &args); err != nil {
		d.logger.Warn("malformed appointment arguments", "error", err)
		return appointmentResult{Message: msgInvalidRequest}
	}

	requested, err := slots.ParseSlot(args.Date, args.Time, d.location())
	if err != nil {
		return appointmentResult{Message: parseFailureMessage(err)}
	}

	rules := d.checker.Rules()
	slot := slots.Normalize(requested)
	if rejection := rules.Validate(slot, d.now()); rejection != nil {
		return appointmentResult{Message: rejection.Message}
	}

	booking, err := d.bookings.CreateBooking(ctx, &store.Booking{
		PatientName: strings.TrimSpace(args.Name),
		Phone:       args.phone(),
		SlotAt:      rules.ToUTC(slot),
		Status:      store.StatusPending,
		Reason:      args.reason(),
	})
	switch {
	case errors.Is(err, store.ErrSlotTaken):
		return appointmentResult{Message: msgSlotTaken}
	case errors.Is(err, store.ErrInvalidBooking):
		detail := strings.TrimPrefix(err.Error(), store.ErrInvalidBooking.Error()+": ")
		return appointmentResult{Message: "Sorry, I couldn't book the appointment: " + detail + "."}
	case err != nil:
		d.logger.Error("creating booking", "slot", slot, "error", err)
		return appointmentResult{Message: msgBookFailed}
	}

	d.logger.Info("appointment booked", "booking_id", booking.ID, "slot", booking.SlotAt)

	msg := fmt.Sprintf("Great! I've successfully booked your appointment for %s on %s at %s",
		booking.PatientName, slot.Format(slots.DayLayout), slot.Format(slots.ClockLayout))
	if booking.Reason != "" {
		msg += " for " + booking.Reason
	}
	return appointmentResult{Success: true, Message: msg + ".", BookingID: booking.ID}
}

// decodeArgs accepts an empty argument string as an empty object.
func decodeArgs(arguments string, v any) error {
	if strings.TrimSpace(arguments) == "" {
		return nil
	}
	return json.Unmarshal([]byte(arguments), v)
}

func parseFailureMessage(err error) string {
	if errors.Is(err, slots.ErrInvalidTime) {
		return msgInvalidTime
	}
	return msgInvalidDate
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
