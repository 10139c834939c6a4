// Package tools executes the functions the assistant may call while
// handling a scheduling conversation:
//
//   - GetCurrentDate: the clinic's current date and time
//   - CheckBookingTimeAvailability: slot availability for a date and time
//   - AddAppointment: books a slot for a patient
//
// Function names are parsed into the closed Name type. Unknown names are
// reported as unhandled so the caller can skip them. Every handled call
// yields a JSON output, even when arguments are malformed or the booking
// store fails, because the assistant needs an answer for each call.
package tools
