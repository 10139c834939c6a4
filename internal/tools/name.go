// ABOUTME: Closed set of assistant function names with an explicit unknown case
// ABOUTME: Parsing never fails; unrecognized names map to Unknown

package tools

// Name identifies an assistant-callable function.
type Name int

const (
	Unknown Name = iota
	GetCurrentDate
	CheckBookingTimeAvailability
	AddAppointment
)

var names = map[Name]string{
	GetCurrentDate:               "GetCurrentDate",
	CheckBookingTimeAvailability: "CheckBookingTimeAvailability",
	AddAppointment:               "AddAppointment",
}

// ParseName maps a wire function name to a Name. Matching is exact.
func ParseName(s string) Name {
	for n, wire := range names {
		if wire == s {
			return n
		}
	}
	return Unknown
}

func (n Name) String() string {
	if s, ok := names[n]; ok {
		return s
	}
	return "Unknown"
}
