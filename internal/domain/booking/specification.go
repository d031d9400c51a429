package booking

import (
	"time"

	"github.com/pkgtravel/service-booking/internal/domain/markup"
)

// Holder is the lead guest named on the reservation.
type Holder struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code,omitempty"`
}

// FullName returns "first last".
func (h Holder) FullName() string {
	if h.LastName == "" {
		return h.FirstName
	}
	return h.FirstName + " " + h.LastName
}

// PropertySnapshot is the listing as it was at booking time. It is copied,
// never joined, so historical bookings do not change with upstream data.
type PropertySnapshot struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	Type            string   `json:"type,omitempty"`
	Address         string   `json:"address,omitempty"`
	City            string   `json:"city,omitempty"`
	Country         string   `json:"country,omitempty"`
	DestinationCode string   `json:"destination_code,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
}

// Stay is the date range and occupancy of a booking.
type Stay struct {
	CheckIn  time.Time
	CheckOut time.Time
	Rooms    int
	Adults   int
	Children int
}

// Nights is the number of nights between check-in and check-out.
func (s Stay) Nights() int {
	return int(markup.DateOnly(s.CheckOut).Sub(markup.DateOnly(s.CheckIn)).Hours() / 24)
}

// TotalGuests is adults plus children.
func (s Stay) TotalGuests() int {
	return s.Adults + s.Children
}
