package models

import "time"

// Reservation is a flight reservation snapshot as returned by the server.
// Records are immutable once fetched; a refresh replaces the whole value
// rather than mutating fields in place.
type Reservation struct {
	ID               string        `json:"id"`
	ReservationID    string        `json:"reservationId"`
	BookingReference string        `json:"bookingReference"`
	BookingDate      string        `json:"bookingDate"`
	Status           string        `json:"status"`
	Passengers       []Passenger   `json:"passengers"`
	FlightDetails    FlightDetails `json:"flightDetails"`
	Suggestions      []Suggestion  `json:"suggestions"`
	Comments         []Comment     `json:"comments"`
	TotalPrice       float64       `json:"totalPrice"`
	Currency         string        `json:"currency"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Reservation status tags. The set is open ended; unknown values are carried
// through as-is.
const (
	StatusConfirmed = "confirmed"
	StatusPending   = "pending"
	StatusCancelled = "cancelled"
)

// Passenger is a traveller on a reservation.
type Passenger struct {
	ID             string `json:"id"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	DateOfBirth    string `json:"dateOfBirth"`
	PassportNumber string `json:"passportNumber"`
	Nationality    string `json:"nationality"`
	SeatNumber     string `json:"seatNumber"`
}

// FlightDetails describes the flight a reservation is booked on.
type FlightDetails struct {
	FlightNumber     string `json:"flightNumber"`
	DepartureAirport string `json:"departureAirport"`
	ArrivalAirport   string `json:"arrivalAirport"`
	DepartureTime    string `json:"departureTime"`
	ArrivalTime      string `json:"arrivalTime"`
	Aircraft         string `json:"aircraft"`
}

// Suggestion is an operational suggestion attached to a reservation.
type Suggestion struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Comment is a note attached to a reservation.
type Comment struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
	CreatedBy string `json:"createdBy"`
	Type      string `json:"type"`
}
