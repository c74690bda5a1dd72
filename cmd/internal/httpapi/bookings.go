package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"skiff/cmd/internal/booking"
)

// BookingClient implements booking.Transport over the REST API.
type BookingClient struct {
	*Client
}

// NewBookingClient wraps a Client as the booking transport.
func NewBookingClient(c *Client) *BookingClient {
	return &BookingClient{Client: c}
}

// BookingByID fetches one booking record.
func (b *BookingClient) BookingByID(ctx context.Context, bookingID string) (booking.Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return booking.Booking{}, errors.New("httpapi: empty booking id")
	}

	var out booking.Booking
	if err := b.do(ctx, http.MethodGet, "/api/bookings/"+url.PathEscape(bookingID), nil, &out); err != nil {
		return booking.Booking{}, err
	}
	return out, nil
}

// ValidateAccess asks the booking service whether userID may use the
// booking's conversation.
func (b *BookingClient) ValidateAccess(ctx context.Context, bookingID, userID string) (booking.AccessDecision, error) {
	bookingID = strings.TrimSpace(bookingID)
	userID = strings.TrimSpace(userID)
	if bookingID == "" || userID == "" {
		return booking.AccessDecision{}, errors.New("httpapi: empty booking or user id")
	}

	path := "/api/bookings/" + url.PathEscape(bookingID) + "/access?user_id=" + url.QueryEscape(userID)

	var out booking.AccessDecision
	if err := b.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return booking.AccessDecision{}, err
	}
	return out, nil
}
