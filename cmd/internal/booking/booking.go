// Package booking layers booking-scoped authorization over the
// messaging engine: it resolves the captain from a booking record,
// derives the deterministic conversation id, enforces status and access
// rules, and only then activates a conversation session.
package booking

import (
	"context"
	"fmt"
	"strings"
)

// Status is a booking lifecycle state as reported by the booking API.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
)

// messagingAllowed is the status allow-list for conversations.
// Unknown statuses are denied.
var messagingAllowed = map[Status]bool{
	StatusPending:   true,
	StatusConfirmed: true,
	StatusCompleted: true,
}

// AllowsMessaging reports whether a booking in status s may carry a
// conversation.
func (s Status) AllowsMessaging() bool {
	return messagingAllowed[Status(strings.ToUpper(string(s)))]
}

// Party is a person reference embedded in a booking record.
type Party struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Listing is the tour/boat offer a booking reserves.
type Listing struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CaptainID string `json:"captain_id"`
}

// Booking is the reservation record the gate evaluates.
// The captain reference may live on the record itself or on the
// embedded listing, depending on which API surface produced it.
type Booking struct {
	ID      string   `json:"id"`
	Status  Status   `json:"status"`
	Tourist Party    `json:"tourist"`
	Captain *Party   `json:"captain,omitempty"`
	Listing *Listing `json:"listing,omitempty"`
}

// ResolveCaptainID extracts the counterpart (captain) id from a booking
// payload, checking the direct captain reference before the listing.
func ResolveCaptainID(b Booking) (string, error) {
	if b.Captain != nil && strings.TrimSpace(b.Captain.ID) != "" {
		return strings.TrimSpace(b.Captain.ID), nil
	}
	if b.Listing != nil && strings.TrimSpace(b.Listing.CaptainID) != "" {
		return strings.TrimSpace(b.Listing.CaptainID), nil
	}
	return "", fmt.Errorf("booking %s: %w", b.ID, ErrNoCaptain)
}

// AccessDecision is the result of validating a booking against the
// requesting user. It is valid for one validation call only; booking
// status changes invalidate it.
type AccessDecision struct {
	HasAccess     bool   `json:"has_access"`
	CounterpartID string `json:"counterpart_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Transport is the booking API the gate consumes.
type Transport interface {
	BookingByID(ctx context.Context, bookingID string) (Booking, error)
	ValidateAccess(ctx context.Context, bookingID, userID string) (AccessDecision, error)
}
