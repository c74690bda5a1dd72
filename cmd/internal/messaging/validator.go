package messaging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// RiskLevel grades a validation outcome for security logging.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// BookingContext is the booking-derived context a validator may check
// content against. It is a projection of the booking record, not the
// record itself, so the engine stays decoupled from booking storage.
type BookingContext struct {
	BookingID string
	Status    string
	CaptainID string
}

// ValidationInput carries everything a validator may inspect.
type ValidationInput struct {
	Body          string
	SenderID      string
	CounterpartID string
	Booking       *BookingContext
}

// ValidationResult is the validator verdict. When Valid is true and
// SanitizedBody is non-empty, the pipeline must send SanitizedBody in
// place of the original.
type ValidationResult struct {
	Valid         bool
	SanitizedBody string
	Warnings      []string
	Errors        []string
	Risk          RiskLevel
}

// SecurityValidator screens message content before a send is accepted.
// A rejection short-circuits the send and is never retried.
type SecurityValidator interface {
	Validate(ctx context.Context, in ValidationInput) ValidationResult
}

// Content patterns checked when a booking context is present.
// Marketplace policy: payment must stay on-platform; steering a
// counterpart to external payment rails is blocked outright, while
// shared contact details are allowed but flagged.
var (
	paymentSteeringRE = regexp.MustCompile(`(?i)\b(venmo|zelle|cash\s?app|western\s?union|wire\s+(me|transfer)|pay\s+(me\s+)?(outside|off|directly|in\s+cash))\b`)
	emailRE           = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRE           = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
)

// StandardValidator is the default SecurityValidator: length ceiling,
// control-character sanitization, and booking-scoped content policy.
type StandardValidator struct {
	log      *slog.Logger
	maxChars int
}

// NewStandardValidator constructs the default validator.
func NewStandardValidator(log *slog.Logger, maxChars int) *StandardValidator {
	if log == nil {
		log = slog.Default()
	}
	if maxChars <= 0 {
		maxChars = maxBodyChars
	}
	return &StandardValidator{log: log, maxChars: maxChars}
}

// Validate screens body content. Rejections are logged as security
// events with the computed risk level.
func (v *StandardValidator) Validate(_ context.Context, in ValidationInput) ValidationResult {
	res := ValidationResult{Risk: RiskLow}

	body := strings.TrimSpace(in.Body)
	if body == "" {
		res.Errors = append(res.Errors, "empty body")
		return v.finish(in, res)
	}
	if utf8.RuneCountInString(body) > v.maxChars {
		res.Errors = append(res.Errors, "body exceeds length limit")
		res.Risk = RiskMedium
		return v.finish(in, res)
	}

	sanitized := sanitizeBody(body)
	if sanitized != body {
		res.Warnings = append(res.Warnings, "control characters removed")
	}

	if in.Booking != nil {
		if paymentSteeringRE.MatchString(sanitized) {
			res.Errors = append(res.Errors, "off-platform payment steering")
			res.Risk = RiskHigh
			return v.finish(in, res)
		}
		if emailRE.MatchString(sanitized) || phoneRE.MatchString(sanitized) {
			res.Warnings = append(res.Warnings, "contact details shared")
			if res.Risk == RiskLow {
				res.Risk = RiskMedium
			}
		}
	}

	res.Valid = true
	res.SanitizedBody = sanitized
	return res
}

func (v *StandardValidator) finish(in ValidationInput, res ValidationResult) ValidationResult {
	if !res.Valid && len(res.Errors) > 0 {
		bookingID := ""
		if in.Booking != nil {
			bookingID = in.Booking.BookingID
		}
		v.log.Warn("message.security.reject",
			"sender_id", in.SenderID,
			"booking_id", bookingID,
			"risk", string(res.Risk),
			"errors", strings.Join(res.Errors, "; "),
		)
	}
	return res
}

// sanitizeBody strips control characters (newlines and tabs survive).
func sanitizeBody(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
