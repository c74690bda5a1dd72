package booking

import "errors"

var (
	// ErrNoCaptain is returned when a booking payload carries no
	// resolvable captain reference.
	ErrNoCaptain = errors.New("no captain reference")

	// ErrStatusNotAllowed is returned when the booking status is outside
	// the messaging allow-list.
	ErrStatusNotAllowed = errors.New("booking status does not allow messaging")

	// ErrAccessDenied is returned when access validation explicitly
	// denies the requesting user.
	ErrAccessDenied = errors.New("booking conversation access denied")

	// ErrNotEnabled is returned for messaging operations on a gate that
	// is not in the enabled state.
	ErrNotEnabled = errors.New("messaging not enabled for booking")

	// ErrCaptainUnresolved is returned for sends before the counterpart
	// identity has been resolved.
	ErrCaptainUnresolved = errors.New("captain identity not resolved")
)
