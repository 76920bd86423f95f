package vento

import "errors"

var (
	// ErrInvalidParameter indicates a key or value outside the fan's parameter domain.
	// Returned before any datagram is sent.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDeviceUnreachable indicates the fan never answered during InitDevice.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrCommunication indicates a refresh or write failed after the retry budget.
	ErrCommunication = errors.New("communication error")

	// ErrMalformedResponse indicates a received datagram could not be decoded
	ErrMalformedResponse = errors.New("malformed response")

	// ErrWriteUnconfirmed marks a write whose acknowledgement never arrived.
	// The device may or may not have applied it.
	ErrWriteUnconfirmed = errors.New("write not acknowledged, device-side effect unknown")
)
