package gsm07010

import "errors"

// Sentinel errors surfaced to the external collaborator. The original
// driver reports these as source-level numeric codes (EDISCONNECTED
// 900, EREJECTED 901); here they are ordinary Go errors a caller can
// compare with errors.Is.
var (
	// ErrDisconnected is returned for a write (or other operation
	// requiring an open channel) on a DLCI that is not connected.
	ErrDisconnected = errors.New("gsm07010: dlci disconnected")

	// ErrRejected is returned when the peer refused a channel open
	// (DM in response to SABM).
	ErrRejected = errors.New("gsm07010: dlci rejected by peer")

	// ErrFlowStopped is returned from a write while the DLCI (or the
	// whole link, via DLCI 0) is flow-stopped.
	ErrFlowStopped = errors.New("gsm07010: flow stopped")

	// ErrTimeout is returned when a bounded retry (open, close, test)
	// exhausts its attempts without reaching the target state.
	ErrTimeout = errors.New("gsm07010: timed out waiting for peer")

	// ErrNoChannel is returned for operations against an out-of-range
	// or otherwise unknown DLCI number.
	ErrNoChannel = errors.New("gsm07010: no such dlci")

	// ErrClosed is returned for any operation on a Connection that has
	// already been shut down.
	ErrClosed = errors.New("gsm07010: connection closed")

	// ErrTestFailed is returned by the loopback ioctl when the echoed
	// test pattern did not match byte for byte.
	ErrTestFailed = errors.New("gsm07010: loopback test pattern mismatch")
)
