// Package errs defines the error kinds used across swarmitctl, matching the
// error taxonomy of the controller's protocol and transfer layers: per-frame
// errors are local (decoded, logged, dropped), lifecycle errors propagate.
package errs

import (
	stdErrors "errors"
	"fmt"
)

// protocolMarker is implemented by all per-frame error types so callers can
// classify "drop and log" failures from fatal ones with a single check.
type protocolMarker interface {
	error
	isProtocol()
}

// MalformedFrameError indicates the codec could not decode an inbound frame
// (buffer too short, or a variable-length trailing field is inconsistent
// with the buffer). Dropped by the adapter; logged only in verbose mode.
type MalformedFrameError struct {
	Op  string
	Err error
}

func (e *MalformedFrameError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed frame: %s", e.Op)
	}
	return fmt.Sprintf("malformed frame: %s: %v", e.Op, e.Err)
}
func (e *MalformedFrameError) Unwrap() error { return e.Err }
func (e *MalformedFrameError) isProtocol()   {}

// UnknownPayloadTypeError indicates an inbound tag byte outside the defined
// set (§6.1). Logged at error level, dropped.
type UnknownPayloadTypeError struct {
	Tag byte
}

func (e *UnknownPayloadTypeError) Error() string {
	return fmt.Sprintf("unknown payload type: 0x%02X", e.Tag)
}
func (e *UnknownPayloadTypeError) isProtocol() {}

// IndexOutOfRangeError indicates a chunk ack referenced an index ≥ the
// transfer's chunk count, or a device not present in the current transfer.
// Logged at warning level, dropped.
type IndexOutOfRangeError struct {
	DeviceAddr string
	Index      uint32
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("chunk index out of range: device=%s index=%d", e.DeviceAddr, e.Index)
}
func (e *IndexOutOfRangeError) isProtocol() {}

// StartOtaIncompleteError indicates at least one selected device did not ack
// OTA_START within the configured retry budget. The caller must Stop and
// abort (§4.5.4).
type StartOtaIncompleteError struct {
	Missed []string
}

func (e *StartOtaIncompleteError) Error() string {
	return fmt.Sprintf("ota start incomplete: %d device(s) missed", len(e.Missed))
}

// TransferIncompleteError indicates at least one device finished the chunk
// loop with success == false. The per-device transfer status carries the
// detail of what failed.
type TransferIncompleteError struct {
	FailedDevices []string
}

func (e *TransferIncompleteError) Error() string {
	return fmt.Sprintf("transfer incomplete: %d device(s) failed", len(e.FailedDevices))
}

// TransportUnavailableError indicates the gateway adapter could not open its
// transport (serial port busy, broker unreachable, ...). User-visible,
// aborts the command.
type TransportUnavailableError struct {
	Op  string
	Err error
}

func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("transport unavailable: %s: %v", e.Op, e.Err)
}
func (e *TransportUnavailableError) Unwrap() error { return e.Err }

// UserAbortError indicates an interactive confirmation was declined or
// monitor was interrupted. Clean exit, not a failure.
type UserAbortError struct {
	Reason string
}

func (e *UserAbortError) Error() string { return "aborted: " + e.Reason }

// IsProtocolError reports whether err is (or wraps) a per-frame error that
// should be dropped locally rather than propagated (MalformedFrameError,
// UnknownPayloadTypeError, IndexOutOfRangeError).
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

// Constructors encourage contextual wrapping with %w when used by callers.
func NewMalformedFrame(op string, cause error) error {
	return &MalformedFrameError{Op: op, Err: cause}
}
func NewUnknownPayloadType(tag byte) error { return &UnknownPayloadTypeError{Tag: tag} }
func NewIndexOutOfRange(deviceAddr string, index uint32) error {
	return &IndexOutOfRangeError{DeviceAddr: deviceAddr, Index: index}
}
func NewTransportUnavailable(op string, cause error) error {
	return &TransportUnavailableError{Op: op, Err: cause}
}
