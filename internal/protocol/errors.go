package protocol

import (
	"context"
	"errors"
)

// Error taxonomy shared by every endpoint.
var (
	// ErrCameraAccess is returned when the camera is denied, missing, or held elsewhere.
	ErrCameraAccess = errors.New("camera access failed")
	// ErrInitialization is returned when the inference adapter cannot be constructed.
	ErrInitialization = errors.New("inference initialization failed")
	// ErrRouting is returned when a message reaches an endpoint that does not serve it.
	ErrRouting = errors.New("message routing error")
	// ErrUnknownMessage is returned for an unrecognized message discriminator.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrInvalidMessage is returned when a known message is missing required fields.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNoReceiver is returned when the destination endpoint does not exist.
	ErrNoReceiver = errors.New("receiving end does not exist")
	// ErrNoResponse is returned when a handler finished without answering.
	ErrNoResponse = errors.New("handler did not respond")
)

// Code is the machine readable error class carried by a failed Response.
type Code string

// Error codes.
const (
	CodeCameraAccess   Code = "camera_access"
	CodeInitialization Code = "initialization"
	CodeRouting        Code = "routing"
	CodeUnknownMessage Code = "unknown_message"
	CodeInvalidMessage Code = "invalid_message"
	CodeNoReceiver     Code = "no_receiver"
	CodeNoResponse     Code = "no_response"
	CodeCancelled      Code = "cancelled"
	CodeTimeout        Code = "timeout"
	CodeInternal       Code = "internal"
)

var codeSentinels = []struct {
	code Code
	err  error
}{
	{CodeCameraAccess, ErrCameraAccess},
	{CodeInitialization, ErrInitialization},
	{CodeRouting, ErrRouting},
	{CodeUnknownMessage, ErrUnknownMessage},
	{CodeInvalidMessage, ErrInvalidMessage},
	{CodeNoReceiver, ErrNoReceiver},
	{CodeNoResponse, ErrNoResponse},
	{CodeCancelled, context.Canceled},
	{CodeTimeout, context.DeadlineExceeded},
}

// CodeOf classifies err. Errors outside the taxonomy are CodeInternal.
func CodeOf(err error) Code {
	for _, cs := range codeSentinels {
		if errors.Is(err, cs.err) {
			return cs.code
		}
	}
	return CodeInternal
}

func sentinelFor(code Code) error {
	for _, cs := range codeSentinels {
		if cs.code == code {
			return cs.err
		}
	}
	return nil
}

// RemoteError is an error reported by another endpoint. It keeps the original
// human readable message and still matches the taxonomy sentinel via errors.Is.
type RemoteError struct {
	Code    Code
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return sentinelFor(e.Code)
}
