package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response answers a Message.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Code    Code            `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK returns a successful response without payload.
func OK() Response {
	return Response{Success: true}
}

// OKWith returns a successful response carrying v as JSON.
func OKWith(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Failure(fmt.Errorf("encode response: %w", err))
	}
	return Response{Success: true, Data: data}
}

// Failure converts err into a failed response.
func Failure(err error) Response {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Response{
		Success: false,
		Error:   err.Error(),
		Code:    CodeOf(err),
	}
}

// Err returns nil for a successful response, and otherwise a *RemoteError
// carrying the original message.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "request failed"
	}
	code := r.Code
	if code == "" {
		code = CodeInternal
	}
	return &RemoteError{Code: code, Message: msg}
}

// Decode unmarshals the response payload into v.
func (r Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("response has no data")
	}
	return json.Unmarshal(r.Data, v)
}
