// Package protocol defines the messages exchanged between palmscroll endpoints.
//
// Every message is a tagged record whose "type" field selects the variant.
// Older clients that tag messages with "action" are still understood.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/palmscroll/internal/settings"
)

// Kind discriminates message variants.
type Kind string

const (
	// KindToggleGestures flips gesture control for a tab and carries a full settings snapshot.
	KindToggleGestures Kind = "toggleGestures"
	// KindUpdateSettings patches the settings of an active tab.
	KindUpdateSettings Kind = "updateSettings"
	// KindStartGestures asks the coordinator to bring up capture and inference.
	KindStartGestures Kind = "START_GESTURES"
	// KindStopGestures asks the coordinator to tear capture down.
	KindStopGestures Kind = "STOP_GESTURES"
	// KindInitInference asks the capture host to construct the recognizer.
	KindInitInference Kind = "INIT_INFERENCE"
	// KindStartCamera asks the capture host to open the camera and start the frame loop.
	KindStartCamera Kind = "START_CAMERA"
	// KindStopCamera asks the capture host to stop the frame loop and release the camera.
	KindStopCamera Kind = "STOP_CAMERA"
	// KindGestureDetected carries one debounced gesture.
	KindGestureDetected Kind = "GESTURE_DETECTED"
	// KindGetStatus asks an endpoint for a status snapshot.
	KindGetStatus Kind = "GET_STATUS"
)

// legacyKinds maps discriminators used by earlier clients.
var legacyKinds = map[Kind]Kind{
	"INIT_MEDIAPIPE": KindInitInference,
}

// Known reports whether k is a recognized discriminator.
func (k Kind) Known() bool {
	switch k {
	case KindToggleGestures, KindUpdateSettings, KindStartGestures, KindStopGestures,
		KindInitInference, KindStartCamera, KindStopCamera, KindGestureDetected, KindGetStatus:
		return true
	}
	return false
}

// Message is the single tagged-union message type. Only the fields relevant to
// Kind are populated.
type Message struct {
	ID   string `json:"id,omitempty"`
	Kind Kind   `json:"type"`

	// toggleGestures
	Enabled bool `json:"enabled,omitempty"`
	// toggleGestures, updateSettings
	Settings *settings.Patch `json:"settings,omitempty"`

	// GESTURE_DETECTED
	Gesture    string  `json:"gesture,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"`
}

// New returns a message of the given kind with a fresh ID.
func New(kind Kind) Message {
	return Message{ID: uuid.NewString(), Kind: kind}
}

// Toggle builds a toggleGestures message carrying a full settings snapshot.
func Toggle(enabled bool, s settings.Settings) Message {
	m := New(KindToggleGestures)
	m.Enabled = enabled
	p := s.AsPatch()
	m.Settings = &p
	return m
}

// UpdateSettings builds an updateSettings message.
func UpdateSettings(p settings.Patch) Message {
	m := New(KindUpdateSettings)
	m.Settings = &p
	return m
}

// GestureDetected builds a GESTURE_DETECTED message.
func GestureDetected(gesture string, confidence float64, at time.Time) Message {
	m := New(KindGestureDetected)
	m.Gesture = gesture
	m.Confidence = confidence
	m.Timestamp = at.UnixMilli()
	return m
}

// Validate checks the message against its variant's schema.
func (m Message) Validate() error {
	if !m.Kind.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Kind)
	}

	switch m.Kind {
	case KindUpdateSettings:
		if m.Settings == nil || m.Settings.Empty() {
			return fmt.Errorf("%w: %s requires settings", ErrInvalidMessage, m.Kind)
		}
	case KindGestureDetected:
		if strings.TrimSpace(m.Gesture) == "" {
			return fmt.Errorf("%w: gesture cannot be empty", ErrInvalidMessage)
		}
		if m.Confidence < 0 || m.Confidence > 1 {
			return fmt.Errorf("%w: confidence must be between 0 and 1, got %f", ErrInvalidMessage, m.Confidence)
		}
	}
	return nil
}

// UnmarshalJSON accepts both the "type" and the legacy "action" discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var raw struct {
		alias
		Action Kind `json:"action"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	msg := Message(raw.alias)
	if msg.Kind == "" {
		msg.Kind = raw.Action
	}
	if mapped, ok := legacyKinds[msg.Kind]; ok {
		msg.Kind = mapped
	}
	*m = msg
	return nil
}

// Decode parses and validates a message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
