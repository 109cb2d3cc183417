package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserved message types.
const (
	TypeVerification       = "verification"
	TypeAssignedID         = "assignedID"
	TypeClientConnected    = "clientConnected"
	TypeClientDisconnected = "clientDisconnected"
)

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrMissingType = errors.New("missing msgType")
	ErrNoPayload   = errors.New("missing msgPayload")
)

// DecodeError is returned by Decode when a frame is not a structurally valid
// envelope. It always matches ErrMalformed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformed, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// Envelope is the unit of communication between the hub and its clients.
type Envelope struct {
	ID        string          `json:"msgID"`
	Type      string          `json:"msgType"`
	Source    string          `json:"msgSource"`
	Target    *string         `json:"msgTarget"`
	Timestamp string          `json:"msgTimestamp"`
	Payload   json.RawMessage `json:"msgPayload"`
}

// VerificationPayload is the payload of a verification envelope.
type VerificationPayload struct {
	ClientType string `json:"clientType"`
}

// AssignedIDPayload is the payload of an assignedID envelope.
type AssignedIDPayload struct {
	AssignedID string `json:"assignedID"`
}

// ClientPayload is the public view of a client carried by clientConnected and
// clientDisconnected envelopes.
type ClientPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// IsReserved reports whether msgType is one of the hub's control types.
func IsReserved(msgType string) bool {
	switch msgType {
	case TypeVerification, TypeAssignedID, TypeClientConnected, TypeClientDisconnected:
		return true
	}
	return false
}

// New builds an envelope with a fresh ID and the current time. An empty target
// produces a null msgTarget.
func New(source, msgType string, payload any, target string) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	env := &Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Source:    source,
		Timestamp: Now(),
		Payload:   raw,
	}
	env.SetTarget(target)
	return env, nil
}

// Now returns the current time in the envelope timestamp format.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Encode serializes an envelope to a single JSON object.
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses a frame into an envelope. Any structural problem is reported
// as a *DecodeError.
func Decode(data []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Err: errors.New("frame is not a JSON object")}
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: ErrMissingType}
	}

	return &env, nil
}

// HasTarget reports whether the envelope names a recipient.
func (e *Envelope) HasTarget() bool {
	return e.Target != nil && *e.Target != ""
}

// TargetID returns the recipient, or "" when there is none.
func (e *Envelope) TargetID() string {
	if e.Target == nil {
		return ""
	}
	return *e.Target
}

// SetTarget sets the recipient. An empty id clears it.
func (e *Envelope) SetTarget(id string) {
	if id == "" {
		e.Target = nil
		return
	}
	e.Target = &id
}

// HasPayload reports whether a non-null payload is present.
func (e *Envelope) HasPayload() bool {
	p := bytes.TrimSpace(e.Payload)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if !e.HasPayload() {
		return ErrNoPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
