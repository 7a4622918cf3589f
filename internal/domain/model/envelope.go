package model

import (
	"encoding/json"
	"time"
)

// EnvelopeAction discriminates queued mutations on the wire.
type EnvelopeAction string

const (
	ActionNewMessage     EnvelopeAction = "m"
	ActionMessageUpdated EnvelopeAction = "u"
	ActionMessageDeleted EnvelopeAction = "d"
)

// Envelope is the wire frame flowing through the incoming queue and the
// recipient exchanges. Keys are short to keep broker payloads small.
type Envelope struct {
	Action         EnvelopeAction `json:"a"`
	GamespaceID    string         `json:"gsps"`
	MessageUUID    string         `json:"msgu"`
	Sender         string         `json:"sndr"`
	RecipientClass string         `json:"class"`
	RecipientKey   string         `json:"key"`
	MessageType    string         `json:"type,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Flags          []string       `json:"fl,omitempty"`
	Time           int64          `json:"tm,omitempty"` // epoch seconds, set on push only
}

// Recipient returns the broker address of the envelope target.
func (e *Envelope) Recipient() Recipient {
	return Recipient{Class: e.RecipientClass, Key: e.RecipientKey}
}

// Validate checks the fields every action requires. Payload presence is
// action-specific and verified by the consumer.
func (e *Envelope) Validate() error {
	switch e.Action {
	case ActionNewMessage, ActionMessageUpdated, ActionMessageDeleted:
	default:
		return NewError(KindBadInput, "unknown envelope action %q", e.Action)
	}
	if e.GamespaceID == "" {
		return NewError(KindBadInput, "missing field: gsps")
	}
	if e.MessageUUID == "" {
		return NewError(KindBadInput, "missing field: msgu")
	}
	if e.Sender == "" {
		return NewError(KindBadInput, "missing field: sndr")
	}
	if e.RecipientClass == "" {
		return NewError(KindBadInput, "missing field: class")
	}
	if e.RecipientKey == "" {
		return NewError(KindBadInput, "missing field: key")
	}
	if e.Action == ActionNewMessage && e.MessageType == "" {
		return NewError(KindBadInput, "missing field: type")
	}
	return nil
}

// DecodeEnvelope parses and validates a broker frame.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, WrapError(KindBadInput, err, "corrupted envelope body")
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, WrapError(KindBadInput, err, "failed to encode envelope")
	}
	return body, nil
}

// Stamp sets the push timestamp, second resolution.
func (e *Envelope) Stamp(at time.Time) *Envelope {
	e.Time = at.UTC().Unix()
	return e
}
