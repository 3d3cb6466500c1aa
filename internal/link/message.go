// Package link implements the broker credential-link coordinator: it
// hands out the child-window login URL, consumes the completion
// messages the child posts back, and keeps the connection status
// consistent with the handshake outcome.
package link

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrUnrecognizedMessage marks a payload that matches none of the known
// completion shapes. Such messages are ignored without a state change.
var ErrUnrecognizedMessage = errors.New("link: unrecognized message payload")

// Message is the decoded form of a child-window completion payload.
// Exactly one of the concrete types below is produced per payload.
type Message interface {
	isLinkMessage()
}

// SuccessMessage is the literal "success" marker.
type SuccessMessage struct{}

// FailureMessage is the literal "failed" marker.
type FailureMessage struct{}

// TokenMessage carries an access token obtained by the child window.
type TokenMessage struct {
	AccessToken string
	UserID      string
}

// ErrorMessage carries an error reported by the child window.
type ErrorMessage struct {
	Reason string
}

func (SuccessMessage) isLinkMessage() {}
func (FailureMessage) isLinkMessage() {}
func (TokenMessage) isLinkMessage()   {}
func (ErrorMessage) isLinkMessage()   {}

// DecodeMessage inspects a raw payload and produces the matching
// Message. Shapes are recognized in priority order: the literal success
// marker, the literal failure marker, a token-bearing object, then an
// error-bearing object. Anything else is ErrUnrecognizedMessage.
//
// The literals are accepted both as bare strings ("success") and as
// JSON strings ("\"success\""), since the child posts the former and
// JSON relays deliver the latter.
func DecodeMessage(raw []byte) (Message, error) {
	trimmed := bytes.TrimSpace(raw)

	switch string(trimmed) {
	case "success":
		return SuccessMessage{}, nil
	case "failed":
		return FailureMessage{}, nil
	}

	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		switch str {
		case "success":
			return SuccessMessage{}, nil
		case "failed":
			return FailureMessage{}, nil
		}
		return nil, ErrUnrecognizedMessage
	}

	var obj struct {
		AccessToken *string `json:"access_token"`
		UserID      string  `json:"user_id"`
		Error       *string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, ErrUnrecognizedMessage
	}
	if obj.AccessToken != nil {
		return TokenMessage{AccessToken: *obj.AccessToken, UserID: obj.UserID}, nil
	}
	if obj.Error != nil {
		return ErrorMessage{Reason: *obj.Error}, nil
	}
	return nil, ErrUnrecognizedMessage
}
