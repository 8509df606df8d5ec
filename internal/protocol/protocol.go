// Package protocol defines the wire format exchanged with relay clients: a
// JSON envelope carrying an event name and a payload, and the closed set of
// inbound and outbound payload variants.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event names.
const (
	EventValidateUser        = "validate-user"
	EventLocal               = "local"
	EventGlobal              = "global"
	EventWhisper             = "whisper"
	EventWhisperByID         = "whisper-by-id"
	EventGroup               = "group"
	EventCreateGroup         = "create-group"
	EventUpdateGroup         = "update-group"
	EventGroupJoin           = "group-join"
	EventGroupLeave          = "group-leave"
	EventGroupInvitationList = "group-invitation-list"
	EventGroupUserList       = "group-user-list"
	EventGroupList           = "group-list"
	EventGroupInvite         = "group-invite"
	EventGroupInviteAccept   = "group-invite-accept"
	EventGroupInviteDecline  = "group-invite-decline"
	EventLeaveGroup          = "leave-group"
	EventKickUser            = "kick-user"
)

var (
	// ErrUnknownEvent is returned for envelopes naming an event clients may not send.
	ErrUnknownEvent = errors.New("protocol: unknown event")
	// ErrInvalidPayload is returned for malformed envelopes or payloads.
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

// Envelope is the frame carried by every websocket text message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every payload a client may send.
type Inbound interface {
	Event() string
	validate() error
}

var inboundTypes = map[string]func() Inbound{
	EventValidateUser:        func() Inbound { return &ValidateUser{} },
	EventLocal:               func() Inbound { return &Local{} },
	EventGlobal:              func() Inbound { return &Global{} },
	EventWhisper:             func() Inbound { return &Whisper{} },
	EventWhisperByID:         func() Inbound { return &WhisperByID{} },
	EventGroup:               func() Inbound { return &GroupMessage{} },
	EventCreateGroup:         func() Inbound { return &CreateGroup{} },
	EventUpdateGroup:         func() Inbound { return &UpdateGroup{} },
	EventGroupInvite:         func() Inbound { return &GroupInvite{} },
	EventGroupInviteAccept:   func() Inbound { return &GroupInviteAccept{} },
	EventGroupInviteDecline:  func() Inbound { return &GroupInviteDecline{} },
	EventLeaveGroup:          func() Inbound { return &LeaveGroup{} },
	EventKickUser:            func() Inbound { return &KickUser{} },
	EventGroupInvitationList: func() Inbound { return &GroupInvitationListRequest{} },
	EventGroupUserList:       func() Inbound { return &GroupUserListRequest{} },
	EventGroupList:           func() Inbound { return &GroupListRequest{} },
}

// Decode parses a raw frame into one of the inbound variants. Unknown
// events, unknown fields, and missing required fields are rejected.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	factory, ok := inboundTypes[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	msg := factory()
	data := env.Data
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = []byte("{}")
	}
	if err := strictUnmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	return msg, nil
}

// Encode frames an outbound payload under the given event name.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%s is required", fields[i])
		}
	}
	return nil
}
