package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gregriff/duet/internal/errs"
	"github.com/pion/webrtc/v4"
)

// EventName is the name carried by every websocket frame
type EventName string

// inbound (client -> relay)
const (
	EventJoin          EventName = "join"
	EventSendMessage   EventName = "send_message"
	EventDeleteMessage EventName = "delete_message"
	EventUploadProfile EventName = "upload_profile"
	EventCallOffer     EventName = "call_offer"
	EventCallAnswer    EventName = "call_answer"
	EventIceCandidate  EventName = "ice_candidate"
	EventEndCall       EventName = "end_call"
)

// outbound (relay -> client)
const (
	EventLoadMessages    EventName = "load_messages"
	EventLoadProfiles    EventName = "load_profiles"
	EventNewMessage      EventName = "new_message"
	EventMessageDeleted  EventName = "message_deleted"
	EventProfileUpdated  EventName = "profile_updated"
	EventUserOnline      EventName = "user_online"
	EventUserOffline     EventName = "user_offline"
	EventIncomingCall    EventName = "incoming_call"
	EventCallAnswered    EventName = "call_answered"
	EventNewIceCandidate EventName = "new_ice_candidate"
	EventCallEnded       EventName = "call_ended"
	EventError           EventName = "error"
)

// Envelope is the JSON frame exchanged over the websocket.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is an event sent by a client. The set of implementations is closed to this package.
type Inbound interface {
	Name() EventName
	inbound()
}

type Join struct {
	Identity Identity `json:"identity"`
}

type SendMessage struct {
	Text string `json:"text"`
}

type DeleteMessage struct {
	Id int64 `json:"id"`
}

type UploadProfile struct {
	AvatarRef string `json:"avatarRef"`
}

type CallOffer struct {
	Offer     webrtc.SessionDescription `json:"offer"`
	MediaType MediaType                 `json:"mediaType"`
}

type CallAnswer struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type IceCandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type EndCall struct{}

func (Join) Name() EventName          { return EventJoin }
func (SendMessage) Name() EventName   { return EventSendMessage }
func (DeleteMessage) Name() EventName { return EventDeleteMessage }
func (UploadProfile) Name() EventName { return EventUploadProfile }
func (CallOffer) Name() EventName     { return EventCallOffer }
func (CallAnswer) Name() EventName    { return EventCallAnswer }
func (IceCandidate) Name() EventName  { return EventIceCandidate }
func (EndCall) Name() EventName       { return EventEndCall }

func (Join) inbound()          {}
func (SendMessage) inbound()   {}
func (DeleteMessage) inbound() {}
func (UploadProfile) inbound() {}
func (CallOffer) inbound()     {}
func (CallAnswer) inbound()    {}
func (IceCandidate) inbound()  {}
func (EndCall) inbound()       {}

// UnmarshalJSON also accepts a bare string, which older clients send for join.
func (j *Join) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte(`"`)) {
		return json.Unmarshal(b, &j.Identity)
	}
	type plain Join
	return json.Unmarshal(b, (*plain)(j))
}

// UnmarshalJSON also accepts a bare number, which older clients send for delete_message.
func (d *DeleteMessage) UnmarshalJSON(b []byte) error {
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] != '{' {
		return json.Unmarshal(trimmed, &d.Id)
	}
	type plain DeleteMessage
	return json.Unmarshal(b, (*plain)(d))
}

// DecodeInbound parses the data of an envelope into its concrete inbound event.
func DecodeInbound(env Envelope) (Inbound, error) {
	switch env.Event {
	case EventJoin:
		return decode[Join](env)
	case EventSendMessage:
		return decode[SendMessage](env)
	case EventDeleteMessage:
		return decode[DeleteMessage](env)
	case EventUploadProfile:
		return decode[UploadProfile](env)
	case EventCallOffer:
		return decode[CallOffer](env)
	case EventCallAnswer:
		return decode[CallAnswer](env)
	case EventIceCandidate:
		return decode[IceCandidate](env)
	case EventEndCall:
		return EndCall{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event %q", errs.ErrInvalidPayload, env.Event)
	}
}

// Outbound is an event sent by the relay to a client. The set of implementations is closed to this package.
type Outbound interface {
	Name() EventName
	outbound()
}

// LoadMessages is the full history, deleted messages included
type LoadMessages []Message

// LoadProfiles maps every identity to its profile
type LoadProfiles map[Identity]Profile

type NewMessage struct {
	Message
}

type MessageDeleted struct {
	Id int64 `json:"id"`
}

type ProfileUpdated struct {
	Identity  Identity `json:"identity"`
	AvatarRef *string  `json:"avatarRef"`
}

type UserOnline struct {
	Identity Identity `json:"identity"`
}

type UserOffline struct {
	Identity Identity `json:"identity"`
}

type IncomingCall struct {
	From      Identity                  `json:"from"`
	Offer     webrtc.SessionDescription `json:"offer"`
	MediaType MediaType                 `json:"mediaType"`
}

type CallAnswered struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type NewIceCandidate struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type CallEnded struct{}

// Error reports a failed request back to the client that sent it. It is never sent to the peer.
type Error struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Event   EventName `json:"event,omitempty"`
}

func (LoadMessages) Name() EventName    { return EventLoadMessages }
func (LoadProfiles) Name() EventName    { return EventLoadProfiles }
func (NewMessage) Name() EventName      { return EventNewMessage }
func (MessageDeleted) Name() EventName  { return EventMessageDeleted }
func (ProfileUpdated) Name() EventName  { return EventProfileUpdated }
func (UserOnline) Name() EventName      { return EventUserOnline }
func (UserOffline) Name() EventName     { return EventUserOffline }
func (IncomingCall) Name() EventName    { return EventIncomingCall }
func (CallAnswered) Name() EventName    { return EventCallAnswered }
func (NewIceCandidate) Name() EventName { return EventNewIceCandidate }
func (CallEnded) Name() EventName       { return EventCallEnded }
func (Error) Name() EventName           { return EventError }

func (LoadMessages) outbound()    {}
func (LoadProfiles) outbound()    {}
func (NewMessage) outbound()      {}
func (MessageDeleted) outbound()  {}
func (ProfileUpdated) outbound()  {}
func (UserOnline) outbound()      {}
func (UserOffline) outbound()     {}
func (IncomingCall) outbound()    {}
func (CallAnswered) outbound()    {}
func (NewIceCandidate) outbound() {}
func (CallEnded) outbound()       {}
func (Error) outbound()           {}

// Encode wraps an event in an envelope
func Encode[T interface{ Name() EventName }](evt T) (Envelope, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("error encoding %s: %w", evt.Name(), err)
	}
	return Envelope{Event: evt.Name(), Data: data}, nil
}

// DecodeOutbound parses the data of an envelope into its concrete outbound event. Used by clients.
func DecodeOutbound(env Envelope) (Outbound, error) {
	switch env.Event {
	case EventLoadMessages:
		return decode[LoadMessages](env)
	case EventLoadProfiles:
		return decode[LoadProfiles](env)
	case EventNewMessage:
		return decode[NewMessage](env)
	case EventMessageDeleted:
		return decode[MessageDeleted](env)
	case EventProfileUpdated:
		return decode[ProfileUpdated](env)
	case EventUserOnline:
		return decode[UserOnline](env)
	case EventUserOffline:
		return decode[UserOffline](env)
	case EventIncomingCall:
		return decode[IncomingCall](env)
	case EventCallAnswered:
		return decode[CallAnswered](env)
	case EventNewIceCandidate:
		return decode[NewIceCandidate](env)
	case EventCallEnded:
		return CallEnded{}, nil
	case EventError:
		return decode[Error](env)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", errs.ErrInvalidPayload, env.Event)
	}
}

func decode[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return v, fmt.Errorf("%w: %s has no data", errs.ErrInvalidPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %w", errs.ErrInvalidPayload, env.Event, err)
	}
	return v, nil
}
