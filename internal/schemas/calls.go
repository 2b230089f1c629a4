package schemas

import (
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// CallState is the lifecycle state of a call session.
type CallState int

const (
	CallIdle CallState = iota
	CallOffering
	CallActive
	CallStateEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOffering:
		return "offering"
	case CallActive:
		return "active"
	case CallStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MediaType is the kind of call the caller requested
type MediaType string

const (
	MediaVoice MediaType = "voice"
	MediaVideo MediaType = "video"
)

// CallSession stores signaling information for the call between the two identities of a conversation.
// It exists from the moment an offer is made until the call ends.
type CallSession struct {
	// generated when the offer is accepted by the relay
	Id uuid.UUID

	Conversation ConversationKey

	Caller,
	Callee Identity

	State     CallState
	MediaType MediaType

	Offer  webrtc.SessionDescription
	Answer *webrtc.SessionDescription

	// candidates trickled in before the other side could apply the remote description
	PendingIceFromCaller,
	PendingIceFromCallee []webrtc.ICECandidateInit

	CreatedAt time.Time
}

// Participant reports whether id is the caller or the callee of this session
func (c *CallSession) Participant(id Identity) bool {
	return id == c.Caller || id == c.Callee
}

// Other returns the participant that is not id. id must be a participant.
func (c *CallSession) Other(id Identity) Identity {
	if id == c.Caller {
		return c.Callee
	}
	return c.Caller
}
