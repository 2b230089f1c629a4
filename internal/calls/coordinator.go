// Package calls brokers the WebRTC signaling handshake between the two identities of a conversation.
//
// The Coordinator is a state machine (idle -> offering -> active -> ended) holding at most one
// session. It never talks to connections itself: every transition returns the events that must be
// forwarded, and the relay delivers them.
package calls

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/pion/webrtc/v4"
)

// Delivery is an event to forward to one participant
type Delivery struct {
	To    schemas.Identity
	Event schemas.Outbound
}

type Coordinator struct {
	mu  sync.Mutex
	key schemas.ConversationKey
	log *slog.Logger

	// bound on each pending candidate queue, the oldest candidate is dropped past it
	maxPendingIce int

	session *schemas.CallSession
	now     func() time.Time
}

func NewCoordinator(key schemas.ConversationKey, log *slog.Logger, maxPendingIce int) *Coordinator {
	return &Coordinator{
		key:           key,
		log:           log,
		maxPendingIce: maxPendingIce,
		now:           time.Now,
	}
}

// State returns the state of the conversation's call. Ended sessions are discarded, so the
// conversation is idle again afterwards.
func (c *Coordinator) State() schemas.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return schemas.CallIdle
	}
	return c.session.State
}

// Session returns a copy of the current session
func (c *Coordinator) Session() (schemas.CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return schemas.CallSession{}, false
	}
	return *c.session, true
}

// Offer starts a call from caller to callee. Only one session may exist per conversation, a second
// offer (from either side) is rejected with errs.ErrCallBusy and the existing session is untouched.
func (c *Coordinator) Offer(caller, callee schemas.Identity, offer webrtc.SessionDescription, mediaType schemas.MediaType) (schemas.CallSession, []Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return schemas.CallSession{}, nil, fmt.Errorf("%w: %s is %s a call from %s",
			errs.ErrCallBusy, c.key, c.session.State, c.session.Caller)
	}

	c.session = &schemas.CallSession{
		Id:           uuid.New(),
		Conversation: c.key,
		Caller:       caller,
		Callee:       callee,
		State:        schemas.CallOffering,
		MediaType:    mediaType,
		Offer:        offer,
		CreatedAt:    c.now(),
	}
	c.log.Info("call offered", "call", c.session.Id, "caller", caller, "callee", callee, "media", mediaType)

	return *c.session, []Delivery{{
		To:    callee,
		Event: incomingCall(c.session),
	}}, nil
}

// Answer moves an offering session to active. The caller receives the answer first, then any
// candidates the callee trickled early; the callee receives the caller's queued candidates.
func (c *Coordinator) Answer(from schemas.Identity, answer webrtc.SessionDescription) ([]Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return nil, fmt.Errorf("%w: answer from %s without a call", errs.ErrStaleSignal, from)
	}
	if s.State != schemas.CallOffering {
		return nil, fmt.Errorf("%w: answer from %s while call is %s", errs.ErrStaleSignal, from, s.State)
	}
	if from != s.Callee {
		return nil, fmt.Errorf("%w: answer from %s who is not the callee", errs.ErrStaleSignal, from)
	}

	s.State = schemas.CallActive
	s.Answer = &answer

	deliveries := make([]Delivery, 0, 1+len(s.PendingIceFromCallee)+len(s.PendingIceFromCaller))
	deliveries = append(deliveries, Delivery{To: s.Caller, Event: schemas.CallAnswered{Answer: answer}})
	for _, candidate := range s.PendingIceFromCallee {
		deliveries = append(deliveries, Delivery{To: s.Caller, Event: schemas.NewIceCandidate{Candidate: candidate}})
	}
	for _, candidate := range s.PendingIceFromCaller {
		deliveries = append(deliveries, Delivery{To: s.Callee, Event: schemas.NewIceCandidate{Candidate: candidate}})
	}
	s.PendingIceFromCallee, s.PendingIceFromCaller = nil, nil

	c.log.Info("call answered", "call", s.Id, "flushed_candidates", len(deliveries)-1)
	return deliveries, nil
}

// Candidate routes a trickled ICE candidate to the other participant. While the call is still
// offering, the candidate is held until the answer arrives. Holding them here departs on purpose
// from forwarding every candidate immediately and leaving buffering to the receiver: browsers
// drop candidates that arrive before they have accepted the call.
func (c *Coordinator) Candidate(from schemas.Identity, candidate webrtc.ICECandidateInit) ([]Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return nil, fmt.Errorf("%w: candidate from %s without a call", errs.ErrStaleSignal, from)
	}
	if !s.Participant(from) {
		return nil, fmt.Errorf("%w: candidate from %s who is not in the call", errs.ErrStaleSignal, from)
	}

	if s.State == schemas.CallActive {
		return []Delivery{{To: s.Other(from), Event: schemas.NewIceCandidate{Candidate: candidate}}}, nil
	}

	if from == s.Caller {
		s.PendingIceFromCaller = c.enqueue(s.PendingIceFromCaller, candidate)
	} else {
		s.PendingIceFromCallee = c.enqueue(s.PendingIceFromCallee, candidate)
	}
	return nil, nil
}

func (c *Coordinator) enqueue(queue []webrtc.ICECandidateInit, candidate webrtc.ICECandidateInit) []webrtc.ICECandidateInit {
	queue = append(queue, candidate)
	if c.maxPendingIce > 0 && len(queue) > c.maxPendingIce {
		c.log.Warn("pending ice queue full, dropping oldest candidate", "call", c.session.Id, "max", c.maxPendingIce)
		queue = queue[len(queue)-c.maxPendingIce:]
	}
	return queue
}

// End terminates the call on behalf of a participant. The other participant gets call_ended.
func (c *Coordinator) End(from schemas.Identity) (schemas.CallSession, []Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return schemas.CallSession{}, nil, fmt.Errorf("%w: end from %s without a call", errs.ErrStaleSignal, from)
	}
	if !s.Participant(from) {
		return schemas.CallSession{}, nil, fmt.Errorf("%w: end from %s who is not in the call", errs.ErrStaleSignal, from)
	}
	ended := c.terminate("ended by " + string(from))
	return ended, []Delivery{{To: ended.Other(from), Event: schemas.CallEnded{}}}, nil
}

// Disconnect ends the call if id takes part in it, exactly like End. It is a no-op otherwise.
func (c *Coordinator) Disconnect(id schemas.Identity) (schemas.CallSession, []Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || !c.session.Participant(id) {
		return schemas.CallSession{}, nil, false
	}
	ended := c.terminate("disconnect of " + string(id))
	return ended, []Delivery{{To: ended.Other(id), Event: schemas.CallEnded{}}}, true
}

// Expire ends the session with the given id if it is still waiting for an answer.
// Both participants get call_ended.
func (c *Coordinator) Expire(id uuid.UUID) (schemas.CallSession, []Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.session.Id != id || c.session.State != schemas.CallOffering {
		return schemas.CallSession{}, nil, false
	}
	ended := c.terminate("offer timed out")
	return ended, []Delivery{
		{To: ended.Caller, Event: schemas.CallEnded{}},
		{To: ended.Callee, Event: schemas.CallEnded{}},
	}, true
}

// PendingOffer returns the incoming_call event for callee if a call to them is still offering.
// Used to notify a callee that joins after the offer was made.
func (c *Coordinator) PendingOffer(callee schemas.Identity) (schemas.IncomingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.session.State != schemas.CallOffering || c.session.Callee != callee {
		return schemas.IncomingCall{}, false
	}
	return incomingCall(c.session), true
}

// terminate must be called with mu held
func (c *Coordinator) terminate(reason string) schemas.CallSession {
	ended := *c.session
	ended.State = schemas.CallStateEnded
	ended.PendingIceFromCaller, ended.PendingIceFromCallee = nil, nil
	c.session = nil

	c.log.Info("call ended", "call", ended.Id, "reason", reason, "duration", c.now().Sub(ended.CreatedAt))
	return ended
}

func incomingCall(s *schemas.CallSession) schemas.IncomingCall {
	return schemas.IncomingCall{
		From:      s.Caller,
		Offer:     s.Offer,
		MediaType: s.MediaType,
	}
}
