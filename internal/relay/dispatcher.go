package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/presence"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/gregriff/duet/internal/validation"
)

// Dispatcher routes inbound events of a conversation to the stores and the call coordinator, and
// the resulting outbound events to the live connections.
type Dispatcher struct {
	conv *Conversation

	// identity each connection joined as, guarded by conv.mu
	joined map[uuid.UUID]schemas.Identity

	// offer expiry timers by call session, guarded by conv.mu
	timers map[uuid.UUID]*time.Timer
}

func NewDispatcher(conv *Conversation) *Dispatcher {
	return &Dispatcher{
		conv:   conv,
		joined: make(map[uuid.UUID]schemas.Identity),
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

func (d *Dispatcher) Conversation() *Conversation { return d.conv }

// Join registers conn as the live connection of id and sends it the conversation state:
// load_messages, load_profiles, then user_online for an online peer and incoming_call for an
// offer still waiting on id.
//
// An identity outside the conversation returns errs.ErrInvalidIdentity and nothing is registered;
// the transport closes the connection. If the history cannot be read, the error is reported to
// conn and it stays unjoined. A join from a connection that has been superseded is dropped, and a
// connection that cannot queue the whole state is closed.
func (d *Dispatcher) Join(ctx context.Context, conn presence.Conn, id schemas.Identity) error {
	c := d.conv
	peer, ok := c.Peer(id)
	if !ok {
		c.log.Warn("join with unknown identity", "identity", id, "conn", conn.Handle())
		return fmt.Errorf("%w: %q is not part of this conversation", errs.ErrInvalidIdentity, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previousId, rejoin := d.joined[conn.Handle()]
	if rejoin && !c.presence.Current(previousId, conn) {
		c.log.Debug("dropping join from superseded connection", "identity", id, "conn", conn.Handle())
		return nil
	}

	history, err := c.messages.Load(ctx, c.Key)
	if err != nil {
		return d.fail(conn, schemas.EventJoin, err)
	}
	profiles, err := c.profiles.All(ctx, c.identities)
	if err != nil {
		return d.fail(conn, schemas.EventJoin, err)
	}

	if rejoin && previousId != id {
		// a connection switching identities leaves the old one first
		d.leave(conn, previousId)
		rejoin = false
	}

	outcome, previous := c.presence.Register(id, conn)
	d.joined[conn.Handle()] = id

	switch {
	case outcome == presence.ReplacedPrevious:
		c.log.Info("identity reconnected, closing previous connection", "identity", id, "conn", conn.Handle(), "previous", previous.Handle())
		// the call's media lived in the previous connection
		d.endCallOf(id)
		previous.Close()
	case rejoin:
		c.log.Debug("connection joined again, resending state", "identity", id, "conn", conn.Handle())
	default:
		c.log.Info("identity online", "identity", id, "conn", conn.Handle())
		c.deliver(peer, schemas.UserOnline{Identity: id})
	}

	state := []schemas.Outbound{schemas.LoadMessages(history), schemas.LoadProfiles(profiles)}
	if c.presence.Online(peer) {
		state = append(state, schemas.UserOnline{Identity: peer})
	}
	if incoming, ok := c.calls.PendingOffer(id); ok {
		state = append(state, incoming)
	}
	for _, evt := range state {
		if !conn.Send(evt) {
			c.log.Warn("outbound queue full during join, closing connection", "identity", id, "conn", conn.Handle(), "event", evt.Name())
			conn.Close()
			break
		}
	}
	return nil
}

// Handle processes one inbound event from conn. Failures are reported to conn only, except stale
// signals and deletes of unknown messages which are dropped. The error is returned for the
// transport; only errs.ErrInvalidIdentity requires it to act.
func (d *Dispatcher) Handle(ctx context.Context, conn presence.Conn, evt schemas.Inbound) error {
	if join, ok := evt.(schemas.Join); ok {
		return d.Join(ctx, conn, join.Identity)
	}

	c := d.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	id, joined := d.joined[conn.Handle()]
	if !joined {
		return d.fail(conn, evt.Name(), fmt.Errorf("%w: join before sending %s", errs.ErrNotJoined, evt.Name()))
	}
	if !c.presence.Current(id, conn) {
		c.log.Debug("dropping event from superseded connection", "identity", id, "conn", conn.Handle(), "event", evt.Name())
		return nil
	}
	peer, _ := c.Peer(id)

	var err error
	switch e := evt.(type) {
	case schemas.SendMessage:
		err = d.sendMessage(ctx, id, e)
	case schemas.DeleteMessage:
		err = d.deleteMessage(ctx, id, e)
	case schemas.UploadProfile:
		err = d.uploadProfile(ctx, id, e)
	case schemas.CallOffer:
		err = d.callOffer(id, peer, e)
	case schemas.CallAnswer:
		err = d.callAnswer(id, e)
	case schemas.IceCandidate:
		err = d.iceCandidate(id, e)
	case schemas.EndCall:
		err = d.endCall(id)
	default:
		err = fmt.Errorf("%w: unhandled event %s", errs.ErrInvalidPayload, evt.Name())
	}
	if err != nil {
		return d.fail(conn, evt.Name(), err)
	}
	return nil
}

// Leave clears the registration of conn. If it was the live connection of its identity, a call
// involving that identity ends and the peer is told the identity went offline.
func (d *Dispatcher) Leave(conn presence.Conn) {
	c := d.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	id, joined := d.joined[conn.Handle()]
	if !joined {
		return
	}
	d.leave(conn, id)
}

// must be called with mu held
func (d *Dispatcher) leave(conn presence.Conn, id schemas.Identity) {
	c := d.conv
	delete(d.joined, conn.Handle())
	if !c.presence.Unregister(id, conn) {
		// superseded, the replacement already ended the call
		return
	}
	c.log.Info("identity offline", "identity", id, "conn", conn.Handle())
	d.endCallOf(id)
	peer, _ := c.Peer(id)
	c.deliver(peer, schemas.UserOffline{Identity: id})
}

// must be called with mu held
func (d *Dispatcher) endCallOf(id schemas.Identity) {
	ended, deliveries, ok := d.conv.calls.Disconnect(id)
	if !ok {
		return
	}
	d.stopTimer(ended.Id)
	d.conv.forward(deliveries)
}

func (d *Dispatcher) sendMessage(ctx context.Context, from schemas.Identity, e schemas.SendMessage) error {
	c := d.conv
	if err := validation.MessageText(e.Text, c.limits.MaxTextLength); err != nil {
		return err
	}
	msg, err := c.messages.Append(ctx, c.Key, from, e.Text)
	if err != nil {
		return err
	}
	c.log.Debug("message appended", "identity", from, "id", msg.Id)
	c.broadcast(schemas.NewMessage{Message: msg})
	return nil
}

func (d *Dispatcher) deleteMessage(ctx context.Context, requester schemas.Identity, e schemas.DeleteMessage) error {
	c := d.conv
	_, changed, err := c.messages.SoftDelete(ctx, c.Key, e.Id, requester)
	if err != nil {
		return err
	}
	if changed {
		c.log.Debug("message deleted", "identity", requester, "id", e.Id)
		c.broadcast(schemas.MessageDeleted{Id: e.Id})
	}
	return nil
}

func (d *Dispatcher) uploadProfile(ctx context.Context, owner schemas.Identity, e schemas.UploadProfile) error {
	c := d.conv
	if err := validation.AvatarRef(e.AvatarRef, c.limits.MaxAvatarBytes); err != nil {
		return err
	}
	profile, err := c.profiles.Set(ctx, owner, e.AvatarRef)
	if err != nil {
		return err
	}
	c.broadcast(schemas.ProfileUpdated{Identity: profile.Identity, AvatarRef: profile.AvatarRef})
	return nil
}

func (d *Dispatcher) callOffer(caller, callee schemas.Identity, e schemas.CallOffer) error {
	if e.MediaType == "" {
		e.MediaType = schemas.MediaVoice
	}
	if err := validation.Offer(e.Offer, e.MediaType); err != nil {
		return err
	}
	session, deliveries, err := d.conv.calls.Offer(caller, callee, e.Offer, e.MediaType)
	if err != nil {
		return err
	}
	d.conv.forward(deliveries)

	if timeout := d.conv.limits.OfferTimeout; timeout > 0 {
		d.timers[session.Id] = time.AfterFunc(timeout, func() { d.expire(session.Id) })
	}
	return nil
}

func (d *Dispatcher) callAnswer(callee schemas.Identity, e schemas.CallAnswer) error {
	if err := validation.Answer(e.Answer); err != nil {
		return err
	}
	deliveries, err := d.conv.calls.Answer(callee, e.Answer)
	if err != nil {
		return err
	}
	if session, ok := d.conv.calls.Session(); ok {
		d.stopTimer(session.Id)
	}
	d.conv.forward(deliveries)
	return nil
}

func (d *Dispatcher) iceCandidate(from schemas.Identity, e schemas.IceCandidate) error {
	if err := validation.Candidate(e.Candidate); err != nil {
		return err
	}
	deliveries, err := d.conv.calls.Candidate(from, e.Candidate)
	if err != nil {
		return err
	}
	d.conv.forward(deliveries)
	return nil
}

func (d *Dispatcher) endCall(from schemas.Identity) error {
	ended, deliveries, err := d.conv.calls.End(from)
	if err != nil {
		return err
	}
	d.stopTimer(ended.Id)
	d.conv.forward(deliveries)
	return nil
}

// expire ends the session if it is still unanswered
func (d *Dispatcher) expire(session uuid.UUID) {
	c := d.conv
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(d.timers, session)
	if _, deliveries, expired := c.calls.Expire(session); expired {
		c.log.Info("unanswered offer expired", "call", session)
		c.forward(deliveries)
	}
}

// must be called with mu held
func (d *Dispatcher) stopTimer(session uuid.UUID) {
	if timer, ok := d.timers[session]; ok {
		timer.Stop()
		delete(d.timers, session)
	}
}

// Close stops pending offer timers
func (d *Dispatcher) Close() {
	d.conv.mu.Lock()
	defer d.conv.mu.Unlock()
	for session, timer := range d.timers {
		timer.Stop()
		delete(d.timers, session)
	}
}

// fail reports err to conn when the client should know about it, and returns err.
// must be called with mu held
func (d *Dispatcher) fail(conn presence.Conn, event schemas.EventName, err error) error {
	log := d.conv.log.With("conn", conn.Handle(), "event", event, "err", err)
	if !errs.Surfaced(err) {
		log.Debug("dropping event")
		return err
	}

	msg := err.Error()
	if errors.Is(err, errs.ErrStorage) {
		log.Error("storage failure")
		msg = "storage unavailable, try again"
	} else {
		log.Warn("rejected event")
	}
	conn.Send(schemas.Error{Code: errs.Code(err), Message: msg, Event: event})
	return err
}
