//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_stores.go -package=mocks
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gregriff/duet/internal/calls"
	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/presence"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/gregriff/duet/internal/validation"
)

// MessageStore is the durable message history of a conversation
type MessageStore interface {
	Append(ctx context.Context, key schemas.ConversationKey, from schemas.Identity, text string) (schemas.Message, error)
	SoftDelete(ctx context.Context, key schemas.ConversationKey, id int64, requester schemas.Identity) (schemas.Message, bool, error)
	Load(ctx context.Context, key schemas.ConversationKey) ([]schemas.Message, error)
}

// ProfileStore holds one profile per identity
type ProfileStore interface {
	Get(ctx context.Context, id schemas.Identity) (schemas.Profile, error)
	Set(ctx context.Context, id schemas.Identity, avatarRef string) (schemas.Profile, error)
	All(ctx context.Context, ids []schemas.Identity) (map[schemas.Identity]schemas.Profile, error)
}

// Limits bound what clients may send
type Limits struct {
	MaxTextLength  int
	MaxAvatarBytes int

	// zero disables expiry of unanswered offers
	OfferTimeout  time.Duration
	MaxPendingIce int
}

// Conversation is the shared state between the two identities of a deployment. Every mutation of
// that state goes through mu.
type Conversation struct {
	Key schemas.ConversationKey

	identities []schemas.Identity
	peers      map[schemas.Identity]schemas.Identity

	messages MessageStore
	profiles ProfileStore
	presence *presence.Tracker
	calls    *calls.Coordinator

	limits Limits
	log    *slog.Logger

	mu sync.Mutex
}

func NewConversation(a, b schemas.Identity, messages MessageStore, profiles ProfileStore, limits Limits, log *slog.Logger) (*Conversation, error) {
	for _, id := range []schemas.Identity{a, b} {
		if err := validation.Identity(string(id)); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrInvalidIdentity, err)
		}
	}
	if a == b {
		return nil, fmt.Errorf("%w: a conversation needs two distinct identities, got %s twice", errs.ErrInvalidIdentity, a)
	}

	key := schemas.NewConversationKey(a, b)
	log = log.With("conversation", key)
	return &Conversation{
		Key:        key,
		identities: []schemas.Identity{a, b},
		peers:      map[schemas.Identity]schemas.Identity{a: b, b: a},
		messages:   messages,
		profiles:   profiles,
		presence:   presence.NewTracker(),
		calls:      calls.NewCoordinator(key, log, limits.MaxPendingIce),
		limits:     limits,
		log:        log,
	}, nil
}

// Identities returns the two participants in the order they were configured
func (c *Conversation) Identities() []schemas.Identity {
	return []schemas.Identity{c.identities[0], c.identities[1]}
}

// Peer returns the other participant. ok is false when id is not part of the conversation.
func (c *Conversation) Peer(id schemas.Identity) (schemas.Identity, bool) {
	peer, ok := c.peers[id]
	return peer, ok
}

func (c *Conversation) Presence() *presence.Tracker { return c.presence }

func (c *Conversation) Calls() *calls.Coordinator { return c.calls }

// History returns every message, deleted ones included
func (c *Conversation) History(ctx context.Context) ([]schemas.Message, error) {
	return c.messages.Load(ctx, c.Key)
}

// Profiles returns the profile of both identities
func (c *Conversation) Profiles(ctx context.Context) (map[schemas.Identity]schemas.Profile, error) {
	return c.profiles.All(ctx, c.identities)
}

// deliver queues evt on the live connection of to. Offline identities get nothing. A connection that
// cannot keep up is closed, its reader then leaves the conversation.
// must be called with mu held
func (c *Conversation) deliver(to schemas.Identity, evt schemas.Outbound) {
	conn, ok := c.presence.Lookup(to)
	if !ok {
		c.log.Debug("recipient offline, dropping event", "identity", to, "event", evt.Name())
		return
	}
	if !conn.Send(evt) {
		c.log.Warn("outbound queue full, closing connection", "identity", to, "conn", conn.Handle(), "event", evt.Name())
		conn.Close()
	}
}

// broadcast delivers evt to both participants
func (c *Conversation) broadcast(evt schemas.Outbound) {
	for _, id := range c.identities {
		c.deliver(id, evt)
	}
}

func (c *Conversation) forward(deliveries []calls.Delivery) {
	for _, d := range deliveries {
		c.deliver(d.To, d.Event)
	}
}
