package schemas

import (
	"slices"
	"strings"
	"time"
)

// Identity is one of the fixed chat participants. The set of valid identities comes from config.
type Identity string

// ConversationKey identifies the shared channel between two identities.
// format: sorted identities joined by "-"
type ConversationKey string

// NewConversationKey derives the key for a pair of identities. The order of a and b does not matter.
func NewConversationKey(a, b Identity) ConversationKey {
	pair := []string{string(a), string(b)}
	slices.Sort(pair)
	return ConversationKey(strings.Join(pair, "-"))
}

// Message is a single chat message. Deleted messages keep their content, clients hide them.
type Message struct {
	Id        int64     `json:"id"`
	From      Identity  `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Deleted   bool      `json:"deleted"`
}

// Profile stores the public information about an identity
type Profile struct {
	Identity Identity `json:"identity"`

	// nil until the owner uploads an avatar. Either a URL or a data: URL
	AvatarRef *string `json:"avatarRef"`
}

// Visible returns the messages that have not been deleted, preserving order.
func Visible(messages []Message) []Message {
	visible := make([]Message, 0, len(messages))
	for _, m := range messages {
		if !m.Deleted {
			visible = append(visible, m)
		}
	}
	return visible
}
