package relay

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gregriff/duet/internal/dal"
	"github.com/gregriff/duet/internal/db"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const (
	alice schemas.Identity = "mango1"
	bob   schemas.Identity = "mango2"
)

// fakeConn records what the dispatcher queues on a connection
type fakeConn struct {
	handle uuid.UUID

	mu     sync.Mutex
	events []schemas.Outbound
	closed bool
	full   bool

	// queue capacity, zero is unbounded
	limit int
}

func newFakeConn() *fakeConn {
	return &fakeConn{handle: uuid.New()}
}

func (f *fakeConn) Handle() uuid.UUID { return f.handle }

func (f *fakeConn) Send(evt schemas.Outbound) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full || (f.limit > 0 && len(f.events) >= f.limit) {
		return false
	}
	f.events = append(f.events, evt)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// drain returns the queued events and forgets them
func (f *fakeConn) drain() []schemas.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.events
	f.events = nil
	return events
}

func (f *fakeConn) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func names(events []schemas.Outbound) []schemas.EventName {
	out := make([]schemas.EventName, 0, len(events))
	for _, e := range events {
		out = append(out, e.Name())
	}
	return out
}

var defaultLimits = Limits{
	MaxTextLength:  5000,
	MaxAvatarBytes: 1 << 20,
	MaxPendingIce:  32,
}

// newSqliteDispatcher wires a dispatcher to sqlite stores in a temp dir
func newSqliteDispatcher(t *testing.T, limits Limits) *Dispatcher {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "duet.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	conv, err := NewConversation(alice, bob, dal.NewMessageStore(conn), dal.NewProfileStore(conn), limits, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	d := NewDispatcher(conv)
	t.Cleanup(d.Close)
	return d
}

// joinBoth joins alice then bob and discards the join traffic
func joinBoth(t *testing.T, d *Dispatcher) (a, b *fakeConn) {
	t.Helper()
	ctx := context.Background()
	a, b = newFakeConn(), newFakeConn()
	require.NoError(t, d.Join(ctx, a, alice))
	require.NoError(t, d.Join(ctx, b, bob))
	a.drain()
	b.drain()
	return a, b
}
