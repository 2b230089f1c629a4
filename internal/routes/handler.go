// package routes contains the exposed API endpoints
package routes

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gregriff/duet/internal/relay"
	"github.com/pion/webrtc/v4"
)

// Limits for each websocket connection
type Limits struct {
	// events queued for a connection before it is considered too slow and closed
	OutboundBuffer int

	MaxMessageBytes      int
	MaxMessagesPerSecond int
	JoinTimeout          time.Duration
}

// RouteHandler provides the dependencies for any endpoint, and is the reciever of the endpoint handling functions
type RouteHandler struct {
	dispatcher *relay.Dispatcher
	iceServers []webrtc.ICEServer
	limits     Limits
	log        *slog.Logger

	// closed on shutdown, every websocket then hangs up
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRouteHandler creates the reciever for all endpoint handling functions
func NewRouteHandler(dispatcher *relay.Dispatcher, iceServers []webrtc.ICEServer, limits Limits, log *slog.Logger) *RouteHandler {
	if iceServers == nil {
		iceServers = []webrtc.ICEServer{}
	}
	return &RouteHandler{
		dispatcher: dispatcher,
		iceServers: iceServers,
		limits:     limits,
		log:        log,
		closing:    make(chan struct{}),
	}
}

// Close disconnects every websocket. http.Server.Shutdown does not track hijacked connections.
func (h *RouteHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}
