package routes

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gregriff/duet/internal/errs"
	"github.com/gregriff/duet/internal/schemas"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

// RelayWS serves one client of the conversation. The client must send join within the join timeout,
// then every envelope it sends is decoded and handed to the dispatcher. The connection is closed when
// the client sends frames that are too large or too frequent, joins with an unknown identity, cannot
// keep up with its outbound events, or the server shuts down.
func (h *RouteHandler) RelayWS(ws *websocket.Conn) {
	if h.limits.MaxMessageBytes > 0 {
		ws.MaxPayloadBytes = h.limits.MaxMessageBytes
	}

	conn := newWSConn(ws, h.limits.OutboundBuffer, h.log)
	log := conn.log
	log.Debug("websocket connected", "remote_addr", ws.Request().RemoteAddr)

	var (
		readWg   sync.WaitGroup
		readErr  error
		readChan = make(chan []byte)

		writeWg sync.WaitGroup
	)
	defer func() {
		h.dispatcher.Leave(conn)
		conn.Close()
		readWg.Wait()
		writeWg.Wait()
		log.Debug("websocket closed")
	}()

	writeWg.Go(conn.writeForever)
	readWg.Go(func() {
		readErr = ReadForever(ws, websocket.Message, readChan, conn.done)
		close(readChan)
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if n := h.limits.MaxMessagesPerSecond; n > 0 {
		limiter = rate.NewLimiter(rate.Limit(n), n)
	}

	var joinDeadline <-chan time.Time
	if h.limits.JoinTimeout > 0 {
		timer := time.NewTimer(h.limits.JoinTimeout)
		defer timer.Stop()
		joinDeadline = timer.C
	}
	joined := false

	ctx := ws.Request().Context()
	for {
		select {
		case <-h.closing:
			log.Debug("server shutting down")
			return
		case <-conn.done:
			return
		case <-joinDeadline:
			if !joined {
				log.Info("closing connection that never joined")
				return
			}
		case frame, ok := <-readChan:
			if !ok {
				if readErr != nil && !errors.Is(readErr, io.EOF) {
					log.Info("error reading from ws", "err", readErr)
				}
				return
			}
			if !limiter.Allow() {
				log.Warn("rate limit exceeded, closing connection")
				return
			}

			var env schemas.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				conn.Send(schemas.Error{Code: errs.Code(errs.ErrInvalidPayload), Message: "frame is not a JSON envelope"})
				continue
			}
			evt, err := schemas.DecodeInbound(env)
			if err != nil {
				log.Debug("invalid event", "event", env.Event, "err", err)
				conn.Send(schemas.Error{Code: errs.Code(err), Message: err.Error(), Event: env.Event})
				continue
			}

			err = h.dispatcher.Handle(ctx, conn, evt)
			if errors.Is(err, errs.ErrInvalidIdentity) {
				return
			}
			if _, isJoin := evt.(schemas.Join); isJoin && err == nil {
				joined = true
			}
		}
	}
}

// ReadForever reads from ws in a loop with codec, sending the data read to the channel ch.
// It stops when the ws is closed, a read fails, or done is closed, and returns the read error.
func ReadForever[T any](ws *websocket.Conn, codec websocket.Codec, ch chan<- T, done <-chan struct{}) error {
	for {
		var data T
		if err := codec.Receive(ws, &data); err != nil {
			return err
		}
		select {
		case ch <- data:
		case <-done:
			return nil
		}
	}
}
