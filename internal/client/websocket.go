// Package client is a websocket client of the relay, used by the connect command and end-to-end tests.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gregriff/duet/internal/schemas"
	"golang.org/x/net/websocket"
)

// ErrClosed is returned by Next once the connection is gone and every event was consumed
var ErrClosed = errors.New("connection closed")

// Credentials are for connecting to a relay behind basic auth. Password is empty when auth is off.
type Credentials struct {
	BaseURL  string
	Password string
}

type Client struct {
	ws  *websocket.Conn
	log *slog.Logger

	events  chan schemas.Outbound
	readWg  sync.WaitGroup
	readErr error
}

// Dial opens a websocket to the relay's /ws endpoint. Events are read in the background until Close.
func Dial(ctx context.Context, creds Credentials, log *slog.Logger) (*Client, error) {
	cfg, err := newWebsocketConfig(creds, "/ws")
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("error dialing ws: %w", err)
	}

	c := &Client{
		ws:     ws,
		log:    log,
		events: make(chan schemas.Outbound, 64),
	}
	c.readWg.Go(func() {
		c.readErr = c.readEvents()
		close(c.events)
	})
	return c, nil
}

// newWebsocketConfig creates a new websocket.Config for the relay for a specific endpoint, with basic auth.
func newWebsocketConfig(c Credentials, endpoint string) (*websocket.Config, error) {
	loc := strings.Replace(strings.TrimSuffix(c.BaseURL, "/"), "http", "ws", 1) + endpoint

	cfg, err := websocket.NewConfig(loc, "app://duet") // no real origin b/c we're not a browser
	if err != nil {
		return nil, err
	}

	if c.Password != "" {
		// set basic auth for the http request that initates the ws connection
		auth := base64.StdEncoding.EncodeToString([]byte("duet:" + c.Password))
		cfg.Header.Set("Authorization", "Basic "+auth)
	}
	return cfg, nil
}

// readEvents reads from ws in a loop, decoding every envelope and sending the event to c.events.
// It returns when the ws is closed or a read fails.
func (c *Client) readEvents() error {
	for {
		var env schemas.Envelope
		if err := websocket.JSON.Receive(c.ws, &env); err != nil {
			return err
		}
		evt, err := schemas.DecodeOutbound(env)
		if err != nil {
			c.log.Warn("skipping unknown event", "event", env.Event, "err", err)
			continue
		}
		c.events <- evt
	}
}

// Send writes an inbound event to the relay
func (c *Client) Send(evt schemas.Inbound) error {
	env, err := schemas.Encode(evt)
	if err != nil {
		return err
	}
	if err := websocket.JSON.Send(c.ws, env); err != nil {
		return fmt.Errorf("error writing %s to ws: %w", evt.Name(), err)
	}
	return nil
}

func (c *Client) Join(id schemas.Identity) error {
	return c.Send(schemas.Join{Identity: id})
}

// Events is closed once the connection is gone
func (c *Client) Events() <-chan schemas.Outbound {
	return c.events
}

// Next waits for the next event, or until ctx is done
func (c *Client) Next(ctx context.Context) (schemas.Outbound, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case evt, ok := <-c.events:
		if !ok {
			return nil, ErrClosed
		}
		return evt, nil
	}
}

// Close closes the websocket and waits for the reader to stop. Unread events are discarded.
func (c *Client) Close() error {
	err := c.ws.Close() // errs if already closed
	go func() {
		for range c.events {
		}
	}()
	c.readWg.Wait()
	return err
}

// Err is the error that stopped the reader, valid after Events is closed
func (c *Client) Err() error {
	return c.readErr
}
