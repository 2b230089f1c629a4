package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gregriff/duet/configs"
	"github.com/gregriff/duet/internal/client"
	"github.com/gregriff/duet/internal/crypto"
	"github.com/gregriff/duet/internal/dal"
	"github.com/gregriff/duet/internal/db"
	"github.com/gregriff/duet/internal/relay"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/mama165/sdk-go/logs"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

const (
	alice schemas.Identity = "mango1"
	bob   schemas.Identity = "mango2"
)

func testSettings() configs.Settings {
	return configs.Settings{
		LogLevel:   "DEBUG",
		Host:       "127.0.0.1",
		Port:       3000,
		Identities: []schemas.Identity{alice, bob},
		Server: configs.ServerSettings{
			OutboundBuffer:       64,
			MaxMessageBytes:      64 * 1024,
			MaxMessagesPerSecond: 100,
			JoinTimeout:          5 * time.Second,
		},
		Calls:    configs.CallSettings{MaxPendingIce: 32},
		Profiles: configs.ProfileSettings{MaxAvatarBytes: 1 << 20},
		Messages: configs.MessageSettings{MaxTextLength: 5000},
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// newTestServer serves a relay backed by sqlite in a temp dir
func newTestServer(t *testing.T, mutate func(*configs.Settings)) *httptest.Server {
	t.Helper()
	s := testSettings()
	if mutate != nil {
		mutate(&s)
	}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	conn, err := db.Open(filepath.Join(t.TempDir(), "duet.sqlite"))
	require.NoError(t, err)

	conv, err := relay.NewConversation(s.Identities[0], s.Identities[1], dal.NewMessageStore(conn), dal.NewProfileStore(conn), relay.Limits{
		MaxTextLength:  s.Messages.MaxTextLength,
		MaxAvatarBytes: s.Profiles.MaxAvatarBytes,
		OfferTimeout:   s.Calls.OfferTimeout,
		MaxPendingIce:  s.Calls.MaxPendingIce,
	}, log)
	require.NoError(t, err)
	dispatcher := relay.NewDispatcher(conv)

	handler, h := NewHandler(s, dispatcher, log)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
		dispatcher.Close()
		_ = conn.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, password string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, client.Credentials{BaseURL: srv.URL, Password: password}, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, c *client.Client) schemas.Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	evt, err := c.Next(ctx)
	require.NoError(t, err)
	return evt
}

// join sends join and consumes the join state (and user_online when the peer is there)
func join(t *testing.T, c *client.Client, id schemas.Identity, peerOnline bool) (schemas.LoadMessages, schemas.LoadProfiles) {
	t.Helper()
	require.NoError(t, c.Join(id))
	history, ok := next(t, c).(schemas.LoadMessages)
	require.True(t, ok)
	profiles, ok := next(t, c).(schemas.LoadProfiles)
	require.True(t, ok)
	if peerOnline {
		require.IsType(t, schemas.UserOnline{}, next(t, c))
	}
	return history, profiles
}

// waitClosed reads until the server hangs up
func waitClosed(t *testing.T, c *client.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, err := c.Next(ctx)
		if errors.Is(err, client.ErrClosed) {
			return
		}
		require.NoError(t, err, "connection was not closed")
	}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res.StatusCode
}

func TestHTTP_Endpoints(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	var health map[string]bool
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	req.True(health["ok"])

	var ice struct {
		IceServers []webrtc.ICEServer `json:"iceServers"`
	}
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/ice", &ice))
	req.Len(ice.IceServers, 1)
	req.Equal([]string{"stun:stun.l.google.com:19302"}, ice.IceServers[0].URLs)

	var profiles map[schemas.Identity]schemas.Profile
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/profiles", &profiles))
	req.Len(profiles, 2)
	req.Nil(profiles[alice].AvatarRef)

	res, err := http.Post(srv.URL+"/upload", "image/png", strings.NewReader("ignored"))
	req.NoError(err)
	defer res.Body.Close()
	var upload map[string]bool
	req.NoError(json.NewDecoder(res.Body).Decode(&upload))
	req.True(upload["success"])
}

func TestHTTP_Static_Files(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(writeFile(filepath.Join(dir, "index.html"), "<h1>duet</h1>"))
	srv := newTestServer(t, func(s *configs.Settings) { s.Server.StaticDir = dir })

	res, err := http.Get(srv.URL + "/")
	req.NoError(err)
	defer res.Body.Close()
	req.Equal(http.StatusOK, res.StatusCode)
}

func TestHTTP_Basic_Auth(t *testing.T) {
	req := require.New(t)
	hash, err := crypto.HashPassword("open sesame")
	req.NoError(err)
	srv := newTestServer(t, func(s *configs.Settings) { s.PasswordHash = hash })

	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/healthz", nil), "health checks skip auth")
	req.Equal(http.StatusUnauthorized, getJSON(t, srv.URL+"/ice", nil))

	r, err := http.NewRequest(http.MethodGet, srv.URL+"/ice", nil)
	req.NoError(err)
	r.SetBasicAuth("anyone", "wrong")
	res, err := http.DefaultClient.Do(r)
	req.NoError(err)
	res.Body.Close()
	req.Equal(http.StatusUnauthorized, res.StatusCode)

	_, err = client.Dial(context.Background(), client.Credentials{BaseURL: srv.URL}, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.Error(err, "websocket upgrade needs the password too")

	c := dial(t, srv, "open sesame")
	join(t, c, alice, false)
}

// alice says hi, bob cannot delete it, alice can
func TestWS_Message_Scenario(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	a := dial(t, srv, "")
	history, profiles := join(t, a, alice, false)
	req.Empty(history)
	req.Len(profiles, 2)

	b := dial(t, srv, "")
	join(t, b, bob, true)
	req.Equal(schemas.UserOnline{Identity: bob}, next(t, a))

	req.NoError(a.Send(schemas.SendMessage{Text: "hi"}))
	for _, c := range []*client.Client{a, b} {
		msg, ok := next(t, c).(schemas.NewMessage)
		req.True(ok)
		req.Equal(int64(1), msg.Id)
		req.Equal(alice, msg.From)
		req.Equal("hi", msg.Text)
	}

	req.NoError(b.Send(schemas.DeleteMessage{Id: 1}))
	unauthorized, ok := next(t, b).(schemas.Error)
	req.True(ok)
	req.Equal("unauthorized", unauthorized.Code)
	req.Equal(schemas.EventDeleteMessage, unauthorized.Event)

	req.NoError(a.Send(schemas.DeleteMessage{Id: 1}))
	// alice got nothing from bob's failed delete, the next event is her own
	req.Equal(schemas.MessageDeleted{Id: 1}, next(t, a))
	req.Equal(schemas.MessageDeleted{Id: 1}, next(t, b))

	// a reconnect sees the deleted message in the history
	b.Close()
	req.Equal(schemas.UserOffline{Identity: bob}, next(t, a))
	b2 := dial(t, srv, "")
	history, _ = join(t, b2, bob, true)
	req.Len(history, 1)
	req.True(history[0].Deleted)
}

func TestWS_Profile_Upload(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	a := dial(t, srv, "")
	join(t, a, alice, false)
	b := dial(t, srv, "")
	join(t, b, bob, true)
	next(t, a) // user_online

	avatar := "https://example.com/mango.png"
	req.NoError(b.Send(schemas.UploadProfile{AvatarRef: avatar}))
	for _, c := range []*client.Client{a, b} {
		updated, ok := next(t, c).(schemas.ProfileUpdated)
		req.True(ok)
		req.Equal(bob, updated.Identity)
		req.Equal(avatar, *updated.AvatarRef)
	}

	var profiles map[schemas.Identity]schemas.Profile
	req.Equal(http.StatusOK, getJSON(t, srv.URL+"/profiles", &profiles))
	req.Equal(avatar, *profiles[bob].AvatarRef)
}

// offer, answer with trickled candidates, then alice hangs up and bob's late hang up is ignored
func TestWS_Call_Scenario(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	a := dial(t, srv, "")
	join(t, a, alice, false)
	b := dial(t, srv, "")
	join(t, b, bob, true)
	next(t, a) // user_online

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	early := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 192.168.1.2 50000 typ host"}

	req.NoError(a.Send(schemas.CallOffer{Offer: offer, MediaType: schemas.MediaVideo}))
	req.NoError(a.Send(schemas.IceCandidate{Candidate: early}))
	req.Equal(schemas.IncomingCall{From: alice, Offer: offer, MediaType: schemas.MediaVideo}, next(t, b))

	req.NoError(b.Send(schemas.CallAnswer{Answer: answer}))
	req.Equal(schemas.CallAnswered{Answer: answer}, next(t, a))
	req.Equal(schemas.NewIceCandidate{Candidate: early}, next(t, b))

	req.NoError(b.Send(schemas.CallOffer{Offer: offer}))
	busy, ok := next(t, b).(schemas.Error)
	req.True(ok)
	req.Equal("call_busy", busy.Code)

	req.NoError(a.Send(schemas.EndCall{}))
	req.Equal(schemas.CallEnded{}, next(t, b))

	// stale: nothing comes back to bob, his next event is alice's message
	req.NoError(b.Send(schemas.EndCall{}))
	req.NoError(a.Send(schemas.SendMessage{Text: "bye"}))
	msg, ok := next(t, b).(schemas.NewMessage)
	req.True(ok)
	req.Equal("bye", msg.Text)
}

func TestWS_Disconnect_Ends_Call(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	a := dial(t, srv, "")
	join(t, a, alice, false)
	b := dial(t, srv, "")
	join(t, b, bob, true)
	next(t, a) // user_online

	req.NoError(a.Send(schemas.CallOffer{Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}}))
	next(t, b) // incoming_call

	req.NoError(b.Close())
	req.Equal(schemas.CallEnded{}, next(t, a))
	req.Equal(schemas.UserOffline{Identity: bob}, next(t, a))
}

func TestWS_Second_Join_Replaces_First(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	a := dial(t, srv, "")
	join(t, a, alice, false)
	b := dial(t, srv, "")
	join(t, b, bob, true)
	next(t, a) // user_online

	a2 := dial(t, srv, "")
	join(t, a2, alice, true)
	waitClosed(t, a)

	req.NoError(b.Send(schemas.SendMessage{Text: "which one?"}))
	msg, ok := next(t, a2).(schemas.NewMessage)
	req.True(ok)
	req.Equal("which one?", msg.Text)

	// bob never saw alice go offline
	msg, ok = next(t, b).(schemas.NewMessage)
	req.True(ok)
	req.Equal("which one?", msg.Text)
}

func TestWS_Unknown_Identity_Is_Closed(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	c := dial(t, srv, "")
	req.NoError(c.Join("mango3"))
	waitClosed(t, c)
}

func TestWS_Join_Timeout(t *testing.T) {
	srv := newTestServer(t, func(s *configs.Settings) { s.Server.JoinTimeout = 50 * time.Millisecond })
	waitClosed(t, dial(t, srv, ""))
}

func TestWS_Oversized_Frame_Is_Closed(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, func(s *configs.Settings) { s.Server.MaxMessageBytes = 1024 })

	c := dial(t, srv, "")
	join(t, c, alice, false)
	req.NoError(c.Send(schemas.SendMessage{Text: strings.Repeat("a", 2048)}))
	waitClosed(t, c)
}

func TestWS_Rate_Limit(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, func(s *configs.Settings) { s.Server.MaxMessagesPerSecond = 2 })

	c := dial(t, srv, "")
	for range 10 {
		if err := c.Send(schemas.EndCall{}); err != nil {
			break
		}
	}
	waitClosed(t, c)
	req.NotNil(c.Err())
}

func TestWS_Invalid_Frames_Get_Errors(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, nil)

	ws, err := websocket.Dial(strings.Replace(srv.URL, "http", "ws", 1)+"/ws", "", "http://localhost/")
	req.NoError(err)
	defer ws.Close()

	receive := func() schemas.Error {
		var env schemas.Envelope
		req.NoError(websocket.JSON.Receive(ws, &env))
		evt, err := schemas.DecodeOutbound(env)
		req.NoError(err)
		e, ok := evt.(schemas.Error)
		req.True(ok)
		return e
	}

	req.NoError(websocket.Message.Send(ws, "not json"))
	req.Equal("invalid_payload", receive().Code)

	req.NoError(websocket.Message.Send(ws, `{"event":"shout","data":{}}`))
	req.Equal("invalid_payload", receive().Code)

	req.NoError(websocket.Message.Send(ws, `{"event":"send_message","data":{"text":"hi"}}`))
	e := receive()
	req.Equal("not_joined", e.Code)
	req.Equal(schemas.EventSendMessage, e.Event)

	// older clients send join with a bare identity
	req.NoError(websocket.Message.Send(ws, `{"event":"join","data":"mango1"}`))
	var env schemas.Envelope
	req.NoError(websocket.JSON.Receive(ws, &env))
	req.Equal(schemas.EventLoadMessages, env.Event)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
