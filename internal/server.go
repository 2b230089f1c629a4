package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregriff/duet/configs"
	"github.com/gregriff/duet/internal/middleware"
	"github.com/gregriff/duet/internal/relay"
	"github.com/gregriff/duet/internal/routes"
	"golang.org/x/net/websocket"
)

// CreateAndListen serves the relay on the configured address until SIGINT or SIGTERM, then shuts
// down gracefully. The caller owns the stores behind dispatcher and closes them afterwards.
func CreateAndListen(s configs.Settings, dispatcher *relay.Dispatcher, log *slog.Logger) error {
	handler, h := NewHandler(s, dispatcher, log)

	server := &http.Server{
		Addr:              s.Addr(),
		ReadHeaderTimeout: 5 * time.Second,
		// no read/write timeouts, websockets are long-lived
		Handler: handler,
	}
	server.RegisterOnShutdown(h.Close)

	// graceful shutdown channel
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// run server
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", server.Addr, "conversation", dispatcher.Conversation().Key)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		log.Info("stopped serving new connections")
		serveErr <- nil
	}()

	// recieve stop signals
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server error: %w", err)
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	dispatcher.Close()
	log.Info("graceful shutdown complete")
	return <-serveErr
}

// NewHandler builds the routes and middlewares. The RouteHandler is returned so its websockets can be
// closed on shutdown.
func NewHandler(s configs.Settings, dispatcher *relay.Dispatcher, log *slog.Logger) (http.Handler, *routes.RouteHandler) {
	h := routes.NewRouteHandler(dispatcher, s.ICEServers, routes.Limits{
		OutboundBuffer:       s.Server.OutboundBuffer,
		MaxMessageBytes:      s.Server.MaxMessageBytes,
		MaxMessagesPerSecond: s.Server.MaxMessagesPerSecond,
		JoinTimeout:          s.Server.JoinTimeout,
	}, log)

	mux := http.NewServeMux()
	createRoutes(mux, h, s.Server.StaticDir)

	// apply middlewares
	middlewares := []middleware.Middleware{middleware.Recover(log)}
	if s.Debug {
		middlewares = append(middlewares, middleware.RequestLogger(log))
	}
	handler := middleware.Chain(mux, middlewares...)
	if s.PasswordHash != "" {
		handler = middleware.BasicAuth(handler, s.PasswordHash, log)
	}
	return handler, h
}

// createRoutes creates the routing rules for the webserver
func createRoutes(mux *http.ServeMux, h *routes.RouteHandler, staticDir string) {
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /ice", h.ICE)
	mux.HandleFunc("GET /profiles", h.Profiles)
	mux.HandleFunc("POST /upload", h.Upload)

	relayHandler := websocket.Server{
		Handshake: websocketHandshake,
		Handler:   h.RelayWS,
	}
	mux.Handle("GET /ws", relayHandler)

	if staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(staticDir)))
	}
}

// browsers connect from the static client, other clients have no real origin
func websocketHandshake(_ *websocket.Config, _ *http.Request) error { return nil }
