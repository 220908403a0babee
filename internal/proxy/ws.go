package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	httpmiddleware "github.com/wolfman30/mockinterview/internal/http/middleware"
	"github.com/wolfman30/mockinterview/internal/interview"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 16
)

// WSHandler serves the proxy protocol over WebSocket. Every connection owns
// one Proxy; the proxy is closed when the socket goes away.
type WSHandler struct {
	newAPI    APIFactory
	defaults  interview.Options
	serverKey string
	logger    *logging.Logger
	upgrader  websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	active sync.WaitGroup
}

// NewWSHandler creates the handler. When serverKey is set every proxy starts
// with it, so clients may skip set_api_key.
func NewWSHandler(newAPI APIFactory, defaults interview.Options, serverKey string, origins *httpmiddleware.OriginPolicy) *WSHandler {
	logger := defaults.Logger
	if logger == nil {
		logger = logging.Default()
	}
	defaults.Logger = logger
	return &WSHandler{
		newAPI:    newAPI,
		defaults:  defaults,
		serverKey: strings.TrimSpace(serverKey),
		logger:    logger,
		conns:     make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins.Allows(origin)
			},
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("proxy: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	h.track(conn)
	defer h.untrack(conn)

	connID := uuid.NewString()
	logger := h.logger.WithSession(connID)
	opts := h.defaults
	opts.Logger = logger
	if claims, ok := httpmiddleware.CandidateClaimsFromContext(r.Context()); ok {
		opts.Candidate = claims.Subject
	}

	out := make(chan Response, sendBuffer)
	stop := make(chan struct{})
	emit := func(resp Response) {
		select {
		case out <- resp:
		case <-stop:
		}
	}

	if h.serverKey == "" {
		opts.Tracker = nil
	}
	p := New(h.newAPI, opts, emit)
	if h.serverKey != "" {
		p.SetAPIKey(h.serverKey)
		p.TrackOnly(h.serverKey)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case resp := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(resp); err != nil {
					logger.Debug("proxy: write failed", "error", err)
					_ = conn.Close()
					return
				}
			case <-stop:
				return
			}
		}
	}()

	logger.Info("proxy: connection opened", "candidate", opts.Candidate)
	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("proxy: connection lost", "error", err)
			}
			break
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			emit(Response{Type: TypeError, Error: "invalid message"})
			continue
		}
		p.Handle(req)
	}

	close(stop)
	p.Close()
	<-writerDone
	logger.Info("proxy: connection closed")

	h.active.Add(1)
	go func() {
		defer h.active.Done()
		<-p.Done()
	}()
}

func (h *WSHandler) track(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.active.Add(1)
	h.mu.Unlock()
}

func (h *WSHandler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	h.active.Done()
}

// Shutdown closes open connections and waits, until ctx expires, for their
// proxies to finish tearing down.
func (h *WSHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
