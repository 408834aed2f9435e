// Package bridge serves page bridges over websockets. Each connected page is
// a domain.Context the notifier can deliver change events to, and can itself
// push timer updates into the session ingress.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haukened/rr-focus/internal/focus/common/clock"
	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/infra/metrics"
	"github.com/haukened/rr-focus/internal/focus/services/session"
)

const (
	maxMessageSize = 64 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// DefaultWriteTimeout bounds writes that carry no context deadline.
const DefaultWriteTimeout = 5 * time.Second

// ErrClosed is returned when delivering to a bridge that has disconnected.
var ErrClosed = errors.New("bridge closed")

// Session is the ingress a bridge talks to.
type Session interface {
	Update(ctx context.Context, req domain.UpdateRequest) (session.Result, error)
	Snapshot() session.Snapshot
}

// Options configures a Hub.
type Options struct {
	Session Session
	// Origins lists allowed page hosts; a subdomain of an entry is allowed
	// too. Requests without an Origin header (non-browser clients) are allowed.
	Origins      []string
	WriteTimeout time.Duration
	Clock        clock.Clock
	Logger       log.Logger
	Metrics      *metrics.Metrics
}

// Hub tracks connected bridges.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	session      Session
	origins      []string
	writeTimeout time.Duration
	clock        clock.Clock
	logger       log.Logger
	metrics      *metrics.Metrics
	upgrader     websocket.Upgrader
}

// NewHub constructs a Hub.
func NewHub(opts Options) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	h := &Hub{
		clients:      make(map[string]*Client),
		session:      opts.Session,
		writeTimeout: opts.WriteTimeout,
		clock:        opts.Clock,
		logger:       log.Component(opts.Logger, "bridge"),
		metrics:      opts.Metrics,
	}
	for _, o := range opts.Origins {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			h.origins = append(h.origins, o)
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Attach sets the session page requests are forwarded to. The session is
// usually built after the hub, so call Attach before the hub serves requests.
func (h *Hub) Attach(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = s
}

func (h *Hub) attached() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// AllowedOrigin reports whether a page served from origin may connect.
func (h *Hub) AllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range h.origins {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	return h.AllowedOrigin(r.Header.Get("Origin"))
}

// ServeHTTP upgrades the request and serves the bridge until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(map[string]any{"error": err, "origin": r.Header.Get("Origin")}, "bridge upgrade rejected")
		return
	}
	c := &Client{
		id:     uuid.New().String(),
		origin: r.Header.Get("Origin"),
		conn:   conn,
		hub:    h,
		done:   make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		conn.Close()
		return
	}
	defer h.unregister(c)

	if err := c.send(r.Context(), outbound{Type: TypeConnected, Timestamp: h.now()}); err != nil {
		return
	}
	go c.pingLoop()
	c.readLoop(r.Context())
}

// Contexts returns the currently connected bridges.
func (h *Hub) Contexts() []domain.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Context, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Len reports the number of connected bridges.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every bridge and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "shutting down")
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetBridges(n)
	h.logger.Info(map[string]any{"id": c.id, "origin": c.origin, "bridges": n}, "bridge connected")
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.close(websocket.CloseNormalClosure, "")
	h.metrics.SetBridges(n)
	h.logger.Info(map[string]any{"id": c.id, "bridges": n}, "bridge disconnected")
}

func (h *Hub) now() int64 { return h.clock.Now().UnixMilli() }

// handle answers one inbound message.
func (h *Hub) handle(ctx context.Context, c *Client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = c.send(ctx, outbound{Type: TypeError, Error: "malformed message", Timestamp: h.now()})
		return
	}
	switch msg.Type {
	case TypeFocusTimerUpdate:
		h.timerUpdate(ctx, c, msg)
	case TypeRequestData:
		h.reply(ctx, c, TypeDataResponse)
	case TypeAppReady:
		h.reply(ctx, c, TypeReady)
	case TypeSyncData:
		h.reply(ctx, c, TypeDataSync)
	default:
		h.logger.Debug(map[string]any{"id": c.id, "type": msg.Type}, "ignoring message")
	}
}

func (h *Hub) reply(ctx context.Context, c *Client, typ string) {
	sess := h.attached()
	if sess == nil {
		return
	}
	snap := sess.Snapshot()
	_ = c.send(ctx, outbound{Type: typ, Data: &snap, Timestamp: h.now()})
}

// timerUpdate forwards a page's timer state to the ingress. Success is
// acknowledged by the BLOCKING_STATUS_CHANGED broadcast that follows.
func (h *Hub) timerUpdate(ctx context.Context, c *Client, msg inbound) {
	sess := h.attached()
	if sess == nil {
		return
	}
	req, err := msg.toUpdate()
	if err == nil {
		_, err = sess.Update(ctx, req)
	}
	if err != nil {
		h.logger.Warn(map[string]any{"id": c.id, "error": err}, "timer update failed")
		_ = c.send(ctx, outbound{Type: TypeError, Request: TypeFocusTimerUpdate, Error: err.Error(), Timestamp: h.now()})
	}
}
