// Package gateway is the operator-facing HTTP server: it receives SMS
// webhooks, and serves a WebSocket RPC protocol for managing triggers and
// sessions while streaming form events live.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/smsforms/internal/channel"
	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/domain"
	"github.com/soyeahso/smsforms/internal/hooks"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/routing"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/soyeahso/smsforms/internal/version"
)

const (
	maxPayload          = 1 << 20
	handshakeTimeout    = 10 * time.Second
	defaultTickInterval = 30 * time.Second
)

// Canceller closes sessions on an operator's behalf.
// *conversation.Dispatcher implements it.
type Canceller interface {
	Cancel(ctx context.Context, id string) (*domain.Session, error)
}

// Server is the smsforms gateway.
type Server struct {
	cfg      config.GatewayConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	limiter  *authLimiter

	mu         sync.RWMutex
	configRaw  map[string]any
	configPath string

	router    *routing.Router
	sessions  store.SessionStore
	triggers  store.TriggerStore
	messages  store.MessageLog
	canceller Canceller
	channels  *channel.Registry
	hooks     *hooks.Manager
	inbound   http.Handler

	tickInterval time.Duration
	startedAt    time.Time
	upgrader     websocket.Upgrader

	addrMu sync.Mutex
	addr   string
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithConfigRaw exposes the raw config map to config.get and config.set.
// When path is not empty, config.set also writes the file.
func WithConfigRaw(raw map[string]any, path string) ServerOption {
	return func(s *Server) {
		s.configRaw = raw
		s.configPath = path
	}
}

// WithRouter sets the router used by message.simulate and the send methods.
func WithRouter(r *routing.Router) ServerOption {
	return func(s *Server) { s.router = r }
}

// WithStore sets the persistence behind the trigger and session methods.
func WithStore(st store.Store) ServerOption {
	return func(s *Server) {
		s.sessions = st
		s.triggers = st
		s.messages = st
	}
}

// WithCanceller sets what sessions.cancel calls.
func WithCanceller(c Canceller) ServerOption {
	return func(s *Server) { s.canceller = c }
}

// WithChannels sets the channel registry for status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks sets the hook manager whose events are broadcast.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithInbound mounts the SMS provider webhook at POST /sms/inbound.
func WithInbound(h http.Handler) ServerOption {
	return func(s *Server) { s.inbound = h }
}

// WithTickInterval overrides how often the tick event is broadcast.
func WithTickInterval(d time.Duration) ServerOption {
	return func(s *Server) { s.tickInterval = d }
}

// New creates a gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:          cfg,
		auth:         ResolveAuth(cfg.Auth),
		log:          log.Sub("gateway"),
		clients:      NewClientRegistry(log.Sub("clients")),
		handlers:     make(map[string]RequestHandler),
		limiter:      newAuthLimiter(),
		configRaw:    make(map[string]any),
		tickInterval: defaultTickInterval,
		startedAt:    time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRPCHandlers()
	return s
}

// sameOrigin admits non-browser clients and same-host browser pages.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log)
}

func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, operator credentials travel in cleartext")
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. It broadcasts hook events and
// ticks to connected operators while running.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.startedAt = time.Now()

	unsubscribe := s.subscribe()
	defer unsubscribe()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Bool("smsWebhook", s.inbound != nil).
		Msg("gateway ready")
	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.tick(ctx)
	}()

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway")
		if s.hooks != nil {
			s.hooks.Emit(context.WithoutCancel(ctx), hooks.EventGatewayStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	err := httpServer.Serve(ln)
	<-done
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address once serving, or "".
func (s *Server) Addr() string {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

func (s *Server) tick(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.clients.Broadcast(EventTick, map[string]any{"ts": now.UnixMilli()})
		}
	}
}

// handleWebSocket upgrades the connection, authenticates it and serves
// requests until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("too many failed handshakes")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.limiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()
	s.readLoop(r.Context(), client)
}

// handshake sends a challenge, reads the connect request and checks its
// credentials.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		rejectAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got %s %s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		rejectAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.Protocol != 0 && params.Protocol != ProtocolVersion {
		rejectAndClose(conn, frame.ID, CodeProtocol, fmt.Sprintf("unsupported protocol %d", params.Protocol))
		return nil, fmt.Errorf("unsupported protocol %d", params.Protocol)
	}

	result := Authorize(s.auth, params.Auth)
	if !result.OK {
		rejectAndClose(conn, frame.ID, CodeUnauthorized, result.Reason)
		return nil, fmt.Errorf("auth failed: %s", result.Reason)
	}
	_ = conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, result)
	resp, err := NewResponse(frame.ID, HelloOK{
		Protocol:       ProtocolVersion,
		Version:        version.Version,
		Commit:         version.Commit,
		ConnID:         client.ConnID,
		Methods:        s.Methods(),
		Events:         BroadcastEvents,
		MaxPayload:     maxPayload,
		TickIntervalMs: s.tickInterval.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	if err := client.Send(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("client", params.Client.ID).
		Str("authMethod", result.Method).
		Msg("operator authenticated")
	return client, nil
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read ended")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		_ = client.RespondError(frame.ID, ErrorShape{Code: CodeMethodNotFound, Message: "unknown method: " + frame.Method})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

func rejectAndClose(conn *websocket.Conn, reqID, code, message string) {
	_ = conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
