package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ntmd/ntmd/internal/rpc"
)

// wsSender adapts one gorilla/websocket connection to the Sender interface,
// serializing writes through a single-writer channel and goroutine — the
// same write-pump shape as the teacher's ws.client.writePump.
type wsSender struct {
	send chan []byte
}

func (s *wsSender) Send(data []byte) error {
	select {
	case s.send <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

var errSendQueueFull = &sendQueueFullError{}

type sendQueueFullError struct{}

func (*sendQueueFullError) Error() string { return "transport: websocket send queue full" }

// WebSocketServer is the optional WebSocket adapter: text frames carrying
// one JSON-RPC message each, heartbeats, idle timeout, origin/token auth
// grounded on the teacher's ws.Server.authorize/checkOrigin.
type WebSocketServer struct {
	Dispatcher      *rpc.Dispatcher
	Auth            *rpc.Authenticator
	Limiter         *rpc.RateLimiter
	Logger          *slog.Logger
	HeartbeatPeriod time.Duration
	IdleTimeout     time.Duration
	AllowedOrigins  []string // empty means loopback or same-host origins, plus requests with no Origin header

	upgrader websocket.Upgrader
}

func NewWebSocketServer(d *rpc.Dispatcher, auth *rpc.Authenticator, limiter *rpc.RateLimiter, heartbeat, idleTimeout time.Duration, allowedOrigins []string, logger *slog.Logger) *WebSocketServer {
	s := &WebSocketServer{
		Dispatcher:      d,
		Auth:            auth,
		Limiter:         limiter,
		Logger:          logger,
		HeartbeatPeriod: heartbeat,
		IdleTimeout:     idleTimeout,
		AllowedOrigins:  allowedOrigins,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	token := tokenFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	sender := &wsSender{send: make(chan []byte, 64)}
	session := newClientSession(r.RemoteAddr, s.Dispatcher, s.Auth, s.Limiter, sender, true, logger)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer session.Close()
	defer conn.Close()

	go s.writePump(conn, sender, cancel, logger)

	if s.IdleTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
			return nil
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.HandleRequest(ctx, token, data)
	}
}

func (s *WebSocketServer) writePump(conn *websocket.Conn, sender *wsSender, cancel context.CancelFunc, logger *slog.Logger) {
	defer cancel()
	var ticker *time.Ticker
	var tickC <-chan time.Time
	if s.HeartbeatPeriod > 0 {
		ticker = time.NewTicker(s.HeartbeatPeriod)
		defer ticker.Stop()
		tickC = ticker.C
	}
	for {
		select {
		case data, ok := <-sender.send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-tickC:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func tokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if tok := r.Header.Get("X-NTMD-Token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// checkOrigin mirrors the teacher's loopback-permissive, explicit-allowlist-
// otherwise origin check, generalized to NTMD's default loopback-only bind.
func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}

	if len(s.AllowedOrigins) > 0 {
		for _, allowed := range s.AllowedOrigins {
			if allowed == origin {
				return true
			}
		}
		return false
	}

	if host == r.Host {
		return true
	}
	return strings.HasPrefix(host, "localhost:") || host == "localhost" ||
		strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" ||
		strings.HasPrefix(host, "[::1]:") || host == "::1"
}
