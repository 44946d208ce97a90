package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ntmd/ntmd/internal/rpc"
)

// defaultMaxHTTPBodyBytes caps a single POSTed JSON-RPC request body when
// the config's security.body_size_cap_bytes is unset.
const defaultMaxHTTPBodyBytes = 1 << 20

// httpResponseSender captures the one response a single HTTP request
// produces; HTTP has no push channel, so pushCapable is always false and
// at most one writeJSON call is ever made per request.
type httpResponseSender struct {
	out chan []byte
}

func (s *httpResponseSender) Send(data []byte) error {
	select {
	case s.out <- data:
	default:
	}
	return nil
}

// HTTPServer serves the request/response-only HTTP POST transport: one
// JSON-RPC message per request body, one JSON-RPC message per response
// body. No subscribe support — subscribe requests are rejected with
// UNSUPPORTED, since there is no connection to push notifications over.
type HTTPServer struct {
	Dispatcher *rpc.Dispatcher
	Auth       *rpc.Authenticator
	Limiter    *rpc.RateLimiter
	Logger     *slog.Logger

	// MaxBodyBytes caps a single POSTed JSON-RPC request body. Zero means
	// defaultMaxHTTPBodyBytes.
	MaxBodyBytes int64
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := s.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxHTTPBodyBytes
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxBody {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	token := tokenFromRequest(r)
	sender := &httpResponseSender{out: make(chan []byte, 1)}
	session := newClientSession(r.RemoteAddr, s.Dispatcher, s.Auth, s.Limiter, sender, false, logger)
	defer session.Close()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	session.HandleRequest(ctx, token, body)

	w.Header().Set("Content-Type", "application/json")
	select {
	case data := <-sender.out:
		w.Write(data)
	default:
		// A bare notification (no id) produces no response body.
		w.WriteHeader(http.StatusNoContent)
	}
}
