package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/ntmd/ntmd/internal/rpc"
)

// stdioSender writes framed output to a single writer, serialized by a
// mutex since both the request/response path and the subscription pump
// goroutine write concurrently.
type stdioSender struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *stdioSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFrame(s.w, data)
}

// StdioServer runs the framed stdio transport: the default, preferred
// production transport because it needs no loopback forwarding between a
// host OS and its Linux compartment.
type StdioServer struct {
	Dispatcher *rpc.Dispatcher
	Auth       *rpc.Authenticator
	Limiter    *rpc.RateLimiter
	Logger     *slog.Logger
}

// Serve reads framed requests from r and writes framed responses/
// notifications to w until ctx is cancelled or r is closed. Stdio has
// exactly one client, a single full-duplex stream, so there is no token in
// the frame itself — the whole process inherits whatever class the daemon
// was started with for local callers.
func (s *StdioServer) Serve(ctx context.Context, r io.Reader, w io.Writer, localToken string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sender := &stdioSender{w: w}
	session := newClientSession("stdio", s.Dispatcher, s.Auth, s.Limiter, sender, true, logger)
	defer session.Close()

	reader := bufio.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		session.HandleRequest(ctx, localToken, frame)
	}
}
