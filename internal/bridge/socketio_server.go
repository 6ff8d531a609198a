package bridge

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/quantum28/MagicMirror/internal/ctxlog"
	"github.com/zishang520/socket.io/v2/socket"
)

// AdmissionFunc decides whether a remote address may establish a physical
// connection. It runs before any channel traffic is accepted. This is the one
// hook the access-control collaborator plugs into; the policy itself lives
// outside this package.
type AdmissionFunc func(remoteAddr string) bool

// SocketIOServer implements ServerConn on a socket.io server. Each module
// channel is the namespace "/<module>".
type SocketIOServer struct {
	ctx    context.Context
	io     *socket.Server
	accept AdmissionFunc

	mu        sync.Mutex
	onMessage func(env Envelope)
	channels  map[string]bool
}

// NewSocketIOServer creates the server half. A nil admission func accepts
// every connection.
func NewSocketIOServer(ctx context.Context, accept AdmissionFunc) *SocketIOServer {
	return &SocketIOServer{
		ctx:      ctx,
		io:       socket.NewServer(nil, nil),
		accept:   accept,
		channels: make(map[string]bool),
	}
}

// Handler returns the http.Handler to mount at the socket.io path. The
// admission hook runs on every transport handshake request before the
// socket.io engine sees it.
func (s *SocketIOServer) Handler() http.Handler {
	inner := s.io.ServeHandler(nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.accept != nil {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			if !s.accept(host) {
				ctxlog.FromContext(s.ctx).Warn("Connection refused by access policy.", "remote", host)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}
		inner.ServeHTTP(w, r)
	})
}

// EnsureChannel implements ServerConn: it creates the namespace and wires its
// inbound traffic to the OnMessage handler. Idempotent per channel.
func (s *SocketIOServer) EnsureChannel(channel string) {
	s.mu.Lock()
	if s.channels[channel] {
		s.mu.Unlock()
		return
	}
	s.channels[channel] = true
	s.mu.Unlock()

	nsp := s.io.Of("/"+channel, nil)
	nsp.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		ctxlog.FromContext(s.ctx).Debug("Client joined channel.", "channel", channel, "sid", client.Id())
		client.On(WireEvent, func(args ...any) {
			env, err := decodeWireMessage(channel, args)
			if err != nil {
				ctxlog.FromContext(s.ctx).Warn("Dropping malformed wire message.", "channel", channel, "error", err)
				return
			}
			s.mu.Lock()
			fn := s.onMessage
			s.mu.Unlock()
			if fn != nil {
				fn(env)
			}
		})
	})
}

// Broadcast implements ServerConn: every client connected to the channel's
// namespace receives the message.
func (s *SocketIOServer) Broadcast(channel, event string, payload any) error {
	s.io.Of("/"+channel, nil).Emit(WireEvent, encodeWireMessage(event, payload))
	return nil
}

// OnMessage implements ServerConn.
func (s *SocketIOServer) OnMessage(fn func(env Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// Close implements ServerConn.
func (s *SocketIOServer) Close() error {
	s.io.Close(nil)
	return nil
}
