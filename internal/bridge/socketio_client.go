package bridge

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// SocketIOClient implements ClientConn over a socket.io connection. Each
// logical channel maps to the namespace "/<module>"; every namespace socket
// shares the manager's single physical connection, which is what multiplexes
// the channels.
type SocketIOClient struct {
	manager *socket.Manager
	opts    *socket.Options

	mu        sync.Mutex
	connected bool
	channels  map[string]*socketIOChannel
	stateFns  []func(connected bool)
}

// DialSocketIO prepares a client for the given server URL. The physical
// connection is established when the first channel opens; the manager
// reconnects on its own after transport loss.
func DialSocketIO(rawURL string) (*SocketIOClient, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transport URL: %w", err)
	}

	opts := socket.DefaultOptions()
	if parsed.Path != "" && parsed.Path != "/" {
		opts.SetPath(parsed.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	return &SocketIOClient{
		manager:  socket.NewManager(baseURL, opts),
		opts:     opts,
		channels: make(map[string]*socketIOChannel),
	}, nil
}

// Open implements ClientConn. Opening an already-open channel returns the
// existing one; the manager re-joins namespaces itself after a reconnect.
func (c *SocketIOClient) Open(channel string) (ClientChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[channel]; ok {
		return ch, nil
	}

	io := c.manager.Socket("/"+channel, c.opts)
	ch := &socketIOChannel{name: channel, sock: io}

	io.On(types.EventName("connect"), func(...any) {
		c.setConnected(true)
	})
	io.On(types.EventName("disconnect"), func(...any) {
		c.setConnected(false)
	})
	io.Connect()

	c.channels[channel] = ch
	return ch, nil
}

// Connected implements ClientConn.
func (c *SocketIOClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnConnectionChange implements ClientConn.
func (c *SocketIOClient) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFns = append(c.stateFns, fn)
}

// setConnected dedups state transitions; every namespace socket reports
// connect/disconnect but the physical connection changes state only once.
func (c *SocketIOClient) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	fns := make([]func(bool), len(c.stateFns))
	copy(fns, c.stateFns)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// Close implements ClientConn.
func (c *SocketIOClient) Close() error {
	c.mu.Lock()
	channels := make([]*socketIOChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()
	for _, ch := range channels {
		ch.sock.Disconnect()
	}
	return nil
}

type socketIOChannel struct {
	name string
	sock *socket.Socket
}

// Send implements ClientChannel.
func (ch *socketIOChannel) Send(event string, payload any) error {
	ch.sock.Emit(WireEvent, encodeWireMessage(event, payload))
	return nil
}

// OnReceive implements ClientChannel.
func (ch *socketIOChannel) OnReceive(fn func(event string, payload any)) {
	ch.sock.On(types.EventName(WireEvent), func(args ...any) {
		env, err := decodeWireMessage(ch.name, args)
		if err != nil {
			return
		}
		fn(env.Event, env.Payload)
	})
}
