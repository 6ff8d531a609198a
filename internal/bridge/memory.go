package bridge

import "sync"

// The memory transport is an in-process implementation of the transport
// contract: reliable, ordered, bidirectional, with named sub-channels. It
// backs tests and serverless single-process runs. Payloads are round-tripped
// through JSON so both directions get the same deep-copy semantics as the
// real wire.

// MemoryServer is the server half of the in-process transport.
type MemoryServer struct {
	mu        sync.Mutex
	clients   map[*MemoryClient]struct{}
	onMessage func(env Envelope)
}

// NewMemoryServer creates a server half with no clients attached.
func NewMemoryServer() *MemoryServer {
	return &MemoryServer{clients: make(map[*MemoryClient]struct{})}
}

// Dial attaches a new, connected client half to the server.
func (s *MemoryServer) Dial() *MemoryClient {
	c := &MemoryClient{
		server:    s,
		connected: true,
		channels:  make(map[string]*memoryChannel),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return c
}

// EnsureChannel is a no-op: memory channels exist as soon as a client opens
// them.
func (s *MemoryServer) EnsureChannel(string) {}

// OnMessage implements ServerConn.
func (s *MemoryServer) OnMessage(fn func(env Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = fn
}

// Broadcast delivers to every connected client that has the channel open.
func (s *MemoryServer) Broadcast(channel, event string, payload any) error {
	s.mu.Lock()
	clients := make([]*MemoryClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.receive(channel, event, payload)
	}
	return nil
}

// Close detaches all clients.
func (s *MemoryServer) Close() error {
	s.mu.Lock()
	clients := make([]*MemoryClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*MemoryClient]struct{})
	s.mu.Unlock()
	for _, c := range clients {
		c.setConnected(false)
	}
	return nil
}

func (s *MemoryServer) deliver(env Envelope) {
	s.mu.Lock()
	fn := s.onMessage
	s.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

// MemoryClient is the client half of the in-process transport.
type MemoryClient struct {
	server *MemoryServer

	mu        sync.Mutex
	connected bool
	channels  map[string]*memoryChannel
	stateFns  []func(connected bool)
}

// Open implements ClientConn.
func (c *MemoryClient) Open(channel string) (ClientChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, &ChannelUnavailableError{Channel: channel}
	}
	ch, ok := c.channels[channel]
	if !ok {
		ch = &memoryChannel{client: c, name: channel}
		c.channels[channel] = ch
	}
	return ch, nil
}

// Connected implements ClientConn.
func (c *MemoryClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// OnConnectionChange implements ClientConn.
func (c *MemoryClient) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFns = append(c.stateFns, fn)
}

// Close implements ClientConn.
func (c *MemoryClient) Close() error {
	c.setConnected(false)
	return nil
}

// Drop simulates transport loss without detaching from the server.
func (c *MemoryClient) Drop() {
	c.setConnected(false)
}

// Restore simulates the transport coming back after a Drop.
func (c *MemoryClient) Restore() {
	c.setConnected(true)
}

func (c *MemoryClient) setConnected(connected bool) {
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

// receive hands a broadcast to this client's channel handler, if the channel
// is open and the transport is up.
func (c *MemoryClient) receive(channel, event string, payload any) {
	c.mu.Lock()
	ch := c.channels[channel]
	connected := c.connected
	c.mu.Unlock()
	if ch == nil || !connected {
		return
	}
	ch.deliver(event, deepCopy(payload))
}

type memoryChannel struct {
	client *MemoryClient
	name   string

	mu        sync.Mutex
	onReceive func(event string, payload any)
}

// Send implements ClientChannel.
func (ch *memoryChannel) Send(event string, payload any) error {
	if !ch.client.Connected() {
		return &ChannelUnavailableError{Channel: ch.name}
	}
	ch.client.server.deliver(Envelope{
		Channel: ch.name,
		Event:   event,
		Payload: deepCopy(payload),
	})
	return nil
}

// OnReceive implements ClientChannel.
func (ch *memoryChannel) OnReceive(fn func(event string, payload any)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onReceive = fn
}

func (ch *memoryChannel) deliver(event string, payload any) {
	ch.mu.Lock()
	fn := ch.onReceive
	ch.mu.Unlock()
	if fn != nil {
		fn(event, payload)
	}
}
