package bridge

// ClientConn is the client half of the physical transport. Implementations:
// the socket.io client and the in-process memory transport.
type ClientConn interface {
	// Open establishes (or re-establishes) the logical channel with the given
	// name. Idempotent for an already-open channel.
	Open(channel string) (ClientChannel, error)
	// Connected reports whether the physical transport is currently up.
	Connected() bool
	// OnConnectionChange registers a callback observing transport state
	// transitions. Callbacks may fire from transport goroutines.
	OnConnectionChange(fn func(connected bool))
	// Close tears the physical connection down.
	Close() error
}

// ClientChannel is one logical channel as seen from the client.
type ClientChannel interface {
	// Send writes a wire message tagged with this channel's name.
	Send(event string, payload any) error
	// OnReceive registers the handler for backend-to-client messages.
	OnReceive(fn func(event string, payload any))
}

// ServerConn is the server half of the physical transport.
type ServerConn interface {
	// EnsureChannel makes the named channel accept client connections and
	// deliver their messages to the OnMessage handler.
	EnsureChannel(channel string)
	// Broadcast sends to every connected client subscribed to the channel.
	Broadcast(channel, event string, payload any) error
	// OnMessage registers the handler for all inbound tagged messages.
	OnMessage(fn func(env Envelope))
	// Close stops accepting connections.
	Close() error
}
