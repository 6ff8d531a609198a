// Package bridge is the cross-process channel layer between client module
// instances and their server-side backends. One physical transport carries
// many logical channels; a channel is identified by the module *name*, so all
// instances of one module type share a single channel by design.
package bridge

import "fmt"

// WireEvent is the single transport event the envelope rides on. Keeping the
// logical notification name inside the envelope, rather than as the transport
// event, means the transport never needs catch-all listeners.
const WireEvent = "notification"

// Envelope is the tagged message exchanged on the bridge. Payloads cross the
// wire by value: the receiving side always observes a deep copy.
type Envelope struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// ChannelUnavailableError reports a send attempted while the transport is
// disconnected. It is reported to the caller's failure log, never fatal.
type ChannelUnavailableError struct {
	Channel string
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("channel %q unavailable: transport disconnected", e.Channel)
}

// UnroutableMessageError reports a message tagged with a channel no backend
// is registered under. Such messages are dropped and logged.
type UnroutableMessageError struct {
	Channel string
}

func (e *UnroutableMessageError) Error() string {
	return fmt.Sprintf("no backend registered for channel %q", e.Channel)
}
