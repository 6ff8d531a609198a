package bridge

import (
	"encoding/json"
	"fmt"
)

// deepCopy round-trips a value through JSON, giving it the same
// representation and copy semantics it would have after crossing the real
// wire. Unserializable values degrade to nil, matching what the transport
// parser would produce.
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// decodeWireMessage reconstructs an Envelope from the single argument the
// transport hands a WireEvent listener.
func decodeWireMessage(channel string, args []any) (Envelope, error) {
	if len(args) == 0 {
		return Envelope{}, fmt.Errorf("channel %q: empty wire message", channel)
	}
	body, ok := args[0].(map[string]any)
	if !ok {
		return Envelope{}, fmt.Errorf("channel %q: wire message body is %T, want object", channel, args[0])
	}
	event, ok := body["event"].(string)
	if !ok || event == "" {
		return Envelope{}, fmt.Errorf("channel %q: wire message missing event name", channel)
	}
	return Envelope{Channel: channel, Event: event, Payload: body["payload"]}, nil
}

// encodeWireMessage builds the transport-level body for an envelope.
func encodeWireMessage(event string, payload any) map[string]any {
	return map[string]any{"event": event, "payload": payload}
}
