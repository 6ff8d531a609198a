package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantum28/MagicMirror/internal/bridge"
	"github.com/quantum28/MagicMirror/internal/ctxlog"
	"resty.dev/v3"
)

// defaultFetchTimeout bounds a fetch when the client's request does not carry
// a usable timeout of its own.
const defaultFetchTimeout = 10 * time.Second

// backend performs the outbound HTTP fetch the client module must not do
// itself, and pushes results to every connected display.
type backend struct {
	client *resty.Client
}

func newBackend() *backend {
	return &backend{
		client: resty.New(),
	}
}

// notification handles one client request. Fetch failures are logged, never
// fatal; clients simply keep their previous data until the next attempt.
func (b *backend) notification(ctx context.Context, send bridge.ClientSender, event string, payload any) {
	if event != EventFetch {
		return
	}
	logger := ctxlog.FromContext(ctx).With("backend", "weather")

	req, ok := payload.(map[string]any)
	if !ok {
		logger.Warn("Ignoring malformed fetch request.", "type", fmt.Sprintf("%T", payload))
		return
	}
	url, _ := req["url"].(string)
	if url == "" {
		logger.Warn("Fetch request without apiURL; nothing to do.")
		return
	}

	// The per-instance timeout travels with the request; each placement can
	// configure its own.
	timeout := defaultFetchTimeout
	if s, ok := req["timeout"].(string); ok {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			timeout = d
		}
	}

	data, err := b.fetch(ctx, url, timeout)
	if err != nil {
		logger.Error("Weather fetch failed.", "url", url, "error", err)
		return
	}
	if err := send.SendToClients(EventDataReady, data); err != nil {
		logger.Error("Failed to push weather data to clients.", "error", err)
	}
}

func (b *backend) fetch(ctx context.Context, url string, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := b.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode())
	}
	var data map[string]any
	if err := json.Unmarshal(res.Bytes(), &data); err != nil {
		return nil, fmt.Errorf("invalid weather response: %w", err)
	}
	return data, nil
}
