package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/roadside-dispatch/internal/apperr"
)

// HTTPDispatcher posts notifications as JSON to the messaging/telephony
// gateway.
type HTTPDispatcher struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewHTTPDispatcher(endpoint, apiKey string) *HTTPDispatcher {
	return &HTTPDispatcher{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (d *HTTPDispatcher) Notify(ctx context.Context, n Notification) error {
	err := d.post(ctx, n)
	Record("http", n, err)
	return err
}

func (d *HTTPDispatcher) post(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return apperr.Unavailable("notify "+string(n.Channel), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return apperr.Unavailable("notify "+string(n.Channel), fmt.Errorf("gateway returned %d", resp.StatusCode))
	}
	return nil
}
