package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Notifier posts plain-text messages to an ntfy topic.
type Notifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// New returns a notifier for endpoint. A nil client uses http.DefaultClient.
func New(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: endpoint, client: client, timeout: 5 * time.Second}
}

// StreamDropped reports a live subscription whose socket failed. Its
// signature matches stream.DropFunc.
func (n *Notifier) StreamDropped(guid, channelID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	msg := fmt.Sprintf("live stream dropped: guid=%s channel=%s error=%v", guid, channelID, cause)
	if err := Send(ctx, n.client, n.endpoint, msg); err != nil {
		slog.Warn("stream drop notification failed", "guid", guid, "error", err)
	}
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "tv_datafeed")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
