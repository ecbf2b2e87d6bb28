package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// webhookClient is the shared HTTP plumbing for senders that POST a JSON
// payload to a provider endpoint.
type webhookClient struct {
	httpClient *http.Client
}

func newWebhookClient() *webhookClient {
	return &webhookClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// postJSON sends payload to url and treats any non-2xx status as an error,
// including up to 1 KiB of the response body for diagnosis.
func (c *webhookClient) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
