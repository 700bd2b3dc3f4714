package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/batch_downloader/internal/transfer"
)

type Notifier interface {
	Notify(ctx context.Context, summary *transfer.Summary) error
}

// WebhookNotifier posts a batch report to a webhook URL. The payload keeps a
// plain-text "content" field so chat webhooks (Discord, Slack-compatible)
// render something readable, alongside the full summary for machine consumers.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (n *WebhookNotifier) Notify(ctx context.Context, summary *transfer.Summary) error {
	if n.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	content := fmt.Sprintf("batch %s finished: %d downloaded, %d skipped, %d failed, %s moved",
		summary.BatchID, summary.Downloaded, summary.Skipped, summary.Failed,
		humanize.Bytes(uint64(summary.BytesMoved)))

	body, err := json.Marshal(map[string]any{
		"content": content,
		"summary": summary,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client().Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

func (n *WebhookNotifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}

	return http.DefaultClient
}
