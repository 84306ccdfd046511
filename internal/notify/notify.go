package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crashdock/crashdock/pkg/config"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/rs/zerolog/log"
)

// Notifier is told about artifacts after they are durably cataloged.
// Implementations must treat delivery as best-effort; the upload result does
// not depend on it.
type Notifier interface {
	ArtifactCataloged(ctx context.Context, file *types.UploadedFile) error
}

// NoopNotifier discards notifications
type NoopNotifier struct{}

func (NoopNotifier) ArtifactCataloged(ctx context.Context, file *types.UploadedFile) error {
	return nil
}

// WebhookNotifier posts a JSON summary of each cataloged artifact to a
// configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier from configuration
func NewWebhookNotifier(cfg *config.NotifyConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// FromConfig returns a webhook notifier when a URL is configured, otherwise
// the noop implementation.
func FromConfig(cfg *config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return NoopNotifier{}
	}
	return NewWebhookNotifier(cfg)
}

type artifactPayload struct {
	Filename     string `json:"filename"`
	Category     string `json:"category"`
	Size         int64  `json:"size"`
	Checksum     string `json:"checksum"`
	ContentCount int    `json:"content_count"`
	UploadedBy   string `json:"uploaded_by"`
}

func (w *WebhookNotifier) ArtifactCataloged(ctx context.Context, file *types.UploadedFile) error {
	body, err := json.Marshal(artifactPayload{
		Filename:     file.OriginalFilename,
		Category:     file.Category,
		Size:         file.Size,
		Checksum:     file.Checksum,
		ContentCount: file.ContentCount,
		UploadedBy:   file.UploadedBy.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}

	log.Debug().
		Str("filename", file.OriginalFilename).
		Dur("duration", time.Since(start)).
		Msg("artifact notification delivered")
	return nil
}
