package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nutrilog/internal/config"
)

const userAgent = "nutrilog/0.1.0"

// Service defines the notification surface used by the daemon.
type Service interface {
	NotifyJobSucceeded(ctx context.Context, jobID string, calories float64, description string) error
	NotifyJobFailed(ctx context.Context, jobID, category, reason string) error
	NotifyArtifactRetained(ctx context.Context, jobID, artifactRef, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobSucceeded(ctx context.Context, jobID string, calories float64, description string) error {
	description = strings.TrimSpace(description)
	message := fmt.Sprintf("🍽️ Logged %.0f kcal", calories)
	if description != "" {
		message = fmt.Sprintf("%s: %s", message, description)
	}
	return n.send(ctx, payload{
		title:    "nutrilog - Meal Logged",
		message:  message,
		tags:     []string{"nutrilog", "job", "succeeded"},
		priority: "low",
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, category, reason string) error {
	var builder strings.Builder
	builder.WriteString("❌ Job ")
	builder.WriteString(shortID(jobID))
	builder.WriteString(" failed")
	if category = strings.TrimSpace(category); category != "" {
		builder.WriteString(" (")
		builder.WriteString(category)
		builder.WriteString(")")
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString(": ")
		builder.WriteString(reason)
	}
	return n.send(ctx, payload{
		title:    "nutrilog - Job Failed",
		message:  builder.String(),
		tags:     []string{"nutrilog", "job", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyArtifactRetained(ctx context.Context, jobID, artifactRef, reason string) error {
	message := fmt.Sprintf("📷 Photo kept for review: %s\nJob: %s", strings.TrimSpace(artifactRef), shortID(jobID))
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\nReason: %s", message, reason)
	}
	return n.send(ctx, payload{
		title:    "nutrilog - Review Required",
		message:  message,
		tags:     []string{"nutrilog", "review", "retained"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "nutrilog - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"nutrilog", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) NotifyJobSucceeded(context.Context, string, float64, string) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error     { return nil }
func (noopService) NotifyArtifactRetained(context.Context, string, string, string) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
