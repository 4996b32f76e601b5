// Package healthstore writes nutrition records to the health-data store.
package healthstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"nutrilog/internal/config"
	"nutrilog/internal/services"
	"nutrilog/internal/stage"
)

const recordsPath = "/v1/nutrition-records"

// Config holds the store endpoint and credentials.
type Config struct {
	BaseURL        string
	Token          string
	Source         string
	TimeoutSeconds int
}

// ConfigFrom maps the [storage] section.
func ConfigFrom(cfg config.Storage) Config {
	return Config{
		BaseURL:        cfg.BaseURL,
		Token:          cfg.Token,
		Source:         cfg.Source,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}
}

// Client is a REST client for the nutrition records endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient builds a client. A nil httpClient gets a default with the
// configured timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if httpClient == nil {
		timeout := 20 * time.Second
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Request is one write. IdempotencyKey lets the store collapse replays of the
// same job.
type Request struct {
	Record         stage.AnalysisRecord
	RecordedAt     time.Time
	IdempotencyKey string
}

type recordPayload struct {
	Calories    float64 `json:"calories"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence,omitempty"`
	Model       string  `json:"model,omitempty"`
	RecordedAt  string  `json:"recorded_at"`
	Source      string  `json:"source"`
}

type recordResponse struct {
	ID string `json:"id"`
}

// StatusError is a non-2xx response from the store.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("health store: http %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// StatusCode exposes the HTTP status to the retry classifier.
func (e *StatusError) StatusCode() int {
	return e.Status
}

// Save writes the record stamped with the capture time and returns the store's
// record id. 401 and 403 responses are reported as services.ErrPermissionDenied.
func (c *Client) Save(ctx context.Context, req Request) (string, error) {
	if req.RecordedAt.IsZero() {
		return "", services.Wrap(services.ErrValidation, "healthstore", "save", "recorded_at is required", nil)
	}
	body, err := json.Marshal(recordPayload{
		Calories:    req.Record.Calories,
		Description: req.Record.Description,
		Confidence:  req.Record.Confidence,
		Model:       req.Record.Model,
		RecordedAt:  req.RecordedAt.UTC().Format(time.RFC3339),
		Source:      c.cfg.Source,
	})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "healthstore", "encode record", "", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+recordsPath, bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "healthstore", "build request", "", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", transportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", services.Wrap(services.ErrPermissionDenied, "healthstore", "save",
			"store refused the write", &StatusError{Status: resp.StatusCode, Body: string(payload)})
	case resp.StatusCode >= http.StatusMultipleChoices:
		return "", &StatusError{Status: resp.StatusCode, Body: string(payload)}
	}

	var decoded recordResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", services.Wrap(services.ErrMalformedResponse, "healthstore", "decode response", "", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", services.Wrap(services.ErrMalformedResponse, "healthstore", "decode response", "record id missing", nil)
	}
	return decoded.ID, nil
}

// HealthCheck reports whether the client has what it needs to write.
func (c *Client) HealthCheck(context.Context) stage.Health {
	if c.cfg.BaseURL == "" {
		return stage.Unhealthy("healthstore", "base url not configured")
	}
	if c.cfg.Token == "" {
		return stage.Unhealthy("healthstore", "token not configured; writes will be refused")
	}
	return stage.Healthy("healthstore")
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("health store: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "healthstore", "save", "", err)
	}
	return services.Wrap(services.ErrConnectivity, "healthstore", "save", "", err)
}
