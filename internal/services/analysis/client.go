package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"nutrilog/internal/config"
	"nutrilog/internal/services"
	"nutrilog/internal/stage"
)

const (
	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 2048
)

// Config captures the runtime settings required to talk to the model.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	Referer           string
	Title             string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// ConfigFrom maps the [analysis] section.
func ConfigFrom(cfg config.Analysis) Config {
	return Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Referer:           cfg.Referer,
		Title:             cfg.Title,
		TimeoutSeconds:    cfg.TimeoutSeconds,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
}

// Image is the photo submitted for analysis.
type Image struct {
	MediaType string
	Data      []byte
}

// Client wraps the chat completion endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	titleCase  cases.Caser
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLimiter overrides request pacing. A nil limiter disables pacing.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:            strings.TrimSpace(cfg.APIKey),
			BaseURL:           strings.TrimSpace(cfg.BaseURL),
			Model:             strings.TrimSpace(cfg.Model),
			Referer:           strings.TrimSpace(cfg.Referer),
			Title:             strings.TrimSpace(cfg.Title),
			TimeoutSeconds:    cfg.TimeoutSeconds,
			RequestsPerMinute: cfg.RequestsPerMinute,
		},
		httpClient: &http.Client{Timeout: timeout},
		titleCase:  cases.Title(language.English),
	}
	if cfg.RequestsPerMinute > 0 {
		client.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	return client
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// StatusError is a non-2xx response from the analysis endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis request: http %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// StatusCode exposes the HTTP status to the retry classifier.
func (e *StatusError) StatusCode() int {
	return e.Status
}

type estimate struct {
	Calories    *float64 `json:"calories"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
}

// Analyze submits one photo and returns the parsed estimate.
func (c *Client) Analyze(ctx context.Context, img Image) (stage.AnalysisRecord, error) {
	var empty stage.AnalysisRecord
	if len(img.Data) == 0 {
		return empty, services.Wrap(services.ErrValidation, "analysis", "analyze", "image is empty", nil)
	}
	if c.cfg.APIKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, "analysis", "analyze", "api key required", nil)
	}
	mediaType := img.MediaType
	if mediaType == "" || !strings.HasPrefix(mediaType, "image/") {
		mediaType = "image/jpeg"
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return empty, fmt.Errorf("analysis pacing: %w", ctxErr)
			}
			return empty, services.Wrap(services.ErrTimeout, "analysis", "pacing", "request would exceed attempt deadline", err)
		}
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userPrompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				}},
			}},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	completion, body, err := c.send(ctx, payload)
	if err != nil {
		return empty, err
	}
	content := extractContent(completion)
	if content == "" {
		if refusal := extractRefusal(completion); refusal != "" {
			return empty, services.Wrap(services.ErrRejected, "analysis", "analyze", "model refused: "+refusal, nil)
		}
		return empty, services.Wrap(services.ErrMalformedResponse, "analysis", "analyze",
			"empty content: "+summarizePayloadSnippet(string(body)), nil)
	}

	var parsed estimate
	if err := DecodeJSON(content, &parsed); err != nil {
		return empty, services.Wrap(services.ErrMalformedResponse, "analysis", "parse estimate", "", err)
	}
	return c.toRecord(parsed)
}

func (c *Client) toRecord(parsed estimate) (stage.AnalysisRecord, error) {
	if parsed.Calories == nil {
		return stage.AnalysisRecord{}, services.Wrap(services.ErrMalformedResponse, "analysis", "parse estimate", "calories missing", nil)
	}
	calories := *parsed.Calories
	if math.IsNaN(calories) || math.IsInf(calories, 0) || calories < 0 {
		return stage.AnalysisRecord{}, services.Wrap(services.ErrMalformedResponse, "analysis", "parse estimate",
			fmt.Sprintf("calories out of range: %v", calories), nil)
	}
	description := strings.Join(strings.Fields(parsed.Description), " ")
	if description == "" {
		return stage.AnalysisRecord{}, services.Wrap(services.ErrMalformedResponse, "analysis", "parse estimate", "description missing", nil)
	}
	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return stage.AnalysisRecord{
		Calories:    math.Round(calories*10) / 10,
		Description: c.titleCase.String(description),
		Confidence:  confidence,
		Model:       c.cfg.Model,
	}, nil
}

// HealthCheck verifies the client is configured. It makes no request.
func (c *Client) HealthCheck(context.Context) stage.Health {
	switch {
	case c.cfg.APIKey == "":
		return stage.Unhealthy("analysis", "api key not configured")
	case c.cfg.Model == "":
		return stage.Unhealthy("analysis", "model not configured")
	default:
		return stage.Healthy("analysis")
	}
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema even when stream=false.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

func (c *Client) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, []byte, error) {
	var completion chatCompletionResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, nil, services.Wrap(services.ErrValidation, "analysis", "encode request", "", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return completion, nil, services.Wrap(services.ErrConfiguration, "analysis", "build request", "", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
		req.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, nil, transportError("post", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, nil, transportError("read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return completion, body, &StatusError{Status: resp.StatusCode, Body: snippet}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, body, services.Wrap(services.ErrMalformedResponse, "analysis", "decode response",
			summarizePayloadSnippet(string(body)), err)
	}
	if completion.Error != nil {
		return completion, body, services.Wrap(services.ErrServerFault, "analysis", "provider error",
			strings.TrimSpace(completion.Error.Message), nil)
	}
	return completion, body, nil
}

// transportError keeps context errors untouched so the classifier sees the
// deadline or cancellation directly.
func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("analysis %s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "analysis", op, "", err)
	}
	return services.Wrap(services.ErrConnectivity, "analysis", op, "", err)
}

func extractContent(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content
		}
	}
	return ""
}

func extractRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
