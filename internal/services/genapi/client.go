// Package genapi implements the jobs.Client interface over a provider-style
// REST gateway: POST /v1/jobs submits a generation job, GET /v1/jobs/{id}
// reports its status.
package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"montage/internal/jobs"
	"montage/internal/logging"
	"montage/internal/retry"
	"montage/internal/services"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	jobsPath           = "/v1/jobs"
	maxErrorBody       = 4096
)

// Config captures the runtime settings required to talk to the gateway.
type Config struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
}

// Client talks to the generation gateway. It satisfies jobs.Client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
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

// WithLogger routes client logs to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "genapi")
	}
}

// NewClient constructs a gateway client from the supplied configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "genapi", "new", "base url is required", nil)
	}
	if cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "genapi", "new", "api key is required", nil)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type submitPayload struct {
	Kind            string   `json:"kind"`
	Model           string   `json:"model,omitempty"`
	Prompt          string   `json:"prompt"`
	SeedImageURL    string   `json:"seed_image_url,omitempty"`
	StartFrameURL   string   `json:"start_frame_url,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	ReferenceImages []string `json:"reference_images,omitempty"`
}

type submitResponse struct {
	ID    string    `json:"id"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// outputList tolerates gateways that return `output` as either a single URL
// string or an array of URLs.
type outputList []string

func (o *outputList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = nil
		return nil
	}
	if trimmed[0] == '[' {
		var urls []string
		if err := json.Unmarshal(trimmed, &urls); err != nil {
			return err
		}
		*o = urls
		return nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	if single == "" {
		*o = nil
		return nil
	}
	*o = outputList{single}
	return nil
}

type statusResponse struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Output outputList `json:"output"`
	Error  string     `json:"error"`
}

// Submit posts a generation request and returns the provider's job id.
func (c *Client) Submit(ctx context.Context, req jobs.SubmitRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	payload := submitPayload{
		Kind:            string(req.Kind),
		Model:           strings.TrimSpace(req.Model),
		Prompt:          req.Prompt,
		SeedImageURL:    strings.TrimSpace(req.SeedImageURL),
		StartFrameURL:   strings.TrimSpace(req.StartFrameURL),
		DurationSeconds: req.DurationSeconds,
		ReferenceImages: req.ReferenceURLs,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "genapi", "submit", "encode request", err)
	}

	body, err := c.roundTrip(ctx, http.MethodPost, c.cfg.BaseURL+jobsPath, bytes.NewReader(encoded), "submit")
	if err != nil {
		return "", err
	}
	var decoded submitResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "genapi", "submit", "decode response", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", services.Wrap(services.ErrExternalTool, "genapi", "submit",
			fmt.Sprintf("api error: %s", decoded.Error.Message), nil)
	}
	jobID := strings.TrimSpace(decoded.ID)
	if jobID == "" {
		return "", services.Wrap(services.ErrExternalTool, "genapi", "submit", "response missing job id", nil)
	}

	logging.WithContext(ctx, c.logger).Debug("job submitted",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldJobKind, string(req.Kind)),
	)
	return jobID, nil
}

// HealthCheck verifies the gateway is reachable and the key is accepted. It
// probes the status endpoint with an id that cannot exist; a not-found answer
// is the healthy case because the gateway authenticated and routed the
// request.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Status(ctx, "montage-health-probe")
	if err == nil || errors.Is(err, services.ErrNotFound) {
		return nil
	}
	return err
}

// Status fetches the current snapshot for a submitted job.
func (c *Client) Status(ctx context.Context, jobID string) (jobs.StatusSnapshot, error) {
	var snap jobs.StatusSnapshot
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return snap, services.Wrap(services.ErrValidation, "genapi", "status", "job id is required", nil)
	}

	endpoint := c.cfg.BaseURL + jobsPath + "/" + url.PathEscape(jobID)
	body, err := c.roundTrip(ctx, http.MethodGet, endpoint, nil, "status")
	if err != nil {
		return snap, err
	}
	var decoded statusResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return snap, services.Wrap(services.ErrExternalTool, "genapi", "status", "decode response", err)
	}

	snap.Status = jobs.Status(strings.ToLower(strings.TrimSpace(decoded.Status)))
	snap.Output = []string(decoded.Output)
	snap.Error = strings.TrimSpace(decoded.Error)
	return snap, nil
}

// roundTrip performs one HTTP exchange and classifies failures into the
// shared error taxonomy so retry policies can sort them.
func (c *Client) roundTrip(ctx context.Context, method, endpoint string, body io.Reader, operation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "genapi", operation, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, retry.Transient("genapi", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.classifyStatus(resp, operation)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient("genapi", operation, err)
	}
	return payload, nil
}

func (c *Client) classifyStatus(resp *http.Response, operation string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := &statusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
	if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
		statusErr.retryAfter = wait
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrAuth, "genapi", operation, "gateway rejected credentials", statusErr)
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "genapi", operation, "resource not found", statusErr)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "genapi", operation, "gateway unavailable", statusErr)
	default:
		return services.Wrap(services.ErrValidation, "genapi", operation, "gateway rejected request", statusErr)
	}
}

type statusError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// RetryAfter exposes the provider's wait hint to the retry policy.
func (e *statusError) RetryAfter() time.Duration {
	return e.retryAfter
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
