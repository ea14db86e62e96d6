package daemonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"montage/internal/api"
	"montage/internal/logs"
)

// ErrUnavailable reports that no daemon API endpoint is configured.
var ErrUnavailable = errors.New("daemon API unavailable")

// Client is an HTTP client for the daemon API.
type Client struct {
	base *url.URL
	http *http.Client
}

// New builds a client for the given API bind address. An empty bind returns
// a nil client; calls on a nil client fail with ErrUnavailable.
func New(bind string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base: base,
		// No timeout - log follow requests block until the server's wait elapses.
		http: &http.Client{},
	}, nil
}

// APIError carries an error response from the daemon API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon API returned status %d", e.StatusCode)
}

// IsNotFound reports whether err is a daemon API not-found response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnavailable reports whether err means the daemon could not be reached
// rather than the operation failing.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable) || logs.Unavailable(err)
}

// Health probes the daemon liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Status returns the daemon runtime snapshot.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &status)
	return status, err
}

// List returns queued storyboards, optionally filtered by status names.
func (c *Client) List(ctx context.Context, statuses []string) ([]api.Storyboard, error) {
	query := url.Values{}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	var resp api.QueueListResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Boards, nil
}

// Stats returns queue counts keyed by status name.
func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	var resp api.QueueStatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue/stats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Counts, nil
}

// Describe fetches one storyboard with its scene checkpoints. It returns
// nil when the id is unknown.
func (c *Client) Describe(ctx context.Context, id int64) (*api.StoryboardResponse, error) {
	var resp api.StoryboardResponse
	if err := c.do(ctx, http.MethodGet, boardPath(id), nil, nil, &resp); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &resp, nil
}

// Enqueue asks the daemon to load and queue the manifest at path.
func (c *Client) Enqueue(ctx context.Context, manifestPath string) (*api.StoryboardResponse, error) {
	var resp api.StoryboardResponse
	req := api.EnqueueRequest{ManifestPath: manifestPath}
	if err := c.do(ctx, http.MethodPost, "/api/queue", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Remove deletes one storyboard, reporting whether a row was removed.
func (c *Client) Remove(ctx context.Context, id int64) (bool, error) {
	if err := c.do(ctx, http.MethodDelete, boardPath(id), nil, nil, nil); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Retry resets one failed or review storyboard back to pending.
func (c *Client) Retry(ctx context.Context, id int64) (int64, error) {
	var resp api.ActionResponse
	if err := c.do(ctx, http.MethodPost, boardPath(id)+"/retry", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// RetryAll resets every failed and review storyboard back to pending.
func (c *Client) RetryAll(ctx context.Context) (int64, error) {
	var resp api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/retry", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// ResetStuck demotes storyboards stuck in the running state to pending.
func (c *Client) ResetStuck(ctx context.Context) (int64, error) {
	var resp api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/reset", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// Clear removes settled storyboards. Scope is completed, failed, or all;
// empty clears completed.
func (c *Client) Clear(ctx context.Context, scope string) (int64, error) {
	query := url.Values{}
	if strings.TrimSpace(scope) != "" {
		query.Set("scope", strings.TrimSpace(scope))
	}
	var resp api.ActionResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/clear", query, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// PauseRun suspends new stage submissions for the active run.
func (c *Client) PauseRun(ctx context.Context, id int64) (api.SceneActionResponse, error) {
	var resp api.SceneActionResponse
	err := c.do(ctx, http.MethodPost, boardPath(id)+"/pause", nil, nil, &resp)
	return resp, err
}

// ResumeRun lifts a pause on the active run.
func (c *Client) ResumeRun(ctx context.Context, id int64) (api.SceneActionResponse, error) {
	var resp api.SceneActionResponse
	err := c.do(ctx, http.MethodPost, boardPath(id)+"/resume", nil, nil, &resp)
	return resp, err
}

// RetryScene re-runs the failed stage of one scene in the active run.
func (c *Client) RetryScene(ctx context.Context, id int64, index int) (api.SceneActionResponse, error) {
	var resp api.SceneActionResponse
	err := c.do(ctx, http.MethodPost, scenePath(id, index)+"/retry", nil, nil, &resp)
	return resp, err
}

// SkipScene advances a failed scene past its failed stage when a usable
// artifact exists.
func (c *Client) SkipScene(ctx context.Context, id int64, index int) (api.SceneActionResponse, error) {
	var resp api.SceneActionResponse
	err := c.do(ctx, http.MethodPost, scenePath(id, index)+"/skip", nil, nil, &resp)
	return resp, err
}

// TestNotification asks the daemon to publish a test notification.
func (c *Client) TestNotification(ctx context.Context) (api.TestNotificationResponse, error) {
	var resp api.TestNotificationResponse
	err := c.do(ctx, http.MethodPost, "/api/notify/test", nil, nil, &resp)
	return resp, err
}

// TailLogs fetches one window of daemon log lines. It implements
// logs.RemoteTailer so streaming prefers the daemon over direct file reads.
func (c *Client) TailLogs(ctx context.Context, opts logs.TailOptions) (logs.TailResult, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(opts.Offset, 10))
	query.Set("limit", strconv.Itoa(opts.Limit))
	if opts.Follow {
		query.Set("follow", "true")
		if seconds := int(opts.Wait / time.Second); seconds > 0 {
			query.Set("wait", strconv.Itoa(seconds))
		}
	}
	var resp api.LogTailResponse
	if err := c.do(ctx, http.MethodGet, "/api/logs", query, nil, &resp); err != nil {
		return logs.TailResult{}, err
	}
	return logs.TailResult{Lines: resp.Lines, Offset: resp.Offset}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrUnavailable
	}

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), payload)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errPayload api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errPayload); decodeErr == nil {
			apiErr.Message = errPayload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func boardPath(id int64) string {
	return "/api/queue/" + strconv.FormatInt(id, 10)
}

func scenePath(id int64, index int) string {
	return boardPath(id) + "/scenes/" + strconv.Itoa(index)
}
