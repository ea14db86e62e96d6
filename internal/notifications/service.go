package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"montage/internal/config"
)

const userAgent = "Montage-Go/0.1.0"

// Event identifies a run milestone worth telling the user about.
type Event string

const (
	EventRunStarted     Event = "run_started"
	EventRunCompleted   Event = "run_completed"
	EventRunFailed      Event = "run_failed"
	EventSceneFailed    Event = "scene_failed"
	EventReviewRequired Event = "review_required"
	EventTest           Event = "test"
)

// Payload carries the event's template values. Missing keys render as empty
// strings so a sparse payload never blocks delivery.
type Payload map[string]string

func (p Payload) get(key string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[key])
}

// Service defines the notification surface exposed to the daemon.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		enabled: map[Event]bool{
			EventRunStarted:     cfg.Notifications.RunStart,
			EventRunCompleted:   cfg.Notifications.RunComplete,
			EventRunFailed:      cfg.Notifications.Errors,
			EventSceneFailed:    cfg.Notifications.SceneFailed,
			EventReviewRequired: cfg.Notifications.Errors,
			EventTest:           true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

// Publish formats and sends the event. Suppressed events return nil without
// touching the network.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, err := format(event, payload)
	if err != nil {
		return err
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, error) {
	switch event {
	case EventRunStarted:
		return message{
			title: "Montage - Run Started",
			body:  fmt.Sprintf("🎬 Started run: %s (%s scenes)", payload.get("title"), payload.get("scenes")),
			tags:  []string{"montage", "run", "started"},
		}, nil
	case EventRunCompleted:
		body := fmt.Sprintf("✅ Run complete: %s (%s/%s scenes)", payload.get("title"), payload.get("succeeded"), payload.get("scenes"))
		if duration := payload.get("duration"); duration != "" {
			body = fmt.Sprintf("%s in %s", body, duration)
		}
		return message{
			title:    "Montage - Run Complete",
			body:     body,
			tags:     []string{"montage", "run", "completed"},
			priority: "high",
		}, nil
	case EventRunFailed:
		return message{
			title:    "Montage - Run Failed",
			body:     fmt.Sprintf("❌ Run failed: %s: %s", payload.get("title"), payload.get("error")),
			tags:     []string{"montage", "run", "failed"},
			priority: "high",
		}, nil
	case EventSceneFailed:
		return message{
			title: "Montage - Scene Failed",
			body:  fmt.Sprintf("Scene %s of %s failed: %s", payload.get("scene"), payload.get("title"), payload.get("cause")),
			tags:  []string{"montage", "scene", "failed"},
		}, nil
	case EventReviewRequired:
		return message{
			title:    "Montage - Review Required",
			body:     fmt.Sprintf("Needs review: %s\n%s", payload.get("title"), payload.get("reason")),
			tags:     []string{"montage", "review", "alert"},
			priority: "high",
		}, nil
	case EventTest:
		return message{
			title:    "Montage - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"montage", "test"},
			priority: "low",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown notification event %q", event)
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
