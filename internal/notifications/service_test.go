package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"montage/internal/config"
	"montage/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventRunCompleted, notifications.Payload{"title": "Example"})
	if err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "run started",
			event: notifications.EventRunStarted,
			payload: notifications.Payload{
				"title":  "Harbor at Dawn",
				"scenes": "4",
			},
			expectTitle:   "Montage - Run Started",
			expectMessage: "🎬 Started run: Harbor at Dawn (4 scenes)",
			expectTags:    "montage,run,started",
		},
		{
			name:  "run completed",
			event: notifications.EventRunCompleted,
			payload: notifications.Payload{
				"title":     "Harbor at Dawn",
				"succeeded": "4",
				"scenes":    "4",
				"duration":  "3m20s",
			},
			expectTitle:    "Montage - Run Complete",
			expectMessage:  "✅ Run complete: Harbor at Dawn (4/4 scenes) in 3m20s",
			expectTags:     "montage,run,completed",
			expectPriority: "high",
		},
		{
			name:  "run failed",
			event: notifications.EventRunFailed,
			payload: notifications.Payload{
				"title": "Harbor at Dawn",
				"error": "image phase settled 2/4",
			},
			expectTitle:    "Montage - Run Failed",
			expectMessage:  "❌ Run failed: Harbor at Dawn: image phase settled 2/4",
			expectTags:     "montage,run,failed",
			expectPriority: "high",
		},
		{
			name:  "scene failed",
			event: notifications.EventSceneFailed,
			payload: notifications.Payload{
				"title": "Harbor at Dawn",
				"scene": "2",
				"cause": "provider timeout",
			},
			expectTitle:   "Montage - Scene Failed",
			expectMessage: "Scene 2 of Harbor at Dawn failed: provider timeout",
			expectTags:    "montage,scene,failed",
		},
		{
			name:  "review required",
			event: notifications.EventReviewRequired,
			payload: notifications.Payload{
				"title":  "Harbor at Dawn",
				"reason": "prompt rejected by safety filter",
			},
			expectTitle:    "Montage - Review Required",
			expectMessage:  "Needs review: Harbor at Dawn\nprompt rejected by safety filter",
			expectTags:     "montage,review,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsEventToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RunStart = false
	cfg.Notifications.RunComplete = false
	cfg.Notifications.SceneFailed = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	suppressed := []notifications.Event{
		notifications.EventRunStarted,
		notifications.EventRunCompleted,
		notifications.EventRunFailed,
		notifications.EventSceneFailed,
		notifications.EventReviewRequired,
	}

	for _, event := range suppressed {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"title": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error from failing server")
	}
	if !strings.Contains(err.Error(), "ntfy returned 429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}
