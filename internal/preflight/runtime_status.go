package preflight

import (
	"context"
	"strings"

	"montage/internal/config"
)

// CheckGatewayFromConfig evaluates gateway status from config and connectivity
// for status display.
func CheckGatewayFromConfig(cfg *config.Config) Result {
	const name = "Generation gateway"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key"}
	}
	if strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		return Result{Name: name, Detail: "Missing base URL"}
	}
	return CheckGateway(context.Background(), cfg.Provider)
}

// NotificationsStatus reports whether push notifications are configured.
// Notifications are optional, so an empty topic still passes.
func NotificationsStatus(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: "ntfy topic configured"}
}
