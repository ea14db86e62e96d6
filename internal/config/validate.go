package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/montage/config.toml"
		}
		return fmt.Errorf("provider.api_key is required. Set MONTAGE_API_KEY env var or edit %s (create with 'montage config init')", defaultPath)
	}
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url is required (the generation gateway endpoint, e.g. https://gateway.example.com/v1)")
	}
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("provider.base_url must start with http:// or https://, got %q", c.Provider.BaseURL)
	}
	if c.Provider.ImageModel == "" {
		return errors.New("provider.image_model must be set")
	}
	if c.Provider.VideoModel == "" {
		return errors.New("provider.video_model must be set")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if err := ensurePositiveMap(map[string]int{
		"generation.image_poll_interval": c.Generation.ImagePollInterval,
		"generation.image_poll_timeout":  c.Generation.ImagePollTimeout,
		"generation.video_poll_interval": c.Generation.VideoPollInterval,
		"generation.video_poll_timeout":  c.Generation.VideoPollTimeout,
		"generation.seed_frame_count":    c.Generation.SeedFrameCount,
		"provider.timeout_seconds":       c.Provider.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Generation.ImagePollTimeout <= c.Generation.ImagePollInterval {
		return errors.New("generation.image_poll_timeout must be greater than generation.image_poll_interval")
	}
	if c.Generation.VideoPollTimeout <= c.Generation.VideoPollInterval {
		return errors.New("generation.video_poll_timeout must be greater than generation.video_poll_interval")
	}
	if c.Generation.RetryMaxDelayMS < c.Generation.RetryInitialDelayMS {
		return errors.New("generation.retry_max_delay_ms must be >= generation.retry_initial_delay_ms")
	}
	if c.Generation.DefaultClipSeconds < 1 || c.Generation.DefaultClipSeconds > 30 {
		return errors.New("generation.default_clip_seconds must be between 1 and 30")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.Strategy {
	case StrategyPhased, StrategyPipelined:
	default:
		return fmt.Errorf("pipeline.strategy must be %q or %q, got %q", StrategyPhased, StrategyPipelined, c.Pipeline.Strategy)
	}
	if err := ensurePositiveMap(map[string]int{
		"limits.image_max_concurrent":     c.Limits.ImageMaxConcurrent,
		"limits.video_max_concurrent":     c.Limits.VideoMaxConcurrent,
		"pipeline.reference_wait_seconds": c.Pipeline.ReferenceWaitSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
