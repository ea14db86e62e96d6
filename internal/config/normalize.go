package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProvider()
	c.normalizeGeneration()
	c.normalizeLimits()
	c.normalizePipeline()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		c.Paths.WorkspaceDir = defaultWorkspaceDir
	}
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ArtifactsDir) == "" {
		c.Paths.ArtifactsDir = defaultArtifactsDir
	}
	if c.Paths.ArtifactsDir, err = expandPath(c.Paths.ArtifactsDir); err != nil {
		return fmt.Errorf("paths.artifacts_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeProvider() {
	c.Provider.APIKey = strings.TrimSpace(c.Provider.APIKey)
	if c.Provider.APIKey == "" {
		if value, ok := os.LookupEnv("MONTAGE_API_KEY"); ok {
			c.Provider.APIKey = strings.TrimSpace(value)
		}
	}
	c.Provider.BaseURL = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c.Provider.BaseURL), "/"))
	if c.Provider.BaseURL == "" {
		if value, ok := os.LookupEnv("MONTAGE_BASE_URL"); ok {
			c.Provider.BaseURL = strings.TrimSuffix(strings.TrimSpace(value), "/")
		}
	}
	c.Provider.ImageModel = strings.TrimSpace(c.Provider.ImageModel)
	c.Provider.VideoModel = strings.TrimSpace(c.Provider.VideoModel)
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = defaultProviderTimeoutSeconds
	}
}

func (c *Config) normalizeGeneration() {
	if c.Generation.ImagePollInterval <= 0 {
		c.Generation.ImagePollInterval = defaultImagePollInterval
	}
	if c.Generation.ImagePollTimeout <= 0 {
		c.Generation.ImagePollTimeout = defaultImagePollTimeout
	}
	if c.Generation.VideoPollInterval <= 0 {
		c.Generation.VideoPollInterval = defaultVideoPollInterval
	}
	if c.Generation.VideoPollTimeout <= 0 {
		c.Generation.VideoPollTimeout = defaultVideoPollTimeout
	}
	if c.Generation.MaxRetries < 0 {
		c.Generation.MaxRetries = defaultMaxRetries
	}
	if c.Generation.RetryInitialDelayMS <= 0 {
		c.Generation.RetryInitialDelayMS = defaultRetryInitialDelayMS
	}
	if c.Generation.RetryMaxDelayMS <= 0 {
		c.Generation.RetryMaxDelayMS = defaultRetryMaxDelayMS
	}
	if c.Generation.SeedFrameCount <= 0 {
		c.Generation.SeedFrameCount = defaultSeedFrameCount
	}
	if c.Generation.DefaultClipSeconds <= 0 {
		c.Generation.DefaultClipSeconds = defaultDefaultClipSeconds
	}
}

func (c *Config) normalizeLimits() {
	if c.Limits.ImageMaxConcurrent <= 0 {
		c.Limits.ImageMaxConcurrent = defaultImageMaxConcurrent
	}
	if c.Limits.ImageMinStartIntervalMS < 0 {
		c.Limits.ImageMinStartIntervalMS = defaultImageMinStartIntervalMS
	}
	if c.Limits.VideoMaxConcurrent <= 0 {
		c.Limits.VideoMaxConcurrent = defaultVideoMaxConcurrent
	}
	if c.Limits.VideoMinStartIntervalMS < 0 {
		c.Limits.VideoMinStartIntervalMS = defaultVideoMinStartIntervalMS
	}
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Strategy = strings.ToLower(strings.TrimSpace(c.Pipeline.Strategy))
	if c.Pipeline.Strategy == "" {
		c.Pipeline.Strategy = defaultStrategy
	}
	if c.Pipeline.ReferenceWaitSeconds <= 0 {
		c.Pipeline.ReferenceWaitSeconds = defaultReferenceWaitSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("MONTAGE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
