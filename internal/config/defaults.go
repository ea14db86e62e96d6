package config

const (
	defaultWorkspaceDir     = "~/.local/share/montage/workspace"
	defaultArtifactsDir     = "~/.local/share/montage/artifacts"
	defaultLogDir           = "~/.local/share/montage/logs"
	defaultAPIBind          = "127.0.0.1:7913"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30

	defaultProviderTimeoutSeconds = 30

	defaultImagePollInterval = 2
	defaultImagePollTimeout  = 300
	defaultVideoPollInterval = 5
	defaultVideoPollTimeout  = 900

	defaultMaxRetries          = 3
	defaultRetryInitialDelayMS = 1000
	defaultRetryMaxDelayMS     = 4000

	defaultSeedFrameCount     = 3
	defaultDefaultClipSeconds = 5

	defaultImageMaxConcurrent      = 3
	defaultImageMinStartIntervalMS = 1000
	defaultVideoMaxConcurrent      = 2
	defaultVideoMinStartIntervalMS = 2000

	defaultStrategy             = StrategyPhased
	defaultReferenceWaitSeconds = 60

	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
)

// Strategy names accepted by pipeline.strategy.
const (
	StrategyPhased    = "phased"
	StrategyPipelined = "pipelined"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			ArtifactsDir: defaultArtifactsDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Provider: Provider{
			TimeoutSeconds: defaultProviderTimeoutSeconds,
		},
		Generation: Generation{
			ImagePollInterval:   defaultImagePollInterval,
			ImagePollTimeout:    defaultImagePollTimeout,
			VideoPollInterval:   defaultVideoPollInterval,
			VideoPollTimeout:    defaultVideoPollTimeout,
			MaxRetries:          defaultMaxRetries,
			RetryInitialDelayMS: defaultRetryInitialDelayMS,
			RetryMaxDelayMS:     defaultRetryMaxDelayMS,
			SeedFrameCount:      defaultSeedFrameCount,
			DefaultClipSeconds:  defaultDefaultClipSeconds,
		},
		Limits: Limits{
			ImageMaxConcurrent:      defaultImageMaxConcurrent,
			ImageMinStartIntervalMS: defaultImageMinStartIntervalMS,
			VideoMaxConcurrent:      defaultVideoMaxConcurrent,
			VideoMinStartIntervalMS: defaultVideoMinStartIntervalMS,
		},
		Pipeline: Pipeline{
			Strategy:             defaultStrategy,
			ReferenceWaitSeconds: defaultReferenceWaitSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			RunStart:       true,
			RunComplete:    true,
			SceneFailed:    true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:  5,
			ErrorRetryInterval: 10,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
