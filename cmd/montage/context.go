package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"montage/internal/config"
	"montage/internal/daemonclient"
	"montage/internal/queueaccess"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// apiBind resolves the daemon API address, preferring the --api flag over
// the configuration file.
func (c *commandContext) apiBind() string {
	if c.apiFlag != nil {
		if bind := strings.TrimSpace(*c.apiFlag); bind != "" {
			return bind
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return strings.TrimSpace(cfg.Paths.APIBind)
	}
	return ""
}

// client builds a daemon API client for the resolved bind address. The
// client may point at a daemon that is not running; callers that need a
// live daemon go through requireClient.
func (c *commandContext) client() (*daemonclient.Client, error) {
	return daemonclient.New(c.apiBind())
}

// requireClient returns a client whose daemon answered a health probe, or
// an actionable error telling the user how to start one.
func (c *commandContext) requireClient(ctx context.Context) (*daemonclient.Client, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("no daemon API address configured; set paths.api_bind or pass --api")
	}
	if err := client.Health(ctx); err != nil {
		if daemonclient.IsUnavailable(err) {
			return nil, fmt.Errorf("daemon is not reachable at %s; start it with `montage start`", c.apiBind())
		}
		return nil, err
	}
	return client, nil
}

// withQueue runs fn against the queue, going through the daemon when it is
// reachable and falling back to the store otherwise.
func (c *commandContext) withQueue(cmd *cobra.Command, fn func(context.Context, queueaccess.Access) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	// The session probes cfg's API bind, so an --api override has to land
	// on a copy before the probe.
	if bind := c.apiBind(); bind != cfg.Paths.APIBind {
		clone := *cfg
		clone.Paths.APIBind = bind
		cfg = &clone
	}
	session, err := queueaccess.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(cmd.Context(), session.Access)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
