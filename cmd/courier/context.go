package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/fileaccess"
	"courier/internal/services/s3"
	"courier/internal/store"
)

// daemonProbeTimeout bounds the status probe deciding between the daemon and
// direct store access.
const daemonProbeTimeout = 2 * time.Second

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
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

// dialDaemon returns an API client once the daemon has answered a status
// probe.
func (c *commandContext) dialDaemon(ctx context.Context) (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client := api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken, nil)
	probeCtx, cancel := context.WithTimeout(ctx, daemonProbeTimeout)
	defer cancel()
	if _, err := client.Status(probeCtx); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *commandContext) openStore() (*store.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg)
}

// withAccess runs fn against the daemon when reachable, else the store.
func (c *commandContext) withAccess(ctx context.Context, fn func(fileaccess.Access) error) error {
	session, err := fileaccess.OpenWithFallback(ctx, c.dialDaemon, c.openStore, c.presigner(ctx))
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

// presigner returns the object storage client used to link forwarded parts,
// or nil when forward.kind is not s3.
func (c *commandContext) presigner(ctx context.Context) api.Presigner {
	cfg := c.configValue()
	if cfg == nil || cfg.Forward.Kind != config.ForwardKindS3 {
		return nil
	}
	client, err := s3.NewClient(ctx, cfg.Forward.S3)
	if err != nil {
		return nil
	}
	return client
}

func (c *commandContext) withStore(fn func(*store.Store) error) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
