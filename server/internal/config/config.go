package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/thinkparq/updater-go/common/configmgr"
	"github.com/thinkparq/updater-go/common/logger"
	"github.com/thinkparq/updater-go/server/internal/server"
	"github.com/thinkparq/updater-go/server/pkg/history"
	"github.com/thinkparq/updater-go/server/pkg/mirror"
	"github.com/thinkparq/updater-go/server/pkg/publish"
	"github.com/thinkparq/updater-go/server/pkg/repository"
)

type AppConfig struct {
	Log        logger.Config     `mapstructure:"log"`
	Repository repository.Config `mapstructure:"repository"`
	Publish    publish.Config    `mapstructure:"publish"`
	Server     server.Config     `mapstructure:"server"`
	History    history.Config    `mapstructure:"history"`
	Mirror     mirror.Config     `mapstructure:"mirror"`
	Developer  struct {
		DumpConfig bool `mapstructure:"dump-config"`
	}
}

func (c *AppConfig) NewEmptyInstance() configmgr.Configurable {
	return new(AppConfig)
}

// UpdateAllowed only permits changes to settings components pick up at runtime: logging and the
// publish ignore rules. Everything else requires a restart.
func (c *AppConfig) UpdateAllowed(newConfig configmgr.Configurable) error {
	n, ok := newConfig.(*AppConfig)
	if !ok {
		return fmt.Errorf("invalid configuration type %T", newConfig)
	}
	var errs []error
	if n.Repository != c.Repository {
		errs = append(errs, errors.New("repository settings cannot be changed without a restart"))
	}
	if n.Server != c.Server {
		errs = append(errs, errors.New("server settings cannot be changed without a restart"))
	}
	if n.History != c.History {
		errs = append(errs, errors.New("history settings cannot be changed without a restart"))
	}
	if n.Mirror != c.Mirror {
		errs = append(errs, errors.New("mirror settings cannot be changed without a restart"))
	}
	return errors.Join(errs...)
}

func (c *AppConfig) ValidateConfig() error {
	var errs []error
	if strings.TrimSpace(c.Repository.Base) == "" {
		errs = append(errs, errors.New("repository.base is required"))
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.MaxUploadSize < 0 {
		errs = append(errs, errors.New("server.max-upload-size must not be negative"))
	}
	if !c.Server.TlsDisable && (c.Server.TlsCertFile == "") != (c.Server.TlsKeyFile == "") {
		errs = append(errs, errors.New("server.tls-cert-file and server.tls-key-file must be set together"))
	}
	if _, err := c.Publish.Ignore.Compile(); err != nil {
		errs = append(errs, fmt.Errorf("publish.ignore: %w", err))
	}
	for app, rules := range c.Publish.AppIgnore {
		if _, err := rules.Compile(); err != nil {
			errs = append(errs, fmt.Errorf("publish.app-ignore.%s: %w", app, err))
		}
	}
	if c.Mirror.Enabled() && (c.Mirror.AccessKey == "") != (c.Mirror.SecretKey == "") {
		errs = append(errs, errors.New("mirror.access-key and mirror.secret-key must be set together"))
	}
	return errors.Join(errs...)
}

func (c *AppConfig) GetLoggingConfig() logger.Config {
	return c.Log
}

func (c *AppConfig) GetPublishConfig() publish.Config {
	return c.Publish
}
