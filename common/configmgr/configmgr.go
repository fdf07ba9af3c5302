// Package configmgr merges flags, environment variables and an optional TOML configuration file
// into an application configuration and redistributes it to listeners when the file is reloaded.
//
// Precedence (highest to lowest): flags, environment variables, configuration file, defaults
// (the flag defaults). Environment variables are the flag name in capitals prefixed with the
// application prefix, with dots replaced by a double underscore and hyphens by an underscore.
package configmgr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CfgFileFlag is the flag that names the configuration file, if any.
const CfgFileFlag = "cfg-file"

// Configurable is implemented by every application configuration.
type Configurable interface {
	// NewEmptyInstance returns a zero configuration of the same type to decode into.
	NewEmptyInstance() Configurable
	// UpdateAllowed returns an error if newConfig changes settings that can't be applied without a
	// restart.
	UpdateAllowed(newConfig Configurable) error
	ValidateConfig() error
}

// Listener is notified with the new configuration whenever it is reloaded.
type Listener interface {
	UpdateConfiguration(any) error
}

type ConfigManager struct {
	flags        *pflag.FlagSet
	envVarPrefix string
	mu           sync.RWMutex
	config       Configurable
	listeners    []Listener
}

// New loads the initial configuration into a new instance of config's type.
func New(flags *pflag.FlagSet, envVarPrefix string, config Configurable) (*ConfigManager, error) {
	cm := &ConfigManager{
		flags:        flags,
		envVarPrefix: envVarPrefix,
	}
	initial, err := cm.load(config)
	if err != nil {
		return nil, err
	}
	cm.config = initial
	return cm, nil
}

// Get returns the current configuration. Callers must not modify it.
func (cm *ConfigManager) Get() Configurable {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

func (cm *ConfigManager) AddListener(l Listener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, l)
}

// Manage reloads the configuration every time the process receives SIGHUP until ctx is done.
func (cm *ConfigManager) Manage(ctx context.Context, log *zap.Logger) {
	log = log.With(zap.String("component", "configmgr"))
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP)
	defer signal.Stop(sigs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			log.Info("received SIGHUP, reloading configuration")
			if err := cm.Reload(); err != nil {
				log.Error("unable to apply updated configuration", zap.Error(err))
				continue
			}
			log.Info("applied updated configuration")
		}
	}
}

// Reload loads the configuration again and hands it to every listener. A configuration that is
// invalid or not allowed as an update is rejected and the current one is kept. Errors from
// listeners are joined, every listener is called regardless.
func (cm *ConfigManager) Reload() error {
	current := cm.Get()
	newConfig, err := cm.load(current)
	if err != nil {
		return err
	}
	if err := current.UpdateAllowed(newConfig); err != nil {
		return fmt.Errorf("configuration update not allowed: %w", err)
	}

	cm.mu.Lock()
	cm.config = newConfig
	listeners := append([]Listener(nil), cm.listeners...)
	cm.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.UpdateConfiguration(newConfig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (cm *ConfigManager) load(template Configurable) (Configurable, error) {
	v := viper.New()
	v.SetEnvPrefix(strings.TrimSuffix(cm.envVarPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cm.flags); err != nil {
		return nil, fmt.Errorf("unable to bind flags: %w", err)
	}

	if cfgFile := v.GetString(CfgFileFlag); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			// The default file is optional, one that was asked for explicitly is not.
			explicit := cm.flags.Changed(CfgFileFlag) || os.Getenv(cm.envVarPrefix+"CFG_FILE") != ""
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("unable to read configuration file %q: %w", cfgFile, err)
			}
		}
	}

	config := template.NewEmptyInstance()
	err := v.Unmarshal(config, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := config.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
