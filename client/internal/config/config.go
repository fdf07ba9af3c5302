package config

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thinkparq/updater-go/client/pkg/updater"
	"github.com/thinkparq/updater-go/common/logger"
	"go.uber.org/zap"
)

// This package handles the global command line tool config - the global flags, environment
// variable bindings and config file handling.

const (
	CfgFileKey      = "cfg-file"
	HostKey         = "host"
	AppPathKey      = "app-path"
	AppNameKey      = "app-name"
	AppVersionKey   = "app-version"
	ParallelKey     = "parallel"
	TimeoutKey      = "timeout"
	OutputKey       = "output"
	RawKey          = "raw"
	LogLevelKey     = "log-level"
	LogDeveloperKey = "log-developer"
)

// Supported values of --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

const envVarPrefix = "updater_client"

// Defines all the global flags and binds them to viper.
func InitGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String(CfgFileKey, "", "Optional TOML file providing defaults for any of the global flags.")

	cmd.PersistentFlags().String(HostKey, "http://127.0.0.1:8080", "The base URL of the update server.")

	cmd.PersistentFlags().String(AppPathKey, ".", `The installation root of the application. 
	The CHECKLIST describing the installed version is kept at the top of this directory.`)

	cmd.PersistentFlags().String(AppNameKey, "", `The application name. Only used to initialize a CHECKLIST when none exists yet 
	and to select the application to download.`)

	cmd.PersistentFlags().String(AppVersionKey, "", "The installed version. Only used to initialize a CHECKLIST when none exists yet.")

	cmd.PersistentFlags().Int(ParallelKey, runtime.GOMAXPROCS(0), "The maximum number of files downloaded in parallel (default: number of CPUs).")

	cmd.PersistentFlags().Duration(TimeoutKey, 10*time.Minute, "Maximum time for a single request to the update server, including the transfer (0 disables the timeout).")

	cmd.PersistentFlags().String(OutputKey, OutputTable, fmt.Sprintf("How structured output is printed (%s, %s).", OutputTable, OutputJSON))

	cmd.PersistentFlags().Bool(RawKey, false, "Print raw byte counts without IEC prefixes.")

	cmd.PersistentFlags().Int8(LogLevelKey, 0, `By default all logging is disabled except for fatal errors. 
	Optionally additional logging to stderr can be enabled to assist with debugging (0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug).`)

	cmd.PersistentFlags().Bool(LogDeveloperKey, false, "Enable logging at DebugLevel and above and print stack traces at WarnLevel and above.")
	cmd.PersistentFlags().MarkHidden(LogDeveloperKey)

	// Environment variables should start with UPDATER_CLIENT_
	viper.SetEnvPrefix(envVarPrefix)
	// Environment variables cannot use "-", replace with "_"
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Bind all persistent pflags to viper
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		viper.BindEnv(flag.Name)
		viper.BindPFlag(flag.Name, flag)
	})
}

// ReadConfigFile merges the file named by --cfg-file, if any. Flags and environment variables
// still take precedence.
func ReadConfigFile() error {
	file := viper.GetString(CfgFileKey)
	if file == "" {
		return nil
	}
	viper.SetConfigFile(file)
	viper.SetConfigType("toml")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read configuration file %s: %w", file, err)
	}
	return nil
}

// Validate checks the global configuration before any command runs.
func Validate() error {
	switch viper.GetString(OutputKey) {
	case OutputTable, OutputJSON:
	default:
		return fmt.Errorf("unsupported --%s %q (supported: %s, %s)", OutputKey, viper.GetString(OutputKey), OutputTable, OutputJSON)
	}
	if viper.GetInt(ParallelKey) < 1 {
		return fmt.Errorf("--%s must be at least 1", ParallelKey)
	}
	return nil
}

func GetUpdaterConfig() updater.Config {
	return updater.Config{
		Host:       viper.GetString(HostKey),
		AppPath:    viper.GetString(AppPathKey),
		AppName:    viper.GetString(AppNameKey),
		AppVersion: viper.GetString(AppVersionKey),
		Parallel:   viper.GetInt(ParallelKey),
		Timeout:    viper.GetDuration(TimeoutKey),
	}
}

var (
	loggerOnce sync.Once
	globalLog  *logger.Logger
	loggerErr  error
)

// GetLogger returns the process wide logger writing to stderr.
func GetLogger() (*zap.Logger, error) {
	loggerOnce.Do(func() {
		globalLog, loggerErr = logger.New(logger.Config{
			Type:      logger.StdErr,
			Level:     int8(viper.GetInt(LogLevelKey)),
			Developer: viper.GetBool(LogDeveloperKey),
		})
	})
	if loggerErr != nil {
		return zap.NewNop(), loggerErr
	}
	return globalLog.Logger, nil
}

// NewClient returns an update client for the local file system.
func NewClient(opts ...updater.Option) (*updater.Client, error) {
	log, err := GetLogger()
	if err != nil {
		return nil, err
	}
	return updater.New(log, afero.NewOsFs(), GetUpdaterConfig(), opts...)
}

// Cleanup flushes buffered log messages.
func Cleanup() {
	if globalLog != nil {
		globalLog.Sync()
	}
}
