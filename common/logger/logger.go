// Package logger builds the zap logger shared by every component of a process.
package logger

import (
	"fmt"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type supportedLogType string

const (
	StdOut  supportedLogType = "stdout"
	StdErr  supportedLogType = "stderr"
	LogFile supportedLogType = "logfile"
	Syslog  supportedLogType = "syslog"
)

type Config struct {
	Type            supportedLogType `mapstructure:"type"`
	File            string           `mapstructure:"file"`
	Level           int8             `mapstructure:"level"`
	MaxSize         int              `mapstructure:"max-size"`
	NumRotatedFiles int              `mapstructure:"num-rotated-files"`
	Developer       bool             `mapstructure:"developer"`
}

// Configurer is implemented by application configurations whose log level can be changed while
// the process is running.
type Configurer interface {
	GetLoggingConfig() Config
}

// Logger wraps a zap.Logger so the level can be adjusted after it was created.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New returns a logger for the provided configuration. Levels are mapped as 0=Fatal, 1=Error,
// 2=Warn, 3=Info, 4+5=Debug.
func New(config Config) (*Logger, error) {
	if config.Developer {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return &Logger{Logger: l, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}, nil
	}

	level, err := toZapLevel(config.Level)
	if err != nil {
		return nil, err
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	var encoder zapcore.Encoder
	var sink zapcore.WriteSyncer

	switch supportedLogType(strings.ToLower(string(config.Type))) {
	case StdOut:
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
		sink = zapcore.Lock(os.Stdout)
	case StdErr, "":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
		sink = zapcore.Lock(os.Stderr)
	case LogFile:
		if config.File == "" {
			return nil, fmt.Errorf("log type %q requires a log file", LogFile)
		}
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, fmt.Errorf("unable to create log directory: %w", err)
		}
		encoder = zapcore.NewJSONEncoder(encoderCfg)
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxBackups: config.NumRotatedFiles,
		})
	case Syslog:
		// Syslog adds its own timestamps.
		encoderCfg.TimeKey = ""
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, filepath.Base(os.Args[0]))
		if err != nil {
			return nil, fmt.Errorf("unable to connect to syslog: %w", err)
		}
		sink = zapcore.AddSync(w)
	default:
		return nil, fmt.Errorf("unsupported log type %q (supported: %s, %s, %s, %s)", config.Type, StdErr, StdOut, LogFile, Syslog)
	}

	core := zapcore.NewCore(encoder, sink, atomicLevel)
	return &Logger{
		Logger: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
		level:  atomicLevel,
	}, nil
}

// Level returns the current level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// UpdateConfiguration applies a new log level. Every other setting requires a restart.
func (l *Logger) UpdateConfiguration(config any) error {
	configurer, ok := config.(Configurer)
	if !ok {
		return fmt.Errorf("unable to get log configuration from the application configuration (most likely this indicates a bug and a report should be filed)")
	}
	newConfig := configurer.GetLoggingConfig()
	if newConfig.Developer {
		return nil
	}
	level, err := toZapLevel(newConfig.Level)
	if err != nil {
		return err
	}
	if l.level.Level() != level {
		l.Info("updating log level", zap.Stringer("old", l.level.Level()), zap.Stringer("new", level))
		l.level.SetLevel(level)
	}
	return nil
}

func toZapLevel(level int8) (zapcore.Level, error) {
	switch level {
	case 0:
		return zapcore.FatalLevel, nil
	case 1:
		return zapcore.ErrorLevel, nil
	case 2:
		return zapcore.WarnLevel, nil
	case 3:
		return zapcore.InfoLevel, nil
	case 4, 5:
		return zapcore.DebugLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid log level %d (supported levels are 0-5)", level)
}
