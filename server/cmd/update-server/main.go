package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/thinkparq/updater-go/common/configmgr"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/logger"
	"github.com/thinkparq/updater-go/server/internal/config"
	"github.com/thinkparq/updater-go/server/internal/server"
	"github.com/thinkparq/updater-go/server/pkg/history"
	"github.com/thinkparq/updater-go/server/pkg/metrics"
	"github.com/thinkparq/updater-go/server/pkg/mirror"
	"github.com/thinkparq/updater-go/server/pkg/publish"
	"github.com/thinkparq/updater-go/server/pkg/repository"
	"go.uber.org/zap"
)

const (
	envVarPrefix = "UPDATER_"
)

// Set by the build process using ldflags.
var (
	binaryName = "unknown"
	version    = "unknown"
	commit     = "unknown"
	buildTime  = "unknown"
)

func main() {
	pflag.Bool("version", false, "Print the version then exit.")
	pflag.String(configmgr.CfgFileFlag, "/etc/updater/server.toml", "The path to the a configuration file (can be omitted to set all configuration using flags and/or environment variables). Logging and publish ignore rules are reloaded from this file on SIGHUP.")
	pflag.String("log.type", "stderr", "Where log messages should be sent ('stderr', 'stdout', 'syslog', 'logfile').")
	pflag.String("log.file", "/var/log/updater/update-server.log", "The path to the desired log file when logType is 'log.file' (if needed the directory and all parent directories will be created).")
	pflag.Int8("log.level", 3, "Adjust the logging level (0=Fatal, 1=Error, 2=Warn, 3=Info, 4+5=Debug).")
	pflag.Int("log.max-size", 1000, "When log.type is 'logfile' the maximum size of the log.file in megabytes before it is rotated.")
	pflag.Int("log.num-rotated-files", 5, "When log.type is 'logfile' the maximum number old log.file(s) to keep when log.max-size is reached and the log is rotated.")
	pflag.Bool("log.developer", false, "Enable developer logging including stack traces and setting the equivalent of log.level=5 and log.type=stdout (all other log settings are ignored).")
	pflag.String("repository.base", "/var/lib/updater/repository", "The directory holding one directory per published application.")
	pflag.StringSlice("publish.ignore.names", []string{".DS_Store", "Thumbs.db", "desktop.ini"}, "File or directory names stripped from every published version at any depth.")
	pflag.StringSlice("publish.ignore.patterns", nil, "Glob patterns (doublestar syntax) stripped from every published version. Patterns without a slash match names at any depth.")
	pflag.String("publish.ignore.filter", "", filesystem.FilterFilesHelp)
	pflag.String("server.address", "0.0.0.0:8080", "The hostname:port where the update server listens for client requests.")
	pflag.String("server.tls-cert-file", "/etc/updater/cert.pem", "Path to a certificate file that provides the identity of the update server.")
	pflag.String("server.tls-key-file", "/etc/updater/key.pem", "Path to the key file belonging to the certificate of the update server.")
	pflag.Bool("server.tls-disable", false, "Disable TLS entirely and serve plain HTTP.")
	pflag.Int64("server.max-upload-size", 2<<30, "The largest accepted upload in bytes (0 disables the limit).")
	pflag.Duration("server.read-timeout", 0, "How long reading a single request, including an upload, may take (0 disables the timeout).")
	pflag.Duration("server.write-timeout", 0, "How long writing a single response, including a download, may take (0 disables the timeout).")
	pflag.Duration("server.shutdown-timeout", 30*time.Second, "How long in-flight requests are given to finish on shutdown.")
	pflag.String("history.path", "", "Directory of the publish history database (empty disables the history).")
	pflag.String("mirror.bucket", "", "Copy every published archive and CHECKLIST to this S3 bucket (empty disables mirroring).")
	pflag.String("mirror.region", "", "The region of the mirror bucket. Defaults to the region of the AWS environment.")
	pflag.String("mirror.endpoint", "", "Custom S3 endpoint URL, for example of an S3 compatible store.")
	pflag.String("mirror.prefix", "", "Key prefix of mirrored objects.")
	pflag.String("mirror.access-key", "", "Static access key for the mirror bucket. The default AWS credential chain is used when unset.")
	pflag.String("mirror.secret-key", "", "Static secret key for the mirror bucket.")
	pflag.Bool("mirror.force-path-style", false, "Address the mirror bucket using path style URLs.")
	pflag.Bool("developer.dump-config", false, "Dump the full configuration and immediately exit.")
	pflag.CommandLine.MarkHidden("developer.dump-config")
	pflag.CommandLine.SortFlags = false
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		pflag.PrintDefaults()
		helpText := `
Further info:
	Configuration may be set using a mix of flags, environment variables, and values from a TOML configuration file. 
	Configuration will be merged using the following precedence order (highest->lowest): (1) flags (2) environment variables (3) configuration file (4) defaults.
	Per application ignore rules can only be set in the configuration file, for example:
	[publish.app-ignore.myapp]
	patterns = ["logs/**", "*.pdb"]
Using environment variables:
	To specify configuration using environment variables specify %sKEY=VALUE where KEY is the flag name you want to specify in all capitals replacing dots (.) with a double underscore (__) and hyphens (-) with an underscore (_).
	Examples: 
	export %sREPOSITORY__BASE=/srv/updater
	export %sSERVER__MAX_UPLOAD_SIZE=1073741824
`
		fmt.Fprintf(os.Stderr, helpText, envVarPrefix, envVarPrefix, envVarPrefix)
		os.Exit(0)
	}
	pflag.Parse()

	if printVersion, _ := pflag.CommandLine.GetBool("version"); printVersion {
		fmt.Printf("%s %s (commit: %s, built: %s)\n", binaryName, version, commit, buildTime)
		os.Exit(0)
	}

	cfgMgr, err := configmgr.New(pflag.CommandLine, envVarPrefix, &config.AppConfig{})
	if err != nil {
		log.Fatalf("unable to get initial configuration: %s", err)
	}
	c := cfgMgr.Get()
	initialCfg, ok := c.(*config.AppConfig)
	if !ok {
		log.Fatalf("configuration manager returned invalid configuration (expected update server application configuration)")
	}
	if initialCfg.Developer.DumpConfig {
		fmt.Printf("Dumping AppConfig and exiting...\n\n")
		fmt.Printf("%+v\n", initialCfg)
		os.Exit(0)
	}

	logger, err := logger.New(initialCfg.Log)
	if err != nil {
		log.Fatalf("unable to initialize logger: %s", err)
	}
	defer logger.Sync()
	cfgMgr.AddListener(logger)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(initialCfg.Repository.Base, 0755); err != nil {
		logger.Fatal("unable to create repository directory", zap.String("path", initialCfg.Repository.Base), zap.Error(err))
	}
	repo := repository.New(fsys, initialCfg.Repository)
	m := metrics.New()
	opts := []publish.Option{publish.WithMetrics(m)}

	historyStore, err := history.Open(logger.Logger, initialCfg.History)
	if err != nil {
		logger.Fatal("unable to open publish history", zap.Error(err))
	}
	defer historyStore.Close()
	var historyReader server.HistoryReader
	if historyStore != nil {
		opts = append(opts, publish.WithHistory(historyStore))
		historyReader = historyStore
	}

	objectMirror, err := mirror.New(ctx, logger.Logger, fsys, initialCfg.Mirror)
	if err != nil {
		logger.Fatal("unable to initialize S3 mirror", zap.Error(err))
	}
	if objectMirror != nil {
		opts = append(opts, publish.WithMirror(objectMirror))
	}

	publisher, err := publish.New(logger.Logger, repo, initialCfg.Publish, opts...)
	if err != nil {
		logger.Fatal("unable to initialize publisher", zap.Error(err))
	}
	cfgMgr.AddListener(publisher)

	updateServer, err := server.New(logger.Logger, initialCfg.Server, repo, publisher, historyReader, m)
	if err != nil {
		logger.Fatal("unable to initialize HTTP server", zap.Error(err))
	}

	errChan := make(chan error, 2)
	updateServer.ListenAndServe(errChan)
	go cfgMgr.Manage(ctx, logger.Logger)
	logger.Info("update server started", zap.String("version", version), zap.String("repository", repo.Base()))

	select {
	case err := <-errChan:
		logger.Error("component terminated unexpectedly", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}
	cancel()
	updateServer.Stop()
	logger.Info("shutdown all components, exiting")
}
