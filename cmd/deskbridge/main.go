package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/config"
	"github.com/breeze-rmm/deskbridge/internal/health"
	"github.com/breeze-rmm/deskbridge/internal/logging"
	"github.com/breeze-rmm/deskbridge/internal/remote/desktop"
	"github.com/breeze-rmm/deskbridge/internal/remote/input"
	"github.com/breeze-rmm/deskbridge/internal/telemetry"
	"github.com/breeze-rmm/deskbridge/internal/uibridge"
	"github.com/spf13/cobra"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string
)

var log = logging.L("main")

const shutdownTimeout = 5 * time.Second

var rootCmd = &cobra.Command{
	Use:           "deskbridge",
	Short:         "Local remote-desktop bridge",
	Long:          `deskbridge streams a chosen monitor as JPEG frames and injects mouse and keyboard input for a local UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the UI bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("deskbridge v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <user config dir>/deskbridge/deskbridge.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	// Inspection commands log to stderr so their stdout stays parseable.
	// run re-initializes logging from the config.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		lvl := logLevel
		if lvl == "" {
			lvl = "warn"
		}
		logging.Init("text", lvl, os.Stderr)
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the config. Clamped values are logged;
// fatal findings are returned joined.
func loadConfig(loader *config.Loader) (*config.Config, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	res := cfg.ValidateTiered()
	if res.HasFatals() {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(res.Fatals...))
	}
	for _, w := range res.Warnings {
		log.Warn("config value adjusted", logging.KeyError, w)
	}
	return cfg, nil
}

func streamConfig(c config.CaptureConfig) desktop.StreamConfig {
	return desktop.StreamConfig{
		FPS:          c.FPS,
		Quality:      c.Quality,
		TargetWidth:  c.TargetWidth,
		TargetHeight: c.TargetHeight,
		ScaleMode:    desktop.ScaleMode(c.ScaleMode),
	}.Normalized()
}

func runBridge() error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loadConfig(loader)
	if err != nil {
		return err
	}

	out, closer, err := logging.Output(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closer.Close()
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting deskbridge", "version", version, "config", loader.File())

	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Headers:        cfg.Telemetry.OTLPHeaders,
		ExportInterval: time.Duration(cfg.Telemetry.ExportIntervalSeconds) * time.Second,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	if tel.Enabled() {
		log.Info("exporting telemetry", "endpoint", cfg.Telemetry.OTLPEndpoint)
	}

	mon := health.NewMonitor()
	hub := uibridge.NewHub()
	ctrl := desktop.NewController(desktop.Options{
		Sink:            hub,
		Config:          streamConfig(cfg.Capture),
		Health:          mon,
		Metrics:         tel.Metrics,
		Tracer:          tel.Tracer,
		DegradedAfter:   cfg.Capture.DegradedAfterFailures,
		MetricsInterval: time.Duration(cfg.Capture.MetricsLogIntervalSeconds) * time.Second,
	})

	inj, err := input.NewInjector()
	if err != nil {
		log.Warn("input injection unavailable", logging.KeyError, err)
		mon.Update(health.Input, health.Unhealthy, err.Error())
	} else {
		mon.Update(health.Input, health.Healthy, "")
	}

	srv, err := uibridge.NewServer(uibridge.Options{
		ListenAddr:      cfg.Bridge.ListenAddr,
		MaxClients:      cfg.Bridge.MaxClients,
		ClientQueueSize: cfg.Bridge.ClientQueueSize,
		InputQueueSize:  cfg.Bridge.InputQueueSize,
		AllowedOrigins:  cfg.Bridge.AllowedOrigins,
		Controller:      ctrl,
		Input:           input.NewDispatcher(inj, tel.Metrics),
		Hub:             hub,
		Health:          mon,
	})
	if err != nil {
		return err
	}

	if loader.Watch(func(next *config.Config) {
		if logLevel == "" {
			logging.SetLevel(next.LogLevel)
		}
		ctrl.SetConfig(streamConfig(next.Capture))
	}) {
		log.Info("watching config for changes", "file", loader.File())
	}

	serveErr := srv.ListenAndServe(ctx)

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Close(shutdownCtx); err != nil {
		log.Warn("capture loop did not exit in time", logging.KeyError, err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Warn("telemetry flush failed", logging.KeyError, err)
	}
	return serveErr
}
