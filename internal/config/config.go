package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "DESKBRIDGE"
	fileName  = "deskbridge"
)

type Config struct {
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Bridge    BridgeConfig    `mapstructure:"bridge" yaml:"bridge"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// CaptureConfig holds the per-session defaults. A start request may
// override FPS, quality and target size for a single session.
type CaptureConfig struct {
	FPS                       int    `mapstructure:"fps" yaml:"fps"`
	Quality                   int    `mapstructure:"quality" yaml:"quality"`
	TargetWidth               int    `mapstructure:"target_width" yaml:"target_width"`
	TargetHeight              int    `mapstructure:"target_height" yaml:"target_height"`
	ScaleMode                 string `mapstructure:"scale_mode" yaml:"scale_mode"`
	DegradedAfterFailures     int    `mapstructure:"degraded_after_failures" yaml:"degraded_after_failures"`
	MetricsLogIntervalSeconds int    `mapstructure:"metrics_log_interval_seconds" yaml:"metrics_log_interval_seconds"`
}

type BridgeConfig struct {
	ListenAddr      string   `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxClients      int      `mapstructure:"max_clients" yaml:"max_clients"`
	ClientQueueSize int      `mapstructure:"client_queue_size" yaml:"client_queue_size"`
	InputQueueSize  int      `mapstructure:"input_queue_size" yaml:"input_queue_size"`
	AllowedOrigins  []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// TelemetryConfig enables OTLP/HTTP export when OTLPEndpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint          string            `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPHeaders           map[string]string `mapstructure:"otlp_headers" yaml:"otlp_headers"`
	ExportIntervalSeconds int               `mapstructure:"export_interval_seconds" yaml:"export_interval_seconds"`
}

func Default() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  20,
		LogMaxBackups: 3,
		Capture: CaptureConfig{
			FPS:                       15,
			Quality:                   60,
			TargetWidth:               1280,
			TargetHeight:              720,
			ScaleMode:                 "fit",
			DegradedAfterFailures:     10,
			MetricsLogIntervalSeconds: 10,
		},
		Bridge: BridgeConfig{
			ListenAddr:      "127.0.0.1:47831",
			MaxClients:      4,
			ClientQueueSize: 2,
			InputQueueSize:  256,
		},
		Telemetry: TelemetryConfig{
			ExportIntervalSeconds: 30,
		},
	}
}

// Loader owns a viper instance so a loaded config can later be watched.
type Loader struct {
	mu      sync.Mutex
	v       *viper.Viper
	cfgFile string
}

func NewLoader(cfgFile string) *Loader {
	return &Loader{v: viper.New(), cfgFile: cfgFile}
}

// Load reads the config file (if any), environment overrides and defaults.
// A missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	return NewLoader(cfgFile).Load()
}

func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.v
	if l.cfgFile != "" {
		v.SetConfigFile(l.cfgFile)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the config whenever the file changes on disk and passes
// the validated result to onChange. Reports false when no file was loaded.
func (l *Loader) Watch(onChange func(*Config)) bool {
	if l.File() == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			log.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		res := cfg.ValidateTiered()
		if res.HasFatals() {
			for _, err := range res.Fatals {
				log.Warn("config reload rejected", "file", e.Name, "error", err)
			}
			return
		}
		log.Info("config reloaded", "file", e.Name)
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)

	v.SetDefault("capture.fps", d.Capture.FPS)
	v.SetDefault("capture.quality", d.Capture.Quality)
	v.SetDefault("capture.target_width", d.Capture.TargetWidth)
	v.SetDefault("capture.target_height", d.Capture.TargetHeight)
	v.SetDefault("capture.scale_mode", d.Capture.ScaleMode)
	v.SetDefault("capture.degraded_after_failures", d.Capture.DegradedAfterFailures)
	v.SetDefault("capture.metrics_log_interval_seconds", d.Capture.MetricsLogIntervalSeconds)

	v.SetDefault("bridge.listen_addr", d.Bridge.ListenAddr)
	v.SetDefault("bridge.max_clients", d.Bridge.MaxClients)
	v.SetDefault("bridge.client_queue_size", d.Bridge.ClientQueueSize)
	v.SetDefault("bridge.input_queue_size", d.Bridge.InputQueueSize)
	v.SetDefault("bridge.allowed_origins", d.Bridge.AllowedOrigins)

	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.otlp_headers", d.Telemetry.OTLPHeaders)
	v.SetDefault("telemetry.export_interval_seconds", d.Telemetry.ExportIntervalSeconds)
}

// ConfigDir is the per-user directory searched for deskbridge.yaml.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "deskbridge")
}
