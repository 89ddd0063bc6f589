package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/sdd/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Engine   EngineConfig   `koanf:"engine" yaml:"engine"`
	Stream   StreamConfig   `koanf:"stream" yaml:"stream"`
	Exec     ExecConfig     `koanf:"exec" yaml:"exec"`
	Sandbox  SandboxConfig  `koanf:"sandbox" yaml:"sandbox"`
	Resource ResourceConfig `koanf:"resource" yaml:"resource"`
	Auth     AuthConfig     `koanf:"auth" yaml:"auth"`
	Janitor  JanitorConfig  `koanf:"janitor" yaml:"janitor"`
	Daemon   DaemonConfig   `koanf:"daemon" yaml:"daemon"`
}

type ServerConfig struct {
	Port            int      `koanf:"port" yaml:"port"`
	LogLevel        string   `koanf:"log_level" yaml:"log_level"`
	ReadTimeout     string   `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string   `koanf:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     string   `koanf:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout string   `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string `koanf:"allowed_origins" yaml:"allowed_origins"`
}

type EngineConfig struct {
	Host        string `koanf:"host" yaml:"host"`
	APIVersion  string `koanf:"api_version" yaml:"api_version"`
	PingTimeout string `koanf:"ping_timeout" yaml:"ping_timeout"`
}

type StreamConfig struct {
	QueueCapacity  int    `koanf:"queue_capacity" yaml:"queue_capacity"`
	PollTimeout    string `koanf:"poll_timeout" yaml:"poll_timeout"`
	HeartbeatToken string `koanf:"heartbeat_token" yaml:"heartbeat_token"`
	EndToken       string `koanf:"end_token" yaml:"end_token"`
}

type ExecConfig struct {
	Shell        string `koanf:"shell" yaml:"shell"`
	ProbeCommand string `koanf:"probe_command" yaml:"probe_command"`
	PollTimeout  string `koanf:"poll_timeout" yaml:"poll_timeout"`
	QueueSize    int    `koanf:"queue_size" yaml:"queue_size"`
}

type SandboxConfig struct {
	HelperImage  string  `koanf:"helper_image" yaml:"helper_image"`
	ArchiveImage string  `koanf:"archive_image" yaml:"archive_image"`
	ScratchDir   string  `koanf:"scratch_dir" yaml:"scratch_dir"`
	MountPoint   string  `koanf:"mount_point" yaml:"mount_point"`
	LaunchRate   float64 `koanf:"launch_rate" yaml:"launch_rate"`
	LaunchBurst  int     `koanf:"launch_burst" yaml:"launch_burst"`
	JobTimeout   string  `koanf:"job_timeout" yaml:"job_timeout"`
}

type ResourceConfig struct {
	MaxParallel    int    `koanf:"max_parallel" yaml:"max_parallel"`
	SampleInterval string `koanf:"sample_interval" yaml:"sample_interval"`
}

type AuthConfig struct {
	Signature string `koanf:"signature" yaml:"signature"`
	Algorithm string `koanf:"algorithm" yaml:"algorithm"`
}

type JanitorConfig struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	Schedule   string `koanf:"schedule" yaml:"schedule"`
	ScratchTTL string `koanf:"scratch_ttl" yaml:"scratch_ttl"`
	HelperTTL  string `koanf:"helper_ttl" yaml:"helper_ttl"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval" yaml:"health_check_interval"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout" yaml:"startup_shutdown_timeout"`
	PreflightTimeout       string `koanf:"preflight_timeout" yaml:"preflight_timeout"`
}

const (
	DefaultServerPort                   = 8000
	DefaultServerLogLevel               = "info"
	DefaultServerReadTimeout            = "10s"
	DefaultServerWriteTimeout           = "0s"
	DefaultServerIdleTimeout            = "60s"
	DefaultServerShutdownTimeout        = "5s"
	DefaultEnginePingTimeout            = "5s"
	DefaultStreamQueueCapacity          = 256
	DefaultStreamPollTimeout            = "1s"
	DefaultStreamHeartbeatToken         = "SimpleDockerDashboard_Ping"
	DefaultStreamEndToken               = "SimpleDockerDashboard_EOL"
	DefaultExecShell                    = "/bin/sh"
	DefaultExecProbeCommand             = "echo"
	DefaultExecPollTimeout              = "5s"
	DefaultExecQueueSize                = 16
	DefaultSandboxHelperImage           = "busybox:stable"
	DefaultSandboxArchiveImage          = "kramos/alpine-zip:latest"
	DefaultSandboxMountPoint            = "/mnt/target"
	DefaultSandboxLaunchRate            = 5.0
	DefaultSandboxLaunchBurst           = 10
	DefaultSandboxJobTimeout            = "2m"
	DefaultResourceMaxParallel          = 16
	DefaultResourceSampleInterval       = "1s"
	DefaultAuthAlgorithm                = "HS512"
	DefaultJanitorEnabled               = true
	DefaultJanitorSchedule              = "@every 10m"
	DefaultJanitorScratchTTL            = "30m"
	DefaultJanitorHelperTTL             = "15m"
	DefaultDaemonShutdownTimeout        = "30s"
	DefaultDaemonHealthCheckInterval    = "30s"
	DefaultDaemonStartupShutdownTimeout = "10s"
	DefaultDaemonPreflightTimeout       = "10s"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                     DefaultServerPort,
		"server.log_level":                DefaultServerLogLevel,
		"server.read_timeout":             DefaultServerReadTimeout,
		"server.write_timeout":            DefaultServerWriteTimeout,
		"server.idle_timeout":             DefaultServerIdleTimeout,
		"server.shutdown_timeout":         DefaultServerShutdownTimeout,
		"server.allowed_origins":          []string{"*"},
		"engine.host":                     "",
		"engine.api_version":              "",
		"engine.ping_timeout":             DefaultEnginePingTimeout,
		"stream.queue_capacity":           DefaultStreamQueueCapacity,
		"stream.poll_timeout":             DefaultStreamPollTimeout,
		"stream.heartbeat_token":          DefaultStreamHeartbeatToken,
		"stream.end_token":                DefaultStreamEndToken,
		"exec.shell":                      DefaultExecShell,
		"exec.probe_command":              DefaultExecProbeCommand,
		"exec.poll_timeout":               DefaultExecPollTimeout,
		"exec.queue_size":                 DefaultExecQueueSize,
		"sandbox.helper_image":            DefaultSandboxHelperImage,
		"sandbox.archive_image":           DefaultSandboxArchiveImage,
		"sandbox.scratch_dir":             filepath.Join(os.TempDir(), "sdd-scratch"),
		"sandbox.mount_point":             DefaultSandboxMountPoint,
		"sandbox.launch_rate":             DefaultSandboxLaunchRate,
		"sandbox.launch_burst":            DefaultSandboxLaunchBurst,
		"sandbox.job_timeout":             DefaultSandboxJobTimeout,
		"resource.max_parallel":           DefaultResourceMaxParallel,
		"resource.sample_interval":        DefaultResourceSampleInterval,
		"auth.algorithm":                  DefaultAuthAlgorithm,
		"janitor.enabled":                 DefaultJanitorEnabled,
		"janitor.schedule":                DefaultJanitorSchedule,
		"janitor.scratch_ttl":             DefaultJanitorScratchTTL,
		"janitor.helper_ttl":              DefaultJanitorHelperTTL,
		"daemon.shutdown_timeout":         DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":    DefaultDaemonHealthCheckInterval,
		"daemon.startup_shutdown_timeout": DefaultDaemonStartupShutdownTimeout,
		"daemon.preflight_timeout":        DefaultDaemonPreflightTimeout,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		if globalPath, err := pathutil.DefaultConfigPath(); err == nil {
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables. SDD_SERVER_PORT -> server.port; only the first underscore
	// separates the section so keys like heartbeat_token survive.
	k.Load(env.Provider("SDD_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "SDD_"))
		return strings.Replace(key, "_", ".", 1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Legacy deployments set the secret via SIGNATURE.
	if cfg.Auth.Signature == "" {
		cfg.Auth.Signature = os.Getenv("SIGNATURE")
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	scratchDir, err := expandConfiguredPath(cfg.Sandbox.ScratchDir)
	if err != nil {
		return err
	}
	if scratchDir != "" {
		cfg.Sandbox.ScratchDir = scratchDir
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
