package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

// Config holds the datasentinel server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Admin   AdminConfig   `yaml:"admin"`
	Auth    AuthConfig    `yaml:"auth"`
	Model   ModelConfig   `yaml:"model"`
	Backend BackendConfig `yaml:"backend"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings for the HTTP transport.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// ServerConfig holds the serving transport settings.
type ServerConfig struct {
	Protocol        string `yaml:"protocol"` // tcp, http (grpc and rpc are aliases for http)
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	MaxLineBytes    int    `yaml:"max_line_bytes"`
}

// AdminConfig holds the health and metrics listener settings. Port 0 disables it.
type AdminConfig struct {
	Port int `yaml:"port"`
}

// ModelConfig locates the model and its runtime parameters.
type ModelConfig struct {
	Path              string `yaml:"path"`
	RuntimeConfigPath string `yaml:"runtime_config_path"`
}

// BackendConfig selects the inference engine.
type BackendConfig struct {
	Kind               string `yaml:"kind"` // onnx, tensorrt (and aliases)
	ONNXRuntimeLibrary string `yaml:"onnxruntime_library"`
	IntraOpThreads     int    `yaml:"intra_op_threads"`
	DeviceID           int    `yaml:"device_id"`
}

// EngineConfig holds compiled engine build and cache settings.
type EngineConfig struct {
	WorkspaceBytes uint64            `yaml:"workspace_bytes"`
	FastMath       *bool             `yaml:"fast_math"`
	RebuildStale   bool              `yaml:"rebuild_stale"`
	RemoteCache    RemoteCacheConfig `yaml:"remote_cache"`
}

// RemoteCacheConfig holds the shared Redis plan cache settings.
type RemoteCacheConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	TTLHours         int      `yaml:"ttl_hours"` // 0 = no expiry
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Protocols accepted by server.protocol.
const (
	ProtocolTCP  = "tcp"
	ProtocolHTTP = "http"
)

// protocolAliases maps older DATASENTINEL_PROTOCOL tokens onto the served transports.
// The RPC transport is JSON over HTTP.
var protocolAliases = map[string]string{
	"grpc": ProtocolHTTP,
	"rpc":  ProtocolHTTP,
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} and ${VAR:-default}.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse config: %w", domain.ErrConfigInvalid, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Server.Protocol == "" {
		c.Server.Protocol = ProtocolTCP
	}
	c.Server.Protocol = strings.ToLower(strings.TrimSpace(c.Server.Protocol))
	if alias, ok := protocolAliases[c.Server.Protocol]; ok {
		c.Server.Protocol = alias
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9000
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = 30
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = 10
	}
	if c.Server.ShutdownSec <= 0 {
		c.Server.ShutdownSec = 10
	}
	if c.Server.MaxLineBytes <= 0 {
		c.Server.MaxLineBytes = 1 << 20
	}
	if c.Model.Path == "" {
		c.Model.Path = "models/model.onnx"
	}
	if c.Model.RuntimeConfigPath == "" {
		c.Model.RuntimeConfigPath = "models/config.json"
	}
	if c.Backend.Kind == "" {
		c.Backend.Kind = "onnx"
	}
	if c.Backend.IntraOpThreads <= 0 {
		c.Backend.IntraOpThreads = 1
	}
	if c.Engine.WorkspaceBytes == 0 {
		c.Engine.WorkspaceBytes = 1 << 30
	}
	if c.Engine.FastMath == nil {
		on := true
		c.Engine.FastMath = &on
	}
	if c.Engine.RemoteCache.ReadinessTimeout <= 0 {
		c.Engine.RemoteCache.ReadinessTimeout = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Server.Protocol {
	case ProtocolTCP, ProtocolHTTP:
		// ok
	default:
		return fmt.Errorf("server.protocol must be %q or %q, got %q", ProtocolTCP, ProtocolHTTP, c.Server.Protocol)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be between 0 and 65535, got %d", c.Admin.Port)
	}
	if c.Admin.Port != 0 && c.Admin.Port == c.Server.Port {
		return fmt.Errorf("admin.port must differ from server.port (%d)", c.Server.Port)
	}
	if c.Backend.DeviceID < 0 {
		return fmt.Errorf("backend.device_id must be >= 0, got %d", c.Backend.DeviceID)
	}
	if c.Engine.RemoteCache.Enabled && len(c.Engine.RemoteCache.Addrs) == 0 {
		return fmt.Errorf("engine.remote_cache.addrs is required when the remote cache is enabled")
	}
	if c.Engine.RemoteCache.TTLHours < 0 {
		return fmt.Errorf("engine.remote_cache.ttl_hours must be >= 0, got %d", c.Engine.RemoteCache.TTLHours)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
