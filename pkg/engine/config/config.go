package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/ignitionstack/ember/pkg/engine/logging"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Configuration constants
const (
	// DefaultConfigPath is the default path to the config file
	DefaultConfigPath = "~/.ember/config.yaml"

	// EnvPrefix is the prefix for environment variables. Nested keys are
	// separated by a double underscore: EMBER_CACHE__TTL=1m.
	EnvPrefix = "EMBER_"

	// RunnerEnv overrides the child runner path without touching the config file
	RunnerEnv = "EMBER_RUNNER"

	envNestingSeparator = "__"
)

// Backend names
const (
	BackendInProcess = "inprocess"
	BackendProcess   = "process"
)

// envAliases are flat variables that map to nested keys
var envAliases = map[string]string{
	"runner": "process.runner_path",
}

// Config holds all configuration for the ember host
type Config struct {
	Engine         EngineConfig         `koanf:"engine"`
	Cache          CacheConfig          `koanf:"cache"`
	InProcess      InProcessConfig      `koanf:"inprocess"`
	Process        ProcessConfig        `koanf:"process"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	Server         ServerConfig         `koanf:"server"`
	Log            logging.Config       `koanf:"log"`
}

// EngineConfig holds invocation settings
type EngineConfig struct {
	// Execution strategy: "inprocess" or "process"
	Backend string `koanf:"backend" validate:"required,oneof=inprocess process"`

	// Deadline applied when neither the request nor the manifest sets one
	DefaultTimeout time.Duration `koanf:"default_timeout" validate:"gt=0"`

	// Upper bound on loading a single artifact
	LoadTimeout time.Duration `koanf:"load_timeout" validate:"gt=0"`

	// Entries kept per function in the audit log
	LogStoreCapacity int `koanf:"log_store_capacity" validate:"gt=0"`
}

// CacheConfig holds artifact cache settings
type CacheConfig struct {
	// How long an unused artifact stays loaded
	TTL time.Duration `koanf:"ttl" validate:"gt=0"`

	// How often the sweep runs
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
}

// InProcessConfig holds settings for the in-process backend
type InProcessConfig struct {
	// Size of the dedicated worker pool
	Workers int `koanf:"workers" validate:"gt=0"`

	// Idle instances kept per module
	MaxInstances int `koanf:"max_instances" validate:"gt=0"`

	// Linear memory cap per instance, in 64KiB pages. 0 keeps the runtime default.
	MemoryLimitPages uint32 `koanf:"memory_limit_pages"`

	// How long a timed-out call may keep its worker before it is interrupted
	KillGrace time.Duration `koanf:"kill_grace" validate:"gt=0"`
}

// ProcessConfig holds settings for the out-of-process backend
type ProcessConfig struct {
	// Runner binary. Empty means EMBER_RUNNER, then ember-runner next to the
	// host executable, then $PATH.
	RunnerPath string `koanf:"runner_path"`

	// Concurrent child processes
	MaxChildren int `koanf:"max_children" validate:"gt=0"`

	// Largest response a child may write
	MaxOutputBytes int64 `koanf:"max_output_bytes" validate:"gt=0"`

	// Time allowed for a killed child's pipes to drain
	WaitDelay time.Duration `koanf:"wait_delay" validate:"gte=0"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Failure threshold before circuit opens. 0 disables the breaker.
	FailureThreshold int `koanf:"failure_threshold" validate:"gte=0"`

	// Reset timeout after which to try again
	ResetTimeout time.Duration `koanf:"reset_timeout"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	// Socket path for the admin API
	SocketPath string `koanf:"socket_path" validate:"required"`

	// HTTP address the edge listens on
	HTTPAddr string `koanf:"http_addr" validate:"required"`

	// Registry directory path
	RegistryDir string `koanf:"registry_dir" validate:"required"`

	// Largest request body accepted by the edge
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"gt=0"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Config{
		Engine: EngineConfig{
			Backend:          BackendInProcess,
			DefaultTimeout:   30 * time.Second,
			LoadTimeout:      10 * time.Second,
			LogStoreCapacity: 1000,
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 5 * time.Second,
		},
		InProcess: InProcessConfig{
			Workers:      8,
			MaxInstances: 8,
			KillGrace:    time.Second,
		},
		Process: ProcessConfig{
			MaxChildren:    32,
			MaxOutputBytes: 16 << 20,
			WaitDelay:      500 * time.Millisecond,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Server: ServerConfig{
			SocketPath:   filepath.Join(homeDir, ".ember", "engine.sock"),
			HTTPAddr:     "localhost:8080",
			RegistryDir:  filepath.Join(homeDir, ".ember", "registry"),
			MaxBodyBytes: 10 << 20,
		},
		Log: logging.Config{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from the specified path and environment variables
func LoadConfig(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(newStructProvider(DefaultConfig()), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	expandedPath := ExpandHome(configPath)
	if expandedPath != "" {
		if _, err := os.Stat(expandedPath); err == nil {
			if err := k.Load(file.Provider(expandedPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &config,
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// envKey maps EMBER_CACHE__TTL to cache.ttl. Variables without a nesting
// separator are ignored unless they are a known alias.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	if !strings.Contains(key, envNestingSeparator) {
		return ""
	}
	return strings.ReplaceAll(key, envNestingSeparator, ".")
}

// ExpandHome expands a leading "~/" to the user's home directory
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// structProvider is a provider that loads configuration from a struct
type structProvider struct {
	cfg interface{}
}

func newStructProvider(cfg interface{}) *structProvider {
	return &structProvider{cfg: cfg}
}

// Read reads the configuration from the struct
func (s *structProvider) Read() (map[string]interface{}, error) {
	var out map[string]interface{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "koanf",
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(s.cfg); err != nil {
		return nil, err
	}

	return out, nil
}

// ReadBytes is required by the Provider interface but not used for struct providers
func (s *structProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not supported for struct provider")
}
