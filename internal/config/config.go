package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the compiled-in coordination port all cooperating processes
// target. Every election and discovery guarantee assumes the processes agree
// on this value, so overrides must be applied consistently across them.
const DefaultPort = 9042

const (
	portMin = 1024
	portMax = 65535
)

// Config holds all process configuration. Values come from environment
// variables, with the coordination port additionally readable from a
// persisted settings file (see LoadPort for precedence).
type Config struct {
	Coordination CoordinationConfig
	Health       HealthConfig
	Reconnect    ReconnectConfig
	Query        QueryConfig
	Server       ServerConfig
}

// CoordinationConfig holds the singleton-election settings.
type CoordinationConfig struct {
	Port int
	// SettleDelay is how long a process that lost the bind race waits for
	// the winner to finish starting before re-probing.
	SettleDelay time.Duration
	// ProbeRetries and ProbeRetryDelay bound the re-probe loop after the
	// settle delay; exhausting them is a launch failure, not a retry-forever.
	ProbeRetries    int
	ProbeRetryDelay time.Duration
}

// HealthConfig holds liveness probing and failover-debounce settings.
type HealthConfig struct {
	ProbeTimeout      time.Duration
	CheckInterval     time.Duration
	FailureThreshold  int
	RecoveryThreshold int
}

// ReconnectConfig holds socket reconnection settings. The interval is fixed,
// not backed off: the server is local and either up or mid-failover.
type ReconnectConfig struct {
	Interval time.Duration
}

// QueryConfig holds query proxy call settings.
type QueryConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// ServerConfig holds HTTP server settings for the process holding the
// server role.
type ServerConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	CORSOrigins       []string
	RequestsPerSecond float64
	Burst             int
}

// settingsFile is the persisted on-disk settings document.
type settingsFile struct {
	CoordinationPort int `yaml:"coordinationPort"`
}

// Load reads configuration from the environment and the persisted settings
// file. It only fails on malformed environment values; an out-of-range port
// is logged and replaced with the default so surviving processes can still
// start (an explicit out-of-range BOARDPIN_PORT_OVERRIDE is the exception
// and rejected outright, since it only exists for test isolation).
func Load() (*Config, error) {
	port, err := LoadPort()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	probeTimeout, err := getEnvDuration("BOARDPIN_PROBE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	checkInterval, err := getEnvDuration("BOARDPIN_CHECK_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	failureThreshold, err := getEnvInt("BOARDPIN_FAILURE_THRESHOLD", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	recoveryThreshold, err := getEnvInt("BOARDPIN_RECOVERY_THRESHOLD", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reconnectInterval, err := getEnvDuration("BOARDPIN_RECONNECT_INTERVAL", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queryTimeout, err := getEnvDuration("BOARDPIN_QUERY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queryMaxRetries, err := getEnvInt("BOARDPIN_QUERY_MAX_RETRIES", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	queryRetryDelay, err := getEnvDuration("BOARDPIN_QUERY_RETRY_DELAY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("BOARDPIN_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("BOARDPIN_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Coordination: CoordinationConfig{
			Port:            port,
			SettleDelay:     time.Second,
			ProbeRetries:    3,
			ProbeRetryDelay: 500 * time.Millisecond,
		},
		Health: HealthConfig{
			ProbeTimeout:      probeTimeout,
			CheckInterval:     checkInterval,
			FailureThreshold:  failureThreshold,
			RecoveryThreshold: recoveryThreshold,
		},
		Reconnect: ReconnectConfig{
			Interval: reconnectInterval,
		},
		Query: QueryConfig{
			Timeout:    queryTimeout,
			MaxRetries: queryMaxRetries,
			RetryDelay: queryRetryDelay,
		},
		Server: ServerConfig{
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			CORSOrigins:       getEnvList("BOARDPIN_CORS_ORIGINS", []string{"*"}),
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// LoadPort resolves the coordination port. Precedence:
//  1. BOARDPIN_PORT_OVERRIDE — process-scoped, never persisted; exists so
//     parallel test runs can isolate themselves. Out of range is fatal.
//  2. coordinationPort from the persisted settings file. Out of range falls
//     back to the default with a logged error.
//  3. DefaultPort.
func LoadPort() (int, error) {
	if v := os.Getenv("BOARDPIN_PORT_OVERRIDE"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parsing BOARDPIN_PORT_OVERRIDE=%q as int: %w", v, err)
		}
		if port < portMin || port > portMax {
			return 0, fmt.Errorf("BOARDPIN_PORT_OVERRIDE must be %d-%d, got %d", portMin, portMax, port)
		}
		return port, nil
	}

	port, ok := loadPersistedPort()
	if !ok {
		return DefaultPort, nil
	}
	if port < portMin || port > portMax {
		log.Error().Int("port", port).Int("fallback", DefaultPort).
			Msgf("persisted coordinationPort out of range %d-%d, using default", portMin, portMax)
		return DefaultPort, nil
	}
	return port, nil
}

// SettingsPath returns the persisted settings file location. The path is
// overridable so tests never touch the real user config directory.
func SettingsPath() (string, error) {
	if p := os.Getenv("BOARDPIN_SETTINGS"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config.SettingsPath: %w", err)
	}
	return filepath.Join(dir, "boardpin", "settings.yaml"), nil
}

func loadPersistedPort() (int, bool) {
	path, err := SettingsPath()
	if err != nil {
		return 0, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// Missing settings file is the normal case.
		return 0, false
	}
	var settings settingsFile
	if err := yaml.Unmarshal(data, &settings); err != nil {
		log.Error().Err(err).Str("path", path).Msg("settings file unreadable, ignoring")
		return 0, false
	}
	if settings.CoordinationPort == 0 {
		return 0, false
	}
	return settings.CoordinationPort, true
}

// validate checks value bounds common to every worker process.
func (c *Config) validate() error {
	if c.Coordination.Port < portMin || c.Coordination.Port > portMax {
		return fmt.Errorf("coordination port must be %d-%d, got %d", portMin, portMax, c.Coordination.Port)
	}
	if c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("BOARDPIN_PROBE_TIMEOUT must be positive, got %s", c.Health.ProbeTimeout)
	}
	if c.Health.CheckInterval <= 0 {
		return fmt.Errorf("BOARDPIN_CHECK_INTERVAL must be positive, got %s", c.Health.CheckInterval)
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("BOARDPIN_FAILURE_THRESHOLD must be >= 1, got %d", c.Health.FailureThreshold)
	}
	if c.Health.RecoveryThreshold < 1 {
		return fmt.Errorf("BOARDPIN_RECOVERY_THRESHOLD must be >= 1, got %d", c.Health.RecoveryThreshold)
	}
	if c.Reconnect.Interval <= 0 {
		return fmt.Errorf("BOARDPIN_RECONNECT_INTERVAL must be positive, got %s", c.Reconnect.Interval)
	}
	if c.Query.Timeout <= 0 {
		return fmt.Errorf("BOARDPIN_QUERY_TIMEOUT must be positive, got %s", c.Query.Timeout)
	}
	if c.Query.MaxRetries < 0 {
		return fmt.Errorf("BOARDPIN_QUERY_MAX_RETRIES must be >= 0, got %d", c.Query.MaxRetries)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("BOARDPIN_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("BOARDPIN_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	return nil
}

// SavePort persists the coordination port to the settings file, creating
// parent directories as needed. Used by `boardpin config set-port`.
func SavePort(port int) error {
	if port < portMin || port > portMax {
		return fmt.Errorf("config.SavePort: port must be %d-%d, got %d", portMin, portMax, port)
	}
	path, err := SettingsPath()
	if err != nil {
		return fmt.Errorf("config.SavePort: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config.SavePort: %w", err)
	}
	data, err := yaml.Marshal(settingsFile{CoordinationPort: port})
	if err != nil {
		return fmt.Errorf("config.SavePort: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config.SavePort: %w", err)
	}
	return nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
