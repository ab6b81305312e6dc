// Package config loads the bridge's ambient configuration: the YAML file
// covering everything not already covered by the literal environment
// variables in the external interface surface, plus the env-override walk
// that lets container deployments skip mounting a file entirely.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root ambient configuration structure.
type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Cloud   CloudConfig   `yaml:"cloud"`
	Files   FilesConfig   `yaml:"files"`
	Scan    ScanConfig    `yaml:"scan"`
	Poll    PollConfig    `yaml:"poll"`
	Homie   HomieConfig   `yaml:"homie"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
	Health  HealthConfig  `yaml:"health"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection backoff settings.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxElapsed   time.Duration `yaml:"max_elapsed"`
}

// CloudConfig contains Tuya Cloud (IoT Core) credentials.
type CloudConfig struct {
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
	Region    string `yaml:"-"`
}

// FilesConfig contains on-disk persistence file paths.
type FilesConfig struct {
	DeviceConfigFile string `yaml:"device_config_file"`
	LocalScanFile    string `yaml:"local_scan_file"`
	ExtensionsFile   string `yaml:"extensions_settings_file"`
	HomieTemplateDir string `yaml:"homie_template_dir"`
}

// ScanConfig contains UDP discovery scanner settings.
type ScanConfig struct {
	Ports       []int         `yaml:"ports"`
	ScanTime    time.Duration `yaml:"scan_time"`
	ReadBufSize int           `yaml:"read_buffer_size"`
}

// PollConfig contains the status-polling cadence.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// HomieConfig contains Homie 5 lifecycle settings.
type HomieConfig struct {
	Strict bool `yaml:"strict"`
}

// MetricsConfig contains the MetricsExt publish cadence.
type MetricsConfig struct {
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HealthConfig contains the ambient liveness/readiness/metrics HTTP surface.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values), including those set
//     from a .env file, if present (dev convenience only; a .env entry
//     never replaces a variable already set in the process environment)
func Load(path string) (*Config, error) {
	// Best-effort: a missing .env file is not an error, it is simply absent
	// in production where real env vars or the mounted YAML carry settings.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tuya2mqtt",
			},
			QoS: 2,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     60 * time.Second,
				MaxElapsed:   0, // retry forever
			},
		},
		Cloud: CloudConfig{
			Region: "eu",
		},
		Files: FilesConfig{
			DeviceConfigFile: "./devices.json",
			LocalScanFile:    "./local_scan.json",
			ExtensionsFile:   "./extensions_settings.json",
			HomieTemplateDir: "./homie_templates",
		},
		Scan: ScanConfig{
			Ports:       []int{6666, 6667, 6669},
			ScanTime:    15 * time.Second,
			ReadBufSize: 4048,
		},
		Poll: PollConfig{
			Interval: 10 * time.Second,
		},
		Homie: HomieConfig{
			Strict: false,
		},
		Metrics: MetricsConfig{
			PublishInterval: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Health: HealthConfig{
			Addr: ":8099",
		},
	}
}

// applyEnvOverrides applies the environment variables named in the external
// interfaces section of the specification, plus the ambient health-surface
// override. The config-file path variable (TUYA2MQTT_CONFIG_FILE) is read by
// cmd/tuya2mqtt before Load is called.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUYA_API_KEY"); v != "" {
		cfg.Cloud.APIKey = v
	}
	if v := os.Getenv("TUYA_API_SECRET"); v != "" {
		cfg.Cloud.APISecret = v
	}
	if v := os.Getenv("TUYA_API_REGION"); v != "" {
		cfg.Cloud.Region = v
	}

	if v := os.Getenv("MQTT_BROKER_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTT_BROKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = p
		}
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("TUYA2MQTT_DEV_CONF_FILE"); v != "" {
		cfg.Files.DeviceConfigFile = v
	}
	if v := os.Getenv("TUYA2MQTT_LOCAL_SCAN_FILE"); v != "" {
		cfg.Files.LocalScanFile = v
	}
	if v := os.Getenv("TUYA2MQTT_EXTANSIONS_SETTINGS_FILE"); v != "" {
		cfg.Files.ExtensionsFile = v
	}

	if v := os.Getenv("TUYA2MQTT_POLL_INTERVAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Poll.Interval = time.Duration(f * float64(time.Second))
		}
	}

	if v := os.Getenv("TUYA2MQTT_HEALTH_ADDR"); v != "" {
		cfg.Health.Addr = v
	}
}

// Validate checks the configuration for required/sane values.
//
// Cloud credentials are not validated here: cmd/tuya2mqtt checks them
// before any component starts and exits with code 1 when one is missing,
// whereas a Validate failure exits with code 2.
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Files.DeviceConfigFile == "" {
		errs = append(errs, "files.device_config_file is required")
	}
	if c.Files.LocalScanFile == "" {
		errs = append(errs, "files.local_scan_file is required")
	}
	if len(c.Scan.Ports) == 0 {
		errs = append(errs, "scan.ports must not be empty")
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
