package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the daemon
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Parser     ParserConfig     `mapstructure:"parser"`
	Serial     SerialConfig     `mapstructure:"serial"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Grid       GridConfig       `mapstructure:"grid"`
	Generation GenerationConfig `mapstructure:"generation"`
	Settings   SettingsConfig   `mapstructure:"settings"`
	Span       SpanConfig       `mapstructure:"span"`
	Chart      ChartConfig      `mapstructure:"chart"`
	Export     ExportConfig     `mapstructure:"export"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	HTTPPort       int      `mapstructure:"http_port"`
	GRPCPort       int      `mapstructure:"grpc_port"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ParserConfig selects how meter payloads are read: auto, xml or plain.
type ParserConfig struct {
	Format string `mapstructure:"format"`
}

type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	Topic          string        `mapstructure:"topic"`
	QoS            int           `mapstructure:"qos"`
	ClientPrefix   string        `mapstructure:"client_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Name    string `mapstructure:"name"`
}

// GridConfig configures the national demand and frequency feed. An empty
// URL disables it.
type GridConfig struct {
	URL           string        `mapstructure:"url"`
	DemandPath    string        `mapstructure:"demand_path"`
	FrequencyPath string        `mapstructure:"frequency_path"`
	Interval      time.Duration `mapstructure:"interval"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// GenerationConfig configures the generation mix feed. An empty URL
// disables it.
type GenerationConfig struct {
	URL       string        `mapstructure:"url"`
	Interval  time.Duration `mapstructure:"interval"`
	OnConnect bool          `mapstructure:"on_connect"`
}

type SettingsConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type SpanConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

type ChartConfig struct {
	Width              int    `mapstructure:"width"`
	Height             int    `mapstructure:"height"`
	Output             string `mapstructure:"output"`
	IncrementalRemoval bool   `mapstructure:"incremental_removal"`
	TimeFormat         string `mapstructure:"time_format"`
}

// ExportConfig enables periodic CSV exports when Schedule is set.
type ExportConfig struct {
	Dir      string `mapstructure:"dir"`
	Schedule string `mapstructure:"schedule"`
}

// Load reads configuration from path, expanding $VARIABLES in the file.
// Every key may also be overridden by CURRENTCOST_<SECTION>_<KEY>. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("currentcost")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("parser.format", "auto")

	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 57600)
	v.SetDefault("serial.read_timeout", "500ms")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "currentcost/live")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.client_prefix", "currentcost")
	v.SetDefault("mqtt.connect_timeout", "10s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "currentcost.live")
	v.SetDefault("nats.name", "currentcost")

	v.SetDefault("grid.url", "")
	v.SetDefault("grid.demand_path", "$.demand")
	v.SetDefault("grid.frequency_path", "$.frequency")
	v.SetDefault("grid.interval", "5s")
	v.SetDefault("grid.rate_limit", 1.0)
	v.SetDefault("grid.timeout", "30s")

	v.SetDefault("generation.url", "")
	v.SetDefault("generation.interval", "180s")
	v.SetDefault("generation.on_connect", true)

	v.SetDefault("settings.driver", "file")
	v.SetDefault("settings.dsn", "currentcost-settings.yaml")

	v.SetDefault("span.cache_size", 256)

	v.SetDefault("chart.width", 1024)
	v.SetDefault("chart.height", 600)
	v.SetDefault("chart.output", "")
	v.SetDefault("chart.incremental_removal", false)
	v.SetDefault("chart.time_format", "15:04.05")

	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.schedule", "")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(validPort(c.Server.HTTPPort), "server.http_port %d is not a valid port", c.Server.HTTPPort)
	check(validPort(c.Server.GRPCPort), "server.grpc_port %d is not a valid port", c.Server.GRPCPort)
	check(c.Server.HTTPPort != c.Server.GRPCPort, "server.http_port and server.grpc_port must differ")

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	check(c.Logging.Format == "json" || c.Logging.Format == "text",
		"logging.format must be json or text, got %q", c.Logging.Format)

	switch c.Parser.Format {
	case "auto", "xml", "plain":
	default:
		errs = append(errs, fmt.Errorf("parser.format must be auto, xml or plain, got %q", c.Parser.Format))
	}

	check(c.Serial.BaudRate > 0, "serial.baud_rate must be positive")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
	check(c.Grid.Interval >= 0, "grid.interval must not be negative")
	check(c.Generation.Interval > 0, "generation.interval must be positive")
	if c.Grid.URL != "" {
		check(c.Grid.DemandPath != "" && c.Grid.FrequencyPath != "",
			"grid.demand_path and grid.frequency_path are required with grid.url")
	}

	switch c.Settings.Driver {
	case "", "file", "postgres":
	default:
		errs = append(errs, fmt.Errorf("settings.driver must be file or postgres, got %q", c.Settings.Driver))
	}

	check(c.Chart.Width > 0 && c.Chart.Height > 0, "chart.width and chart.height must be positive")

	if c.Export.Schedule != "" {
		if _, err := cron.ParseStandard(c.Export.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("export.schedule: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}
