package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tempmon/internal/logging"
	"tempmon/internal/sensor"
	"tempmon/internal/threshold"
)

// Transport kinds.
const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
)

// State backends.
const (
	StateMemory = "memory"
	StateRedis  = "redis"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Sampling   SamplingConfig   `mapstructure:"sampling"`
	Sensors    []sensor.Config  `mapstructure:"sensors"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Transport  TransportConfig  `mapstructure:"transport"`
	State      StateConfig      `mapstructure:"state"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SamplingConfig governs acquisition cadence and averaging.
type SamplingConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Count          int           `mapstructure:"count"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	Precision      int32         `mapstructure:"precision"`
	Round          bool          `mapstructure:"round"`
	EmitWarnAfter  time.Duration `mapstructure:"emit_warn_after"`
	Buffer         int           `mapstructure:"buffer"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	PublishSamples bool          `mapstructure:"publish_samples"`
}

// ReportingInterval is the nominal time between averaged samples.
func (s SamplingConfig) ReportingInterval() time.Duration {
	return s.Interval * time.Duration(s.Count)
}

// ThresholdsConfig holds the default threshold spec and per-machine overrides.
type ThresholdsConfig struct {
	Default   threshold.Spec       `mapstructure:"default"`
	Overrides []threshold.Override `mapstructure:"overrides"`
}

// EngineConfig tunes the threshold engine.
type EngineConfig struct {
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	Workers     int           `mapstructure:"workers"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	LockKey     int64         `mapstructure:"lock_key"`
}

// TransportConfig selects and configures the pub/sub transport.
type TransportConfig struct {
	Kind  string      `mapstructure:"kind"`
	MQTT  MQTTConfig  `mapstructure:"mqtt"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// MQTTConfig captures broker connectivity.
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	OutputBroker   string        `mapstructure:"output_broker"`
	ClientID       string        `mapstructure:"client_id"`
	QoS            byte          `mapstructure:"qos"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// KafkaConfig captures Kafka connectivity.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	GroupID      string        `mapstructure:"group_id"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StateConfig selects the entity state backend.
type StateConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig captures Redis connectivity.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the alert audit log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// Retention bounds the alert log age; zero keeps everything.
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines secondary alert routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	// QueueSize bounds audit and telegram notifications awaiting delivery.
	QueueSize int `mapstructure:"queue_size"`
}

// TelegramConfig describes telegram notification parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TEMPMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tempmon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("sampling.interval", "1s")
	v.SetDefault("sampling.count", 10)
	v.SetDefault("sampling.acquire_timeout", "2s")
	v.SetDefault("sampling.precision", 2)
	v.SetDefault("sampling.round", true)
	v.SetDefault("sampling.emit_warn_after", "5s")
	v.SetDefault("sampling.buffer", 64)
	v.SetDefault("sampling.startup_delay", "0s")
	v.SetDefault("sampling.publish_samples", true)

	v.SetDefault("thresholds.default.high.value", 30.0)
	v.SetDefault("thresholds.default.high.hysteresis", 0.0)
	v.SetDefault("thresholds.default.low.value", 10.0)
	v.SetDefault("thresholds.default.low.hysteresis", 0.0)

	v.SetDefault("engine.heartbeat", "1h")
	v.SetDefault("engine.workers", 1)
	v.SetDefault("engine.topic_prefix", "temperature_monitoring")
	v.SetDefault("engine.lock_key", int64(0))

	v.SetDefault("transport.kind", TransportMQTT)
	v.SetDefault("transport.mqtt.broker", "tcp://mqtt.docker.local:1883")
	v.SetDefault("transport.mqtt.output_broker", "")
	v.SetDefault("transport.mqtt.qos", 1)
	v.SetDefault("transport.mqtt.connect_timeout", "10s")
	v.SetDefault("transport.mqtt.publish_timeout", "5s")
	v.SetDefault("transport.kafka.topic", "temperature_monitoring")
	v.SetDefault("transport.kafka.group_id", "tempmon-engine")
	v.SetDefault("transport.kafka.write_timeout", "5s")

	v.SetDefault("state.backend", StateMemory)
	v.SetDefault("state.redis.addr", "localhost:6379")
	v.SetDefault("state.redis.prefix", "tempmon:state:")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.retention", "0s")
	v.SetDefault("database.prune_interval", "1h")

	v.SetDefault("alerting.queue_size", 256)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Sampling.Interval <= 0 {
		return fmt.Errorf("sampling.interval must be greater than zero")
	}
	if c.Sampling.Count <= 0 {
		return fmt.Errorf("sampling.count must be greater than zero")
	}
	if c.Sampling.Buffer <= 0 {
		return fmt.Errorf("sampling.buffer must be greater than zero")
	}
	if c.Engine.Heartbeat < 0 {
		return fmt.Errorf("engine.heartbeat cannot be negative")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be greater than zero")
	}
	if strings.TrimSpace(c.Engine.TopicPrefix) == "" {
		return fmt.Errorf("engine.topic_prefix is required")
	}
	if err := c.Thresholds.Default.Validate(); err != nil {
		return fmt.Errorf("thresholds.default: %w", err)
	}
	for i, o := range c.Thresholds.Overrides {
		if o.Machine == "" {
			return fmt.Errorf("thresholds.overrides[%d].machine is required", i)
		}
		if o.High == nil && o.Low == nil {
			return fmt.Errorf("thresholds.overrides[%d] (%s): high or low is required", i, o.Machine)
		}
	}
	resolver := threshold.NewResolver(c.Thresholds.Default, c.Thresholds.Overrides)
	for i, o := range c.Thresholds.Overrides {
		if err := resolver.Resolve(o.Machine).Validate(); err != nil {
			return fmt.Errorf("thresholds.overrides[%d] (%s): %w", i, o.Machine, err)
		}
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for i, s := range c.Sensors {
		if s.Machine == "" {
			return fmt.Errorf("sensors[%d].machine is required", i)
		}
		if s.Driver == "" {
			return fmt.Errorf("sensors[%d].driver is required", i)
		}
		if _, dup := seen[s.Machine]; dup {
			return fmt.Errorf("sensors[%d]: machine %q configured twice", i, s.Machine)
		}
		seen[s.Machine] = struct{}{}
	}
	switch c.Transport.Kind {
	case TransportMQTT:
		if c.Transport.MQTT.Broker == "" {
			return fmt.Errorf("transport.mqtt.broker is required")
		}
	case TransportKafka:
		if len(c.Transport.Kafka.Brokers) == 0 {
			return fmt.Errorf("transport.kafka.brokers is required")
		}
	default:
		return fmt.Errorf("transport.kind %q not supported", c.Transport.Kind)
	}
	switch c.State.Backend {
	case StateMemory, StateRedis:
	default:
		return fmt.Errorf("state.backend %q not supported", c.State.Backend)
	}
	if c.Alerting.QueueSize <= 0 {
		return fmt.Errorf("alerting.queue_size must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention cannot be negative")
	}
	if c.Database.Retention > 0 && c.Database.PruneInterval <= 0 {
		return fmt.Errorf("database.prune_interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// OutputBroker returns the broker alerts are published to.
func (c *Config) OutputBroker() string {
	if c.Transport.MQTT.OutputBroker != "" {
		return c.Transport.MQTT.OutputBroker
	}
	return c.Transport.MQTT.Broker
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
