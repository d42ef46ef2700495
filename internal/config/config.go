package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	BackendConfluent = "confluent"
	BackendSarama    = "sarama"

	EnvPrefix = "KAFKACLI"
)

type Config struct {
	// confluent | sarama
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Kafka   KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Follow  FollowConfig  `mapstructure:"follow" yaml:"follow"`
	Logging Logging       `mapstructure:"logging" yaml:"logging"`
}

// KafkaConfig общие настройки обоих бэкендов. Поля, которые бэкенд
// не поддерживает, игнорируются.
type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers" yaml:"brokers"`
	GroupId           string   `mapstructure:"group_id" yaml:"group_id"`
	ClientId          string   `mapstructure:"client_id" yaml:"client_id"`
	AutoOffsetReset   string   `mapstructure:"auto_offset_reset" yaml:"auto_offset_reset"`
	DisableAutoCommit bool     `mapstructure:"disable_auto_commit" yaml:"disable_auto_commit"`
	// sarama
	Version      string `mapstructure:"version" yaml:"version"`
	RequiredAcks string `mapstructure:"required_acks" yaml:"required_acks"`
	Compression  string `mapstructure:"compression" yaml:"compression"`
	// confluent
	FlushTimeoutMs int `mapstructure:"flush_timeout_ms" yaml:"flush_timeout_ms"`
	// Свойства librdkafka в виде "name=value"
	Extra []string `mapstructure:"extra" yaml:"extra"`
}

// SessionConfig настройки client.Client.
type SessionConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout"`
	// Конфигурация топика по умолчанию в виде "name=value"
	Topic []string `mapstructure:"topic" yaml:"topic"`
}

// FollowConfig backoff переоткрытия курсора в iterate --follow.
type FollowConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	// 0 - без ограничения
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
}

type Logging struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendConfluent)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "kafkacli")
	v.SetDefault("kafka.client_id", "kafkacli")
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.disable_auto_commit", false)
	v.SetDefault("kafka.version", "2.8.0")
	v.SetDefault("kafka.required_acks", "all")
	v.SetDefault("kafka.compression", "none")
	v.SetDefault("kafka.flush_timeout_ms", 5000)
	v.SetDefault("kafka.extra", []string{})

	v.SetDefault("session.timeout", "1s")
	v.SetDefault("session.flush_timeout", "1s")
	v.SetDefault("session.topic", []string{})

	v.SetDefault("follow.initial_interval", "500ms")
	v.SetDefault("follow.max_interval", "10s")
	v.SetDefault("follow.max_elapsed_time", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// Load загружает и валидирует конфиг. Если path пустой, читаются только ENV и defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := decode(v.AllSettings(), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func decode(input map[string]interface{}, target interface{}) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook,
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "mapstructure",
		Result:     target,
		DecodeHook: hook,
	})
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	return dec.Decode(input)
}

// stringToBoolHook разбирает true/false, иначе отдает исходные данные.
func stringToBoolHook(f, t reflect.Kind, data interface{}) (interface{}, error) {
	if f == reflect.String && t == reflect.Bool {
		return strconv.ParseBool(data.(string))
	}
	return data, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendConfluent, BackendSarama:
	default:
		return fmt.Errorf("backend must be one of [%s, %s]", BackendConfluent, BackendSarama)
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	switch strings.ToLower(c.Kafka.AutoOffsetReset) {
	case "earliest", "latest":
	default:
		return fmt.Errorf("kafka.auto_offset_reset must be one of [earliest, latest]")
	}
	switch strings.ToLower(c.Kafka.RequiredAcks) {
	case "all", "leader", "none":
	default:
		return fmt.Errorf("kafka.required_acks must be one of [all, leader, none]")
	}
	switch strings.ToLower(c.Kafka.Compression) {
	case "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("kafka.compression must be one of [none, gzip, snappy, lz4, zstd]")
	}
	if c.Kafka.FlushTimeoutMs <= 0 {
		return fmt.Errorf("kafka.flush_timeout_ms must be > 0")
	}
	if _, err := ParsePairs(c.Kafka.Extra); err != nil {
		return fmt.Errorf("kafka.extra: %w", err)
	}

	durations := map[string]time.Duration{
		"session.timeout":         c.Session.Timeout,
		"session.flush_timeout":   c.Session.FlushTimeout,
		"follow.initial_interval": c.Follow.InitialInterval,
		"follow.max_interval":     c.Follow.MaxInterval,
	}
	for k, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", k)
		}
	}
	if c.Follow.MaxElapsedTime < 0 {
		return fmt.Errorf("follow.max_elapsed_time must be >= 0")
	}
	if _, err := ParsePairs(c.Session.Topic); err != nil {
		return fmt.Errorf("session.topic: %w", err)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// ParsePairs разбирает список "name=value" в отображение.
// Повтор имени перезаписывает предыдущее значение.
func ParsePairs(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	res := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed pair %q, want name=value", p)
		}
		res[name] = strings.TrimSpace(value)
	}
	return res, nil
}

// TopicDefaults конфигурация топика по умолчанию для сессии.
func (c *Config) TopicDefaults() map[string]interface{} {
	res, _ := ParsePairs(c.Session.Topic)
	return res
}

// KafkaExtra дополнительные свойства librdkafka.
func (c *Config) KafkaExtra() map[string]interface{} {
	res, _ := ParsePairs(c.Kafka.Extra)
	return res
}

// Dump эффективная конфигурация в YAML.
func (c *Config) Dump() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
