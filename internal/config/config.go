package config

import (
	"errors"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentRequests string `mapstructure:"payment-requests"`
	PaymentStatus   string `mapstructure:"payment-status"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

// Gateway describes the acquiring terminal the service talks to.
type Gateway struct {
	URL             string `mapstructure:"url"`
	TerminalKey     string `mapstructure:"terminal-key"`
	SecretKey       string `mapstructure:"secret-key"`
	TimeoutMs       int    `mapstructure:"timeout-ms"`
	NotificationURL string `mapstructure:"notification-url"`
	SuccessURL      string `mapstructure:"success-url"`
	FailURL         string `mapstructure:"fail-url"`
}

type Reconcile struct {
	PollingIntervalMs int `mapstructure:"polling-interval-ms"`
	FetchSize         int `mapstructure:"fetch-size"`
	MinAgeMs          int `mapstructure:"min-age-ms"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Database  Database  `mapstructure:"database"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Gateway   Gateway   `mapstructure:"gateway"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	Server    Server    `mapstructure:"server"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Logs      Logs      `mapstructure:"logs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("kafka.broker.url", "localhost:9092")
	v.SetDefault("kafka.topic.payment-requests", "payment-requests")
	v.SetDefault("kafka.topic.payment-status", "payment-status")
	v.SetDefault("kafka.reader.group-id", "acquiring-service")
	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)
	v.SetDefault("gateway.url", "https://securepay.tinkoff.ru/v2")
	v.SetDefault("gateway.timeout-ms", 10_000)
	v.SetDefault("reconcile.polling-interval-ms", 60_000)
	v.SetDefault("reconcile.fetch-size", 50)
	v.SetDefault("reconcile.min-age-ms", 300_000)
	v.SetDefault("metrics.interval-ms", 10_000)

	// keys without a sensible default still need to be known for env overrides
	for _, key := range []string{
		"gateway.terminal-key", "gateway.secret-key", "gateway.notification-url",
		"gateway.success-url", "gateway.fail-url",
		"database.user", "database.password", "database.name", "database.host", "database.port",
		"metrics.url", "metrics.common-labels", "logs.url",
	} {
		v.SetDefault(key, "")
	}
}

// LoadConfig reads config.yaml from path. Values can be overridden by
// environment variables, e.g. GATEWAY_SECRET_KEY for gateway.secret-key.
func LoadConfig(path string) (*Config, error) {
	// .env is optional, missing file is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
