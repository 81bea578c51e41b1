// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	HTTPServer              `yaml:"http_server"`
	GRPCServer              `yaml:"grpc_server"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	JWTToken                `yaml:"jwttoken"`
	Credits                 `yaml:"credits"`
	Sessions                `yaml:"sessions"`
	Retention               `yaml:"retention"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// GRPCServer структура для настройки внутреннего gRPC API доступа.
// APIKey обязателен: без него любой вызов отклоняется.
type GRPCServer struct {
	AddressGRPC string `yaml:"addressgrpc" env-default:"127.0.0.1:50051"`
	APIKey      string `yaml:"api_key" env:"GRPC_API_KEY" env-required:"true"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env-default:"localhost:6379"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ структура для настройки подключения к брокеру
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey     string        `yaml:"jwt_secret_key" env:"JWT_SIGNING_KEY" env-required:"true"`
	TokenTTL         time.Duration `yaml:"token_ttl" env-default:"1h"`
	RefreshThreshold time.Duration `yaml:"refresh_threshold" env-default:"30m"`
}

// Credits настройки кредитного реестра
type Credits struct {
	FreeLimit           int           `yaml:"free_limit" env-default:"3"`
	FreeDuration        time.Duration `yaml:"free_duration" env-default:"5m"`
	PaidDuration        time.Duration `yaml:"paid_duration" env-default:"45m"`
	ConsumeRetries      int           `yaml:"consume_retries" env-default:"3"`
	ConsumeRetryDelay   time.Duration `yaml:"consume_retry_delay" env-default:"50ms"`
	CreateRatePerMinute int           `yaml:"create_rate_per_minute" env-default:"6"`
}

// Sessions настройки таймера сессий
type Sessions struct {
	PersistExpired bool `yaml:"persist_expired"`
}

// Retention настройки планировщика удаления истории
type Retention struct {
	Interval    time.Duration `yaml:"interval" env-default:"24h"`
	BatchSize   int           `yaml:"batch_size" env-default:"100"`
	GracePeriod time.Duration `yaml:"grace_period" env-default:"720h"`
	LockTTL     time.Duration `yaml:"lock_ttl" env-default:"30m"`
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла и переменных окружения и проверяет его согласованность.
func Load(configPath string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("grpc_server api_key must be set")
	}
	if c.RefreshThreshold >= c.TokenTTL {
		return fmt.Errorf("refresh_threshold (%s) must be less than token_ttl (%s)", c.RefreshThreshold, c.TokenTTL)
	}
	if c.FreeLimit < 0 {
		return fmt.Errorf("free_limit must not be negative")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("retention batch_size must be positive")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"GRPCServer:\n"+
			"  Address: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"JWTToken:\n"+
			"  TokenTTL: %s\n"+
			"  RefreshThreshold: %s\n"+
			"Credits:\n"+
			"  FreeLimit: %d\n"+
			"  FreeDuration: %s\n"+
			"  PaidDuration: %s\n"+
			"Retention:\n"+
			"  Interval: %s\n"+
			"  BatchSize: %d\n"+
			"  GracePeriod: %s\n",
		c.Env,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.AddressGRPC,
		c.AddressRedis,
		c.DB,
		c.TokenTTL,
		c.RefreshThreshold,
		c.FreeLimit,
		c.FreeDuration,
		c.PaidDuration,
		c.Interval,
		c.BatchSize,
		c.GracePeriod,
	)
}
