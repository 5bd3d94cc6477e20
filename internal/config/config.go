// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
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
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Catalog                 `yaml:"catalog"`
	RabbitMQ                `yaml:"rabbitmq"`
	Admin                   `yaml:"admin"`
	Ledger                  `yaml:"ledger"`
	RateLimit               `yaml:"rate_limit"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
	KeyPrefix    string        `yaml:"key_prefix" env-default:"pesapoll"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"12h"`
}

// Catalog описывает внешний источник каталога опросов.
// CollectionURL отдаёт массив опросов, DatabaseURL отдаёт весь дамп базы с полем surveys.
type Catalog struct {
	CollectionURL string        `yaml:"collection_url"`
	DatabaseURL   string        `yaml:"database_url"`
	Timeout       time.Duration `yaml:"timeout" env-default:"10s"`
	TTL           time.Duration `yaml:"ttl"`
}

// RabbitMQ структура для подключения к брокеру. Пустой URL отключает публикацию событий.
type RabbitMQ struct {
	URL        string        `yaml:"url"`
	Exchange   string        `yaml:"exchange" env-default:"pesapoll"`
	Retries    int           `yaml:"retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// Admin содержит пароль администратора для входа в панель управления.
// Пустой пароль отключает вход администратора.
type Admin struct {
	Password string `yaml:"password"`
}

// Ledger настройки оптимистичных транзакций над документами хранилища.
type Ledger struct {
	MaxRetries int `yaml:"max_retries" env-default:"10"`
}

// RateLimit ограничение числа запросов к API.
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"20"`
	Burst int     `yaml:"burst" env-default:"40"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из config/config.go
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"  KeyPrefix: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Catalog:\n"+
			"  CollectionURL: %s\n"+
			"  DatabaseURL: %s\n"+
			"  TTL: %s\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"  Exchange: %s\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.KeyPrefix,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.CollectionURL,
		c.DatabaseURL,
		c.TTL,
		c.RabbitMQ.URL != "",
		c.Exchange,
	)
}
