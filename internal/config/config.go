// Package config содержит логику чтения конфигурации сервиса выдачи подарочных карт.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	OrderSystemDomain string `env:"ORDER_SYSTEM_DOMAIN"`
	CatalogFile       string `env:"CATALOG_FILE"`

	OrderSystemAPIKey string `env:"ORDER_SYSTEM_API_KEY"`
	AdminToken        string `env:"ADMIN_TOKEN"`
	WebhookToken      string `env:"WEBHOOK_TOKEN"`

	SMTP SMTPConfig `envPrefix:"SMTP_"`

	RedisAddr string `env:"REDIS_ADDR"`

	NotifyDelay          time.Duration `env:"NOTIFY_DELAY" envDefault:"0s"`
	AllocationTimeout    time.Duration `env:"ALLOCATION_TIMEOUT" envDefault:"15s"`
	DeliveryMaxAttempts  int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"3"`
	DeliveryPollInterval time.Duration `env:"DELIVERY_POLL_INTERVAL" envDefault:"1s"`

	ShopName        string `env:"SHOP_NAME" envDefault:"WASSYL"`
	CurrencyLabel   string `env:"CURRENCY_LABEL" envDefault:"zł"`
	VoucherLogoPath string `env:"VOUCHER_LOGO_PATH"`
}

// SMTPConfig содержит параметры отправки почты.
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Sender   string `env:"SENDER"`
}

// Enabled сообщает, достаточно ли параметров для отправки почты.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port > 0 && c.Sender != ""
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envOrderSystemDomain := cfg.OrderSystemDomain
	envCatalogFile := cfg.CatalogFile

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.OrderSystemDomain, "o", "", "order system (shop admin API) domain")
	flag.StringVar(&cfg.CatalogFile, "c", "", "gift card catalog file (yaml)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envOrderSystemDomain != "" {
		cfg.OrderSystemDomain = envOrderSystemDomain
	}
	if envCatalogFile != "" {
		cfg.CatalogFile = envCatalogFile
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.DeliveryMaxAttempts < 1 {
		return nil, fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be positive, got %d", cfg.DeliveryMaxAttempts)
	}
	if cfg.DeliveryPollInterval <= 0 {
		return nil, fmt.Errorf("DELIVERY_POLL_INTERVAL must be positive, got %s", cfg.DeliveryPollInterval)
	}

	return cfg, nil
}
