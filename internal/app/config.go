package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERGENIE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Ops server listen address (health checks)"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERGENIE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RabbitMQURL string `usage:"RabbitMQ URL (ORDERGENIE_RABBITMQ_URL or RABBITMQ_URL)" flag:"rabbitmq-url"`
	Database    DatabaseConfig
	Orders      OrdersConfig
	Outbox      OutboxConfig
	Kitchen     KitchenConfig
	Payments    PaymentsConfig
	Graceful    GracefulConfig
}

// DatabaseConfig sizes the connection pool.
type DatabaseConfig struct {
	MaxConns int32 `default:"20" usage:"Maximum pool connections"`
	MinConns int32 `default:"2"  usage:"Minimum idle pool connections"`
}

// OrdersConfig controls the order service.
type OrdersConfig struct {
	RetryAttempts  int           `default:"3"     usage:"Attempts for transient order failures"`
	RetryBaseDelay time.Duration `default:"100ms" usage:"First retry delay, doubled per attempt"`
	RetryMaxDelay  time.Duration `default:"2s"    usage:"Retry delay cap"`
	RefundRestock  string        `default:"unprepared" usage:"Restock on full refund: unprepared, always or never" flag:"refund-restock"`
}

// OutboxConfig controls event delivery.
type OutboxConfig struct {
	BatchSize    int           `default:"50"  usage:"Messages claimed per poll"`
	PollInterval time.Duration `default:"1s"  usage:"Delay between polls when idle"`
	Lease        time.Duration `default:"1m"  usage:"Claim lease before redelivery"`
	Concurrency  int           `default:"8"   usage:"Parallel deliveries"`
	MaxAttempts  int           `default:"10"  usage:"Attempts before a message is buried"`
	BaseBackoff  time.Duration `default:"1s"  usage:"First redelivery delay"`
	MaxBackoff   time.Duration `default:"10m" usage:"Redelivery delay cap"`
	// MaxBacklog fails readiness when more messages are pending.
	MaxBacklog int64 `default:"10000" usage:"Undelivered messages tolerated by readiness"`
}

// KitchenConfig configures kitchen ticket printing.
type KitchenConfig struct {
	PrintNodeURL    string        `default:"https://api.printnode.com" usage:"PrintNode API base URL"`
	PrintNodeAPIKey string        `usage:"PrintNode API key; empty sends tickets by email only" flag:"printnode-api-key"`
	PrinterID       int64         `usage:"PrintNode printer id" flag:"printer-id"`
	Email           string        `default:"kitchen@restaurant.com" usage:"Fallback address for kitchen tickets" flag:"kitchen-email"`
	Timeout         time.Duration `default:"10s" usage:"PrintNode request timeout"`
	TimeZone        string        `default:"Europe/London" usage:"Time zone printed on tickets"`
}

// PaymentsConfig configures the payment result consumer.
type PaymentsConfig struct {
	Queue    string `default:"payment_results_queue" usage:"Queue with payment results"`
	Prefetch int    `default:"10" usage:"Unacknowledged messages per consumer"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERGENIE",
		Files:     []string{"config.yaml", "/etc/ordergenie/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set ORDERGENIE_DATABASE_URL or DATABASE_URL")
	}
	if c.RabbitMQURL == "" {
		return errors.New("RabbitMQ URL is required: set ORDERGENIE_RABBITMQ_URL or RABBITMQ_URL")
	}
	if _, err := order.ParseRestockPolicy(c.Orders.RefundRestock); err != nil {
		return errors.Wrap(err, "orders.refundRestock")
	}
	if c.Kitchen.PrintNodeAPIKey != "" && c.Kitchen.PrinterID == 0 {
		return errors.New("kitchen.printerID is required with a PrintNode API key")
	}
	if _, err := time.LoadLocation(c.Kitchen.TimeZone); err != nil {
		return errors.Wrap(err, "kitchen.timeZone")
	}
	return nil
}

// RetryPolicy returns the order retry policy.
func (c OrdersConfig) RetryPolicy() order.RetryPolicy {
	return order.RetryPolicy{
		MaxAttempts: c.RetryAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
	}
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERGENIE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RabbitMQURL == "" {
		c.RabbitMQURL = os.Getenv("RABBITMQ_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
