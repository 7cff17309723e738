package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	VNPay        VNPayConfig `env:"VNPAY" flag:"vnpay" yaml:"vnpay"`
	Frontend     FrontendConfig
	Sweep        SweepConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig enables the checkout double-submit guard when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address; empty disables the checkout guard"`
	GuardTTL time.Duration `default:"30s" usage:"How long an Idempotency-Key blocks a repeated checkout"`
}

// KafkaConfig selects where order notifications go. Without brokers they
// are logged.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"order.success" usage:"Topic for order notifications"`
}

// VNPayConfig holds the merchant credentials issued by VNPAY.
type VNPayConfig struct {
	TmnCode    string        `env:"TMN_CODE" usage:"Merchant terminal code"`
	HashSecret string        `env:"HASH_SECRET" usage:"Shared HMAC-SHA512 secret"`
	PayURL     string        `env:"PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html" usage:"Hosted payment page"`
	ReturnURL  string        `env:"RETURN_URL" usage:"Public URL of GET /vnpay-return"`
	Expire     time.Duration `default:"15m" usage:"Advisory payment expiry sent to the gateway"`
}

// FrontendConfig lists the pages the payment return redirects to.
type FrontendConfig struct {
	SuccessURL string `env:"SUCCESS_URL" usage:"Redirect target after a settled payment"`
	FailureURL string `env:"FAILURE_URL" usage:"Redirect target after a failed payment"`
}

// SweepConfig controls the delivered to completed sweep.
type SweepConfig struct {
	Interval       time.Duration `default:"1h" usage:"How often the sweep runs; 0 disables it"`
	DeliveredAfter time.Duration `default:"72h" usage:"Age after delivery at which orders complete"`
	BatchSize      int           `default:"100" usage:"Orders completed per query"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
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
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
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

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set SHOP_API_KEY_PEPPER")
	case c.VNPay.TmnCode == "" || c.VNPay.HashSecret == "":
		return errors.New("vnpay credentials are required: set SHOP_VNPAY_TMN_CODE and SHOP_VNPAY_HASH_SECRET")
	case c.VNPay.ReturnURL == "":
		return errors.New("vnpay return url is required: set SHOP_VNPAY_RETURN_URL")
	case c.Frontend.SuccessURL == "" || c.Frontend.FailureURL == "":
		return errors.New("frontend redirect urls are required: set SHOP_FRONTEND_SUCCESS_URL and SHOP_FRONTEND_FAILURE_URL")
	case c.Sweep.Interval > 0 && c.Sweep.BatchSize <= 0:
		return errors.Errorf("sweep batch size must be positive, got %d", c.Sweep.BatchSize)
	case c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0:
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT onto the SHOP_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
