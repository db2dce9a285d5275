package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ServerConfig captures all tunable parameters for the dispatch processes.
// Defaults are overlaid by an optional YAML file (CONFIG_FILE) and then by
// environment variables, so the binary runs locally without setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	StoreDriver   string `yaml:"store_driver"`
	PGDSN         string `yaml:"pg_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
	RunMigrations bool   `yaml:"migrate"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`
	KafkaJobTopic string   `yaml:"kafka_job_topic"`
	KafkaGroup    string   `yaml:"kafka_group"`

	StripeAPIKey   string `yaml:"stripe_api_key"`
	PayoutCurrency string `yaml:"payout_currency"`

	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	TrustedProxies []string        `yaml:"trusted_proxies"`

	SessionLifetime    time.Duration `yaml:"session_lifetime"`
	SessionMinTokenLen int           `yaml:"session_min_token_len"`

	DefaultServiceRadius float64            `yaml:"default_service_radius_mi"`
	PayoutSplitPolicy    string             `yaml:"payout_split_policy"`
	PayoutTiers          map[string]float64 `yaml:"payout_tiers"`

	LogLevel string `yaml:"log_level"`
}

type RateLimitConfig struct {
	Window   time.Duration `yaml:"window"`
	TokenMax int           `yaml:"token_max"`
	AddrMax  int           `yaml:"addr_max"`
	Sweep    time.Duration `yaml:"sweep"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		StoreDriver:     DriverMemory,
		SQLitePath:      "dispatch.db",
		CacheTTL:        15 * time.Second,
		KafkaTopic:      "dispatch-events",
		KafkaJobTopic:   "job-completions",
		KafkaGroup:      "dispatch-ledger-consumer",
		PayoutCurrency:  "usd",
		RateLimit: RateLimitConfig{
			Window:   60 * time.Second,
			TokenMax: 100,
			AddrMax:  200,
			Sweep:    5 * time.Minute,
		},
		SessionLifetime:      7 * 24 * time.Hour,
		SessionMinTokenLen:   16,
		DefaultServiceRadius: 25,
		PayoutSplitPolicy:    "equal",
		PayoutTiers: map[string]float64{
			"byo":     0.60,
			"base":    0.45,
			"managed": 0.35,
		},
		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.StoreDriver, "STORE_DRIVER")
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setStringFromEnv(&cfg.SQLitePath, "SQLITE_PATH")
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}
	// PG_DSN alone selects postgres, as before the driver switch existed.
	if os.Getenv("STORE_DRIVER") == "" && cfg.StoreDriver == DriverMemory && cfg.PGDSN != "" {
		cfg.StoreDriver = DriverPostgres
	}

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setDurationFromEnv(&cfg.CacheTTL, "CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaJobTopic, "KAFKA_JOB_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	setStringFromEnv(&cfg.StripeAPIKey, "STRIPE_API_KEY")
	setStringFromEnv(&cfg.PayoutCurrency, "PAYOUT_CURRENCY")

	setDurationFromEnv(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW", &errs)
	setIntFromEnv(&cfg.RateLimit.TokenMax, "RATE_LIMIT_TOKEN_MAX", &errs)
	setIntFromEnv(&cfg.RateLimit.AddrMax, "RATE_LIMIT_ADDR_MAX", &errs)
	setDurationFromEnv(&cfg.RateLimit.Sweep, "RATE_LIMIT_SWEEP", &errs)
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		cfg.TrustedProxies = splitAndTrim(proxies)
	}

	setDurationFromEnv(&cfg.SessionLifetime, "SESSION_LIFETIME", &errs)
	setIntFromEnv(&cfg.SessionMinTokenLen, "SESSION_MIN_TOKEN_LEN", &errs)

	setFloatFromEnv(&cfg.DefaultServiceRadius, "DEFAULT_SERVICE_RADIUS_MI", &errs)
	setStringFromEnv(&cfg.PayoutSplitPolicy, "PAYOUT_SPLIT_POLICY")
	cfg.PayoutSplitPolicy = strings.ToLower(cfg.PayoutSplitPolicy)
	if cfg.PayoutTiers == nil {
		cfg.PayoutTiers = map[string]float64{}
	}
	for _, tier := range []string{"byo", "base", "managed"} {
		v := cfg.PayoutTiers[tier]
		setFloatFromEnv(&v, "PAYOUT_TIER_"+strings.ToUpper(tier), &errs)
		if v != 0 {
			cfg.PayoutTiers[tier] = v
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.RateLimit.TokenMax <= 0 || c.RateLimit.AddrMax <= 0 {
		errs = append(errs, fmt.Errorf("rate limit ceilings must be > 0"))
	}
	if _, err := ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	if c.SessionLifetime <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_LIFETIME must be > 0"))
	}
	if c.SessionMinTokenLen < 1 {
		errs = append(errs, fmt.Errorf("SESSION_MIN_TOKEN_LEN must be >= 1"))
	}
	if c.DefaultServiceRadius <= 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_SERVICE_RADIUS_MI must be > 0"))
	}
	if c.PayoutSplitPolicy != "equal" && c.PayoutSplitPolicy != "weighted" {
		errs = append(errs, fmt.Errorf("PAYOUT_SPLIT_POLICY must be equal or weighted"))
	}
	for tier, m := range c.PayoutTiers {
		if m <= 0 || m > 1 {
			errs = append(errs, fmt.Errorf("payout tier %s multiplier must be in (0, 1]", tier))
		}
	}
	return errs
}

// ParseTrustedProxies reads TRUSTED_PROXIES entries. Each is a CIDR or a
// bare address, which is taken as a single-host prefix.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var (
		out  []netip.Prefix
		errs []error
	)
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", e, err))
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", e, err))
			continue
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, errors.Join(errs...)
}

func loadFile(path string, cfg *ServerConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
