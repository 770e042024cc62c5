package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"vape-recon/internal/reconcile/model"
	"vape-recon/internal/storage"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Host         string
	Port         int
	AllowOrigins []string
	LogLevel     string
	MaxUploadMB  int
	LogFile      string

	DBDriver   string
	DBDSN      string
	DBMaxConns int

	PolicyFile     string
	DefaultCompany string

	Match model.Options
}

// Load читает .env (если есть) и переменные окружения. Уже заданные
// переменные окружения имеют приоритет над файлом.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return Config{}, fmt.Errorf("%w: env file: %w", ErrInvalidConfig, err)
	}

	p := &parser{}
	def := model.DefaultOptions()
	cfg := Config{
		Host:         getenv("HOST", "127.0.0.1"),
		Port:         p.int("PORT", 8082),
		AllowOrigins: strings.Split(getenv("ALLOW_ORIGINS", "*"), ","),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		MaxUploadMB:  p.int("MAX_UPLOAD_MB", 256),
		LogFile:      getenv("LOG_FILE", "logs/vape-recon.log"),

		DBDriver:   getenv("DB_DRIVER", storage.DriverPgx),
		DBMaxConns: p.int("DB_MAX_CONNS", 10),

		PolicyFile:     os.Getenv("NORMALIZATION_POLICY"),
		DefaultCompany: getenv("DEFAULT_COMPANY", "기타"),

		Match: model.Options{
			MatchThreshold:      p.float("MATCH_THRESHOLD", def.MatchThreshold),
			TieBreakMargin:      p.float("TIE_BREAK_MARGIN", def.TieBreakMargin),
			PriceToleranceRatio: p.float("PRICE_TOLERANCE_RATIO", def.PriceToleranceRatio),
			CategoryBonus:       p.float("CATEGORY_BONUS", def.CategoryBonus),
			PricePenalty:        p.float("PRICE_PENALTY", def.PricePenalty),
			SellerPenalty:       p.float("SELLER_PENALTY", def.SellerPenalty),
			MinSignatureLen:     p.int("MIN_SIGNATURE_LEN", def.MinSignatureLen),
			RetryLimit:          p.int("RETRY_LIMIT", def.RetryLimit),
			RetryBackoff:        p.duration("RETRY_BACKOFF", def.RetryBackoff),
			RetryBackoffMax:     p.duration("RETRY_BACKOFF_MAX", def.RetryBackoffMax),
			TxTimeout:           p.duration("TX_TIMEOUT", def.TxTimeout),
			Workers:             p.int("WORKERS", def.Workers),
			CommitRPS:           p.float("COMMIT_RPS", 0),
		},
	}
	cfg.DBDSN = os.Getenv("DB_DSN")
	if cfg.DBDSN == "" {
		cfg.DBDSN = buildDSN(cfg.DBDriver)
	}
	if len(p.errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(p.errs...))
	}
	return cfg, cfg.Validate()
}

// Validate проверяет диапазоны до старта: плохой конфиг - ошибка, а не тихий дефолт.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	m := c.Match

	if c.Port <= 0 || c.Port > 65535 {
		bad("PORT out of range: %d", c.Port)
	}
	if c.MaxUploadMB <= 0 {
		bad("MAX_UPLOAD_MB must be positive")
	}
	if !storage.SupportedDriver(c.DBDriver) {
		bad("DB_DRIVER %q is not supported", c.DBDriver)
	}
	if c.DBDSN == "" {
		bad("DB_DSN is empty")
	}
	if strings.TrimSpace(c.DefaultCompany) == "" {
		bad("DEFAULT_COMPANY is empty")
	}
	if m.MatchThreshold <= 0 || m.MatchThreshold > 1 {
		bad("MATCH_THRESHOLD must be in (0,1], got %v", m.MatchThreshold)
	}
	if m.TieBreakMargin < 0 || m.TieBreakMargin >= 1 {
		bad("TIE_BREAK_MARGIN must be in [0,1), got %v", m.TieBreakMargin)
	}
	if m.PriceToleranceRatio <= 0 {
		bad("PRICE_TOLERANCE_RATIO must be positive")
	}
	if m.CategoryBonus < 0 || m.PricePenalty < 0 || m.SellerPenalty < 0 {
		bad("bonus and penalties must not be negative")
	}
	if m.MinSignatureLen < 0 {
		bad("MIN_SIGNATURE_LEN must not be negative")
	}
	if m.RetryLimit < 0 {
		bad("RETRY_LIMIT must not be negative")
	}
	if m.RetryBackoff < 0 || m.RetryBackoffMax < m.RetryBackoff {
		bad("RETRY_BACKOFF must be within [0, RETRY_BACKOFF_MAX]")
	}
	if m.TxTimeout <= 0 {
		bad("TX_TIMEOUT must be positive")
	}
	if m.Workers <= 0 {
		bad("WORKERS must be positive")
	}
	if m.CommitRPS < 0 {
		bad("COMMIT_RPS must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c Config) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func (c Config) StoreOptions() storage.Options {
	return storage.Options{
		Driver:         c.DBDriver,
		DSN:            c.DBDSN,
		MaxConns:       c.DBMaxConns,
		ConnectRetries: 5,
		RetryDelay:     2 * time.Second,
	}
}

// buildDSN собирает строку подключения из DB_HOST/DB_PORT/...
func buildDSN(driver string) string {
	if driver == storage.DriverSQLite3 {
		return getenv("DB_NAME", "vape-recon.db")
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%s", host, getenv("DB_PORT", "5432")),
		Path:     "/" + getenv("DB_NAME", "vape_recon"),
		RawQuery: "sslmode=" + getenv("DB_SSLMODE", "disable"),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("DB_PASSWORD"))
	}
	return u.String()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// parser копит ошибки разбора, чтобы показать их все разом.
type parser struct{ errs []error }

func (p *parser) int(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (p *parser) float(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func (p *parser) duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}
