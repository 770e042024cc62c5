package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"vape-recon/internal/reconcile/model"
)

const (
	DriverPgx     = "pgx"
	DriverPq      = "postgres"
	DriverSQLite3 = "sqlite3"
)

type dialect struct {
	dollar   bool   // $1.. вместо ?
	pk       string // DDL первичного ключа
	ts       string // DDL метки времени
	advisory bool   // pg_advisory_xact_lock для раздела
}

var dialects = map[string]dialect{
	DriverPgx:     {dollar: true, pk: "BIGSERIAL PRIMARY KEY", ts: "TIMESTAMPTZ", advisory: true},
	DriverPq:      {dollar: true, pk: "BIGSERIAL PRIMARY KEY", ts: "TIMESTAMPTZ", advisory: true},
	DriverSQLite3: {pk: "INTEGER PRIMARY KEY AUTOINCREMENT", ts: "TIMESTAMP"},
}

// SupportedDriver проверяет имя драйвера из конфигурации.
func SupportedDriver(name string) bool {
	_, ok := dialects[name]
	return ok
}

// Options: параметры подключения.
type Options struct {
	Driver         string
	DSN            string
	MaxConns       int
	ConnectRetries int
	RetryDelay     time.Duration
}

// SQLStore: хранилище каталога поверх database/sql.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	log zerolog.Logger
}

// Open подключается к базе, повторяя попытки при недоступности.
func Open(ctx context.Context, opt Options, log zerolog.Logger) (*SQLStore, error) {
	d, ok := dialects[opt.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", opt.Driver)
	}
	if opt.ConnectRetries <= 0 {
		opt.ConnectRetries = 1
	}
	var lastErr error
	for i := 0; i < opt.ConnectRetries; i++ {
		db, err := sql.Open(opt.Driver, opt.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", opt.Driver, err)
		}
		if opt.Driver == DriverSQLite3 {
			// один писатель; для :memory: ещё и единственная копия базы
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
			db.SetConnMaxLifetime(0)
		} else if opt.MaxConns > 0 {
			db.SetMaxOpenConns(opt.MaxConns)
		}
		if err = db.PingContext(ctx); err == nil {
			log.Info().Str("driver", opt.Driver).Msg("store connected")
			return &SQLStore{db: db, d: d, log: log}, nil
		}
		_ = db.Close()
		lastErr = err
		log.Warn().Err(err).Int("attempt", i+1).Int("of", opt.ConnectRetries).Msg("store ping failed")
		if i+1 < opt.ConnectRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opt.RetryDelay):
			}
		}
	}
	return nil, fmt.Errorf("connect %s: %w", opt.Driver, classify(lastErr))
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Ping: проверка доступности для /health.
func (s *SQLStore) Ping(ctx context.Context) error { return classify(s.db.PingContext(ctx)) }

// rebind переводит ? в $n для postgres.
func (s *SQLStore) rebind(q string) string {
	return rebind(s.d, q)
}

func rebind(d dialect, q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Begin открывает транзакцию сверки одного листинга.
func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", classify(err))
	}
	return &sqlTx{tx: tx, d: s.d}, nil
}

// CompanyNames: все известные бренды.
func (s *SQLStore) CompanyNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM company ORDER BY id`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLStore) Product(ctx context.Context, id int64) (*model.CanonicalProduct, error) {
	var p model.CanonicalProduct
	err := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, company_id, category_id, normalized_name, display_name, image_url
FROM product WHERE id = ?`), id).
		Scan(&p.ID, &p.CompanyID, &p.CategoryID, &p.NormalizedName, &p.DisplayName, &p.ImageURL)
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

// Offers: офферы товара в порядке создания.
func (s *SQLStore) Offers(ctx context.Context, productID int64) ([]model.Offer, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, product_id, seller_site_id, seller_url, price, last_seen_at, version
FROM offer WHERE product_id = ? ORDER BY id`), productID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return scanOffers(rows)
}

// PriceHistory: история цен товара, упорядоченная по времени.
func (s *SQLStore) PriceHistory(ctx context.Context, productID int64) ([]model.PriceHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, offer_id, product_id, seller_site_id, old_price, new_price,
       price_difference, percentage_change, created_at
FROM price_history
WHERE product_id = ?
ORDER BY seller_site_id, created_at, id`), productID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.PriceHistoryEntry
	for rows.Next() {
		var e model.PriceHistoryEntry
		var pct sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.OfferID, &e.ProductID, &e.SellerSiteID, &e.OldPrice, &e.NewPrice,
			&e.PriceDifference, &pct, &e.CreatedAt); err != nil {
			return nil, err
		}
		if pct.Valid {
			v := pct.Float64
			e.PercentageChange = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reviews: листинги, ожидающие ручной проверки.
func (s *SQLStore) Reviews(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, seller_site_id, seller_url, title, signature, company_id, category_id,
       price, reason, candidates, last_seen_at
FROM review_queue ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		var it model.ReviewItem
		var cands string
		if err := rows.Scan(&it.ID, &it.SellerSiteID, &it.SellerURL, &it.Title, &it.Signature,
			&it.CompanyID, &it.CategoryID, &it.Price, &it.Reason, &cands, &it.LastSeenAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cands), &it.Candidates); err != nil {
			return nil, fmt.Errorf("review %d candidates: %w", it.ID, err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Counts: размеры основных таблиц (для проверки идемпотентности).
type Counts struct {
	Products, Offers, History, Reviews int
}

func (s *SQLStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM product),
       (SELECT COUNT(*) FROM offer),
       (SELECT COUNT(*) FROM price_history),
       (SELECT COUNT(*) FROM review_queue)`).Scan(&c.Products, &c.Offers, &c.History, &c.Reviews)
	return c, classify(err)
}

func scanOffers(rows *sql.Rows) ([]model.Offer, error) {
	var out []model.Offer
	for rows.Next() {
		var o model.Offer
		if err := rows.Scan(&o.ID, &o.ProductID, &o.SellerSiteID, &o.SellerURL, &o.CurrentPrice, &o.LastSeenAt, &o.Version); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
