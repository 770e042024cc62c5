package storage

import (
	"context"
	"fmt"
	"strings"
)

// Порядок важен: справочники -> товары -> офферы -> история.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS company (
	id {{pk}},
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS category (
	id {{pk}},
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS seller_site (
	id {{pk}},
	name TEXT NOT NULL UNIQUE
)`,
	`CREATE TABLE IF NOT EXISTS product (
	id {{pk}},
	company_id BIGINT NOT NULL REFERENCES company(id),
	category_id BIGINT NOT NULL REFERENCES category(id),
	normalized_name TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	created_at {{ts}} NOT NULL,
	UNIQUE (company_id, category_id, normalized_name)
)`,
	`CREATE TABLE IF NOT EXISTS offer (
	id {{pk}},
	product_id BIGINT NOT NULL REFERENCES product(id),
	seller_site_id BIGINT NOT NULL REFERENCES seller_site(id),
	seller_url TEXT NOT NULL,
	price BIGINT NOT NULL,
	last_seen_at {{ts}} NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	UNIQUE (product_id, seller_site_id, seller_url)
)`,
	`CREATE INDEX IF NOT EXISTS idx_offer_site_url ON offer (seller_site_id, seller_url)`,
	`CREATE TABLE IF NOT EXISTS price_history (
	id {{pk}},
	offer_id BIGINT NOT NULL REFERENCES offer(id),
	product_id BIGINT NOT NULL REFERENCES product(id),
	seller_site_id BIGINT NOT NULL REFERENCES seller_site(id),
	old_price BIGINT NOT NULL,
	new_price BIGINT NOT NULL,
	price_difference BIGINT NOT NULL,
	percentage_change DOUBLE PRECISION,
	created_at {{ts}} NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_price_history_offer ON price_history (product_id, seller_site_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS review_queue (
	id {{pk}},
	seller_site_id BIGINT NOT NULL REFERENCES seller_site(id),
	seller_url TEXT NOT NULL,
	title TEXT NOT NULL,
	signature TEXT NOT NULL,
	company_id BIGINT NOT NULL,
	category_id BIGINT NOT NULL,
	price BIGINT NOT NULL,
	reason TEXT NOT NULL,
	candidates TEXT NOT NULL,
	last_seen_at {{ts}} NOT NULL,
	review_key TEXT NOT NULL,
	UNIQUE (seller_site_id, review_key)
)`,
}

// Migrate создаёт таблицы, если их ещё нет.
func (s *SQLStore) Migrate(ctx context.Context) error {
	r := strings.NewReplacer("{{pk}}", s.d.pk, "{{ts}}", s.d.ts)
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", classify(err))
		}
	}
	return nil
}
