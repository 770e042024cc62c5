package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vape-recon/internal/reconcile/model"
)

// Tx: операции одной транзакции сверки. Любая ошибка - откат целиком.
type Tx interface {
	EnsureCompany(ctx context.Context, name string) (int64, error)
	EnsureCategory(ctx context.Context, name string) (int64, error)
	EnsureSellerSite(ctx context.Context, name string) (int64, error)

	// LockPartition сериализует запись в раздел между процессами до конца транзакции.
	LockPartition(ctx context.Context, p model.Partition) error

	// OfferByURL ищет оффер продавца по URL в любом товаре; ErrNotFound если нет.
	OfferByURL(ctx context.Context, sellerSiteID int64, url string) (*model.Offer, error)
	Candidates(ctx context.Context, p model.Partition) ([]model.Candidate, error)

	InsertProduct(ctx context.Context, p *model.CanonicalProduct) error
	// EnrichProduct заполняет пустые display_name / image_url.
	EnrichProduct(ctx context.Context, id int64, displayName, imageURL string) error

	Offer(ctx context.Context, productID, sellerSiteID int64, url string) (*model.Offer, error)
	InsertOffer(ctx context.Context, o *model.Offer) error
	// UpdateOffer пишет цену, если оффер не менялся с момента чтения (o.Version);
	// иначе ErrConflict, и транзакцию надо повторить на свежих данных.
	UpdateOffer(ctx context.Context, o model.Offer) error
	InsertHistory(ctx context.Context, e *model.PriceHistoryEntry) error

	UpsertReview(ctx context.Context, it model.ReviewItem) error

	Commit() error
	Rollback() error
}

type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

func (t *sqlTx) q(query string) string { return rebind(t.d, query) }

func (t *sqlTx) Commit() error   { return classify(t.tx.Commit()) }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func (t *sqlTx) EnsureCompany(ctx context.Context, name string) (int64, error) {
	return t.ensure(ctx, "company", name)
}

func (t *sqlTx) EnsureCategory(ctx context.Context, name string) (int64, error) {
	return t.ensure(ctx, "category", name)
}

func (t *sqlTx) EnsureSellerSite(ctx context.Context, name string) (int64, error) {
	return t.ensure(ctx, "seller_site", name)
}

// ensure: справочник "найти или создать"; гонку вставок гасит ON CONFLICT.
func (t *sqlTx) ensure(ctx context.Context, table, name string) (int64, error) {
	if _, err := t.tx.ExecContext(ctx,
		t.q(`INSERT INTO `+table+` (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), name); err != nil {
		return 0, fmt.Errorf("ensure %s %q: %w", table, name, classify(err))
	}
	var id int64
	if err := t.tx.QueryRowContext(ctx, t.q(`SELECT id FROM `+table+` WHERE name = ?`), name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup %s %q: %w", table, name, classify(err))
	}
	return id, nil
}

// partitionLockKey упаковывает раздел в один bigint-ключ advisory-блокировки.
func partitionLockKey(p model.Partition) int64 {
	return int64(uint64(p.CompanyID)<<32 | uint64(uint32(p.CategoryID)))
}

// LockPartition: на postgres берёт транзакционную advisory-блокировку раздела,
// чтобы два процесса не создали похожие товары одновременно. sqlite и так
// пускает одного писателя.
func (t *sqlTx) LockPartition(ctx context.Context, p model.Partition) error {
	if !t.d.advisory {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, t.q(`SELECT pg_advisory_xact_lock(?)`), partitionLockKey(p)); err != nil {
		return fmt.Errorf("lock partition %d/%d: %w", p.CompanyID, p.CategoryID, classify(err))
	}
	return nil
}

const offerCols = `id, product_id, seller_site_id, seller_url, price, last_seen_at, version`

func (t *sqlTx) OfferByURL(ctx context.Context, sellerSiteID int64, url string) (*model.Offer, error) {
	var o model.Offer
	err := t.tx.QueryRowContext(ctx, t.q(`SELECT `+offerCols+` FROM offer
WHERE seller_site_id = ? AND seller_url = ? ORDER BY id LIMIT 1`), sellerSiteID, url).
		Scan(&o.ID, &o.ProductID, &o.SellerSiteID, &o.SellerURL, &o.CurrentPrice, &o.LastSeenAt, &o.Version)
	if err != nil {
		return nil, classify(err)
	}
	return &o, nil
}

func (t *sqlTx) Offer(ctx context.Context, productID, sellerSiteID int64, url string) (*model.Offer, error) {
	var o model.Offer
	err := t.tx.QueryRowContext(ctx, t.q(`SELECT `+offerCols+` FROM offer
WHERE product_id = ? AND seller_site_id = ? AND seller_url = ?`), productID, sellerSiteID, url).
		Scan(&o.ID, &o.ProductID, &o.SellerSiteID, &o.SellerURL, &o.CurrentPrice, &o.LastSeenAt, &o.Version)
	if err != nil {
		return nil, classify(err)
	}
	return &o, nil
}

// Candidates: все товары раздела с их офферами, по возрастанию id.
func (t *sqlTx) Candidates(ctx context.Context, p model.Partition) ([]model.Candidate, error) {
	rows, err := t.tx.QueryContext(ctx, t.q(`
SELECT id, company_id, category_id, normalized_name, display_name, image_url
FROM product WHERE company_id = ? AND category_id = ? ORDER BY id`), p.CompanyID, p.CategoryID)
	if err != nil {
		return nil, classify(err)
	}
	var out []model.Candidate
	pos := make(map[int64]int)
	for rows.Next() {
		var c model.Candidate
		pr := &c.Product
		if err := rows.Scan(&pr.ID, &pr.CompanyID, &pr.CategoryID, &pr.NormalizedName, &pr.DisplayName, &pr.ImageURL); err != nil {
			rows.Close()
			return nil, err
		}
		pos[pr.ID] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify(err)
	}
	rows.Close()
	if len(out) == 0 {
		return nil, nil
	}

	orows, err := t.tx.QueryContext(ctx, t.q(`
SELECT o.id, o.product_id, o.seller_site_id, o.seller_url, o.price, o.last_seen_at, o.version
FROM offer o JOIN product p ON p.id = o.product_id
WHERE p.company_id = ? AND p.category_id = ? ORDER BY o.id`), p.CompanyID, p.CategoryID)
	if err != nil {
		return nil, classify(err)
	}
	defer orows.Close()
	offers, err := scanOffers(orows)
	if err != nil {
		return nil, classify(err)
	}
	for _, o := range offers {
		if i, ok := pos[o.ProductID]; ok {
			out[i].Offers = append(out[i].Offers, o)
		}
	}
	return out, nil
}

func (t *sqlTx) InsertProduct(ctx context.Context, p *model.CanonicalProduct) error {
	err := t.tx.QueryRowContext(ctx, t.q(`
INSERT INTO product (company_id, category_id, normalized_name, display_name, image_url, created_at)
VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		p.CompanyID, p.CategoryID, p.NormalizedName, p.DisplayName, p.ImageURL, time.Now().UTC()).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert product %q: %w", p.NormalizedName, classify(err))
	}
	return nil
}

func (t *sqlTx) EnrichProduct(ctx context.Context, id int64, displayName, imageURL string) error {
	_, err := t.tx.ExecContext(ctx, t.q(`
UPDATE product SET
  display_name = CASE WHEN display_name = '' THEN ? ELSE display_name END,
  image_url    = CASE WHEN image_url = '' THEN ? ELSE image_url END
WHERE id = ?`), displayName, imageURL, id)
	if err != nil {
		return fmt.Errorf("enrich product %d: %w", id, classify(err))
	}
	return nil
}

func (t *sqlTx) InsertOffer(ctx context.Context, o *model.Offer) error {
	err := t.tx.QueryRowContext(ctx, t.q(`
INSERT INTO offer (product_id, seller_site_id, seller_url, price, last_seen_at)
VALUES (?, ?, ?, ?, ?) RETURNING id`),
		o.ProductID, o.SellerSiteID, o.SellerURL, o.CurrentPrice, o.LastSeenAt).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("insert offer %d/%d: %w", o.ProductID, o.SellerSiteID, classify(err))
	}
	return nil
}

func (t *sqlTx) UpdateOffer(ctx context.Context, o model.Offer) error {
	res, err := t.tx.ExecContext(ctx, t.q(`
UPDATE offer SET price = ?, last_seen_at = ?, version = version + 1
WHERE id = ? AND version = ?`),
		o.CurrentPrice, o.LastSeenAt, o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("update offer %d: %w", o.ID, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update offer %d: %w", o.ID, classify(err))
	}
	if n == 0 {
		// другой писатель успел обновить или удалить оффер после нашего чтения
		return fmt.Errorf("update offer %d v%d: %w", o.ID, o.Version, ErrConflict)
	}
	return nil
}

func (t *sqlTx) InsertHistory(ctx context.Context, e *model.PriceHistoryEntry) error {
	var pct sql.NullFloat64
	if e.PercentageChange != nil {
		pct = sql.NullFloat64{Float64: *e.PercentageChange, Valid: true}
	}
	err := t.tx.QueryRowContext(ctx, t.q(`
INSERT INTO price_history (offer_id, product_id, seller_site_id, old_price, new_price,
                           price_difference, percentage_change, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		e.OfferID, e.ProductID, e.SellerSiteID, e.OldPrice, e.NewPrice, e.PriceDifference, pct, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert history offer %d: %w", e.OfferID, classify(err))
	}
	return nil
}

// reviewKey: URL листинга, а без URL - его сигнатура; иначе листинги без
// ссылки с одного сайта затирали бы друг друга.
func reviewKey(it model.ReviewItem) string {
	if it.SellerURL != "" {
		return "url:" + it.SellerURL
	}
	return "sig:" + it.Signature
}

// UpsertReview: повторная неоднозначность того же листинга обновляет запись, а не плодит новую.
func (t *sqlTx) UpsertReview(ctx context.Context, it model.ReviewItem) error {
	cands, err := json.Marshal(it.Candidates)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.q(`
INSERT INTO review_queue (seller_site_id, seller_url, title, signature, company_id, category_id,
                          price, reason, candidates, last_seen_at, review_key)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (seller_site_id, review_key) DO UPDATE SET
  seller_url = excluded.seller_url,
  title = excluded.title,
  signature = excluded.signature,
  company_id = excluded.company_id,
  category_id = excluded.category_id,
  price = excluded.price,
  reason = excluded.reason,
  candidates = excluded.candidates,
  last_seen_at = excluded.last_seen_at`),
		it.SellerSiteID, it.SellerURL, it.Title, it.Signature, it.CompanyID, it.CategoryID,
		it.Price, it.Reason, string(cands), it.LastSeenAt, reviewKey(it))
	if err != nil {
		return fmt.Errorf("upsert review %q: %w", it.SellerURL, classify(err))
	}
	return nil
}
