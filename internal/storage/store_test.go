package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vape-recon/internal/reconcile/model"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Options{Driver: DriverSQLite3, DSN: ":memory:"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func inTx(t *testing.T, s *SQLStore, fn func(tx Tx) error) error {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestRebind(t *testing.T) {
	got := rebind(dialects[DriverPgx], `SELECT a FROM t WHERE x = ? AND y = ?`)
	if got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("rebind pg: %s", got)
	}
	q := `SELECT 1 WHERE a = ?`
	if rebind(dialects[DriverSQLite3], q) != q {
		t.Fatal("sqlite query must stay untouched")
	}
}

func TestEnsureDictionaryIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	var first, second int64
	_ = inTx(t, s, func(tx Tx) (err error) {
		first, err = tx.EnsureCompany(context.Background(), "키슈")
		return err
	})
	_ = inTx(t, s, func(tx Tx) (err error) {
		second, err = tx.EnsureCompany(context.Background(), "키슈")
		return err
	})
	if first == 0 || first != second {
		t.Fatalf("ids differ: %d vs %d", first, second)
	}
	names, err := s.CompanyNames(context.Background())
	if err != nil || len(names) != 1 || names[0] != "키슈" {
		t.Fatalf("names = %v, %v", names, err)
	}
}

func TestDuplicateProductIsConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var part model.Partition
	err := inTx(t, s, func(tx Tx) error {
		var err error
		if part.CompanyID, err = tx.EnsureCompany(ctx, "키슈"); err != nil {
			return err
		}
		if part.CategoryID, err = tx.EnsureCategory(ctx, "입호흡"); err != nil {
			return err
		}
		return tx.InsertProduct(ctx, &model.CanonicalProduct{CompanyID: part.CompanyID, CategoryID: part.CategoryID, NormalizedName: "키슈플럼레거시"})
	})
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err = inTx(t, s, func(tx Tx) error {
		return tx.InsertProduct(ctx, &model.CanonicalProduct{CompanyID: part.CompanyID, CategoryID: part.CategoryID, NormalizedName: "키슈플럼레거시"})
	})
	if !errors.Is(err, ErrConflict) || !Retryable(err) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestOfferHistoryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var productID int64
	err := inTx(t, s, func(tx Tx) error {
		co, _ := tx.EnsureCompany(ctx, "키슈")
		ca, _ := tx.EnsureCategory(ctx, "입호흡")
		site, _ := tx.EnsureSellerSite(ctx, "액상24")
		p := &model.CanonicalProduct{CompanyID: co, CategoryID: ca, NormalizedName: "키슈플럼레거시"}
		if err := tx.InsertProduct(ctx, p); err != nil {
			return err
		}
		productID = p.ID
		o := &model.Offer{ProductID: p.ID, SellerSiteID: site, SellerURL: "https://a/1", CurrentPrice: 19500, LastSeenAt: at}
		if err := tx.InsertOffer(ctx, o); err != nil {
			return err
		}
		pct := 0.076923
		return tx.InsertHistory(ctx, &model.PriceHistoryEntry{
			OfferID: o.ID, ProductID: p.ID, SellerSiteID: site,
			OldPrice: 19500, NewPrice: 21000, PriceDifference: 1500, PercentageChange: &pct, CreatedAt: at,
		})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	hist, err := s.PriceHistory(ctx, productID)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}
	if hist[0].PercentageChange == nil || hist[0].NewPrice != 21000 {
		t.Fatalf("bad entry: %+v", hist[0])
	}
	if !hist[0].CreatedAt.Equal(at) {
		t.Fatalf("created_at = %v, want %v", hist[0].CreatedAt, at)
	}

	_ = inTx(t, s, func(tx Tx) error {
		cands, err := tx.Candidates(ctx, model.Partition{CompanyID: 1, CategoryID: 1})
		if err != nil {
			t.Fatalf("candidates: %v", err)
		}
		if len(cands) != 1 || len(cands[0].Offers) != 1 || cands[0].Attrs().Price != 19500 {
			t.Fatalf("candidates = %+v", cands)
		}
		if _, err := tx.OfferByURL(ctx, 1, "https://a/unknown"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("want ErrNotFound, got %v", err)
		}
		return nil
	})
}

func TestUpsertReviewKeepsOneRowPerURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := inTx(t, s, func(tx Tx) error {
			site, _ := tx.EnsureSellerSite(ctx, "액상24")
			return tx.UpsertReview(ctx, model.ReviewItem{
				SellerSiteID: site, SellerURL: "https://a/9", Title: "t", Signature: "sig",
				Reason: "tie-break band", Candidates: []model.ScoredCandidate{{ProductID: 1, Score: 0.9}},
				LastSeenAt: time.Now().UTC(),
			})
		})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	c, err := s.Counts(ctx)
	if err != nil || c.Reviews != 1 {
		t.Fatalf("counts = %+v, %v", c, err)
	}
	items, err := s.Reviews(ctx, 10)
	if err != nil || len(items) != 1 || len(items[0].Candidates) != 1 {
		t.Fatalf("reviews = %+v, %v", items, err)
	}
}

func TestUpdateOfferRejectsStaleRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	err := inTx(t, s, func(tx Tx) error {
		co, _ := tx.EnsureCompany(ctx, "키슈")
		ca, _ := tx.EnsureCategory(ctx, "입호흡")
		site, _ := tx.EnsureSellerSite(ctx, "액상24")
		p := &model.CanonicalProduct{CompanyID: co, CategoryID: ca, NormalizedName: "키슈플럼레거시"}
		if err := tx.InsertProduct(ctx, p); err != nil {
			return err
		}
		return tx.InsertOffer(ctx, &model.Offer{ProductID: p.ID, SellerSiteID: site, SellerURL: "https://a/1", CurrentPrice: 19500, LastSeenAt: at})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// оба писателя прочитали оффер в версии 0
	var seen *model.Offer
	_ = inTx(t, s, func(tx Tx) (err error) {
		seen, err = tx.OfferByURL(ctx, 1, "https://a/1")
		return err
	})
	if seen.Version != 0 {
		t.Fatalf("fresh offer version = %d", seen.Version)
	}
	next := *seen
	next.CurrentPrice, next.LastSeenAt = 21000, at.Add(time.Hour)

	if err := inTx(t, s, func(tx Tx) error { return tx.UpdateOffer(ctx, next) }); err != nil {
		t.Fatalf("first writer: %v", err)
	}
	err = inTx(t, s, func(tx Tx) error { return tx.UpdateOffer(ctx, next) })
	if !errors.Is(err, ErrConflict) || !Retryable(err) {
		t.Fatalf("second writer with stale version: want ErrConflict, got %v", err)
	}

	_ = inTx(t, s, func(tx Tx) error {
		o, err := tx.OfferByURL(ctx, 1, "https://a/1")
		if err != nil {
			t.Fatalf("reread: %v", err)
		}
		if o.Version != 1 || o.CurrentPrice != 21000 {
			t.Fatalf("offer after one update: %+v", o)
		}
		return nil
	})
}

func TestUpsertReviewWithoutURLKeysBySignature(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, sig := range []string{"키슈레몬소다", "키슈라임소다", "키슈레몬소다"} {
		err := inTx(t, s, func(tx Tx) error {
			site, _ := tx.EnsureSellerSite(ctx, "액상24")
			return tx.UpsertReview(ctx, model.ReviewItem{
				SellerSiteID: site, Title: sig, Signature: sig, Reason: "tie-break band",
				LastSeenAt: time.Now().UTC(),
			})
		})
		if err != nil {
			t.Fatalf("upsert %s: %v", sig, err)
		}
	}
	c, err := s.Counts(ctx)
	if err != nil || c.Reviews != 2 {
		t.Fatalf("listings without url must not overwrite each other: %+v, %v", c, err)
	}
}

func TestPartitionLockKey(t *testing.T) {
	a := partitionLockKey(model.Partition{CompanyID: 1, CategoryID: 2})
	b := partitionLockKey(model.Partition{CompanyID: 2, CategoryID: 1})
	if a == b || a != 1<<32|2 {
		t.Fatalf("keys %d, %d", a, b)
	}
	// sqlite пускает одного писателя, блокировка там не нужна
	s := openTestStore(t)
	if err := inTx(t, s, func(tx Tx) error {
		return tx.LockPartition(context.Background(), model.Partition{CompanyID: 1, CategoryID: 1})
	}); err != nil {
		t.Fatalf("lock on sqlite: %v", err)
	}
}
