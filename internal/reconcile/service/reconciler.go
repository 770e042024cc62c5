package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vape-recon/internal/reconcile/model"
	"vape-recon/internal/storage"
)

// Store: хранилище, с которым работает Reconciler.
type Store interface {
	TxBeginner
	CompanyNames(ctx context.Context) ([]string, error)
}

// Observer получает исходы сверки (метрики). Может быть nil.
type Observer interface {
	ObserveDecision(site string, st model.State, method string)
	ObserveHistory(site string)
	ObserveFailure(site, outcome string)
	ObserveCommit(attempts int, elapsed time.Duration, err error)
}

type Option func(*Reconciler)

// WithClock подменяет время наблюдения для листингов без ObservedAt.
func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

func WithObserver(o Observer) Option { return func(r *Reconciler) { r.obs = o } }

// Reconciler: вход в конвейер: нормализация → скоринг → резолвер → история цен → фиксация.
type Reconciler struct {
	store          Store
	norm           *Normalizer
	resolver       Resolver
	committer      *Committer
	opt            model.Options
	defaultCompany string
	locks          *partitionLocks
	log            zerolog.Logger
	now            func() time.Time
	obs            Observer
}

func NewReconciler(store Store, norm *Normalizer, opt model.Options, defaultCompany string, log zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:          store,
		norm:           norm,
		resolver:       NewResolver(opt),
		committer:      NewCommitter(store, opt.RetryLimit, opt.RetryBackoff, opt.RetryBackoffMax, opt.TxTimeout, opt.CommitRPS, log),
		opt:            opt,
		defaultCompany: defaultCompany,
		locks:          newPartitionLocks(),
		log:            log,
		now:            time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// item: подготовленный листинг.
type item struct {
	seq       int
	listing   model.RawListing
	signature string
	company   string
	partition model.Partition
}

// ReconcileBatch сверяет один прогон краулера сайта. Пакет всегда доходит до
// конца: плохие листинги и сбои фиксации попадают в отчёт, а не прерывают работу.
func (r *Reconciler) ReconcileBatch(ctx context.Context, site string, categorized map[string][]model.RawListing) model.Report {
	runID := uuid.NewString()
	acc := model.NewReportAccumulator(runID, site)
	log := r.log.With().Str("run", runID).Str("site", site).Logger()
	start := r.now()

	items := r.collect(categorized, site, start, acc)
	if len(items) == 0 {
		log.Info().Msg("batch empty")
		return acc.Report()
	}

	// нормализация чистая - параллелим без общего состояния
	if err := r.normalizeAll(ctx, items); err != nil {
		r.failAll(items, site, err, acc)
		return acc.Report()
	}

	siteID, err := r.prepare(ctx, site, items)
	if err != nil {
		log.Error().Err(err).Msg("batch dictionaries")
		r.failAll(items, site, err, acc)
		return acc.Report()
	}

	// запись в один раздел - строго последовательно; разделы - параллельно
	groups := make(map[model.Partition][]*item)
	var keys []model.Partition
	for _, it := range items {
		if _, ok := groups[it.partition]; !ok {
			keys = append(keys, it.partition)
		}
		groups[it.partition] = append(groups[it.partition], it)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CompanyID != keys[j].CompanyID {
			return keys[i].CompanyID < keys[j].CompanyID
		}
		return keys[i].CategoryID < keys[j].CategoryID
	})

	g := new(errgroup.Group)
	g.SetLimit(max(r.opt.Workers, 1))
	for _, k := range keys {
		part := groups[k]
		g.Go(func() error {
			unlock := r.locks.lock(k)
			defer unlock()
			for _, it := range part {
				if ctx.Err() != nil {
					r.issue(acc, site, it.listing, "failed", ctx.Err().Error())
					continue
				}
				r.reconcileOne(ctx, log, site, siteID, it, acc)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := acc.Report()
	log.Info().
		Int("matched", rep.Matched).
		Int("created", rep.Created).
		Int("ambiguous", rep.Ambiguous).
		Int("failed", rep.Failed).
		Int("invalid", rep.Invalid).
		Int("history", rep.HistoryEntriesWritten).
		Dur("elapsed", r.now().Sub(start)).
		Msg("batch reconciled")
	return rep
}

// collect раскладывает листинги в детерминированном порядке и отсеивает битые.
func (r *Reconciler) collect(categorized map[string][]model.RawListing, site string, at time.Time, acc *model.ReportAccumulator) []*item {
	cats := make([]string, 0, len(categorized))
	for c := range categorized {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var out []*item
	for _, cat := range cats {
		for _, l := range categorized[cat] {
			l.Category = strings.TrimSpace(cat)
			l.SourceSite = site
			l.Title = strings.TrimSpace(l.Title)
			l.URL = strings.TrimSpace(l.URL)
			if l.ObservedAt.IsZero() {
				l.ObservedAt = at
			}
			l.ObservedAt = l.ObservedAt.UTC().Truncate(time.Microsecond)

			if err := validate(l); err != nil {
				r.issue(acc, site, l, "invalid", err.Error())
				continue
			}
			out = append(out, &item{seq: len(out), listing: l})
		}
	}
	return out
}

func validate(l model.RawListing) error {
	switch {
	case l.Title == "":
		return fmt.Errorf("%w: missing title", model.ErrMalformedListing)
	case l.Price <= 0:
		return fmt.Errorf("%w: missing price", model.ErrMalformedListing)
	case l.Category == "":
		return fmt.Errorf("%w: missing category", model.ErrMalformedListing)
	}
	return nil
}

func (r *Reconciler) normalizeAll(ctx context.Context, items []*item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.opt.Workers, 1))
	for _, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			it.signature = r.norm.Normalize(it.listing.Title)
			return nil
		})
	}
	return g.Wait()
}

// prepare находит/создаёт справочники и назначает разделы.
func (r *Reconciler) prepare(ctx context.Context, site string, items []*item) (int64, error) {
	known, err := r.store.CompanyNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("company names: %w", err)
	}
	parts := NewPartitioner(r.norm, append(append([]string(nil), r.norm.Policy().Brands...), known...), r.defaultCompany)
	for _, it := range items {
		it.company = parts.Company(it.signature)
	}

	var siteID int64
	companies := make(map[string]int64)
	categories := make(map[string]int64)
	_, err = r.committer.Commit(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if siteID, err = tx.EnsureSellerSite(ctx, site); err != nil {
			return err
		}
		for _, it := range items {
			if _, ok := companies[it.company]; !ok {
				if companies[it.company], err = tx.EnsureCompany(ctx, it.company); err != nil {
					return err
				}
			}
			if _, ok := categories[it.listing.Category]; !ok {
				if categories[it.listing.Category], err = tx.EnsureCategory(ctx, it.listing.Category); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		it.partition = model.Partition{CompanyID: companies[it.company], CategoryID: categories[it.listing.Category]}
	}
	return siteID, nil
}

// reconcileOne: одна транзакция на листинг; при повторе решение принимается заново
// по свежему снимку раздела.
func (r *Reconciler) reconcileOne(ctx context.Context, log zerolog.Logger, site string, siteID int64, it *item, acc *model.ReportAccumulator) {
	var (
		dec    model.Decision
		change PriceChange
	)
	started := time.Now()
	attempts, err := r.committer.Commit(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		dec, change = model.Decision{}, PriceChange{}
		// partitionLocks держит раздел внутри процесса, LockPartition - между процессами
		if err = tx.LockPartition(ctx, it.partition); err != nil {
			return err
		}
		if dec, err = r.decide(ctx, tx, siteID, it); err != nil {
			return err
		}
		change, err = r.apply(ctx, tx, siteID, it, &dec)
		return err
	})
	if r.obs != nil {
		r.obs.ObserveCommit(attempts, time.Since(started), err)
	}

	l := it.listing
	if err != nil {
		log.Error().Err(err).
			Str("title", l.Title).
			Str("url", l.URL).
			Int("attempts", attempts).
			Msg("listing failed")
		r.issue(acc, site, l, "failed", err.Error())
		return
	}

	wrote := change.Entry != nil
	acc.Decided(dec.State, wrote)
	if r.obs != nil {
		r.obs.ObserveDecision(site, dec.State, dec.Method)
		if wrote {
			r.obs.ObserveHistory(site)
		}
	}

	switch dec.State {
	case model.StateAmbiguous:
		ids := make([]int64, 0, len(dec.Candidates))
		for _, c := range dec.Candidates {
			ids = append(ids, c.ProductID)
		}
		log.Warn().
			Str("title", l.Title).
			Str("signature", it.signature).
			Str("reason", dec.Reason).
			Ints64("candidates", ids).
			Msg("listing ambiguous")
		acc.Issue(model.Issue{Title: l.Title, URL: l.URL, Category: l.Category, Outcome: "ambiguous", Reason: dec.Reason})
	default:
		ev := log.Debug().
			Str("title", l.Title).
			Str("state", string(dec.State)).
			Str("method", dec.Method).
			Int64("product", dec.ProductID).
			Float64("score", dec.Score)
		if wrote {
			ev = ev.Int64("old", change.Entry.OldPrice).Int64("new", change.Entry.NewPrice)
		}
		ev.Msg("listing reconciled")
	}
}

func (r *Reconciler) decide(ctx context.Context, tx storage.Tx, siteID int64, it *item) (model.Decision, error) {
	if it.listing.URL != "" {
		known, err := tx.OfferByURL(ctx, siteID, it.listing.URL)
		switch {
		case err == nil:
			return r.resolver.Known(known.ProductID), nil
		case !errors.Is(err, storage.ErrNotFound):
			return model.Decision{}, err
		}
	}
	cands, err := tx.Candidates(ctx, it.partition)
	if err != nil {
		return model.Decision{}, err
	}
	attrs := model.Attrs{
		Signature:  it.signature,
		CategoryID: it.partition.CategoryID,
		Price:      int64(it.listing.Price),
		Sellers:    []int64{siteID},
	}
	return r.resolver.Resolve(attrs, cands), nil
}

// apply пишет решение: товар, оффер, история. Для AMBIGUOUS - только очередь проверки.
func (r *Reconciler) apply(ctx context.Context, tx storage.Tx, siteID int64, it *item, dec *model.Decision) (PriceChange, error) {
	l := it.listing
	switch dec.State {
	case model.StateAmbiguous:
		return PriceChange{}, tx.UpsertReview(ctx, model.ReviewItem{
			SellerSiteID: siteID,
			SellerURL:    l.URL,
			Title:        l.Title,
			Signature:    it.signature,
			CompanyID:    it.partition.CompanyID,
			CategoryID:   it.partition.CategoryID,
			Price:        int64(l.Price),
			Reason:       dec.Reason,
			Candidates:   dec.Candidates,
			LastSeenAt:   l.ObservedAt,
		})
	case model.StateCreated:
		p := &model.CanonicalProduct{
			CompanyID:      it.partition.CompanyID,
			CategoryID:     it.partition.CategoryID,
			NormalizedName: it.signature,
			DisplayName:    l.Title,
			ImageURL:       l.ImageURL,
		}
		// конфликт уникальности здесь = кто-то успел создать тот же товар;
		// повтор транзакции найдёт его точным совпадением
		if err := tx.InsertProduct(ctx, p); err != nil {
			return PriceChange{}, err
		}
		dec.ProductID = p.ID
	case model.StateMatched:
		if err := tx.EnrichProduct(ctx, dec.ProductID, l.Title, l.ImageURL); err != nil {
			return PriceChange{}, err
		}
	default:
		return PriceChange{}, fmt.Errorf("unexpected state %s", dec.State)
	}

	prior, err := tx.Offer(ctx, dec.ProductID, siteID, l.URL)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return PriceChange{}, err
	}
	if err != nil {
		prior = nil
	}
	change := TrackPrice(prior, Observation{
		ProductID:    dec.ProductID,
		SellerSiteID: siteID,
		SellerURL:    l.URL,
		Price:        int64(l.Price),
		ObservedAt:   l.ObservedAt,
	})
	switch {
	case change.Stale:
		return change, nil
	case change.Created:
		// параллельная вставка того же оффера даст ErrConflict → повтор как обновление
		if err := tx.InsertOffer(ctx, &change.Offer); err != nil {
			return PriceChange{}, err
		}
	default:
		// ErrConflict: оффер изменили после чтения, Committer повторит всё заново
		if err := tx.UpdateOffer(ctx, change.Offer); err != nil {
			return PriceChange{}, err
		}
	}
	if change.Entry != nil {
		if err := tx.InsertHistory(ctx, change.Entry); err != nil {
			return PriceChange{}, err
		}
	}
	return change, nil
}

func (r *Reconciler) issue(acc *model.ReportAccumulator, site string, l model.RawListing, outcome, reason string) {
	acc.Issue(model.Issue{Title: l.Title, URL: l.URL, Category: l.Category, Outcome: outcome, Reason: reason})
	if r.obs != nil {
		r.obs.ObserveFailure(site, outcome)
	}
}

func (r *Reconciler) failAll(items []*item, site string, err error, acc *model.ReportAccumulator) {
	for _, it := range items {
		r.issue(acc, site, it.listing, "failed", err.Error())
	}
}
