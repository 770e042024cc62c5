package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vape-recon/internal/fileio"
	"vape-recon/internal/middleware"
	"vape-recon/internal/reconcile/model"
	"vape-recon/internal/storage"
)

// Batcher: сверка одного прогона краулера (service.Reconciler).
type Batcher interface {
	ReconcileBatch(ctx context.Context, site string, listings map[string][]model.RawListing) model.Report
}

// Catalog: чтение каталога для API (storage.SQLStore).
type Catalog interface {
	Product(ctx context.Context, id int64) (*model.CanonicalProduct, error)
	Offers(ctx context.Context, productID int64) ([]model.Offer, error)
	PriceHistory(ctx context.Context, productID int64) ([]model.PriceHistoryEntry, error)
	Reviews(ctx context.Context, limit int) ([]model.ReviewItem, error)
}

// Reconcile принимает выгрузку краулера: multipart (site + file) или JSON-тело с ?site=.
// Отчёт возвращается целиком даже при частичных сбоях.
func Reconcile(b Batcher, maxUploadMB int, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := logger.With().Str("rid", middleware.GetRequestID(r)).Logger()
		defer r.Body.Close()

		site, listings, err := readUpload(r, int64(maxUploadMB)<<20)
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, err.Error())
			return
		}

		n := 0
		for _, ls := range listings {
			n += len(ls)
		}
		log.Info().Str("site", site).Int("listings", n).Msg("reconcile start")

		// обрыв соединения не должен оставлять пакет наполовину применённым
		rep := b.ReconcileBatch(context.WithoutCancel(r.Context()), site, listings)

		writeJSON(w, http.StatusOK, rep)
		log.Info().
			Str("site", site).
			Str("run", rep.RunID).
			Int("listings", n).
			Dur("elapsed", time.Since(start)).
			Msg("reconcile done")
	}
}

func readUpload(r *http.Request, maxBytes int64) (string, map[string][]model.RawListing, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		site := strings.TrimSpace(r.URL.Query().Get("site"))
		if site == "" {
			return "", nil, errors.New("missing site")
		}
		listings, err := fileio.ReadListings(r.Body, "body.json", site)
		if err != nil {
			return "", nil, err
		}
		return site, listings, nil
	}

	if err := r.ParseMultipartForm(min(maxBytes, 32<<20)); err != nil {
		return "", nil, unwrapMaxBytes(err, "bad multipart form")
	}
	site := strings.TrimSpace(r.FormValue("site"))
	if site == "" {
		return "", nil, errors.New("missing site")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.New("missing file: " + err.Error())
	}
	defer file.Close()

	listings, err := fileio.ReadListings(file, header.Filename, site)
	if err != nil {
		return "", nil, unwrapMaxBytes(err, "failed to read "+header.Filename)
	}
	return site, listings, nil
}

// unwrapMaxBytes сохраняет *http.MaxBytesError для выбора статуса.
func unwrapMaxBytes(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return tooLarge
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.New(msg + ": truncated body")
	}
	return errors.New(msg + ": " + err.Error())
}

type historyResponse struct {
	Product *model.CanonicalProduct   `json:"product"`
	Offers  []model.Offer             `json:"offers"`
	History []model.PriceHistoryEntry `json:"history"`
}

// History: товар, его офферы и полная история цен.
func History(c Catalog, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "bad product id")
			return
		}
		ctx := r.Context()
		p, err := c.Product(ctx, id)
		if err != nil {
			storeError(w, logger, r, err)
			return
		}
		offers, err := c.Offers(ctx, id)
		if err != nil {
			storeError(w, logger, r, err)
			return
		}
		hist, err := c.PriceHistory(ctx, id)
		if err != nil {
			storeError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, historyResponse{
			Product: p,
			Offers:  nonNil(offers),
			History: nonNil(hist),
		})
	}
}

// Reviews: очередь ручной проверки (?limit=N).
func Reviews(c Catalog, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := c.Reviews(r.Context(), atoi(r.URL.Query().Get("limit"), 200))
		if err != nil {
			storeError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
	}
}

func storeError(w http.ResponseWriter, logger zerolog.Logger, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrUnavailable):
		logger.Warn().Err(err).Str("rid", middleware.GetRequestID(r)).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		logger.Error().Err(err).Str("rid", middleware.GetRequestID(r)).Msg("store error")
		writeError(w, http.StatusInternalServerError, "internal")
	}
}
