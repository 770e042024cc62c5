package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vape-recon/internal/reconcile/model"
	"vape-recon/internal/storage"
)

type fakeBatcher struct {
	site     string
	listings map[string][]model.RawListing
}

func (f *fakeBatcher) ReconcileBatch(_ context.Context, site string, ls map[string][]model.RawListing) model.Report {
	f.site, f.listings = site, ls
	n := 0
	for _, l := range ls {
		n += len(l)
	}
	return model.Report{RunID: "run-1", Site: site, Created: n, Issues: []model.Issue{}}
}

type fakeCatalog struct {
	err error
}

func (f fakeCatalog) Product(_ context.Context, id int64) (*model.CanonicalProduct, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.CanonicalProduct{ID: id, NormalizedName: "키슈플럼레거시"}, nil
}

func (f fakeCatalog) Offers(context.Context, int64) ([]model.Offer, error) {
	return []model.Offer{{ID: 1, ProductID: 7, CurrentPrice: 21000}}, nil
}

func (f fakeCatalog) PriceHistory(context.Context, int64) ([]model.PriceHistoryEntry, error) {
	return nil, nil
}

func (f fakeCatalog) Reviews(_ context.Context, limit int) ([]model.ReviewItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []model.ReviewItem{{ID: 1, Title: fmt.Sprintf("limit=%d", limit)}}, nil
}

func multipartBody(t *testing.T, site, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if site != "" {
		_ = mw.WriteField("site", site)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestReconcileMultipart(t *testing.T) {
	b := &fakeBatcher{}
	body, ct := multipartBody(t, "shop-a", "dump.json", `{"액상":[{"title":"키슈 플럼 레거시","price":19500,"url":"u1"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/reconcile", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	Reconcile(b, 16, zerolog.Nop())(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var rep model.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Site != "shop-a" || rep.Created != 1 || b.listings["액상"][0].Price != 19500 {
		t.Fatalf("report %+v, listings %+v", rep, b.listings)
	}
}

func TestReconcileJSONBody(t *testing.T) {
	b := &fakeBatcher{}
	req := httptest.NewRequest(http.MethodPost, "/reconcile?site=shop-b", strings.NewReader(`[{"title":"a","price":1000,"category":"액상"}]`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	Reconcile(b, 16, zerolog.Nop())(w, req)
	if w.Code != http.StatusOK || b.site != "shop-b" || len(b.listings["액상"]) != 1 {
		t.Fatalf("status %d site %q listings %+v", w.Code, b.site, b.listings)
	}
}

func TestReconcileBadRequests(t *testing.T) {
	cases := map[string]func() *http.Request{
		"no site": func() *http.Request {
			body, ct := multipartBody(t, "", "dump.json", `{}`)
			r := httptest.NewRequest(http.MethodPost, "/reconcile", body)
			r.Header.Set("Content-Type", ct)
			return r
		},
		"no file": func() *http.Request {
			body, ct := multipartBody(t, "shop-a", "", "")
			r := httptest.NewRequest(http.MethodPost, "/reconcile", body)
			r.Header.Set("Content-Type", ct)
			return r
		},
		"unsupported file": func() *http.Request {
			body, ct := multipartBody(t, "shop-a", "dump.txt", "x")
			r := httptest.NewRequest(http.MethodPost, "/reconcile", body)
			r.Header.Set("Content-Type", ct)
			return r
		},
		"broken json": func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/reconcile?site=s", strings.NewReader(`{`))
			r.Header.Set("Content-Type", "application/json")
			return r
		},
	}
	for name, mk := range cases {
		b := &fakeBatcher{}
		w := httptest.NewRecorder()
		Reconcile(b, 16, zerolog.Nop())(w, mk())
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", name, w.Code)
		}
		if b.site != "" {
			t.Errorf("%s: batch must not run", name)
		}
	}
}

func newCatalogRouter(c Catalog) http.Handler {
	r := chi.NewRouter()
	r.Get("/products/{id}/history", History(c, zerolog.Nop()))
	r.Get("/reviews", Reviews(c, zerolog.Nop()))
	return r
}

func TestHistory(t *testing.T) {
	h := newCatalogRouter(fakeCatalog{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products/7/history", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp historyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Product.ID != 7 || len(resp.Offers) != 1 || resp.History == nil {
		t.Fatalf("resp %+v", resp)
	}
	if !strings.Contains(w.Body.String(), `"history": []`) {
		t.Fatalf("empty history must be []: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products/abc/history", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
}

func TestStoreErrorsMapToStatus(t *testing.T) {
	cases := map[error]int{
		storage.ErrNotFound:        http.StatusNotFound,
		storage.ErrUnavailable:     http.StatusServiceUnavailable,
		fmt.Errorf("disk on fire"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		w := httptest.NewRecorder()
		newCatalogRouter(fakeCatalog{err: err}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/products/1/history", nil))
		if w.Code != want {
			t.Errorf("%v: status %d, want %d", err, w.Code, want)
		}
	}
}

func TestReviewsLimit(t *testing.T) {
	w := httptest.NewRecorder()
	newCatalogRouter(fakeCatalog{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reviews?limit=5", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "limit=5") {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
}
