package fileio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vape-recon/internal/reconcile/model"
	"vape-recon/internal/utils"
)

// ReadListings читает выгрузку краулера и группирует листинги по категории.
//
// JSON: {"<категория>": [{"title", "detail_comment", "price", "url", "image_url"}]}
// или плоский массив листингов с полем category.
// CSV/XLSX/XLS: строка заголовков + строки; категория - колонкой category,
// а без неё - именем листа книги.
func ReadListings(r io.Reader, filename, site string) (map[string][]model.RawListing, error) {
	var (
		out map[string][]model.RawListing
		err error
	)
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		out, err = readJSON(r)
	} else {
		var tables []table
		if tables, err = readTables(r, filename); err == nil {
			out = make(map[string][]model.RawListing)
			for _, t := range tables {
				toListings(t, out)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	for cat, ls := range out {
		for i := range ls {
			ls[i].SourceSite = site
			ls[i].Category = cat
		}
	}
	return out, nil
}

func readJSON(r io.Reader) (map[string][]model.RawListing, error) {
	br := bufio.NewReader(r)
	if bom, _ := br.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string][]model.RawListing{}, nil
	}

	if trimmed[0] == '[' {
		var flat []model.RawListing
		if err := json.Unmarshal(trimmed, &flat); err != nil {
			return nil, fmt.Errorf("json listings: %w", err)
		}
		out := make(map[string][]model.RawListing)
		for _, l := range flat {
			cat := strings.TrimSpace(l.Category)
			out[cat] = append(out[cat], l)
		}
		return out, nil
	}

	var grouped map[string][]model.RawListing
	if err := json.Unmarshal(trimmed, &grouped); err != nil {
		return nil, fmt.Errorf("json listings: %w", err)
	}
	out := make(map[string][]model.RawListing, len(grouped))
	for cat, ls := range grouped {
		cat = strings.TrimSpace(cat)
		out[cat] = append(out[cat], ls...)
	}
	return out, nil
}

func toListings(t table, out map[string][]model.RawListing) {
	if len(t.recs) == 0 {
		return
	}
	headers := make([]string, 0, len(t.recs[0]))
	for h := range t.recs[0] {
		headers = append(headers, h)
	}
	sort.Strings(headers)
	keys := resolveKeys(headers)
	get := func(rec map[string]string, c column) string {
		if k, ok := keys[c]; ok {
			return strings.TrimSpace(rec[k])
		}
		return ""
	}

	for _, rec := range t.recs {
		// повторная шапка посреди файла (склейка выгрузок)
		if title := get(rec, colTitle); title != "" && columnOf(title) == colTitle {
			continue
		}
		price, _ := utils.ParsePriceKRW(get(rec, colPrice))
		cat := get(rec, colCategory)
		if cat == "" {
			cat = t.sheet
		}
		out[cat] = append(out[cat], model.RawListing{
			Title:       get(rec, colTitle),
			Description: get(rec, colDescription),
			Price:       model.Price(price),
			URL:         get(rec, colURL),
			ImageURL:    get(rec, colImage),
			ObservedAt:  parseTime(get(rec, colObservedAt)),
		})
	}
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
