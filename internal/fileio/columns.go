package fileio

import (
	"regexp"
	"sort"
	"strings"
)

type column int

const (
	colUnknown column = iota
	colTitle
	colPrice
	colURL
	colImage
	colDescription
	colCategory
	colObservedAt
)

// варианты заголовков, встречающиеся в выгрузках краулеров и магазинов
var columnAliases = map[column][]string{
	colTitle:       {"title", "name", "product name", "상품명", "제품명", "상품", "이름"},
	colPrice:       {"price", "가격", "판매가", "판매가격", "할인가"},
	colURL:         {"url", "link", "상품 url", "링크", "주소"},
	colImage:       {"image url", "image", "img", "이미지", "이미지 url", "썸네일"},
	colDescription: {"detail comment", "description", "설명", "상세설명"},
	colCategory:    {"category", "카테고리", "분류"},
	colObservedAt:  {"observed at", "crawled at", "수집일", "수집시간"},
}

var aliasIndex = func() map[string]column {
	m := make(map[string]column)
	for c, names := range columnAliases {
		for _, n := range names {
			m[normHeaderKey(n)] = c
		}
	}
	return m
}()

var reHeaderJunk = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// нормализуем имя колонки: нижний регистр, служебные символы → пробел
func normHeaderKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("\u00A0", " ", "\u202F", " ", "\uFEFF", "").Replace(s)
	s = reHeaderJunk.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func columnOf(header string) column {
	return aliasIndex[normHeaderKey(header)]
}

// resolveKeys сопоставляет заголовки записи известным колонкам.
// Сначала точные совпадения, затем частичные (заголовок содержит алиас):
// самый длинный алиас забирает заголовок первым.
func resolveKeys(headers []string) map[column]string {
	out := make(map[column]string)
	taken := make(map[string]bool)
	for _, h := range headers {
		if c := columnOf(h); c != colUnknown {
			if _, ok := out[c]; !ok {
				out[c] = h
				taken[h] = true
			}
		}
	}

	type hit struct {
		col    column
		header string
		n      int
	}
	var hits []hit
	for c := colTitle; c <= colObservedAt; c++ {
		if _, ok := out[c]; ok {
			continue
		}
		for _, h := range headers {
			if taken[h] {
				continue
			}
			nh := normHeaderKey(h)
			best := 0
			for _, a := range columnAliases[c] {
				if a = normHeaderKey(a); strings.Contains(nh, a) {
					best = max(best, len(a))
				}
			}
			if best > 0 {
				hits = append(hits, hit{col: c, header: h, n: best})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].n > hits[j].n })
	for _, h := range hits {
		if _, ok := out[h.col]; ok || taken[h.header] {
			continue
		}
		out[h.col] = h.header
		taken[h.header] = true
	}
	return out
}
