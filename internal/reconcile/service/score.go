package service

import (
	"slices"
	"sort"
	"strings"

	"vape-recon/internal/reconcile/model"
)

// similarity: нормированная схожесть Дамерау-Левенштейна в [0..1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	d := damerauLevenshtein(a, b)
	m := max(len([]rune(a)), len([]rune(b)))
	return 1 - float64(d)/float64(m)
}

// tokenSort: сортируем токены по алфавиту (устойчиво к порядку слов)
func tokenSort(s string) string {
	t := strings.Fields(s)
	sort.Strings(t)
	return strings.Join(t, " ")
}

func bestSimilarity(a, b string) float64 {
	return max(similarity(a, b), similarity(tokenSort(a), tokenSort(b)))
}

// Scorer считает уверенность совпадения листинга и товара каталога.
// Score симметричен: Score(a, b) == Score(b, a).
type Scorer struct {
	opt model.Options
}

func NewScorer(opt model.Options) Scorer { return Scorer{opt: opt} }

func (s Scorer) Score(a, b model.Attrs) float64 {
	if a.Signature == UnmatchableSignature || b.Signature == UnmatchableSignature {
		return 0
	}
	if len([]rune(a.Signature)) < s.opt.MinSignatureLen || len([]rune(b.Signature)) < s.opt.MinSignatureLen {
		return 0
	}

	score := bestSimilarity(a.Signature, b.Signature)
	if a.CategoryID != 0 && a.CategoryID == b.CategoryID {
		score += s.opt.CategoryBonus
	}
	if priceDiverges(a.Price, b.Price, s.opt.PriceToleranceRatio) {
		score -= s.opt.PricePenalty
	}
	if sharesSeller(a.Sellers, b.Sellers) {
		score -= s.opt.SellerPenalty
	}
	return min(max(score, 0), 1)
}

// priceDiverges: относительная разница больше допуска. Неизвестная цена (0) не штрафуется.
func priceDiverges(a, b int64, tolerance float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(max(a, b)) > tolerance
}

func sharesSeller(a, b []int64) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
