package service

import (
	"sort"

	"vape-recon/internal/reconcile/model"
)

const (
	MethodURL   = "url"
	MethodExact = "exact"
	MethodFuzzy = "fuzzy"

	ReasonUnmatchable = "unmatchable"
	ReasonTieBreak    = "tie-break band"
	ReasonBelow       = "below threshold"
	ReasonNoCandidate = "no candidates"
)

// сравнение float с запасом на ошибку округления
const scoreEps = 1e-9

// сколько лучших кандидатов попадает в решение
const keepCandidates = 3

// Resolver решает судьбу листинга: MATCHED | CREATED | AMBIGUOUS.
// При одинаковом снимке каталога и листинге решение всегда одно и то же.
type Resolver struct {
	scorer Scorer
	opt    model.Options
}

func NewResolver(opt model.Options) Resolver {
	return Resolver{scorer: NewScorer(opt), opt: opt}
}

// Resolve: точное совпадение сигнатуры, затем нечёткий скоринг по всем кандидатам раздела.
func (r Resolver) Resolve(listing model.Attrs, cands []model.Candidate) model.Decision {
	if listing.Signature == UnmatchableSignature {
		return model.Decision{State: model.StateAmbiguous, Reason: ReasonUnmatchable}
	}

	// (1) Точное совпадение нормализованного имени (уникально в разделе)
	var exact *model.CanonicalProduct
	for i := range cands {
		p := &cands[i].Product
		if p.NormalizedName == listing.Signature && (exact == nil || p.ID < exact.ID) {
			exact = p
		}
	}
	if exact != nil {
		return model.Decision{
			State:      model.StateMatched,
			ProductID:  exact.ID,
			Score:      1,
			Method:     MethodExact,
			Candidates: []model.ScoredCandidate{{ProductID: exact.ID, Score: 1}},
		}
	}

	// (2) Fuzzy
	return r.Decide(r.Rank(listing, cands))
}

// Rank считает скоры и сортирует: по убыванию скора, при равенстве - по возрастанию id.
func (r Resolver) Rank(listing model.Attrs, cands []model.Candidate) []model.ScoredCandidate {
	out := make([]model.ScoredCandidate, 0, len(cands))
	for _, c := range cands {
		out = append(out, model.ScoredCandidate{ProductID: c.Product.ID, Score: r.scorer.Score(listing, c.Attrs())})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// Decide применяет порог и полосу неразличимости к отсортированному списку.
func (r Resolver) Decide(ranked []model.ScoredCandidate) model.Decision {
	if len(ranked) == 0 {
		return model.Decision{State: model.StateCreated, Reason: ReasonNoCandidate}
	}
	top := ranked[0]
	if top.Score < r.opt.MatchThreshold-scoreEps {
		return model.Decision{
			State:      model.StateCreated,
			Score:      top.Score,
			Reason:     ReasonBelow,
			Candidates: head(ranked, keepCandidates),
		}
	}

	contenders := []model.ScoredCandidate{top}
	for _, c := range ranked[1:] {
		if c.Score >= r.opt.MatchThreshold-scoreEps && top.Score-c.Score <= r.opt.TieBreakMargin+scoreEps {
			contenders = append(contenders, c)
		}
	}
	if len(contenders) > 1 {
		return model.Decision{
			State:      model.StateAmbiguous,
			Score:      top.Score,
			Reason:     ReasonTieBreak,
			Candidates: contenders,
		}
	}
	return model.Decision{
		State:      model.StateMatched,
		ProductID:  top.ProductID,
		Score:      top.Score,
		Method:     MethodFuzzy,
		Candidates: head(ranked, keepCandidates),
	}
}

// Known: листинг уже привязан к товару через оффер с тем же URL.
func (r Resolver) Known(productID int64) model.Decision {
	return model.Decision{
		State:      model.StateMatched,
		ProductID:  productID,
		Score:      1,
		Method:     MethodURL,
		Candidates: []model.ScoredCandidate{{ProductID: productID, Score: 1}},
	}
}

func head(s []model.ScoredCandidate, n int) []model.ScoredCandidate {
	if len(s) > n {
		s = s[:n]
	}
	return append([]model.ScoredCandidate(nil), s...)
}
