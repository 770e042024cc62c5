package service

import (
	"math/rand"
	"testing"

	"vape-recon/internal/reconcile/model"
)

func cand(id int64, sig string) model.Candidate {
	return model.Candidate{Product: model.CanonicalProduct{ID: id, NormalizedName: sig}}
}

func TestResolveThresholdBoundary(t *testing.T) {
	listing := model.Attrs{Signature: "키슈플럼레거시"}
	cands := []model.Candidate{cand(1, "키슈플럼레거시맛")}

	opt := model.DefaultOptions()
	score := NewScorer(opt).Score(listing, cands[0].Attrs())

	opt.MatchThreshold = score
	d := NewResolver(opt).Resolve(listing, cands)
	if d.State != model.StateMatched || d.ProductID != 1 || d.Method != MethodFuzzy {
		t.Fatalf("score == threshold must match, got %+v", d)
	}

	opt.MatchThreshold = score + 1e-6
	d = NewResolver(opt).Resolve(listing, cands)
	if d.State != model.StateCreated || d.Reason != ReasonBelow {
		t.Fatalf("score just below threshold must create, got %+v", d)
	}
}

func TestDecideThresholdRoundingError(t *testing.T) {
	// 1 - 16/50 в float64 = 0.6799999999999999, на одну ulp ниже 0.68
	dist, maxLen := 16, 50
	score := 1 - float64(dist)/float64(maxLen)
	opt := model.DefaultOptions()
	opt.MatchThreshold = 0.68
	d := NewResolver(opt).Decide([]model.ScoredCandidate{{ProductID: 7, Score: score}})
	if d.State != model.StateMatched || d.ProductID != 7 {
		t.Fatalf("score equal to threshold up to rounding must match, got %+v", d)
	}
	d = NewResolver(opt).Decide([]model.ScoredCandidate{{ProductID: 7, Score: 0.68 - 1e-6}})
	if d.State != model.StateCreated {
		t.Fatalf("score clearly below threshold must create, got %+v", d)
	}
}

func TestDecideTieBreakBand(t *testing.T) {
	opt := model.DefaultOptions()
	opt.MatchThreshold = 0.85
	opt.TieBreakMargin = 0.05
	ranked := []model.ScoredCandidate{{ProductID: 2, Score: 0.87}, {ProductID: 1, Score: 0.86}}

	d := NewResolver(opt).Decide(ranked)
	if d.State != model.StateAmbiguous || d.Reason != ReasonTieBreak {
		t.Fatalf("want AMBIGUOUS, got %+v", d)
	}
	if len(d.Candidates) != 2 {
		t.Fatalf("both contenders must be kept, got %+v", d.Candidates)
	}

	opt.TieBreakMargin = 0.005
	d = NewResolver(opt).Decide(ranked)
	if d.State != model.StateMatched || d.ProductID != 2 {
		t.Fatalf("outside the band top candidate wins, got %+v", d)
	}

	// второй кандидат ниже порога не конкурирует
	opt.TieBreakMargin = 0.05
	d = NewResolver(opt).Decide([]model.ScoredCandidate{{ProductID: 2, Score: 0.87}, {ProductID: 1, Score: 0.84}})
	if d.State != model.StateMatched || d.ProductID != 2 {
		t.Fatalf("sub-threshold runner-up must not block, got %+v", d)
	}
}

func TestResolveExactFirst(t *testing.T) {
	r := NewResolver(model.DefaultOptions())
	d := r.Resolve(model.Attrs{Signature: "키슈플럼레거시"}, []model.Candidate{
		cand(5, "키슈플럼레거시맛"),
		cand(9, "키슈플럼레거시"),
	})
	if d.State != model.StateMatched || d.ProductID != 9 || d.Method != MethodExact || d.Score != 1 {
		t.Fatalf("want exact match on 9, got %+v", d)
	}
}

func TestResolveEdgeCases(t *testing.T) {
	r := NewResolver(model.DefaultOptions())
	if d := r.Resolve(model.Attrs{Signature: "키슈"}, nil); d.State != model.StateCreated || d.Reason != ReasonNoCandidate {
		t.Fatalf("empty catalog must create, got %+v", d)
	}
	if d := r.Resolve(model.Attrs{Signature: UnmatchableSignature}, []model.Candidate{cand(1, "키슈")}); d.State != model.StateAmbiguous || d.Reason != ReasonUnmatchable {
		t.Fatalf("unmatchable must be ambiguous, got %+v", d)
	}
	if d := r.Known(42); d.State != model.StateMatched || d.Method != MethodURL || d.ProductID != 42 {
		t.Fatalf("known url: %+v", d)
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := NewResolver(model.DefaultOptions())
	listing := model.Attrs{Signature: "juicebox 망고 아이스"}
	cands := []model.Candidate{
		cand(3, "juicebox 망고"),
		cand(1, "juicebox 망고 아이스트"),
		cand(2, "juicebox 망고 아이스x"),
		cand(4, "네스티 망고"),
	}
	want := r.Resolve(listing, cands)

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.Candidate(nil), cands...)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := r.Resolve(listing, shuffled)
		if got.State != want.State || got.ProductID != want.ProductID || len(got.Candidates) != len(want.Candidates) {
			t.Fatalf("decision depends on candidate order: %+v vs %+v", got, want)
		}
		for k := range got.Candidates {
			if got.Candidates[k] != want.Candidates[k] {
				t.Fatalf("candidate order differs at %d: %+v vs %+v", k, got.Candidates, want.Candidates)
			}
		}
	}
	// 1 и 2 равноудалены от листинга: должны оказаться в полосе вместе
	if want.State != model.StateAmbiguous {
		t.Fatalf("equal contenders must be ambiguous, got %+v", want)
	}
	if want.Candidates[0].ProductID != 1 {
		t.Fatalf("ties are ordered by id, got %+v", want.Candidates)
	}
}
