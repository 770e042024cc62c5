package service

import (
	"testing"

	"vape-recon/internal/reconcile/model"
)

func testPolicy() model.Policy {
	return model.Policy{
		NoiseTokens:   []string{"정품", "입호흡", "액상", "★"},
		Rewrites:      []model.Rewrite{{Pattern: `juice\s*box`, Replace: "juicebox"}},
		StripUnits:    []string{"ml", "mg"},
		DropBracketed: true,
		JoinHangul:    true,
		Brands:        []string{"키슈", "베이프몬스터", "juicebox"},
	}
}

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(testPolicy())
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	return n
}

func TestNormalize(t *testing.T) {
	n := testNormalizer(t)
	cases := []struct {
		in, want string
	}{
		{"키슈 플럼 레거시 30ml", "키슈플럼레거시"},
		{"[정품] 키슈 플럼 레거시 30ML | 액상샵", "키슈플럼레거시"},
		{"베이프몬스터 입호흡 키트", "베이프몬스터키트"},
		{"베이프몬스터입호흡키트", "베이프몬스터키트"},
		{"ＪＵＩＣＥ ＢＯＸ 망고", "juicebox 망고"},
		{"키슈 0,5mg", "키슈"},
		{"★키슈★ 멘솔", "키슈멘솔"},
		{"", UnmatchableSignature},
		{"정품 액상", UnmatchableSignature},
		{"!!!", UnmatchableSignature},
	}
	for _, c := range cases {
		if got := n.Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := testNormalizer(t)
	for _, in := range []string{"키슈 플럼 레거시 30ml", "ＪＵＩＣＥ ＢＯＸ 망고", "Nasty Cush Man 60ml"} {
		once := n.Normalize(in)
		if twice := n.Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q → %q", in, once, twice)
		}
	}
}

func TestNewNormalizerRejectsBadRewrite(t *testing.T) {
	p := testPolicy()
	p.Rewrites = append(p.Rewrites, model.Rewrite{Pattern: "(", Replace: ""})
	if _, err := NewNormalizer(p); err == nil {
		t.Fatal("expected error for broken pattern")
	}
}

func TestPartitionerLongestPrefix(t *testing.T) {
	n := testNormalizer(t)
	p := NewPartitioner(n, []string{"키슈", "키슈 프리미엄", "기타", " "}, "기타")
	cases := map[string]string{
		"키슈플럼레거시":   "키슈",
		"키슈프리미엄망고":  "키슈 프리미엄",
		"juicebox 망고": "기타",
		"알수없음":      "기타",
	}
	for sig, want := range cases {
		if got := p.Company(sig); got != want {
			t.Errorf("Company(%q) = %q, want %q", sig, got, want)
		}
	}
}
