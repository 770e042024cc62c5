package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"vape-recon/internal/reconcile/model"
)

// UnmatchableSignature возвращается для пустых названий и названий из одного шума.
// '#' вырезается при очистке пунктуации, поэтому реальная сигнатура с ним не совпадёт.
const UnmatchableSignature = "#unmatchable"

// "| 액상샵" и прочие хвосты с именем магазина
var reShopSuffix = regexp.MustCompile(`\s*\|.*$`)

// [이벤트], 【특가】
var reBracketed = regexp.MustCompile(`\[[^\]]*\]|【[^】]*】`)

// 0,5 → 0.5
var decComma = regexp.MustCompile(`(\d),(\d)`)

var punct = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

type rewrite struct {
	re   *regexp.Regexp
	repl string
}

// Normalizer превращает сырое название в сигнатуру. Чистый и детерминированный.
type Normalizer struct {
	policy        model.Policy
	noise         []string
	rewrites      []rewrite
	reUnits       *regexp.Regexp
	dropBracketed bool
	joinHangul    bool
}

func NewNormalizer(p model.Policy) (*Normalizer, error) {
	n := &Normalizer{policy: p, dropBracketed: p.DropBracketed, joinHangul: p.JoinHangul}

	for _, rw := range p.Rewrites {
		re, err := regexp.Compile(rw.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rewrite %q: %w", rw.Pattern, err)
		}
		n.rewrites = append(n.rewrites, rewrite{re: re, repl: rw.Replace})
	}

	// шум и единицы сравниваются со сложенным текстом, поэтому складываем и их
	for _, tok := range p.NoiseTokens {
		if tok = strings.ToLower(fold(tok)); strings.TrimSpace(tok) != "" {
			n.noise = append(n.noise, tok)
		}
	}
	// длинные первыми: "rs니코틴" раньше "s니코틴"
	sort.SliceStable(n.noise, func(i, j int) bool { return len(n.noise[i]) > len(n.noise[j]) })

	if len(p.StripUnits) > 0 {
		units := make([]string, 0, len(p.StripUnits))
		for _, u := range p.StripUnits {
			if u = strings.ToLower(fold(u)); u != "" {
				units = append(units, regexp.QuoteMeta(u))
			}
		}
		sort.SliceStable(units, func(i, j int) bool { return len(units[i]) > len(units[j]) })
		re, err := regexp.Compile(`\d+(?:\.\d+)?\s*(?:` + strings.Join(units, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("strip units: %w", err)
		}
		n.reUnits = re
	}
	return n, nil
}

// Policy: политика, с которой собран нормализатор.
func (n *Normalizer) Policy() model.Policy { return n.policy }

// Normalize: главный конвейер.
func (n *Normalizer) Normalize(raw string) string {
	out := strings.ToLower(fold(raw))
	out = reShopSuffix.ReplaceAllString(out, "")

	if n.dropBracketed {
		out = reBracketed.ReplaceAllString(out, " ")
	}
	out = decComma.ReplaceAllString(out, "$1.$2")

	for _, rw := range n.rewrites {
		out = rw.re.ReplaceAllString(out, rw.repl)
	}
	if n.reUnits != nil {
		out = n.reUnits.ReplaceAllString(out, " ")
	}
	for _, tok := range n.noise {
		out = strings.ReplaceAll(out, tok, " ")
	}

	out = collapseSpaces(punct.ReplaceAllString(out, " "))
	if n.joinHangul {
		out = joinHangul(out)
	}
	if out == "" {
		return UnmatchableSignature
	}
	return out
}

// fold: полноширинные формы и совместимые символы → канонические (NFKC).
func fold(s string) string {
	out, _, err := transform.String(transform.Chain(width.Fold, norm.NFKC), s)
	if err != nil {
		return norm.NFKC.String(s)
	}
	return out
}

// joinHangul склеивает соседние токены на стыке двух слогов хангыля:
// "베이프몬스터 입호흡 키트" и "베이프몬스터입호흡키트" дают одно и то же.
func joinHangul(s string) string {
	f := strings.Fields(s)
	if len(f) < 2 {
		return s
	}
	var b strings.Builder
	b.WriteString(f[0])
	for i := 1; i < len(f); i++ {
		prev := []rune(f[i-1])
		next := []rune(f[i])
		if !(isHangul(prev[len(prev)-1]) && isHangul(next[0])) {
			b.WriteByte(' ')
		}
		b.WriteString(f[i])
	}
	return b.String()
}

func isHangul(r rune) bool { return unicode.Is(unicode.Hangul, r) }

// Схлопывание пробелов
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
