package utils

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var rxKeepNums = regexp.MustCompile(`[^\d\.\-]`)

// ParsePriceKRW парсит "19,500원", "₩21,000", "1 234" (NBSP) и т.п. в целые воны.
func ParsePriceKRW(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// "25,000원 → 19,500원": берём последнюю цену (цена со скидкой)
	for _, sep := range []string{"→", ">"} {
		if i := strings.LastIndex(s, sep); i >= 0 {
			s = s[i+len(sep):]
		}
	}
	repl := strings.NewReplacer("\u00A0", "", "\u202F", "", " ", "", "\t", "", ",", "", "원", "", "₩", "", "KRW", "", "krw", "")
	s = repl.Replace(s)
	s = rxKeepNums.ReplaceAllString(s, "")
	if s == "" || s == "-" || s == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(math.Round(f)), true
}
