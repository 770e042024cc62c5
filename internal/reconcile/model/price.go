package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"vape-recon/internal/utils"
)

// ErrPriceRange: число в JSON не помещается в int64.
var ErrPriceRange = errors.New("price out of range")

// Price: цена в вонах. В JSON краулера бывает и числом, и строкой "19,500원".
type Price int64

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, ok := utils.ParsePriceKRW(s)
		if !ok {
			*p = 0
			return nil
		}
		*p = Price(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	f = math.Round(f)
	// float64(MaxInt64) округляется до 2^63, поэтому граница строгая
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return fmt.Errorf("price %s: %w", b, ErrPriceRange)
	}
	*p = Price(int64(f))
	return nil
}
