package model

import "time"

// Options: параметры сопоставления и фиксации.
type Options struct {
	MatchThreshold      float64 // порог авто-привязки (0..1]
	TieBreakMargin      float64 // разрыв, ниже которого кандидаты равноправны
	PriceToleranceRatio float64 // допустимое относительное расхождение цен
	CategoryBonus       float64 // бонус за совпадение категории
	PricePenalty        float64 // штраф за выход за ценовой коридор
	SellerPenalty       float64 // штраф, если продавец уже держит кандидата под другим URL
	MinSignatureLen     int     // короче - скоринг возвращает 0

	RetryLimit      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	TxTimeout       time.Duration
	Workers         int
	CommitRPS       float64 // 0 - без ограничения
}

func DefaultOptions() Options {
	return Options{
		MatchThreshold:      0.85,
		TieBreakMargin:      0.02,
		PriceToleranceRatio: 0.40,
		CategoryBonus:       0.02,
		PricePenalty:        0.15,
		SellerPenalty:       0.05,
		MinSignatureLen:     2,
		RetryLimit:          3,
		RetryBackoff:        200 * time.Millisecond,
		RetryBackoffMax:     3 * time.Second,
		TxTimeout:           10 * time.Second,
		Workers:             4,
	}
}

// Policy: настраиваемые правила нормализации названий.
type Policy struct {
	NoiseTokens []string  `yaml:"noise_tokens"`
	Rewrites    []Rewrite `yaml:"rewrites"`
	// Единицы, которые вместе с числом срезаются (объём, крепость, фасовка).
	StripUnits []string `yaml:"strip_units"`
	// Убирать ли содержимое [..] и 【..】.
	DropBracketed bool `yaml:"drop_bracketed"`
	// Склеивать соседние хангыль-токены.
	JoinHangul bool     `yaml:"join_hangul"`
	Brands     []string `yaml:"brands"`
}

// Rewrite: замена по регулярному выражению.
type Rewrite struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}
