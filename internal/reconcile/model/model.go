package model

import (
	"errors"
	"time"
)

// ErrMalformedListing помечает листинг без названия или цены.
var ErrMalformedListing = errors.New("malformed listing")

// RawListing: одно наблюдение краулера (сайт + страница товара).
type RawListing struct {
	SourceSite  string    `json:"source_site"`
	Title       string    `json:"title"`
	Description string    `json:"detail_comment"`
	Price       Price     `json:"price"`
	URL         string    `json:"url"`
	ImageURL    string    `json:"image_url"`
	Category    string    `json:"category"`
	ObservedAt  time.Time `json:"observed_at"`
}

// CanonicalProduct: дедуплицированный реальный товар.
type CanonicalProduct struct {
	ID             int64  `json:"id"`
	CompanyID      int64  `json:"companyId"`
	CategoryID     int64  `json:"categoryId"`
	NormalizedName string `json:"normalizedName"`
	DisplayName    string `json:"displayName"`
	ImageURL       string `json:"imageUrl"`
}

// Offer: текущее предложение одного продавца по товару.
type Offer struct {
	ID           int64     `json:"id"`
	ProductID    int64     `json:"productId"`
	SellerSiteID int64     `json:"sellerSiteId"`
	SellerURL    string    `json:"sellerUrl"`
	CurrentPrice int64     `json:"currentPrice"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
	// Version растёт с каждым обновлением; UpdateOffer сверяет его с прочитанным.
	Version int64 `json:"-"`
}

// PriceHistoryEntry: неизменяемая запись об изменении цены.
// PercentageChange == nil, если старая цена была 0.
type PriceHistoryEntry struct {
	ID               int64     `json:"id"`
	OfferID          int64     `json:"offerId"`
	ProductID        int64     `json:"productId"`
	SellerSiteID     int64     `json:"sellerSiteId"`
	OldPrice         int64     `json:"oldPrice"`
	NewPrice         int64     `json:"newPrice"`
	PriceDifference  int64     `json:"priceDifference"`
	PercentageChange *float64  `json:"percentageChange"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Partition: company+category, в пределах которого идёт сопоставление.
type Partition struct {
	CompanyID  int64
	CategoryID int64
}

// Attrs: сигнатура и структурные атрибуты для скоринга.
type Attrs struct {
	Signature  string
	CategoryID int64
	Price      int64   // опорная цена; 0 - неизвестна
	Sellers    []int64 // продавцы, уже предлагающие товар
}

// Candidate: товар каталога вместе с атрибутами его офферов.
type Candidate struct {
	Product CanonicalProduct
	Offers  []Offer
}

// Attrs собирает атрибуты кандидата: минимальная текущая цена и продавцы.
func (c Candidate) Attrs() Attrs {
	a := Attrs{Signature: c.Product.NormalizedName, CategoryID: c.Product.CategoryID}
	for _, o := range c.Offers {
		if o.CurrentPrice > 0 && (a.Price == 0 || o.CurrentPrice < a.Price) {
			a.Price = o.CurrentPrice
		}
		a.Sellers = append(a.Sellers, o.SellerSiteID)
	}
	return a
}

// ScoredCandidate: кандидат с посчитанной уверенностью.
type ScoredCandidate struct {
	ProductID int64   `json:"productId"`
	Score     float64 `json:"score"`
}

type State string

const (
	StateUnresolved State = "UNRESOLVED"
	StateMatched    State = "MATCHED"
	StateCreated    State = "CREATED"
	StateAmbiguous  State = "AMBIGUOUS"
)

// Decision: итог резолвера для одного листинга.
type Decision struct {
	State      State             `json:"state"`
	ProductID  int64             `json:"productId,omitempty"`
	Score      float64           `json:"score"`
	Method     string            `json:"method,omitempty"` // url | exact | fuzzy
	Reason     string            `json:"reason,omitempty"`
	Candidates []ScoredCandidate `json:"candidates,omitempty"`
}

// ReviewItem: листинг, отложенный на ручную проверку.
type ReviewItem struct {
	ID           int64             `json:"id"`
	SellerSiteID int64             `json:"sellerSiteId"`
	SellerURL    string            `json:"sellerUrl"`
	Title        string            `json:"title"`
	Signature    string            `json:"signature"`
	CompanyID    int64             `json:"companyId"`
	CategoryID   int64             `json:"categoryId"`
	Price        int64             `json:"price"`
	Reason       string            `json:"reason"`
	Candidates   []ScoredCandidate `json:"candidates"`
	LastSeenAt   time.Time         `json:"lastSeenAt"`
}
