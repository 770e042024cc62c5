package service

import (
	"time"

	"github.com/shopspring/decimal"

	"vape-recon/internal/reconcile/model"
)

// Observation: цена, увиденная у продавца в момент ObservedAt.
type Observation struct {
	ProductID    int64
	SellerSiteID int64
	SellerURL    string
	Price        int64
	ObservedAt   time.Time
}

// PriceChange: результат сверки цены.
type PriceChange struct {
	Offer   model.Offer
	Entry   *model.PriceHistoryEntry // nil - истории не будет
	Created bool                     // оффера раньше не было
	Stale   bool                     // наблюдение старше lastSeenAt: ничего не меняем
}

// percentage ratio rounding
const percentPlaces = 6

// TrackPrice сравнивает наблюдение с текущим оффером. История пишется только
// при реальном изменении цены; первое наблюдение истории не даёт.
func TrackPrice(prior *model.Offer, obs Observation) PriceChange {
	if prior == nil {
		return PriceChange{
			Created: true,
			Offer: model.Offer{
				ProductID:    obs.ProductID,
				SellerSiteID: obs.SellerSiteID,
				SellerURL:    obs.SellerURL,
				CurrentPrice: obs.Price,
				LastSeenAt:   obs.ObservedAt,
			},
		}
	}

	offer := *prior
	if obs.ObservedAt.Before(prior.LastSeenAt) {
		return PriceChange{Offer: offer, Stale: true}
	}
	offer.LastSeenAt = obs.ObservedAt
	if obs.Price == prior.CurrentPrice {
		return PriceChange{Offer: offer}
	}

	offer.CurrentPrice = obs.Price
	return PriceChange{
		Offer: offer,
		Entry: &model.PriceHistoryEntry{
			OfferID:          prior.ID,
			ProductID:        prior.ProductID,
			SellerSiteID:     prior.SellerSiteID,
			OldPrice:         prior.CurrentPrice,
			NewPrice:         obs.Price,
			PriceDifference:  obs.Price - prior.CurrentPrice,
			PercentageChange: PercentageChange(prior.CurrentPrice, obs.Price),
			CreatedAt:        obs.ObservedAt,
		},
	}
}

// PercentageChange = (new-old)/old; nil при old == 0.
func PercentageChange(oldPrice, newPrice int64) *float64 {
	if oldPrice == 0 {
		return nil
	}
	ratio := decimal.NewFromInt(newPrice - oldPrice).DivRound(decimal.NewFromInt(oldPrice), percentPlaces)
	v, _ := ratio.Float64()
	return &v
}
