package notify

import "context"

// SaleEvent is the outbound notification payload for one completed sale.
// It deliberately never contains the listing's secret payload.
type SaleEvent struct {
	ListingSlug   string  `json:"listingSlug"`
	AppName       string  `json:"appName"`
	PriceUsdc     float64 `json:"priceUsdc"`
	SellerAddress string  `json:"sellerAddress"`
	BuyerAddress  string  `json:"buyerAddress"`
	ChainID       int64   `json:"chainId"`
}

// Sender delivers sale notifications. Implementations must be safe for
// concurrent use; failures are the caller's to log and swallow.
type Sender interface {
	Notify(ctx context.Context, event SaleEvent) error
}
