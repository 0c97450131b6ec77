package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Transaction is one completed sale. The collection is an append-only ledger:
// rows are never updated or deleted by application code.
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ListingSlug   string             `bson:"listing_slug" json:"listingSlug"`
	SellerAddress string             `bson:"seller_address" json:"sellerAddress"`
	BuyerAddress  string             `bson:"buyer_address" json:"buyerAddress"`
	AppID         string             `bson:"app_id,omitempty" json:"appId,omitempty"`
	AppName       string             `bson:"app_name,omitempty" json:"appName,omitempty"`
	ChainID       int64              `bson:"chain_id" json:"chainId"`
	// PriceUsdc is the price at the moment of sale. Listings can be repriced
	// later; this snapshot is what the buyer actually paid.
	PriceUsdc float64   `bson:"price_usdc" json:"priceUsdc"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}
