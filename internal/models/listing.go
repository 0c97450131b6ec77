package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ListingType discriminates what kind of secret a listing releases on purchase.
type ListingType string

const (
	ListingTypeInviteLink ListingType = "invite_link"
	ListingTypeAccessCode ListingType = "access_code"
)

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// UnlimitedUses marks a listing that can be purchased any number of times.
const UnlimitedUses = -1

// Listing represents an invite or access-code listing for a gated app.
type Listing struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Slug          string             `bson:"slug" json:"slug"`
	SellerAddress string             `bson:"seller_address" json:"sellerAddress"` // lowercase 0x address
	PriceUsdc     float64            `bson:"price_usdc" json:"priceUsdc"`
	ChainID       int64              `bson:"chain_id" json:"chainId"`
	ListingType   ListingType        `bson:"listing_type" json:"listingType"`
	InviteURL     string             `bson:"invite_url,omitempty" json:"inviteUrl,omitempty"`
	AppURL        string             `bson:"app_url,omitempty" json:"appUrl,omitempty"`
	AccessCode    string             `bson:"access_code,omitempty" json:"accessCode,omitempty"`
	MaxUses       int                `bson:"max_uses" json:"maxUses"` // -1 = unlimited
	PurchaseCount int                `bson:"purchase_count" json:"purchaseCount"`
	AppID         string             `bson:"app_id,omitempty" json:"appId,omitempty"`
	AppName       string             `bson:"app_name,omitempty" json:"appName,omitempty"`
	Status        ListingStatus      `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Payload is the secret released to a buyer, shaped by the listing type.
type Payload struct {
	ListingType ListingType `json:"listingType"`
	InviteURL   string      `json:"inviteUrl,omitempty"`
	AppURL      string      `json:"appUrl,omitempty"`
	AccessCode  string      `json:"accessCode,omitempty"`
}

// SecretPayload builds the release payload for this listing. The switch is the
// single place where the listing-type union is unpacked.
func (l *Listing) SecretPayload() (*Payload, error) {
	switch l.ListingType {
	case ListingTypeInviteLink:
		if l.InviteURL == "" {
			return nil, fmt.Errorf("listing %s has type %s but no invite URL", l.Slug, l.ListingType)
		}
		return &Payload{ListingType: ListingTypeInviteLink, InviteURL: l.InviteURL}, nil
	case ListingTypeAccessCode:
		if l.AppURL == "" || l.AccessCode == "" {
			return nil, fmt.Errorf("listing %s has type %s but incomplete app URL / access code", l.Slug, l.ListingType)
		}
		return &Payload{ListingType: ListingTypeAccessCode, AppURL: l.AppURL, AccessCode: l.AccessCode}, nil
	default:
		return nil, fmt.Errorf("listing %s has unknown listing type %q", l.Slug, l.ListingType)
	}
}

// Available reports whether the listing can currently be purchased.
func (l *Listing) Available() bool {
	if l.Status != ListingStatusActive {
		return false
	}
	return l.MaxUses == UnlimitedUses || l.PurchaseCount < l.MaxUses
}

// Redacted returns a copy safe for public read paths: the secret fields are
// stripped regardless of listing type.
func (l *Listing) Redacted() *Listing {
	c := *l
	c.InviteURL = ""
	c.AppURL = ""
	c.AccessCode = ""
	return &c
}
