package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
	"github.com/apoorvlathey/invite-markets-sub002/internal/db"
	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/utils"
)

// CreateListingParams carries validated input for a new listing.
type CreateListingParams struct {
	SellerAddress string
	PriceUsdc     float64
	ChainID       int64
	ListingType   models.ListingType
	InviteURL     string
	AppURL        string
	AccessCode    string
	MaxUses       int
	AppID         string
	AppName       string
}

// IListingService defines the interface for listing-store operations.
type IListingService interface {
	CreateListing(ctx context.Context, params CreateListingParams) (*models.Listing, error)
	FindBySlug(ctx context.Context, slug string) (*models.Listing, error)
	FindBySeller(ctx context.Context, sellerAddress string) ([]models.Listing, error)
	FindByApp(ctx context.Context, appKey string, chainID int64) ([]models.Listing, error)
	LowestPriceByApp(ctx context.Context, appKey string, chainID int64) (*models.Listing, error)
	UpdateFields(ctx context.Context, slug, sellerAddress string, updates map[string]interface{}) (*models.Listing, error)
	Delete(ctx context.Context, slug, sellerAddress string) error
	ConsumeInventory(ctx context.Context, slug string) (*models.Listing, error)
}

const listingsCollection = "listings"

// listingService implements IListingService.
type listingService struct {
	db  *mongo.Database
	cfg *config.Config
}

// NewListingService creates a new ListingService.
func NewListingService(db *mongo.Database, cfg *config.Config) IListingService {
	return &listingService{db: db, cfg: cfg}
}

// availableFilter matches listings that can currently be purchased.
func availableFilter() bson.M {
	return bson.M{
		"status": models.ListingStatusActive,
		"$or": bson.A{
			bson.M{"max_uses": models.UnlimitedUses},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$purchase_count", "$max_uses"}}},
		},
	}
}

// appKeyFilter matches a listing's app association by ID or name,
// case-insensitive and anchored to the full string so "sora" never matches
// "sorachat".
func appKeyFilter(appKey string) bson.M {
	pattern := primitive.Regex{Pattern: "^" + regexp.QuoteMeta(appKey) + "$", Options: "i"}
	return bson.M{"$or": bson.A{
		bson.M{"app_id": pattern},
		bson.M{"app_name": pattern},
	}}
}

func (p *CreateListingParams) validate() error {
	if p.PriceUsdc <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if p.MaxUses != models.UnlimitedUses && p.MaxUses < 1 {
		return fmt.Errorf("%w: maxUses must be at least 1 or -1 for unlimited", ErrValidation)
	}
	if p.AppID == "" && p.AppName == "" {
		return fmt.Errorf("%w: listing needs an appId or an appName", ErrValidation)
	}
	switch p.ListingType {
	case models.ListingTypeInviteLink:
		if p.InviteURL == "" {
			return fmt.Errorf("%w: invite_link listings need an inviteUrl", ErrValidation)
		}
		if p.AppURL != "" || p.AccessCode != "" {
			return fmt.Errorf("%w: invite_link listings must not carry appUrl/accessCode", ErrValidation)
		}
	case models.ListingTypeAccessCode:
		if p.AppURL == "" || p.AccessCode == "" {
			return fmt.Errorf("%w: access_code listings need appUrl and accessCode", ErrValidation)
		}
		if p.InviteURL != "" {
			return fmt.Errorf("%w: access_code listings must not carry an inviteUrl", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown listing type %q", ErrValidation, p.ListingType)
	}
	return nil
}

// CreateListing inserts a new active listing with a freshly generated slug.
// Slug collisions hit the unique index and are retried with a new slug.
func (s *listingService) CreateListing(ctx context.Context, params CreateListingParams) (*models.Listing, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	var newListing *models.Listing

	operation := func() error {
		newListing = &models.Listing{
			Slug:          utils.NewSlug(),
			SellerAddress: strings.ToLower(params.SellerAddress),
			PriceUsdc:     params.PriceUsdc,
			ChainID:       params.ChainID,
			ListingType:   params.ListingType,
			InviteURL:     params.InviteURL,
			AppURL:        params.AppURL,
			AccessCode:    params.AccessCode,
			MaxUses:       params.MaxUses,
			PurchaseCount: 0,
			AppID:         params.AppID,
			AppName:       params.AppName,
			Status:        models.ListingStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, insertErr := collection.InsertOne(ctx, newListing)
		return insertErr
	}

	err := db.Try(operation)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrSlugConflict
		}
		return nil, fmt.Errorf("failed to insert new listing for seller %s: %w", params.SellerAddress, err)
	}

	return newListing, nil
}

// FindBySlug fetches a listing regardless of status. Callers decide what a
// non-active status means for them.
func (s *listingService) FindBySlug(ctx context.Context, slug string) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"slug": slug}).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("error finding listing by slug %s: %w", slug, err)
	}
	return &listing, nil
}

// FindBySeller returns all of a seller's listings, newest first.
func (s *listingService) FindBySeller(ctx context.Context, sellerAddress string) ([]models.Listing, error) {
	filter := bson.M{"seller_address": strings.ToLower(sellerAddress)}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.db.Collection(listingsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding listings for seller %s: %w", sellerAddress, err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("error decoding listings for seller %s: %w", sellerAddress, err)
	}
	return listings, nil
}

// FindByApp returns available listings for an app key on one chain, cheapest
// first. Prices on different chains are not comparable, so the chain is part
// of the filter rather than something callers sort out afterwards.
func (s *listingService) FindByApp(ctx context.Context, appKey string, chainID int64) ([]models.Listing, error) {
	// Both sub-filters use $or internally, so they combine under $and.
	filter := bson.M{"chain_id": chainID, "$and": bson.A{availableFilter(), appKeyFilter(appKey)}}
	opts := options.Find().SetSort(bson.D{{Key: "price_usdc", Value: 1}})

	cursor, err := s.db.Collection(listingsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding listings for app %s: %w", appKey, err)
	}
	defer cursor.Close(ctx)

	var listings []models.Listing
	if err = cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("error decoding listings for app %s: %w", appKey, err)
	}
	return listings, nil
}

// LowestPriceByApp returns the cheapest available listing for an app key on
// the given chain.
func (s *listingService) LowestPriceByApp(ctx context.Context, appKey string, chainID int64) (*models.Listing, error) {
	filter := bson.M{"chain_id": chainID, "$and": bson.A{availableFilter(), appKeyFilter(appKey)}}
	opts := options.FindOne().SetSort(bson.D{{Key: "price_usdc", Value: 1}})

	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, filter, opts).Decode(&listing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("error finding lowest price for app %s: %w", appKey, err)
	}
	return &listing, nil
}

// UpdateFields updates mutable fields of an active listing owned by the seller.
// Ownership must already have been verified via the signature check.
func (s *listingService) UpdateFields(ctx context.Context, slug, sellerAddress string, updates map[string]interface{}) (*models.Listing, error) {
	allowedUpdates := bson.M{}
	for key, value := range updates {
		switch key {
		case "price_usdc", "max_uses", "invite_url", "app_url", "access_code", "app_name":
			allowedUpdates[key] = value
		default:
			return nil, fmt.Errorf("%w: field '%s' cannot be updated", ErrValidation, key)
		}
	}
	if len(allowedUpdates) == 0 {
		return nil, fmt.Errorf("%w: no valid fields provided for update", ErrValidation)
	}
	if price, ok := allowedUpdates["price_usdc"]; ok {
		if p, isFloat := price.(float64); !isFloat || p <= 0 {
			return nil, fmt.Errorf("%w: price must be positive", ErrValidation)
		}
	}
	if maxUses, ok := allowedUpdates["max_uses"]; ok {
		if m, isInt := maxUses.(int); !isInt || (m != models.UnlimitedUses && m < 1) {
			return nil, fmt.Errorf("%w: maxUses must be at least 1 or -1 for unlimited", ErrValidation)
		}
	}
	allowedUpdates["updated_at"] = time.Now().UTC()

	filter := bson.M{
		"slug":           slug,
		"seller_address": strings.ToLower(sellerAddress),
		"status":         models.ListingStatusActive,
	}
	update := bson.M{"$set": allowedUpdates}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updatedListing models.Listing
	err := s.db.Collection(listingsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updatedListing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.diagnoseMutationFailure(ctx, slug, sellerAddress)
		}
		return nil, fmt.Errorf("failed to update listing %s: %w", slug, err)
	}
	return &updatedListing, nil
}

// Delete cancels an active listing owned by the seller. Cancelled listings stay
// in the store for history but can never be purchased.
func (s *listingService) Delete(ctx context.Context, slug, sellerAddress string) error {
	filter := bson.M{
		"slug":           slug,
		"seller_address": strings.ToLower(sellerAddress),
		"status":         models.ListingStatusActive,
	}
	update := bson.M{"$set": bson.M{
		"status":     models.ListingStatusCancelled,
		"updated_at": time.Now().UTC(),
	}}

	result, err := s.db.Collection(listingsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error cancelling listing %s: %w", slug, err)
	}
	if result.MatchedCount == 0 {
		return s.diagnoseMutationFailure(ctx, slug, sellerAddress)
	}
	return nil
}

// diagnoseMutationFailure figures out why an owner mutation matched nothing.
func (s *listingService) diagnoseMutationFailure(ctx context.Context, slug, sellerAddress string) error {
	var listing models.Listing
	err := s.db.Collection(listingsCollection).FindOne(ctx, bson.M{"slug": slug}).Decode(&listing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrListingNotFound
	}
	if err != nil {
		return fmt.Errorf("db error checking listing %s: %w", slug, err)
	}
	if listing.SellerAddress != strings.ToLower(sellerAddress) {
		return fmt.Errorf("listing %s does not belong to seller %s", slug, sellerAddress)
	}
	return fmt.Errorf("listing %s is %s and cannot be modified: %w", slug, listing.Status, ErrListingUnavailable)
}

// ConsumeInventory atomically claims one purchase unit. The filter re-checks
// availability inside the store's own atomicity, so concurrent settlements of a
// maxUses=1 listing can never both succeed; the losing request gets ErrSoldOut.
// The claim that exhausts a finite listing also flips its status to sold in the
// same update.
func (s *listingService) ConsumeInventory(ctx context.Context, slug string) (*models.Listing, error) {
	collection := s.db.Collection(listingsCollection)
	now := time.Now().UTC()

	filter := bson.M{"slug": slug}
	for k, v := range availableFilter() {
		filter[k] = v
	}
	// Pipeline update so the count increment and the sold transition land in
	// the same atomic operation. The incremented count has to be recomputed
	// inside $cond; $set stages cannot read their own output.
	newCount := bson.M{"$add": bson.A{"$purchase_count", 1}}
	update := bson.A{bson.M{"$set": bson.M{
		"purchase_count": newCount,
		"updated_at":     now,
		"status": bson.M{"$cond": bson.A{
			bson.M{"$and": bson.A{
				bson.M{"$ne": bson.A{"$max_uses", models.UnlimitedUses}},
				bson.M{"$gte": bson.A{newCount, "$max_uses"}},
			}},
			models.ListingStatusSold,
			"$status",
		}},
	}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.Listing
	err := collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the listing is gone or the guard rejected the claim.
			var current models.Listing
			checkErr := collection.FindOne(ctx, bson.M{"slug": slug}).Decode(&current)
			if errors.Is(checkErr, mongo.ErrNoDocuments) {
				return nil, ErrListingNotFound
			}
			return nil, ErrSoldOut
		}
		return nil, fmt.Errorf("db error consuming inventory for listing %s: %w", slug, err)
	}

	return &updated, nil
}
