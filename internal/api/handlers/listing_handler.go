package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/apoorvlathey/invite-markets-sub002/internal/auth"
	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
	"github.com/apoorvlathey/invite-markets-sub002/internal/utils"
)

// ListingHandler handles listing CRUD and public read endpoints.
type ListingHandler struct {
	listingService services.IListingService
	verifier       auth.IOwnerVerifier
	rdb            *redis.Client
	cfg            *config.Config
}

// NewListingHandler creates a new ListingHandler. rdb may be nil, which
// disables the lowest-price response cache.
func NewListingHandler(listingService services.IListingService, verifier auth.IOwnerVerifier, rdb *redis.Client, cfg *config.Config) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		verifier:       verifier,
		rdb:            rdb,
		cfg:            cfg,
	}
}

// signedRequest is the authentication envelope on every mutating request.
type signedRequest struct {
	SellerAddress string `json:"sellerAddress" binding:"required"`
	ChainID       int64  `json:"chainId"`
	Nonce         int64  `json:"nonce" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
}

type createListingRequest struct {
	signedRequest
	PriceUsdc   float64 `json:"priceUsdc" binding:"required"`
	ListingType string  `json:"listingType" binding:"required"`
	InviteURL   string  `json:"inviteUrl"`
	AppURL      string  `json:"appUrl"`
	AccessCode  string  `json:"accessCode"`
	MaxUses     int     `json:"maxUses" binding:"required"`
	AppID       string  `json:"appId"`
	AppName     string  `json:"appName"`
}

type updateListingRequest struct {
	signedRequest
	Updates map[string]interface{} `json:"updates" binding:"required"`
}

// updatableFields maps wire field names to stored field names. Anything not
// listed here is rejected before it reaches the store.
var updatableFields = map[string]string{
	"priceUsdc":  "price_usdc",
	"maxUses":    "max_uses",
	"inviteUrl":  "invite_url",
	"appUrl":     "app_url",
	"accessCode": "access_code",
	"appName":    "app_name",
}

// CreateListing handles POST /v1/listing.
func (h *ListingHandler) CreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if !h.verifySigned(c, &req.signedRequest, auth.IntentCreate, "") {
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), services.CreateListingParams{
		SellerAddress: req.SellerAddress,
		PriceUsdc:     req.PriceUsdc,
		ChainID:       h.chainIDOrDefault(req.ChainID),
		ListingType:   models.ListingType(req.ListingType),
		InviteURL:     req.InviteURL,
		AppURL:        req.AppURL,
		AccessCode:    req.AccessCode,
		MaxUses:       req.MaxUses,
		AppID:         req.AppID,
		AppName:       req.AppName,
	})
	if err != nil {
		h.writeMutationError(c, err)
		return
	}

	h.invalidateLowestPrice(c, listing)
	// The creator gets their own listing back unredacted.
	c.JSON(http.StatusCreated, listing)
}

// GetListing handles GET /v1/listing/:slug. Public: always redacted.
func (h *ListingHandler) GetListing(c *gin.Context) {
	slug := c.Param("slug")
	if !utils.ValidateSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing slug"})
		return
	}

	listing, err := h.listingService.FindBySlug(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, services.ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch listing"})
		return
	}
	c.JSON(http.StatusOK, listing.Redacted())
}

// UpdateListing handles PATCH /v1/listing/:slug.
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	slug := c.Param("slug")
	if !utils.ValidateSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing slug"})
		return
	}

	var req updateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if !h.verifySigned(c, &req.signedRequest, auth.IntentUpdate, slug) {
		return
	}

	updates := make(map[string]interface{}, len(req.Updates))
	for key, value := range req.Updates {
		stored, ok := updatableFields[key]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Field '%s' cannot be updated", key)})
			return
		}
		// JSON numbers arrive as float64; the store expects ints for counters.
		if stored == "max_uses" {
			f, isFloat := value.(float64)
			if !isFloat || f != float64(int(f)) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "maxUses must be an integer"})
				return
			}
			value = int(f)
		}
		updates[stored] = value
	}

	listing, err := h.listingService.UpdateFields(c.Request.Context(), slug, req.SellerAddress, updates)
	if err != nil {
		h.writeMutationError(c, err)
		return
	}

	h.invalidateLowestPrice(c, listing)
	c.JSON(http.StatusOK, listing)
}

// DeleteListing handles DELETE /v1/listing/:slug. Soft delete: the listing is
// cancelled, never removed.
func (h *ListingHandler) DeleteListing(c *gin.Context) {
	slug := c.Param("slug")
	if !utils.ValidateSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing slug"})
		return
	}

	var req signedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	if !h.verifySigned(c, &req, auth.IntentDelete, slug) {
		return
	}

	listing, err := h.listingService.FindBySlug(c.Request.Context(), slug)
	if err == nil {
		defer h.invalidateLowestPrice(c, listing)
	}

	if err := h.listingService.Delete(c.Request.Context(), slug, req.SellerAddress); err != nil {
		h.writeMutationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetLowestPrice handles GET /v1/listing/lowest-price?appId=|appName=.
// Responses are cached in Redis for the configured TTL.
func (h *ListingHandler) GetLowestPrice(c *gin.Context) {
	appKey := c.Query("appId")
	if appKey == "" {
		appKey = c.Query("appName")
	}
	if appKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "appId or appName query parameter is required"})
		return
	}

	chainID := chainParam(c, h.cfg.DefaultChainID)
	cacheKey := lowestPriceCacheKey(chainID, appKey)
	if h.rdb != nil {
		if cached, err := h.rdb.Get(c.Request.Context(), cacheKey).Result(); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		}
	}

	listing, err := h.listingService.LowestPriceByApp(c.Request.Context(), appKey, chainID)
	if err != nil {
		if errors.Is(err, services.ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No available listings for this app"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch lowest price"})
		return
	}

	body, err := json.Marshal(listing.Redacted())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch lowest price"})
		return
	}
	if h.rdb != nil {
		if err := h.rdb.Set(c.Request.Context(), cacheKey, body, h.cfg.GetCacheTTL).Err(); err != nil {
			log.Printf("WARN: failed to cache lowest price for %s: %v", appKey, err)
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// verifySigned authenticates a mutation envelope. Writes the error response
// and returns false when verification fails.
func (h *ListingHandler) verifySigned(c *gin.Context, req *signedRequest, intent, slug string) bool {
	signature, err := hexutil.Decode(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature must be 0x-prefixed hex"})
		return false
	}
	err = h.verifier.VerifyOwnerRequest(c.Request.Context(), req.SellerAddress, intent, slug, req.Nonce, h.chainIDOrDefault(req.ChainID), signature)
	switch {
	case err == nil:
		return true
	case errors.Is(err, auth.ErrSignatureExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature expired"})
	case errors.Is(err, auth.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seller address"})
	case errors.Is(err, auth.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Signature verification failed"})
	}
	return false
}

func (h *ListingHandler) writeMutationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
	case errors.Is(err, services.ErrListingUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "Listing is not active"})
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrSlugConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Could not allocate a unique slug, retry"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Listing operation failed"})
	}
}

func (h *ListingHandler) chainIDOrDefault(chainID int64) int64 {
	if chainID != 0 {
		return chainID
	}
	return h.cfg.DefaultChainID
}

// invalidateLowestPrice drops cached lowest-price entries touched by a
// mutation. Best effort: a stale entry only lives until its TTL.
func (h *ListingHandler) invalidateLowestPrice(c *gin.Context, listing *models.Listing) {
	if h.rdb == nil || listing == nil {
		return
	}
	for _, key := range []string{listing.AppID, listing.AppName} {
		if key == "" {
			continue
		}
		if err := h.rdb.Del(c.Request.Context(), lowestPriceCacheKey(listing.ChainID, key)).Err(); err != nil {
			log.Printf("WARN: failed to invalidate lowest-price cache for %s: %v", key, err)
		}
	}
}

func lowestPriceCacheKey(chainID int64, appKey string) string {
	return fmt.Sprintf("lowestprice:%d:%s", chainID, strings.ToLower(appKey))
}
