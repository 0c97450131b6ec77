package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/apoorvlathey/invite-markets-sub002/internal/auth"
	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
)

// SellerHandler handles the seller dashboard endpoint.
type SellerHandler struct {
	listingService services.IListingService
	txService      services.ITransactionService
	verifier       auth.IOwnerVerifier
	cfg            *config.Config
}

// NewSellerHandler creates a new SellerHandler.
func NewSellerHandler(listingService services.IListingService, txService services.ITransactionService, verifier auth.IOwnerVerifier, cfg *config.Config) *SellerHandler {
	return &SellerHandler{
		listingService: listingService,
		txService:      txService,
		verifier:       verifier,
		cfg:            cfg,
	}
}

type sellerResponse struct {
	Address  string                `json:"address"`
	Stats    *services.SellerStats `json:"stats"`
	Listings []models.Listing      `json:"listings"`
}

// GetSeller handles GET /v1/seller/:address.
//
// Secret payload fields are redacted unless the caller proves control of the
// address via the X-Seller-Signature / X-Seller-Message read-auth headers.
func (h *SellerHandler) GetSeller(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid seller address"})
		return
	}
	address = strings.ToLower(address)

	authenticated, ok := h.checkReadAuth(c, address)
	if !ok {
		return
	}

	stats, err := h.txService.SellerStats(c.Request.Context(), address, chainParam(c, h.cfg.DefaultChainID))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch seller stats"})
		return
	}

	listings, err := h.listingService.FindBySeller(c.Request.Context(), address)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch seller listings"})
		return
	}

	if !authenticated {
		for i := range listings {
			listings[i] = *listings[i].Redacted()
		}
	}
	if listings == nil {
		listings = []models.Listing{}
	}

	c.JSON(http.StatusOK, sellerResponse{
		Address:  address,
		Stats:    stats,
		Listings: listings,
	})
}

// checkReadAuth evaluates the optional read-auth headers. Returns
// (authenticated, proceed). Absent headers mean an unauthenticated public
// view; present-but-invalid headers fail the request rather than silently
// downgrading it.
func (h *SellerHandler) checkReadAuth(c *gin.Context, address string) (bool, bool) {
	signatureHex := c.GetHeader("X-Seller-Signature")
	message := c.GetHeader("X-Seller-Message")
	if signatureHex == "" && message == "" {
		return false, true
	}
	if signatureHex == "" || message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both X-Seller-Signature and X-Seller-Message are required"})
		return false, false
	}

	signature, err := hexutil.Decode(signatureHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Seller-Signature must be 0x-prefixed hex"})
		return false, false
	}

	err = h.verifier.VerifySellerReadAuth(c.Request.Context(), address, message, h.cfg.DefaultChainID, signature)
	switch {
	case err == nil:
		return true, true
	case errors.Is(err, auth.ErrSignatureExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature expired"})
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrInvalidAddress):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Signature verification failed"})
	}
	return false, false
}
