package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/payments"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
	"github.com/apoorvlathey/invite-markets-sub002/internal/utils"
)

// x402Version reported in 402 challenge responses.
const x402Version = 1

// PurchaseHandler handles the paid purchase endpoint.
type PurchaseHandler struct {
	purchaseService services.IPurchaseService
}

// NewPurchaseHandler creates a new PurchaseHandler.
func NewPurchaseHandler(purchaseService services.IPurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchaseService: purchaseService}
}

// purchaseResponse is the body returned to a buyer on successful settlement.
// The secret fields mirror the listing type: inviteUrl for invite_link,
// appUrl+accessCode for access_code.
type purchaseResponse struct {
	Success     bool               `json:"success"`
	ListingType models.ListingType `json:"listingType"`
	InviteURL   string             `json:"inviteUrl,omitempty"`
	AppURL      string             `json:"appUrl,omitempty"`
	AccessCode  string             `json:"accessCode,omitempty"`
	Transaction string             `json:"transaction"`
	Payer       string             `json:"payer"`
}

// HandlePurchase handles POST /v1/purchase/:slug.
//
// Without an X-PAYMENT header it answers 402 with the x402 `accepts` payment
// requirements. With one, it runs the settlement flow and releases the secret
// payload. Facilitator failures are passed through verbatim (status, body,
// headers) so the buyer's payment client can react per protocol.
func (h *PurchaseHandler) HandlePurchase(c *gin.Context) {
	slug := c.Param("slug")
	if !utils.ValidateSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing slug"})
		return
	}
	resource := requestResource(c)

	paymentHeader := c.GetHeader("X-PAYMENT")
	if paymentHeader == "" {
		reqs, err := h.purchaseService.RequirementsFor(c.Request.Context(), slug, resource)
		if err != nil {
			h.writePurchaseError(c, slug, err)
			return
		}
		c.JSON(http.StatusPaymentRequired, gin.H{
			"x402Version": x402Version,
			"error":       "X-PAYMENT header is required",
			"accepts":     []payments.PaymentRequirements{*reqs},
		})
		return
	}

	proof, err := payments.DecodeProofHeader(paymentHeader)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid X-PAYMENT header: %v", err)})
		return
	}

	result, err := h.purchaseService.RequestPurchase(c.Request.Context(), slug, proof, resource)
	if err != nil {
		h.writePurchaseError(c, slug, err)
		return
	}

	c.JSON(http.StatusOK, purchaseResponse{
		Success:     true,
		ListingType: result.Payload.ListingType,
		InviteURL:   result.Payload.InviteURL,
		AppURL:      result.Payload.AppURL,
		AccessCode:  result.Payload.AccessCode,
		Transaction: result.SettlementTx,
		Payer:       result.PayerAddress,
	})
}

// writePurchaseError maps orchestrator failures to wire responses.
func (h *PurchaseHandler) writePurchaseError(c *gin.Context, slug string, err error) {
	var settleErr *payments.SettleError
	switch {
	case errors.Is(err, services.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
	case errors.Is(err, services.ErrSoldOut):
		c.JSON(http.StatusConflict, gin.H{"error": "Listing is sold out"})
	case errors.Is(err, services.ErrListingUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "Listing is not available for purchase"})
	case errors.As(err, &settleErr):
		// Verbatim pass-through: the buyer's payment client depends on the
		// facilitator's exact status, body and headers.
		for key, values := range settleErr.Header {
			for _, value := range values {
				c.Writer.Header().Add(key, value)
			}
		}
		c.Data(settleErr.StatusCode, "application/json", settleErr.Body)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Purchase failed"})
	}
}

// requestResource reconstructs the absolute URL of the purchased resource, as
// embedded in the payment requirements the buyer signs over.
func requestResource(c *gin.Context) string {
	scheme := "https"
	if forwarded := c.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	} else if c.Request.TLS == nil {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Request.Host, c.Request.URL.Path)
}
