package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
)

// defaultSalesLimit bounds unpaginated ledger reads.
const defaultSalesLimit = 50

// MarketHandler handles public marketplace read endpoints: recent sales,
// buyer history and the featured-app catalog.
type MarketHandler struct {
	listingService services.IListingService
	txService      services.ITransactionService
	cfg            *config.Config
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(listingService services.IListingService, txService services.ITransactionService, cfg *config.Config) *MarketHandler {
	return &MarketHandler{listingService: listingService, txService: txService, cfg: cfg}
}

// GetSales handles GET /v1/sales/:key, where key is an app id, app name or
// listing slug.
func (h *MarketHandler) GetSales(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Sales key is required"})
		return
	}

	sales, err := h.txService.RecentSales(c.Request.Context(), key, chainParam(c, h.cfg.DefaultChainID), limitParam(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch sales"})
		return
	}
	if sales == nil {
		sales = []models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

// GetBuyer handles GET /v1/buyer/:address: the buyer's purchase history from
// the ledger. Secrets are never part of ledger rows, so nothing to redact.
func (h *MarketHandler) GetBuyer(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid buyer address"})
		return
	}

	purchases, err := h.txService.BuyerHistory(c.Request.Context(), strings.ToLower(address), limitParam(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch purchase history"})
		return
	}
	if purchases == nil {
		purchases = []models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

// GetApps handles GET /v1/apps: the featured-app catalog with each app's
// cheapest available listing, when one exists.
func (h *MarketHandler) GetApps(c *gin.Context) {
	type appEntry struct {
		models.FeaturedApp
		LowestPriceUsdc *float64 `json:"lowestPriceUsdc,omitempty"`
	}

	chainID := chainParam(c, h.cfg.DefaultChainID)
	apps := make([]appEntry, 0, len(models.FeaturedApps))
	for _, app := range models.FeaturedApps {
		entry := appEntry{FeaturedApp: app}
		if cheapest, err := h.listingService.LowestPriceByApp(c.Request.Context(), app.ID, chainID); err == nil {
			entry.LowestPriceUsdc = &cheapest.PriceUsdc
		}
		apps = append(apps, entry)
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultSalesLimit)))
	if err != nil || limit <= 0 || limit > 200 {
		return defaultSalesLimit
	}
	return limit
}

// chainParam resolves the chainId query parameter. Prices and revenue are
// chain-scoped, so every money-facing endpoint queries one chain at a time.
func chainParam(c *gin.Context, defaultChainID int64) int64 {
	if raw := c.Query("chainId"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return defaultChainID
}
