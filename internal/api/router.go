package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/apoorvlathey/invite-markets-sub002/internal/api/handlers"
	"github.com/apoorvlathey/invite-markets-sub002/internal/api/middleware"
	"github.com/apoorvlathey/invite-markets-sub002/internal/auth"
	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
	"github.com/apoorvlathey/invite-markets-sub002/internal/notify"
	"github.com/apoorvlathey/invite-markets-sub002/internal/payments"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
)

// SetupRouter configures and returns the main Gin engine. The facilitator and
// verifier are passed in so main can swap in mock implementations.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, taskClient services.ITaskClient, facilitator payments.IFacilitator, verifier auth.IOwnerVerifier) *gin.Engine {
	// Initialize services needed by API handlers HERE
	listingService := services.NewListingService(db, cfg)
	txService := services.NewTransactionService(db)
	purchaseService := services.NewPurchaseService(listingService, txService, facilitator, taskClient)

	r := gin.Default()

	// Initialize Middleware
	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Apply global middleware first (order matters)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	// Initialize handlers
	purchaseHandler := handlers.NewPurchaseHandler(purchaseService)
	listingHandler := handlers.NewListingHandler(listingService, verifier, rdb, cfg)
	sellerHandler := handlers.NewSellerHandler(listingService, txService, verifier, cfg)
	marketHandler := handlers.NewMarketHandler(listingService, txService, cfg)

	v1 := r.Group("/v1")
	{
		v1.POST("/purchase/:slug", purchaseHandler.HandlePurchase)

		// Listing routes - lowest-price before :slug to avoid conflicts
		v1.GET("/listing/lowest-price", listingHandler.GetLowestPrice)
		v1.POST("/listing", listingHandler.CreateListing)
		v1.GET("/listing/:slug", listingHandler.GetListing)
		v1.PATCH("/listing/:slug", listingHandler.UpdateListing)
		v1.DELETE("/listing/:slug", listingHandler.DeleteListing)

		v1.GET("/sales/:key", marketHandler.GetSales)
		v1.GET("/seller/:address", sellerHandler.GetSeller)
		v1.GET("/buyer/:address", marketHandler.GetBuyer)
		v1.GET("/apps", marketHandler.GetApps)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine, bound to
// its own port. Used by deployment tooling and integration tests.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getMockSale":
			// Fetch a sale notification captured in Redis by the mock sender.
			var args []string // Expect ["listingSlug"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [listingSlug]"})
				return
			}
			redisKey := notify.MockSaleKey(args[0])

			// Poll Redis briefly for the key
			var saleJsonData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ { // Poll up to ~2 seconds
				saleJsonData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey) // Delete after fetching
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				// If redis.Nil, wait and retry
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Mock sale not found in Redis for key %s", redisKey)})
				return
			}

			var saleData map[string]interface{}
			if err := json.Unmarshal([]byte(saleJsonData), &saleData); err != nil {
				log.Printf("Service API: Error unmarshalling sale data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored sale data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": saleData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})

	return r
}
