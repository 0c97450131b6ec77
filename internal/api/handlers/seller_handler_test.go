package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/apoorvlathey/invite-markets-sub002/internal/api/handlers"
	"github.com/apoorvlathey/invite-markets-sub002/internal/auth"
	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
)

func setupSellerRouter(listingSvc services.IListingService, txSvc services.ITransactionService, verifier auth.IOwnerVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := handlers.NewSellerHandler(listingSvc, txSvc, verifier, testConfig())
	r.GET("/v1/seller/:address", handler.GetSeller)
	return r
}

func sellerFixtures() (*services.SellerStats, []models.Listing) {
	stats := &services.SellerStats{TotalSales: 2, TotalRevenueUsdc: 10}
	listings := []models.Listing{*storedListing()}
	return stats, listings
}

func TestSellerHandler_PublicViewIsRedacted(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockTxSvc := new(MockTransactionService)
	r := setupSellerRouter(mockListingSvc, mockTxSvc, new(MockOwnerVerifier))

	stats, listings := sellerFixtures()
	mockTxSvc.On("SellerStats", mock.Anything, sellerAddress, int64(8453)).Return(stats, nil)
	mockListingSvc.On("FindBySeller", mock.Anything, sellerAddress).Return(listings, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/seller/"+sellerAddress, nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "inviteUrl")

	var respBody struct {
		Address  string                `json:"address"`
		Stats    *services.SellerStats `json:"stats"`
		Listings []models.Listing      `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &respBody))
	assert.Equal(t, sellerAddress, respBody.Address)
	assert.Equal(t, int64(2), respBody.Stats.TotalSales)
	require.Len(t, respBody.Listings, 1)
	assert.Empty(t, respBody.Listings[0].InviteURL)
}

func TestSellerHandler_AuthenticatedViewKeepsSecrets(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockTxSvc := new(MockTransactionService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupSellerRouter(mockListingSvc, mockTxSvc, mockVerifier)

	stats, listings := sellerFixtures()
	mockVerifier.On("VerifySellerReadAuth", mock.Anything, sellerAddress, "Timestamp: 1700000000000", int64(8453), mock.Anything).Return(nil)
	mockTxSvc.On("SellerStats", mock.Anything, sellerAddress, int64(8453)).Return(stats, nil)
	mockListingSvc.On("FindBySeller", mock.Anything, sellerAddress).Return(listings, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/seller/"+sellerAddress, nil)
	req.Header.Set("X-Seller-Signature", testSignature)
	req.Header.Set("X-Seller-Message", "Timestamp: 1700000000000")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://x.test/inv")
	mockVerifier.AssertExpectations(t)
}

func TestSellerHandler_InvalidReadAuthFailsInsteadOfDowngrading(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockTxSvc := new(MockTransactionService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupSellerRouter(mockListingSvc, mockTxSvc, mockVerifier)

	mockVerifier.On("VerifySellerReadAuth", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(auth.ErrInvalidSignature)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/seller/"+sellerAddress, nil)
	req.Header.Set("X-Seller-Signature", testSignature)
	req.Header.Set("X-Seller-Message", "Timestamp: 1700000000000")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	mockListingSvc.AssertNotCalled(t, "FindBySeller", mock.Anything, mock.Anything)
}

func TestSellerHandler_StaleReadAuth(t *testing.T) {
	mockVerifier := new(MockOwnerVerifier)
	r := setupSellerRouter(new(MockListingService), new(MockTransactionService), mockVerifier)

	mockVerifier.On("VerifySellerReadAuth", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(auth.ErrSignatureExpired)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/seller/"+sellerAddress, nil)
	req.Header.Set("X-Seller-Signature", testSignature)
	req.Header.Set("X-Seller-Message", "Timestamp: 1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestSellerHandler_MissingSignatureHeader(t *testing.T) {
	r := setupSellerRouter(new(MockListingService), new(MockTransactionService), new(MockOwnerVerifier))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/seller/"+sellerAddress, nil)
	req.Header.Set("X-Seller-Message", "Timestamp: 1700000000000")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSellerHandler_InvalidAddress(t *testing.T) {
	r := setupSellerRouter(new(MockListingService), new(MockTransactionService), new(MockOwnerVerifier))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/seller/not-an-address", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSellerHandler_UppercaseAddressNormalized(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockTxSvc := new(MockTransactionService)
	r := setupSellerRouter(mockListingSvc, mockTxSvc, new(MockOwnerVerifier))

	stats, _ := sellerFixtures()
	mockTxSvc.On("SellerStats", mock.Anything, sellerAddress, int64(8453)).Return(stats, nil)
	mockListingSvc.On("FindBySeller", mock.Anything, sellerAddress).Return([]models.Listing{}, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/seller/0x52908400098527886E0F7030069857D2E4169EE7", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockTxSvc.AssertExpectations(t)
}
