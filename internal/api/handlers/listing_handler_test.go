package handlers_test

import (
	"bytes"
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
	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
)

const testSignature = "0xababab"

func testConfig() *config.Config {
	return &config.Config{DefaultChainID: 8453}
}

func setupListingRouter(listingSvc services.IListingService, verifier auth.IOwnerVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := handlers.NewListingHandler(listingSvc, verifier, nil, testConfig())
	r.GET("/v1/listing/lowest-price", handler.GetLowestPrice)
	r.POST("/v1/listing", handler.CreateListing)
	r.GET("/v1/listing/:slug", handler.GetListing)
	r.PATCH("/v1/listing/:slug", handler.UpdateListing)
	r.DELETE("/v1/listing/:slug", handler.DeleteListing)
	return r
}

func storedListing() *models.Listing {
	return &models.Listing{
		Slug:          "slugkk0001",
		SellerAddress: sellerAddress,
		PriceUsdc:     5,
		ChainID:       8453,
		ListingType:   models.ListingTypeInviteLink,
		InviteURL:     "https://x.test/inv",
		MaxUses:       1,
		AppID:         "sora",
		Status:        models.ListingStatusActive,
	}
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestListingHandler_CreateSuccess(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupListingRouter(mockListingSvc, mockVerifier)

	mockVerifier.On("VerifyOwnerRequest", mock.Anything, sellerAddress, auth.IntentCreate, "", int64(1700000000000), int64(8453), mock.Anything).Return(nil)
	mockListingSvc.On("CreateListing", mock.Anything, mock.AnythingOfType("services.CreateListingParams")).Return(storedListing(), nil)

	w := httptest.NewRecorder()
	req := jsonRequest(t, "POST", "/v1/listing", gin.H{
		"sellerAddress": sellerAddress,
		"nonce":         1700000000000,
		"signature":     testSignature,
		"priceUsdc":     5,
		"listingType":   "invite_link",
		"inviteUrl":     "https://x.test/inv",
		"maxUses":       1,
		"appId":         "sora",
	})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var respBody models.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &respBody))
	assert.Equal(t, "slugkk0001", respBody.Slug)
	// Creator sees their own secret
	assert.Equal(t, "https://x.test/inv", respBody.InviteURL)

	params := mockListingSvc.Calls[0].Arguments.Get(1).(services.CreateListingParams)
	assert.Equal(t, int64(8453), params.ChainID) // defaulted
	mockVerifier.AssertExpectations(t)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_CreateInvalidSignature(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupListingRouter(mockListingSvc, mockVerifier)

	mockVerifier.On("VerifyOwnerRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(auth.ErrInvalidSignature)

	w := httptest.NewRecorder()
	req := jsonRequest(t, "POST", "/v1/listing", gin.H{
		"sellerAddress": sellerAddress,
		"nonce":         1700000000000,
		"signature":     testSignature,
		"priceUsdc":     5,
		"listingType":   "invite_link",
		"inviteUrl":     "https://x.test/inv",
		"maxUses":       1,
		"appId":         "sora",
	})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	mockListingSvc.AssertNotCalled(t, "CreateListing", mock.Anything, mock.Anything)
}

func TestListingHandler_CreateExpiredSignature(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupListingRouter(mockListingSvc, mockVerifier)

	mockVerifier.On("VerifyOwnerRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(auth.ErrSignatureExpired)

	w := httptest.NewRecorder()
	req := jsonRequest(t, "POST", "/v1/listing", gin.H{
		"sellerAddress": sellerAddress,
		"nonce":         1000,
		"signature":     testSignature,
		"priceUsdc":     5,
		"listingType":   "invite_link",
		"inviteUrl":     "https://x.test/inv",
		"maxUses":       1,
		"appId":         "sora",
	})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "expired")
}

func TestListingHandler_GetListingRedacted(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := setupListingRouter(mockListingSvc, new(MockOwnerVerifier))

	mockListingSvc.On("FindBySlug", mock.Anything, "slugkk0001").Return(storedListing(), nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/slugkk0001", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "inviteUrl")
	assert.NotContains(t, w.Body.String(), "accessCode")
	assert.Contains(t, w.Body.String(), "slugkk0001")
}

func TestListingHandler_GetListingNotFound(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := setupListingRouter(mockListingSvc, new(MockOwnerVerifier))

	mockListingSvc.On("FindBySlug", mock.Anything, "slugkk0002").Return(nil, services.ErrListingNotFound)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/slugkk0002", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListingHandler_UpdateMapsFieldNames(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupListingRouter(mockListingSvc, mockVerifier)

	mockVerifier.On("VerifyOwnerRequest", mock.Anything, sellerAddress, auth.IntentUpdate, "slugkk0001", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	updated := storedListing()
	updated.PriceUsdc = 7.5
	mockListingSvc.On("UpdateFields", mock.Anything, "slugkk0001", sellerAddress,
		map[string]interface{}{"price_usdc": 7.5, "max_uses": 3}).Return(updated, nil)

	w := httptest.NewRecorder()
	req := jsonRequest(t, "PATCH", "/v1/listing/slugkk0001", gin.H{
		"sellerAddress": sellerAddress,
		"nonce":         1700000000000,
		"signature":     testSignature,
		"updates":       gin.H{"priceUsdc": 7.5, "maxUses": 3},
	})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_UpdateRejectsUnknownField(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupListingRouter(mockListingSvc, mockVerifier)

	mockVerifier.On("VerifyOwnerRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	w := httptest.NewRecorder()
	req := jsonRequest(t, "PATCH", "/v1/listing/slugkk0001", gin.H{
		"sellerAddress": sellerAddress,
		"nonce":         1700000000000,
		"signature":     testSignature,
		"updates":       gin.H{"sellerAddress": "0x0"},
	})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockListingSvc.AssertNotCalled(t, "UpdateFields", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListingHandler_DeleteSuccess(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupListingRouter(mockListingSvc, mockVerifier)

	mockVerifier.On("VerifyOwnerRequest", mock.Anything, sellerAddress, auth.IntentDelete, "slugkk0001", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockListingSvc.On("FindBySlug", mock.Anything, "slugkk0001").Return(storedListing(), nil)
	mockListingSvc.On("Delete", mock.Anything, "slugkk0001", sellerAddress).Return(nil)

	w := httptest.NewRecorder()
	req := jsonRequest(t, "DELETE", "/v1/listing/slugkk0001", gin.H{
		"sellerAddress": sellerAddress,
		"nonce":         1700000000000,
		"signature":     testSignature,
	})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_DeleteAlreadyCancelled(t *testing.T) {
	mockListingSvc := new(MockListingService)
	mockVerifier := new(MockOwnerVerifier)
	r := setupListingRouter(mockListingSvc, mockVerifier)

	mockVerifier.On("VerifyOwnerRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockListingSvc.On("FindBySlug", mock.Anything, "slugkk0001").Return(storedListing(), nil)
	mockListingSvc.On("Delete", mock.Anything, "slugkk0001", sellerAddress).Return(services.ErrListingUnavailable)

	w := httptest.NewRecorder()
	req := jsonRequest(t, "DELETE", "/v1/listing/slugkk0001", gin.H{
		"sellerAddress": sellerAddress,
		"nonce":         1700000000000,
		"signature":     testSignature,
	})
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListingHandler_LowestPrice(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := setupListingRouter(mockListingSvc, new(MockOwnerVerifier))

	mockListingSvc.On("LowestPriceByApp", mock.Anything, "Foo", int64(8453)).Return(storedListing(), nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/lowest-price?appId=Foo", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var respBody models.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &respBody))
	assert.Equal(t, 5.0, respBody.PriceUsdc)
	assert.Empty(t, respBody.InviteURL)
}

func TestListingHandler_LowestPriceChainOverride(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := setupListingRouter(mockListingSvc, new(MockOwnerVerifier))

	mockListingSvc.On("LowestPriceByApp", mock.Anything, "Foo", int64(84532)).Return(storedListing(), nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/lowest-price?appId=Foo&chainId=84532", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockListingSvc.AssertExpectations(t)
}

func TestListingHandler_LowestPriceMissingParam(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := setupListingRouter(mockListingSvc, new(MockOwnerVerifier))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/lowest-price", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockListingSvc.AssertNotCalled(t, "LowestPriceByApp", mock.Anything, mock.Anything, mock.Anything)
}

func TestListingHandler_LowestPriceNoListings(t *testing.T) {
	mockListingSvc := new(MockListingService)
	r := setupListingRouter(mockListingSvc, new(MockOwnerVerifier))

	mockListingSvc.On("LowestPriceByApp", mock.Anything, "ghost", int64(8453)).Return(nil, services.ErrListingNotFound)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing/lowest-price?appName=ghost", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
