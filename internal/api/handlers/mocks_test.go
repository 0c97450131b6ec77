package handlers_test

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/payments"
	"github.com/apoorvlathey/invite-markets-sub002/internal/services"
)

// --- Mocks ---

// MockListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, params services.CreateListingParams) (*models.Listing, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindBySlug(ctx context.Context, slug string) (*models.Listing, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindBySeller(ctx context.Context, sellerAddress string) ([]models.Listing, error) {
	args := m.Called(ctx, sellerAddress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) FindByApp(ctx context.Context, appKey string, chainID int64) ([]models.Listing, error) {
	args := m.Called(ctx, appKey, chainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) LowestPriceByApp(ctx context.Context, appKey string, chainID int64) (*models.Listing, error) {
	args := m.Called(ctx, appKey, chainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) UpdateFields(ctx context.Context, slug, sellerAddress string, updates map[string]interface{}) (*models.Listing, error) {
	args := m.Called(ctx, slug, sellerAddress, updates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) Delete(ctx context.Context, slug, sellerAddress string) error {
	args := m.Called(ctx, slug, sellerAddress)
	return args.Error(0)
}

func (m *MockListingService) ConsumeInventory(ctx context.Context, slug string) (*models.Listing, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

// MockTransactionService
type MockTransactionService struct {
	mock.Mock
}

func (m *MockTransactionService) Append(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionService) RecentSales(ctx context.Context, key string, chainID int64, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, key, chainID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockTransactionService) SellerStats(ctx context.Context, sellerAddress string, chainID int64) (*services.SellerStats, error) {
	args := m.Called(ctx, sellerAddress, chainID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SellerStats), args.Error(1)
}

func (m *MockTransactionService) BuyerHistory(ctx context.Context, buyerAddress string, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, buyerAddress, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

// MockPurchaseService
type MockPurchaseService struct {
	mock.Mock
}

func (m *MockPurchaseService) RequestPurchase(ctx context.Context, slug string, proof json.RawMessage, resource string) (*services.PurchaseResult, error) {
	args := m.Called(ctx, slug, proof, resource)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PurchaseResult), args.Error(1)
}

func (m *MockPurchaseService) RequirementsFor(ctx context.Context, slug, resource string) (*payments.PaymentRequirements, error) {
	args := m.Called(ctx, slug, resource)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.PaymentRequirements), args.Error(1)
}

// MockOwnerVerifier
type MockOwnerVerifier struct {
	mock.Mock
}

func (m *MockOwnerVerifier) VerifyOwnerRequest(ctx context.Context, claimedAddress, intent, slug string, nonce int64, chainID int64, signature []byte) error {
	args := m.Called(ctx, claimedAddress, intent, slug, nonce, chainID, signature)
	return args.Error(0)
}

func (m *MockOwnerVerifier) VerifySellerReadAuth(ctx context.Context, claimedAddress, message string, chainID int64, signature []byte) error {
	args := m.Called(ctx, claimedAddress, message, chainID, signature)
	return args.Error(0)
}
