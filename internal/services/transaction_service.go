package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
)

// SellerStats aggregates a seller's ledger history.
type SellerStats struct {
	TotalSales       int64   `json:"totalSales"`
	TotalRevenueUsdc float64 `json:"totalRevenueUsdc"`
}

// ITransactionService is the append-only sales ledger. There are deliberately
// no update or delete operations.
type ITransactionService interface {
	Append(ctx context.Context, tx *models.Transaction) error
	RecentSales(ctx context.Context, key string, chainID int64, limit int) ([]models.Transaction, error)
	SellerStats(ctx context.Context, sellerAddress string, chainID int64) (*SellerStats, error)
	BuyerHistory(ctx context.Context, buyerAddress string, limit int) ([]models.Transaction, error)
}

const transactionsCollection = "transactions"

type transactionService struct {
	db *mongo.Database
}

// NewTransactionService creates a new TransactionService.
func NewTransactionService(db *mongo.Database) ITransactionService {
	return &transactionService{db: db}
}

// Append records one completed sale. The caller passes the settle-time price
// snapshot; this method never reads the listing back.
func (s *transactionService) Append(ctx context.Context, tx *models.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.SellerAddress = strings.ToLower(tx.SellerAddress)
	tx.BuyerAddress = strings.ToLower(tx.BuyerAddress)

	res, err := s.db.Collection(transactionsCollection).InsertOne(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to append transaction for listing %s: %w", tx.ListingSlug, err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		tx.ID = oid
	}
	return nil
}

// RecentSales returns the newest transactions on one chain whose listing slug
// or app association matches the key (case-insensitive, full-string).
func (s *transactionService) RecentSales(ctx context.Context, key string, chainID int64, limit int) ([]models.Transaction, error) {
	pattern := primitive.Regex{Pattern: "^" + regexp.QuoteMeta(key) + "$", Options: "i"}
	filter := bson.M{
		"chain_id": chainID,
		"$or": bson.A{
			bson.M{"listing_slug": key},
			bson.M{"app_id": pattern},
			bson.M{"app_name": pattern},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))

	cursor, err := s.db.Collection(transactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding recent sales for %s: %w", key, err)
	}
	defer cursor.Close(ctx)

	var sales []models.Transaction
	if err = cursor.All(ctx, &sales); err != nil {
		return nil, fmt.Errorf("error decoding recent sales for %s: %w", key, err)
	}
	return sales, nil
}

// SellerStats sums a seller's sales count and revenue over the ledger for one
// chain. Revenue on different chains never ends up in the same sum: testnet
// USDC would otherwise inflate a mainnet total.
func (s *transactionService) SellerStats(ctx context.Context, sellerAddress string, chainID int64) (*SellerStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"seller_address": strings.ToLower(sellerAddress),
			"chain_id":       chainID,
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":           nil,
			"total_sales":   bson.M{"$sum": 1},
			"total_revenue": bson.M{"$sum": "$price_usdc"},
		}}},
	}

	cursor, err := s.db.Collection(transactionsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("error aggregating stats for seller %s: %w", sellerAddress, err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		TotalSales   int64   `bson:"total_sales"`
		TotalRevenue float64 `bson:"total_revenue"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("error decoding stats for seller %s: %w", sellerAddress, err)
	}
	if len(results) == 0 {
		return &SellerStats{}, nil
	}
	return &SellerStats{
		TotalSales:       results[0].TotalSales,
		TotalRevenueUsdc: results[0].TotalRevenue,
	}, nil
}

// BuyerHistory returns a buyer's purchases, newest first.
func (s *transactionService) BuyerHistory(ctx context.Context, buyerAddress string, limit int) ([]models.Transaction, error) {
	filter := bson.M{"buyer_address": strings.ToLower(buyerAddress)}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))

	cursor, err := s.db.Collection(transactionsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("error finding purchases for buyer %s: %w", buyerAddress, err)
	}
	defer cursor.Close(ctx)

	var purchases []models.Transaction
	if err = cursor.All(ctx, &purchases); err != nil {
		return nil, fmt.Errorf("error decoding purchases for buyer %s: %w", buyerAddress, err)
	}
	return purchases, nil
}
