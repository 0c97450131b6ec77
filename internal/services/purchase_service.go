package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
	"github.com/apoorvlathey/invite-markets-sub002/internal/notify"
	"github.com/apoorvlathey/invite-markets-sub002/internal/payments"
	"github.com/apoorvlathey/invite-markets-sub002/internal/tasks"
)

// ITaskClient matches the asynq client's Enqueue method, so tests can swap in
// a mock and the API process can run without a worker attached.
type ITaskClient interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PurchaseResult is what a successful purchase returns to the buyer.
type PurchaseResult struct {
	Payload      *models.Payload
	Listing      *models.Listing
	PayerAddress string
	SettlementTx string
}

// IPurchaseService orchestrates the purchase flow: availability check,
// settlement, atomic inventory claim, ledger append, secret release.
type IPurchaseService interface {
	RequestPurchase(ctx context.Context, slug string, proof json.RawMessage, resource string) (*PurchaseResult, error)
	RequirementsFor(ctx context.Context, slug, resource string) (*payments.PaymentRequirements, error)
}

type purchaseService struct {
	listingService IListingService
	txService      ITransactionService
	facilitator    payments.IFacilitator
	taskClient     ITaskClient
}

// NewPurchaseService creates a new PurchaseService. taskClient may be nil, in
// which case sale notifications are skipped entirely.
func NewPurchaseService(listingService IListingService, txService ITransactionService, facilitator payments.IFacilitator, taskClient ITaskClient) IPurchaseService {
	return &purchaseService{
		listingService: listingService,
		txService:      txService,
		facilitator:    facilitator,
		taskClient:     taskClient,
	}
}

// RequirementsFor builds the 402 payment requirements for a listing, failing
// fast if it cannot currently be purchased.
func (s *purchaseService) RequirementsFor(ctx context.Context, slug, resource string) (*payments.PaymentRequirements, error) {
	listing, err := s.listingService.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !listing.Available() {
		s.logUnavailable(listing)
		return nil, ErrListingUnavailable
	}
	reqs, err := payments.RequirementsForListing(listing, resource)
	if err != nil {
		return nil, err
	}
	return &reqs, nil
}

// RequestPurchase runs the full purchase flow for one payment proof.
func (s *purchaseService) RequestPurchase(ctx context.Context, slug string, proof json.RawMessage, resource string) (*PurchaseResult, error) {
	// 1. Lookup.
	listing, err := s.listingService.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	// 2. Availability: fail before any money moves.
	if !listing.Available() {
		s.logUnavailable(listing)
		return nil, ErrListingUnavailable
	}

	reqs, err := payments.RequirementsForListing(listing, resource)
	if err != nil {
		return nil, err
	}

	// 3. Settlement. Failures from the facilitator propagate verbatim; the
	// buyer's payment client needs the original status/body/headers to react.
	settlement, err := s.facilitator.Settle(ctx, proof, reqs)
	if err != nil {
		return nil, err
	}

	// 4. Atomic inventory claim. The payment has settled; losing the claim to
	// a concurrent purchase is the accepted business race. Refunds are a
	// manual/external process, so make the loss loud.
	consumed, err := s.listingService.ConsumeInventory(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrSoldOut) || errors.Is(err, ErrListingNotFound) {
			log.Printf("CRITICAL: payment %s from %s settled for listing %s but inventory claim failed: %v. Manual refund required.",
				settlement.Transaction, settlement.Payer, slug, err)
			return nil, ErrSoldOut
		}
		// Store unreachable after settlement: the claim state is unknown.
		log.Printf("CRITICAL: payment %s from %s settled for listing %s but inventory update errored: %v",
			settlement.Transaction, settlement.Payer, slug, err)
		return nil, fmt.Errorf("inventory update failed after settlement: %w", err)
	}

	// 5. Ledger append. The buyer has paid; an append failure must not block
	// the secret release. Logged for reconciliation, never surfaced.
	tx := &models.Transaction{
		ListingSlug:   consumed.Slug,
		SellerAddress: consumed.SellerAddress,
		BuyerAddress:  settlement.Payer,
		AppID:         consumed.AppID,
		AppName:       consumed.AppName,
		ChainID:       consumed.ChainID,
		PriceUsdc:     consumed.PriceUsdc,
	}
	if err := s.txService.Append(ctx, tx); err != nil {
		log.Printf("CRITICAL: failed to record transaction for settled payment %s on listing %s: %v",
			settlement.Transaction, slug, err)
	}

	// 6. Secret release: the one place the listing-type union is unpacked.
	payload, err := consumed.SecretPayload()
	if err != nil {
		// The unit is consumed and paid for; a malformed payload is a data
		// bug, not a buyer error. Surface it so operators notice.
		log.Printf("CRITICAL: listing %s consumed by payment %s but has no releasable payload: %v",
			slug, settlement.Transaction, err)
		return nil, fmt.Errorf("listing %s payload is malformed: %w", slug, err)
	}

	// 7. Fire-and-forget sale notification.
	s.enqueueSaleNotification(consumed, settlement.Payer)

	return &PurchaseResult{
		Payload:      payload,
		Listing:      consumed,
		PayerAddress: settlement.Payer,
		SettlementTx: settlement.Transaction,
	}, nil
}

// logUnavailable distinguishes the unavailability causes in logs; the wire
// error stays a single ErrListingUnavailable.
func (s *purchaseService) logUnavailable(listing *models.Listing) {
	switch {
	case listing.Status == models.ListingStatusCancelled:
		log.Printf("Purchase attempt on cancelled listing %s", listing.Slug)
	case listing.Status == models.ListingStatusSold:
		log.Printf("Purchase attempt on sold listing %s", listing.Slug)
	case listing.MaxUses != models.UnlimitedUses && listing.PurchaseCount >= listing.MaxUses:
		log.Printf("Purchase attempt on exhausted listing %s (%d/%d uses)", listing.Slug, listing.PurchaseCount, listing.MaxUses)
	default:
		log.Printf("Purchase attempt on unavailable listing %s (status %s)", listing.Slug, listing.Status)
	}
}

// enqueueSaleNotification dispatches the sale event to the background worker.
// Never blocks the purchase response and never propagates failure.
func (s *purchaseService) enqueueSaleNotification(listing *models.Listing, buyer string) {
	if s.taskClient == nil {
		return
	}
	event := notify.SaleEvent{
		ListingSlug:   listing.Slug,
		AppName:       models.AppDisplayName(listing.AppID, listing.AppName),
		PriceUsdc:     listing.PriceUsdc,
		SellerAddress: listing.SellerAddress,
		BuyerAddress:  buyer,
		ChainID:       listing.ChainID,
	}
	task, err := tasks.NewSaleNotifyTask(event)
	if err != nil {
		log.Printf("WARN: failed to build sale notification task for listing %s: %v", listing.Slug, err)
		return
	}
	if _, err := s.taskClient.Enqueue(task); err != nil {
		log.Printf("WARN: failed to enqueue sale notification for listing %s: %v", listing.Slug, err)
	}
}
