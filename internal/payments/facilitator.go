package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
	"github.com/apoorvlathey/invite-markets-sub002/internal/models"
)

// x402Version is the payment-protocol version spoken with the facilitator.
const x402Version = 1

// PaymentRequirements describes what a buyer must pay for one resource. It is
// sent to the buyer in 402 responses and to the facilitator alongside the proof.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"` // atomic units (USDC: 6 decimals)
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// SettleResult is the facilitator's view of a completed settlement.
type SettleResult struct {
	Success     bool   `json:"success"`
	Payer       string `json:"payer"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// SettleError carries a facilitator failure verbatim. Buyers' payment clients
// react to the exact status/body/headers the facilitator produced, so nothing
// here is rewritten or interpreted.
type SettleError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *SettleError) Error() string {
	return fmt.Sprintf("payment facilitator returned status %d: %s", e.StatusCode, string(e.Body))
}

// IFacilitator is the settlement boundary the purchase flow depends on.
type IFacilitator interface {
	Verify(ctx context.Context, proof json.RawMessage, reqs PaymentRequirements) error
	Settle(ctx context.Context, proof json.RawMessage, reqs PaymentRequirements) (*SettleResult, error)
}

// chainNetwork maps a chain ID to its x402 network name and USDC token domain.
type chainNetwork struct {
	Name        string
	USDCAddress string
	USDCName    string
	USDCVersion string
}

var chainNetworks = map[int64]chainNetwork{
	8453:  {Name: "base", USDCAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", USDCName: "USD Coin", USDCVersion: "2"},
	84532: {Name: "base-sepolia", USDCAddress: "0x036cbd53842c5426634e7929541ec2318f3dcf7e", USDCName: "USDC", USDCVersion: "2"},
}

// RequirementsForListing builds the payment requirements for purchasing a
// listing. The Extra name/version fields and the lowercased addresses are a
// normalization for the facilitator's EIP-3009 domain reconstruction: without
// them the upstream rejects otherwise-valid proofs. Remove once fixed upstream.
func RequirementsForListing(listing *models.Listing, resource string) (PaymentRequirements, error) {
	network, ok := chainNetworks[listing.ChainID]
	if !ok {
		return PaymentRequirements{}, fmt.Errorf("unsupported chain ID %d for listing %s", listing.ChainID, listing.Slug)
	}
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           network.Name,
		MaxAmountRequired: UsdcToAtomic(listing.PriceUsdc),
		Resource:          resource,
		Description:       fmt.Sprintf("Invite access: %s", models.AppDisplayName(listing.AppID, listing.AppName)),
		MimeType:          "application/json",
		PayTo:             strings.ToLower(listing.SellerAddress),
		MaxTimeoutSeconds: 60,
		Asset:             network.USDCAddress,
		Extra: map[string]string{
			"name":    network.USDCName,
			"version": network.USDCVersion,
		},
	}, nil
}

// UsdcToAtomic converts a USDC amount to its 6-decimal atomic-unit string.
func UsdcToAtomic(usdc float64) string {
	return strconv.FormatInt(int64(math.Round(usdc*1e6)), 10)
}

// httpFacilitator talks to an x402 facilitator over HTTP.
type httpFacilitator struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPFacilitator creates a facilitator client for the configured endpoint.
func NewHTTPFacilitator(cfg *config.Config) IFacilitator {
	return &httpFacilitator{
		baseURL:    strings.TrimRight(cfg.FacilitatorURL, "/"),
		httpClient: &http.Client{Timeout: cfg.FacilitatorTimeout},
	}
}

type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      json.RawMessage     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Verify asks the facilitator whether the proof is valid, without moving funds.
func (f *httpFacilitator) Verify(ctx context.Context, proof json.RawMessage, reqs PaymentRequirements) error {
	_, err := f.post(ctx, "/verify", proof, reqs)
	return err
}

// Settle submits the proof for on-chain settlement.
func (f *httpFacilitator) Settle(ctx context.Context, proof json.RawMessage, reqs PaymentRequirements) (*SettleResult, error) {
	return f.post(ctx, "/settle", proof, reqs)
}

func (f *httpFacilitator) post(ctx context.Context, path string, proof json.RawMessage, reqs PaymentRequirements) (*SettleResult, error) {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         x402Version,
		PaymentPayload:      proof,
		PaymentRequirements: reqs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal facilitator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build facilitator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facilitator request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read facilitator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &SettleError{StatusCode: resp.StatusCode, Body: respBody, Header: resp.Header.Clone()}
	}

	var result SettleResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse facilitator response: %w", err)
	}
	if !result.Success {
		// The facilitator reports scheme-level rejections with HTTP 200 and
		// success=false. Surface them the same way as transport-level failures.
		return nil, &SettleError{StatusCode: http.StatusPaymentRequired, Body: respBody, Header: resp.Header.Clone()}
	}
	result.Payer = strings.ToLower(result.Payer)
	return &result, nil
}

// DecodeProofHeader decodes an X-PAYMENT header (base64 JSON per the x402 spec)
// into the raw payload forwarded to the facilitator. Raw JSON is also accepted
// since some payment clients skip the base64 wrapping.
func DecodeProofHeader(header string) (json.RawMessage, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty payment header")
	}
	if strings.HasPrefix(header, "{") {
		if !json.Valid([]byte(header)) {
			return nil, fmt.Errorf("payment header is not valid JSON")
		}
		return json.RawMessage(header), nil
	}
	// Payment clients are inconsistent about padding.
	if m := len(header) % 4; m != 0 {
		header += strings.Repeat("=", 4-m)
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("payment header is not valid base64: %w", err)
	}
	if !json.Valid(decoded) {
		return nil, fmt.Errorf("decoded payment header is not valid JSON")
	}
	return json.RawMessage(decoded), nil
}
