package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// LocalFacilitator approves any structurally-valid proof without touching a
// payment network. Used when MOCK_SERVICES is enabled and by tests; it keeps
// the full purchase flow exercisable with no facilitator deployment.
type LocalFacilitator struct{}

func NewLocalFacilitator() IFacilitator {
	return &LocalFacilitator{}
}

// localProof is the minimal shape a mock payment proof must carry.
type localProof struct {
	Payer string `json:"payer"`
	Fail  bool   `json:"fail,omitempty"` // force a settlement failure in tests
}

func (f *LocalFacilitator) Verify(ctx context.Context, proof json.RawMessage, reqs PaymentRequirements) error {
	_, err := f.Settle(ctx, proof, reqs)
	return err
}

func (f *LocalFacilitator) Settle(ctx context.Context, proof json.RawMessage, reqs PaymentRequirements) (*SettleResult, error) {
	var p localProof
	if err := json.Unmarshal(proof, &p); err != nil || !common.IsHexAddress(p.Payer) {
		return nil, &SettleError{
			StatusCode: http.StatusPaymentRequired,
			Body:       []byte(`{"success":false,"errorReason":"invalid_payment_payload"}`),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
		}
	}
	if p.Fail {
		return nil, &SettleError{
			StatusCode: http.StatusPaymentRequired,
			Body:       []byte(`{"success":false,"errorReason":"insufficient_funds"}`),
			Header:     http.Header{"Content-Type": []string{"application/json"}},
		}
	}
	return &SettleResult{
		Success:     true,
		Payer:       strings.ToLower(p.Payer),
		Transaction: "0xmock" + uuid.NewString(),
		Network:     reqs.Network,
	}, nil
}
