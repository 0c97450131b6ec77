package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature expired")
	ErrInvalidAddress   = errors.New("invalid address")
)

// Mutation intents bound into owner signatures.
const (
	IntentCreate = "create"
	IntentUpdate = "update"
	IntentDelete = "delete"
)

// IOwnerVerifier authenticates listing mutations and seller read access.
type IOwnerVerifier interface {
	// VerifyOwnerRequest checks an EIP-712 signature binding the mutating
	// intent, the target slug (empty for create), the seller address and a
	// millisecond-timestamp nonce. The nonce gives replay protection only
	// within its freshness window; there is no single-use nonce ledger.
	VerifyOwnerRequest(ctx context.Context, claimedAddress, intent, slug string, nonce int64, chainID int64, signature []byte) error

	// VerifySellerReadAuth checks a personal-sign signature over a freeform
	// message containing a "Timestamp: <ms>" line. Timestamps older than the
	// auth window or more than the skew grace in the future are rejected.
	VerifySellerReadAuth(ctx context.Context, claimedAddress, message string, chainID int64, signature []byte) error
}

// erc1271Magic is the isValidSignature(bytes32,bytes) success return value,
// which doubles as the function selector.
var erc1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

var timestampLine = regexp.MustCompile(`(?m)^Timestamp:\s*(\d+)\s*$`)

type ownerVerifier struct {
	cfg        *config.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewOwnerVerifier creates the production verifier. Smart-contract wallets are
// supported via an ERC-1271 eth_call against the configured chain RPC; without
// an RPC URL for the chain, only key-recovered signatures are accepted.
func NewOwnerVerifier(cfg *config.Config) IOwnerVerifier {
	return &ownerVerifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

func (v *ownerVerifier) VerifyOwnerRequest(ctx context.Context, claimedAddress, intent, slug string, nonce int64, chainID int64, signature []byte) error {
	if !common.IsHexAddress(claimedAddress) {
		return ErrInvalidAddress
	}
	claimed := strings.ToLower(claimedAddress)

	if err := v.checkFreshness(nonce, v.cfg.OwnerAuthWindow, v.cfg.OwnerAuthWindow); err != nil {
		return err
	}

	hash, err := v.mutationHash(intent, slug, claimed, nonce, chainID)
	if err != nil {
		return fmt.Errorf("failed to hash mutation payload: %w", err)
	}

	return v.verifyHash(ctx, claimed, hash, signature, chainID)
}

func (v *ownerVerifier) VerifySellerReadAuth(ctx context.Context, claimedAddress, message string, chainID int64, signature []byte) error {
	if !common.IsHexAddress(claimedAddress) {
		return ErrInvalidAddress
	}
	claimed := strings.ToLower(claimedAddress)

	m := timestampLine.FindStringSubmatch(message)
	if m == nil {
		return fmt.Errorf("%w: message has no Timestamp field", ErrInvalidSignature)
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparseable Timestamp field", ErrInvalidSignature)
	}
	if err := v.checkFreshness(ts, v.cfg.OwnerAuthWindow, v.cfg.ReadAuthFutureSkew); err != nil {
		return err
	}

	hash := accounts.TextHash([]byte(message))
	return v.verifyHash(ctx, claimed, hash, signature, chainID)
}

// checkFreshness rejects millisecond timestamps older than maxAge or more than
// maxFuture ahead of the server clock.
func (v *ownerVerifier) checkFreshness(tsMillis int64, maxAge, maxFuture time.Duration) error {
	now := v.now().UnixMilli()
	if tsMillis < now-maxAge.Milliseconds() {
		return ErrSignatureExpired
	}
	if tsMillis > now+maxFuture.Milliseconds() {
		return ErrSignatureExpired
	}
	return nil
}

// mutationHash computes the EIP-712 digest for a listing mutation.
func (v *ownerVerifier) mutationHash(intent, slug, seller string, nonce int64, chainID int64) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ListingMutation": []apitypes.Type{
				{Name: "intent", Type: "string"},
				{Name: "slug", Type: "string"},
				{Name: "seller", Type: "address"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "ListingMutation",
		Domain: apitypes.TypedDataDomain{
			Name:    v.cfg.SigningDomainName,
			Version: v.cfg.SigningDomainVersion,
			ChainId: math.NewHexOrDecimal256(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"intent": intent,
			"slug":   slug,
			"seller": seller,
			"nonce":  math.NewHexOrDecimal256(nonce),
		},
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, err
	}
	return hash, nil
}

// verifyHash accepts either a recovered-key match or an ERC-1271 confirmation.
func (v *ownerVerifier) verifyHash(ctx context.Context, claimed string, hash, signature []byte, chainID int64) error {
	if recoveredMatches(claimed, hash, signature) {
		return nil
	}

	ok, err := v.erc1271Valid(ctx, claimed, hash, signature, chainID)
	if err != nil {
		log.Printf("WARN: ERC-1271 check failed for %s on chain %d: %v", claimed, chainID, err)
		return ErrInvalidSignature
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// recoveredMatches recovers the signing key from a 65-byte secp256k1 signature
// and compares the derived address against the claimed one.
func recoveredMatches(claimed string, hash, signature []byte) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	// Wallets produce v in {27,28}; crypto.SigToPub wants {0,1}.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return strings.EqualFold(recovered.Hex(), claimed)
}

// erc1271Valid asks the claimed address (as a contract) whether the signature
// is valid, via eth_call isValidSignature(bytes32,bytes).
func (v *ownerVerifier) erc1271Valid(ctx context.Context, claimed string, hash, signature []byte, chainID int64) (bool, error) {
	rpcURL, ok := v.cfg.ChainRPCURLs[chainID]
	if !ok || rpcURL == "" {
		return false, nil
	}

	callData := encodeIsValidSignature(hash, signature)
	reqBody, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_call",
		"params": []interface{}{
			map[string]string{"to": claimed, "data": hexutil.Encode(callData)},
			"latest",
		},
	})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, err
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return false, fmt.Errorf("unparseable RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		// Reverts are how EOAs and non-1271 contracts answer this call.
		return false, nil
	}

	result, err := hexutil.Decode(rpcResp.Result)
	if err != nil || len(result) < 4 {
		return false, nil
	}
	return bytes.Equal(result[:4], erc1271Magic[:]), nil
}

// encodeIsValidSignature ABI-encodes isValidSignature(bytes32 hash, bytes sig).
func encodeIsValidSignature(hash, signature []byte) []byte {
	data := make([]byte, 0, 4+32+32+32+len(signature)+32)
	data = append(data, erc1271Magic[:]...)
	data = append(data, common.LeftPadBytes(hash, 32)...)
	// Offset of the dynamic bytes argument, relative to the args start.
	data = append(data, common.LeftPadBytes([]byte{0x40}, 32)...)
	data = append(data, common.LeftPadBytes(lenBytes(len(signature)), 32)...)
	data = append(data, common.RightPadBytes(signature, (len(signature)+31)/32*32)...)
	return data
}

func lenBytes(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
