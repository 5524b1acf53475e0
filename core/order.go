package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crowdsale/crypto"
)

// OrderChainID defines the chain identifier expected inside contribution
// orders.
const OrderChainID uint64 = 421100

var (
	// ErrOrderInvalidSigner indicates the recovered signer is not the order's
	// contributor.
	ErrOrderInvalidSigner = errors.New("order: invalid signer")
	// ErrOrderNonceUsed indicates the order nonce has already been settled.
	ErrOrderNonceUsed = errors.New("order: nonce already settled")
	// ErrOrderExpired indicates the order expiry timestamp has elapsed.
	ErrOrderExpired = errors.New("order: expired")
	// ErrOrderInvalidChainID indicates the order targets a different chain
	// identifier.
	ErrOrderInvalidChainID = errors.New("order: invalid chain id")
)

// ContributionOrder represents the canonical payload a contributor signs to
// authorize one contribution.
type ContributionOrder struct {
	Nonce       string `json:"nonce"`
	Contributor string `json:"contributor"`
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
	ChainID     uint64 `json:"chainId"`
	Expiry      int64  `json:"expiry"`
}

// CanonicalJSON returns the canonical JSON encoding used for signing orders.
func (o ContributionOrder) CanonicalJSON() ([]byte, error) {
	normalizedAmount, err := o.AmountBig()
	if err != nil {
		return nil, err
	}
	canonical := struct {
		Nonce       string `json:"nonce"`
		Contributor string `json:"contributor"`
		Beneficiary string `json:"beneficiary"`
		Amount      string `json:"amount"`
		ChainID     uint64 `json:"chainId"`
		Expiry      int64  `json:"expiry"`
	}{
		Nonce:       strings.TrimSpace(o.Nonce),
		Contributor: strings.TrimSpace(o.Contributor),
		Beneficiary: strings.TrimSpace(o.Beneficiary),
		Amount:      normalizedAmount.String(),
		ChainID:     o.ChainID,
		Expiry:      o.Expiry,
	}
	if canonical.Nonce == "" {
		return nil, fmt.Errorf("nonce required")
	}
	if canonical.Contributor == "" {
		return nil, fmt.Errorf("contributor required")
	}
	if canonical.Beneficiary == "" {
		return nil, fmt.Errorf("beneficiary required")
	}
	if canonical.ChainID == 0 {
		return nil, fmt.Errorf("chainId required")
	}
	if canonical.Expiry == 0 {
		return nil, fmt.Errorf("expiry required")
	}
	return json.Marshal(canonical)
}

// Digest computes the keccak256 hash over the canonical JSON representation.
func (o ContributionOrder) Digest() ([]byte, error) {
	canonical, err := o.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(canonical), nil
}

// AmountBig parses the Amount field and returns it as a big integer.
func (o ContributionOrder) AmountBig() (*big.Int, error) {
	trimmed := strings.TrimSpace(o.Amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", o.Amount)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// TrimmedNonce returns the trimmed order nonce.
func (o ContributionOrder) TrimmedNonce() string {
	return strings.TrimSpace(o.Nonce)
}

// ContributorBytes decodes the bech32 contributor address.
func (o ContributionOrder) ContributorBytes() ([20]byte, error) {
	return decodeOrderAddress(o.Contributor)
}

// BeneficiaryBytes decodes the bech32 beneficiary address.
func (o ContributionOrder) BeneficiaryBytes() ([20]byte, error) {
	return decodeOrderAddress(o.Beneficiary)
}

// RecoverSigner recovers the signing address from the order signature.
func (o ContributionOrder) RecoverSigner(sig []byte) ([20]byte, error) {
	var out [20]byte
	digest, err := o.Digest()
	if err != nil {
		return out, err
	}
	if len(sig) != 65 {
		return out, fmt.Errorf("order: signature must be 65 bytes")
	}
	pubKey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return out, fmt.Errorf("order: recover signer: %w", err)
	}
	copy(out[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return out, nil
}

func decodeOrderAddress(raw string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}
