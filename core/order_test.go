package core

import (
	"bytes"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crowdsale/crypto"
)

func signOrder(t *testing.T, key *crypto.PrivateKey, order ContributionOrder) []byte {
	t.Helper()
	digest, err := order.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := ethcrypto.Sign(digest, key.PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func testOrder(contributor, beneficiary string) ContributionOrder {
	return ContributionOrder{
		Nonce:       "ord-1",
		Contributor: contributor,
		Beneficiary: beneficiary,
		Amount:      "150",
		ChainID:     OrderChainID,
		Expiry:      time.Now().Add(time.Hour).Unix(),
	}
}

func TestContributionOrderCanonicalJSONNormalizes(t *testing.T) {
	contributorKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("contributor key: %v", err)
	}
	beneficiaryKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("beneficiary key: %v", err)
	}
	contributor := contributorKey.PubKey().Address().String()
	beneficiary := beneficiaryKey.PubKey().Address().String()

	order := testOrder(contributor, beneficiary)
	padded := order
	padded.Nonce = "  ord-1  "
	padded.Contributor = " " + contributor + " "
	padded.Amount = " 150 "

	canonical, err := order.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	normalized, err := padded.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (padded): %v", err)
	}
	if !bytes.Equal(canonical, normalized) {
		t.Fatalf("expected identical canonical payloads:\n%s\n%s", canonical, normalized)
	}

	missing := order
	missing.Nonce = "   "
	if _, err := missing.CanonicalJSON(); err == nil {
		t.Fatalf("expected blank nonce to fail")
	}
	missing = order
	missing.Expiry = 0
	if _, err := missing.CanonicalJSON(); err == nil {
		t.Fatalf("expected zero expiry to fail")
	}
}

func TestContributionOrderAmountBig(t *testing.T) {
	order := ContributionOrder{Amount: "250"}
	amount, err := order.AmountBig()
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if amount.Int64() != 250 {
		t.Fatalf("expected 250, got %s", amount)
	}

	for _, invalid := range []string{"", "  ", "abc", "-5", "0", "1.5"} {
		order.Amount = invalid
		if _, err := order.AmountBig(); err == nil {
			t.Fatalf("expected amount %q to fail", invalid)
		}
	}
}

func TestContributionOrderRecoverSigner(t *testing.T) {
	contributorKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("contributor key: %v", err)
	}
	beneficiaryKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("beneficiary key: %v", err)
	}
	order := testOrder(contributorKey.PubKey().Address().String(), beneficiaryKey.PubKey().Address().String())
	sig := signOrder(t, contributorKey, order)

	signer, err := order.RecoverSigner(sig)
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	expected, err := order.ContributorBytes()
	if err != nil {
		t.Fatalf("contributor bytes: %v", err)
	}
	if signer != expected {
		t.Fatalf("expected signer %x, got %x", expected, signer)
	}

	tampered := order
	tampered.Amount = "151"
	recovered, err := tampered.RecoverSigner(sig)
	if err == nil && recovered == expected {
		t.Fatalf("expected tampered payload to break signer recovery")
	}

	if _, err := order.RecoverSigner(sig[:64]); err == nil {
		t.Fatalf("expected truncated signature to fail")
	}
}
