package state

import (
	"math/big"
	"testing"

	"crowdsale/storage"
)

func TestAdjustTokenSupply(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	manager := NewManager(db)

	total, err := manager.TokenSupply("CRW")
	if err != nil {
		t.Fatalf("initial supply: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("expected zero supply, got %s", total)
	}

	updated, err := manager.AdjustTokenSupply("crw", big.NewInt(1000))
	if err != nil {
		t.Fatalf("adjust supply: %v", err)
	}
	if updated.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected supply after mint: %s", updated)
	}

	updated, err = manager.AdjustTokenSupply("CRW", big.NewInt(-250))
	if err != nil {
		t.Fatalf("burn supply: %v", err)
	}
	if updated.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unexpected supply after burn: %s", updated)
	}

	if _, err = manager.AdjustTokenSupply("CRW", big.NewInt(-1000)); err == nil {
		t.Fatalf("expected underflow protection")
	}
}

func TestTokenPausedFlagRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	manager := NewManager(db)

	paused, err := manager.TokenPaused("CRW")
	if err != nil {
		t.Fatalf("initial paused: %v", err)
	}
	if paused {
		t.Fatalf("expected unpaused default")
	}

	if err := manager.SetTokenPaused("crw", true); err != nil {
		t.Fatalf("set paused: %v", err)
	}
	paused, err = manager.TokenPaused("CRW")
	if err != nil {
		t.Fatalf("read paused: %v", err)
	}
	if !paused {
		t.Fatalf("expected paused flag set")
	}
}
