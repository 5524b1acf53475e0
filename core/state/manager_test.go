package state

import (
	"math/big"
	"testing"

	"crowdsale/storage"
)

func TestAccountRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	manager := NewManager(db)
	addr := make([]byte, 20)
	addr[19] = 0x01

	account, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get fresh account: %v", err)
	}
	if account.Nonce != 0 || account.BalanceUSDQ.Sign() != 0 || account.BalanceCRW.Sign() != 0 {
		t.Fatalf("expected zeroed account, got %+v", account)
	}

	account.Nonce = 3
	account.BalanceUSDQ = big.NewInt(500)
	account.BalanceCRW = big.NewInt(1575)
	if err := manager.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}

	loaded, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if loaded.Nonce != 3 {
		t.Fatalf("unexpected nonce: %d", loaded.Nonce)
	}
	if loaded.BalanceUSDQ.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected USDQ balance: %s", loaded.BalanceUSDQ)
	}
	if loaded.BalanceCRW.Cmp(big.NewInt(1575)) != 0 {
		t.Fatalf("unexpected CRW balance: %s", loaded.BalanceCRW)
	}
}

func TestSessionCommitFlushesOverlay(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	manager := NewManager(db)
	addr := make([]byte, 20)
	addr[0] = 0xaa

	if err := manager.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	acc, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acc.BalanceUSDQ = big.NewInt(42)
	if err := manager.PutAccount(addr, acc); err != nil {
		t.Fatalf("put account: %v", err)
	}

	// Other readers of the database see nothing until commit.
	other := NewManager(db)
	fresh, err := other.GetAccount(addr)
	if err != nil {
		t.Fatalf("parallel read: %v", err)
	}
	if fresh.BalanceUSDQ.Sign() != 0 {
		t.Fatalf("uncommitted write leaked: %s", fresh.BalanceUSDQ)
	}

	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	fresh, err = other.GetAccount(addr)
	if err != nil {
		t.Fatalf("post-commit read: %v", err)
	}
	if fresh.BalanceUSDQ.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("committed balance missing: %s", fresh.BalanceUSDQ)
	}
}

func TestSessionRollbackDiscardsWrites(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	manager := NewManager(db)

	record := &CampaignRecord{RaisedTotal: big.NewInt(100)}
	if err := manager.SetCampaignState(record); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	if err := manager.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	record.RaisedTotal = big.NewInt(900)
	record.Finalized = true
	if err := manager.SetCampaignState(record); err != nil {
		t.Fatalf("overlay write: %v", err)
	}
	manager.Rollback()

	loaded, err := manager.CampaignState()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.RaisedTotal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("rollback did not restore raised total: %s", loaded.RaisedTotal)
	}
	if loaded.Finalized {
		t.Fatalf("rollback did not restore finalized flag")
	}
}

func TestBeginRejectsNestedSessions(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	if err := manager.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := manager.Begin(); err == nil {
		t.Fatalf("expected nested begin to fail")
	}
	manager.Rollback()
	if err := manager.Begin(); err != nil {
		t.Fatalf("begin after rollback: %v", err)
	}
}
