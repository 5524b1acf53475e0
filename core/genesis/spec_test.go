package genesis

import (
	"bytes"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crowdsale/crypto"
)

func writeSpec(t *testing.T, spec GenesisSpec) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	return path
}

func TestLoadGenesisSpec(t *testing.T) {
	addr1 := crypto.MustNewAddress(crypto.CRWPrefix, bytes.Repeat([]byte{0x01}, 20)).String()
	addr2 := crypto.MustNewAddress(crypto.CRWPrefix, bytes.Repeat([]byte{0x02}, 20)).String()
	chainID := uint64(421100)

	path := writeSpec(t, GenesisSpec{
		GenesisTime: "2026-01-01T00:00:00Z",
		ChainID:     &chainID,
		Alloc: map[string]string{
			addr1: "1000",
			addr2: "2500",
		},
	})

	loaded, err := LoadGenesisSpec(path)
	if err != nil {
		t.Fatalf("load spec: %v", err)
	}
	if got := loaded.GenesisTimestamp(); !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected genesis time %s", got)
	}
	id, ok := loaded.ChainIDValue()
	if !ok || id != chainID {
		t.Fatalf("expected chain id %d, got %d (present=%v)", chainID, id, ok)
	}

	allocs := loaded.Allocations()
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	if allocs[0].Amount.Cmp(big.NewInt(1000)) != 0 || allocs[0].Account[0] != 0x01 {
		t.Fatalf("unexpected first allocation %+v", allocs[0])
	}
	if allocs[1].Amount.Cmp(big.NewInt(2500)) != 0 || allocs[1].Account[0] != 0x02 {
		t.Fatalf("unexpected second allocation %+v", allocs[1])
	}
}

func TestLoadGenesisSpecRejectsInvalidInput(t *testing.T) {
	addr := crypto.MustNewAddress(crypto.CRWPrefix, bytes.Repeat([]byte{0x03}, 20)).String()

	if _, err := LoadGenesisSpec(writeSpec(t, GenesisSpec{
		Alloc: map[string]string{addr: "10"},
	})); err == nil {
		t.Fatalf("expected missing genesis time to fail")
	}
	if _, err := LoadGenesisSpec(writeSpec(t, GenesisSpec{
		GenesisTime: "2026-01-01T00:00:00Z",
		Alloc:       map[string]string{addr: "abc"},
	})); err == nil {
		t.Fatalf("expected malformed amount to fail")
	}
	if _, err := LoadGenesisSpec(writeSpec(t, GenesisSpec{
		GenesisTime: "2026-01-01T00:00:00Z",
		Alloc:       map[string]string{"nhb1invalid": "10"},
	})); err == nil {
		t.Fatalf("expected foreign address prefix to fail")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.json")
	payload := []byte(`{"genesisTime":"2026-01-01T00:00:00Z","validators":[]}`)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	if _, err := LoadGenesisSpec(path); err == nil {
		t.Fatalf("expected unknown field to fail")
	}
}
