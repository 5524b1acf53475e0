package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crowdsale/crypto"
)

var (
	testOperatorAddrString = func() string {
		var addr [20]byte
		addr[0] = 0x42
		addr[len(addr)-1] = 0x0A
		return crypto.MustNewAddress(crypto.CRWPrefix, addr[:]).String()
	}()
	testReserveAddrString = func() string {
		var addr [20]byte
		addr[0] = 0x42
		addr[len(addr)-1] = 0x0B
		return crypto.MustNewAddress(crypto.CRWPrefix, addr[:]).String()
	}()
)

func campaignSection() string {
	return `[campaign]
StartTime = "2026-09-01T00:00:00Z"
PresaleEndTime = "2026-09-02T00:00:00Z"
EndTime = "2026-09-11T00:00:00Z"
Rate = "1"
HardCap = "50000"
SoftCap = "26000"
PresaleCap = "10000"
UnitScale = "1"
OperatorAddress = "` + testOperatorAddrString + `"
ReserveAddress = "` + testReserveAddrString + `"
`
}

func TestLoadParsesCampaignSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
GenesisFile = "genesis.json"
NetworkName = "testnet"
RPCAuthToken = "local-token"

` + campaignSection() + `
[global.pauses]
Sale = false
Token = true
Funds = false

[global.quotas.sale]
MaxRequestsPerMin = 12
MaxUSDQPerEpoch = 5000
EpochSeconds = 3600
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected rpc address: %s", cfg.RPCAddress)
	}
	if cfg.DataDir != "./data" || cfg.GenesisFile != "genesis.json" {
		t.Fatalf("unexpected paths: %+v", cfg)
	}
	if cfg.NetworkName != "testnet" {
		t.Fatalf("unexpected network name: %s", cfg.NetworkName)
	}
	if cfg.RPCAuthToken != "local-token" {
		t.Fatalf("unexpected auth token: %s", cfg.RPCAuthToken)
	}
	if !cfg.Global.Pauses.Token || cfg.Global.Pauses.Sale || cfg.Global.Pauses.Funds {
		t.Fatalf("unexpected pauses: %+v", cfg.Global.Pauses)
	}
	quota := cfg.Global.Quotas.Sale
	if quota.MaxRequestsPerMin != 12 || quota.MaxUSDQPerEpoch != 5000 || quota.EpochSeconds != 3600 {
		t.Fatalf("unexpected sale quota: %+v", quota)
	}

	saleCfg, err := cfg.Campaign.SaleConfig()
	if err != nil {
		t.Fatalf("sale config: %v", err)
	}
	wantStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !saleCfg.StartTime.Equal(wantStart) {
		t.Fatalf("unexpected start time: %s", saleCfg.StartTime)
	}
	if !saleCfg.EndTime.Equal(wantStart.Add(10 * 24 * time.Hour)) {
		t.Fatalf("unexpected end time: %s", saleCfg.EndTime)
	}
	if saleCfg.HardCap.Cmp(big.NewInt(50000)) != 0 || saleCfg.SoftCap.Cmp(big.NewInt(26000)) != 0 {
		t.Fatalf("unexpected caps: hard=%s soft=%s", saleCfg.HardCap, saleCfg.SoftCap)
	}
	operator, err := crypto.DecodeAddress(testOperatorAddrString)
	if err != nil {
		t.Fatalf("decode operator: %v", err)
	}
	var wantOperator [20]byte
	copy(wantOperator[:], operator.Bytes())
	if saleCfg.Operator != wantOperator {
		t.Fatalf("unexpected operator account: %x", saleCfg.Operator)
	}
}

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RPCAddress != ":8080" || cfg.NetworkName != "crw-local" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to exist: %v", err)
	}

	// The template campaign section is empty and must not parse.
	if _, err := cfg.Campaign.SaleConfig(); err == nil {
		t.Fatalf("expected empty campaign section to be rejected")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress || reloaded.DataDir != cfg.DataDir {
		t.Fatalf("reload mismatch: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = ":8080"
ValidatorKeystorePath = "./validator.keystore"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected unknown key error")
	}
	if !strings.Contains(err.Error(), "ValidatorKeystorePath") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCampaignSaleConfigValidation(t *testing.T) {
	valid := Campaign{
		StartTime:       "2026-09-01T00:00:00Z",
		PresaleEndTime:  "2026-09-02T00:00:00Z",
		EndTime:         "2026-09-11T00:00:00Z",
		Rate:            "1",
		HardCap:         "50000",
		SoftCap:         "26000",
		PresaleCap:      "10000",
		OperatorAddress: testOperatorAddrString,
		ReserveAddress:  testReserveAddrString,
	}
	cfg, err := valid.SaleConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UnitScale == nil || cfg.UnitScale.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected unit scale default 1, got %v", cfg.UnitScale)
	}

	cases := []struct {
		name   string
		mutate func(*Campaign)
	}{
		{"missing start", func(c *Campaign) { c.StartTime = "" }},
		{"malformed time", func(c *Campaign) { c.EndTime = "next tuesday" }},
		{"end before presale", func(c *Campaign) { c.EndTime = "2026-09-01T12:00:00Z" }},
		{"negative cap", func(c *Campaign) { c.HardCap = "-1" }},
		{"malformed amount", func(c *Campaign) { c.SoftCap = "1.5" }},
		{"soft cap above hard cap", func(c *Campaign) { c.SoftCap = "60000" }},
		{"missing operator", func(c *Campaign) { c.OperatorAddress = "" }},
		{"foreign prefix", func(c *Campaign) { c.OperatorAddress = "nhb1invalid" }},
	}
	for _, tc := range cases {
		mutated := valid
		tc.mutate(&mutated)
		if _, err := mutated.SaleConfig(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	ok := Global{Quotas: Quotas{Sale: Quota{MaxRequestsPerMin: 10, MaxUSDQPerEpoch: 1000, EpochSeconds: 3600}}}
	if err := ValidateConfig(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	disabled := Global{}
	if err := ValidateConfig(disabled); err != nil {
		t.Fatalf("zero quota should validate: %v", err)
	}

	missingEpoch := Global{Quotas: Quotas{Sale: Quota{MaxUSDQPerEpoch: 1000}}}
	if err := ValidateConfig(missingEpoch); err == nil {
		t.Fatalf("expected epoch seconds error")
	}
}
