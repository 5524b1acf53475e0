package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"crowdsale/crypto"
	"crowdsale/native/sale"
)

// Campaign holds the raw sale terms from the config file. Timestamps are
// RFC3339 and amounts are base-10 integers in campaign base units.
type Campaign struct {
	StartTime       string
	PresaleEndTime  string
	EndTime         string
	Rate            string
	HardCap         string
	SoftCap         string
	PresaleCap      string
	UnitScale       string
	OperatorAddress string
	ReserveAddress  string
}

// SaleConfig parses the campaign section into the engine configuration,
// validating the terms up front so a bad file fails at startup rather than on
// the first contribution.
func (c Campaign) SaleConfig() (sale.CampaignConfig, error) {
	start, err := parseCampaignTime("StartTime", c.StartTime)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	presaleEnd, err := parseCampaignTime("PresaleEndTime", c.PresaleEndTime)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	end, err := parseCampaignTime("EndTime", c.EndTime)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	rate, err := parseCampaignAmount("Rate", c.Rate)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	hardCap, err := parseCampaignAmount("HardCap", c.HardCap)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	softCap, err := parseCampaignAmount("SoftCap", c.SoftCap)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	presaleCap, err := parseCampaignAmount("PresaleCap", c.PresaleCap)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	var unitScale *big.Int
	if strings.TrimSpace(c.UnitScale) != "" {
		unitScale, err = parseCampaignAmount("UnitScale", c.UnitScale)
		if err != nil {
			return sale.CampaignConfig{}, err
		}
	}
	operator, err := parseCampaignAddress("OperatorAddress", c.OperatorAddress)
	if err != nil {
		return sale.CampaignConfig{}, err
	}
	reserve, err := parseCampaignAddress("ReserveAddress", c.ReserveAddress)
	if err != nil {
		return sale.CampaignConfig{}, err
	}

	cfg := sale.CampaignConfig{
		StartTime:      start,
		PresaleEndTime: presaleEnd,
		EndTime:        end,
		Rate:           rate,
		HardCap:        hardCap,
		SoftCap:        softCap,
		PresaleCap:     presaleCap,
		UnitScale:      unitScale,
		Operator:       operator,
		Reserve:        reserve,
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return sale.CampaignConfig{}, fmt.Errorf("campaign: %w", err)
	}
	return cfg, nil
}

func parseCampaignTime(field, value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("campaign: %s required", field)
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("campaign: invalid %s: %w", field, err)
	}
	return ts.UTC(), nil
}

func parseCampaignAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("campaign: %s required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("campaign: invalid %s %q", field, value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("campaign: %s must not be negative", field)
	}
	return amount, nil
}

func parseCampaignAddress(field, value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("campaign: %s required", field)
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return out, fmt.Errorf("campaign: invalid %s: %w", field, err)
	}
	if decoded.Prefix() != crypto.CRWPrefix {
		return out, fmt.Errorf("campaign: %s must use the %s address prefix", field, crypto.CRWPrefix)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}
