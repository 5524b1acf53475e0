package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"crowdsale/config"
	"crowdsale/crypto"
)

// auditReport is the published view of the campaign terms a deployment
// enforces. Operators diff it against the announced terms before opening the
// sale window.
type auditReport struct {
	Network  string `json:"network"`
	Campaign struct {
		StartTime      string `json:"startTime"`
		PresaleEndTime string `json:"presaleEndTime"`
		EndTime        string `json:"endTime"`
		Rate           string `json:"rate"`
		HardCap        string `json:"hardCap"`
		SoftCap        string `json:"softCap"`
		PresaleCap     string `json:"presaleCap"`
		SupplyTarget   string `json:"supplyTarget"`
		OperatorShare  string `json:"operatorShare"`
		ReserveShare   string `json:"reserveShare"`
		Operator       string `json:"operator"`
		Reserve        string `json:"reserve"`
	} `json:"campaign"`
	Quota struct {
		MaxRequestsPerMin uint32 `json:"maxRequestsPerMin"`
		MaxUSDQPerEpoch   uint64 `json:"maxUSDQPerEpoch"`
		EpochSeconds      uint32 `json:"epochSeconds"`
	} `json:"quota"`
	Pauses struct {
		Sale  bool `json:"sale"`
		Token bool `json:"token"`
		Funds bool `json:"funds"`
	} `json:"pauses"`
}

func main() {
	configPath := flag.String("config", "./config.toml", "Path to node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg.Global); err != nil {
		fmt.Fprintf(os.Stderr, "invalid global config: %v\n", err)
		os.Exit(1)
	}

	campaign, err := cfg.Campaign.SaleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse campaign terms: %v\n", err)
		os.Exit(1)
	}

	report := auditReport{Network: cfg.NetworkName}
	report.Campaign.StartTime = campaign.StartTime.UTC().Format(time.RFC3339)
	report.Campaign.PresaleEndTime = campaign.PresaleEndTime.UTC().Format(time.RFC3339)
	report.Campaign.EndTime = campaign.EndTime.UTC().Format(time.RFC3339)
	report.Campaign.Rate = campaign.Rate.String()
	report.Campaign.HardCap = campaign.HardCap.String()
	report.Campaign.SoftCap = campaign.SoftCap.String()
	report.Campaign.PresaleCap = campaign.PresaleCap.String()
	report.Campaign.SupplyTarget = campaign.SupplyTarget().String()
	report.Campaign.OperatorShare = campaign.OperatorShare().String()
	report.Campaign.ReserveShare = campaign.ReserveShare().String()
	report.Campaign.Operator = crypto.NewAddress(crypto.CRWPrefix, campaign.Operator[:]).String()
	report.Campaign.Reserve = crypto.NewAddress(crypto.CRWPrefix, campaign.Reserve[:]).String()

	report.Quota.MaxRequestsPerMin = cfg.Global.Quotas.Sale.MaxRequestsPerMin
	report.Quota.MaxUSDQPerEpoch = cfg.Global.Quotas.Sale.MaxUSDQPerEpoch
	report.Quota.EpochSeconds = cfg.Global.Quotas.Sale.EpochSeconds

	report.Pauses.Sale = cfg.Global.Pauses.Sale
	report.Pauses.Token = cfg.Global.Pauses.Token
	report.Pauses.Funds = cfg.Global.Pauses.Funds

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(output))
}
