package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"
)

// GenesisSpec describes the initial campaign database contents: the ledger
// funding balances seeded before the sale opens and an optional chain
// identifier override checked against signed contribution orders.
type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	ChainID     *uint64           `json:"chainId,omitempty"`
	Alloc       map[string]string `json:"alloc"` // addr -> USDQ amount

	genesisTimestamp time.Time
	chainIDValue     uint64
	hasChainID       bool
}

// Allocation is a validated funding balance seeded at first boot.
type Allocation struct {
	Account [20]byte
	Amount  *big.Int
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *GenesisSpec) ChainIDValue() (uint64, bool) {
	if s.hasChainID {
		return s.chainIDValue, true
	}
	return 0, false
}

// Allocations returns the seeded funding balances in deterministic order.
func (s *GenesisSpec) Allocations() []Allocation {
	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	out := make([]Allocation, 0, len(accounts))
	for _, account := range accounts {
		addr, err := ParseBech32Account(account)
		if err != nil {
			continue
		}
		amount, err := parseAmountString(s.Alloc[account])
		if err != nil || amount.Sign() <= 0 {
			continue
		}
		out = append(out, Allocation{Account: addr, Amount: amount})
	}
	return out
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	s.hasChainID = false
	s.chainIDValue = 0
	if s.ChainID != nil {
		s.hasChainID = true
		s.chainIDValue = *s.ChainID
	}

	if len(s.Alloc) > 0 {
		accounts := make([]string, 0, len(s.Alloc))
		for account := range s.Alloc {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)
		for _, account := range accounts {
			if _, err := ParseBech32Account(account); err != nil {
				return fmt.Errorf("alloc[%q]: %w", account, err)
			}
			amount := s.Alloc[account]
			if strings.TrimSpace(amount) == "" {
				return fmt.Errorf("alloc[%q]: amount must be provided", account)
			}
			parsed, err := parseAmountString(amount)
			if err != nil {
				return fmt.Errorf("alloc[%q]: %w", account, err)
			}
			if parsed.Sign() == 0 {
				return fmt.Errorf("alloc[%q]: amount must be positive", account)
			}
		}
	}
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
