package types

import "math/big"

// Account holds the balances the campaign node tracks for one address: the
// USDQ funding balance contributions are debited from and the CRW balance the
// sale mints into. Nonce counts accepted signed orders for replay protection.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceUSDQ *big.Int `json:"balanceUSDQ"`
	BalanceCRW  *big.Int `json:"balanceCRW"`
}

// NewAccount returns an account with zeroed balances ready for persistence.
func NewAccount() *Account {
	return &Account{
		BalanceUSDQ: big.NewInt(0),
		BalanceCRW:  big.NewInt(0),
	}
}

// Normalize replaces nil balance pointers with zero values so callers can
// mutate the account without nil checks.
func (a *Account) Normalize() {
	if a.BalanceUSDQ == nil {
		a.BalanceUSDQ = big.NewInt(0)
	}
	if a.BalanceCRW == nil {
		a.BalanceCRW = big.NewInt(0)
	}
}
