package events

import (
	"math/big"
	"strings"

	"crowdsale/core/types"
	"crowdsale/crypto"
)

const (
	// TypeFundsCredited is emitted when the payment pipeline credits a
	// contributor's funding balance on the node.
	TypeFundsCredited = "funds.credited"
)

// FundsCredited records an operator-confirmed funding deposit.
type FundsCredited struct {
	Reference string
	Account   [20]byte
	Token     string
	Amount    *big.Int
}

func (FundsCredited) EventType() string { return TypeFundsCredited }

func (e FundsCredited) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	token := normalizeAsset(e.Token)
	return &types.Event{
		Type: TypeFundsCredited,
		Attributes: map[string]string{
			"reference": strings.TrimSpace(e.Reference),
			"account":   crypto.MustNewAddress(crypto.CRWPrefix, e.Account[:]).String(),
			"token":     token,
			"amount":    amount.String(),
		},
	}
}
