package funds

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"crowdsale/core/events"
	"crowdsale/core/types"
	nativecommon "crowdsale/native/common"
)

// Symbol is the ledger symbol of the funding asset contributors pay with.
const Symbol = "USDQ"

const moduleName = "funds"

// Well known funding ledger failures.
var (
	// ErrInvalidAccount is returned for a zero account identity.
	ErrInvalidAccount = errors.New("funds: account must not be zero")
	// ErrInvalidAmount is returned for nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("funds: amount must be positive")
	// ErrInsufficientFunds is returned when a debit exceeds the account's
	// funding balance.
	ErrInsufficientFunds = errors.New("funds: insufficient balance")
	// ErrEmptyReference is returned when an external credit carries no
	// settlement reference.
	ErrEmptyReference = errors.New("funds: reference required")
)

var errNilState = errors.New("funds ledger: state not configured")

var zeroAddress [20]byte

// LedgerState is the persistence surface the funding ledger requires.
type LedgerState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Ledger tracks contributor funding balances. Balances arrive through
// external settlement credits and leave when a contribution forwards them to
// the campaign operator.
type Ledger struct {
	state   LedgerState
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewLedger constructs a funding ledger with default no-op dependencies.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState wires the ledger to its persistence backend.
func (l *Ledger) SetState(state LedgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil restores the no-op
// emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses installs the operator pause view consulted before external
// credits. Forwarding stays ungated: it only runs inside an admitted
// contribution, which the sale guard already covers.
func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

// Credit records an external settlement into the account's funding balance.
// The reference identifies the off-ledger payment so downstream reconciliation
// can tie the two together.
func (l *Ledger) Credit(to [20]byte, amount *big.Int, reference string) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if l.state == nil {
		return errNilState
	}
	if to == zeroAddress {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return ErrEmptyReference
	}
	account, err := l.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("funds: load account: %w", err)
	}
	account.BalanceUSDQ = new(big.Int).Add(account.BalanceUSDQ, amount)
	if err := l.state.PutAccount(to[:], account); err != nil {
		return fmt.Errorf("funds: store account: %w", err)
	}
	l.emitter.Emit(events.FundsCredited{
		Reference: trimmed,
		Account:   to,
		Token:     Symbol,
		Amount:    new(big.Int).Set(amount),
	})
	return nil
}

// Forward moves a settled contribution from the contributor's funding balance
// to the operator account.
func (l *Ledger) Forward(from, to [20]byte, amount *big.Int) error {
	if l.state == nil {
		return errNilState
	}
	if from == zeroAddress || to == zeroAddress {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	sender, err := l.state.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("funds: load sender: %w", err)
	}
	if sender.BalanceUSDQ.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	recipient, err := l.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("funds: load recipient: %w", err)
	}
	sender.BalanceUSDQ = new(big.Int).Sub(sender.BalanceUSDQ, amount)
	recipient.BalanceUSDQ = new(big.Int).Add(recipient.BalanceUSDQ, amount)
	if err := l.state.PutAccount(from[:], sender); err != nil {
		return fmt.Errorf("funds: store sender: %w", err)
	}
	if err := l.state.PutAccount(to[:], recipient); err != nil {
		return fmt.Errorf("funds: store recipient: %w", err)
	}
	return nil
}

// Balance reports the account's funding balance.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	account, err := l.state.GetAccount(addr[:])
	if err != nil {
		return nil, fmt.Errorf("funds: load account: %w", err)
	}
	return new(big.Int).Set(account.BalanceUSDQ), nil
}
