package token

import (
	"errors"
	"fmt"
	"math/big"

	"crowdsale/core/events"
	"crowdsale/core/types"
	nativecommon "crowdsale/native/common"
)

// Symbol is the ledger symbol of the campaign token.
const Symbol = "CRW"

const moduleName = "token"

// Well known ledger failures.
var (
	// ErrPaused is returned when transfers or burns are attempted while the
	// token is paused. Issuance is exempt so the campaign can mint while
	// transfers stay frozen.
	ErrPaused = errors.New("token: transfers paused")
	// ErrInvalidAccount is returned for a zero account identity.
	ErrInvalidAccount = errors.New("token: account must not be zero")
	// ErrInvalidAmount is returned for nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("token: amount must be positive")
	// ErrInsufficientBalance is returned when a transfer or burn exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
)

var errNilState = errors.New("token ledger: state not configured")

var zeroAddress [20]byte

// LedgerState is the persistence surface the token ledger requires.
type LedgerState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	TokenSupply(symbol string) (*big.Int, error)
	AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error)
	TokenPaused(symbol string) (bool, error)
	SetTokenPaused(symbol string, paused bool) error
}

// Ledger implements the campaign token: balance bookkeeping, issued supply
// accounting and the transfer pause that stays engaged until finalization.
type Ledger struct {
	state   LedgerState
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewLedger constructs a ledger with default no-op dependencies.
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

// SetPauses installs the operator pause view consulted before any mutation.
func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

func (l *Ledger) emitSupply(total, delta *big.Int, reason string) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(events.TokenSupply{Token: Symbol, Total: total, Delta: delta, Reason: reason})
}

// Mint credits newly issued units to the account and grows the issued supply.
// Minting is permitted while transfers are paused.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
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
	account, err := l.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("token: load account: %w", err)
	}
	account.BalanceCRW = new(big.Int).Add(account.BalanceCRW, amount)
	if err := l.state.PutAccount(to[:], account); err != nil {
		return fmt.Errorf("token: store account: %w", err)
	}
	total, err := l.state.AdjustTokenSupply(Symbol, amount)
	if err != nil {
		return fmt.Errorf("token: adjust supply: %w", err)
	}
	l.emitSupply(total, amount, events.SupplyReasonMint)
	return nil
}

// Transfer moves units between accounts. Transfers are refused while the
// token is paused.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if l.state == nil {
		return errNilState
	}
	if from == zeroAddress || to == zeroAddress {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	paused, err := l.state.TokenPaused(Symbol)
	if err != nil {
		return fmt.Errorf("token: query pause flag: %w", err)
	}
	if paused {
		return ErrPaused
	}
	sender, err := l.state.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("token: load sender: %w", err)
	}
	if sender.BalanceCRW.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	recipient, err := l.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("token: load recipient: %w", err)
	}
	sender.BalanceCRW = new(big.Int).Sub(sender.BalanceCRW, amount)
	recipient.BalanceCRW = new(big.Int).Add(recipient.BalanceCRW, amount)
	if err := l.state.PutAccount(from[:], sender); err != nil {
		return fmt.Errorf("token: store sender: %w", err)
	}
	if err := l.state.PutAccount(to[:], recipient); err != nil {
		return fmt.Errorf("token: store recipient: %w", err)
	}
	return nil
}

// Burn destroys units from the account and shrinks the issued supply. Burns
// follow the transfer pause: they are refused until the token is unpaused.
func (l *Ledger) Burn(from [20]byte, amount *big.Int) error {
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if l.state == nil {
		return errNilState
	}
	if from == zeroAddress {
		return ErrInvalidAccount
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	paused, err := l.state.TokenPaused(Symbol)
	if err != nil {
		return fmt.Errorf("token: query pause flag: %w", err)
	}
	if paused {
		return ErrPaused
	}
	account, err := l.state.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("token: load account: %w", err)
	}
	if account.BalanceCRW.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	account.BalanceCRW = new(big.Int).Sub(account.BalanceCRW, amount)
	if err := l.state.PutAccount(from[:], account); err != nil {
		return fmt.Errorf("token: store account: %w", err)
	}
	total, err := l.state.AdjustTokenSupply(Symbol, new(big.Int).Neg(amount))
	if err != nil {
		return fmt.Errorf("token: adjust supply: %w", err)
	}
	l.emitSupply(total, new(big.Int).Neg(amount), events.SupplyReasonBurn)
	return nil
}

// TotalIssued reports the running issued supply.
func (l *Ledger) TotalIssued() (*big.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	return l.state.TokenSupply(Symbol)
}

// BalanceOf reports the account's token balance.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l.state == nil {
		return nil, errNilState
	}
	account, err := l.state.GetAccount(addr[:])
	if err != nil {
		return nil, fmt.Errorf("token: load account: %w", err)
	}
	return new(big.Int).Set(account.BalanceCRW), nil
}

// Paused reports whether transfers are currently suspended.
func (l *Ledger) Paused() (bool, error) {
	if l.state == nil {
		return false, errNilState
	}
	return l.state.TokenPaused(Symbol)
}

// Pause suspends transfers and burns.
func (l *Ledger) Pause() error {
	if l.state == nil {
		return errNilState
	}
	return l.state.SetTokenPaused(Symbol, true)
}

// Unpause re-enables transfers and burns.
func (l *Ledger) Unpause() error {
	if l.state == nil {
		return errNilState
	}
	return l.state.SetTokenPaused(Symbol, false)
}
