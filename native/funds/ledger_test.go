package funds

import (
	"errors"
	"math/big"
	"testing"

	"crowdsale/core/events"
	"crowdsale/core/types"
	nativecommon "crowdsale/native/common"
)

type mockLedgerState struct {
	accounts map[string]*types.Account
}

func newMockLedgerState() *mockLedgerState {
	return &mockLedgerState{accounts: make(map[string]*types.Account)}
}

func (m *mockLedgerState) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr)]; ok {
		clone := *acc
		clone.BalanceUSDQ = new(big.Int).Set(acc.BalanceUSDQ)
		clone.BalanceCRW = new(big.Int).Set(acc.BalanceCRW)
		return &clone, nil
	}
	return types.NewAccount(), nil
}

func (m *mockLedgerState) PutAccount(addr []byte, account *types.Account) error {
	clone := *account
	clone.BalanceUSDQ = new(big.Int).Set(account.BalanceUSDQ)
	clone.BalanceCRW = new(big.Int).Set(account.BalanceCRW)
	m.accounts[string(addr)] = &clone
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestLedger() (*Ledger, *captureEmitter) {
	ledger := NewLedger()
	ledger.SetState(newMockLedgerState())
	emitter := &captureEmitter{}
	ledger.SetEmitter(emitter)
	return ledger, emitter
}

func TestCreditRecordsBalanceAndEvent(t *testing.T) {
	ledger, emitter := newTestLedger()
	var contributor [20]byte
	contributor[0] = 1

	if err := ledger.Credit(contributor, big.NewInt(2_500), "checkout-77"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := ledger.Balance(contributor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	credited, ok := emitter.events[0].(events.FundsCredited)
	if !ok {
		t.Fatalf("unexpected event %T", emitter.events[0])
	}
	if credited.Reference != "checkout-77" || credited.Amount.Cmp(big.NewInt(2_500)) != 0 {
		t.Fatalf("unexpected event payload: %+v", credited)
	}
}

func TestCreditRejectsInvalidInputs(t *testing.T) {
	ledger, _ := newTestLedger()
	var contributor [20]byte
	contributor[0] = 1

	var zero [20]byte
	if err := ledger.Credit(zero, big.NewInt(1), "ref"); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected account rejection, got %v", err)
	}
	if err := ledger.Credit(contributor, big.NewInt(0), "ref"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected amount rejection, got %v", err)
	}
	if err := ledger.Credit(contributor, big.NewInt(1), "  "); !errors.Is(err, ErrEmptyReference) {
		t.Fatalf("expected reference rejection, got %v", err)
	}
}

type stubPauseView struct {
	paused map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool { return s.paused[module] }

func TestCreditBlockedWhilePaused(t *testing.T) {
	ledger, _ := newTestLedger()
	ledger.SetPauses(stubPauseView{paused: map[string]bool{moduleName: true}})
	var contributor [20]byte
	contributor[0] = 1

	if err := ledger.Credit(contributor, big.NewInt(100), "ref"); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause rejection, got %v", err)
	}

	// Forwarding is not gated by the funds pause.
	var operator [20]byte
	operator[0] = 2
	ledger.SetPauses(stubPauseView{paused: map[string]bool{}})
	if err := ledger.Credit(contributor, big.NewInt(100), "ref"); err != nil {
		t.Fatalf("credit after unpause: %v", err)
	}
	ledger.SetPauses(stubPauseView{paused: map[string]bool{moduleName: true}})
	if err := ledger.Forward(contributor, operator, big.NewInt(50)); err != nil {
		t.Fatalf("forward while paused: %v", err)
	}
}

func TestForwardMovesFunds(t *testing.T) {
	ledger, _ := newTestLedger()
	var contributor, operator [20]byte
	contributor[0], operator[0] = 1, 2

	if err := ledger.Credit(contributor, big.NewInt(1_000), "ref"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Forward(contributor, operator, big.NewInt(150)); err != nil {
		t.Fatalf("forward: %v", err)
	}
	contribBal, _ := ledger.Balance(contributor)
	operatorBal, _ := ledger.Balance(operator)
	if contribBal.Cmp(big.NewInt(850)) != 0 || operatorBal.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected balances %s/%s", contribBal, operatorBal)
	}
}

func TestForwardRejectsOverdraft(t *testing.T) {
	ledger, _ := newTestLedger()
	var contributor, operator [20]byte
	contributor[0], operator[0] = 1, 2

	if err := ledger.Credit(contributor, big.NewInt(100), "ref"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Forward(contributor, operator, big.NewInt(101)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected overdraft rejection, got %v", err)
	}
	contribBal, _ := ledger.Balance(contributor)
	if contribBal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance mutated by failed forward: %s", contribBal)
	}
}
