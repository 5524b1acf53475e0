package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"crowdsale/core/events"
	"crowdsale/core/state"
	"crowdsale/core/types"
	nativecommon "crowdsale/native/common"
	"crowdsale/native/funds"
	"crowdsale/native/sale"
	"crowdsale/native/system/quotas"
	"crowdsale/native/token"
	"crowdsale/observability"
	"crowdsale/storage"
)

const saleModuleName = "sale"

// maxEventTail bounds the in-memory event buffer served to RPC consumers.
const maxEventTail = 512

// GenesisAllocation pre-funds an account's funding balance when the campaign
// database is bootstrapped for the first time.
type GenesisAllocation struct {
	Account [20]byte
	USDQ    *big.Int
}

// Node is the central controller, wiring the campaign engines to persistent
// state and serializing every mutating operation. Each operation runs as one
// exclusive check-then-mutate section inside a state session, so concurrent
// submissions can never admit more than the caps allow and a failed operation
// leaves no partial writes.
type Node struct {
	db       storage.Database
	state    *state.Manager
	config   sale.CampaignConfig
	engine   *sale.Engine
	tokens   *token.Ledger
	funding  *funds.Ledger
	receipts *sale.Ledger

	quota      nativecommon.Quota
	quotaStore *quotas.Store

	stateMu sync.Mutex

	pauseMu      sync.RWMutex
	modulePauses map[string]bool

	eventMu sync.RWMutex
	events  []types.Event

	nowFn func() time.Time
}

// NewNode constructs a node over the database, bootstrapping campaign state on
// first start: the token ledger begins paused and any genesis allocations are
// credited. Re-opening an initialized database leaves state untouched.
func NewNode(db storage.Database, cfg sale.CampaignConfig, allocations []GenesisAllocation) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	engine, err := sale.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	manager := state.NewManager(db)
	n := &Node{
		db:           db,
		state:        manager,
		config:       engine.Config(),
		engine:       engine,
		tokens:       token.NewLedger(),
		funding:      funds.NewLedger(),
		receipts:     sale.NewLedger(manager),
		quotaStore:   quotas.NewStore(manager),
		modulePauses: make(map[string]bool),
		nowFn:        func() time.Time { return time.Now().UTC() },
	}

	emitter := nodeEventEmitter{node: n}
	n.tokens.SetState(manager)
	n.tokens.SetEmitter(emitter)
	n.tokens.SetPauses(n)
	n.funding.SetState(manager)
	n.funding.SetEmitter(emitter)
	n.funding.SetPauses(n)

	engine.SetState(saleStateAdapter{manager: manager})
	engine.SetLedger(n.tokens)
	engine.SetFunds(n.funding)
	engine.SetReceipts(n.receipts)
	engine.SetEmitter(emitter)
	engine.SetPauses(n)

	if err := n.bootstrap(allocations); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) bootstrap(allocations []GenesisAllocation) error {
	initialized, err := n.state.CampaignInitialized()
	if err != nil {
		return fmt.Errorf("node: query genesis marker: %w", err)
	}
	if initialized {
		return nil
	}
	if err := n.state.Begin(); err != nil {
		return err
	}
	// Transfers stay frozen until finalization lifts the pause.
	if err := n.state.SetTokenPaused(token.Symbol, true); err != nil {
		n.state.Rollback()
		return fmt.Errorf("node: seed token pause flag: %w", err)
	}
	for _, alloc := range allocations {
		if alloc.USDQ == nil || alloc.USDQ.Sign() <= 0 {
			continue
		}
		account, err := n.state.GetAccount(alloc.Account[:])
		if err != nil {
			n.state.Rollback()
			return fmt.Errorf("node: load genesis account: %w", err)
		}
		account.BalanceUSDQ = new(big.Int).Add(account.BalanceUSDQ, alloc.USDQ)
		if err := n.state.PutAccount(alloc.Account[:], account); err != nil {
			n.state.Rollback()
			return fmt.Errorf("node: store genesis account: %w", err)
		}
	}
	if err := n.state.MarkCampaignInitialized(); err != nil {
		n.state.Rollback()
		return fmt.Errorf("node: mark genesis: %w", err)
	}
	return n.state.Commit()
}

// SetNowFunc overrides the node clock for the engine and its collaborators.
// Nil restores the default UTC clock.
func (n *Node) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	n.nowFn = now
	n.engine.SetNowFunc(now)
	n.receipts.SetClock(now)
}

// SetQuota configures the per-contributor rate and spend limits applied to
// contribution submissions. A zero quota disables the checks.
func (n *Node) SetQuota(q nativecommon.Quota) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	n.quota = q
}

// SetModulePaused toggles the operator kill switch for a module's operations.
func (n *Node) SetModulePaused(module string, paused bool) {
	n.pauseMu.Lock()
	defer n.pauseMu.Unlock()
	n.modulePauses[module] = paused
}

// IsPaused reports the kill-switch state consulted by the native engines.
func (n *Node) IsPaused(module string) bool {
	n.pauseMu.RLock()
	defer n.pauseMu.RUnlock()
	return n.modulePauses[module]
}

// CampaignConfig returns the immutable campaign parameters.
func (n *Node) CampaignConfig() sale.CampaignConfig { return n.config }

func (n *Node) now() time.Time {
	if n.nowFn == nil {
		return time.Now().UTC()
	}
	return n.nowFn()
}

// withSession runs fn under the node's exclusive lock inside a state session,
// committing on success and rolling back every buffered write on failure.
func (n *Node) withSession(fn func() error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if err := n.state.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		n.state.Rollback()
		return err
	}
	return n.state.Commit()
}

func (n *Node) applyQuota(contributor [20]byte, amount *big.Int) error {
	if !n.quota.Enabled() {
		return nil
	}
	usdq := uint64(0)
	if amount != nil {
		if !amount.IsUint64() {
			return nativecommon.ErrQuotaUSDQCapExceeded
		}
		usdq = amount.Uint64()
	}
	epochSeconds := uint64(n.quota.EpochSeconds)
	if epochSeconds == 0 {
		epochSeconds = 60
	}
	epoch := uint64(n.now().Unix()) / epochSeconds
	_, err := nativecommon.Apply(n.quotaStore, saleModuleName, epoch, contributor[:], n.quota, 1, usdq)
	return err
}

// SubmitContribution verifies a signed contribution order and processes it.
// The nonce is burned in the same atomic section as the contribution itself,
// so a replayed order can never settle twice.
func (n *Node) SubmitContribution(order ContributionOrder, sig []byte) (*sale.Purchase, error) {
	amount, err := order.AmountBig()
	if err != nil {
		return nil, err
	}
	if order.ChainID != OrderChainID {
		return nil, ErrOrderInvalidChainID
	}
	if n.now().Unix() >= order.Expiry {
		return nil, ErrOrderExpired
	}
	contributor, err := order.ContributorBytes()
	if err != nil {
		return nil, fmt.Errorf("order: decode contributor: %w", err)
	}
	beneficiary, err := order.BeneficiaryBytes()
	if err != nil {
		return nil, fmt.Errorf("order: decode beneficiary: %w", err)
	}
	signer, err := order.RecoverSigner(sig)
	if err != nil {
		return nil, err
	}
	if signer != contributor {
		return nil, ErrOrderInvalidSigner
	}

	nonce := order.TrimmedNonce()
	var purchase *sale.Purchase
	err = n.withSession(func() error {
		used, err := n.state.OrderSettled(nonce)
		if err != nil {
			return err
		}
		if used {
			return ErrOrderNonceUsed
		}
		if err := n.applyQuota(contributor, amount); err != nil {
			return err
		}
		p, err := n.engine.ProcessContribution(contributor, beneficiary, amount)
		if err != nil {
			return err
		}
		if err := n.state.MarkOrderSettled(nonce); err != nil {
			return err
		}
		purchase = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// Contribute processes a contribution for the given accounts without an order
// signature. It is the trusted path used by operator tooling.
func (n *Node) Contribute(contributor, beneficiary [20]byte, amount *big.Int) (*sale.Purchase, error) {
	var purchase *sale.Purchase
	err := n.withSession(func() error {
		if err := n.applyQuota(contributor, amount); err != nil {
			return err
		}
		p, err := n.engine.ProcessContribution(contributor, beneficiary, amount)
		if err != nil {
			return err
		}
		purchase = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// FinalizeCampaign concludes the campaign exactly once.
func (n *Node) FinalizeCampaign() error {
	return n.withSession(func() error {
		return n.engine.Finalize()
	})
}

// PauseCampaign raises the administrative pause flag.
func (n *Node) PauseCampaign() error {
	return n.withSession(func() error {
		return n.engine.Pause()
	})
}

// ResumeCampaign clears the administrative pause flag.
func (n *Node) ResumeCampaign() error {
	return n.withSession(func() error {
		return n.engine.Unpause()
	})
}

// CreditFunds records an external settlement into an account's funding
// balance.
func (n *Node) CreditFunds(to [20]byte, amount *big.Int, reference string) error {
	return n.withSession(func() error {
		return n.funding.Credit(to, amount, reference)
	})
}

// TransferToken moves campaign tokens between accounts once transfers are
// unpaused.
func (n *Node) TransferToken(from, to [20]byte, amount *big.Int) error {
	return n.withSession(func() error {
		return n.tokens.Transfer(from, to, amount)
	})
}

// BurnToken destroys campaign tokens held by the account.
func (n *Node) BurnToken(from [20]byte, amount *big.Int) error {
	return n.withSession(func() error {
		return n.tokens.Burn(from, amount)
	})
}

// CampaignStatus reports the campaign's public state.
func (n *Node) CampaignStatus() (*sale.StatusView, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Status()
}

// GetAccount returns the stored account for the address, or a zeroed account
// when none exists yet.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.state.GetAccount(addr[:])
}

// TokenBalance reports the account's campaign token balance.
func (n *Node) TokenBalance(addr [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.tokens.BalanceOf(addr)
}

// FundsBalance reports the account's funding balance.
func (n *Node) FundsBalance(addr [20]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.funding.Balance(addr)
}

// TotalIssued reports the token ledger's running issued supply.
func (n *Node) TotalIssued() (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.tokens.TotalIssued()
}

// TokenPaused reports whether token transfers are currently suspended.
func (n *Node) TokenPaused() (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.tokens.Paused()
}

// Purchase returns a settled purchase receipt by identifier.
func (n *Node) Purchase(id string) (*sale.Purchase, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.receipts.Get(id)
}

// Purchases returns a page of settled purchase receipts within the timestamp
// window.
func (n *Node) Purchases(startTs, endTs int64, cursor string, limit int) ([]*sale.Purchase, string, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.receipts.List(startTs, endTs, cursor, limit)
}

// ExportPurchases generates the base64 CSV export of settled purchases within
// the timestamp window.
func (n *Node) ExportPurchases(startTs, endTs int64) (string, int, *big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.receipts.ExportCSV(startTs, endTs)
}

// Events returns a copy of the buffered event tail, oldest first.
func (n *Node) Events() []types.Event {
	n.eventMu.RLock()
	defer n.eventMu.RUnlock()
	out := make([]types.Event, len(n.events))
	for i := range n.events {
		attrs := make(map[string]string, len(n.events[i].Attributes))
		for k, v := range n.events[i].Attributes {
			attrs[k] = v
		}
		out[i] = types.Event{Type: n.events[i].Type, Attributes: attrs}
	}
	return out
}

func (n *Node) appendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.Type)
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.events = append(n.events, types.Event{Type: evt.Type, Attributes: attrs})
	if len(n.events) > maxEventTail {
		n.events = n.events[len(n.events)-maxEventTail:]
	}
}

type eventWithPayload interface {
	Event() *types.Event
}

type nodeEventEmitter struct {
	node *Node
}

func (e nodeEventEmitter) Emit(evt events.Event) {
	if e.node == nil || evt == nil {
		return
	}
	if payload, ok := evt.(eventWithPayload); ok {
		if event := payload.Event(); event != nil {
			e.node.appendEvent(event)
		}
		return
	}
	e.node.appendEvent(&types.Event{Type: evt.EventType(), Attributes: map[string]string{}})
}

// saleStateAdapter converts between the engine's campaign status and the
// persisted record.
type saleStateAdapter struct {
	manager *state.Manager
}

func (a saleStateAdapter) SaleStatus() (*sale.CampaignStatus, error) {
	record, err := a.manager.CampaignState()
	if err != nil {
		return nil, err
	}
	status := &sale.CampaignStatus{
		RaisedTotal: record.RaisedTotal,
		Finalized:   record.Finalized,
		Paused:      record.Paused,
	}
	if record.SoftCapDeadline > 0 {
		status.SoftCapDeadline = time.Unix(int64(record.SoftCapDeadline), 0).UTC()
	}
	return status, nil
}

func (a saleStateAdapter) SetSaleStatus(status *sale.CampaignStatus) error {
	if status == nil {
		return errors.New("campaign status must not be nil")
	}
	record := &state.CampaignRecord{
		RaisedTotal: status.RaisedTotal,
		Finalized:   status.Finalized,
		Paused:      status.Paused,
	}
	if !status.SoftCapDeadline.IsZero() {
		record.SoftCapDeadline = uint64(status.SoftCapDeadline.Unix())
	}
	return a.manager.SetCampaignState(record)
}
