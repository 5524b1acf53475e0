package sale

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"crowdsale/core/events"
	nativecommon "crowdsale/native/common"
)

type mockSaleState struct {
	status *CampaignStatus
}

func (m *mockSaleState) SaleStatus() (*CampaignStatus, error) {
	if m.status == nil {
		return &CampaignStatus{}, nil
	}
	return m.status.Copy(), nil
}

func (m *mockSaleState) SetSaleStatus(status *CampaignStatus) error {
	m.status = status.Copy()
	return nil
}

type mintCall struct {
	to     [20]byte
	amount *big.Int
}

type mockToken struct {
	issued   *big.Int
	mints    []mintCall
	unpaused bool
	mintErr  error
}

func newMockToken() *mockToken {
	return &mockToken{issued: big.NewInt(0)}
}

func (m *mockToken) Mint(to [20]byte, amount *big.Int) error {
	if m.mintErr != nil {
		return m.mintErr
	}
	m.mints = append(m.mints, mintCall{to: to, amount: new(big.Int).Set(amount)})
	m.issued = new(big.Int).Add(m.issued, amount)
	return nil
}

func (m *mockToken) TotalIssued() (*big.Int, error) {
	return new(big.Int).Set(m.issued), nil
}

func (m *mockToken) Unpause() error {
	m.unpaused = true
	return nil
}

type fundsTransfer struct {
	from   [20]byte
	to     [20]byte
	amount *big.Int
}

type mockFunds struct {
	transfers []fundsTransfer
	err       error
}

func (m *mockFunds) Forward(from, to [20]byte, amount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.transfers = append(m.transfers, fundsTransfer{from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type stubPauses struct {
	paused map[string]bool
}

func (s stubPauses) IsPaused(module string) bool { return s.paused[module] }

func newTestEngine(t *testing.T, cfg CampaignConfig) (*Engine, *mockSaleState, *mockToken, *mockFunds, *captureEmitter) {
	t.Helper()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	state := &mockSaleState{}
	token := newMockToken()
	funds := &mockFunds{}
	emitter := &captureEmitter{}
	engine.SetState(state)
	engine.SetLedger(token)
	engine.SetFunds(funds)
	engine.SetEmitter(emitter)
	engine.SetReceipts(NewLedger(newMockStorage()))
	return engine, state, token, funds, emitter
}

func testParties() (contributor, beneficiary [20]byte) {
	contributor[0] = 0xC0
	beneficiary[0] = 0xBE
	return contributor, beneficiary
}

func TestProcessContributionPresaleBonus(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, token, funds, emitter := newTestEngine(t, cfg)
	now := cfg.StartTime.Add(time.Hour)
	engine.SetNowFunc(func() time.Time { return now })
	contributor, beneficiary := testParties()

	purchase, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(150))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if purchase.Issued.Cmp(big.NewInt(157)) != 0 {
		t.Fatalf("expected 157 issued, got %s", purchase.Issued)
	}
	if purchase.BonusPercent != 5 || purchase.Phase != "presale" {
		t.Fatalf("unexpected pricing: %+v", purchase)
	}
	if state.status.RaisedTotal.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected raised total %s", state.status.RaisedTotal)
	}
	if len(token.mints) != 1 || token.mints[0].to != beneficiary || token.mints[0].amount.Cmp(big.NewInt(157)) != 0 {
		t.Fatalf("unexpected mints: %+v", token.mints)
	}
	if len(funds.transfers) != 1 {
		t.Fatalf("expected one funds transfer, got %d", len(funds.transfers))
	}
	transfer := funds.transfers[0]
	if transfer.from != contributor || transfer.to != cfg.Operator || transfer.amount.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("unexpected transfer: %+v", transfer)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != EventTypePurchaseSettled {
		t.Fatalf("unexpected events: %v", emitter.types())
	}
	stored, ok, err := engine.receipts.Get(purchase.ID)
	if err != nil || !ok {
		t.Fatalf("receipt lookup: %v ok=%v", err, ok)
	}
	if stored.Issued.Cmp(big.NewInt(157)) != 0 {
		t.Fatalf("unexpected stored receipt: %+v", stored)
	}
}

func TestProcessContributionCrowdsaleNoBonus(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, token, _, _ := newTestEngine(t, cfg)
	now := cfg.PresaleEndTime.Add(time.Hour)
	engine.SetNowFunc(func() time.Time { return now })
	contributor, beneficiary := testParties()

	purchase, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(500))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if purchase.Issued.Cmp(big.NewInt(500)) != 0 || purchase.BonusPercent != 0 {
		t.Fatalf("expected flat crowdsale issuance, got %+v", purchase)
	}
	if purchase.Phase != "crowdsale" {
		t.Fatalf("unexpected phase %s", purchase.Phase)
	}
	if state.status.RaisedTotal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected raised total %s", state.status.RaisedTotal)
	}
	if token.issued.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected issued supply %s", token.issued)
	}
}

func TestProcessContributionBonusTruncates(t *testing.T) {
	cfg := testCampaignConfig()
	engine, _, _, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	// 33 units at 2% -> base 33, bonus 0.66 truncated to 0.
	purchase, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(33))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if purchase.Issued.Cmp(big.NewInt(33)) != 0 {
		t.Fatalf("expected truncated bonus, got %s", purchase.Issued)
	}
}

func TestProcessContributionRejectsInvalidInputs(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, token, funds, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	var zero [20]byte
	if _, err := engine.ProcessContribution(contributor, zero, big.NewInt(100)); !errors.Is(err, ErrInvalidBeneficiary) {
		t.Fatalf("expected beneficiary rejection, got %v", err)
	}
	if _, err := engine.ProcessContribution(zero, beneficiary, big.NewInt(100)); !errors.Is(err, ErrInvalidBeneficiary) {
		t.Fatalf("expected contributor rejection, got %v", err)
	}
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(0)); !errors.Is(err, ErrZeroContribution) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	if _, err := engine.ProcessContribution(contributor, beneficiary, nil); !errors.Is(err, ErrZeroContribution) {
		t.Fatalf("expected nil amount rejection, got %v", err)
	}
	if state.status != nil {
		t.Fatalf("state mutated by rejected contributions: %+v", state.status)
	}
	if len(token.mints) != 0 || len(funds.transfers) != 0 {
		t.Fatalf("side effects from rejected contributions")
	}
}

func TestProcessContributionBelowPresaleMinimum(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, _, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(19)); !errors.Is(err, ErrBelowPresaleMinimum) {
		t.Fatalf("expected presale minimum rejection, got %v", err)
	}
	if state.status != nil {
		t.Fatalf("state mutated by rejected contribution")
	}
}

func TestProcessContributionSoftCapLatch(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, _, _, emitter := newTestEngine(t, cfg)
	now := cfg.PresaleEndTime.Add(time.Hour)
	engine.SetNowFunc(func() time.Time { return now })
	contributor, beneficiary := testParties()

	state.status = &CampaignStatus{RaisedTotal: big.NewInt(25_999)}
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(10)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if state.status.RaisedTotal.Cmp(big.NewInt(26_009)) != 0 {
		t.Fatalf("unexpected raised total %s", state.status.RaisedTotal)
	}
	expected := now.Add(SoftCapClosingWindow)
	if !state.status.SoftCapDeadline.Equal(expected) {
		t.Fatalf("expected deadline %v, got %v", expected, state.status.SoftCapDeadline)
	}
	eventTypes := emitter.types()
	if len(eventTypes) != 2 || eventTypes[0] != EventTypePurchaseSettled || eventTypes[1] != EventTypeSoftCapLatched {
		t.Fatalf("unexpected events: %v", eventTypes)
	}

	// Three days later the latched deadline has elapsed.
	engine.SetNowFunc(func() time.Time { return now.Add(72 * time.Hour) })
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(10)); !errors.Is(err, ErrOutsideSaleWindow) {
		t.Fatalf("expected window rejection after deadline, got %v", err)
	}

	// A later contribution inside the closing window must not move the latch.
	engine.SetNowFunc(func() time.Time { return now.Add(time.Hour) })
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(10)); err != nil {
		t.Fatalf("process inside window: %v", err)
	}
	if !state.status.SoftCapDeadline.Equal(expected) {
		t.Fatalf("latched deadline moved: %v", state.status.SoftCapDeadline)
	}
}

func TestProcessContributionHardCapRejected(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, token, funds, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.PresaleEndTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	state.status = &CampaignStatus{RaisedTotal: big.NewInt(49_995)}
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(6)); !errors.Is(err, ErrHardCapExceeded) {
		t.Fatalf("expected hard cap rejection, got %v", err)
	}
	if state.status.RaisedTotal.Cmp(big.NewInt(49_995)) != 0 {
		t.Fatalf("raised total mutated: %s", state.status.RaisedTotal)
	}
	if len(token.mints) != 0 || len(funds.transfers) != 0 {
		t.Fatalf("side effects from rejected contribution")
	}
}

func TestProcessContributionSupplyCap(t *testing.T) {
	cfg := testCampaignConfig()
	engine, _, token, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.PresaleEndTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	token.issued = cfg.SupplyTarget()
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(100)); !errors.Is(err, ErrSupplyCapExceeded) {
		t.Fatalf("expected supply cap rejection, got %v", err)
	}

	// One unit of headroom left: a contribution issuing more must be refused
	// rather than overshooting the target.
	token.issued = new(big.Int).Sub(cfg.SupplyTarget(), big.NewInt(1))
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(100)); !errors.Is(err, ErrSupplyCapExceeded) {
		t.Fatalf("expected headroom rejection, got %v", err)
	}
}

func TestProcessContributionPausedCampaign(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, _, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	state.status = &CampaignStatus{Paused: true}
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(100)); !errors.Is(err, ErrCampaignPaused) {
		t.Fatalf("expected paused rejection, got %v", err)
	}
}

func TestProcessContributionModulePaused(t *testing.T) {
	cfg := testCampaignConfig()
	engine, _, _, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })
	engine.SetPauses(stubPauses{paused: map[string]bool{moduleName: true}})
	contributor, beneficiary := testParties()

	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(100)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected module pause rejection, got %v", err)
	}
}

func TestProcessContributionMintFailure(t *testing.T) {
	cfg := testCampaignConfig()
	engine, _, token, funds, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	token.mintErr = errors.New("ledger unavailable")
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(100)); !errors.Is(err, ErrMintFailed) {
		t.Fatalf("expected mint failure, got %v", err)
	}
	if len(funds.transfers) != 0 {
		t.Fatalf("funds forwarded despite failed mint")
	}
}

func TestFinalizeMintsSharesAndUnpauses(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, token, _, emitter := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.EndTime.Add(time.Hour) })

	token.issued = big.NewInt(40_000)
	state.status = &CampaignStatus{RaisedTotal: big.NewInt(40_000)}
	if err := engine.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !state.status.Finalized {
		t.Fatalf("finalized flag not set")
	}
	if !token.unpaused {
		t.Fatalf("token ledger still paused")
	}
	if len(token.mints) != 3 {
		t.Fatalf("expected operator, reserve and top-up mints, got %d", len(token.mints))
	}
	if token.mints[0].to != cfg.Operator || token.mints[0].amount.Cmp(cfg.OperatorShare()) != 0 {
		t.Fatalf("unexpected operator mint: %+v", token.mints[0])
	}
	if token.mints[1].to != cfg.Reserve || token.mints[1].amount.Cmp(cfg.ReserveShare()) != 0 {
		t.Fatalf("unexpected reserve mint: %+v", token.mints[1])
	}
	shareTotal := new(big.Int).Add(cfg.OperatorShare(), cfg.ReserveShare())
	expectedTopUp := new(big.Int).Sub(cfg.SupplyTarget(), new(big.Int).Add(big.NewInt(40_000), shareTotal))
	if token.mints[2].to != cfg.Reserve || token.mints[2].amount.Cmp(expectedTopUp) != 0 {
		t.Fatalf("unexpected top-up mint: %+v", token.mints[2])
	}
	if token.issued.Cmp(cfg.SupplyTarget()) != 0 {
		t.Fatalf("final supply %s, want %s", token.issued, cfg.SupplyTarget())
	}
	eventTypes := emitter.types()
	if len(eventTypes) != 1 || eventTypes[0] != EventTypeFinalized {
		t.Fatalf("unexpected events: %v", eventTypes)
	}
}

func TestFinalizeTwiceFails(t *testing.T) {
	cfg := testCampaignConfig()
	engine, _, token, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.EndTime.Add(time.Hour) })

	if err := engine.Finalize(); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	mintsAfterFirst := len(token.mints)
	if err := engine.Finalize(); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected already-finalized, got %v", err)
	}
	if len(token.mints) != mintsAfterFirst {
		t.Fatalf("second finalize minted more units")
	}
}

func TestFinalizeBeforeEndFails(t *testing.T) {
	cfg := testCampaignConfig()
	engine, _, token, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })

	if err := engine.Finalize(); !errors.Is(err, ErrCampaignNotEnded) {
		t.Fatalf("expected not-ended rejection, got %v", err)
	}
	if len(token.mints) != 0 {
		t.Fatalf("mints before campaign end")
	}
}

func TestFinalizeAtHardCapMidWindow(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, token, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.PresaleEndTime.Add(time.Hour) })

	token.issued = big.NewInt(50_000)
	state.status = &CampaignStatus{RaisedTotal: big.NewInt(50_000)}
	if err := engine.Finalize(); err != nil {
		t.Fatalf("finalize at hard cap: %v", err)
	}
	if token.issued.Cmp(cfg.SupplyTarget()) != 0 {
		t.Fatalf("final supply %s, want %s", token.issued, cfg.SupplyTarget())
	}
}

func TestPauseUnpauseRoundTrip(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, _, _, emitter := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })
	contributor, beneficiary := testParties()

	if err := engine.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !state.status.Paused {
		t.Fatalf("paused flag not set")
	}
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(100)); !errors.Is(err, ErrCampaignPaused) {
		t.Fatalf("expected paused rejection, got %v", err)
	}
	if err := engine.Unpause(); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if state.status.Paused {
		t.Fatalf("paused flag not cleared")
	}
	if _, err := engine.ProcessContribution(contributor, beneficiary, big.NewInt(100)); err != nil {
		t.Fatalf("process after unpause: %v", err)
	}
	eventTypes := emitter.types()
	if len(eventTypes) != 3 || eventTypes[0] != EventTypeCampaignPaused || eventTypes[1] != EventTypeCampaignUnpaused || eventTypes[2] != EventTypePurchaseSettled {
		t.Fatalf("unexpected events: %v", eventTypes)
	}
}

func TestStatusReportsCampaignShape(t *testing.T) {
	cfg := testCampaignConfig()
	engine, state, _, _, _ := newTestEngine(t, cfg)
	engine.SetNowFunc(func() time.Time { return cfg.StartTime.Add(time.Hour) })

	state.status = &CampaignStatus{RaisedTotal: big.NewInt(1_234)}
	view, err := engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Phase != PhasePresale {
		t.Fatalf("unexpected phase %s", view.Phase)
	}
	if view.RaisedTotal.Cmp(big.NewInt(1_234)) != 0 {
		t.Fatalf("unexpected raised %s", view.RaisedTotal)
	}
	if view.HardCap.Cmp(cfg.HardCap) != 0 || view.SoftCap.Cmp(cfg.SoftCap) != 0 {
		t.Fatalf("unexpected caps: %+v", view)
	}
	if view.Ended || view.Finalized || view.Paused {
		t.Fatalf("unexpected flags: %+v", view)
	}
}
