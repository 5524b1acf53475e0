package sale

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"crowdsale/core/events"
	"crowdsale/core/types"
	nativecommon "crowdsale/native/common"
	"crowdsale/observability/metrics"
)

// engineState exposes the campaign state persistence the engine needs. The
// node adapts its state manager to this interface so the engine never touches
// storage directly.
type engineState interface {
	SaleStatus() (*CampaignStatus, error)
	SetSaleStatus(status *CampaignStatus) error
}

// Minter issues campaign tokens and reports the running issued supply.
type Minter interface {
	Mint(to [20]byte, amount *big.Int) error
	TotalIssued() (*big.Int, error)
}

// Pauser re-enables token transfers once the campaign concludes.
type Pauser interface {
	Unpause() error
}

// TokenLedger is the composed capability surface the engine requires from the
// token collaborator.
type TokenLedger interface {
	Minter
	Pauser
}

// FundsMover settles the contributed funding balance into the operator
// account after a successful issuance.
type FundsMover interface {
	Forward(from, to [20]byte, amount *big.Int) error
}

// Engine orchestrates contributions and finalization for one campaign. Every
// mutating call expects the node to hold its exclusive lock and to run the
// call inside a state session so a failure leaves no partial writes.
type Engine struct {
	state     engineState
	ledger    TokenLedger
	funds     FundsMover
	receipts  *Ledger
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() time.Time
	config    CampaignConfig
	tracker   *Tracker
	schedule  BonusSchedule
	telemetry *metrics.SaleMetrics
}

// NewEngine constructs an engine for the validated campaign configuration
// with default no-op dependencies.
func NewEngine(config CampaignConfig) (*Engine, error) {
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() time.Time { return time.Now().UTC() },
		config:    config,
		tracker:   NewTracker(config),
		schedule:  DefaultBonusSchedule(config.UnitScale),
		telemetry: metrics.Sale(),
	}, nil
}

// SetState wires the engine to the campaign state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the token ledger collaborator.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetFunds wires the funding balance mover.
func (e *Engine) SetFunds(funds FundsMover) { e.funds = funds }

// SetReceipts attaches the purchase ledger recording admitted contributions.
// A nil ledger disables receipt persistence.
func (e *Engine) SetReceipts(receipts *Ledger) { e.receipts = receipts }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses installs the operator pause view consulted before any mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the campaign clock. Nil restores the default UTC
// clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// SetBonusSchedule replaces the default incentive table, rejecting malformed
// schedules.
func (e *Engine) SetBonusSchedule(schedule BonusSchedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	e.schedule = schedule
	return nil
}

// Config returns the immutable campaign configuration.
func (e *Engine) Config() CampaignConfig { return e.config }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func (e *Engine) rejected(err error) {
	if e == nil || e.telemetry == nil {
		return
	}
	e.telemetry.ObserveRejection(rejectionReason(err))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrCampaignPaused):
		return "paused"
	case errors.Is(err, ErrOutsideSaleWindow):
		return "outside_window"
	case errors.Is(err, ErrBelowPresaleMinimum):
		return "below_minimum"
	case errors.Is(err, ErrHardCapExceeded):
		return "hard_cap"
	case errors.Is(err, ErrPresaleCapExceeded):
		return "presale_cap"
	case errors.Is(err, ErrSupplyCapExceeded):
		return "supply_cap"
	default:
		return "invalid"
	}
}

func (e *Engine) now() time.Time {
	if e == nil || e.nowFn == nil {
		return time.Now().UTC()
	}
	return e.nowFn()
}

func (e *Engine) loadStatus() (*CampaignStatus, error) {
	status, err := e.state.SaleStatus()
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = &CampaignStatus{}
	}
	status.normalize()
	return status, nil
}

// ProcessContribution runs one contribution end to end: admission, bonus
// pricing, issuance, raise accounting, funds forwarding and receipt emission.
// The contributor account is debited; the beneficiary receives the minted
// units. Zero state is mutated on any failure.
func (e *Engine) ProcessContribution(contributor, beneficiary [20]byte, amount *big.Int) (*Purchase, error) {
	if e == nil {
		return nil, errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if e.funds == nil {
		return nil, errNilFunds
	}
	if beneficiary == zeroAddress {
		return nil, ErrInvalidBeneficiary
	}
	if contributor == zeroAddress {
		return nil, ErrInvalidBeneficiary
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroContribution
	}

	now := e.now()
	status, err := e.loadStatus()
	if err != nil {
		return nil, err
	}
	if err := e.tracker.Admissible(status, now, amount); err != nil {
		e.rejected(err)
		return nil, err
	}

	issuedSoFar, err := e.ledger.TotalIssued()
	if err != nil {
		return nil, fmt.Errorf("sale: query issued supply: %w", err)
	}
	target := e.config.SupplyTarget()
	if issuedSoFar.Cmp(target) >= 0 {
		e.rejected(ErrSupplyCapExceeded)
		return nil, ErrSupplyCapExceeded
	}

	percent, err := e.schedule.BonusPercent(e.config, now, amount)
	if err != nil {
		return nil, err
	}

	base := new(big.Int).Mul(amount, e.config.Rate)
	issued := new(big.Int).Set(base)
	if percent > 0 {
		bonus := new(big.Int).Mul(base, big.NewInt(percent))
		bonus.Quo(bonus, big.NewInt(100))
		issued.Add(issued, bonus)
	}
	if new(big.Int).Add(issuedSoFar, issued).Cmp(target) > 0 {
		e.rejected(ErrSupplyCapExceeded)
		return nil, ErrSupplyCapExceeded
	}

	deadlineBefore := status.SoftCapDeadline
	e.tracker.RecordContribution(status, amount, now)
	if err := e.state.SetSaleStatus(status); err != nil {
		return nil, fmt.Errorf("sale: persist campaign state: %w", err)
	}

	if err := e.ledger.Mint(beneficiary, issued); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	if err := e.funds.Forward(contributor, e.config.Operator, amount); err != nil {
		return nil, fmt.Errorf("sale: forward funds: %w", err)
	}

	purchase := &Purchase{
		ID:           uuid.NewString(),
		Contributor:  contributor,
		Beneficiary:  beneficiary,
		Amount:       new(big.Int).Set(amount),
		Issued:       issued,
		BonusPercent: percent,
		Phase:        e.config.PhaseAt(now).String(),
		CreatedAt:    now.Unix(),
	}
	if e.receipts != nil {
		if err := e.receipts.Put(purchase); err != nil {
			return nil, fmt.Errorf("sale: record purchase: %w", err)
		}
	}

	if e.telemetry != nil {
		e.telemetry.ObserveContribution(purchase.Phase)
		e.telemetry.SetProgress(status.RaisedTotal, e.config.HardCap)
		e.telemetry.SetIssuedSupply(new(big.Int).Add(issuedSoFar, issued))
	}

	e.emit(newPurchaseEvent(purchase))
	if deadlineBefore.IsZero() && !status.SoftCapDeadline.IsZero() {
		if e.telemetry != nil {
			e.telemetry.SetSoftCapLatched(true)
		}
		e.emit(newSoftCapLatchedEvent(status.RaisedTotal, status.SoftCapDeadline))
	}
	return purchase, nil
}

// Finalize concludes the campaign exactly once: the operator and reserve
// shares are minted, the reserve is topped up to the supply target, token
// transfers resume and the finalized latch is set.
func (e *Engine) Finalize() error {
	if e == nil {
		return errNilEngine
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}

	now := e.now()
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if status.Finalized {
		return ErrAlreadyFinalized
	}
	if !e.tracker.HasEnded(status, now) {
		return ErrCampaignNotEnded
	}

	operatorShare := e.config.OperatorShare()
	if err := e.ledger.Mint(e.config.Operator, operatorShare); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	reserveShare := e.config.ReserveShare()
	if err := e.ledger.Mint(e.config.Reserve, reserveShare); err != nil {
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}

	issued, err := e.ledger.TotalIssued()
	if err != nil {
		return fmt.Errorf("sale: query issued supply: %w", err)
	}
	target := e.config.SupplyTarget()
	topUp := big.NewInt(0)
	finalSupply := new(big.Int).Set(issued)
	if issued.Cmp(target) < 0 {
		topUp = new(big.Int).Sub(target, issued)
		if err := e.ledger.Mint(e.config.Reserve, topUp); err != nil {
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}
		finalSupply.Set(target)
	}

	if err := e.ledger.Unpause(); err != nil {
		return fmt.Errorf("sale: unpause token ledger: %w", err)
	}

	status.Finalized = true
	if err := e.state.SetSaleStatus(status); err != nil {
		return fmt.Errorf("sale: persist campaign state: %w", err)
	}

	if e.telemetry != nil {
		e.telemetry.SetIssuedSupply(finalSupply)
		e.telemetry.SetFinalized(true)
	}

	e.emit(newFinalizedEvent(finalSupply, operatorShare, reserveShare, topUp, now))
	return nil
}

// Pause suspends contribution processing. The flag is administrative and
// independent of finalization.
func (e *Engine) Pause() error {
	return e.setPaused(true)
}

// Unpause resumes contribution processing.
func (e *Engine) Unpause() error {
	return e.setPaused(false)
}

func (e *Engine) setPaused(paused bool) error {
	if e == nil {
		return errNilEngine
	}
	if e.state == nil {
		return errNilState
	}
	status, err := e.loadStatus()
	if err != nil {
		return err
	}
	if status.Paused == paused {
		return nil
	}
	status.Paused = paused
	if err := e.state.SetSaleStatus(status); err != nil {
		return fmt.Errorf("sale: persist campaign state: %w", err)
	}
	e.emit(newPauseEvent(paused, e.now()))
	return nil
}

// StatusView is the read-only summary served to status queries.
type StatusView struct {
	Phase           Phase
	RaisedTotal     *big.Int
	SoftCapDeadline time.Time
	HardCap         *big.Int
	SoftCap         *big.Int
	PresaleCap      *big.Int
	Rate            *big.Int
	StartTime       time.Time
	PresaleEndTime  time.Time
	EndTime         time.Time
	Paused          bool
	Finalized       bool
	Ended           bool
}

// Status reports the campaign's current public state.
func (e *Engine) Status() (*StatusView, error) {
	if e == nil {
		return nil, errNilEngine
	}
	if e.state == nil {
		return nil, errNilState
	}
	now := e.now()
	status, err := e.loadStatus()
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Phase:           e.config.PhaseAt(now),
		RaisedTotal:     new(big.Int).Set(status.RaisedTotal),
		SoftCapDeadline: status.SoftCapDeadline,
		HardCap:         new(big.Int).Set(e.config.HardCap),
		SoftCap:         new(big.Int).Set(e.config.SoftCap),
		PresaleCap:      new(big.Int).Set(e.config.PresaleCap),
		Rate:            new(big.Int).Set(e.config.Rate),
		StartTime:       e.config.StartTime,
		PresaleEndTime:  e.config.PresaleEndTime,
		EndTime:         e.config.EndTime,
		Paused:          status.Paused,
		Finalized:       status.Finalized,
		Ended:           e.tracker.HasEnded(status, now),
	}, nil
}
