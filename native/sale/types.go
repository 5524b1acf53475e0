package sale

import (
	"errors"
	"math/big"
	"time"
)

const moduleName = "sale"

// SoftCapClosingWindow is the fixed countdown latched the first time the
// raised total crosses the soft cap. Once latched the campaign accepts
// contributions only until the deadline elapses.
const SoftCapClosingWindow = 48 * time.Hour

// Whole-unit allocation constants. Effective values scale with the campaign's
// configured unit scale so operators can run the sale at any decimal
// precision.
const (
	presaleMinimumWhole = 20

	operatorShareWhole = 20_000_000
	reserveShareWhole  = 80_000_000
	supplyTargetWhole  = 200_000_000
)

// Phase identifies which pricing regime applies at a given instant.
type Phase uint8

const (
	PhasePending Phase = iota
	PhasePresale
	PhaseCrowdsale
	PhaseClosed
)

// String returns the lowercase identifier used in events and RPC payloads.
func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhasePresale:
		return "presale"
	case PhaseCrowdsale:
		return "crowdsale"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CampaignConfig carries the immutable parameters of one campaign. The
// operator account receives forwarded funds and the operator share at
// finalization; the reserve account receives the reserve share and any
// supply top-up.
type CampaignConfig struct {
	StartTime      time.Time
	PresaleEndTime time.Time
	EndTime        time.Time
	Rate           *big.Int
	HardCap        *big.Int
	SoftCap        *big.Int
	PresaleCap     *big.Int
	UnitScale      *big.Int
	Operator       [20]byte
	Reserve        [20]byte
}

var zeroAddress [20]byte

// Normalize fills defaults on optional fields.
func (c *CampaignConfig) Normalize() {
	if c.UnitScale == nil || c.UnitScale.Sign() <= 0 {
		c.UnitScale = big.NewInt(1)
	}
}

// Validate enforces the constructor constraints. A config that fails
// validation must never reach an engine.
func (c CampaignConfig) Validate() error {
	if c.StartTime.IsZero() || c.PresaleEndTime.IsZero() || c.EndTime.IsZero() {
		return errors.New("sale: campaign window timestamps required")
	}
	if c.PresaleEndTime.Before(c.StartTime) {
		return errors.New("sale: presale end precedes campaign start")
	}
	if c.EndTime.Before(c.PresaleEndTime) {
		return errors.New("sale: campaign end precedes presale end")
	}
	if c.Rate == nil || c.Rate.Sign() <= 0 {
		return errors.New("sale: rate must be positive")
	}
	if c.HardCap == nil || c.HardCap.Sign() <= 0 {
		return errors.New("sale: hard cap must be positive")
	}
	if c.SoftCap == nil || c.SoftCap.Sign() <= 0 {
		return errors.New("sale: soft cap must be positive")
	}
	if c.HardCap.Cmp(c.SoftCap) <= 0 {
		return errors.New("sale: hard cap must exceed soft cap")
	}
	if c.PresaleCap == nil || c.PresaleCap.Sign() < 0 {
		return errors.New("sale: presale cap must not be negative")
	}
	if c.UnitScale != nil && c.UnitScale.Sign() <= 0 {
		return errors.New("sale: unit scale must be positive")
	}
	if c.Operator == zeroAddress {
		return errors.New("sale: operator account required")
	}
	if c.Reserve == zeroAddress {
		return errors.New("sale: reserve account required")
	}
	return nil
}

// InPresaleWindow reports whether now falls inside the presale sub-window.
// The right boundary belongs to the presale: a contribution landing exactly
// on PresaleEndTime still earns presale pricing.
func (c CampaignConfig) InPresaleWindow(now time.Time) bool {
	return !now.Before(c.StartTime) && !now.After(c.PresaleEndTime)
}

// PhaseAt classifies now against the configured windows. The classification
// is pure: the soft-cap deadline is campaign state, not configuration, and is
// applied by the tracker.
func (c CampaignConfig) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(c.StartTime):
		return PhasePending
	case !now.After(c.PresaleEndTime):
		return PhasePresale
	case !now.After(c.EndTime):
		return PhaseCrowdsale
	default:
		return PhaseClosed
	}
}

func (c CampaignConfig) scaled(whole int64) *big.Int {
	scale := c.UnitScale
	if scale == nil || scale.Sign() <= 0 {
		scale = big.NewInt(1)
	}
	return new(big.Int).Mul(big.NewInt(whole), scale)
}

// OperatorShare returns the fixed allocation minted to the operator account
// at finalization.
func (c CampaignConfig) OperatorShare() *big.Int { return c.scaled(operatorShareWhole) }

// ReserveShare returns the fixed allocation minted to the reserve account at
// finalization.
func (c CampaignConfig) ReserveShare() *big.Int { return c.scaled(reserveShareWhole) }

// SupplyTarget returns the ceiling the issued supply converges to. The
// finalizer tops the reserve up to this figure when the sale leaves a
// shortfall.
func (c CampaignConfig) SupplyTarget() *big.Int { return c.scaled(supplyTargetWhole) }

// CampaignStatus is the mutable state of the sale. The raised total only
// grows, the latched deadline never changes once set and the finalized flag
// flips true exactly once.
type CampaignStatus struct {
	RaisedTotal     *big.Int
	SoftCapDeadline time.Time
	Finalized       bool
	Paused          bool
}

func (s *CampaignStatus) normalize() {
	if s.RaisedTotal == nil {
		s.RaisedTotal = big.NewInt(0)
	}
}

// Copy returns a deep copy so callers cannot mutate shared state.
func (s *CampaignStatus) Copy() *CampaignStatus {
	if s == nil {
		return nil
	}
	clone := *s
	if s.RaisedTotal != nil {
		clone.RaisedTotal = new(big.Int).Set(s.RaisedTotal)
	}
	return &clone
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
