package sale

import (
	"math/big"
	"time"
)

// Tracker enforces the cap and window rules of one campaign. It is a pure
// rules object: all mutable state lives in the CampaignStatus passed to each
// call, so the engine can evaluate and persist within one exclusive section.
type Tracker struct {
	config CampaignConfig
}

// NewTracker constructs a tracker for a validated campaign config.
func NewTracker(config CampaignConfig) *Tracker {
	config.Normalize()
	return &Tracker{config: config}
}

// closingTime returns the instant after which contributions stop being
// admitted: the configured end, or the latched soft-cap deadline once set.
func (t *Tracker) closingTime(status *CampaignStatus) time.Time {
	if status != nil && !status.SoftCapDeadline.IsZero() {
		return status.SoftCapDeadline
	}
	return t.config.EndTime
}

// Admissible decides whether a contribution of the given size may proceed at
// the given instant. It returns nil or the specific rejection.
//
// The presale allocation check compares the raised total before the
// contribution against the presale cap: the contribution that crosses the cap
// is still admitted and the next one is refused. This mirrors the original
// campaign rules and keeps the check independent of contribution size.
func (t *Tracker) Admissible(status *CampaignStatus, now time.Time, amount *big.Int) error {
	if status == nil {
		return errNilState
	}
	status.normalize()
	if status.Paused {
		return ErrCampaignPaused
	}
	if now.Before(t.config.StartTime) || now.After(t.closingTime(status)) {
		return ErrOutsideSaleWindow
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroContribution
	}
	raisedAfter := new(big.Int).Add(status.RaisedTotal, amount)
	if raisedAfter.Cmp(t.config.HardCap) > 0 {
		return ErrHardCapExceeded
	}
	if t.config.InPresaleWindow(now) && status.RaisedTotal.Cmp(t.config.PresaleCap) > 0 {
		return ErrPresaleCapExceeded
	}
	return nil
}

// RecordContribution adds the admitted amount to the raised total and latches
// the closing deadline the first time the total reaches the soft cap. The
// latch is one-way: later contributions never move it.
func (t *Tracker) RecordContribution(status *CampaignStatus, amount *big.Int, now time.Time) {
	if status == nil || amount == nil {
		return
	}
	status.normalize()
	status.RaisedTotal = new(big.Int).Add(status.RaisedTotal, amount)
	if status.SoftCapDeadline.IsZero() && status.RaisedTotal.Cmp(t.config.SoftCap) >= 0 {
		status.SoftCapDeadline = now.Add(SoftCapClosingWindow)
	}
}

// HasEnded reports whether the campaign stopped accepting contributions: the
// latched deadline elapsed, the configured end passed, or the hard cap was
// reached.
func (t *Tracker) HasEnded(status *CampaignStatus, now time.Time) bool {
	if status == nil {
		return false
	}
	status.normalize()
	if !status.SoftCapDeadline.IsZero() && !now.Before(status.SoftCapDeadline) {
		return true
	}
	return now.After(t.config.EndTime) || status.RaisedTotal.Cmp(t.config.HardCap) >= 0
}

// Phase classifies now against the configured windows.
func (t *Tracker) Phase(now time.Time) Phase {
	return t.config.PhaseAt(now)
}
