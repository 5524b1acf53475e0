package sale

import (
	"errors"
	"math/big"
	"time"
)

// BonusTier maps an inclusive contribution floor to the extra issuance
// percentage granted when the contribution reaches it.
type BonusTier struct {
	Threshold *big.Int
	Percent   int64
}

// BonusSchedule is the presale incentive table. Tiers are ascending with
// half-open brackets: a contribution sitting exactly on a threshold earns
// that tier's percentage, not the previous one.
type BonusSchedule struct {
	Minimum *big.Int
	Tiers   []BonusTier
}

// DefaultBonusSchedule builds the standard campaign schedule at the supplied
// unit scale: contributions of at least 20 whole units qualify, with bonus
// brackets at 20 (2%), 100 (5%), 400 (10%) and 1000 (15%) whole units.
func DefaultBonusSchedule(scale *big.Int) BonusSchedule {
	if scale == nil || scale.Sign() <= 0 {
		scale = big.NewInt(1)
	}
	at := func(whole int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(whole), scale)
	}
	return BonusSchedule{
		Minimum: at(presaleMinimumWhole),
		Tiers: []BonusTier{
			{Threshold: at(20), Percent: 2},
			{Threshold: at(100), Percent: 5},
			{Threshold: at(400), Percent: 10},
			{Threshold: at(1000), Percent: 15},
		},
	}
}

// Validate checks the schedule is usable: ascending positive thresholds and
// percentages within [0, 100].
func (s BonusSchedule) Validate() error {
	if s.Minimum != nil && s.Minimum.Sign() < 0 {
		return errors.New("sale: bonus minimum must not be negative")
	}
	var prev *big.Int
	for _, tier := range s.Tiers {
		if tier.Threshold == nil || tier.Threshold.Sign() <= 0 {
			return errors.New("sale: bonus tier threshold must be positive")
		}
		if tier.Percent < 0 || tier.Percent > 100 {
			return errors.New("sale: bonus tier percent out of range")
		}
		if prev != nil && tier.Threshold.Cmp(prev) <= 0 {
			return errors.New("sale: bonus tier thresholds must ascend")
		}
		prev = tier.Threshold
	}
	return nil
}

// PresalePercent returns the tier percentage for a presale contribution of
// the given size, rejecting contributions under the presale minimum.
func (s BonusSchedule) PresalePercent(amount *big.Int) (int64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrZeroContribution
	}
	if s.Minimum != nil && amount.Cmp(s.Minimum) < 0 {
		return 0, ErrBelowPresaleMinimum
	}
	percent := int64(0)
	for _, tier := range s.Tiers {
		if tier.Threshold == nil {
			continue
		}
		if amount.Cmp(tier.Threshold) < 0 {
			break
		}
		percent = tier.Percent
	}
	return percent, nil
}

// BonusPercent applies the phase rule: presale contributions earn the tiered
// percentage, crowdsale contributions earn none. Reaching the calculator
// outside the campaign window is a contract violation and fails fast.
func (s BonusSchedule) BonusPercent(cfg CampaignConfig, now time.Time, amount *big.Int) (int64, error) {
	if now.Before(cfg.StartTime) || now.After(cfg.EndTime) {
		return 0, errBonusPhase
	}
	if cfg.InPresaleWindow(now) {
		return s.PresalePercent(amount)
	}
	return 0, nil
}
