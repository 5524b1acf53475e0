package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

var (
	campaignStateKey = []byte("campaign/state")
	campaignInitKey  = []byte("campaign/initialized")
)

// CampaignRecord is the persisted mutable state of the sale: the running
// raised total, the closing deadline latched when the soft cap is crossed
// (zero until then), the one-way finalized marker and the operator pause flag.
type CampaignRecord struct {
	RaisedTotal     *big.Int
	SoftCapDeadline uint64
	Finalized       bool
	Paused          bool
}

func (r *CampaignRecord) normalize() {
	if r.RaisedTotal == nil {
		r.RaisedTotal = big.NewInt(0)
	}
}

// CampaignState loads the persisted campaign record, defaulting to a zeroed
// record before genesis writes one.
func (m *Manager) CampaignState() (*CampaignRecord, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	data, err := m.get(campaignStateKey)
	if err != nil {
		return nil, err
	}
	record := new(CampaignRecord)
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, record); err != nil {
			return nil, err
		}
	}
	record.normalize()
	return record, nil
}

// SetCampaignState persists the campaign record.
func (m *Manager) SetCampaignState(record *CampaignRecord) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if record == nil {
		return fmt.Errorf("campaign record must not be nil")
	}
	record.normalize()
	if record.RaisedTotal.Sign() < 0 {
		return fmt.Errorf("campaign raised total cannot be negative")
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return err
	}
	return m.put(campaignStateKey, encoded)
}

// CampaignInitialized reports whether genesis bootstrapping already ran
// against this database.
func (m *Manager) CampaignInitialized() (bool, error) {
	if m == nil {
		return false, fmt.Errorf("state manager unavailable")
	}
	data, err := m.get(campaignInitKey)
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}

// MarkCampaignInitialized records that genesis bootstrapping completed.
func (m *Manager) MarkCampaignInitialized() error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	return m.put(campaignInitKey, []byte{1})
}
