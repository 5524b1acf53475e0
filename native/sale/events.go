package sale

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"time"

	"crowdsale/core/types"
)

const (
	// EventTypePurchaseSettled marks a contribution that minted units.
	EventTypePurchaseSettled = "sale.purchase.settled"
	// EventTypeSoftCapLatched marks the raise crossing the soft cap and
	// arming the closing deadline.
	EventTypeSoftCapLatched = "sale.softcap.latched"
	// EventTypeCampaignPaused marks the administrative pause flag rising.
	EventTypeCampaignPaused = "sale.campaign.paused"
	// EventTypeCampaignUnpaused marks the administrative pause flag clearing.
	EventTypeCampaignUnpaused = "sale.campaign.unpaused"
	// EventTypeFinalized marks the one-time campaign conclusion.
	EventTypeFinalized = "sale.finalized"
)

type saleEvent struct {
	evt *types.Event
}

func (s saleEvent) EventType() string {
	if s.evt == nil {
		return ""
	}
	return s.evt.Type
}

func (s saleEvent) Event() *types.Event { return s.evt }

func newPurchaseEvent(p *Purchase) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: EventTypePurchaseSettled, Attributes: attrs}
	}
	attrs["id"] = p.ID
	attrs["contributor"] = hex.EncodeToString(p.Contributor[:])
	attrs["beneficiary"] = hex.EncodeToString(p.Beneficiary[:])
	attrs["amount"] = formatAmount(p.Amount)
	attrs["issued"] = formatAmount(p.Issued)
	attrs["bonusPercent"] = strconv.FormatInt(p.BonusPercent, 10)
	if p.Phase != "" {
		attrs["phase"] = p.Phase
	}
	attrs["timestamp"] = strconv.FormatInt(p.CreatedAt, 10)
	return &types.Event{Type: EventTypePurchaseSettled, Attributes: attrs}
}

func newSoftCapLatchedEvent(raised *big.Int, deadline time.Time) *types.Event {
	attrs := map[string]string{
		"raised": formatAmount(raised),
	}
	if !deadline.IsZero() {
		attrs["deadline"] = strconv.FormatInt(deadline.Unix(), 10)
	}
	return &types.Event{Type: EventTypeSoftCapLatched, Attributes: attrs}
}

func newPauseEvent(paused bool, ts time.Time) *types.Event {
	attrs := map[string]string{
		"timestamp": strconv.FormatInt(ts.Unix(), 10),
	}
	eventType := EventTypeCampaignUnpaused
	if paused {
		eventType = EventTypeCampaignPaused
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newFinalizedEvent(finalSupply, operatorShare, reserveShare, topUp *big.Int, ts time.Time) *types.Event {
	attrs := map[string]string{
		"timestamp":     strconv.FormatInt(ts.Unix(), 10),
		"finalSupply":   formatAmount(finalSupply),
		"operatorShare": formatAmount(operatorShare),
		"reserveShare":  formatAmount(reserveShare),
		"reserveTopUp":  formatAmount(topUp),
	}
	return &types.Event{Type: EventTypeFinalized, Attributes: attrs}
}
