package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaUSDQCapExceeded  = errors.New("quota usdq cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount uint32
	USDQUsed uint64
	EpochID  uint64
}

// Quota defines the limits enforced for a module interaction per address.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxUSDQPerEpoch   uint64
	EpochSeconds      uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerMin > 0 || q.MaxUSDQPerEpoch > 0
}

// QuotaStore persists per-address quota counters between operations.
type QuotaStore interface {
	Load(module string, epoch uint64, addr []byte) (QuotaNow, bool, error)
	Save(module string, epoch uint64, addr []byte, counters QuotaNow) error
}

// Apply loads the stored counters for the address, checks the additional usage
// against the quota and persists the updated counters when admitted.
func Apply(store QuotaStore, module string, epoch uint64, addr []byte, q Quota, addReq uint32, addUSDQ uint64) (QuotaNow, error) {
	if store == nil {
		return QuotaNow{}, errors.New("quota store required")
	}
	prev, _, err := store.Load(module, epoch, addr)
	if err != nil {
		return QuotaNow{}, err
	}
	next, err := CheckQuota(q, epoch, prev, addReq, addUSDQ)
	if err != nil {
		return next, err
	}
	if err := store.Save(module, epoch, addr, next); err != nil {
		return QuotaNow{}, err
	}
	return next, nil
}

// CheckQuota verifies whether the additional request and USDQ usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addUSDQ uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerMin > 0 && next.ReqCount > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}

	if addUSDQ > 0 {
		if next.USDQUsed > math.MaxUint64-addUSDQ {
			return prev, ErrQuotaCounterOverflow
		}
		next.USDQUsed += addUSDQ
	}
	if q.MaxUSDQPerEpoch > 0 && next.USDQUsed > q.MaxUSDQPerEpoch {
		return prev, ErrQuotaUSDQCapExceeded
	}

	return next, nil
}
