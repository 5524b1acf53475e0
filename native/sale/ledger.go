package sale

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// Storage abstracts the subset of state manager functionality required by the
// purchase ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	purchaseRecordPrefix = []byte("sale/purchase/")
	purchaseIndexKey     = []byte("sale/purchase/index")
)

// Purchase captures the receipt stored for every settled contribution.
type Purchase struct {
	ID           string
	Contributor  [20]byte
	Beneficiary  [20]byte
	Amount       *big.Int
	Issued       *big.Int
	BonusPercent int64
	Phase        string
	CreatedAt    int64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (p *Purchase) Copy() *Purchase {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	}
	if p.Issued != nil {
		clone.Issued = new(big.Int).Set(p.Issued)
	}
	return &clone
}

type storedPurchase struct {
	ID           string
	Contributor  [20]byte
	Beneficiary  [20]byte
	Amount       string
	Issued       string
	BonusPercent uint32
	Phase        string
	CreatedAt    uint64
}

type purchaseIndexEntry struct {
	ID        string
	CreatedAt uint64
}

// Ledger persists purchase receipts in the underlying key-value store.
type Ledger struct {
	store Storage
	clock func() time.Time
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store, clock: time.Now}
}

// SetClock overrides the time source (primarily for deterministic testing).
func (l *Ledger) SetClock(clock func() time.Time) {
	if l == nil || clock == nil {
		return
	}
	l.clock = clock
}

// Put stores the purchase receipt, enforcing append-only semantics keyed by
// the purchase identifier.
func (l *Ledger) Put(record *Purchase) error {
	if l == nil {
		return fmt.Errorf("ledger not initialised")
	}
	if record == nil {
		return fmt.Errorf("ledger: record must not be nil")
	}
	key := purchaseKey(record.ID)
	if len(key) == len(purchaseRecordPrefix) {
		return fmt.Errorf("ledger: purchase id required")
	}
	var existing storedPurchase
	ok, err := l.store.KVGet(key, &existing)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("ledger: purchase %s already exists", record.ID)
	}
	stored := toStoredPurchase(record)
	if stored.CreatedAt == 0 {
		now := l.clock().UTC().Unix()
		if now < 0 {
			stored.CreatedAt = 0
		} else {
			stored.CreatedAt = uint64(now)
		}
	}
	if err := l.store.KVPut(key, stored); err != nil {
		return err
	}
	if _, err := uint64ToInt64(stored.CreatedAt); err != nil {
		return fmt.Errorf("ledger: created at overflow: %w", err)
	}
	entry := purchaseIndexEntry{ID: stored.ID, CreatedAt: stored.CreatedAt}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return l.store.KVAppend(purchaseIndexKey, encoded)
}

// Exists reports whether a purchase with the supplied identifier has been
// recorded in the ledger.
func (l *Ledger) Exists(id string) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("ledger not initialised")
	}
	key := purchaseKey(id)
	var stored storedPurchase
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Get retrieves a purchase receipt by identifier.
func (l *Ledger) Get(id string) (*Purchase, bool, error) {
	if l == nil {
		return nil, false, fmt.Errorf("ledger not initialised")
	}
	key := purchaseKey(id)
	var stored storedPurchase
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	record, err := fromStoredPurchase(&stored)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// List returns a paginated list of purchase receipts within the supplied
// timestamp range. Both bounds are inclusive. The cursor is the identifier of
// the last item from the previous page.
func (l *Ledger) List(startTs, endTs int64, cursor string, limit int) ([]*Purchase, string, error) {
	if l == nil {
		return nil, "", fmt.Errorf("ledger not initialised")
	}
	entries, err := l.loadIndex()
	if err != nil {
		return nil, "", err
	}
	filtered := make([]purchaseIndexEntry, 0, len(entries))
	for _, entry := range entries {
		createdAt, err := uint64ToInt64(entry.CreatedAt)
		if err != nil {
			return nil, "", fmt.Errorf("ledger: index entry overflow: %w", err)
		}
		if startTs != 0 && createdAt < startTs {
			continue
		}
		if endTs != 0 && createdAt > endTs {
			continue
		}
		filtered = append(filtered, entry)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt == filtered[j].CreatedAt {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].CreatedAt < filtered[j].CreatedAt
	})
	startIdx := 0
	cursorID := strings.TrimSpace(cursor)
	if cursorID != "" {
		for i, entry := range filtered {
			if entry.ID == cursorID {
				startIdx = i + 1
				break
			}
		}
	}
	nextCursor := ""
	pageSize := limit
	if pageSize <= 0 {
		pageSize = len(filtered) - startIdx
	}
	records := make([]*Purchase, 0, min(pageSize, len(filtered)-startIdx))
	for i := startIdx; i < len(filtered) && len(records) < pageSize; i++ {
		entry := filtered[i]
		record, ok, err := l.Get(entry.ID)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		records = append(records, record)
		nextCursor = entry.ID
	}
	if startIdx+len(records) >= len(filtered) {
		nextCursor = ""
	}
	return records, nextCursor, nil
}

// ExportCSV generates a deterministic CSV export covering the provided
// timestamp window. The CSV is returned as a base64 encoded string alongside
// the entry count and total issued amount.
func (l *Ledger) ExportCSV(startTs, endTs int64) (string, int, *big.Int, error) {
	if l == nil {
		return "", 0, nil, fmt.Errorf("ledger not initialised")
	}
	entries, _, err := l.List(startTs, endTs, "", 0)
	if err != nil {
		return "", 0, nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	header := []string{"id", "contributor", "beneficiary", "amount", "issued", "bonusPercent", "phase", "createdAt"}
	if err := writer.Write(header); err != nil {
		return "", 0, nil, err
	}
	total := big.NewInt(0)
	for _, record := range entries {
		if record.Issued != nil {
			total = new(big.Int).Add(total, record.Issued)
		}
		row := []string{
			record.ID,
			hex.EncodeToString(record.Contributor[:]),
			hex.EncodeToString(record.Beneficiary[:]),
			amountToString(record.Amount),
			amountToString(record.Issued),
			strconv.FormatInt(record.BonusPercent, 10),
			record.Phase,
			strconv.FormatInt(record.CreatedAt, 10),
		}
		if err := writer.Write(row); err != nil {
			return "", 0, nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", 0, nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return encoded, len(entries), total, nil
}

func (l *Ledger) loadIndex() ([]purchaseIndexEntry, error) {
	var raw [][]byte
	if err := l.store.KVGetList(purchaseIndexKey, &raw); err != nil {
		return nil, err
	}
	entries := make([]purchaseIndexEntry, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var entry purchaseIndexEntry
		if err := rlp.DecodeBytes(encoded, &entry); err != nil {
			return nil, err
		}
		if strings.TrimSpace(entry.ID) == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func purchaseKey(id string) []byte {
	trimmed := strings.TrimSpace(id)
	buf := make([]byte, len(purchaseRecordPrefix)+len(trimmed))
	copy(buf, purchaseRecordPrefix)
	copy(buf[len(purchaseRecordPrefix):], trimmed)
	return buf
}

func toStoredPurchase(record *Purchase) storedPurchase {
	stored := storedPurchase{}
	if record == nil {
		return stored
	}
	stored.ID = strings.TrimSpace(record.ID)
	stored.Contributor = record.Contributor
	stored.Beneficiary = record.Beneficiary
	if record.Amount != nil {
		stored.Amount = record.Amount.String()
	}
	if record.Issued != nil {
		stored.Issued = record.Issued.String()
	}
	if record.BonusPercent > 0 {
		stored.BonusPercent = uint32(record.BonusPercent)
	}
	stored.Phase = strings.TrimSpace(record.Phase)
	if record.CreatedAt < 0 {
		stored.CreatedAt = 0
	} else {
		stored.CreatedAt = uint64(record.CreatedAt)
	}
	return stored
}

func fromStoredPurchase(stored *storedPurchase) (*Purchase, error) {
	if stored == nil {
		return nil, fmt.Errorf("ledger: nil stored record")
	}
	createdAt, err := uint64ToInt64(stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ledger: created at overflow: %w", err)
	}
	record := &Purchase{
		ID:           stored.ID,
		Contributor:  stored.Contributor,
		Beneficiary:  stored.Beneficiary,
		BonusPercent: int64(stored.BonusPercent),
		Phase:        stored.Phase,
		CreatedAt:    createdAt,
	}
	record.Amount, err = parseAmount(stored.Amount)
	if err != nil {
		return nil, err
	}
	record.Issued, err = parseAmount(stored.Issued)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: invalid amount %q", raw)
	}
	return amount, nil
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}

func amountToString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
