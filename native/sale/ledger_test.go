package sale

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

type mockStorage struct {
	kv    map[string][]byte
	lists map[string][][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{kv: make(map[string][]byte), lists: make(map[string][][]byte)}
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockStorage) KVAppend(key []byte, value []byte) error {
	k := string(key)
	m.lists[k] = append(m.lists[k], append([]byte(nil), value...))
	return nil
}

func (m *mockStorage) KVGetList(key []byte, out interface{}) error {
	encoded, err := rlp.EncodeToBytes(m.lists[string(key)])
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}

func TestLedgerPutAndGet(t *testing.T) {
	store := newMockStorage()
	ledger := NewLedger(store)
	ledger.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	var contributor, beneficiary [20]byte
	contributor[0] = 0xAA
	beneficiary[0] = 0xBB
	record := &Purchase{
		ID:           "purchase-1",
		Contributor:  contributor,
		Beneficiary:  beneficiary,
		Amount:       big.NewInt(150),
		Issued:       big.NewInt(157),
		BonusPercent: 5,
		Phase:        "presale",
	}
	if err := ledger.Put(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	fetched, ok, err := ledger.Get("purchase-1")
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if fetched.Contributor != contributor || fetched.Beneficiary != beneficiary {
		t.Fatalf("unexpected parties: %+v", fetched)
	}
	if fetched.Amount.Cmp(record.Amount) != 0 {
		t.Fatalf("unexpected amount %s", fetched.Amount)
	}
	if fetched.Issued.Cmp(record.Issued) != 0 {
		t.Fatalf("unexpected issued %s", fetched.Issued)
	}
	if fetched.BonusPercent != 5 || fetched.Phase != "presale" {
		t.Fatalf("unexpected pricing data: %+v", fetched)
	}
	if fetched.CreatedAt != 1700000000 {
		t.Fatalf("unexpected created at %d", fetched.CreatedAt)
	}
}

func TestLedgerPutRejectsDuplicate(t *testing.T) {
	store := newMockStorage()
	ledger := NewLedger(store)
	ledger.SetClock(func() time.Time { return time.Unix(1700000100, 0) })
	record := &Purchase{ID: "dup", Amount: big.NewInt(1), Issued: big.NewInt(1), Phase: "crowdsale"}
	if err := ledger.Put(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ledger.Put(record); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestLedgerListAndCursor(t *testing.T) {
	store := newMockStorage()
	ledger := NewLedger(store)
	timestamps := []time.Time{
		time.Unix(1700000100, 0),
		time.Unix(1700000200, 0),
		time.Unix(1700000300, 0),
	}
	idx := 0
	ledger.SetClock(func() time.Time {
		current := timestamps[idx]
		if idx < len(timestamps)-1 {
			idx++
		}
		return current
	})
	for i := 0; i < 3; i++ {
		rec := &Purchase{
			ID:     fmt.Sprintf("id-%d", i),
			Amount: big.NewInt(int64(i + 1)),
			Issued: big.NewInt(int64(i + 1)),
			Phase:  "crowdsale",
		}
		if err := ledger.Put(rec); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	page, cursor, err := ledger.List(0, 0, "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || cursor == "" {
		t.Fatalf("unexpected page len=%d cursor=%s", len(page), cursor)
	}
	if page[0].ID != "id-0" || page[1].ID != "id-1" {
		t.Fatalf("unexpected ordering: %+v", page)
	}
	second, next, err := ledger.List(0, 0, cursor, 2)
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(second) != 1 || second[0].ID != "id-2" {
		t.Fatalf("unexpected second page: %+v", second)
	}
	if next != "" {
		t.Fatalf("expected empty cursor, got %s", next)
	}
}

func TestLedgerListTimestampWindow(t *testing.T) {
	store := newMockStorage()
	ledger := NewLedger(store)
	base := time.Unix(1700001000, 0)
	idx := 0
	ledger.SetClock(func() time.Time {
		current := base.Add(time.Duration(idx) * time.Minute)
		idx++
		return current
	})
	for i := 0; i < 4; i++ {
		if err := ledger.Put(&Purchase{ID: fmt.Sprintf("w-%d", i), Amount: big.NewInt(1), Issued: big.NewInt(1), Phase: "crowdsale"}); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	from := base.Add(time.Minute).Unix()
	to := base.Add(2 * time.Minute).Unix()
	window, _, err := ledger.List(from, to, "", 0)
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(window) != 2 || window[0].ID != "w-1" || window[1].ID != "w-2" {
		t.Fatalf("unexpected window: %+v", window)
	}
}

func TestLedgerExportCSV(t *testing.T) {
	store := newMockStorage()
	ledger := NewLedger(store)
	ledger.SetClock(func() time.Time { return time.Unix(1700000400, 0) })
	_ = ledger.Put(&Purchase{ID: "a", Amount: big.NewInt(100), Issued: big.NewInt(102), BonusPercent: 2, Phase: "presale"})
	ledger.SetClock(func() time.Time { return time.Unix(1700000500, 0) })
	_ = ledger.Put(&Purchase{ID: "b", Amount: big.NewInt(200), Issued: big.NewInt(200), Phase: "crowdsale"})
	encoded, count, total, err := ledger.ExportCSV(0, 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if count != 2 {
		t.Fatalf("unexpected count %d", count)
	}
	if total.Cmp(big.NewInt(302)) != 0 {
		t.Fatalf("unexpected total %s", total)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rows := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if !strings.Contains(rows[0], "bonusPercent") {
		t.Fatalf("expected pricing header, got %s", rows[0])
	}
	if !strings.Contains(rows[1], "presale") || !strings.Contains(rows[2], "crowdsale") {
		t.Fatalf("unexpected csv rows: %v", rows)
	}
}
