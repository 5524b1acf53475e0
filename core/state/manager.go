package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"crowdsale/core/types"
	"crowdsale/storage"
)

// Manager reads and writes the node's persistent records over a key-value
// backend. Mutating operations run inside a session: Begin buffers every
// write in an overlay, Commit flushes the overlay through a single batch and
// Rollback discards it. A failed operation therefore leaves no partial state
// behind, whichever write it failed on.
type Manager struct {
	db      storage.Database
	overlay map[string]overlayEntry
}

type overlayEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var accountPrefix = []byte("account:")

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Begin opens a buffered session. Sessions do not nest.
func (m *Manager) Begin() error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if m.overlay != nil {
		return fmt.Errorf("state session already open")
	}
	m.overlay = make(map[string]overlayEntry)
	return nil
}

// Commit flushes the open session atomically and closes it.
func (m *Manager) Commit() error {
	if m == nil || m.overlay == nil {
		return fmt.Errorf("no state session open")
	}
	batch := m.db.NewBatch()
	for key, entry := range m.overlay {
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	m.overlay = nil
	return nil
}

// Rollback discards the open session. Calling it without a session is a no-op
// so callers can defer it alongside Commit.
func (m *Manager) Rollback() {
	if m == nil {
		return
	}
	m.overlay = nil
}

// InSession reports whether a buffered session is open.
func (m *Manager) InSession() bool {
	return m != nil && m.overlay != nil
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if m.overlay != nil {
		if entry, ok := m.overlay[string(key)]; ok {
			if entry.deleted {
				return nil, nil
			}
			return entry.value, nil
		}
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) put(key, value []byte) error {
	if m.overlay != nil {
		m.overlay[string(key)] = overlayEntry{value: append([]byte(nil), value...)}
		return nil
	}
	return m.db.Put(key, value)
}

func (m *Manager) delete(key []byte) error {
	if m.overlay != nil {
		m.overlay[string(key)] = overlayEntry{deleted: true}
		return nil
	}
	return m.db.Delete(key)
}

// GetAccount loads the account stored for the address, returning a zeroed
// account when none exists yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	if len(addr) == 0 {
		return nil, fmt.Errorf("account address must not be empty")
	}
	data, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return types.NewAccount(), nil
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, err
	}
	account.Normalize()
	return account, nil
}

// PutAccount persists the account record for the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if len(addr) == 0 {
		return fmt.Errorf("account address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("account must not be nil")
	}
	account.Normalize()
	encoded, err := rlp.EncodeToBytes(account)
	if err != nil {
		return err
	}
	return m.put(accountKey(addr), encoded)
}

// KVPut stores the RLP encoding of value under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.delete(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.get(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	found := false
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			found = true
			break
		}
	}
	if !found {
		list = append(list, append([]byte(nil), value...))
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.put(hashed, encoded)
}

// KVGetList decodes the RLP list stored under the supplied key into out. A
// missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.get(hashed)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
