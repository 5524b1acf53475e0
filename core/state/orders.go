package state

import "fmt"

func orderSettledKey(nonce string) []byte {
	return []byte("sale/order/settled/" + nonce)
}

// OrderSettled reports whether a contribution order nonce was already
// consumed.
func (m *Manager) OrderSettled(nonce string) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("state manager unavailable")
	}
	if nonce == "" {
		return false, fmt.Errorf("order nonce must not be empty")
	}
	return m.KVGet(orderSettledKey(nonce), nil)
}

// MarkOrderSettled burns the contribution order nonce so it cannot be
// replayed.
func (m *Manager) MarkOrderSettled(nonce string) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if nonce == "" {
		return fmt.Errorf("order nonce must not be empty")
	}
	return m.KVPut(orderSettledKey(nonce), true)
}
