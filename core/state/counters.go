package state

import "math/big"

// NextSequence increments the counter stored under key and returns the new
// value. Sequences start at 1.
func (m *Manager) NextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := m.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}

// Sequence returns the current value of the counter stored under key.
func (m *Manager) Sequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	return current, nil
}

// KVGetBig loads a big integer stored under key, defaulting to zero.
func (m *Manager) KVGetBig(key []byte) (*big.Int, error) {
	value := new(big.Int)
	if _, err := m.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}
