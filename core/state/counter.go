package state

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"custodia/native/counter"
)

func counterKey(id [32]byte) []byte {
	buf := make([]byte, len(counterPrefix)+len(id))
	copy(buf, counterPrefix)
	copy(buf[len(counterPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

// storedCounter splits the signed total into sign and magnitude; RLP has
// no signed integer encoding.
type storedCounter struct {
	ID        [32]byte
	Authority [20]byte
	Negative  bool
	Magnitude uint64
}

// CounterPut persists the counter.
func (m *Manager) CounterPut(c *counter.Counter) error {
	if c == nil {
		return fmt.Errorf("state: nil counter")
	}
	stored := &storedCounter{ID: c.ID, Authority: c.Authority}
	if c.Total < 0 {
		stored.Negative = true
		stored.Magnitude = uint64(-c.Total)
	} else {
		stored.Magnitude = uint64(c.Total)
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(counterKey(c.ID), encoded)
}

// CounterGet loads the counter stored under id.
func (m *Manager) CounterGet(id [32]byte) (*counter.Counter, bool) {
	data, err := m.db.Get(counterKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedCounter)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	c := &counter.Counter{ID: stored.ID, Authority: stored.Authority, Total: int64(stored.Magnitude)}
	if stored.Negative {
		c.Total = -c.Total
	}
	return c, true
}
