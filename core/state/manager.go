package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"optionclear/storage"
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Manager reads and writes clearing state through a write-back overlay on
// top of a storage.Database. Reads observe pending writes; nothing reaches
// the database until Commit. Discard drops every pending write, which lets
// the host roll back a failed operation in full. A Manager is not safe for
// concurrent use.
type Manager struct {
	db      storage.Database
	pending map[string]pendingWrite
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, pending: make(map[string]pendingWrite)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	if write, ok := m.pending[string(key)]; ok {
		if write.deleted {
			return nil, nil
		}
		return append([]byte(nil), write.value...), nil
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) put(key, value []byte) {
	m.pending[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
}

func (m *Manager) del(key []byte) {
	m.pending[string(key)] = pendingWrite{deleted: true}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(kvKey(key), encoded)
	return nil
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

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	m.del(kvKey(key))
	return nil
}

// Pending reports the number of keys written since the last commit.
func (m *Manager) Pending() int {
	if m == nil {
		return 0
	}
	return len(m.pending)
}

// Commit flushes pending writes to the database in one batch.
func (m *Manager) Commit() error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if len(m.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, key := range keys {
		write := m.pending[key]
		if write.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), write.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = make(map[string]pendingWrite)
	return nil
}

// Discard drops every pending write.
func (m *Manager) Discard() {
	if m == nil {
		return
	}
	m.pending = make(map[string]pendingWrite)
}
