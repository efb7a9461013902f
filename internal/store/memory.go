package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/screa/vanity-miner/pkg/types"
)

// Memory keeps records in process memory
type Memory struct {
	mu      sync.Mutex
	meta    Meta
	records map[string]Record
	order   []string
}

// NewMemory creates an empty in-memory store
func NewMemory(meta Meta) *Memory {
	return &Memory{
		meta:    meta,
		records: make(map[string]Record),
	}
}

func (m *Memory) Persist(_ context.Context, kp types.Keypair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[kp.Address]; ok {
		return fmt.Errorf("%w: %s", types.ErrDuplicateKey, kp.Address)
	}
	m.records[kp.Address] = newRecord(kp, m.meta, time.Now())
	m.order = append(m.order, kp.Address)
	return nil
}

// Records returns stored records in insertion order
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, addr := range m.order {
		out = append(out, m.records[addr])
	}
	return out
}

// Len returns the number of stored records
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
