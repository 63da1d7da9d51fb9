package cache

import (
	"context"
	"sync"

	"github.com/greenshelf/strainscan/internal/models"
)

// Memory is an in-process Cache used when no Redis address is configured
type Memory struct {
	records map[string]*models.ProductRecord
	mu      sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*models.ProductRecord),
	}
}

func (m *Memory) Get(_ context.Context, key string) (*models.ProductRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *Memory) Upsert(_ context.Context, key string, rec *models.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec.Clone()
	return nil
}

// Len returns the number of cached records
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
