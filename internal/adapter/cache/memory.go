// Package cache provides validation cache backends. The cache holds
// parse results between the validate and commit calls; it is advisory,
// so every backend failure mode degrades to a miss.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

// DefaultTTL is how long a validation result stays claimable.
const DefaultTTL = 10 * time.Minute

var _ domain.ValidationCache = (*Memory)(nil)

type memoryEntry struct {
	key       domain.CacheKey
	result    domain.ValidationResult
	expiresAt time.Time
}

// Memory is an in-process validation cache. Suitable for single-node
// deployments; multi-node deployments should use the Redis backend so
// validate and commit can land on different nodes.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	byKey   map[domain.CacheKey]string
}

// NewMemory returns an in-process cache. A non-positive ttl falls back
// to DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
		byKey:   make(map[domain.CacheKey]string),
	}
}

func (m *Memory) Put(_ context.Context, key domain.CacheKey, result domain.ValidationResult) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()

	// A new upload for the same tenant and event supersedes the old one.
	if prev, ok := m.byKey[key]; ok {
		delete(m.entries, prev)
	}

	id := uuid.NewString()
	m.entries[id] = memoryEntry{
		key:       key,
		result:    result,
		expiresAt: m.now().Add(m.ttl),
	}
	m.byKey[key] = id

	return id, nil
}

func (m *Memory) Get(_ context.Context, validationID string, key domain.CacheKey) (domain.ValidationResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[validationID]
	if !ok || entry.key != key || m.now().After(entry.expiresAt) {
		return domain.ValidationResult{}, false, nil
	}

	// A hit consumes the entry.
	m.removeLocked(validationID, entry)
	return entry.result, true, nil
}

func (m *Memory) Delete(_ context.Context, validationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[validationID]; ok {
		m.removeLocked(validationID, entry)
	}
	return nil
}

func (m *Memory) removeLocked(id string, entry memoryEntry) {
	delete(m.entries, id)
	if m.byKey[entry.key] == id {
		delete(m.byKey, entry.key)
	}
}

// sweepLocked drops expired entries. Called lazily from Put so the
// cache needs no background goroutine.
func (m *Memory) sweepLocked() {
	now := m.now()
	for id, entry := range m.entries {
		if now.After(entry.expiresAt) {
			m.removeLocked(id, entry)
		}
	}
}
