package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is the in-process repository used by tests and local
// development.
type MemoryRepository struct {
	mu       sync.RWMutex
	links    map[string]*Link // by UID
	policies map[string]Policy
	flags    []FlagRecord

	// PolicyErr, when set, is returned by GetProjectPolicy. Test hook for
	// the malformed-policy deny path.
	PolicyErr error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		links:    make(map[string]*Link),
		policies: make(map[string]Policy),
	}
}

// AddLink stores a link, generating an ID if absent.
func (m *MemoryRepository) AddLink(l Link) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	m.links[l.UID] = &l
	return &l
}

// SetPolicy stores a project policy.
func (m *MemoryRepository) SetPolicy(projectID string, p Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[projectID] = p
}

func (m *MemoryRepository) GetLinkByUID(_ context.Context, uid string) (*Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[uid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryRepository) GetProjectPolicy(_ context.Context, projectID string) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.PolicyErr != nil {
		return Policy{}, m.PolicyErr
	}
	return m.policies[projectID], nil
}

func (m *MemoryRepository) RecordFlag(_ context.Context, rec FlagRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.flags = append(m.flags, rec)
	return nil
}

func (m *MemoryRepository) UpdateLinkStatus(_ context.Context, linkID string, status LinkStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ID == linkID {
			l.Status = status
			return nil
		}
	}
	return ErrNotFound
}

// Flags returns a copy of recorded flags.
func (m *MemoryRepository) Flags() []FlagRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FlagRecord, len(m.flags))
	copy(out, m.flags)
	return out
}
