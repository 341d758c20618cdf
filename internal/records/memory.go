package records

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps record groups in memory. It backs tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	tables  map[Group]*Table
	commits map[Group]int

	// FailCommit makes Commit fail for the named group.
	FailCommit Group
}

// NewMemoryStore returns a store seeded with copies of tables.
func NewMemoryStore(tables ...*Table) *MemoryStore {
	s := &MemoryStore{tables: make(map[Group]*Table), commits: make(map[Group]int)}
	for _, t := range tables {
		s.tables[t.Group] = t.Clone()
	}
	return s
}

func (s *MemoryStore) Checkout(ctx context.Context, group Group) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, group)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Commit(ctx context.Context, table *Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommit != "" && table.Group == s.FailCommit {
		return fmt.Errorf("commit %s: simulated failure", table.Group)
	}
	s.tables[table.Group] = table.Clone()
	s.commits[table.Group]++
	return nil
}

// Commits returns how many times group has been committed.
func (s *MemoryStore) Commits(group Group) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[group]
}
