// Package memstore provides an in-memory tree.Store.
//
// Records are copied on the way in and out, so callers never share state with
// the store; range updates therefore behave like they would against a database
// and leave previously read nodes stale.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jacentio/mpath/tree"
)

// Store is an in-memory record store. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	nodes  map[int64]*tree.Node
	now    func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		nodes: make(map[int64]*tree.Node),
		now:   time.Now,
	}
}

var _ tree.Store = (*Store)(nil)

// Get returns a copy of the record with the given ID.
func (s *Store) Get(ctx context.Context, id int64) (*tree.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, tree.ErrNotFound)
	}
	return n.Clone(), nil
}

// Query returns copies of every record matching f.
func (s *Store) Query(ctx context.Context, f tree.Filter) ([]*tree.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*tree.Node
	for _, n := range s.nodes {
		if f.Match(n) {
			out = append(out, n.Clone())
		}
	}
	tree.SortNodes(out)
	return out, nil
}

// Count returns the number of records matching f.
func (s *Store) Count(ctx context.Context, f tree.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.nodes {
		if f.Match(n) {
			count++
		}
	}
	return count, nil
}

// ShiftPositions adds delta to the position of every record matching f.
func (s *Store) ShiftPositions(ctx context.Context, f tree.Filter, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for _, n := range s.nodes {
		if f.Match(n) {
			n.Position += delta
			updated++
		}
	}
	return updated, nil
}

// Save inserts or replaces n. New records get the next sequential ID.
func (s *Store) Save(ctx context.Context, n *tree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if n.ID == 0 {
		s.nextID++
		n.ID = s.nextID
		n.CreatedAt = now
	} else if existing, ok := s.nodes[n.ID]; ok {
		n.CreatedAt = existing.CreatedAt
	} else {
		return fmt.Errorf("node %d: %w", n.ID, tree.ErrNotFound)
	}
	n.UpdatedAt = now
	s.nodes[n.ID] = n.Clone()
	return nil
}

// Delete removes n.
func (s *Store) Delete(ctx context.Context, n *tree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[n.ID]; !ok {
		return fmt.Errorf("node %d: %w", n.ID, tree.ErrNotFound)
	}
	delete(s.nodes, n.ID)
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Put stores n verbatim, bypassing the engine. It is meant for seeding fixtures
// (including deliberately inconsistent ones). A zero ID is assigned the next ID.
func (s *Store) Put(n *tree.Node) *tree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == 0 {
		s.nextID++
		n.ID = s.nextID
	} else if n.ID > s.nextID {
		s.nextID = n.ID
	}
	s.nodes[n.ID] = n.Clone()
	return n
}
