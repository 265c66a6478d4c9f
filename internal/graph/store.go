package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/agentgridgo/internal/ids"
)

var (
	// ErrNotFound is returned when no graph exists for the requested
	// (id, version) pair, or when an id has no active version.
	ErrNotFound = errors.New("graph: not found")
)

// Store is the in-process graph definition arena. Definitions are keyed by
// (id, version); versions are monotonically increasing per id, and exactly
// one version per id may be active. Published definitions are immutable:
// the store only ever hands out deep copies.
type Store struct {
	mu sync.RWMutex
	// versions holds, per graph id, all published definitions in ascending
	// version order. Slice index i holds version i+1.
	versions map[string][]*Definition
	active   map[string]int
	schemas  SchemaSource
}

// NewStore creates an empty graph store. The SchemaSource is consulted at
// publish time to validate pin references against block declarations.
func NewStore(schemas SchemaSource) *Store {
	return &Store{
		versions: make(map[string][]*Definition),
		active:   make(map[string]int),
		schemas:  schemas,
	}
}

// Publish validates def and appends it as the next version of def.ID. A
// zero ID allocates a new graph id. The stored snapshot is a deep copy;
// the caller's def is not retained. Returns the published (id, version).
func (s *Store) Publish(def *Definition) (Ref, error) {
	if err := Validate(def, s.schemas); err != nil {
		return Ref{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == "" {
		def.ID = ids.New()
	}
	cp := def.clone()
	cp.Version = len(s.versions[cp.ID]) + 1
	cp.CreatedAt = time.Now().UTC()
	s.versions[cp.ID] = append(s.versions[cp.ID], cp)

	// The first published version becomes active by default.
	if cp.Version == 1 {
		s.active[cp.ID] = 1
	}

	def.Version = cp.Version
	return cp.Ref(), nil
}

// Get returns an immutable snapshot of the requested graph version.
func (s *Store) Get(id string, version int) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id, version)
}

func (s *Store) getLocked(id string, version int) (*Definition, error) {
	vs, ok := s.versions[id]
	if !ok || version < 1 || version > len(vs) {
		return nil, fmt.Errorf("%w: graph %s version %d", ErrNotFound, id, version)
	}
	d := vs[version-1]
	if d.ID != id {
		// Defends against dangling fork references pointing at a version
		// row that was re-homed under a different id.
		return nil, fmt.Errorf("%w: version %d does not belong to graph %s", ErrNotFound, version, id)
	}
	return d.clone(), nil
}

// Active returns the active version of the graph, if any.
func (s *Store) Active(id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("%w: graph %s has no active version", ErrNotFound, id)
	}
	return s.getLocked(id, v)
}

// SetActive moves the active pointer for id to version.
func (s *Store) SetActive(id string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLocked(id, version); err != nil {
		return err
	}
	s.active[id] = version
	return nil
}

// Fork publishes a copy of (id, version) under a fresh graph id, recording
// the origin as a loose back-reference. The fork starts at version 1 and
// does not track subsequent changes to its origin.
func (s *Store) Fork(id string, version int) (Ref, error) {
	src, err := s.Get(id, version)
	if err != nil {
		return Ref{}, err
	}
	origin := src.Ref()
	src.ID = ""
	src.ForkedFrom = &origin
	return s.Publish(src)
}

// Versions returns the number of published versions for id.
func (s *Store) Versions(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions[id])
}
