package artifact

import (
	"errors"
	"sync"
	"time"
)

// ErrNoArtifact means nothing has been generated yet; callers should send the user to generation.
var ErrNoArtifact = errors.New("no artifact generated yet")

// Bundle is the generated primary file, its dependency manifest and its documentation.
type Bundle struct {
	PrimaryFile        string    `json:"primary_file"`
	Manifest           string    `json:"manifest"`
	Docs               string    `json:"docs"`
	SourceConversation string    `json:"source_conversation"`
	CreatedAt          time.Time `json:"created_at"`
}

// Store holds the current bundle of a session. Bundles are replaced whole.
type Store struct {
	mu      sync.RWMutex
	bundle  Bundle
	present bool
	version int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Get returns a copy of the current bundle, or false before the first Replace.
func (s *Store) Get() (Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundle, s.present
}

// MustGet is Get returning ErrNoArtifact instead of a flag.
func (s *Store) MustGet() (Bundle, error) {
	b, ok := s.Get()
	if !ok {
		return Bundle{}, ErrNoArtifact
	}
	return b, nil
}

// Replace overwrites the bundle in one step.
func (s *Store) Replace(b Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundle = b
	s.present = true
	s.version++
}

// Version counts successful replacements
func (s *Store) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
