package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"debtswitch/pkg/types"
)

const (
	DefaultStoreFileName = ".debtswitch-auth.json"
)

// Store persists the cached delegation permits and the force-fresh-signature
// flag across runs.
type Store struct {
	filePath string
	mu       sync.RWMutex
	state    storedState
}

// storedState represents the JSON structure for storage
type storedState struct {
	ForceFreshSignature bool                     `json:"force_fresh_signature"`
	Permits             map[string]*types.Permit `json:"permits"`
}

// NewStore creates a new store instance
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		// Default to home directory
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStoreFileName)
	}

	store := &Store{
		filePath: filePath,
		state:    storedState{Permits: make(map[string]*types.Permit)},
	}

	// Load existing state if file exists
	if err := store.load(); err != nil {
		// If file doesn't exist, that's okay - we'll create it on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load authorization state: %w", err)
		}
	}

	return store, nil
}

// load reads the state from the storage file
func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var state storedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal authorization state: %w", err)
	}

	s.state = state
	if s.state.Permits == nil {
		s.state.Permits = make(map[string]*types.Permit)
	}

	return nil
}

// save writes the state to the storage file
func (s *Store) save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal authorization state: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write authorization state: %w", err)
	}

	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Permit returns the cached permit for a debt token, or nil.
func (s *Store) Permit(debtToken common.Address) *types.Permit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Permits[permitKey(debtToken)]
}

// SavePermit caches a permit keyed by its scope token.
func (s *Store) SavePermit(permit *types.Permit) error {
	s.mu.Lock()
	s.state.Permits[permitKey(permit.ScopeToken)] = permit
	s.mu.Unlock()

	return s.save()
}

// DeletePermit drops the cached permit for a debt token.
func (s *Store) DeletePermit(debtToken common.Address) error {
	s.mu.Lock()
	delete(s.state.Permits, permitKey(debtToken))
	s.mu.Unlock()

	return s.save()
}

// DeletePermitsExcept drops every cached permit not scoped to the given debt
// token. Used when the destination asset changes.
func (s *Store) DeletePermitsExcept(debtToken common.Address) error {
	keep := permitKey(debtToken)

	s.mu.Lock()
	for key := range s.state.Permits {
		if key != keep {
			delete(s.state.Permits, key)
		}
	}
	s.mu.Unlock()

	return s.save()
}

// ForceFresh reports whether the user has demanded a fresh signature.
func (s *Store) ForceFresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.ForceFreshSignature
}

// SetForceFresh persists the force-fresh-signature flag.
func (s *Store) SetForceFresh(force bool) error {
	s.mu.Lock()
	s.state.ForceFreshSignature = force
	s.mu.Unlock()

	return s.save()
}

// GetFilePath returns the storage file path
func (s *Store) GetFilePath() string {
	return s.filePath
}

func permitKey(debtToken common.Address) string {
	return strings.ToLower(debtToken.Hex())
}
