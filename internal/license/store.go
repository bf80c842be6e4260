package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoState is returned by Load when nothing has been stored yet
var ErrNoState = errors.New("no license state stored")

// Store persists the license and its activation records
type Store interface {
	Load(ctx context.Context) (*StoredState, error)
	Save(ctx context.Context, state *StoredState) error
}

// FileStore keeps state in a single JSON file written atomically
type FileStore struct {
	path       string
	systemPath string
}

// FileStoreOption configures a FileStore
type FileStoreOption func(*FileStore)

// WithSystemPath sets a read-only fallback consulted when the user file is absent
func WithSystemPath(path string) FileStoreOption {
	return func(s *FileStore) { s.systemPath = path }
}

// NewFileStore creates a store writing to path
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the user license path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the user file, falling back to the system file
func (s *FileStore) Load(ctx context.Context) (*StoredState, error) {
	const op = "store.load"

	if err := ctx.Err(); err != nil {
		return nil, newError(op, KindStore, err)
	}

	for _, path := range []string{s.path, s.systemPath} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, newError(op, KindStore, fmt.Errorf("read %s: %w", path, err))
		}
		state, err := decodeState(data)
		if err != nil {
			return nil, newError(op, KindStore, fmt.Errorf("decode %s: %w", path, err))
		}
		return state, nil
	}

	return nil, ErrNoState
}

// Save writes state to the user path via temp file, fsync and rename
func (s *FileStore) Save(ctx context.Context, state *StoredState) error {
	const op = "store.save"

	if err := ctx.Err(); err != nil {
		return newError(op, KindStore, err)
	}

	toWrite := state.Clone()
	toWrite.Version = StateVersion
	data, err := json.MarshalIndent(toWrite, "", "  ")
	if err != nil {
		return newError(op, KindStore, fmt.Errorf("encode state: %w", err))
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return newError(op, KindStore, err)
	}
	return nil
}

// decodeState accepts a state document or a bare license file. Bare files
// are what administrators drop at the system path for shared installs.
func decodeState(data []byte) (*StoredState, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	if _, bare := probe["license_id"]; bare {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		rec.normalize()
		return &StoredState{Version: StateVersion, License: &rec}, nil
	}

	var state StoredState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("unsupported state version %d", state.Version)
	}
	if state.License != nil {
		state.License.normalize()
	}
	return &state, nil
}

// writeFileAtomic replaces path with data so readers never see a partial file
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// MemoryStore keeps state in memory
type MemoryStore struct {
	mu    sync.Mutex
	state *StoredState
	saves int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored state
func (s *MemoryStore) Load(ctx context.Context) (*StoredState, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError("store.load", KindStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrNoState
	}
	return s.state.Clone(), nil
}

// Save stores a copy of state
func (s *MemoryStore) Save(ctx context.Context, state *StoredState) error {
	if err := ctx.Err(); err != nil {
		return newError("store.save", KindStore, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
	s.state.Version = StateVersion
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
