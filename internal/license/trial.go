package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/xroachx-ghost/void-sub000/internal/security"
)

// TrialMarker records that a trial was started on this machine. It lives in
// its own file so deleting the license file does not re-enable the trial.
// This is a deterrent only: removing both files resets it.
type TrialMarker struct {
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Signature string    `json:"signature"`
}

// payload returns the bytes covered by the marker signature
func (t *TrialMarker) payload() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s",
		trialMarkerInfo,
		t.StartedAt.UTC().Format(time.RFC3339Nano),
		t.ExpiresAt.UTC().Format(time.RFC3339Nano)))
}

// sign sets the HMAC signature using a key bound to fingerprint
func (t *TrialMarker) sign(fingerprint string) error {
	key, err := deriveLocalKey(fingerprint, trialMarkerInfo)
	if err != nil {
		return err
	}
	t.Signature = security.SignHMAC(key, t.payload())
	return nil
}

// verify reports whether the marker was written on fingerprint and is unmodified
func (t *TrialMarker) verify(fingerprint string) bool {
	key, err := deriveLocalKey(fingerprint, trialMarkerInfo)
	if err != nil {
		return false
	}
	return security.VerifyHMAC(key, t.payload(), t.Signature)
}

// IsExpired reports whether the trial window has closed
func (t *TrialMarker) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// DaysRemaining returns the whole days left in the trial window
func (t *TrialMarker) DaysRemaining(now time.Time) *int {
	return daysUntil(t.ExpiresAt, now)
}

// TrialStore persists the trial marker
type TrialStore interface {
	// Exists reports whether any marker is present, readable or not
	Exists(ctx context.Context) (bool, error)
	Load(ctx context.Context) (*TrialMarker, error)
	Save(ctx context.Context, marker *TrialMarker) error
}

// FileTrialStore keeps the marker in a small JSON file
type FileTrialStore struct {
	path string
}

// NewFileTrialStore creates a marker store at path
func NewFileTrialStore(path string) *FileTrialStore {
	return &FileTrialStore{path: path}
}

// Exists reports whether the marker file is present
func (s *FileTrialStore) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError("trial.exists", KindStore, err)
	}
	_, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, newError("trial.exists", KindStore, err)
	}
	return true, nil
}

// Load reads the marker; ErrNoState when absent
func (s *FileTrialStore) Load(ctx context.Context) (*TrialMarker, error) {
	const op = "trial.load"

	if err := ctx.Err(); err != nil {
		return nil, newError(op, KindStore, err)
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, newError(op, KindStore, err)
	}

	var marker TrialMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, newError(op, KindStore, fmt.Errorf("decode trial marker: %w", err))
	}
	return &marker, nil
}

// Save writes the marker atomically
func (s *FileTrialStore) Save(ctx context.Context, marker *TrialMarker) error {
	const op = "trial.save"

	if err := ctx.Err(); err != nil {
		return newError(op, KindStore, err)
	}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return newError(op, KindStore, err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return newError(op, KindStore, err)
	}
	return nil
}

// MemoryTrialStore keeps the marker in memory
type MemoryTrialStore struct {
	mu     sync.Mutex
	marker *TrialMarker
}

// NewMemoryTrialStore creates an empty in-memory marker store
func NewMemoryTrialStore() *MemoryTrialStore {
	return &MemoryTrialStore{}
}

// Exists reports whether a marker was saved
func (s *MemoryTrialStore) Exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker != nil, nil
}

// Load returns a copy of the marker
func (s *MemoryTrialStore) Load(ctx context.Context) (*TrialMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker == nil {
		return nil, ErrNoState
	}
	m := *s.marker
	return &m, nil
}

// Save stores a copy of marker
func (s *MemoryTrialStore) Save(ctx context.Context, marker *TrialMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *marker
	s.marker = &m
	return nil
}
