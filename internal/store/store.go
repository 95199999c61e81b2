// Package store persists a tab's session bootstrap so an agent can resume
// its session after a restart instead of asking for a new one.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

// ErrNotFound is returned by Load when nothing has been saved
var ErrNotFound = errors.New("no stored session")

// StoredSession is what the client keeps between runs
type StoredSession struct {
	SessionID    string `cbor:"1,keyasint"`
	SessionToken string `cbor:"2,keyasint"`
	SocketURL    string `cbor:"3,keyasint"`
	ExpiresAtMs  int64  `cbor:"4,keyasint"`
	Codename     string `cbor:"5,keyasint,omitempty"`
	SavedAtMs    int64  `cbor:"6,keyasint"`
}

// FromBootstrap copies the fields of b that need to survive a restart
func FromBootstrap(b models.SessionBootstrap, now time.Time) StoredSession {
	return StoredSession{
		SessionID:    b.SessionID,
		SessionToken: b.SessionToken,
		SocketURL:    b.SocketURL,
		ExpiresAtMs:  b.ExpiresAtMs,
		SavedAtMs:    now.UnixMilli(),
	}
}

func (s StoredSession) Bootstrap() models.SessionBootstrap {
	return models.SessionBootstrap{
		SessionID:    s.SessionID,
		SessionToken: s.SessionToken,
		SocketURL:    s.SocketURL,
		ExpiresAtMs:  s.ExpiresAtMs,
	}
}

// Fresh reports whether the token stays valid for at least margin past now
func (s StoredSession) Fresh(now time.Time, margin time.Duration) bool {
	if s.SessionID == "" || s.SessionToken == "" || s.SocketURL == "" {
		return false
	}
	return time.UnixMilli(s.ExpiresAtMs).After(now.Add(margin))
}

// Store keeps at most one session
type Store interface {
	Load() (*StoredSession, error)
	Save(StoredSession) error
	Clear() error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// FileStore keeps the session in a single CBOR file
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the directory holding path if needed
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Load() (*StoredSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading stored session: %w", err)
	}

	var s StoredSession
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding stored session: %w", err)
	}
	return &s, nil
}

// Save replaces the stored session. The file is written next to its final
// path and renamed into place so readers never see a partial write.
func (f *FileStore) Save(s StoredSession) error {
	data, err := encMode.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding stored session: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing stored session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing stored session: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("saving stored session: %w", err)
	}
	return nil
}

func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete stored session: %w", err)
	}
	return nil
}

// MemoryStore keeps the session in memory, for tests and one-shot agents
type MemoryStore struct {
	mu      sync.Mutex
	session *StoredSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNotFound
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) Save(s StoredSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
