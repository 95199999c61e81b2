package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shehryarbajwa/sweetlink/pkg/models"
)

func TestFileStoreLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.cbor")
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := fs.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty store = %v, want ErrNotFound", err)
	}

	now := time.UnixMilli(1_700_000_000_000)
	saved := FromBootstrap(models.SessionBootstrap{
		SessionID:    "tab-1",
		SessionToken: "token",
		SocketURL:    "ws://localhost:4455/bridge",
		ExpiresAtMs:  now.Add(time.Hour).UnixMilli(),
	}, now)
	saved.Codename = "calm-otter"

	if err := fs.Save(saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *loaded != saved {
		t.Fatalf("loaded %+v, want %+v", *loaded, saved)
	}

	// a second store on the same path sees the saved session
	other, _ := NewFileStore(path)
	if got, err := other.Load(); err != nil || got.SessionID != "tab-1" {
		t.Fatalf("reopened store: %+v, %v", got, err)
	}

	if err := fs.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := fs.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file still exists after Clear: %v", err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	if err := os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	fs, _ := NewFileStore(path)
	if _, err := fs.Load(); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Load of corrupt file = %v", err)
	}
}

func TestFresh(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := StoredSession{
		SessionID:    "tab-1",
		SessionToken: "token",
		SocketURL:    "ws://x/bridge",
		ExpiresAtMs:  now.Add(2 * time.Minute).UnixMilli(),
	}

	if !s.Fresh(now, time.Minute) {
		t.Error("session expiring in 2m should be fresh with a 1m margin")
	}
	if s.Fresh(now, 5*time.Minute) {
		t.Error("session expiring in 2m should be stale with a 5m margin")
	}
	s.SessionToken = ""
	if s.Fresh(now, 0) {
		t.Error("session without a token is never fresh")
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load = %v", err)
	}
	m.Save(StoredSession{SessionID: "a"})
	got, _ := m.Load()
	got.SessionID = "mutated"
	if again, _ := m.Load(); again.SessionID != "a" {
		t.Fatal("Load returned shared state")
	}
	m.Clear()
	if _, err := m.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Clear = %v", err)
	}
}
