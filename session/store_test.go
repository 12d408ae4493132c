package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")
	store := NewFileStore(path)

	if got := store.Get(); got != "" {
		t.Errorf("Get() on fresh store = %q, want empty", got)
	}

	store.Set("abc")
	if got := store.Get(); got != "abc" {
		t.Errorf("Get() = %q, want %q", got, "abc")
	}

	// overwrite
	store.Set("def")
	if got := store.Get(); got != "def" {
		t.Errorf("Get() = %q, want %q", got, "def")
	}

	// survives a "restart"
	if got := NewFileStore(path).Get(); got != "def" {
		t.Errorf("Get() from new store = %q, want %q", got, "def")
	}
}

func TestFileStore_setEmptyRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	store := NewFileStore(path)

	store.Set("abc")
	store.Set("")
	if got := store.Get(); got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("token file still exists after Set(\"\")")
	}

	// idempotent
	store.Set("")
	if got := store.Get(); got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
}

// A broken storage layer is non-fatal: the store keeps working in memory
// for the current process lifetime.
func TestFileStore_degradesToMemory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	// the parent "directory" is a regular file; all writes will fail
	store := NewFileStore(filepath.Join(blocker, "nested", "token"))

	store.Set("abc")
	if got := store.Get(); got != "abc" {
		t.Errorf("Get() = %q, want in-memory fallback %q", got, "abc")
	}
	store.Set("")
	if got := store.Get(); got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
}

func TestMemStore_roundTrip(t *testing.T) {
	store := NewMemStore()
	if got := store.Get(); got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
	store.Set("abc")
	if got := store.Get(); got != "abc" {
		t.Errorf("Get() = %q, want %q", got, "abc")
	}
	store.Set("")
	if got := store.Get(); got != "" {
		t.Errorf("Get() = %q, want empty", got)
	}
}
