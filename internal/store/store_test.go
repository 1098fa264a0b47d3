package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok, _ := s.Get("deviceId"); ok {
		t.Error("empty store should not contain deviceId")
	}
	if len(s.Keys()) != 0 {
		t.Errorf("Keys() = %v, want empty", s.Keys())
	}
}

func TestSetPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Set("deviceId", "AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, ok, err := reopened.Get("deviceId")
	if err != nil || !ok {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}
	if got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Get() = %q, want %q", got, "AA:BB:CC:DD:EE:FF")
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.Remove("missing"); err != nil {
		t.Errorf("Remove(missing) error = %v", err)
	}

	_ = s.Set("a", "1")
	_ = s.Set("b", "2")
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	reopened, _ := Open(path)
	if _, ok, _ := reopened.Get("a"); ok {
		t.Error("removed key should not survive reopen")
	}
	if keys := reopened.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Keys() = %v, want [b]", keys)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	if err := os.WriteFile(path, []byte("::: not yaml [\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open() should fail on corrupt file")
	}
}

func TestSetFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Pull the directory out from under the store so flush fails.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}

	if err := s.Set("deviceId", "x"); err == nil {
		t.Fatal("Set() should fail when the directory is gone")
	}
	if _, ok, _ := s.Get("deviceId"); ok {
		t.Error("failed Set should not leave the key in memory")
	}
}
