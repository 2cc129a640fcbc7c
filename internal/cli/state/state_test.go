package state_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/cli/state"
)

func TestSaveLoadClear(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	empty, err := state.Load(path)
	if err != nil || empty.LastSandbox != nil {
		t.Fatalf("expected empty session for missing file, got %+v (%v)", empty, err)
	}

	want := state.Session{LastSandbox: &state.SandboxRecord{
		Name:          "algo101-7-42",
		Port:          31337,
		SSHUser:       "user42",
		FlagDigest:    "abcd",
		ProvisionedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	if err := state.Save(path, want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("state file must be private, got %v", info.Mode().Perm())
	}
	got, err := state.Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.LastSandbox == nil || got.LastSandbox.Name != want.LastSandbox.Name || got.LastSandbox.Port != 31337 ||
		got.LastSandbox.FlagDigest != "abcd" || !got.LastSandbox.ProvisionedAt.Equal(want.LastSandbox.ProvisionedAt) {
		t.Fatalf("unexpected session: %+v", got.LastSandbox)
	}

	if err := state.Clear(path); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := state.Clear(path); err != nil {
		t.Fatalf("clear of missing file must succeed: %v", err)
	}
}

func TestLoadRejectsCorruptState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := state.Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
