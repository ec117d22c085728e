package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "main", "LOCK")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if pid := HolderPID(path); pid != os.Getpid() {
		t.Errorf("HolderPID() = %d, want %d", pid, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")

	l1, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(path)
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", lockErr.PID, os.Getpid())
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	l, err := Acquire(filepath.Join(t.TempDir(), "LOCK"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestHolderPIDMissing(t *testing.T) {
	if pid := HolderPID(filepath.Join(t.TempDir(), "nope")); pid != 0 {
		t.Errorf("HolderPID() = %d, want 0", pid)
	}
}
