package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.lock")

	if err := Acquire(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	held, pid, err := IsHeld(path)
	if err != nil {
		t.Fatal(err)
	}
	if !held || pid != os.Getpid() {
		t.Errorf("IsHeld = %v, %d; want true, %d", held, pid, os.Getpid())
	}

	if err := Release(path); err != nil {
		t.Fatal(err)
	}
	if held, _, _ := IsHeld(path); held {
		t.Error("lock still held after release")
	}
	if err := Release(path); err != nil {
		t.Errorf("releasing twice: %v", err)
	}
}

func TestAcquireHeldByOtherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.lock")
	// PID 1 is always running.
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Acquire(path); !errors.Is(err, ErrHeld) {
		t.Errorf("err = %v, want ErrHeld", err)
	}
}

func TestAcquireStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.lock")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Acquire(path); err != nil {
		t.Fatalf("stale lock should be taken over: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file = %q", data)
	}
}
