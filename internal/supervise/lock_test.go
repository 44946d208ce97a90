package supervise

import (
	"testing"
)

func TestAcquireInstanceLockRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireInstanceLock(dir)
	if err != nil {
		t.Fatalf("expected first acquire to succeed, got %v", err)
	}
	defer first.Release()

	_, err = AcquireInstanceLock(dir)
	if err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning for a second holder, got %v", err)
	}
}

func TestAcquireInstanceLockReacquiresAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireInstanceLock(dir)
	if err != nil {
		t.Fatalf("expected first acquire to succeed, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("unexpected error releasing lock: %v", err)
	}

	second, err := AcquireInstanceLock(dir)
	if err != nil {
		t.Fatalf("expected acquire to succeed after release, got %v", err)
	}
	defer second.Release()
}
