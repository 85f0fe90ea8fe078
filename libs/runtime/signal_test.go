package runtime

import (
	"syscall"
	"testing"
	"time"
)

func TestSignalContext_CancelledBySIGTERM(t *testing.T) {
	ctx, stop := SignalContext()
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled by SIGTERM")
	}
}

func TestShutdownContext(t *testing.T) {
	ctx, cancel := ShutdownContext(50 * time.Millisecond)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > 50*time.Millisecond {
		t.Fatalf("expected deadline within 50ms, got %v (set=%v)", deadline, ok)
	}
}
