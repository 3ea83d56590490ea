//go:build linux

package target

import (
	"context"
	"os"
	"testing"
)

func TestProcfsFinderSelf(t *testing.T) {
	f := NewProcessFinder(nil)
	if f == nil {
		t.Skip("procfs not mounted")
	}

	info, err := f.ByPID(context.Background(), os.Getpid())
	if err != nil {
		t.Fatalf("ByPID(self) failed: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), info.PID)
	}
	if len(info.Cmdline) == 0 {
		t.Error("expected non-empty cmdline")
	}

	byName, err := f.ByName(context.Background(), info.Name)
	if err != nil {
		t.Fatalf("ByName(%q) failed: %v", info.Name, err)
	}
	if byName.Name != info.Name {
		t.Errorf("expected name %q, got %q", info.Name, byName.Name)
	}
}
