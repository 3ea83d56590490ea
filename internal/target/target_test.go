package target

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"chaos-runner/internal/errs"
)

type fakeFinder struct {
	byName map[string]*ProcessInfo
	alive  map[int]bool
	calls  int
}

func (f *fakeFinder) ByPID(_ context.Context, pid int) (*ProcessInfo, error) {
	if !f.alive[pid] {
		return nil, fmt.Errorf("no such pid %d", pid)
	}
	return &ProcessInfo{PID: pid, Name: "proc"}, nil
}

func (f *fakeFinder) ByName(_ context.Context, name string) (*ProcessInfo, error) {
	f.calls++
	if info, ok := f.byName[name]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("no process named %q", name)
}

func fakeIfaces(name string) (*net.Interface, error) {
	if name == "eth0" {
		return &net.Interface{Name: "eth0", Index: 2}, nil
	}
	return nil, errors.New("no such network interface")
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in       string
		expected Kind
		wantErr  bool
	}{
		{"process", KindProcess, false},
		{"network_interface", KindNetworkInterface, false},
		{"iface", KindNetworkInterface, false},
		{"disk", KindProcess, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.expected {
			t.Errorf("ParseKind(%q) = %s, %v", tt.in, got, err)
		}
	}
}

func TestResolveInterface(t *testing.T) {
	r := NewResolver(nil, fakeIfaces)
	ctx := context.Background()

	res, err := r.Resolve(ctx, Spec{ID: "net", Kind: KindNetworkInterface, Descriptor: "eth0"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Interface != "eth0" || res.Index != 2 {
		t.Errorf("unexpected resolution: %+v", res)
	}

	_, err = r.Resolve(ctx, Spec{ID: "bad", Kind: KindNetworkInterface, Descriptor: "eth9"})
	if !errors.Is(err, errs.ErrTargetResolution) {
		t.Errorf("expected ErrTargetResolution, got %v", err)
	}

	if _, ok := r.Lookup("net"); !ok {
		t.Error("expected cached resolution for net")
	}
	if _, ok := r.Lookup("bad"); ok {
		t.Error("failed resolution must not be cached")
	}
}

func TestResolveProcessByName(t *testing.T) {
	f := &fakeFinder{
		byName: map[string]*ProcessInfo{"nginx": {PID: 42, Name: "nginx", Cmdline: []string{"/usr/sbin/nginx", "-g", "daemon off;"}}},
		alive:  map[int]bool{42: true},
	}
	r := NewResolver(f, fakeIfaces)
	ctx := context.Background()
	spec := Spec{ID: "web", Kind: KindProcess, Descriptor: "nginx"}

	res, err := r.Resolve(ctx, spec)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PID != 42 || len(res.Cmdline) != 3 {
		t.Errorf("unexpected resolution: %+v", res)
	}

	// 生存中はキャッシュを使う
	if _, err := r.Resolve(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if f.calls != 1 {
		t.Errorf("expected 1 ByName call, got %d", f.calls)
	}

	// プロセスが消えたら再解決する
	f.alive[42] = false
	f.byName["nginx"] = &ProcessInfo{PID: 43, Name: "nginx"}
	f.alive[43] = true
	res, err = r.Resolve(ctx, spec)
	if err != nil {
		t.Fatal(err)
	}
	if res.PID != 43 {
		t.Errorf("expected re-resolved pid 43, got %d", res.PID)
	}
}

func TestResolveProcessByPID(t *testing.T) {
	f := &fakeFinder{alive: map[int]bool{7: true}}
	r := NewResolver(f, fakeIfaces)

	res, err := r.Resolve(context.Background(), Spec{ID: "p", Kind: KindProcess, Descriptor: "7"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.PID != 7 {
		t.Errorf("expected pid 7, got %d", res.PID)
	}

	_, err = r.Resolve(context.Background(), Spec{ID: "q", Kind: KindProcess, Descriptor: "8"})
	if !errors.Is(err, errs.ErrTargetResolution) {
		t.Errorf("expected ErrTargetResolution, got %v", err)
	}
}

func TestResolveProcessWithoutFinder(t *testing.T) {
	r := NewResolver(nil, fakeIfaces)
	_, err := r.Resolve(context.Background(), Spec{ID: "p", Kind: KindProcess, Descriptor: "x"})
	if !errors.Is(err, errs.ErrPlatformUnsupported) {
		t.Errorf("expected ErrPlatformUnsupported, got %v", err)
	}
}
