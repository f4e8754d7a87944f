package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalProvider_RunInUserDir(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, err := p.Create(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(ctx, id, "echo hello > f.txt && cat f.txt", 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" || res.ExitCode != 0 {
		t.Errorf("res = %+v", res)
	}
}

func TestLocalProvider_NonZeroExit(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, _ := p.Create(ctx, "u1")
	res, err := p.Run(ctx, id, "exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit = %d, want 3", res.ExitCode)
	}
}

func TestLocalProvider_Timeout(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, _ := p.Create(ctx, "u1")
	if _, err := p.Run(ctx, id, "sleep 5", 50*time.Millisecond); err == nil {
		t.Error("expected timeout error")
	}
}

func TestLocalProvider_KilledSandboxUnknown(t *testing.T) {
	p, err := NewLocalProvider(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, _ := p.Create(ctx, "u1")
	if err := p.Kill(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(ctx, id, "true", time.Second); err == nil {
		t.Error("expected error for killed sandbox")
	}
}
