package service_test

import (
	"context"
	"testing"

	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

func TestSuspendResumeDescribe(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.Provision(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}

	info, err := h.svc.Describe(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("describe failed: %v", err)
	}
	if info.State != model.SandboxStateRunning || info.HostPort != res.Port || info.ContainerID != res.ContainerID {
		t.Fatalf("unexpected info: %+v", info)
	}

	info, err = h.svc.Suspend(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	if info.State != model.SandboxStateStopped {
		t.Fatalf("expected stopped sandbox, got %s", info.State)
	}
	if h.containersNamed("algo101-7-42") != 1 {
		t.Fatalf("suspend must keep the container")
	}

	info, err = h.svc.Resume(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if info.State != model.SandboxStateRunning || info.HostPort != res.Port {
		t.Fatalf("expected running on original port, got %+v", info)
	}
}

func TestSuspendedSandboxIsTornDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Provision(ctx, algo101, 42); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if _, err := h.svc.Suspend(ctx, algo101, 42); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	res, err := h.svc.Teardown(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("teardown failed: %v", err)
	}
	if res.Status != model.TeardownRemoved || h.containersNamed("algo101-7-42") != 0 {
		t.Fatalf("expected stopped sandbox removed, got %+v", res)
	}
}

func TestMissingSandboxOperations(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Describe(ctx, algo101, 42); !appErr.Is(err, appErr.SandboxNotFound) {
		t.Fatalf("describe: expected sandbox not found, got %v", err)
	}
	if _, err := h.svc.Suspend(ctx, algo101, 42); !appErr.Is(err, appErr.SandboxNotFound) {
		t.Fatalf("suspend: expected sandbox not found, got %v", err)
	}
	if _, err := h.svc.Resume(ctx, algo101, 42); !appErr.Is(err, appErr.SandboxNotFound) {
		t.Fatalf("resume: expected sandbox not found, got %v", err)
	}
}

func TestTeardownMatchesExactNameOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Provision(ctx, algo101, 421); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	res, err := h.svc.Teardown(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("teardown failed: %v", err)
	}
	if res.Status != model.TeardownNotFound {
		t.Fatalf("expected not found, got %s", res.Status)
	}
	if h.containersNamed("algo101-7-421") != 1 {
		t.Fatalf("sandbox sharing a name prefix must survive")
	}
}

func TestTeardownIgnoresStaleIndexEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.Provision(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if err := h.index.Put(ctx, "algo101-7-42", "c-gone"); err != nil {
		t.Fatalf("seed index failed: %v", err)
	}

	down, err := h.svc.Teardown(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("teardown failed: %v", err)
	}
	if down.Status != model.TeardownRemoved || down.ContainerID != res.ContainerID {
		t.Fatalf("expected scan fallback to find %s, got %+v", res.ContainerID, down)
	}
	if _, ok, _ := h.index.Lookup(ctx, "algo101-7-42"); ok {
		t.Fatalf("expected index entry dropped")
	}
}

func TestIndexEntryPointingAtOtherSandboxIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	other, err := h.svc.Provision(ctx, algo101, 7)
	if err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if err := h.index.Put(ctx, "algo101-7-42", other.ContainerID); err != nil {
		t.Fatalf("seed index failed: %v", err)
	}
	res, err := h.svc.Teardown(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("teardown failed: %v", err)
	}
	if res.Status != model.TeardownNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
	if h.containersNamed("algo101-7-7") != 1 {
		t.Fatalf("unrelated sandbox must survive a wrong index entry")
	}
}

func TestDescribeSurvivesIndexOutage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.Provision(ctx, algo101, 42); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	h.redis.SetError("server down")
	defer h.redis.SetError("")

	info, err := h.svc.Describe(ctx, algo101, 42)
	if err != nil {
		t.Fatalf("describe should fall back to the engine scan: %v", err)
	}
	if info.Name != "algo101-7-42" {
		t.Fatalf("unexpected info: %+v", info)
	}
}
