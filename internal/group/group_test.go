package group

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpubuilders/model-swapping-service/internal/config"
	"github.com/gpubuilders/model-swapping-service/internal/events"
	"github.com/gpubuilders/model-swapping-service/internal/process"
)

func testGroupConfig(swap bool) (config.GroupConfig, map[string]config.ModelConfig) {
	models := map[string]config.ModelConfig{
		"a": {ID: "a", Cmd: config.RawCmd{"sleep", "30"}, CheckEndpoint: config.NoHealthCheck},
		"b": {ID: "b", Cmd: config.RawCmd{"sleep", "30"}, CheckEndpoint: config.NoHealthCheck},
	}
	return config.GroupConfig{ID: "g1", Members: []string{"a", "b"}, Swap: swap, Exclusive: true}, models
}

func newTestGroup(t *testing.T, swap bool) *Group {
	t.Helper()
	cfg, models := testGroupConfig(swap)
	g := New(cfg, models, 15, events.NewBus(), zerolog.Nop())
	t.Cleanup(func() { g.Shutdown(context.Background()) })
	return g
}

func TestNewBuildsOneProcessPerMemberInOrder(t *testing.T) {
	g := newTestGroup(t, true)
	members := g.Members()
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Fatalf("Members() = %v, want [a b]", members)
	}
	if g.Process("a") == nil || g.Process("b") == nil {
		t.Fatal("expected both members to have a backing Process")
	}
	if g.Process("nonexistent") != nil {
		t.Error("expected nil Process for a non-member id")
	}
}

func TestActivateStartsTargetAndTracksLastUsed(t *testing.T) {
	g := newTestGroup(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := g.Activate(ctx, "a")
	if err != nil {
		t.Fatalf("Activate(a): %v", err)
	}
	if p.State() != process.StateReady {
		t.Fatalf("state = %s, want READY", p.State())
	}
	if g.LastUsedProcess() != "a" {
		t.Errorf("LastUsedProcess() = %q, want a", g.LastUsedProcess())
	}
}

func TestActivateWithSwapStopsPreviousMember(t *testing.T) {
	g := newTestGroup(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pa, err := g.Activate(ctx, "a")
	if err != nil {
		t.Fatalf("Activate(a): %v", err)
	}
	pb, err := g.Activate(ctx, "b")
	if err != nil {
		t.Fatalf("Activate(b): %v", err)
	}
	if pb.State() != process.StateReady {
		t.Fatalf("b state = %s, want READY", pb.State())
	}
	if pa.State() != process.StateStopped {
		t.Fatalf("a state = %s, want STOPPED after swap-exclusive activation of b", pa.State())
	}
	if g.LastUsedProcess() != "b" {
		t.Errorf("LastUsedProcess() = %q, want b", g.LastUsedProcess())
	}
}

func TestActivateWithoutSwapLeavesPreviousRunning(t *testing.T) {
	g := newTestGroup(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pa, err := g.Activate(ctx, "a")
	if err != nil {
		t.Fatalf("Activate(a): %v", err)
	}
	pb, err := g.Activate(ctx, "b")
	if err != nil {
		t.Fatalf("Activate(b): %v", err)
	}
	if pb.State() != process.StateReady {
		t.Fatalf("b state = %s, want READY", pb.State())
	}
	if pa.State() != process.StateReady {
		t.Fatalf("a state = %s, want still READY when Swap is disabled", pa.State())
	}
}

func TestActivateUnknownMemberFails(t *testing.T) {
	g := newTestGroup(t, true)
	if _, err := g.Activate(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error activating a non-member id")
	}
}

func TestStopAllAndAwaitAllStopped(t *testing.T) {
	g := newTestGroup(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := g.Activate(ctx, "a"); err != nil {
		t.Fatalf("Activate(a): %v", err)
	}

	g.StopAll(process.Immediately)
	if err := g.AwaitAllStopped(ctx); err != nil {
		t.Fatalf("AwaitAllStopped: %v", err)
	}
	if g.Process("a").State() != process.StateStopped {
		t.Errorf("a state = %s, want STOPPED", g.Process("a").State())
	}
	if g.LastUsedProcess() != "" {
		t.Errorf("LastUsedProcess() = %q, want empty after StopAll", g.LastUsedProcess())
	}
}

func TestShutdownForcesTerminalState(t *testing.T) {
	g := newTestGroup(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := g.Activate(ctx, "a"); err != nil {
		t.Fatalf("Activate(a): %v", err)
	}
	g.Shutdown(ctx)

	for _, id := range g.Members() {
		if s := g.Process(id).State(); s != process.StateShutdown {
			t.Errorf("%s state = %s, want SHUTDOWN", id, s)
		}
	}
}
