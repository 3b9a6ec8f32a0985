// Package group implements ProcessGroup (§4.2): a set of Processes that
// share a hardware-exclusivity boundary. Grounded on the teacher's
// manager.go device-budget bookkeeping, generalized from "one shared VRAM
// budget across every model" to "one shared exclusivity boundary per
// configured group".
package group

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpubuilders/model-swapping-service/internal/config"
	"github.com/gpubuilders/model-swapping-service/internal/events"
	"github.com/gpubuilders/model-swapping-service/internal/process"
)

// Group owns a Process per member model, eagerly created at startup, and
// enforces intra-group swap exclusivity.
type Group struct {
	ID         string
	Swap       bool
	Exclusive  bool
	Persistent bool

	log zerolog.Logger

	mu              sync.Mutex
	order           []string // member ids, in configured order
	processes       map[string]*process.Process
	lastUsedProcess string
}

// New constructs a Group and eagerly builds one Process per member, in the
// order cfg.Members lists them.
func New(cfg config.GroupConfig, models map[string]config.ModelConfig, healthCheckTimeoutSeconds int, bus *events.Bus, log zerolog.Logger) *Group {
	g := &Group{
		ID:         cfg.ID,
		Swap:       cfg.Swap,
		Exclusive:  cfg.Exclusive,
		Persistent: cfg.Persistent,
		log:        log.With().Str("group_id", cfg.ID).Logger(),
		processes:  make(map[string]*process.Process, len(cfg.Members)),
	}
	timeout := time.Duration(healthCheckTimeoutSeconds) * time.Second
	for _, id := range cfg.Members {
		mdl, ok := models[id]
		if !ok {
			continue // config.Load already rejects this; defensive only
		}
		g.order = append(g.order, id)
		g.processes[id] = process.New(id, cfg.ID, mdl, timeout, bus, log)
	}
	return g
}

// Members returns the member ids in configured order.
func (g *Group) Members() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Process returns the member Process for id, or nil if id is not a member.
func (g *Group) Process(id string) *process.Process {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.processes[id]
}

// LastUsedProcess returns the id most recently activated within this
// group, or "" if none has been.
func (g *Group) LastUsedProcess() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastUsedProcess
}

// Activate implements §4.2's activate(modelId): it stops the group's
// previous member if swap-exclusivity requires it, then starts modelId
// and returns its Process.
func (g *Group) Activate(ctx context.Context, modelID string) (*process.Process, error) {
	g.mu.Lock()
	target, ok := g.processes[modelID]
	if !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("group %q: %q is not a member", g.ID, modelID)
	}
	var toStop *process.Process
	if g.Swap && g.lastUsedProcess != "" && g.lastUsedProcess != modelID {
		if prev, ok := g.processes[g.lastUsedProcess]; ok && prev.State() == process.StateReady {
			toStop = prev
		}
	}
	g.mu.Unlock()

	if toStop != nil {
		if err := toStop.Stop(process.WaitForInflight); err != nil {
			return nil, err
		}
		if _, err := toStop.AwaitStopped(ctx); err != nil {
			return nil, err
		}
	}

	if err := target.Start(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.lastUsedProcess = modelID
	g.mu.Unlock()

	return target, nil
}

// StopAll stops every member concurrently using strategy and clears
// lastUsedProcess. It does not wait for the stops to finish reaching
// STOPPED; callers that need that (cross-group and exclusive-group
// enforcement, §4.3) should call AwaitAllStopped afterward.
func (g *Group) StopAll(strategy process.StopStrategy) {
	g.mu.Lock()
	procs := make([]*process.Process, 0, len(g.processes))
	for _, p := range g.processes {
		procs = append(procs, p)
	}
	g.lastUsedProcess = ""
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *process.Process) {
			defer wg.Done()
			_ = p.Stop(strategy)
		}(p)
	}
	wg.Wait()
}

// AwaitAllStopped blocks until every member has reached STOPPED or
// SHUTDOWN.
func (g *Group) AwaitAllStopped(ctx context.Context) error {
	g.mu.Lock()
	procs := make([]*process.Process, 0, len(g.processes))
	for _, p := range g.processes {
		procs = append(procs, p)
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(procs))
	for i, p := range procs {
		wg.Add(1)
		go func(i int, p *process.Process) {
			defer wg.Done()
			_, err := p.AwaitStopped(ctx)
			errs[i] = err
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops every member immediately and forces each to SHUTDOWN,
// per §4.2's shutdown operation.
func (g *Group) Shutdown(ctx context.Context) {
	g.mu.Lock()
	procs := make([]*process.Process, 0, len(g.processes))
	for _, p := range g.processes {
		procs = append(procs, p)
	}
	g.lastUsedProcess = ""
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *process.Process) {
			defer wg.Done()
			p.Shutdown(ctx)
		}(p)
	}
	wg.Wait()
}

