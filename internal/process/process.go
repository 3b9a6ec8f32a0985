// Package process implements the backend lifecycle state machine (§4.1):
// one Process per configured model, owning exactly one child OS process
// at a time. The synchronization shape — a mutex-guarded state field plus
// a condition variable signalled on every transition — generalizes the
// busy-wait-on-channel pattern the teacher's admission.go and ensure.go
// use for queue/readiness gating into the state-wait primitive this
// specification calls for (§9's "busy-wait on state -> condition
// variable" design note).
package process

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpubuilders/model-swapping-service/internal/apierr"
	"github.com/gpubuilders/model-swapping-service/internal/common/fsutil"
	"github.com/gpubuilders/model-swapping-service/internal/config"
	"github.com/gpubuilders/model-swapping-service/internal/events"
	"github.com/gpubuilders/model-swapping-service/internal/metrics"
)

// State is one of the five lifecycle states a Process can be in.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateReady    State = "READY"
	StateStopping State = "STOPPING"
	StateShutdown State = "SHUTDOWN"
)

// StopStrategy controls whether Stop waits for in-flight requests to
// drain before signalling the child.
type StopStrategy int

const (
	Immediately StopStrategy = iota
	WaitForInflight
)

const (
	startupDelay        = 250 * time.Millisecond
	healthProbeInterval = 5 * time.Second
	healthProbeTimeout  = 5 * time.Second
	minHealthTimeout    = 15 * time.Second
	killGracePeriod     = 5 * time.Second
)

// Process owns one child backend across its whole lifecycle: spawn,
// health-gate, in-flight accounting, TTL eviction, and stop.
type Process struct {
	id     string
	cfg    config.ModelConfig
	group  string
	bus    *events.Bus
	log    zerolog.Logger
	client *http.Client

	healthCheckTimeout time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	cmd       *exec.Cmd
	startedAt time.Time

	inFlight           int
	lastRequestHandled time.Time
	failedStartCount   int
	ttlGeneration      int
}

// New constructs a Process in the STOPPED state. healthCheckTimeout is
// the config-wide value from config.Config; it is not per-model.
func New(id, group string, cfg config.ModelConfig, healthCheckTimeout time.Duration, bus *events.Bus, log zerolog.Logger) *Process {
	if healthCheckTimeout < minHealthTimeout {
		healthCheckTimeout = minHealthTimeout
	}
	p := &Process{
		id:                 id,
		cfg:                cfg,
		group:              group,
		bus:                bus,
		log:                log.With().Str("model_id", id).Str("group_id", group).Logger(),
		client:             &http.Client{Timeout: 0}, // callers set deadlines via context
		healthCheckTimeout: healthCheckTimeout,
		state:              StateStopped,
	}
	p.cond = sync.NewCond(&p.mu)
	metrics.SetBackendState(p.id, p.group, "", string(StateStopped))
	return p
}

func (p *Process) ID() string                 { return p.id }
func (p *Process) GroupID() string             { return p.group }
func (p *Process) Config() config.ModelConfig { return p.cfg }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StartedAt returns the time of the most recent STARTING->READY
// transition, used by the dispatcher to order "most recently started"
// fallback lookups for non-model-scoped requests.
func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// InFlight returns the current in-flight request count.
func (p *Process) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// setStateLocked transitions the process and wakes every waiter. Callers
// must hold p.mu.
func (p *Process) setStateLocked(new State) {
	old := p.state
	if old == new {
		return
	}
	p.state = new
	p.ttlGeneration++
	p.cond.Broadcast()
	p.log.Info().Str("old_state", string(old)).Str("new_state", string(new)).Msg("process state change")
	metrics.SetBackendState(p.id, p.group, string(old), string(new))
	if p.bus != nil {
		p.bus.Publish(events.StateChange{
			ModelID:  p.id,
			Old:      string(old),
			New:      string(new),
			UnixNano: time.Now().UnixNano(),
		})
	}
	if new == StateReady && p.cfg.UnloadAfter > 0 {
		p.armTTLLocked()
	}
}

// waitUntil blocks until ok(state) holds, or ctx is done. Callers must
// NOT hold p.mu.
func (p *Process) waitUntil(ctx context.Context, ok func(State) bool) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		defer stop()
	}
	for !ok(p.state) {
		if ctx != nil && ctx.Err() != nil {
			return p.state, ctx.Err()
		}
		p.cond.Wait()
	}
	return p.state, nil
}

// Start is idempotent: concurrent callers coalesce onto the single
// spawn/health-check attempt in flight, per §4.1.
func (p *Process) Start(ctx context.Context) error {
	for {
		p.mu.Lock()
		switch p.state {
		case StateReady:
			p.mu.Unlock()
			return nil
		case StateStarting:
			p.mu.Unlock()
			final, err := p.waitUntil(ctx, func(s State) bool { return s != StateStarting })
			if err != nil {
				return err
			}
			if final == StateReady {
				return nil
			}
			return apierr.NewSpawnFailed(p.id, fmt.Errorf("concurrent start attempt ended in state %s", final))
		case StateStopping:
			p.mu.Unlock()
			if _, err := p.waitUntil(ctx, func(s State) bool { return s != StateStopping }); err != nil {
				return err
			}
			continue
		case StateStopped:
			p.setStateLocked(StateStarting)
			p.mu.Unlock()

			// The spawn/health-probe sequence must run to completion (or to
			// healthCheckTimeout) regardless of whether the caller that
			// triggered it is still around to see the result — an HTTP
			// client disconnecting mid-probe must not strand the process in
			// STARTING with an unmanaged child. ctx still gates this call's
			// own wait below, the same as it does for a concurrent caller
			// that joins an in-flight start.
			spawnCtx, cancel := context.WithTimeout(context.Background(), p.healthCheckTimeout+startupDelay)
			startErr := make(chan error, 1)
			go func() {
				defer cancel()
				err := p.doStart(spawnCtx)
				if err != nil {
					p.log.Error().Err(err).Msg("start failed")
				}
				startErr <- err
			}()

			final, err := p.waitUntil(ctx, func(s State) bool { return s != StateStarting })
			if err != nil {
				return err
			}
			if final == StateReady {
				return nil
			}
			// Report the attempt's own typed failure (SPAWN_FAILED,
			// HEALTH_TIMEOUT, UNEXPECTED_EXIT) to the initiating caller.
			select {
			case err := <-startErr:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			return apierr.NewSpawnFailed(p.id, fmt.Errorf("start attempt ended in state %s", final))
		case StateShutdown:
			p.mu.Unlock()
			return apierr.NewShuttingDown()
		default:
			p.mu.Unlock()
			return fmt.Errorf("process %s: cannot start from state %s", p.id, p.state)
		}
	}
}

func (p *Process) doStart(ctx context.Context) error {
	argv := p.cfg.Cmd
	if len(argv) == 0 {
		p.failStart(apierr.NewSpawnFailed(p.id, fmt.Errorf("no cmd configured")))
		return apierr.NewSpawnFailed(p.id, fmt.Errorf("no cmd configured"))
	}

	// argv[0] given as a path (rather than a bare name meant for PATH
	// lookup) is checked up front: a config pointing at a moved or
	// never-deployed binary should fail fast as SPAWN_FAILED instead of
	// surfacing whatever errno exec.Command's own lookup produces.
	if strings.ContainsRune(argv[0], os.PathSeparator) && !fsutil.PathExists(argv[0]) {
		err := fmt.Errorf("cmd binary %q does not exist", argv[0])
		p.failStart(apierr.NewSpawnFailed(p.id, err))
		return apierr.NewSpawnFailed(p.id, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	logWriter := &linePrefixWriter{log: p.log}
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

	if err := cmd.Start(); err != nil {
		p.failStart(err)
		return apierr.NewSpawnFailed(p.id, err)
	}

	p.mu.Lock()
	if p.state != StateStarting {
		// Stopped out from under us between transitioning to STARTING and
		// spawning; nobody else owns this child, so we must reap it.
		p.mu.Unlock()
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return apierr.NewSpawnFailed(p.id, fmt.Errorf("start aborted: state left STARTING before spawn completed"))
	}
	p.cmd = cmd
	p.mu.Unlock()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()
	go p.watchChildExit(cmd, waitErr)

	select {
	case <-time.After(startupDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.cfg.CheckEndpoint == config.NoHealthCheck {
		p.mu.Lock()
		if p.state == StateStarting {
			p.startedAt = time.Now()
			p.failedStartCount = 0
			p.setStateLocked(StateReady)
			p.mu.Unlock()
			return nil
		}
		final := p.state
		p.mu.Unlock()
		if final == StateReady {
			return nil
		}
		return apierr.NewUnexpectedExit(p.id, fmt.Errorf("state left STARTING before readiness: %s", final))
	}

	return p.probeUntilReady(ctx, cmd)
}

func (p *Process) probeUntilReady(ctx context.Context, cmd *exec.Cmd) error {
	deadline := time.Now().Add(p.healthCheckTimeout)
	url := strings.TrimRight(p.cfg.Proxy, "/") + p.cfg.CheckEndpoint

	for {
		if p.State() != StateStarting {
			return apierr.NewUnexpectedExit(p.id, fmt.Errorf("state left STARTING while health-probing"))
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			p.killChild(cmd)
			p.mu.Lock()
			if p.state == StateStarting {
				p.setStateLocked(StateStopping)
			}
			p.mu.Unlock()
			_, _ = p.waitUntil(context.Background(), func(s State) bool { return s == StateStopped || s == StateShutdown })
			return apierr.NewHealthTimeout(p.id)
		}

		if p.probeOnce(ctx, url) {
			p.mu.Lock()
			if p.state == StateStarting {
				p.startedAt = time.Now()
				p.failedStartCount = 0
				p.setStateLocked(StateReady)
				p.mu.Unlock()
				return nil
			}
			final := p.state
			p.mu.Unlock()
			return apierr.NewUnexpectedExit(p.id, fmt.Errorf("state left STARTING immediately after healthy probe: %s", final))
		}

		wait := healthProbeInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
}

func (p *Process) probeOnce(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *Process) killChild(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func (p *Process) failStart(err error) {
	p.mu.Lock()
	p.failedStartCount++
	if p.state == StateStarting {
		p.setStateLocked(StateStopped)
	}
	p.mu.Unlock()
	p.log.Error().Err(err).Msg("spawn failed")
}

// watchChildExit is the child-exit handler: it observes the OS process
// terminating for any reason and reconciles the state machine.
func (p *Process) watchChildExit(cmd *exec.Cmd, waitErr <-chan error) {
	err := <-waitErr

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == cmd {
		p.cmd = nil
	}
	switch p.state {
	case StateStopping:
		p.setStateLocked(StateStopped)
	case StateStarting, StateReady:
		p.setStateLocked(StateStopped)
		p.log.Warn().Err(err).Msg("child exited unexpectedly")
	default:
		// STOPPED/SHUTDOWN already reflect no running child.
	}
}

// Stop requests termination per §4.1. It returns once the termination
// signal (or stop command) has been issued; it does not itself wait for
// the child to exit. Callers that need to sequence a subsequent Start
// must wait for the state to reach STOPPED (see AwaitStopped).
func (p *Process) Stop(strategy StopStrategy) error {
	p.mu.Lock()
	switch p.state {
	case StateStopped, StateStopping, StateShutdown:
		p.mu.Unlock()
		return nil
	}
	p.setStateLocked(StateStopping)
	child := p.cmd
	p.mu.Unlock()

	if strategy == WaitForInflight {
		p.mu.Lock()
		for p.inFlight > 0 {
			p.cond.Wait()
		}
		p.mu.Unlock()
	}

	if child == nil || child.Process == nil {
		// Stopped before a child was ever recorded (e.g. mid-spawn race);
		// no exit handler will fire for a process that never started.
		p.mu.Lock()
		if p.state == StateStopping {
			p.setStateLocked(StateStopped)
		}
		p.mu.Unlock()
		return nil
	}

	if strings.TrimSpace(p.cfg.CmdStop) != "" {
		cmdline := strings.ReplaceAll(p.cfg.CmdStop, "${PID}", strconv.Itoa(child.Process.Pid))
		argv, err := config.Tokenize(cmdline)
		if err != nil || len(argv) == 0 {
			p.log.Error().Err(err).Str("cmdStop", cmdline).Msg("cmdStop could not be tokenised, falling back to SIGTERM")
			_ = child.Process.Signal(syscall.SIGTERM)
		} else if runErr := exec.Command(argv[0], argv[1:]...).Run(); runErr != nil {
			p.log.Error().Err(runErr).Msg("cmdStop failed, falling back to SIGTERM")
			_ = child.Process.Signal(syscall.SIGTERM)
		}
	} else {
		_ = child.Process.Signal(syscall.SIGTERM)
	}

	go p.forceKillAfterGrace(child)
	return nil
}

// forceKillAfterGrace escalates to SIGKILL if the child ignores SIGTERM
// (or its cmdStop) for longer than killGracePeriod.
func (p *Process) forceKillAfterGrace(cmd *exec.Cmd) {
	timer := time.NewTimer(killGracePeriod)
	defer timer.Stop()
	<-timer.C
	p.mu.Lock()
	stillOurs := p.cmd == cmd
	p.mu.Unlock()
	if stillOurs && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// AwaitStopped blocks until the process reaches STOPPED or SHUTDOWN.
func (p *Process) AwaitStopped(ctx context.Context) (State, error) {
	return p.waitUntil(ctx, func(s State) bool { return s == StateStopped || s == StateShutdown })
}

// Shutdown is the terminal, one-way transition invoked when the whole
// system is exiting. It stops the child immediately if one is running,
// waits briefly for it to exit, then forces SHUTDOWN regardless.
func (p *Process) Shutdown(ctx context.Context) {
	_ = p.Stop(Immediately)
	_, _ = p.waitUntil(ctx, func(s State) bool { return s == StateStopped || s == StateShutdown })
	p.mu.Lock()
	p.setStateLocked(StateShutdown)
	p.mu.Unlock()
}

// BeginRequest reserves an in-flight slot and returns a release func that
// must be deferred by the caller so the decrement runs on every exit
// path, including panics and client disconnects.
func (p *Process) BeginRequest() (release func()) {
	p.mu.Lock()
	p.inFlight++
	p.lastRequestHandled = time.Now()
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.inFlight > 0 {
				p.inFlight--
			}
			p.lastRequestHandled = time.Now()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
	}
}

func (p *Process) armTTLLocked() {
	gen := p.ttlGeneration
	unloadAfter := time.Duration(p.cfg.UnloadAfter) * time.Second
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			p.mu.Lock()
			if p.ttlGeneration != gen || p.state != StateReady {
				p.mu.Unlock()
				return
			}
			if p.inFlight > 0 {
				p.mu.Unlock()
				continue
			}
			idle := time.Since(p.lastRequestHandled)
			p.mu.Unlock()
			if idle > unloadAfter {
				metrics.IncrementEviction(p.id)
				_ = p.Stop(Immediately)
				return
			}
		}
	}()
}

// linePrefixWriter forwards each complete line of child stdout/stderr to
// the structured logger, tagged with the model id (via p.log's context).
type linePrefixWriter struct {
	log zerolog.Logger
	buf []byte
}

func (w *linePrefixWriter) Write(b []byte) (int, error) {
	w.buf = append(w.buf, b...)
	for {
		idx := indexNewline(w.buf)
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:idx]), "\r")
		if line != "" {
			w.log.Debug().Str("stream", "child").Msg(line)
		}
		w.buf = w.buf[idx+1:]
	}
	return len(b), nil
}

func indexNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

var _ io.Writer = (*linePrefixWriter)(nil)
