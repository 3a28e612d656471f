// Package pool implements the SessionPool: at most one live UpstreamSession
// per configured server, started lazily, coalesced across concurrent
// callers with golang.org/x/sync/singleflight, evicted after an idle TTL,
// and restarted transparently after failure. The per-server state machine
// and idle-reaper shape are grounded on muster's
// internal/mcpserver/manager.go lifecycle handling, generalized from a
// statically configured server set to lazily started, evictable sessions.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"ica-mcp-proxy/internal/metrics"
	"ica-mcp-proxy/internal/specconfig"
	"ica-mcp-proxy/internal/upstream"
	"ica-mcp-proxy/pkg/logging"
)

// entry is the runtime state for one upstream: its current session (if
// any), usage bookkeeping, and the generation counter bumped on restart.
type entry struct {
	mu         sync.Mutex
	spec       *specconfig.ServerSpec
	session    *upstream.Session
	inFlight   int
	lastUsed   time.Time
	generation int
}

// Pool is the process-wide SessionPool. One Pool instance backs the whole
// proxy; ProxyServer owns exactly one.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group

	defaultTimeout time.Duration
	initTimeout    time.Duration
	idleTTL        time.Duration
	disablePooling bool
	poolStdio      bool

	metrics *metrics.Metrics

	reaperCancel context.CancelFunc
}

// Config carries the policy values the pool needs, decoupled from
// internal/policy so this package has no import-cycle risk with policy's
// own dependents.
type Config struct {
	DefaultTimeout time.Duration
	InitTimeout    time.Duration
	IdleTTL        time.Duration
	DisablePooling bool
	PoolStdio      bool
}

// New builds a Pool over the given servers and starts its idle reaper.
// Callers must call Shutdown to stop the reaper and release sessions.
func New(servers map[string]*specconfig.ServerSpec, cfg Config, m *metrics.Metrics) *Pool {
	entries := make(map[string]*entry, len(servers))
	for name, spec := range servers {
		entries[name] = &entry{spec: spec}
	}

	p := &Pool{
		entries:        entries,
		defaultTimeout: cfg.DefaultTimeout,
		initTimeout:    cfg.InitTimeout,
		idleTTL:        cfg.IdleTTL,
		disablePooling: cfg.DisablePooling,
		poolStdio:      cfg.PoolStdio,
		metrics:        m,
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.reaperCancel = cancel
	go p.reap(ctx)

	return p
}

// ErrUnknownServer reports a call against a server name absent from the
// merged config.
type ErrUnknownServer struct{ Name string }

func (e *ErrUnknownServer) Error() string { return fmt.Sprintf("unknown server %q", e.Name) }

// ListToolsFor returns one server's tool catalog via its pooled session.
func (p *Pool) ListToolsFor(ctx context.Context, server string) ([]mcp.Tool, error) {
	e, err := p.lookup(server)
	if err != nil {
		return nil, err
	}
	sess, err := p.acquire(ctx, server, e)
	if err != nil {
		return nil, err
	}
	tools, err := sess.ListTools(ctx)
	if err != nil {
		p.release(e, err)
		return nil, err
	}
	p.release(e, nil)
	return tools, nil
}

// CallTool dispatches one tool call to server's pooled session, applying
// the effective timeout: min(callTimeout, server.TimeoutS, pool default).
func (p *Pool) CallTool(ctx context.Context, server, tool string, args map[string]interface{}, callTimeout time.Duration) (*mcp.CallToolResult, error) {
	e, err := p.lookup(server)
	if err != nil {
		return nil, err
	}

	sess, err := p.acquire(ctx, server, e)
	if err != nil {
		return nil, err
	}

	timeout := p.effectiveTimeout(e.spec, callTimeout)

	start := time.Now()
	result, callErr := sess.CallTool(ctx, tool, args, timeout)
	elapsed := time.Since(start).Seconds()

	p.release(e, callErr)

	outcome := "success"
	if callErr != nil {
		outcome = "error"
	}
	if p.metrics != nil {
		p.metrics.RecordCall(ctx, server, outcome, elapsed)
	}

	if callErr != nil {
		return nil, callErr
	}

	if !p.stdioPoolingEnabled(e.spec) {
		p.evictNow(server, e)
	}

	return result, nil
}

func (p *Pool) effectiveTimeout(spec *specconfig.ServerSpec, callTimeout time.Duration) time.Duration {
	timeout := p.defaultTimeout
	if spec.TimeoutS != nil {
		serverTimeout := time.Duration(*spec.TimeoutS * float64(time.Second))
		if timeout == 0 || serverTimeout < timeout {
			timeout = serverTimeout
		}
	}
	if callTimeout > 0 && (timeout == 0 || callTimeout < timeout) {
		timeout = callTimeout
	}
	return timeout
}

func (p *Pool) stdioPoolingEnabled(spec *specconfig.ServerSpec) bool {
	if p.disablePooling {
		return false
	}
	if spec.Transport == specconfig.TransportStdio {
		return p.poolStdio
	}
	return true
}

func (p *Pool) lookup(server string) (*entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[server]
	if !ok {
		return nil, &ErrUnknownServer{Name: server}
	}
	return e, nil
}

// acquire returns a Ready session for e, starting or restarting it as
// needed. Concurrent callers during Starting coalesce onto the same
// singleflight call, matching the spec's fairness requirement.
func (p *Pool) acquire(ctx context.Context, server string, e *entry) (*upstream.Session, error) {
	e.mu.Lock()
	sess := e.session
	needsStart := sess == nil || sess.State() == upstream.StateFailed || sess.State() == upstream.StateClosed
	e.mu.Unlock()

	if !needsStart {
		e.mu.Lock()
		e.inFlight++
		e.mu.Unlock()
		return sess, nil
	}

	result, err, _ := p.group.Do(server, func() (interface{}, error) {
		e.mu.Lock()
		if e.session != nil && e.session.State() != upstream.StateFailed && e.session.State() != upstream.StateClosed {
			existing := e.session
			e.mu.Unlock()
			return existing, nil
		}
		e.mu.Unlock()

		newSess, startErr := upstream.NewSession(e.spec)
		if startErr != nil {
			return nil, startErr
		}
		if startErr := newSess.EnsureReady(ctx, p.initTimeout); startErr != nil {
			return nil, startErr
		}

		e.mu.Lock()
		e.session = newSess
		e.generation++
		e.mu.Unlock()

		if p.metrics != nil {
			p.metrics.SessionStarted(ctx)
		}
		logging.Info("pool", "started session for %s (generation %d)", server, e.generation)
		return newSess, nil
	})
	if err != nil {
		return nil, err
	}

	started := result.(*upstream.Session)
	e.mu.Lock()
	e.inFlight++
	e.mu.Unlock()
	return started, nil
}

func (p *Pool) release(e *entry, callErr error) {
	e.mu.Lock()
	e.inFlight--
	e.lastUsed = time.Now()
	failed := false
	if callErr != nil {
		var sessionFailed *upstream.SessionFailedError
		if asSessionFailed(callErr, &sessionFailed) {
			failed = true
		}
	}
	session := e.session
	e.mu.Unlock()

	if failed && session != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = session.Shutdown(ctx, 5*time.Second)
			if p.metrics != nil {
				p.metrics.SessionStopped(ctx)
			}
		}()
		e.mu.Lock()
		e.session = nil
		e.mu.Unlock()
	}
}

func asSessionFailed(err error, target **upstream.SessionFailedError) bool {
	for err != nil {
		if sf, ok := err.(*upstream.SessionFailedError); ok {
			*target = sf
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// evictNow tears down a session immediately, used when stdio pooling is
// disabled and every call gets a fresh process.
func (p *Pool) evictNow(server string, e *entry) {
	e.mu.Lock()
	if e.inFlight > 0 || e.session == nil {
		e.mu.Unlock()
		return
	}
	session := e.session
	e.session = nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = session.Shutdown(ctx, 5*time.Second)
	if p.metrics != nil {
		p.metrics.SessionStopped(ctx)
	}
}

// reap wakes every min(idleTTL)/2 and evicts Ready, idle, zero-in-flight
// sessions.
func (p *Pool) reap(ctx context.Context) {
	minTTL := p.idleTTL
	p.mu.RLock()
	for _, e := range p.entries {
		if e.spec.IdleTTLS == nil {
			continue
		}
		if ttl := time.Duration(*e.spec.IdleTTLS * float64(time.Second)); ttl > 0 && (minTTL <= 0 || ttl < minTTL) {
			minTTL = ttl
		}
	}
	p.mu.RUnlock()

	interval := minTTL / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	p.mu.RLock()
	names := make([]string, 0, len(p.entries))
	entries := make([]*entry, 0, len(p.entries))
	for name, e := range p.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	for i, e := range entries {
		e.mu.Lock()
		idleTTL := p.idleTTL
		if e.spec.IdleTTLS != nil {
			idleTTL = time.Duration(*e.spec.IdleTTLS * float64(time.Second))
		}
		shouldEvict := e.session != nil && e.session.State() == upstream.StateReady &&
			e.inFlight == 0 && time.Since(e.lastUsed) >= idleTTL
		var session *upstream.Session
		if shouldEvict {
			session = e.session
			e.session = nil
		}
		e.mu.Unlock()

		if shouldEvict {
			logging.Debug("pool", "evicting idle session for %s", names[i])
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = session.Shutdown(ctx, 5*time.Second)
			if p.metrics != nil {
				p.metrics.SessionStopped(ctx)
			}
			cancel()
		}
	}
}

// Shutdown stops the reaper and shuts down every live session with
// bounded grace.
func (p *Pool) Shutdown(ctx context.Context, grace time.Duration) {
	p.reaperCancel()

	p.mu.RLock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		e.mu.Lock()
		session := e.session
		e.session = nil
		e.mu.Unlock()
		if session == nil {
			continue
		}
		wg.Add(1)
		go func(s *upstream.Session) {
			defer wg.Done()
			_ = s.Shutdown(ctx, grace)
		}(session)
	}
	wg.Wait()
}
