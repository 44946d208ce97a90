// Package execrunner is the only code path in NTMD that spawns external
// processes (tmux, ntm, and similar). Every call goes through a category
// with a hard timeout and stdout cap, a bounded concurrency semaphore, spawn
// jitter, and a per-category circuit breaker.
package execrunner

import (
	"bytes"
	"context"
	"math/rand"
	"os/exec"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"
)

// CategoryConfig is the per-category budget applied to every Run call.
type CategoryConfig struct {
	Timeout        time.Duration
	StdoutCapBytes int64
	KillOnTimeout  bool
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Result is the outcome of a successful (possibly non-zero-exit) run.
type Result struct {
	Stdout   []byte
	ExitCode int
	Duration time.Duration
}

// Runner owns all external process execution for the daemon.
type Runner struct {
	mu         sync.Mutex
	categories map[string]CategoryConfig
	breakers   map[string]*circuitBreaker
	sem        chan struct{}
	jitter     time.Duration
}

// New builds a Runner with a global concurrency cap across all categories.
func New(maxConcurrent int, jitter time.Duration) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Runner{
		categories: make(map[string]CategoryConfig),
		breakers:   make(map[string]*circuitBreaker),
		sem:        make(chan struct{}, maxConcurrent),
		jitter:     jitter,
	}
}

// Configure registers or replaces a category's budget. Safe to call at any
// time; existing breaker state (failure count) is preserved across reconfig
// so a reload doesn't reset an already-tripped breaker.
func (r *Runner) Configure(category string, cfg CategoryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[category] = cfg
	if _, ok := r.breakers[category]; !ok {
		r.breakers[category] = newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
}

// Degraded reports whether the category's breaker is currently open.
func (r *Runner) Degraded(category string) bool {
	r.mu.Lock()
	b, ok := r.breakers[category]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return b.isOpen()
}

func (r *Runner) config(category string) (CategoryConfig, *circuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.categories[category]
	b := r.breakers[category]
	return cfg, b, ok
}

// Run spawns name with args under the named category's budget. It applies
// spawn jitter, acquires the global semaphore, checks and updates the
// category's circuit breaker, enforces the timeout and stdout cap, and kills
// the whole process group on timeout when KillOnTimeout is set.
func (r *Runner) Run(ctx context.Context, category, name string, args ...string) (*Result, error) {
	cfg, breaker, ok := r.config(category)
	if !ok {
		return nil, &Error{Kind: Internal, Category: category, Err: errCategoryNotConfigured(category)}
	}

	if breaker != nil {
		allowed, _ := breaker.allow(time.Now())
		if !allowed {
			return nil, &Error{Kind: ServerUnavailable, Category: category, Err: errBreakerOpen(category)}
		}
	}

	if r.jitter > 0 {
		select {
		case <-time.After(time.Duration(rand.Int63n(int64(r.jitter) + 1))):
		case <-ctx.Done():
			return nil, &Error{Kind: Internal, Category: category, Err: ctx.Err()}
		}
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, &Error{Kind: Internal, Category: category, Err: ctx.Err()}
	}

	if _, err := exec.LookPath(name); err != nil {
		if breaker != nil {
			breaker.recordFailure(time.Now())
		}
		return nil, &Error{Kind: NotInstalled, Category: category, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	setProcessGroup(cmd)
	if cfg.KillOnTimeout {
		cmd.Cancel = func() error {
			killProcessGroup(cmd, category)
			return nil
		}
	}

	var out capWriter
	out.cap = cfg.StdoutCapBytes
	cmd.Stdout = &out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	// cmd.Run blocks until the process exits, so a process that keeps
	// streaming past cfg.StdoutCapBytes isn't killed until it exits on its
	// own or the context deadline fires — capWriter stops buffering at the
	// cap but doesn't interrupt cmd.Run mid-stream.
	if out.exceeded {
		killProcessGroup(cmd, category)
		if breaker != nil {
			breaker.recordFailure(time.Now())
		}
		return nil, &Error{Kind: OutputCapExceeded, Category: category}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		if cfg.KillOnTimeout {
			killProcessGroup(cmd, category)
		}
		if breaker != nil {
			breaker.recordFailure(time.Now())
		}
		return nil, &Error{Kind: Timeout, Category: category, Err: runCtx.Err()}
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if breaker != nil {
				breaker.recordFailure(time.Now())
			}
			return nil, &Error{
				Kind:     NonZeroExit,
				Category: category,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				Err:      err,
			}
		}
		if breaker != nil {
			breaker.recordFailure(time.Now())
		}
		return nil, &Error{Kind: Internal, Category: category, Err: err}
	}

	if breaker != nil {
		breaker.recordSuccess()
	}
	return &Result{Stdout: out.buf.Bytes(), ExitCode: 0, Duration: dur}, nil
}

// capWriter enforces the stdout byte cap and flags overflow instead of
// silently truncating, so Run can report OutputCapExceeded.
type capWriter struct {
	buf      bytes.Buffer
	cap      int64
	exceeded bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	if w.exceeded {
		return len(p), nil
	}
	if w.cap > 0 && int64(w.buf.Len()+len(p)) > w.cap {
		w.exceeded = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

// killProcessGroup kills the whole tree rooted at cmd's PID via gopsutil,
// generalizing the teacher's manual /proc ppid-walk (process.go) into a
// reusable kill primitive shared by every category.
func killProcessGroup(cmd *exec.Cmd, category string) {
	if cmd.Process == nil {
		return
	}
	root, err := gopsproc.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	var killTree func(p *gopsproc.Process)
	killTree = func(p *gopsproc.Process) {
		children, _ := p.Children()
		for _, c := range children {
			killTree(c)
		}
		_ = p.Kill()
	}
	killTree(root)
}
