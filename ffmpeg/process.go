package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTerminated is returned by every call on a terminated process,
	// including a second Terminate.
	ErrTerminated = errors.New("ffmpeg instance terminated")
	ErrBusy       = errors.New("ffmpeg instance is already executing")
)

// ExitError reports a non-zero ffmpeg exit together with its last
// diagnostic line.
type ExitError struct {
	Err    error
	Detail string
}

func (e *ExitError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("ffmpeg failed: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg failed: %s (%v)", e.Detail, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Process is one initialized ffmpeg engine. Named buffers live as files in a
// private working directory that disappears on Terminate.
type Process struct {
	bin      string
	prefix   []string
	dir      string
	throttle Throttle
	logger   *zap.Logger

	mu         sync.Mutex
	terminated bool
	cancelRun  context.CancelFunc
	nextSub    int
	progress   map[int]func(float64)
	logs       map[int]func(string)
}

// Dir returns the working directory backing the named buffers.
func (p *Process) Dir() string { return p.dir }

func (p *Process) path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return "", ErrTerminated
	}
	return filepath.Join(p.dir, name), nil
}

func (p *Process) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := p.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (p *Process) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := p.path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (p *Process) DeleteFile(ctx context.Context, name string) error {
	path, err := p.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exec runs ffmpeg with args inside the working directory, emitting progress
// ratios and log lines to subscribers while it runs.
func (p *Process) Exec(ctx context.Context, args []string) error {
	if err := ValidateArgs(args); err != nil {
		return err
	}
	if err := p.throttle.check(p.dir, p.logger); err != nil {
		return fmt.Errorf("insufficient system resources: %w", err)
	}

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return ErrTerminated
	}
	if p.cancelRun != nil {
		p.mu.Unlock()
		return ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancelRun = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.cancelRun = nil
		p.mu.Unlock()
		cancel()
	}()

	full := make([]string, 0, len(p.prefix)+len(args)+2)
	full = append(full, p.prefix...)
	full = append(full, "-hide_banner", "-nostdin")
	full = append(full, args...)

	cmd := exec.CommandContext(runCtx, p.bin, full...)
	cmd.Dir = p.dir
	cmd.WaitDelay = 2 * time.Second
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	p.logger.Debug("executing ffmpeg", zap.String("bin", p.bin), zap.String("args", strings.Join(full, " ")))
	if err := cmd.Start(); err != nil {
		if p.isTerminated() {
			return ErrTerminated
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	tracker := newProgressTracker(args)
	var lastDiag string
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(scanStatusLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p.emitLog(line)
		if ratio, ok := tracker.Observe(line); ok {
			p.emitProgress(ratio)
			continue
		}
		lastDiag = line
	}
	if err := sc.Err(); err != nil {
		// Keep the pipe drained or ffmpeg blocks on a full stderr and Wait never returns.
		p.logger.Warn("stopped reading ffmpeg output", zap.Error(err))
		_, _ = io.Copy(io.Discard, stderr)
	}

	if err := cmd.Wait(); err != nil {
		if p.isTerminated() {
			return ErrTerminated
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ExitError{Err: err, Detail: lastDiag}
	}
	p.emitProgress(1)
	return nil
}

// Terminate kills any running execution and drops the working directory.
func (p *Process) Terminate() error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return ErrTerminated
	}
	p.terminated = true
	cancel := p.cancelRun
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return os.RemoveAll(p.dir)
}

func (p *Process) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// OnProgress registers fn for progress ratios and returns its unsubscribe.
func (p *Process) OnProgress(fn func(ratio float64)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.progress[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.progress, id)
		p.mu.Unlock()
	}
}

// OnLog registers fn for stderr lines and returns its unsubscribe.
func (p *Process) OnLog(fn func(line string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.logs[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.logs, id)
		p.mu.Unlock()
	}
}

func (p *Process) emitProgress(ratio float64) {
	p.mu.Lock()
	subs := make([]func(float64), 0, len(p.progress))
	for _, fn := range p.progress {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(ratio)
	}
}

func (p *Process) emitLog(line string) {
	p.mu.Lock()
	subs := make([]func(string), 0, len(p.logs))
	for _, fn := range p.logs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(line)
	}
}
