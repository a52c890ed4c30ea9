package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"ffqueue/catalog"
	"ffqueue/ffmpeg"
	"ffqueue/metrics"
	"ffqueue/task"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateErrored       State = "errored"
)

var (
	ErrLoadFailed     = errors.New("engine load failed")
	ErrNotInitialized = errors.New("engine not initialized")
	ErrExecution      = errors.New("engine execution failed")
	ErrCancel         = errors.New("engine cancel failed")
)

const noSourcesMessage = "unable to load ffmpeg: check ENGINE_SOURCES and network access"

// Instance is one loaded transcoding engine. Buffers are addressed by name
// and live until deleted or the instance is terminated.
type Instance interface {
	WriteFile(ctx context.Context, name string, data []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	DeleteFile(ctx context.Context, name string) error
	Exec(ctx context.Context, args []string) error
	Terminate() error
	OnProgress(fn func(ratio float64)) func()
	OnLog(fn func(line string)) func()
}

// Loader produces an initialized Instance from one source.
type Loader interface {
	Name() string
	Load(ctx context.Context) (Instance, error)
}

type loaderFunc struct {
	name string
	fn   func(ctx context.Context) (Instance, error)
}

func (l loaderFunc) Name() string                               { return l.name }
func (l loaderFunc) Load(ctx context.Context) (Instance, error) { return l.fn(ctx) }

// LoaderFunc adapts a plain function to a named Loader.
func LoaderFunc(name string, fn func(ctx context.Context) (Instance, error)) Loader {
	return loaderFunc{name: name, fn: fn}
}

// Session owns at most one Instance. Loaders are tried in order and the
// first one that succeeds becomes the live instance until Cancel discards it.
type Session struct {
	loaders []Loader
	logger  *zap.Logger

	mu       sync.Mutex
	state    State
	inst     Instance
	source   string
	lastErr  error
	loadDone chan struct{}
}

var _ task.Converter = (*Session)(nil)

func NewSession(loaders []Loader, logger *zap.Logger) *Session {
	return &Session{
		loaders: loaders,
		logger:  logger,
		state:   StateUninitialized,
	}
}

// Load installs an instance from the first working loader. It does nothing
// when the session is already ready or a load is in flight.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateReady || s.state == StateLoading {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	done := make(chan struct{})
	s.loadDone = done
	s.mu.Unlock()

	inst, source, err := s.loadFirst(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = StateErrored
		s.lastErr = err
	} else {
		s.state = StateReady
		s.inst = inst
		s.source = source
		s.lastErr = nil
	}
	s.loadDone = nil
	close(done)
	s.mu.Unlock()

	metrics.SetEngineReady(err == nil)
	return err
}

func (s *Session) loadFirst(ctx context.Context) (Instance, string, error) {
	if len(s.loaders) == 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrLoadFailed, noSourcesMessage)
	}

	var errs, last error
	for _, l := range s.loaders {
		if err := ctx.Err(); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
		inst, err := l.Load(ctx)
		metrics.RecordEngineLoad(l.Name(), err == nil)
		if err == nil {
			s.logger.Info("engine loaded", zap.String("source", l.Name()))
			return inst, l.Name(), nil
		}
		s.logger.Warn("engine load failed", zap.String("source", l.Name()), zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		last = err
	}
	s.logger.Error("all engine sources failed", zap.Error(errs))
	return nil, "", fmt.Errorf("%w: %w", ErrLoadFailed, last)
}

// ready returns the live instance, loading or waiting for a load as needed.
func (s *Session) ready(ctx context.Context) (Instance, error) {
	for {
		s.mu.Lock()
		switch s.state {
		case StateReady:
			inst := s.inst
			s.mu.Unlock()
			return inst, nil
		case StateLoading:
			done := s.loadDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			s.mu.Lock()
			inst, err := s.inst, s.lastErr
			s.mu.Unlock()
			if inst == nil {
				return nil, notInitialized(err)
			}
			return inst, nil
		}
		s.mu.Unlock()

		if err := s.Load(ctx); err != nil {
			return nil, notInitialized(err)
		}
	}
}

func notInitialized(cause error) error {
	if cause == nil {
		return ErrNotInitialized
	}
	return fmt.Errorf("%w: %w", ErrNotInitialized, cause)
}

// Convert transcodes t.File into t.TargetFormat. Progress ratios from the
// engine are forwarded as rounded percentages. Both named buffers are
// removed before returning, whatever the outcome.
func (s *Session) Convert(ctx context.Context, t task.Task, onProgress func(percent int)) (*task.Output, error) {
	inst, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("taskId", t.ID))

	if onProgress != nil {
		stop := inst.OnProgress(func(ratio float64) {
			onProgress(int(math.Round(ratio * 100)))
		})
		defer stop()
	}
	stopLog := inst.OnLog(func(line string) {
		log.Debug("ffmpeg", zap.String("line", line))
	})
	defer stopLog()

	input := "input-" + t.ID
	output := fmt.Sprintf("output-%s.%s", t.ID, t.TargetFormat)
	defer func() {
		// The instance may be gone after a cancel; cleanup errors are noise then.
		for _, name := range []string{input, output} {
			if err := inst.DeleteFile(context.WithoutCancel(ctx), name); err != nil && !errors.Is(err, ffmpeg.ErrTerminated) {
				log.Warn("failed to delete engine buffer", zap.String("name", name), zap.Error(err))
			}
		}
	}()

	if err := inst.WriteFile(ctx, input, t.File.Data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	args := ffmpeg.BuildArgs(input, output, t.Mode, t.Options)
	log.Debug("executing ffmpeg", zap.Strings("args", args))
	if err := inst.Exec(ctx, args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	data, err := inst.ReadFile(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}

	return &task.Output{Data: data, MIME: catalog.MIMEType(t.TargetFormat)}, nil
}

// Cancel terminates the live instance and discards the session, so the next
// Convert loads from scratch. With no instance installed it does nothing.
func (s *Session) Cancel() error {
	s.mu.Lock()
	inst := s.inst
	s.inst = nil
	s.source = ""
	if s.state == StateReady {
		s.state = StateUninitialized
	}
	s.mu.Unlock()

	if inst == nil {
		return nil
	}
	metrics.SetEngineReady(false)
	if err := inst.Terminate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrCancel, err)
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Warn("engine terminate failed", zap.Error(err))
		return err
	}
	s.logger.Info("engine terminated")
	return nil
}

func (s *Session) Status() task.EngineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := task.EngineStatus{
		State:   string(s.state),
		Ready:   s.state == StateReady,
		Loading: s.state == StateLoading,
		Source:  s.source,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
