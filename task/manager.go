package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ffqueue/catalog"
	"ffqueue/config"
	"ffqueue/metrics"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrQueueFull         = errors.New("a task is already queued")
	ErrInputTooLarge     = errors.New("input file is too large")
	ErrInvalidTransition = errors.New("invalid task transition")
	ErrTaskBusy          = errors.New("task is being converted")
	ErrInvalidMode       = errors.New("invalid conversion mode")
	ErrInvalidFormat     = errors.New("target format not valid for mode")
	ErrInvalidPreset     = errors.New("unknown preset")
	ErrNoOutput          = errors.New("task has no output")
)

const (
	msgWaiting    = "Waiting"
	msgQueued     = "Queued"
	msgConverting = "Converting..."
	msgCompleted  = "Completed"
	msgCanceled   = "Canceled by user"
	msgFallback   = "Conversion failed. This format may not be supported."
)

type EventType string

const (
	EventAdded    EventType = "added"
	EventUpdated  EventType = "updated"
	EventProgress EventType = "progress"
	EventRemoved  EventType = "removed"
)

// Event is one observable change of a task.
type Event struct {
	Type EventType `json:"type"`
	Task Task      `json:"task"`
}

// AddRequest describes a new task. Zero fields are inferred: the mode from
// the file's MIME type, the format from the mode and the preset from
// catalog.DefaultPreset.
type AddRequest struct {
	File         File
	Mode         catalog.Mode
	TargetFormat catalog.Format
	Preset       catalog.PresetID
	Options      catalog.Options
}

// Patch is a partial task update. Options are merged into the task's
// overrides; Clear names overrides to drop so the preset value applies again.
// In JSON an option set to null is added to Clear.
type Patch struct {
	Mode         *catalog.Mode     `json:"mode,omitempty"`
	TargetFormat *catalog.Format   `json:"targetFormat,omitempty"`
	Preset       *catalog.PresetID `json:"presetId,omitempty"`
	Options      *catalog.Options  `json:"options,omitempty"`
	Clear        []string          `json:"clear,omitempty"`
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	type plain Patch
	var raw struct {
		plain
		Options map[string]json.RawMessage `json:"options"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Patch(raw.plain)
	if raw.Options == nil {
		return nil
	}

	set := make(map[string]json.RawMessage, len(raw.Options))
	for name, v := range raw.Options {
		if string(bytes.TrimSpace(v)) == "null" {
			p.Clear = append(p.Clear, name)
			continue
		}
		set[name] = v
	}
	sort.Strings(p.Clear)
	encoded, err := json.Marshal(set)
	if err != nil {
		return err
	}
	var opts catalog.Options
	if err := json.Unmarshal(encoded, &opts); err != nil {
		return err
	}
	p.Options = &opts
	return nil
}

// Manager owns the task collection and the single conversion loop. At most
// one task is processing at any time.
type Manager struct {
	cfg       *config.Config
	converter Converter
	logger    *zap.Logger
	stop      context.CancelFunc
	loops     sync.WaitGroup

	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	pending  fifo
	activeID string
	stopRun  context.CancelFunc
	advisory string
	subs     map[int]chan Event
	nextSub  int
	wake     chan struct{}
}

func NewManager(cfg *config.Config, converter Converter, logger *zap.Logger) (*Manager, error) {
	if converter == nil {
		return nil, errors.New("task manager requires a converter")
	}
	m := &Manager{
		cfg:       cfg,
		converter: converter,
		logger:    logger,
		tasks:     make(map[string]*Task),
		subs:      make(map[int]chan Event),
		wake:      make(chan struct{}, 1),
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	ctx, m.stop = context.WithCancel(ctx)
	m.logger.Info("task manager started", zap.String("queueMode", m.cfg.QueueMode))
	m.loops.Add(2)
	go func() {
		defer m.loops.Done()
		m.cleanupLoop(ctx)
	}()
	go func() {
		defer m.loops.Done()
		m.workerLoop(ctx)
	}()
}

// Shutdown stops the background loops, aborting a running conversion, and
// waits for them to return.
func (m *Manager) Shutdown() {
	if m.stop != nil {
		m.stop()
	}
	m.loops.Wait()
}

// workerLoop promotes the first queued task whenever nothing is processing
// and runs it to completion before looking again.
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			m.logger.Info("worker loop shutting down")
			return
		}
		next, runCtx, stop, ok := m.promote(ctx)
		if !ok {
			select {
			case <-ctx.Done():
				m.logger.Info("worker loop shutting down")
				return
			case <-m.wake:
			}
			continue
		}
		m.process(runCtx, next)
		stop()
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// promote moves the first queued task to processing and returns it with the
// context its conversion runs under.
func (m *Manager) promote(ctx context.Context) (Task, context.Context, context.CancelFunc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != "" {
		return Task{}, nil, nil, false
	}
	for {
		id, ok := m.pending.pop()
		if !ok {
			return Task{}, nil, nil, false
		}
		t, found := m.tasks[id]
		if !found || t.Status != StatusQueued {
			continue
		}
		t.Status = StatusProcessing
		t.Progress = 0
		t.Message = msgConverting
		t.StartedAt = time.Now()
		runCtx, stop := context.WithCancel(ctx)
		m.activeID = id
		m.stopRun = stop
		m.publishLocked(EventUpdated, t)
		return *t, runCtx, stop, true
	}
}

// process runs one conversion. Whatever the outcome the processing marker is
// cleared so the loop can advance.
func (m *Manager) process(ctx context.Context, t Task) {
	log := m.logger.With(zap.String("taskId", t.ID))
	log.Info("processing task", zap.String("mode", string(t.Mode)), zap.String("format", string(t.TargetFormat)))

	started := time.Now()
	out, err := m.converter.Convert(ctx, t, func(percent int) {
		m.reportProgress(t.ID, percent)
	})
	metrics.ObserveConversionDuration(time.Since(started).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = ""
	m.stopRun = nil

	cur, found := m.tasks[t.ID]
	if !found || cur.Status != StatusProcessing {
		// Canceled or removed while converting; the user's intent wins.
		log.Info("discarding result of canceled task", zap.Error(err))
		metrics.RecordConversion(string(StatusCanceled))
		return
	}

	if err != nil {
		log.Warn("task failed", zap.Error(err))
		cur.Status = StatusError
		cur.Progress = 0
		cur.Message = errorMessage(err)
		cur.CompletedAt = time.Now()
		if st := m.converter.Status(); st.LastError != "" && !st.Ready {
			m.advisory = st.LastError
		}
		metrics.RecordConversion(string(StatusError))
		m.publishLocked(EventUpdated, cur)
		return
	}

	log.Info("task completed", zap.Int("bytes", len(out.Data)))
	cur.Status = StatusCompleted
	cur.Progress = 100
	cur.Message = msgCompleted
	cur.output = out
	cur.OutputName = outputName(cur.File.Name, cur.TargetFormat)
	cur.SizeAfter = int64(len(out.Data))
	cur.CompletedAt = time.Now()
	metrics.RecordConversion(string(StatusCompleted))
	m.publishLocked(EventUpdated, cur)
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgFallback
}

func (m *Manager) reportProgress(id string, percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || m.activeID != id || t.Status != StatusProcessing {
		return
	}
	t.Progress = percent
	t.Status = StatusProcessing
	t.Message = msgConverting
	m.publishLocked(EventProgress, t)
}

// cleanupLoop periodically drops completed tasks whose output outlived
// OutputLocalLifetime.
func (m *Manager) cleanupLoop(ctx context.Context) {
	if m.cfg.OutputLocalLifetime <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("cleanup loop shutting down")
			return
		case <-ticker.C:
			m.expire(time.Now())
		}
	}
}

func (m *Manager) expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for _, id := range m.order {
		t := m.tasks[id]
		if t.Status == StatusCompleted && now.Sub(t.CompletedAt) > m.cfg.OutputLocalLifetime {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.logger.Info("releasing expired output", zap.String("taskId", id))
		m.removeLocked(id)
	}
	return len(expired)
}

func (m *Manager) AddTask(req AddRequest) (Task, error) {
	f := req.File
	if f.Size == 0 {
		f.Size = int64(len(f.Data))
	}
	if m.cfg.MaxInputSize > 0 && f.Size > m.cfg.MaxInputSize {
		return Task{}, fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrInputTooLarge, f.Size, m.cfg.MaxInputSize)
	}

	mode := req.Mode
	if mode == "" {
		mode = catalog.InferMode(f.MIME)
	}
	if !mode.Valid() {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	format := req.TargetFormat
	if format == "" {
		format = catalog.DefaultFormat(mode)
	}
	if !catalog.ValidOutput(mode, format) {
		return Task{}, fmt.Errorf("%w: %s cannot produce %s", ErrInvalidFormat, mode, format)
	}
	presetID := req.Preset
	if presetID == "" {
		presetID = catalog.DefaultPreset
	}
	preset, ok := catalog.LookupPreset(presetID)
	if !ok {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidPreset, presetID)
	}
	if err := catalog.ValidateOptions(req.Options); err != nil {
		return Task{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.QueueMode == config.QueueModeSingle && len(m.tasks) > 0 {
		return Task{}, ErrQueueFull
	}

	t := &Task{
		ID:           shortuuid.New(),
		File:         f,
		Mode:         mode,
		TargetFormat: format,
		Preset:       presetID,
		Overrides:    req.Options,
		Options:      preset.Options().Overlay(req.Options),
		Status:       StatusIdle,
		Message:      msgWaiting,
		SizeBefore:   f.Size,
		CreatedAt:    time.Now(),
	}
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	m.logger.Info("task added", zap.String("taskId", t.ID), zap.String("file", f.Name), zap.Int64("size", f.Size))
	m.publishLocked(EventAdded, t)
	return *t, nil
}

func (m *Manager) UpdateTask(id string, p Patch) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if t.Status == StatusProcessing {
		return Task{}, ErrTaskBusy
	}
	if t.Status == StatusCompleted {
		return Task{}, fmt.Errorf("%w: cannot update task in state: %s", ErrInvalidTransition, t.Status)
	}

	next := *t
	if p.Mode != nil {
		if !p.Mode.Valid() {
			return Task{}, fmt.Errorf("%w: %q", ErrInvalidMode, *p.Mode)
		}
		next.Mode = *p.Mode
	}
	if p.TargetFormat != nil {
		next.TargetFormat = *p.TargetFormat
		if !catalog.ValidOutput(next.Mode, next.TargetFormat) {
			return Task{}, fmt.Errorf("%w: %s cannot produce %s", ErrInvalidFormat, next.Mode, next.TargetFormat)
		}
	} else if !catalog.ValidOutput(next.Mode, next.TargetFormat) {
		next.TargetFormat = catalog.DefaultFormat(next.Mode)
	}
	if p.Preset != nil {
		if _, ok := catalog.LookupPreset(*p.Preset); !ok {
			return Task{}, fmt.Errorf("%w: %q", ErrInvalidPreset, *p.Preset)
		}
		next.Preset = *p.Preset
	}
	if len(p.Clear) > 0 {
		cleared, err := next.Overrides.Without(p.Clear...)
		if err != nil {
			return Task{}, err
		}
		next.Overrides = cleared
	}
	if p.Options != nil {
		if err := catalog.ValidateOptions(*p.Options); err != nil {
			return Task{}, err
		}
		next.Overrides = next.Overrides.Overlay(*p.Options)
	}
	preset, _ := catalog.LookupPreset(next.Preset)
	next.Options = preset.Options().Overlay(next.Overrides)

	*t = next
	m.publishLocked(EventUpdated, t)
	return *t, nil
}

// RemoveTask deletes a task and releases its output. A processing task is
// canceled first.
func (m *Manager) RemoveTask(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if t.Status == StatusProcessing && m.activeID == id {
		m.abortRunLocked()
	}
	m.removeLocked(id)
	m.mu.Unlock()
	return nil
}

func (m *Manager) removeLocked(id string) {
	t := m.tasks[id]
	t.output = nil
	delete(m.tasks, id)
	m.pending.remove(id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.publishLocked(EventRemoved, t)
}

// ClearQueue removes every task, canceling the active conversion if any.
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[m.activeID]; ok && t.Status == StatusProcessing {
		m.abortRunLocked()
	}
	for _, id := range append([]string(nil), m.order...) {
		m.removeLocked(id)
	}
	m.pending.reset()
}

// StartTask queues an idle, failed or canceled task. Starting a queued task
// is a no-op.
func (m *Manager) StartTask(id string) (Task, error) {
	return m.enqueue(id)
}

// RetryTask re-queues a task with its progress reset.
func (m *Manager) RetryTask(id string) (Task, error) {
	return m.enqueue(id)
}

func (m *Manager) enqueue(id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	switch t.Status {
	case StatusQueued:
		return *t, nil
	case StatusProcessing, StatusCompleted:
		return Task{}, fmt.Errorf("%w: cannot queue task in state: %s", ErrInvalidTransition, t.Status)
	}
	m.queueLocked(t)
	m.signal()
	return *t, nil
}

func (m *Manager) queueLocked(t *Task) {
	t.Status = StatusQueued
	t.Progress = 0
	t.Message = msgQueued
	m.pending.push(t.ID)
	m.publishLocked(EventUpdated, t)
}

// StartAll queues every task that is neither completed nor already queued
// or processing, in queue order. It returns the number of tasks queued.
func (m *Manager) StartAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range m.order {
		t := m.tasks[id]
		switch t.Status {
		case StatusCompleted, StatusProcessing, StatusQueued:
			continue
		}
		m.queueLocked(t)
		n++
	}
	if n > 0 {
		m.signal()
	}
	return n
}

// CancelTask marks a queued or processing task canceled. For a processing task
// the engine is terminated first; a termination failure is reported as
// a queue advisory and does not undo the cancellation.
func (m *Manager) CancelTask(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	switch t.Status {
	case StatusQueued:
		m.pending.remove(id)
	case StatusProcessing:
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel task in state: %s", ErrInvalidTransition, t.Status)
	}
	active := t.Status == StatusProcessing && m.activeID == id
	if active {
		m.abortRunLocked()
	}
	t.Status = StatusCanceled
	t.Message = msgCanceled
	m.publishLocked(EventUpdated, t)
	m.mu.Unlock()

	m.logger.Info("task canceled", zap.String("taskId", id), zap.Bool("wasProcessing", active))
	return nil
}

// abortRunLocked aborts the running conversion: the run context is canceled,
// which also stops an engine that is still loading, and the engine instance
// is terminated. m.mu must be held so the worker cannot promote the next task
// before the engine is torn down.
func (m *Manager) abortRunLocked() {
	if m.stopRun != nil {
		m.stopRun()
	}
	if err := m.converter.Cancel(); err != nil {
		m.logger.Warn("engine cancel failed", zap.Error(err))
		m.advisory = err.Error()
	}
}

// LoadEngine asks the converter to load ahead of the first conversion. A
// failure becomes the queue advisory.
func (m *Manager) LoadEngine(ctx context.Context) error {
	err := m.converter.Load(ctx)
	m.mu.Lock()
	if err != nil {
		m.advisory = err.Error()
	} else {
		m.advisory = ""
	}
	m.mu.Unlock()
	return err
}

// EngineStatus reports the engine readiness flags and the queue advisory.
func (m *Manager) EngineStatus() EngineStatus {
	st := m.converter.Status()
	m.mu.Lock()
	st.Advisory = m.advisory
	m.mu.Unlock()
	return st
}

func (m *Manager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return *t, true
	}
	return Task{}, false
}

// List returns the tasks in queue order.
func (m *Manager) List() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]Task, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, *m.tasks[id])
	}
	return list
}

// Output returns the artifact of a completed task.
func (m *Manager) Output(id string) (Task, *Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, nil, ErrNotFound
	}
	if t.Status != StatusCompleted || t.output == nil {
		return Task{}, nil, ErrNoOutput
	}
	return *t, t.output, nil
}

// Subscribe returns a channel of task events and a func that stops the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Wait blocks until the task settles or disappears, or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Task, error) {
	events, unsubscribe := m.Subscribe(64)
	defer unsubscribe()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, ok := m.Get(id)
		if !ok {
			return Task{}, ErrNotFound
		}
		if t.Status.Settled() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-events:
		case <-ticker.C:
		}
	}
}

// publishLocked fans an event out to subscribers and refreshes the status
// gauge. Callers hold m.mu.
func (m *Manager) publishLocked(typ EventType, t *Task) {
	ev := Event{Type: typ, Task: *t}
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}

	counts := make(map[string]int)
	for _, task := range m.tasks {
		counts[string(task.Status)]++
	}
	metrics.SetTaskCounts(counts)
}
