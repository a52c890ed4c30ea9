package task

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"ffqueue/catalog"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCanceled   Status = "canceled"
)

// Settled reports whether a task in status s is not waiting for or
// undergoing conversion.
func (s Status) Settled() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCanceled:
		return true
	}
	return false
}

// File is the immutable source of a task.
type File struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	MIME string `json:"mime"`
	Data []byte `json:"-"`
}

// Output is a finished conversion held in memory until downloaded or
// released.
type Output struct {
	Data []byte
	MIME string
}

type Task struct {
	ID           string           `json:"id"`
	File         File             `json:"file"`
	Mode         catalog.Mode     `json:"mode"`
	TargetFormat catalog.Format   `json:"targetFormat"`
	Preset       catalog.PresetID `json:"presetId,omitempty"`
	Overrides    catalog.Options  `json:"overrides"`
	Options      catalog.Options  `json:"options"`
	Status       Status           `json:"status"`
	Progress     int              `json:"progress"`
	Message      string           `json:"message"`
	OutputName   string           `json:"outputName,omitempty"`
	SizeBefore   int64            `json:"sizeBefore"`
	SizeAfter    int64            `json:"sizeAfter,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	StartedAt    time.Time        `json:"startedAt,omitempty"`
	CompletedAt  time.Time        `json:"completedAt,omitempty"`
	output       *Output
}

// Output returns the converted artifact; it is non-nil only for completed
// tasks.
func (t Task) Output() *Output { return t.output }

// EngineStatus is the readiness of the conversion engine as seen by the
// queue, plus the latest queue-level advisory.
type EngineStatus struct {
	State     string `json:"state"`
	Ready     bool   `json:"ready"`
	Loading   bool   `json:"loading"`
	LastError string `json:"lastError,omitempty"`
	Source    string `json:"source,omitempty"`
	Advisory  string `json:"advisory,omitempty"`
}

// Converter is the engine the manager drives. Only one Convert runs at a
// time.
type Converter interface {
	Load(ctx context.Context) error
	Convert(ctx context.Context, t Task, onProgress func(percent int)) (*Output, error)
	Cancel() error
	Status() EngineStatus
}

// outputName derives the download name from the source file's base name.
func outputName(source string, format catalog.Format) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "output"
	}
	return base + "." + string(format)
}
