package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"ffqueue/config"

	"go.uber.org/zap"
)

// Launcher turns one engine source entry into a running Process. An entry is
// either a binary (path or PATH name) with optional prefix arguments, or an
// http(s) URL of a static ffmpeg build which is downloaded first.
type Launcher struct {
	cfg    *config.Config
	source string
	client *http.Client
	logger *zap.Logger
}

func NewLauncher(cfg *config.Config, source string, logger *zap.Logger) *Launcher {
	return &Launcher{
		cfg:    cfg,
		source: source,
		client: http.DefaultClient,
		logger: logger.With(zap.String("source", source)),
	}
}

// PrepareTempDir creates the shared temporary directory when none is
// configured and records it on cfg.
func PrepareTempDir(cfg *config.Config) (string, error) {
	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return "", fmt.Errorf("could not create temp directory: %w", err)
		}
		return cfg.TempDir, nil
	}
	dir, err := os.MkdirTemp("", "ffqueue_")
	if err != nil {
		return "", fmt.Errorf("could not create temp directory: %w", err)
	}
	cfg.TempDir = dir
	return dir, nil
}

func (l *Launcher) Name() string { return l.source }

// Launch resolves the binary, checks that it answers -version and gives it a
// fresh working directory.
func (l *Launcher) Launch(ctx context.Context) (*Process, error) {
	words, err := SplitCommand(l.source)
	if err != nil {
		return nil, err
	}

	bin := words[0]
	if isRemote(bin) {
		bin, err = l.download(ctx, bin)
		if err != nil {
			return nil, err
		}
	} else {
		bin, err = exec.LookPath(bin)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", words[0])
		}
	}

	out, err := exec.CommandContext(ctx, bin, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg at %s failed to initialize: %w", bin, err)
	}
	if !strings.Contains(string(out), "version") {
		return nil, fmt.Errorf("ffmpeg at %s returned an unexpected version banner", bin)
	}

	dir, err := os.MkdirTemp(l.cfg.TempDir, "engine_")
	if err != nil {
		return nil, fmt.Errorf("could not create engine directory: %w", err)
	}
	l.logger.Info("ffmpeg engine initialized", zap.String("bin", bin), zap.String("dir", dir))

	return &Process{
		bin:    bin,
		prefix: words[1:],
		dir:    dir,
		throttle: Throttle{
			IdleCPU:  l.cfg.ThrottleCPU,
			FreeMem:  l.cfg.ThrottleFreeMem,
			FreeDisk: l.cfg.ThrottleFreeDisk,
		},
		logger:   l.logger,
		progress: make(map[int]func(float64)),
		logs:     make(map[int]func(string)),
	}, nil
}

func isRemote(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// download fetches a remote ffmpeg build into the temp directory and marks it
// executable. The body is capped at MaxEngineDownload bytes.
func (l *Launcher) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download ffmpeg from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download ffmpeg from %s, status: %s", url, resp.Status)
	}

	tmpFile, err := os.CreateTemp(l.cfg.TempDir, "ffmpeg_bin_*")
	if err != nil {
		return "", err
	}
	cleanup := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}

	limit := l.cfg.MaxEngineDownload
	limitedReader := &io.LimitedReader{R: resp.Body, N: limit + 1}
	written, err := io.Copy(tmpFile, limitedReader)
	if err != nil {
		cleanup()
		return "", fmt.Errorf("failed to write downloaded ffmpeg: %w", err)
	}
	if written > limit {
		cleanup()
		return "", fmt.Errorf("ffmpeg download exceeds limit of %d bytes", limit)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	if err := os.Chmod(tmpFile.Name(), 0o755); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	l.logger.Info("downloaded ffmpeg build", zap.String("path", tmpFile.Name()), zap.Int64("bytes", written))
	return tmpFile.Name(), nil
}
