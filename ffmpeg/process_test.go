package ffmpeg

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"ffqueue/catalog"
	"ffqueue/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeFFmpeg doubles the input into the output and prints ffmpeg-like status
// lines. An input containing "slow" blocks, one containing "bad" fails and
// one containing "noisy" writes a status line too long to scan.
const fakeFFmpeg = `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 6.1-test"
  exit 0
fi
in=""
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift ;;
    -y) out="$2"; shift ;;
  esac
  shift
done
if grep -q slow "$in"; then
  exec sleep 30
fi
if grep -q noisy "$in"; then
  head -c 3000000 /dev/zero | tr '\0' 'a' >&2
  printf '\n' >&2
fi
if grep -q bad "$in"; then
  echo "$in: Invalid data found when processing input" >&2
  exit 1
fi
echo "  Duration: 00:00:10.00, start: 0.000000, bitrate: 128 kb/s" >&2
printf 'size=1kB time=00:00:05.00 bitrate=1kbits/s\r' >&2
printf 'size=2kB time=00:00:10.00 bitrate=1kbits/s\n' >&2
cat "$in" "$in" > "$out"
`

func writeFakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(fakeFFmpeg), 0o755))
	return path
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		TempDir:           t.TempDir(),
		MaxEngineDownload: 1 << 20,
	}
}

func testOptions() catalog.Options {
	return catalog.Options{Bitrate: catalog.Int(128)}
}

func launch(t *testing.T) *Process {
	t.Helper()
	bin := writeFakeFFmpeg(t)
	p, err := NewLauncher(testConfig(t), bin, zaptest.NewLogger(t)).Launch(context.Background())
	require.NoError(t, err)
	return p
}

func TestLaunchMissingBinary(t *testing.T) {
	l := NewLauncher(testConfig(t), "/nonexistent/ffmpeg", zaptest.NewLogger(t))
	_, err := l.Launch(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLaunchWithPrefixArgs(t *testing.T) {
	bin := writeFakeFFmpeg(t)
	p, err := NewLauncher(testConfig(t), bin+" -threads 2", zaptest.NewLogger(t)).Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"-threads", "2"}, p.prefix)
	assert.DirExists(t, p.Dir())
}

func TestLaunchFromRemoteMirror(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ffmpeg" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(fakeFFmpeg))
	}))
	defer srv.Close()

	cfg := testConfig(t)

	_, err := NewLauncher(cfg, srv.URL+"/missing", zaptest.NewLogger(t)).Launch(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	p, err := NewLauncher(cfg, srv.URL+"/ffmpeg", zaptest.NewLogger(t)).Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.TempDir, filepath.Dir(p.bin))

	cfg.MaxEngineDownload = 10
	_, err = NewLauncher(cfg, srv.URL+"/ffmpeg", zaptest.NewLogger(t)).Launch(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestProcessConvert(t *testing.T) {
	p := launch(t)
	ctx := context.Background()

	var mu sync.Mutex
	var ratios []float64
	unsubscribe := p.OnProgress(func(r float64) {
		mu.Lock()
		ratios = append(ratios, r)
		mu.Unlock()
	})
	var logLines int
	p.OnLog(func(string) { logLines++ })

	require.NoError(t, p.WriteFile(ctx, "input-t1", []byte("abc")))
	require.NoError(t, p.Exec(ctx, BuildArgs("input-t1", "output-t1.mp3", "audio", testOptions())))

	out, err := p.ReadFile(ctx, "output-t1.mp3")
	require.NoError(t, err)
	assert.Equal(t, "abcabc", string(out))

	mu.Lock()
	assert.Equal(t, []float64{0.5, 1, 1}, ratios)
	mu.Unlock()
	assert.Greater(t, logLines, 0)

	require.NoError(t, p.DeleteFile(ctx, "input-t1"))
	require.NoError(t, p.DeleteFile(ctx, "output-t1.mp3"))
	require.NoError(t, p.DeleteFile(ctx, "output-t1.mp3"), "deleting twice is harmless")
	entries, err := os.ReadDir(p.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	unsubscribe()
	require.NoError(t, p.WriteFile(ctx, "input-t2", []byte("x")))
	require.NoError(t, p.Exec(ctx, BuildArgs("input-t2", "output-t2.mp3", "audio", testOptions())))
	mu.Lock()
	assert.Len(t, ratios, 3, "unsubscribed handler must not fire")
	mu.Unlock()
}

func TestProcessExecFailure(t *testing.T) {
	p := launch(t)
	ctx := context.Background()

	require.NoError(t, p.WriteFile(ctx, "input-bad", []byte("bad")))
	err := p.Exec(ctx, BuildArgs("input-bad", "output-bad.mp3", "audio", testOptions()))
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Contains(t, err.Error(), "Invalid data found when processing input")
}

func TestProcessOverlongOutputLine(t *testing.T) {
	p := launch(t)
	ctx := context.Background()
	require.NoError(t, p.WriteFile(ctx, "input-noisy", []byte("noisy")))

	done := make(chan error, 1)
	go func() {
		done <- p.Exec(ctx, BuildArgs("input-noisy", "output-noisy.mp3", "audio", testOptions()))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("exec did not return after an overlong stderr line")
	}
	out, err := p.ReadFile(ctx, "output-noisy.mp3")
	require.NoError(t, err)
	assert.Equal(t, "noisynoisy", string(out))
}

func TestProcessRejectsUnsafeArgs(t *testing.T) {
	p := launch(t)
	err := p.Exec(context.Background(), []string{"-i", "in", "-s", "1x1;rm", "-y", "out.mp4"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed character")
}

func TestProcessTerminate(t *testing.T) {
	p := launch(t)
	ctx := context.Background()
	require.NoError(t, p.WriteFile(ctx, "input-slow", []byte("slow")))

	done := make(chan error, 1)
	go func() {
		done <- p.Exec(ctx, BuildArgs("input-slow", "output-slow.mp3", "audio", testOptions()))
	}()

	// Wait for the exec to register before terminating.
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.cancelRun != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Terminate())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(5 * time.Second):
		t.Fatal("exec did not return after terminate")
	}

	assert.NoDirExists(t, p.Dir())
	assert.ErrorIs(t, p.Terminate(), ErrTerminated, "double terminate")
	assert.ErrorIs(t, p.WriteFile(ctx, "input-x", nil), ErrTerminated)
	_, err := p.ReadFile(ctx, "output-x.mp3")
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestProcessRejectsPathTraversal(t *testing.T) {
	p := launch(t)
	err := p.WriteFile(context.Background(), "../escape", []byte("x"))
	assert.Error(t, err)
}
