package main

import (
	"bytes"
	"strings"
	"testing"

	"ffqueue/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Status", "Count"}, [][]string{{"queued", "3"}, {"done"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "queued")
	assert.Contains(t, out, "done")
	assert.Empty(t, renderTable(nil, nil, nil))
}

func TestFormatsCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"formats"})
	require.NoError(t, cmd.Execute())

	text := out.String()
	for _, want := range []string{"audio", "video", "extract", "mp3, wav, flac", "webm", "balanced (default)", "3500k"} {
		assert.Contains(t, text, want)
	}
}

func TestConvertRequiresFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"convert"})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestNewLoadersKeepsOrder(t *testing.T) {
	cfg := &config.Config{EngineSources: []string{"./bin/ffmpeg", "ffmpeg -nostats", "https://mirror.example/ffmpeg"}}
	loaders := newLoaders(cfg, zaptest.NewLogger(t))
	require.Len(t, loaders, 3)
	names := make([]string, len(loaders))
	for i, l := range loaders {
		names[i] = l.Name()
	}
	assert.Equal(t, "./bin/ffmpeg|ffmpeg -nostats|https://mirror.example/ffmpeg", strings.Join(names, "|"))
}
