package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormats(t *testing.T) {
	assert.Equal(t, []Format{"mp3", "wav", "flac", "aac", "ogg", "m4a", "opus"}, OutputFormats(ModeAudio))
	assert.Equal(t, OutputFormats(ModeAudio), OutputFormats(ModeExtract))
	assert.Equal(t, []Format{"mp4", "webm", "mkv", "mov"}, OutputFormats(ModeVideo))

	// Callers get a copy.
	formats := OutputFormats(ModeVideo)
	formats[0] = FormatAVI
	assert.Equal(t, FormatMP4, OutputFormats(ModeVideo)[0])
}

func TestDefaultFormatIsAlwaysValid(t *testing.T) {
	for _, m := range Modes {
		assert.True(t, ValidOutput(m, DefaultFormat(m)), "mode %s", m)
	}
	assert.False(t, ValidOutput(ModeAudio, FormatMP4))
	assert.False(t, ValidOutput(ModeVideo, FormatMP3))
	assert.False(t, ValidOutput(ModeAudio, FormatOGA), "oga is input only")
}

func TestInferMode(t *testing.T) {
	assert.Equal(t, ModeVideo, InferMode("video/mp4"))
	assert.Equal(t, ModeAudio, InferMode("audio/mpeg"))
	assert.Equal(t, ModeVideo, InferMode(" Video/WebM"))
	assert.Equal(t, ModeAudio, InferMode("application/octet-stream"))
	assert.Equal(t, ModeAudio, InferMode(""))
}

func TestMIMEType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", MIMEType(FormatMP3))
	assert.Equal(t, "audio/ogg; codecs=opus", MIMEType(FormatOpus))
	assert.Equal(t, "video/x-matroska", MIMEType(FormatMKV))
	assert.Equal(t, "application/octet-stream", MIMEType("xyz"))
}

func TestPresetOptions(t *testing.T) {
	p, ok := LookupPreset(PresetBalanced)
	require.True(t, ok)

	o := p.Options()
	require.NotNil(t, o.VideoBitrate)
	require.NotNil(t, o.AudioBitrate)
	assert.Equal(t, 3500, *o.VideoBitrate)
	assert.Equal(t, 192, *o.AudioBitrate)
	assert.Equal(t, 192, *o.Bitrate)
	assert.Nil(t, o.SampleRate)
	assert.Nil(t, o.Resolution)

	_, ok = LookupPreset("ultra")
	assert.False(t, ok)
}

func TestOverlayKeepsOverrides(t *testing.T) {
	high, _ := LookupPreset(PresetHigh)
	overrides := Options{AudioBitrate: Int(96), Volume: Float(1.5)}

	merged := high.Options().Overlay(overrides)
	assert.Equal(t, 96, *merged.AudioBitrate)
	assert.Equal(t, 320, *merged.Bitrate)
	assert.Equal(t, 6000, *merged.VideoBitrate)
	assert.Equal(t, 1.5, *merged.Volume)
}

func TestWithoutDropsNamedFields(t *testing.T) {
	o := Options{TrimStart: Float(5), TrimEnd: Float(9), VBR: Bool(true)}

	cleared, err := o.Without("trimStart", "vbr")
	require.NoError(t, err)
	assert.Nil(t, cleared.TrimStart)
	assert.Nil(t, cleared.VBR)
	assert.Equal(t, 9.0, *cleared.TrimEnd)
	assert.Equal(t, 5.0, *o.TrimStart, "receiver is untouched")

	_, err = o.Without("loudness")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestValidateOptions(t *testing.T) {
	valid := Options{
		Channels:   Int(2),
		Volume:     Float(0.2),
		TrimStart:  Float(0),
		TrimEnd:    Float(12.5),
		Resolution: String("1280x720"),
	}
	assert.NoError(t, ValidateOptions(valid))
	assert.NoError(t, ValidateOptions(Options{Resolution: String(ResolutionOriginal)}))
	assert.NoError(t, ValidateOptions(Options{}))

	cases := map[string]Options{
		"channels":     {Channels: Int(6)},
		"volume low":   {Volume: Float(0.1)},
		"volume high":  {Volume: Float(2.5)},
		"trim start":   {TrimStart: Float(-1)},
		"trim end":     {TrimEnd: Float(-3)},
		"bitrate":      {Bitrate: Int(-128)},
		"resolution":   {Resolution: String("1280x720;rm")},
		"resolution 0": {Resolution: String("0x720")},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateOptions(o), ErrInvalidOptions)
		})
	}
}
