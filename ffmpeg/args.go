package ffmpeg

import (
	"math"
	"strconv"

	"ffqueue/catalog"
)

// VBRQuality is the fixed -q:v factor used when variable bitrate is requested.
const VBRQuality = "2"

// BuildArgs returns the complete argument list for converting input into
// output: the input, the directives derived from mode and opts, and a forced
// overwrite of output.
func BuildArgs(input, output string, mode catalog.Mode, opts catalog.Options) []string {
	args := []string{"-i", input}
	args = append(args, Directives(mode, opts)...)
	return append(args, "-y", output)
}

// Directives maps a mode and option set onto ffmpeg arguments. ffmpeg is
// order sensitive, so the order below is fixed. Absent options are omitted.
func Directives(mode catalog.Mode, opts catalog.Options) []string {
	var args []string

	if opts.TrimStart != nil {
		args = append(args, "-ss", formatNumber(*opts.TrimStart))
		if opts.TrimEnd != nil {
			args = append(args, "-t", formatNumber(math.Max(*opts.TrimEnd-*opts.TrimStart, 0)))
		}
	}
	// A zero volume counts as unset, like 1 it leaves the stream untouched.
	if opts.Volume != nil && *opts.Volume != 0 && *opts.Volume != 1 {
		args = append(args, "-filter:a", "volume="+formatNumber(*opts.Volume))
	}

	audioBitrate := opts.AudioBitrate
	if audioBitrate == nil {
		audioBitrate = opts.Bitrate
	}
	if present(audioBitrate) {
		args = append(args, "-b:a", kbps(*audioBitrate))
	}
	if present(opts.SampleRate) {
		args = append(args, "-ar", strconv.Itoa(*opts.SampleRate))
	}
	if present(opts.Channels) {
		args = append(args, "-ac", strconv.Itoa(*opts.Channels))
	}

	if mode.AudioOnly() {
		args = append(args, "-vn")
	}

	if mode == catalog.ModeVideo {
		if present(opts.VideoBitrate) {
			args = append(args, "-b:v", kbps(*opts.VideoBitrate))
		}
		if present(opts.FPS) {
			args = append(args, "-r", strconv.Itoa(*opts.FPS))
		}
		if opts.Resolution != nil && *opts.Resolution != "" && *opts.Resolution != catalog.ResolutionOriginal {
			args = append(args, "-s", *opts.Resolution)
		}
		// vbr and min/max pinning are mutually exclusive.
		if opts.VBR != nil && *opts.VBR {
			args = append(args, "-q:v", VBRQuality)
		} else if present(opts.VideoBitrate) {
			rate := kbps(*opts.VideoBitrate)
			args = append(args, "-minrate", rate, "-maxrate", rate)
		}
	}

	return args
}

func present(v *int) bool {
	return v != nil && *v > 0
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
