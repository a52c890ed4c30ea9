package catalog

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidOptions is returned by ValidateOptions.
var ErrInvalidOptions = errors.New("invalid options")

const (
	MinVolume = 0.2
	MaxVolume = 2.0
)

// Options is the sparse set of conversion knobs. A nil field is absent and
// never shows up in the generated command.
type Options struct {
	Bitrate      *int     `json:"bitrate,omitempty"`
	AudioBitrate *int     `json:"audioBitrate,omitempty"`
	SampleRate   *int     `json:"sampleRate,omitempty"`
	Channels     *int     `json:"channels,omitempty"`
	VideoBitrate *int     `json:"videoBitrate,omitempty"`
	FPS          *int     `json:"fps,omitempty"`
	Resolution   *string  `json:"resolution,omitempty"`
	TrimStart    *float64 `json:"trimStart,omitempty"`
	TrimEnd      *float64 `json:"trimEnd,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	VBR          *bool    `json:"vbr,omitempty"`
}

func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }

func String(v string) *string { return &v }

func Bool(v bool) *bool { return &v }

// Overlay returns o with every field that is set in over replaced by over's
// value.
func (o Options) Overlay(over Options) Options {
	out := o
	if over.Bitrate != nil {
		out.Bitrate = over.Bitrate
	}
	if over.AudioBitrate != nil {
		out.AudioBitrate = over.AudioBitrate
	}
	if over.SampleRate != nil {
		out.SampleRate = over.SampleRate
	}
	if over.Channels != nil {
		out.Channels = over.Channels
	}
	if over.VideoBitrate != nil {
		out.VideoBitrate = over.VideoBitrate
	}
	if over.FPS != nil {
		out.FPS = over.FPS
	}
	if over.Resolution != nil {
		out.Resolution = over.Resolution
	}
	if over.TrimStart != nil {
		out.TrimStart = over.TrimStart
	}
	if over.TrimEnd != nil {
		out.TrimEnd = over.TrimEnd
	}
	if over.Volume != nil {
		out.Volume = over.Volume
	}
	if over.VBR != nil {
		out.VBR = over.VBR
	}
	return out
}

// Without returns o with the named fields unset. Names are the JSON keys.
func (o Options) Without(names ...string) (Options, error) {
	out := o
	for _, name := range names {
		switch name {
		case "bitrate":
			out.Bitrate = nil
		case "audioBitrate":
			out.AudioBitrate = nil
		case "sampleRate":
			out.SampleRate = nil
		case "channels":
			out.Channels = nil
		case "videoBitrate":
			out.VideoBitrate = nil
		case "fps":
			out.FPS = nil
		case "resolution":
			out.Resolution = nil
		case "trimStart":
			out.TrimStart = nil
		case "trimEnd":
			out.TrimEnd = nil
		case "volume":
			out.Volume = nil
		case "vbr":
			out.VBR = nil
		default:
			return o, fmt.Errorf("%w: unknown option %q", ErrInvalidOptions, name)
		}
	}
	return out, nil
}

var resolutionPattern = regexp.MustCompile(`^[1-9][0-9]{0,4}x[1-9][0-9]{0,4}$`)

// ValidateOptions checks ranges of user supplied knobs.
func ValidateOptions(o Options) error {
	nonNegative := []struct {
		name string
		v    *int
	}{
		{"bitrate", o.Bitrate},
		{"audioBitrate", o.AudioBitrate},
		{"sampleRate", o.SampleRate},
		{"videoBitrate", o.VideoBitrate},
		{"fps", o.FPS},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidOptions, f.name)
		}
	}
	if o.Channels != nil && *o.Channels != 1 && *o.Channels != 2 {
		return fmt.Errorf("%w: channels must be 1 or 2", ErrInvalidOptions)
	}
	if o.Volume != nil && (*o.Volume < MinVolume || *o.Volume > MaxVolume) {
		return fmt.Errorf("%w: volume must be within [%g, %g]", ErrInvalidOptions, MinVolume, MaxVolume)
	}
	if o.TrimStart != nil && *o.TrimStart < 0 {
		return fmt.Errorf("%w: trimStart must not be negative", ErrInvalidOptions)
	}
	if o.TrimEnd != nil && *o.TrimEnd < 0 {
		return fmt.Errorf("%w: trimEnd must not be negative", ErrInvalidOptions)
	}
	if o.Resolution != nil && *o.Resolution != ResolutionOriginal && !resolutionPattern.MatchString(*o.Resolution) {
		return fmt.Errorf("%w: resolution %q is not WIDTHxHEIGHT", ErrInvalidOptions, *o.Resolution)
	}
	return nil
}
