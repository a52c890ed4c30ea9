// Package catalog holds the static tables the converter is driven by:
// conversion modes, the formats each mode accepts and produces, MIME types,
// quality presets and the numeric presets offered to clients.
package catalog

import "strings"

type Mode string

const (
	ModeAudio   Mode = "audio"
	ModeVideo   Mode = "video"
	ModeExtract Mode = "extract"
)

// Modes lists every conversion mode in display order.
var Modes = []Mode{ModeAudio, ModeVideo, ModeExtract}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAudio, ModeVideo, ModeExtract:
		return true
	}
	return false
}

// AudioOnly reports whether the mode drops the video stream.
func (m Mode) AudioOnly() bool {
	return m == ModeAudio || m == ModeExtract
}

type Format string

const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
	FormatAAC  Format = "aac"
	FormatOGG  Format = "ogg"
	FormatOGA  Format = "oga"
	FormatM4A  Format = "m4a"
	FormatOpus Format = "opus"
	FormatWMA  Format = "wma"
	FormatALAC Format = "alac"
	FormatAIFF Format = "aiff"

	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
	FormatMKV  Format = "mkv"
	FormatMOV  Format = "mov"
	FormatAVI  Format = "avi"
	FormatFLV  Format = "flv"
	FormatWMV  Format = "wmv"
)

var (
	AudioInputFormats = []Format{
		FormatMP3, FormatWAV, FormatFLAC, FormatAAC, FormatOGG, FormatOGA,
		FormatM4A, FormatOpus, FormatWMA, FormatALAC, FormatAIFF,
	}
	AudioOutputFormats = []Format{
		FormatMP3, FormatWAV, FormatFLAC, FormatAAC, FormatOGG, FormatM4A, FormatOpus,
	}
	VideoInputFormats = []Format{
		FormatMP4, FormatWebM, FormatMKV, FormatMOV, FormatAVI, FormatFLV, FormatWMV,
	}
	VideoOutputFormats = []Format{FormatMP4, FormatWebM, FormatMKV, FormatMOV}
)

const defaultMIME = "application/octet-stream"

var mimeByFormat = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatWAV:  "audio/wav",
	FormatFLAC: "audio/flac",
	FormatAAC:  "audio/aac",
	FormatOGG:  "audio/ogg",
	FormatOGA:  "audio/ogg",
	FormatM4A:  "audio/mp4",
	FormatOpus: "audio/ogg; codecs=opus",
	FormatWMA:  "audio/x-ms-wma",
	FormatALAC: "audio/alac",
	FormatAIFF: "audio/aiff",
	FormatMP4:  "video/mp4",
	FormatWebM: "video/webm",
	FormatMKV:  "video/x-matroska",
	FormatMOV:  "video/quicktime",
	FormatAVI:  "video/x-msvideo",
	FormatFLV:  "video/x-flv",
	FormatWMV:  "video/x-ms-wmv",
}

// OutputFormats returns the ordered set of formats a task in mode m may
// produce. The returned slice is a copy.
func OutputFormats(m Mode) []Format {
	src := AudioOutputFormats
	if m == ModeVideo {
		src = VideoOutputFormats
	}
	return append([]Format(nil), src...)
}

// InputFormats returns the container formats accepted as sources for mode m.
// Extraction reads video containers.
func InputFormats(m Mode) []Format {
	src := AudioInputFormats
	if m == ModeVideo || m == ModeExtract {
		src = VideoInputFormats
	}
	return append([]Format(nil), src...)
}

// ValidOutput reports whether f may be produced in mode m.
func ValidOutput(m Mode, f Format) bool {
	src := AudioOutputFormats
	if m == ModeVideo {
		src = VideoOutputFormats
	}
	for _, candidate := range src {
		if candidate == f {
			return true
		}
	}
	return false
}

// DefaultFormat is the target format a freshly created or re-moded task gets.
func DefaultFormat(m Mode) Format {
	if m == ModeVideo {
		return FormatMP4
	}
	return FormatMP3
}

// InferMode maps a MIME type to a conversion mode. Anything that is not
// recognisably video falls back to audio.
func InferMode(mime string) Mode {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "video/"):
		return ModeVideo
	case strings.HasPrefix(mime, "audio/"):
		return ModeAudio
	default:
		return ModeAudio
	}
}

// MIMEType returns the content type used when serving output in format f.
func MIMEType(f Format) string {
	if mt, ok := mimeByFormat[f]; ok {
		return mt
	}
	return defaultMIME
}
