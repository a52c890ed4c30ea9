package catalog

type PresetID string

const (
	PresetHigh     PresetID = "high"
	PresetBalanced PresetID = "balanced"
	PresetSmall    PresetID = "small"
)

// DefaultPreset seeds new tasks that do not name one.
const DefaultPreset = PresetBalanced

type Preset struct {
	ID           PresetID `json:"id"`
	Label        string   `json:"label"`
	Description  string   `json:"description"`
	Bitrate      int      `json:"bitrate,omitempty"`
	AudioBitrate int      `json:"audioBitrate,omitempty"`
	VideoBitrate int      `json:"videoBitrate,omitempty"`
	SampleRate   int      `json:"sampleRate,omitempty"`
	Resolution   string   `json:"resolution,omitempty"`
}

var presets = []Preset{
	{
		ID:           PresetHigh,
		Label:        "High Quality",
		Description:  "Best for mastering or archiving",
		Bitrate:      320,
		AudioBitrate: 320,
		VideoBitrate: 6000,
	},
	{
		ID:           PresetBalanced,
		Label:        "Balanced",
		Description:  "Great quality with moderate size",
		Bitrate:      192,
		AudioBitrate: 192,
		VideoBitrate: 3500,
	},
	{
		ID:           PresetSmall,
		Label:        "Small File",
		Description:  "Optimized for faster transfers",
		Bitrate:      128,
		AudioBitrate: 128,
		VideoBitrate: 2000,
	},
}

// Presets returns the quality presets in display order.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// LookupPreset finds a preset by id.
func LookupPreset(id PresetID) (Preset, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// Options returns the option defaults the preset seeds. Zero-valued preset
// fields stay unset.
func (p Preset) Options() Options {
	var o Options
	if p.Bitrate > 0 {
		o.Bitrate = Int(p.Bitrate)
	}
	if p.AudioBitrate > 0 {
		o.AudioBitrate = Int(p.AudioBitrate)
	}
	if p.VideoBitrate > 0 {
		o.VideoBitrate = Int(p.VideoBitrate)
	}
	if p.SampleRate > 0 {
		o.SampleRate = Int(p.SampleRate)
	}
	if p.Resolution != "" {
		o.Resolution = String(p.Resolution)
	}
	return o
}

type ResolutionPreset struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ResolutionOriginal keeps the source frame size.
const ResolutionOriginal = "original"

var (
	ResolutionPresets = []ResolutionPreset{
		{Label: "Keep original", Value: ResolutionOriginal},
		{Label: "1080p", Value: "1920x1080"},
		{Label: "720p", Value: "1280x720"},
		{Label: "480p", Value: "854x480"},
	}
	FrameRatePresets  = []int{24, 30, 60}
	BitratePresets    = []int{128, 192, 256, 320}
	SampleRatePresets = []int{44100, 48000}
)
