package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPresetName is the rendition delivery serves for a video.
const DefaultPresetName = "default"

// Preset describes one rendition produced per transcode.
type Preset struct {
	Name         string
	Container    string
	VideoCodec   string
	AudioCodec   string
	VideoBitrate string
	AudioBitrate string
	PixelFormat  string
	FrameRate    string
	Filters      []string
	ExtraArgs    []string
}

// Filename is the name of the file the preset writes.
func (p Preset) Filename() string {
	container := p.Container
	if container == "" {
		container = "mp4"
	}
	return p.Name + "." + container
}

// Args returns the ffmpeg output arguments encoded by the preset.
func (p Preset) Args() []string {
	args := make([]string, 0, 12+len(p.ExtraArgs))
	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.AudioCodec != "" {
		args = append(args, "-c:a", p.AudioCodec)
	}
	if p.VideoBitrate != "" {
		args = append(args, "-b:v", p.VideoBitrate)
	}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	if p.PixelFormat != "" {
		args = append(args, "-pix_fmt", p.PixelFormat)
	}
	if p.FrameRate != "" {
		args = append(args, "-r", p.FrameRate)
	}
	if len(p.Filters) > 0 {
		args = append(args, "-vf", strings.Join(p.Filters, ","))
	}
	args = append(args, p.ExtraArgs...)
	return args
}

// PresetLibrary stores named presets.
type PresetLibrary struct {
	presets map[string]Preset
}

// NewPresetLibrary constructs a library from a map of presets.
func NewPresetLibrary(m map[string]Preset) *PresetLibrary {
	cp := make(map[string]Preset, len(m))
	for k, v := range m {
		v.Name = k
		cp[k] = v
	}
	return &PresetLibrary{presets: cp}
}

// DefaultPresetLibrary holds a single web-friendly H.264 MP4 rendition.
func DefaultPresetLibrary() *PresetLibrary {
	return NewPresetLibrary(map[string]Preset{
		DefaultPresetName: {
			Container:    "mp4",
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			AudioBitrate: "128k",
			PixelFormat:  "yuv420p",
			Filters:      []string{"scale=trunc(iw/2)*2:trunc(ih/2)*2"},
			ExtraArgs:    []string{"-preset", "medium", "-crf", "23", "-movflags", "+faststart"},
		},
	})
}

// Get retrieves a preset by name.
func (l *PresetLibrary) Get(name string) (Preset, bool) {
	if l == nil {
		return Preset{}, false
	}
	preset, ok := l.presets[name]
	return preset, ok
}

// Presets returns every preset ordered by name.
func (l *PresetLibrary) Presets() []Preset {
	if l == nil {
		return nil
	}
	out := make([]Preset, 0, len(l.presets))
	for _, p := range l.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadPresetFile reads presets from a YAML file on disk.
func LoadPresetFile(path string) (*PresetLibrary, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load preset file: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes a YAML preset document. The document must define the
// default preset.
func ParsePresets(data []byte) (*PresetLibrary, error) {
	type rawPreset struct {
		Container    string   `yaml:"container"`
		VideoCodec   string   `yaml:"video_codec"`
		AudioCodec   string   `yaml:"audio_codec"`
		VideoBitrate string   `yaml:"video_bitrate"`
		AudioBitrate string   `yaml:"audio_bitrate"`
		PixelFormat  string   `yaml:"pixel_format"`
		FrameRate    string   `yaml:"frame_rate"`
		Filters      []string `yaml:"filters"`
		ExtraArgs    []string `yaml:"extra_args"`
	}
	var payload struct {
		Presets map[string]rawPreset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse preset file: %w", err)
	}
	if _, ok := payload.Presets[DefaultPresetName]; !ok {
		return nil, fmt.Errorf("preset file must define %q", DefaultPresetName)
	}
	presets := make(map[string]Preset, len(payload.Presets))
	for name, rp := range payload.Presets {
		if strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("invalid preset name %q", name)
		}
		presets[name] = Preset{
			Name:         name,
			Container:    rp.Container,
			VideoCodec:   rp.VideoCodec,
			AudioCodec:   rp.AudioCodec,
			VideoBitrate: rp.VideoBitrate,
			AudioBitrate: rp.AudioBitrate,
			PixelFormat:  rp.PixelFormat,
			FrameRate:    rp.FrameRate,
			Filters:      append([]string(nil), rp.Filters...),
			ExtraArgs:    append([]string(nil), rp.ExtraArgs...),
		}
	}
	return NewPresetLibrary(presets), nil
}
