package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type AspectRatio string

const (
	AspectOriginal AspectRatio = "original"
	Aspect9x16     AspectRatio = "9:16"
	Aspect1x1      AspectRatio = "1:1"
	Aspect4x5      AspectRatio = "4:5"
	Aspect16x9     AspectRatio = "16:9"
)

// Dimensions returns the width:height ratio terms, or ok=false for original.
func (a AspectRatio) Dimensions() (w, h int, ok bool) {
	switch a {
	case Aspect9x16:
		return 9, 16, true
	case Aspect1x1:
		return 1, 1, true
	case Aspect4x5:
		return 4, 5, true
	case Aspect16x9:
		return 16, 9, true
	}
	return 0, 0, false
}

// Neutral values for the color controls expressed on a 0..200 scale.
const (
	NeutralBrightness = 100.0
	NeutralContrast   = 100.0
	NeutralSaturation = 100.0
	NeutralVolume     = 100.0
)

// DesignSpec is the versioned brand pattern a video is rendered with. It is
// produced by the design CRUD service and frozen into the video row when the
// owner confirms the edit.
type DesignSpec struct {
	Version     int               `json:"version"`
	AspectRatio AspectRatio       `json:"aspectRatio"`
	SafeAreas   SafeAreas         `json:"safeAreas"`
	Typography  Typography        `json:"typography"`
	Brand       Brand             `json:"brand"`
	Captions    Captions          `json:"captions"`
	Layout      Layout            `json:"layout"`
	Overlays    []TimedOverlay    `json:"overlays,omitempty"`
	Effects     Effects           `json:"effects"`
	Audio       AudioSettings     `json:"audio"`
	Narration   NarrationSettings `json:"narration"`
	Upload      UploadHints       `json:"upload"`
}

// SafeAreas are percentages of the frame kept free of brand elements. A nil
// side takes its default; an explicit 0 means no margin.
type SafeAreas struct {
	Top    *float64 `json:"top,omitempty"`
	Bottom *float64 `json:"bottom,omitempty"`
	Left   *float64 `json:"left,omitempty"`
	Right  *float64 `json:"right,omitempty"`
}

// Default safe-area margins, in percent.
const (
	DefaultSafeTop    = 10.0
	DefaultSafeBottom = 20.0
	DefaultSafeLeft   = 5.0
	DefaultSafeRight  = 5.0
)

// Margins returns the four margins in percent, defaults filled in.
func (a SafeAreas) Margins() (top, bottom, left, right float64) {
	return valueOr(a.Top, DefaultSafeTop), valueOr(a.Bottom, DefaultSafeBottom),
		valueOr(a.Left, DefaultSafeLeft), valueOr(a.Right, DefaultSafeRight)
}

type Typography struct {
	FontFamily string `json:"fontFamily"`
	FontSize   int    `json:"fontSize"`
	Color      string `json:"color"`
	Outline    string `json:"outlineColor"`
	Bold       bool   `json:"bold"`
}

type Brand struct {
	Watermark Watermark `json:"watermark"`
	IntroURL  string    `json:"introUrl,omitempty"`
	OutroURL  string    `json:"outroUrl,omitempty"`
}

// Watermark is the logo overlay. Size is a percentage of the frame width,
// Opacity is 0..1; an explicit 0 opacity is kept.
type Watermark struct {
	URL      string   `json:"url,omitempty"`
	Position string   `json:"position"`
	Size     *float64 `json:"size,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
}

const (
	DefaultWatermarkSize    = 15.0
	DefaultWatermarkOpacity = 0.8
)

func (w Watermark) SizePercent() float64 { return valueOr(w.Size, DefaultWatermarkSize) }

func (w Watermark) Alpha() float64 { return valueOr(w.Opacity, DefaultWatermarkOpacity) }

type Captions struct {
	Enabled         bool   `json:"enabled"`
	Position        string `json:"position"`
	MaxCharsPerLine int    `json:"maxCharsPerLine"`
	Language        string `json:"language,omitempty"`
}

// Layout controls how the source frame is fit into AspectRatio.
type Layout struct {
	CropPosition string `json:"cropPosition"`
}

type TimedOverlay struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Position string  `json:"position"`
}

// Effects holds color and stylistic adjustments. Pointer fields distinguish
// "not provided" from an explicit value, including an explicit neutral value.
type Effects struct {
	EnableEffects bool     `json:"enableEffects"`
	FilterType    string   `json:"filterType"`
	Brightness    *float64 `json:"brightness,omitempty"`
	Contrast      *float64 `json:"contrast,omitempty"`
	Saturation    *float64 `json:"saturation,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Tint          *float64 `json:"tint,omitempty"`
	Hue           *float64 `json:"hue,omitempty"`
	Exposure      *float64 `json:"exposure,omitempty"`
	Highlights    *float64 `json:"highlights,omitempty"`
	Shadows       *float64 `json:"shadows,omitempty"`
	Vignette      *float64 `json:"vignette,omitempty"`
	Sharpen       *float64 `json:"sharpen,omitempty"`
	Blur          *float64 `json:"blur,omitempty"`
	Grain         *float64 `json:"grain,omitempty"`
	Speed         *float64 `json:"speed,omitempty"`
	SlowMotion    bool     `json:"slowMotionInterpolation"`
	Stabilize     bool     `json:"stabilize"`
	Denoise       bool     `json:"denoise"`
}

type AudioSettings struct {
	Volume    *float64 `json:"volume,omitempty"`
	Normalize bool     `json:"normalize"`
}

type NarrationSettings struct {
	Enabled           bool     `json:"enabled"`
	VoiceID           string   `json:"voiceId,omitempty"`
	Language          string   `json:"language"`
	Style             string   `json:"style"`
	KeepOriginalAudio bool     `json:"keepOriginalAudio"`
	OriginalVolume    *float64 `json:"originalVolume,omitempty"`
	NarrationVolume   *float64 `json:"narrationVolume,omitempty"`
	Speed             *float64 `json:"speed,omitempty"`
}

// UploadHints are templates applied when publishing.
type UploadHints struct {
	TitleTemplate  string   `json:"titleTemplate"`
	Hashtags       []string `json:"hashtags,omitempty"`
	DisableDuet    bool     `json:"disableDuet"`
	DisableComment bool     `json:"disableComment"`
	DisableStitch  bool     `json:"disableStitch"`
	AutoPublish    bool     `json:"autoPublish"`
}

var (
	presetLooks = map[string]bool{
		"": true, "none": true, "vintage": true, "vibrant": true, "cinematic": true,
		"warm": true, "cool": true, "bw": true, "sepia": true, "dramatic": true,
	}
	placements    = map[string]bool{"top-left": true, "top-right": true, "bottom-left": true, "bottom-right": true, "center": true}
	cropPositions = map[string]bool{"center": true, "top": true, "bottom": true}
	textPositions = map[string]bool{"top": true, "center": true, "bottom": true}
)

// ParseDesignSpec decodes, defaults and validates a persisted spec document.
func ParseDesignSpec(raw []byte) (*DesignSpec, error) {
	var s DesignSpec
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDesignSpec, err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDesignSpec, err)
	}
	return &s, nil
}

// ApplyDefaults fills every optional field that was left empty.
func (s *DesignSpec) ApplyDefaults() {
	if s.Version == 0 {
		s.Version = 1
	}
	if s.AspectRatio == "" {
		s.AspectRatio = AspectOriginal
	}
	setDefault(&s.SafeAreas.Top, DefaultSafeTop)
	setDefault(&s.SafeAreas.Bottom, DefaultSafeBottom)
	setDefault(&s.SafeAreas.Left, DefaultSafeLeft)
	setDefault(&s.SafeAreas.Right, DefaultSafeRight)
	if s.Typography.FontFamily == "" {
		s.Typography.FontFamily = "Arial"
	}
	if s.Typography.FontSize == 0 {
		s.Typography.FontSize = 24
	}
	if s.Typography.Color == "" {
		s.Typography.Color = "#FFFFFF"
	}
	if s.Typography.Outline == "" {
		s.Typography.Outline = "#000000"
	}
	if s.Brand.Watermark.Position == "" {
		s.Brand.Watermark.Position = "bottom-right"
	}
	setDefault(&s.Brand.Watermark.Size, DefaultWatermarkSize)
	setDefault(&s.Brand.Watermark.Opacity, DefaultWatermarkOpacity)
	if s.Captions.Position == "" {
		s.Captions.Position = "bottom"
	}
	if s.Captions.MaxCharsPerLine == 0 {
		s.Captions.MaxCharsPerLine = 32
	}
	if s.Layout.CropPosition == "" {
		s.Layout.CropPosition = "center"
	}
	for i := range s.Overlays {
		if s.Overlays[i].Position == "" {
			s.Overlays[i].Position = "top"
		}
	}
	if s.Effects.FilterType == "" {
		s.Effects.FilterType = "none"
	}
	if s.Narration.Language == "" {
		s.Narration.Language = "en"
	}
	if s.Narration.Style == "" {
		s.Narration.Style = "engaging"
	}
	if s.Upload.TitleTemplate == "" {
		s.Upload.TitleTemplate = "{{title}}"
	}
}

func (s *DesignSpec) Validate() error {
	var errs []error
	if _, _, ok := s.AspectRatio.Dimensions(); !ok && s.AspectRatio != AspectOriginal {
		errs = append(errs, fmt.Errorf("aspectRatio %q is not supported", s.AspectRatio))
	}
	if !placements[s.Brand.Watermark.Position] {
		errs = append(errs, fmt.Errorf("brand.watermark.position %q is not supported", s.Brand.Watermark.Position))
	}
	errs = append(errs,
		checkRange("brand.watermark.size", s.Brand.Watermark.Size, 1, 100),
		checkRange("brand.watermark.opacity", s.Brand.Watermark.Opacity, 0, 1),
		checkRange("safeAreas.top", s.SafeAreas.Top, 0, 50),
		checkRange("safeAreas.bottom", s.SafeAreas.Bottom, 0, 50),
		checkRange("safeAreas.left", s.SafeAreas.Left, 0, 50),
		checkRange("safeAreas.right", s.SafeAreas.Right, 0, 50),
	)
	if !textPositions[s.Captions.Position] {
		errs = append(errs, fmt.Errorf("captions.position %q is not supported", s.Captions.Position))
	}
	if !cropPositions[s.Layout.CropPosition] {
		errs = append(errs, fmt.Errorf("layout.cropPosition %q is not supported", s.Layout.CropPosition))
	}
	for i, o := range s.Overlays {
		if strings.TrimSpace(o.Text) == "" || o.Start < 0 || o.End <= o.Start {
			errs = append(errs, fmt.Errorf("overlays[%d]: needs text and 0 <= start < end", i))
		}
		if !textPositions[o.Position] {
			errs = append(errs, fmt.Errorf("overlays[%d].position %q is not supported", i, o.Position))
		}
	}
	if !presetLooks[s.Effects.FilterType] {
		errs = append(errs, fmt.Errorf("effects.filterType %q is not supported", s.Effects.FilterType))
	}
	e := s.Effects
	errs = append(errs,
		checkRange("effects.brightness", e.Brightness, 0, 200),
		checkRange("effects.contrast", e.Contrast, 0, 200),
		checkRange("effects.saturation", e.Saturation, 0, 200),
		checkRange("effects.temperature", e.Temperature, -100, 100),
		checkRange("effects.tint", e.Tint, -100, 100),
		checkRange("effects.hue", e.Hue, -180, 180),
		checkRange("effects.exposure", e.Exposure, -100, 100),
		checkRange("effects.highlights", e.Highlights, -100, 100),
		checkRange("effects.shadows", e.Shadows, -100, 100),
		checkRange("effects.vignette", e.Vignette, 0, 100),
		checkRange("effects.sharpen", e.Sharpen, 0, 100),
		checkRange("effects.blur", e.Blur, 0, 100),
		checkRange("effects.grain", e.Grain, 0, 100),
		checkRange("effects.speed", e.Speed, 0.25, 4),
		checkRange("audio.volume", s.Audio.Volume, 0, 200),
		checkRange("narration.originalVolume", s.Narration.OriginalVolume, 0, 100),
		checkRange("narration.narrationVolume", s.Narration.NarrationVolume, 0, 200),
	)
	return errors.Join(errs...)
}

func checkRange(field string, v *float64, lo, hi float64) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%s=%v out of range [%v, %v]", field, *v, lo, hi)
	}
	return nil
}

func setDefault(p **float64, v float64) {
	if *p == nil {
		*p = &v
	}
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
