// Package filters maps a design spec onto transcoder filter stages. Nothing in
// this package touches the filesystem or spawns processes.
package filters

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"brandclip-worker-service/internal/entity"
)

// Stage names, in the only order the builder ever emits them. Geometry runs
// before color so later crops cannot undo grading, and color runs before the
// stylistic passes layered on top of it.
const (
	StageSpeed      = "speed"
	StageStabilize  = "stabilize"
	StageDenoise    = "denoise"
	StageCrop       = "crop"
	StageColorGrade = "color-grade"
	StagePresetLook = "preset-look"
	StageVignette   = "vignette"
	StageSharpen    = "sharpen"
	StageBlur       = "blur"
	StageGrain      = "grain"
	StageOverlays   = "text-overlays"

	StageAudioSpeed     = "audio-speed"
	StageAudioVolume    = "audio-volume"
	StageAudioNormalize = "audio-normalize"
)

// Stage is one filter descriptor; Filter is ready to splice into a graph.
type Stage struct {
	Name   string
	Filter string
}

// Chain is the ordered list of video and audio stages for the effects pass.
type Chain struct {
	Video []Stage
	Audio []Stage
}

func (c Chain) Empty() bool {
	return len(c.Video) == 0 && len(c.Audio) == 0
}

func (c Chain) StageNames() []string {
	names := make([]string, 0, len(c.Video)+len(c.Audio))
	for _, s := range c.Video {
		names = append(names, s.Name)
	}
	for _, s := range c.Audio {
		names = append(names, s.Name)
	}
	return names
}

// VideoGraph joins the video stages into a linear filter chain.
func (c Chain) VideoGraph() string {
	return join(c.Video)
}

func (c Chain) AudioGraph() string {
	return join(c.Audio)
}

// ComplexGraph renders a filter_complex expression labelled [v] and [a].
// withAudio must be false when the source has no audio stream.
func (c Chain) ComplexGraph(withAudio bool) string {
	var parts []string
	if len(c.Video) > 0 {
		parts = append(parts, "[0:v]"+c.VideoGraph()+"[v]")
	}
	if withAudio && len(c.Audio) > 0 {
		parts = append(parts, "[0:a]"+c.AudioGraph()+"[a]")
	}
	return strings.Join(parts, ";")
}

func join(stages []Stage) string {
	fs := make([]string, len(stages))
	for i, s := range stages {
		fs[i] = s.Filter
	}
	return strings.Join(fs, ",")
}

// ShouldApplyEffects decides whether the effects pass runs at all.
//
// This keeps the established disjunction: the pass runs when effects are
// explicitly enabled OR when any provided value deviates from neutral, even
// with the enable flag off. An explicit neutral value (brightness=100) is
// treated as provided-but-neutral and does not trigger the pass on its own.
func ShouldApplyEffects(spec *entity.DesignSpec) bool {
	return spec.Effects.EnableEffects || !Build(spec).Empty()
}

// Build returns the non-default stages for spec. Only values that are
// present and differ from neutral produce a stage.
func Build(spec *entity.DesignSpec) Chain {
	var c Chain
	e := spec.Effects

	speed := value(e.Speed, 1)
	if speed != 1 {
		c.Video = append(c.Video, Stage{StageSpeed, speedFilter(speed, e.SlowMotion)})
		c.Audio = append(c.Audio, Stage{StageAudioSpeed, Atempo(speed)})
	}
	if e.Stabilize {
		c.Video = append(c.Video, Stage{StageStabilize, "deshake"})
	}
	if e.Denoise {
		c.Video = append(c.Video, Stage{StageDenoise, "hqdn3d=4:3:6:4.5"})
	}
	if f := cropFilter(spec.AspectRatio, spec.Layout.CropPosition); f != "" {
		c.Video = append(c.Video, Stage{StageCrop, f})
	}
	if f := colorGrade(e); f != "" {
		c.Video = append(c.Video, Stage{StageColorGrade, f})
	}
	if f, ok := PresetLooks[e.FilterType]; ok {
		c.Video = append(c.Video, Stage{StagePresetLook, f})
	}
	if v := value(e.Vignette, 0); v > 0 {
		c.Video = append(c.Video, Stage{StageVignette, "vignette=angle=" + num(v/100*math.Pi/2)})
	}
	if v := value(e.Sharpen, 0); v > 0 {
		c.Video = append(c.Video, Stage{StageSharpen, "unsharp=5:5:" + num(v/100*1.5) + ":5:5:0"})
	}
	if v := value(e.Blur, 0); v > 0 {
		c.Video = append(c.Video, Stage{StageBlur, "gblur=sigma=" + num(v/100*10)})
	}
	if v := value(e.Grain, 0); v > 0 {
		c.Video = append(c.Video, Stage{StageGrain, fmt.Sprintf("noise=alls=%d:allf=t+u", int(math.Round(v/100*40)))})
	}
	if f := textOverlays(spec); f != "" {
		c.Video = append(c.Video, Stage{StageOverlays, f})
	}

	if vol := value(spec.Audio.Volume, entity.NeutralVolume); vol != entity.NeutralVolume {
		c.Audio = append(c.Audio, Stage{StageAudioVolume, VolumeFilter(vol)})
	}
	if spec.Audio.Normalize {
		c.Audio = append(c.Audio, Stage{StageAudioNormalize, "loudnorm=I=-16:TP=-1.5:LRA=11"})
	}
	return c
}

// PresetLooks are fixed parameter bundles selected by effects.filterType.
var PresetLooks = map[string]string{
	"vintage":   "curves=preset=vintage,eq=saturation=0.85",
	"vibrant":   "eq=saturation=1.4:contrast=1.1",
	"cinematic": "eq=contrast=1.15:saturation=0.9,colorbalance=rs=-0.05:bs=0.08:rh=0.08:bh=-0.05",
	"warm":      "colorbalance=rs=0.15:gs=0.05:bs=-0.15",
	"cool":      "colorbalance=rs=-0.15:gs=0.02:bs=0.15",
	"bw":        "hue=s=0",
	"sepia":     "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131",
	"dramatic":  "eq=contrast=1.35:saturation=1.15:brightness=-0.03,curves=preset=strong_contrast",
}

// VolumeFilter converts a linear 0..200 percentage into a dB gain.
func VolumeFilter(percent float64) string {
	if percent <= 0 {
		return "volume=0"
	}
	return "volume=" + num(VolumeDB(percent)) + "dB"
}

func VolumeDB(percent float64) float64 {
	return 20 * math.Log10(percent/100)
}

// Atempo chains atempo instances so each stays within its 0.5..2.0 range.
func Atempo(speed float64) string {
	var fs []string
	for speed > 2 {
		fs = append(fs, "atempo=2.0")
		speed /= 2
	}
	for speed < 0.5 {
		fs = append(fs, "atempo=0.5")
		speed /= 0.5
	}
	fs = append(fs, "atempo="+num(speed))
	return strings.Join(fs, ",")
}

func speedFilter(speed float64, interpolate bool) string {
	pts := "setpts=PTS/" + num(speed)
	if interpolate && speed < 1 {
		return "minterpolate=fps=60:mi_mode=mci:mc_mode=aobmc:vsbmc=1," + pts
	}
	return pts
}

func cropFilter(ar entity.AspectRatio, position string) string {
	w, h, ok := ar.Dimensions()
	if !ok {
		return ""
	}
	ow := fmt.Sprintf("min(iw\\,ih*%d/%d)", w, h)
	oh := fmt.Sprintf("min(ih\\,iw*%d/%d)", h, w)
	y := "(ih-oh)/2"
	switch position {
	case "top":
		y = "0"
	case "bottom":
		y = "ih-oh"
	}
	return fmt.Sprintf("crop=w='%s':h='%s':x='(iw-ow)/2':y='%s',scale=trunc(iw/2)*2:trunc(ih/2)*2", ow, oh, y)
}

func colorGrade(e entity.Effects) string {
	var fs []string

	var eq []string
	if b := value(e.Brightness, entity.NeutralBrightness); b != entity.NeutralBrightness {
		eq = append(eq, "brightness="+num((b-100)/200))
	}
	if c := value(e.Contrast, entity.NeutralContrast); c != entity.NeutralContrast {
		eq = append(eq, "contrast="+num(c/100))
	}
	if s := value(e.Saturation, entity.NeutralSaturation); s != entity.NeutralSaturation {
		eq = append(eq, "saturation="+num(s/100))
	}
	if len(eq) > 0 {
		fs = append(fs, "eq="+strings.Join(eq, ":"))
	}
	if x := value(e.Exposure, 0); x != 0 {
		fs = append(fs, "exposure=exposure="+num(x/50))
	}

	var cb []string
	if t := value(e.Temperature, 0); t != 0 {
		cb = append(cb, "rm="+num(t/100*0.3), "bm="+num(-t/100*0.3))
	}
	if t := value(e.Tint, 0); t != 0 {
		cb = append(cb, "gm="+num(-t/100*0.3))
	}
	if len(cb) > 0 {
		fs = append(fs, "colorbalance="+strings.Join(cb, ":"))
	}
	if h := value(e.Hue, 0); h != 0 {
		fs = append(fs, "hue=h="+num(h))
	}

	sh, hi := value(e.Shadows, 0), value(e.Highlights, 0)
	if sh != 0 || hi != 0 {
		fs = append(fs, fmt.Sprintf("curves=all='0/0 0.25/%s 0.75/%s 1/1'",
			num(clamp(0.25+sh/400, 0, 1)), num(clamp(0.75+hi/400, 0, 1))))
	}
	return strings.Join(fs, ",")
}

func textOverlays(spec *entity.DesignSpec) string {
	var fs []string
	for _, o := range spec.Overlays {
		y := "h*0.1"
		switch o.Position {
		case "center":
			y = "(h-text_h)/2"
		case "bottom":
			y = "h*0.8-text_h"
		}
		fs = append(fs, fmt.Sprintf(
			"drawtext=text='%s':fontsize=%d:fontcolor=%s:borderw=2:bordercolor=%s:x=(w-text_w)/2:y=%s:enable='between(t\\,%s\\,%s)'",
			EscapeText(o.Text), spec.Typography.FontSize*2, ffColor(spec.Typography.Color),
			ffColor(spec.Typography.Outline), y, num(o.Start), num(o.End)))
	}
	return strings.Join(fs, ",")
}

// EscapeText escapes a literal for use inside a quoted filter argument.
func EscapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`, `%`, `\%`, `,`, `\,`)
	return r.Replace(s)
}

func ffColor(hex string) string {
	return "0x" + strings.TrimPrefix(hex, "#")
}

func value(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
