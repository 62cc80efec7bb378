package filters

import (
	"fmt"
	"math"
	"strings"

	"brandclip-worker-service/internal/entity"
)

// LogoOverlay builds the filter_complex for the logo pass. Input 0 is the
// video, input 1 the logo image; the result is labelled [v].
// Each edge the logo is anchored to keeps its own safe-area margin.
func LogoOverlay(w entity.Watermark, safe entity.SafeAreas) string {
	top, bottom, left, right := safe.Margins()
	marginX := func(pct float64) string { return fmt.Sprintf("main_w*%s", num(pct/100)) }
	marginY := func(pct float64) string { return fmt.Sprintf("main_h*%s", num(pct/100)) }

	x, y := "main_w-overlay_w-"+marginX(right), "main_h-overlay_h-"+marginY(bottom)
	switch w.Position {
	case "top-left":
		x, y = marginX(left), marginY(top)
	case "top-right":
		y = marginY(top)
	case "bottom-left":
		x = marginX(left)
	case "center":
		x, y = "(main_w-overlay_w)/2", "(main_h-overlay_h)/2"
	}

	// scale2ref: main_* is the reference frame, a is the logo's own aspect.
	return strings.Join([]string{
		fmt.Sprintf("[1:v]format=rgba,colorchannelmixer=aa=%s[logo]", num(w.Alpha())),
		fmt.Sprintf("[logo][0:v]scale2ref=w='main_w*%s':h='ow/a'[logo2][base]", num(w.SizePercent()/100)),
		fmt.Sprintf("[base][logo2]overlay=x='%s':y='%s':format=auto[v]", x, y),
	}, ";")
}

// SubtitleStyle is the ASS force_style subset used for burned-in captions.
type SubtitleStyle struct {
	FontName     string
	FontSize     int
	PrimaryColor string
	OutlineColor string
	Bold         bool
	Position     string
	MarginV      int
}

func StyleFromSpec(spec *entity.DesignSpec) SubtitleStyle {
	_, bottom, _, _ := spec.SafeAreas.Margins()
	return SubtitleStyle{
		FontName:     spec.Typography.FontFamily,
		FontSize:     spec.Typography.FontSize,
		PrimaryColor: spec.Typography.Color,
		OutlineColor: spec.Typography.Outline,
		Bold:         spec.Typography.Bold,
		Position:     spec.Captions.Position,
		MarginV:      int(math.Round(bottom)),
	}
}

// SubtitleBurn builds the -vf argument burning srtPath into the frame.
func SubtitleBurn(srtPath string, st SubtitleStyle) string {
	alignment := 2
	switch st.Position {
	case "center":
		alignment = 5
	case "top":
		alignment = 8
	}
	bold := 0
	if st.Bold {
		bold = 1
	}
	style := fmt.Sprintf(
		"FontName=%s,FontSize=%d,PrimaryColour=%s,OutlineColour=%s,Bold=%d,BorderStyle=1,Outline=2,Shadow=0,Alignment=%d,MarginV=%d",
		fontName(st.FontName), st.FontSize, assColor(st.PrimaryColor), assColor(st.OutlineColor), bold, alignment, st.MarginV)
	return fmt.Sprintf("subtitles=filename='%s':force_style='%s'", escapePath(srtPath), style)
}

// MixOptions controls how narration is combined with the source audio.
// Volumes are linear multipliers; Speed is clamped to [0.5, 2.0].
type MixOptions struct {
	KeepOriginal    bool
	OriginalVolume  float64
	NarrationVolume float64
	Speed           float64
}

// ClampNarrationSpeed bounds the narration time-stretch factor.
func ClampNarrationSpeed(s float64) float64 {
	if s == 0 {
		return 1
	}
	return clamp(s, 0.5, 2.0)
}

// NarrationMix builds the filter_complex for the mix pass. Input 0 is the
// video with its original audio, input 1 the synthesized narration; the
// result is labelled [aout].
func NarrationMix(o MixOptions) string {
	speed := ClampNarrationSpeed(o.Speed)
	narr := "[1:a]"
	if speed != 1 {
		narr += Atempo(speed) + ","
	}
	narr += "volume=" + num(o.NarrationVolume)

	if !o.KeepOriginal {
		return narr + "[aout]"
	}
	return strings.Join([]string{
		narr + "[narr]",
		"[0:a]volume=" + num(o.OriginalVolume) + "[orig]",
		"[orig][narr]amix=inputs=2:duration=longest:dropout_transition=0:normalize=0[aout]",
	}, ";")
}

// assColor converts #RRGGBB into the &HAABBGGRR form ASS expects.
func assColor(hex string) string {
	h := strings.TrimPrefix(hex, "#")
	if len(h) != 6 {
		return "&H00FFFFFF"
	}
	return "&H00" + strings.ToUpper(h[4:6]+h[2:4]+h[0:2])
}

// fontName drops the characters that would end the force_style value or
// split it into extra key=value pairs; the filter has no escape for them.
func fontName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ',', '\'', ':', '=', '\\', ';', '[', ']':
			return -1
		}
		return r
	}, name)
	if name = strings.TrimSpace(name); name == "" {
		return "Arial"
	}
	return name
}

func escapePath(p string) string {
	r := strings.NewReplacer(`\`, `/`, `:`, `\:`, `'`, `\'`)
	return r.Replace(p)
}
