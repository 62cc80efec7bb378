package filters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/filters"
)

func pct(v float64) *float64 { return &v }

func TestLogoOverlay_Placement(t *testing.T) {
	safe := entity.SafeAreas{Top: pct(10), Bottom: pct(20), Left: pct(5), Right: pct(8)}
	cases := []struct {
		position string
		overlay  string
	}{
		{"top-left", "overlay=x='main_w*0.05':y='main_h*0.1'"},
		{"top-right", "overlay=x='main_w-overlay_w-main_w*0.08':y='main_h*0.1'"},
		{"bottom-left", "overlay=x='main_w*0.05':y='main_h-overlay_h-main_h*0.2'"},
		{"bottom-right", "overlay=x='main_w-overlay_w-main_w*0.08':y='main_h-overlay_h-main_h*0.2'"},
		{"center", "overlay=x='(main_w-overlay_w)/2':y='(main_h-overlay_h)/2'"},
	}
	for _, tc := range cases {
		wm := entity.Watermark{URL: "x", Position: tc.position, Size: pct(20), Opacity: pct(0.5)}
		graph := filters.LogoOverlay(wm, safe)

		assert.Contains(t, graph, tc.overlay, tc.position)
		assert.Contains(t, graph, "colorchannelmixer=aa=0.5")
		assert.Contains(t, graph, "[v]")
	}
}

func TestLogoOverlay_KeepsLogoAspect(t *testing.T) {
	wm := entity.Watermark{URL: "x", Position: "bottom-right", Size: pct(20)}
	graph := filters.LogoOverlay(wm, entity.SafeAreas{})

	// height follows the logo's own aspect, not the frame's
	assert.Contains(t, graph, "scale2ref=w='main_w*0.2':h='ow/a'")
	assert.NotContains(t, graph, "mdar")
	assert.Contains(t, graph, "colorchannelmixer=aa=0.8", "unset opacity takes the default")
	assert.Contains(t, graph, "main_w-overlay_w-main_w*0.05")
}

func TestLogoOverlay_ExplicitZeros(t *testing.T) {
	wm := entity.Watermark{URL: "x", Position: "top-left", Size: pct(10), Opacity: pct(0)}
	graph := filters.LogoOverlay(wm, entity.SafeAreas{Top: pct(0), Left: pct(0)})

	assert.Contains(t, graph, "colorchannelmixer=aa=0[logo]")
	assert.Contains(t, graph, "overlay=x='main_w*0':y='main_h*0'")
}

func TestSubtitleBurn_StyleAndEscaping(t *testing.T) {
	vf := filters.SubtitleBurn(`/tmp/a:b/captions.srt`, filters.SubtitleStyle{
		FontName: "Arial", FontSize: 24, PrimaryColor: "#FF8800", OutlineColor: "#000000", Position: "top",
	})

	assert.Contains(t, vf, `filename='/tmp/a\:b/captions.srt'`)
	assert.Contains(t, vf, "PrimaryColour=&H000088FF")
	assert.Contains(t, vf, "Alignment=8")
}

func TestSubtitleBurn_FontNameCannotSplitStyle(t *testing.T) {
	vf := filters.SubtitleBurn("/tmp/c.srt", filters.SubtitleStyle{
		FontName: "Noto Sans, Bold=1,Outline=9':x", FontSize: 24,
	})

	assert.Contains(t, vf, "force_style='FontName=Noto Sans Bold1Outline9x,FontSize=24,")
	assert.Contains(t, vf, "Outline=2,")
	assert.NotContains(t, vf, "Outline=9")

	blank := filters.SubtitleBurn("/tmp/c.srt", filters.SubtitleStyle{FontName: ",,", FontSize: 24})
	assert.Contains(t, blank, "FontName=Arial,")
}

func TestNarrationMix(t *testing.T) {
	keep := filters.NarrationMix(filters.MixOptions{KeepOriginal: true, OriginalVolume: 0.2, NarrationVolume: 1, Speed: 3})
	assert.Contains(t, keep, "[1:a]atempo=2,volume=1[narr]")
	assert.Contains(t, keep, "[0:a]volume=0.2[orig]")
	assert.Contains(t, keep, "duration=longest")

	replace := filters.NarrationMix(filters.MixOptions{NarrationVolume: 1.5, Speed: 1})
	assert.Equal(t, "[1:a]volume=1.5[aout]", replace)
}

func TestClampNarrationSpeed(t *testing.T) {
	assert.Equal(t, 0.5, filters.ClampNarrationSpeed(0.1))
	assert.Equal(t, 2.0, filters.ClampNarrationSpeed(9))
	assert.Equal(t, 1.0, filters.ClampNarrationSpeed(0))
}
