// Package subtitles holds caption segments and their SRT encoding.
package subtitles

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/asticode/go-astisub"
)

// Segment is one timed caption.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// FromSeconds builds a segment from float second offsets, rounded to ms.
func FromSeconds(start, end float64, text string) Segment {
	return Segment{
		Start: time.Duration(start*1000+0.5) * time.Millisecond,
		End:   time.Duration(end*1000+0.5) * time.Millisecond,
		Text:  strings.TrimSpace(text),
	}
}

// JoinText concatenates segment text in order.
func JoinText(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

// WriteSRT encodes segments, wrapping each text to maxChars per line
// (0 disables wrapping). Empty segments are dropped.
func WriteSRT(w io.Writer, segs []Segment, maxChars int) error {
	subs := astisub.NewSubtitles()
	for _, s := range segs {
		if strings.TrimSpace(s.Text) == "" || s.End <= s.Start {
			continue
		}
		item := &astisub.Item{StartAt: s.Start, EndAt: s.End}
		for _, line := range Wrap(s.Text, maxChars) {
			item.Lines = append(item.Lines, astisub.Line{Items: []astisub.LineItem{{Text: line}}})
		}
		subs.Items = append(subs.Items, item)
	}
	if len(subs.Items) == 0 {
		return fmt.Errorf("no caption segments to write")
	}
	return subs.WriteToSRT(w)
}

func WriteFile(path string, segs []Segment, maxChars int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create srt: %w", err)
	}
	if err := WriteSRT(f, segs, maxChars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSRT parses an SRT document back into segments. Wrapped lines are
// rejoined with a single space.
func ReadSRT(r io.Reader) ([]Segment, error) {
	subs, err := astisub.ReadFromSRT(r)
	if err != nil {
		return nil, fmt.Errorf("parse srt: %w", err)
	}
	out := make([]Segment, 0, len(subs.Items))
	for _, it := range subs.Items {
		var lines []string
		for _, l := range it.Lines {
			var words []string
			for _, li := range l.Items {
				words = append(words, li.Text)
			}
			lines = append(lines, strings.Join(words, " "))
		}
		out = append(out, Segment{Start: it.StartAt, End: it.EndAt, Text: strings.Join(lines, " ")})
	}
	return out, nil
}

// Wrap breaks text on word boundaries into lines of at most maxChars runes.
// A single word longer than maxChars gets its own line.
func Wrap(text string, maxChars int) []string {
	words := strings.Fields(text)
	if maxChars <= 0 || len(words) == 0 {
		return []string{strings.Join(words, " ")}
	}
	var lines []string
	cur := ""
	for _, w := range words {
		switch {
		case cur == "":
			cur = w
		case len([]rune(cur))+1+len([]rune(w)) <= maxChars:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	return append(lines, cur)
}
