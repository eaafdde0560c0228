package review

import (
	"sort"

	"textmark/internal/models"
)

// Segment is one run of the projected text: either plain content or the
// span of a single annotation.
type Segment struct {
	Text       string
	Annotation *models.Annotation
}

// Segments projects the annotations onto the content as alternating
// plain and annotated runs, sorted ascending by start position.
// Positions count characters, not bytes. Overlapping spans are not
// resolved specially: the first annotation by start position wins and
// later spans that begin inside an already consumed range are dropped
// from the projection. Spans that fall outside the content are skipped.
func Segments(content string, anns []models.Annotation) []Segment {
	sorted := append([]models.Annotation(nil), anns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartPosition < sorted[j].StartPosition
	})

	runes := []rune(content)
	var out []Segment
	cursor := 0
	for i := range sorted {
		a := sorted[i]
		if a.StartPosition < cursor || a.StartPosition >= a.EndPosition || a.EndPosition > len(runes) {
			continue
		}
		if a.StartPosition > cursor {
			out = append(out, Segment{Text: string(runes[cursor:a.StartPosition])})
		}
		out = append(out, Segment{Text: string(runes[a.StartPosition:a.EndPosition]), Annotation: &sorted[i]})
		cursor = a.EndPosition
	}
	if cursor < len(runes) {
		out = append(out, Segment{Text: string(runes[cursor:])})
	}
	return out
}
