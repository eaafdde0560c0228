package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// TypeHeader is the structural annotation type for table-of-contents
// entries. Headers are the only annotations whose span may be moved
// after creation.
const TypeHeader = "header"

// Annotation levels.
const (
	LevelMinor    = "minor"
	LevelMajor    = "major"
	LevelCritical = "critical"
)

// ValidLevel reports whether level is empty or one of the known levels.
func ValidLevel(level string) bool {
	switch level {
	case "", LevelMinor, LevelMajor, LevelCritical:
		return true
	}
	return false
}

// Annotation is a typed label over a contiguous character range of a
// text. Positions are 0-based character offsets into Text.Content
// (characters, not bytes); SelectedText always equals the live slice at
// those offsets. IDs are server-assigned; the client uses negative
// placeholder ids while an optimistic create is in flight.
type Annotation struct {
	ID            int64    `json:"id" db:"id"`
	TextID        int64    `json:"text_id" db:"text_id"`
	Type          string   `json:"annotation_type" db:"annotation_type"`
	StartPosition int      `json:"start_position" db:"start_position"`
	EndPosition   int      `json:"end_position" db:"end_position"`
	SelectedText  string   `json:"selected_text" db:"selected_text"`
	Name          string   `json:"name,omitempty" db:"name"`
	Level         string   `json:"level,omitempty" db:"level"`
	AnnotatorID   int64    `json:"annotator_id" db:"annotator_id"`
	IsAgreed      bool     `json:"is_agreed" db:"is_agreed"`
	Reviews       []Review `json:"reviews,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsPlaceholder reports whether the annotation is an optimistic
// client-side record that the server has not acknowledged yet.
func (a *Annotation) IsPlaceholder() bool {
	return a.ID < 0
}

// CharSlice returns the substring of content between character offsets
// [start:end), and whether the offsets are in range. Positions count
// characters, never bytes, so multi-byte content indexes the same way
// annotators see it.
func CharSlice(content string, start, end int) (string, bool) {
	if start < 0 || start >= end {
		return "", false
	}
	runes := []rune(content)
	if end > len(runes) {
		return "", false
	}
	return string(runes[start:end]), true
}

// ValidateSpan checks the span invariant against the owning text's
// content: 0 <= start < end <= character count, and the recorded
// selection equal to the live slice. A mismatch means the span is stale.
func (a *Annotation) ValidateSpan(content string) error {
	got, ok := CharSlice(content, a.StartPosition, a.EndPosition)
	if !ok {
		return fmt.Errorf("span [%d:%d) out of range for text of %d characters",
			a.StartPosition, a.EndPosition, utf8.RuneCountInString(content))
	}
	if got != a.SelectedText {
		return fmt.Errorf("selected text %q does not match content slice %q", a.SelectedText, got)
	}
	return nil
}

// CreateAnnotationRequest is the payload for creating an annotation.
type CreateAnnotationRequest struct {
	TextID        int64  `json:"text_id" binding:"required"`
	Type          string `json:"annotation_type" binding:"required"`
	StartPosition int    `json:"start_position"`
	EndPosition   int    `json:"end_position" binding:"required"`
	SelectedText  string `json:"selected_text" binding:"required"`
	Name          string `json:"name,omitempty"`
	Level         string `json:"level,omitempty"`
}

// UpdateAnnotationRequest is a partial patch; nil fields are left
// untouched. Span fields travel together with the recomputed selection.
type UpdateAnnotationRequest struct {
	Type          *string `json:"annotation_type,omitempty"`
	Name          *string `json:"name,omitempty"`
	Level         *string `json:"level,omitempty"`
	StartPosition *int    `json:"start_position,omitempty"`
	EndPosition   *int    `json:"end_position,omitempty"`
	SelectedText  *string `json:"selected_text,omitempty"`
}
