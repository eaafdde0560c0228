package models

import "time"

// TextStatus tracks where a text sits in the annotation workflow.
type TextStatus string

const (
	StatusDraft       TextStatus = "draft"
	StatusInitialized TextStatus = "initialized"
	StatusInProgress  TextStatus = "in_progress"
	StatusAnnotated   TextStatus = "annotated"
	StatusReviewed    TextStatus = "reviewed"
	StatusPublished   TextStatus = "published"
)

// Text is the unit of annotator work. Content is immutable after import;
// only Status, AnnotatorID and ReviewerID change, and only through the
// task workflow.
type Text struct {
	ID          int64      `json:"id" db:"id"`
	Content     string     `json:"content" db:"content"`
	Translation string     `json:"translation,omitempty" db:"translation"`
	Status      TextStatus `json:"status" db:"status"`
	AnnotatorID int64      `json:"annotator_id" db:"annotator_id"`
	ReviewerID  *int64     `json:"reviewer_id,omitempty" db:"reviewer_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// TextWithAnnotations is the read-model the cache holds per text.
type TextWithAnnotations struct {
	Text        Text         `json:"text"`
	Annotations []Annotation `json:"annotations"`
}

// TaskResult is returned by task workflow transitions. NextText is the
// next assignable text when the server found one.
type TaskResult struct {
	Message  string `json:"message"`
	NextText *Text  `json:"next_text,omitempty"`
}

// TextActivity is one row of the recent-activity feed. AllAccepted is
// true only when the text has at least one annotation and every one of
// them is reviewer-agreed.
type TextActivity struct {
	TextID          int64     `json:"text_id"`
	Status          TextStatus `json:"status"`
	AnnotationCount int       `json:"annotation_count"`
	AllAccepted     bool      `json:"all_accepted"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RevisionItem is one row of the needs-revision list: a text that has
// disagree decisions, with the reviewers' comments aggregated.
type RevisionItem struct {
	TextID           int64    `json:"text_id"`
	DisagreeComments []string `json:"disagree_comments"`
}
