package models

import (
	"errors"
	"strings"
	"time"
)

var (
	errMissingComment  = errors.New("comment is required for a disagree decision")
	errUnknownDecision = errors.New("decision must be agree or disagree")
)

// Review decisions.
const (
	DecisionAgree    = "agree"
	DecisionDisagree = "disagree"
)

// Review is one reviewer's decision on one annotation. A reviewer holds
// at most one active decision per annotation; re-deciding replaces it.
// Comment is required and non-empty when the decision is disagree.
type Review struct {
	ID           int64     `json:"id" db:"id"`
	AnnotationID int64     `json:"annotation_id" db:"annotation_id"`
	Decision     string    `json:"decision" db:"decision"`
	Comment      string    `json:"comment,omitempty" db:"comment"`
	ReviewerID   int64     `json:"reviewer_id" db:"reviewer_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ReviewDecision is the wire form of a single decision inside a review
// submission.
type ReviewDecision struct {
	AnnotationID int64  `json:"annotation_id"`
	Decision     string `json:"decision"`
	Comment      string `json:"comment,omitempty"`
}

// Validate checks the decision value and the disagree-comment rule.
func (d ReviewDecision) Validate() error {
	switch d.Decision {
	case DecisionAgree:
		return nil
	case DecisionDisagree:
		if strings.TrimSpace(d.Comment) == "" {
			return errMissingComment
		}
		return nil
	}
	return errUnknownDecision
}

// ReviewStatus summarizes review progress over a text's annotations.
type ReviewStatus struct {
	TotalAnnotations    int  `json:"total_annotations"`
	ReviewedAnnotations int  `json:"reviewed_annotations"`
	PendingAnnotations  int  `json:"pending_annotations"`
	IsComplete          bool `json:"is_complete"`
}

// ReviewSession is the read-model driving the review flow: a text, its
// annotations (reviews attached), and the progress tuple. It is derived,
// never persisted.
type ReviewSession struct {
	Text         Text         `json:"text"`
	Annotations  []Annotation `json:"annotations"`
	ReviewStatus ReviewStatus `json:"review_status"`
}

// SubmitReviewRequest is the payload of a whole-text review submission.
type SubmitReviewRequest struct {
	Decisions []ReviewDecision `json:"decisions" binding:"required"`
}

// SubmitReviewResult is the server's answer to a review submission.
type SubmitReviewResult struct {
	Message        string `json:"message"`
	NextReviewText *Text  `json:"next_review_text,omitempty"`
}
