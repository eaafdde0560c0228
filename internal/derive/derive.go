// Package derive holds the pure derived-state calculators: acceptance
// aggregation, revision detection and review progress. Everything here
// is a function over domain slices with no side effects.
package derive

import "textmark/internal/models"

// AllAccepted reports whether every annotation of a text is
// reviewer-agreed. A text with zero annotations is never all-accepted:
// an empty set must not unlock a false "fully reviewed" state.
func AllAccepted(anns []models.Annotation) bool {
	if len(anns) == 0 {
		return false
	}
	for _, a := range anns {
		if !a.IsAgreed {
			return false
		}
	}
	return true
}

// NeedsRevision reports whether the annotation set carries at least one
// disagree decision.
func NeedsRevision(anns []models.Annotation) bool {
	for _, a := range anns {
		for _, r := range a.Reviews {
			if r.Decision == models.DecisionDisagree {
				return true
			}
		}
	}
	return false
}

// DisagreeComments aggregates the comments of all disagree decisions, in
// annotation order.
func DisagreeComments(anns []models.Annotation) []string {
	var out []string
	for _, a := range anns {
		for _, r := range a.Reviews {
			if r.Decision == models.DecisionDisagree && r.Comment != "" {
				out = append(out, r.Comment)
			}
		}
	}
	return out
}

// ReviewStatusOf computes the progress tuple for one reviewer over an
// annotation set: an annotation counts as reviewed once that reviewer
// holds a decision on it.
func ReviewStatusOf(anns []models.Annotation, reviewerID int64) models.ReviewStatus {
	reviewed := 0
	for _, a := range anns {
		for _, r := range a.Reviews {
			if r.ReviewerID == reviewerID {
				reviewed++
				break
			}
		}
	}
	total := len(anns)
	return models.ReviewStatus{
		TotalAnnotations:    total,
		ReviewedAnnotations: reviewed,
		PendingAnnotations:  total - reviewed,
		IsComplete:          reviewed == total,
	}
}

// Session builds the review read-model for one reviewer from a cached
// text entry.
func Session(data models.TextWithAnnotations, reviewerID int64) models.ReviewSession {
	return models.ReviewSession{
		Text:         data.Text,
		Annotations:  data.Annotations,
		ReviewStatus: ReviewStatusOf(data.Annotations, reviewerID),
	}
}
