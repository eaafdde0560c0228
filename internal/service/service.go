// Package service enforces the server side of the annotation workflow:
// span and agreed-annotation invariants, review upserts, and the task
// state machine with skip bookkeeping and next-text assignment.
package service

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"textmark/internal/apperr"
	"textmark/internal/models"
	"textmark/internal/rejections"
	"textmark/internal/repository"
	"textmark/internal/taxonomy"
)

type Service struct {
	repo       *repository.Repository
	rejections rejections.Store
	taxonomies map[string]*taxonomy.Tree
	logger     *zap.Logger
}

func New(repo *repository.Repository, rejected rejections.Store, trees []*taxonomy.Tree, logger *zap.Logger) *Service {
	byType := make(map[string]*taxonomy.Tree, len(trees))
	for _, t := range trees {
		byType[t.ListType] = t
	}
	return &Service{
		repo:       repo,
		rejections: rejected,
		taxonomies: byType,
		logger:     logger,
	}
}

// ImportText stores a new text and makes it assignable.
func (s *Service) ImportText(content, translation string) (*models.Text, error) {
	if content == "" {
		return nil, apperr.Validation(apperr.CodeInvalidSpan, "text content must not be empty")
	}
	t := &models.Text{
		Content:     content,
		Translation: translation,
		Status:      models.StatusInitialized,
	}
	if err := s.repo.ImportText(t); err != nil {
		return nil, err
	}
	s.logger.Info("text imported",
		zap.Int64("text_id", t.ID),
		zap.Int("characters", utf8.RuneCountInString(content)))
	return t, nil
}

// GetTextWithAnnotations loads a text and its annotations.
func (s *Service) GetTextWithAnnotations(textID int64) (*models.TextWithAnnotations, error) {
	text, err := s.repo.GetText(textID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "text %d not found", textID)
	}
	anns, err := s.repo.ListAnnotationsByText(textID)
	if err != nil {
		return nil, err
	}
	return &models.TextWithAnnotations{Text: *text, Annotations: anns}, nil
}

// CreateAnnotation validates the span against the live content and
// stores the annotation for the calling annotator.
func (s *Service) CreateAnnotation(who models.Identity, req models.CreateAnnotationRequest) (*models.Annotation, error) {
	text, err := s.repo.GetText(req.TextID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "text %d not found", req.TextID)
	}
	if !models.ValidLevel(req.Level) {
		return nil, apperr.Validation(apperr.CodeInvalidType, "unknown level %q", req.Level)
	}

	a := &models.Annotation{
		TextID:        req.TextID,
		Type:          req.Type,
		StartPosition: req.StartPosition,
		EndPosition:   req.EndPosition,
		SelectedText:  req.SelectedText,
		Name:          req.Name,
		Level:         req.Level,
		AnnotatorID:   who.UserID,
	}
	if err := a.ValidateSpan(text.Content); err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidSpan, "%v", err)
	}
	if err := s.repo.CreateAnnotation(a); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateAnnotation patches a non-agreed annotation. Span changes have
// the selected text recomputed from the content, never taken from the
// caller.
func (s *Service) UpdateAnnotation(who models.Identity, id int64, patch models.UpdateAnnotationRequest) (*models.Annotation, error) {
	a, err := s.repo.GetAnnotation(id)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "annotation %d not found", id)
	}
	if a.IsAgreed {
		return nil, apperr.Ownership(apperr.CodeAnnotationAgreed,
			"annotation %d is agreed upon and cannot be edited", id)
	}

	if patch.Type != nil {
		a.Type = *patch.Type
	}
	if patch.Name != nil {
		a.Name = *patch.Name
	}
	if patch.Level != nil {
		if !models.ValidLevel(*patch.Level) {
			return nil, apperr.Validation(apperr.CodeInvalidType, "unknown level %q", *patch.Level)
		}
		a.Level = *patch.Level
	}
	if patch.StartPosition != nil || patch.EndPosition != nil {
		if patch.StartPosition == nil || patch.EndPosition == nil {
			return nil, apperr.Validation(apperr.CodeInvalidSpan, "span updates need both positions")
		}
		text, err := s.repo.GetText(a.TextID)
		if err != nil {
			return nil, err
		}
		start, end := *patch.StartPosition, *patch.EndPosition
		selected, ok := models.CharSlice(text.Content, start, end)
		if !ok {
			return nil, apperr.Validation(apperr.CodeInvalidSpan, "span [%d:%d) is out of range", start, end)
		}
		a.StartPosition = start
		a.EndPosition = end
		a.SelectedText = selected
	}

	if err := s.repo.SaveAnnotation(a); err != nil {
		return nil, err
	}
	return a, nil
}

// DeleteAnnotation removes a non-agreed annotation.
func (s *Service) DeleteAnnotation(who models.Identity, id int64) error {
	a, err := s.repo.GetAnnotation(id)
	if err != nil {
		return apperr.Validation(apperr.CodeNotFound, "annotation %d not found", id)
	}
	if a.IsAgreed {
		return apperr.Ownership(apperr.CodeAnnotationAgreed,
			"annotation %d is agreed upon and cannot be deleted", id)
	}
	return s.repo.DeleteAnnotation(id)
}

// ReviewAnnotation upserts one reviewer decision and keeps the
// annotation's agreed flag in step with it.
func (s *Service) ReviewAnnotation(who models.Identity, annotationID int64, decision models.ReviewDecision) (*models.Review, error) {
	if who.Role != models.RoleReviewer && who.Role != models.RoleAdmin {
		return nil, apperr.Ownership(apperr.CodeNotOwner, "only reviewers may record decisions")
	}
	decision.AnnotationID = annotationID
	if err := decision.Validate(); err != nil {
		return nil, apperr.Validation(apperr.CodeCommentsRequired, "%v", err)
	}
	if _, err := s.repo.GetAnnotation(annotationID); err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "annotation %d not found", annotationID)
	}

	rev := &models.Review{
		AnnotationID: annotationID,
		Decision:     decision.Decision,
		Comment:      decision.Comment,
		ReviewerID:   who.UserID,
	}
	if err := s.repo.UpsertReview(rev); err != nil {
		return nil, err
	}
	if err := s.repo.SetAgreed(annotationID, decision.Decision == models.DecisionAgree); err != nil {
		return nil, err
	}
	return rev, nil
}

// SubmitReview records all decisions for a text, marks it reviewed and
// hands the reviewer the next annotated text if one is waiting.
func (s *Service) SubmitReview(ctx context.Context, who models.Identity, textID int64, decisions []models.ReviewDecision) (*models.SubmitReviewResult, error) {
	if who.Role != models.RoleReviewer && who.Role != models.RoleAdmin {
		return nil, apperr.Ownership(apperr.CodeNotOwner, "only reviewers may submit reviews")
	}
	if _, err := s.repo.GetText(textID); err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "text %d not found", textID)
	}
	anns, err := s.repo.ListAnnotationsByText(textID)
	if err != nil {
		return nil, err
	}
	if len(decisions) != len(anns) {
		return nil, apperr.State(apperr.CodeIncompleteReview,
			"review has %d decisions for %d annotations", len(decisions), len(anns))
	}
	// Decisions must cover the text's annotation set exactly: one per
	// annotation, no duplicates, none pointing at another text.
	uncovered := make(map[int64]struct{}, len(anns))
	for _, a := range anns {
		uncovered[a.ID] = struct{}{}
	}
	for _, d := range decisions {
		if _, ok := uncovered[d.AnnotationID]; !ok {
			return nil, apperr.State(apperr.CodeIncompleteReview,
				"decision targets annotation %d, which is not pending on text %d", d.AnnotationID, textID)
		}
		delete(uncovered, d.AnnotationID)
		if err := d.Validate(); err != nil {
			return nil, apperr.State(apperr.CodeCommentsRequired, "%v", err)
		}
	}

	for _, d := range decisions {
		rev := &models.Review{
			AnnotationID: d.AnnotationID,
			Decision:     d.Decision,
			Comment:      d.Comment,
			ReviewerID:   who.UserID,
		}
		if err := s.repo.UpsertReview(rev); err != nil {
			return nil, err
		}
		if err := s.repo.SetAgreed(d.AnnotationID, d.Decision == models.DecisionAgree); err != nil {
			return nil, err
		}
	}
	if err := s.repo.AssignReviewer(textID, who.UserID); err != nil {
		return nil, err
	}
	if err := s.repo.SetStatus(textID, models.StatusReviewed); err != nil {
		return nil, err
	}
	s.logger.Info("review submitted",
		zap.Int64("text_id", textID),
		zap.Int64("reviewer_id", who.UserID),
		zap.Int("decisions", len(decisions)))

	result := &models.SubmitReviewResult{Message: "review submitted"}
	if next, err := s.repo.NextForReview(who.UserID); err == nil && next != nil {
		result.NextReviewText = next
	}
	return result, nil
}

// StartWork assigns the next text the user has not skipped.
func (s *Service) StartWork(ctx context.Context, who models.Identity) (*models.TaskResult, error) {
	next, err := s.nextAssignment(ctx, who)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return &models.TaskResult{Message: "no texts available"}, nil
	}
	return &models.TaskResult{Message: "text assigned", NextText: next}, nil
}

// SubmitTask moves the text to annotated and assigns the next one.
func (s *Service) SubmitTask(ctx context.Context, who models.Identity, textID int64) (*models.TaskResult, error) {
	text, err := s.repo.GetText(textID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "text %d not found", textID)
	}
	if text.Status != models.StatusInitialized && text.Status != models.StatusInProgress {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not open for annotation", textID)
	}
	anns, err := s.repo.ListAnnotationsByText(textID)
	if err != nil {
		return nil, err
	}
	if len(anns) == 0 {
		return nil, apperr.State(apperr.CodeNoAnnotations, "text %d has no annotations", textID)
	}
	if err := s.repo.SetStatus(textID, models.StatusAnnotated); err != nil {
		return nil, err
	}
	s.logger.Info("task submitted", zap.Int64("text_id", textID), zap.Int64("annotator_id", who.UserID))

	result := &models.TaskResult{Message: "task submitted"}
	if next, err := s.nextAssignment(ctx, who); err == nil && next != nil {
		result.NextText = next
	}
	return result, nil
}

// UpdateTask acknowledges edits to an already annotated text. The
// status does not change; only the original annotator may call it.
func (s *Service) UpdateTask(who models.Identity, textID int64) (*models.TaskResult, error) {
	text, err := s.repo.GetText(textID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "text %d not found", textID)
	}
	if text.AnnotatorID != who.UserID {
		return nil, apperr.Ownership(apperr.CodeNotOwner, "text %d belongs to another annotator", textID)
	}
	if text.Status != models.StatusAnnotated && text.Status != models.StatusReviewed {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not in an updatable state", textID)
	}
	if err := s.repo.SetStatus(textID, text.Status); err != nil {
		return nil, err
	}
	return &models.TaskResult{Message: "task updated"}, nil
}

// SkipText records the rejection permanently, releases the text and
// assigns a new one.
func (s *Service) SkipText(ctx context.Context, who models.Identity, textID int64) (*models.TaskResult, error) {
	text, err := s.repo.GetText(textID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "text %d not found", textID)
	}
	if err := s.rejections.Reject(ctx, who.UserID, textID); err != nil {
		return nil, err
	}
	if text.AnnotatorID == who.UserID && text.Status == models.StatusInProgress {
		if err := s.repo.ReleaseText(textID); err != nil {
			return nil, err
		}
	}
	s.logger.Info("text skipped", zap.Int64("text_id", textID), zap.Int64("user_id", who.UserID))

	result := &models.TaskResult{Message: "text skipped"}
	if next, err := s.nextAssignment(ctx, who); err == nil && next != nil {
		result.NextText = next
	}
	return result, nil
}

// RevertWork deletes the caller's annotations on the text and releases
// it back to the pool.
func (s *Service) RevertWork(who models.Identity, textID int64) (*models.TaskResult, error) {
	text, err := s.repo.GetText(textID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeNotFound, "text %d not found", textID)
	}
	if text.AnnotatorID != who.UserID {
		return nil, apperr.Ownership(apperr.CodeNotOwner, "text %d is assigned to another annotator", textID)
	}
	if text.Status != models.StatusInProgress {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not in progress", textID)
	}
	n, err := s.repo.DeleteAnnotationsByAnnotator(textID, who.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReleaseText(textID); err != nil {
		return nil, err
	}
	s.logger.Info("work reverted",
		zap.Int64("text_id", textID),
		zap.Int64("annotator_id", who.UserID),
		zap.Int64("deleted", n))
	return &models.TaskResult{Message: fmt.Sprintf("reverted %d annotations", n)}, nil
}

// RecentActivity returns the per-text acceptance summary.
func (s *Service) RecentActivity() ([]models.TextActivity, error) {
	return s.repo.RecentActivity()
}

// Revisions returns the caller's texts needing revision.
func (s *Service) Revisions(who models.Identity) ([]models.RevisionItem, error) {
	return s.repo.RevisionTexts(who.UserID)
}

// Taxonomy returns the bundled tree for a list type.
func (s *Service) Taxonomy(listType string) (*taxonomy.Tree, error) {
	tree, ok := s.taxonomies[listType]
	if !ok {
		return nil, apperr.Validation(apperr.CodeNotFound, "no taxonomy for list type %q", listType)
	}
	return tree, nil
}

func (s *Service) nextAssignment(ctx context.Context, who models.Identity) (*models.Text, error) {
	exclude, err := s.rejections.Rejected(ctx, who.UserID)
	if err != nil {
		return nil, err
	}
	next, err := s.repo.NextAssignable(exclude)
	if err != nil || next == nil {
		return nil, err
	}
	if err := s.repo.AssignAnnotator(next.ID, who.UserID); err != nil {
		return nil, err
	}
	next.Status = models.StatusInProgress
	next.AnnotatorID = who.UserID
	return next, nil
}
