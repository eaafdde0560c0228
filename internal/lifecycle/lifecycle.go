// Package lifecycle orchestrates the task workflow over a text: submit,
// skip, revert, re-submit after edits, and bulk undo of the caller's own
// annotations. Preconditions are checked against the cached annotation
// set and the resolved identity before any call leaves the process.
package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"textmark/internal/apperr"
	"textmark/internal/cache"
	"textmark/internal/models"
)

// Store is the slice of the remote contract the controller needs.
type Store interface {
	StartWork(ctx context.Context) (*models.TaskResult, error)
	SubmitTask(ctx context.Context, textID int64) (*models.TaskResult, error)
	SkipText(ctx context.Context, textID int64) (*models.TaskResult, error)
	RevertWork(ctx context.Context, textID int64) (*models.TaskResult, error)
	UpdateTask(ctx context.Context, textID int64) (*models.TaskResult, error)
	DeleteAnnotation(ctx context.Context, id int64) error
}

// Controller gates task transitions for one resolved user.
type Controller struct {
	store    Store
	cache    *cache.TextCache
	identity models.Identity
	logger   *zap.Logger
}

func New(store Store, textCache *cache.TextCache, identity models.Identity, logger *zap.Logger) *Controller {
	return &Controller{store: store, cache: textCache, identity: identity, logger: logger}
}

// StartWork asks the store for the next assignable text.
func (c *Controller) StartWork(ctx context.Context) (*models.TaskResult, error) {
	return c.store.StartWork(ctx)
}

// SubmitTask moves the text to annotated. At least one annotation must
// exist; the store answers with the next assignable text when it has
// one, and the caller navigates there or to a neutral landing page.
func (c *Controller) SubmitTask(ctx context.Context, textID int64) (*models.TaskResult, error) {
	data, _, ok := c.cache.Get(textID)
	if !ok {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", textID)
	}
	if len(data.Annotations) == 0 {
		return nil, apperr.State(apperr.CodeNoAnnotations, "add at least one annotation before submitting")
	}
	result, err := c.store.SubmitTask(ctx, textID)
	if err != nil {
		return nil, err
	}
	c.cache.MarkStale(textID)
	c.logger.Info("task submitted", zap.Int64("text_id", textID))
	return result, nil
}

// UpdateTask re-submits an annotated or reviewed text after edits. Only
// the original annotator may do this; the status does not change.
func (c *Controller) UpdateTask(ctx context.Context, textID int64) (*models.TaskResult, error) {
	data, _, ok := c.cache.Get(textID)
	if !ok {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", textID)
	}
	if data.Text.AnnotatorID != c.identity.UserID {
		return nil, apperr.Ownership(apperr.CodeNotOwner, "text %d belongs to another annotator", textID)
	}
	if data.Text.Status != models.StatusAnnotated && data.Text.Status != models.StatusReviewed {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not in an updatable state", textID)
	}
	result, err := c.store.UpdateTask(ctx, textID)
	if err != nil {
		return nil, err
	}
	c.cache.MarkStale(textID)
	return result, nil
}

// SkipText rejects the text for this user permanently; the store never
// reassigns it to the same user and returns a fresh assignment.
func (c *Controller) SkipText(ctx context.Context, textID int64) (*models.TaskResult, error) {
	result, err := c.store.SkipText(ctx, textID)
	if err != nil {
		return nil, err
	}
	c.cache.Remove(textID)
	c.logger.Info("text skipped", zap.Int64("text_id", textID))
	return result, nil
}

// RevertWork deletes all of the caller's annotations server-side and
// releases the text to other annotators. Only the assigned annotator may
// revert.
func (c *Controller) RevertWork(ctx context.Context, textID int64) (*models.TaskResult, error) {
	data, _, ok := c.cache.Get(textID)
	if !ok {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", textID)
	}
	if data.Text.AnnotatorID != c.identity.UserID {
		return nil, apperr.Ownership(apperr.CodeNotOwner, "text %d is assigned to another annotator", textID)
	}
	result, err := c.store.RevertWork(ctx, textID)
	if err != nil {
		return nil, err
	}
	c.cache.Remove(textID)
	c.logger.Info("work reverted", zap.Int64("text_id", textID))
	return result, nil
}

// UndoOwnAnnotations deletes only the annotations owned by the current
// user, one delete call per annotation. Others' annotations are left
// untouched.
func (c *Controller) UndoOwnAnnotations(ctx context.Context, textID int64) error {
	data, _, ok := c.cache.Get(textID)
	if !ok {
		return apperr.State(apperr.CodeNotFound, "text %d is not loaded", textID)
	}
	var own []int64
	for _, a := range data.Annotations {
		if a.AnnotatorID == c.identity.UserID {
			own = append(own, a.ID)
		}
	}
	if len(own) == 0 {
		return apperr.State(apperr.CodeNoAnnotations, "no own annotations to undo on text %d", textID)
	}

	txn, err := c.cache.Begin(textID)
	if err != nil {
		return apperr.State(apperr.CodeNotFound, "text %d is not loaded", textID)
	}
	var firstErr error
	for _, id := range own {
		if err := c.store.DeleteAnnotation(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("undo: delete failed", zap.Int64("annotation_id", id), zap.Error(err))
			continue
		}
		annID := id
		txn.Apply(func(d *models.TextWithAnnotations) {
			kept := d.Annotations[:0]
			for _, a := range d.Annotations {
				if a.ID != annID {
					kept = append(kept, a)
				}
			}
			d.Annotations = kept
		})
	}
	txn.Commit()
	if firstErr != nil {
		return firstErr
	}
	c.logger.Info("own annotations undone",
		zap.Int64("text_id", textID),
		zap.Int("count", len(own)))
	return nil
}

// CancelWorkWithRevertAndSkip composes revert-then-skip as one action.
// Revert must complete before skip is issued: skip requires the text to
// no longer be in progress for this user.
func (c *Controller) CancelWorkWithRevertAndSkip(ctx context.Context, textID int64) (*models.TaskResult, error) {
	if _, err := c.RevertWork(ctx, textID); err != nil {
		return nil, err
	}
	return c.SkipText(ctx, textID)
}

// ReadOnly reports whether the text must be rendered read-only: its data
// has not loaded yet, or the recent-activity feed says every annotation
// is reviewer-agreed.
func (c *Controller) ReadOnly(textID int64, activity []models.TextActivity) bool {
	if _, _, ok := c.cache.Get(textID); !ok {
		return true
	}
	for _, row := range activity {
		if row.TextID == textID {
			return row.AllAccepted
		}
	}
	return false
}
