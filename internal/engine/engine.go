// Package engine implements the annotation operations: optimistic
// create, update, span-update and delete against the remote store, with
// the cache as the shared read-model. Every mutation snapshots the
// affected entry before touching it, replays the snapshot verbatim on
// remote failure, and marks the entry stale once settled.
package engine

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"textmark/internal/apperr"
	"textmark/internal/cache"
	"textmark/internal/models"
	"textmark/internal/taxonomy"
)

// Store is the slice of the remote contract the engine needs.
type Store interface {
	CreateAnnotation(ctx context.Context, req models.CreateAnnotationRequest) (*models.Annotation, error)
	UpdateAnnotation(ctx context.Context, id int64, patch models.UpdateAnnotationRequest) (*models.Annotation, error)
	DeleteAnnotation(ctx context.Context, id int64) error
	GetTextWithAnnotations(ctx context.Context, textID int64) (*models.TextWithAnnotations, error)
}

// Engine executes annotation operations for one resolved user.
type Engine struct {
	store    Store
	cache    *cache.TextCache
	types    *taxonomy.Validator
	state    *State
	identity models.Identity
	logger   *zap.Logger

	tempSeq atomic.Int64
}

func New(store Store, textCache *cache.TextCache, types *taxonomy.Validator, state *State, identity models.Identity, logger *zap.Logger) *Engine {
	e := &Engine{
		store:    store,
		cache:    textCache,
		types:    types,
		state:    state,
		identity: identity,
		logger:   logger,
	}
	// Seed with wall-clock nanos so placeholder ids do not collide
	// across engine instances or restarts.
	e.tempSeq.Store(time.Now().UnixNano())
	return e
}

// nextTempID returns a fresh negative placeholder id.
func (e *Engine) nextTempID() int64 {
	return -e.tempSeq.Add(1)
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(apperr.CodeInvalidID, "invalid %s id %q", what, raw)
	}
	return id, nil
}

// Load fetches the text with its annotations from the store and installs
// it as the authoritative cache entry.
func (e *Engine) Load(ctx context.Context, textID int64) (models.TextWithAnnotations, error) {
	data, err := e.store.GetTextWithAnnotations(ctx, textID)
	if err != nil {
		return models.TextWithAnnotations{}, err
	}
	e.cache.Put(textID, *data)
	return *data, nil
}

// Get returns the cached entry, reloading first when it is missing or
// stale.
func (e *Engine) Get(ctx context.Context, textID int64) (models.TextWithAnnotations, error) {
	if data, stale, ok := e.cache.Get(textID); ok && !stale {
		return data, nil
	}
	return e.Load(ctx, textID)
}

// Create validates the selection and type, applies an optimistic
// placeholder with a negative id, then reconciles with the server
// record or rolls the cache back.
func (e *Engine) Create(ctx context.Context, textID string, sel Selection, typ, name, level string) (*models.Annotation, error) {
	id, err := parseID(textID, "text")
	if err != nil {
		return nil, err
	}
	if !e.types.IsValidType(typ, e.state.NavigationMode(), e.state.ActiveListType()) {
		return nil, apperr.Validation(apperr.CodeInvalidType, "annotation type %q is not valid here", typ)
	}
	if !models.ValidLevel(level) {
		return nil, apperr.Validation(apperr.CodeInvalidType, "unknown level %q", level)
	}

	txn, err := e.cache.Begin(id)
	if err != nil {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", id)
	}
	entry, _, _ := e.cache.Get(id)
	selected, ok := models.CharSlice(entry.Text.Content, sel.Start, sel.End)
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidSpan, "selection [%d:%d) is out of range", sel.Start, sel.End)
	}
	if selected != sel.Text {
		return nil, apperr.Validation(apperr.CodeInvalidSpan, "selection no longer matches the text at [%d:%d)", sel.Start, sel.End)
	}

	placeholder := models.Annotation{
		ID:            e.nextTempID(),
		TextID:        id,
		Type:          typ,
		StartPosition: sel.Start,
		EndPosition:   sel.End,
		SelectedText:  sel.Text,
		Name:          name,
		Level:         level,
		AnnotatorID:   e.identity.UserID,
		CreatedAt:     time.Now(),
	}
	txn.Apply(func(data *models.TextWithAnnotations) {
		data.Annotations = append(data.Annotations, placeholder)
	})

	created, err := e.store.CreateAnnotation(ctx, models.CreateAnnotationRequest{
		TextID:        id,
		Type:          typ,
		StartPosition: sel.Start,
		EndPosition:   sel.End,
		SelectedText:  sel.Text,
		Name:          name,
		Level:         level,
	})
	if err != nil {
		txn.Rollback()
		e.logger.Warn("annotation create failed",
			zap.Int64("text_id", id),
			zap.String("type", typ),
			zap.Error(err))
		return nil, err
	}

	txn.Apply(func(data *models.TextWithAnnotations) {
		data.Annotations = removeByID(data.Annotations, placeholder.ID)
		data.Annotations = append(data.Annotations, *created)
	})
	txn.Commit()

	if !e.state.IsSelected(typ) {
		e.state.SelectType(typ)
	}
	e.logger.Info("annotation created",
		zap.Int64("text_id", id),
		zap.Int64("annotation_id", created.ID),
		zap.String("type", typ))
	return created, nil
}

// Update patches type, name or level of an annotation. Agreed
// annotations are immutable.
func (e *Engine) Update(ctx context.Context, textID, annotationID, typ string, name, level *string) (*models.Annotation, error) {
	tid, err := parseID(textID, "text")
	if err != nil {
		return nil, err
	}
	aid, err := parseID(annotationID, "annotation")
	if err != nil {
		return nil, err
	}
	if !e.types.IsValidType(typ, e.state.NavigationMode(), e.state.ActiveListType()) {
		return nil, apperr.Validation(apperr.CodeInvalidType, "annotation type %q is not valid here", typ)
	}
	if level != nil && !models.ValidLevel(*level) {
		return nil, apperr.Validation(apperr.CodeInvalidType, "unknown level %q", *level)
	}

	entry, _, ok := e.cache.Get(tid)
	if !ok {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", tid)
	}
	target, ok := findAnnotation(entry.Annotations, aid)
	if !ok {
		return nil, apperr.Validation(apperr.CodeNotFound, "annotation %d not found", aid)
	}
	if target.IsAgreed {
		return nil, apperr.Ownership(apperr.CodeAnnotationAgreed, "annotation %d is agreed upon and cannot be edited", aid)
	}

	txn, err := e.cache.Begin(tid)
	if err != nil {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", tid)
	}
	txn.Apply(func(data *models.TextWithAnnotations) {
		patchByID(data.Annotations, aid, func(a *models.Annotation) {
			a.Type = typ
			if name != nil {
				a.Name = *name
			}
			if level != nil {
				a.Level = *level
			}
		})
	})

	updated, err := e.store.UpdateAnnotation(ctx, aid, models.UpdateAnnotationRequest{
		Type:  &typ,
		Name:  name,
		Level: level,
	})
	if err != nil {
		txn.Rollback()
		e.logger.Warn("annotation update failed", zap.Int64("annotation_id", aid), zap.Error(err))
		return nil, err
	}

	txn.Apply(func(data *models.TextWithAnnotations) {
		replaceByID(data.Annotations, *updated)
	})
	txn.Commit()
	return updated, nil
}

// UpdateSpan moves a header annotation's span. The selected text is
// recomputed from the live content; a caller-supplied value is never
// trusted. Only headers may move.
func (e *Engine) UpdateSpan(ctx context.Context, textID, annotationID string, start, end int) (*models.Annotation, error) {
	tid, err := parseID(textID, "text")
	if err != nil {
		return nil, err
	}
	aid, err := parseID(annotationID, "annotation")
	if err != nil {
		return nil, err
	}

	entry, _, ok := e.cache.Get(tid)
	if !ok {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", tid)
	}
	target, ok := findAnnotation(entry.Annotations, aid)
	if !ok || target.Type != models.TypeHeader {
		return nil, apperr.Validation(apperr.CodeNotFound, "header %d not found", aid)
	}
	if target.IsAgreed {
		return nil, apperr.Ownership(apperr.CodeAnnotationAgreed, "header %d is agreed upon and cannot be moved", aid)
	}
	selected, ok := models.CharSlice(entry.Text.Content, start, end)
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidSpan, "span [%d:%d) is out of range", start, end)
	}

	txn, err := e.cache.Begin(tid)
	if err != nil {
		return nil, apperr.State(apperr.CodeNotFound, "text %d is not loaded", tid)
	}
	txn.Apply(func(data *models.TextWithAnnotations) {
		patchByID(data.Annotations, aid, func(a *models.Annotation) {
			a.StartPosition = start
			a.EndPosition = end
			a.SelectedText = selected
		})
	})

	updated, err := e.store.UpdateAnnotation(ctx, aid, models.UpdateAnnotationRequest{
		StartPosition: &start,
		EndPosition:   &end,
		SelectedText:  &selected,
	})
	if err != nil {
		txn.Rollback()
		e.logger.Warn("header span update failed", zap.Int64("annotation_id", aid), zap.Error(err))
		return nil, err
	}

	txn.Apply(func(data *models.TextWithAnnotations) {
		replaceByID(data.Annotations, *updated)
	})
	txn.Commit()
	return updated, nil
}

// Delete removes an annotation. Agreed annotations are undeletable; a
// remote failure restores the record at its original position.
func (e *Engine) Delete(ctx context.Context, textID, annotationID string) error {
	tid, err := parseID(textID, "text")
	if err != nil {
		return err
	}
	aid, err := parseID(annotationID, "annotation")
	if err != nil {
		return err
	}

	entry, _, ok := e.cache.Get(tid)
	if !ok {
		return apperr.State(apperr.CodeNotFound, "text %d is not loaded", tid)
	}
	target, ok := findAnnotation(entry.Annotations, aid)
	if !ok {
		return apperr.Validation(apperr.CodeNotFound, "annotation %d not found", aid)
	}
	if target.IsAgreed {
		return apperr.Ownership(apperr.CodeAnnotationAgreed, "annotation %d is agreed upon and cannot be deleted", aid)
	}

	txn, err := e.cache.Begin(tid)
	if err != nil {
		return apperr.State(apperr.CodeNotFound, "text %d is not loaded", tid)
	}
	txn.Apply(func(data *models.TextWithAnnotations) {
		data.Annotations = removeByID(data.Annotations, aid)
	})

	if err := e.store.DeleteAnnotation(ctx, aid); err != nil {
		txn.Rollback()
		if apperr.CodeOf(err) == apperr.CodeAnnotationAgreed {
			e.logger.Warn("delete blocked: annotation agreed upon", zap.Int64("annotation_id", aid))
		} else {
			e.logger.Warn("annotation delete failed", zap.Int64("annotation_id", aid), zap.Error(err))
		}
		return err
	}
	txn.Commit()
	e.logger.Info("annotation deleted", zap.Int64("annotation_id", aid))
	return nil
}

// StageHeader defers header creation until a name is supplied.
func (e *Engine) StageHeader(sel Selection) {
	e.state.StageHeader(sel)
}

// CommitPendingHeader creates the staged header with the supplied name.
func (e *Engine) CommitPendingHeader(ctx context.Context, textID, name string) (*models.Annotation, error) {
	sel, ok := e.state.PendingHeader()
	if !ok {
		return nil, apperr.State(apperr.CodeNotFound, "no header selection is pending")
	}
	created, err := e.Create(ctx, textID, sel, models.TypeHeader, name, "")
	if err != nil {
		return nil, err
	}
	e.state.ClearPendingHeader()
	return created, nil
}

// CancelPendingHeader discards the staged selection without touching the
// cache.
func (e *Engine) CancelPendingHeader() {
	e.state.ClearPendingHeader()
}

func findAnnotation(anns []models.Annotation, id int64) (models.Annotation, bool) {
	for _, a := range anns {
		if a.ID == id {
			return a, true
		}
	}
	return models.Annotation{}, false
}

func removeByID(anns []models.Annotation, id int64) []models.Annotation {
	out := anns[:0]
	for _, a := range anns {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

func patchByID(anns []models.Annotation, id int64, fn func(*models.Annotation)) {
	for i := range anns {
		if anns[i].ID == id {
			fn(&anns[i])
			return
		}
	}
}

func replaceByID(anns []models.Annotation, updated models.Annotation) {
	for i := range anns {
		if anns[i].ID == updated.ID {
			anns[i] = updated
			return
		}
	}
}
