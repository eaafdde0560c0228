// Package review drives the reviewer side: per-annotation agree or
// disagree decisions with debounced auto-save, and the whole-text
// submission gate.
package review

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"textmark/internal/apperr"
	"textmark/internal/models"
)

// Store is the slice of the remote contract the review engine needs.
type Store interface {
	ReviewAnnotation(ctx context.Context, annotationID int64, decision models.ReviewDecision) (*models.Review, error)
	SubmitReview(ctx context.Context, textID int64, decisions []models.ReviewDecision) (*models.SubmitReviewResult, error)
}

// SaveState is the per-annotation auto-save indicator.
type SaveState int

const (
	SaveIdle    SaveState = iota
	SavePending           // debounce timer armed, nothing sent yet
	SaveSaving            // network call in flight
	SaveSaved             // saved indicator, shown briefly
)

// Config tunes the auto-save timings. Zero values pick the defaults.
type Config struct {
	Debounce time.Duration // delay before a decision is persisted
	SavedFor time.Duration // how long the saved indicator stays up
}

const (
	defaultDebounce = 1000 * time.Millisecond
	defaultSavedFor = 2000 * time.Millisecond
)

// Engine keeps the in-memory decision map and a single-slot debounce
// timer per annotation id. A newer decision cancels an unfired timer
// outright; an already in-flight save is never cancelled, so the store's
// upsert is the final arbiter of the current value.
type Engine struct {
	store  Store
	logger *zap.Logger
	cfg    Config

	mu        sync.Mutex
	decisions map[int64]models.ReviewDecision
	timers    map[int64]*time.Timer
	states    map[int64]SaveState
	closed    bool
}

func New(store Store, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.SavedFor <= 0 {
		cfg.SavedFor = defaultSavedFor
	}
	return &Engine{
		store:     store,
		logger:    logger,
		cfg:       cfg,
		decisions: make(map[int64]models.ReviewDecision),
		timers:    make(map[int64]*time.Timer),
		states:    make(map[int64]SaveState),
	}
}

// RecordDecision updates the decision map synchronously and schedules a
// debounced save. Any previous unfired timer for the same annotation is
// replaced; the saved indicator is cleared.
func (e *Engine) RecordDecision(annotationID int64, decision, comment string) error {
	if decision != models.DecisionAgree && decision != models.DecisionDisagree {
		return apperr.Validation(apperr.CodeInvalidType, "unknown decision %q", decision)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return apperr.State(apperr.CodeNotFound, "review session is closed")
	}

	e.decisions[annotationID] = models.ReviewDecision{
		AnnotationID: annotationID,
		Decision:     decision,
		Comment:      comment,
	}
	e.states[annotationID] = SavePending

	if t, ok := e.timers[annotationID]; ok {
		t.Stop()
	}
	e.timers[annotationID] = time.AfterFunc(e.cfg.Debounce, func() {
		e.autoSave(annotationID)
	})
	return nil
}

// autoSave persists the latest decision for one annotation. Failures
// clear the indicator but keep the decision; the user retries by
// re-triggering it.
func (e *Engine) autoSave(annotationID int64) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	delete(e.timers, annotationID)
	decision, ok := e.decisions[annotationID]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.states[annotationID] = SaveSaving
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := e.store.ReviewAnnotation(ctx, annotationID, decision)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if err != nil {
		delete(e.states, annotationID)
		e.logger.Warn("review auto-save failed",
			zap.Int64("annotation_id", annotationID),
			zap.Error(err))
		return
	}
	e.states[annotationID] = SaveSaved
	time.AfterFunc(e.cfg.SavedFor, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.closed && e.states[annotationID] == SaveSaved {
			delete(e.states, annotationID)
		}
	})
}

// Decision returns the recorded decision for an annotation.
func (e *Engine) Decision(annotationID int64) (models.ReviewDecision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.decisions[annotationID]
	return d, ok
}

// DecisionCount returns how many annotations have a recorded decision.
func (e *Engine) DecisionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.decisions)
}

// SaveStateOf returns the auto-save indicator for an annotation.
func (e *Engine) SaveStateOf(annotationID int64) SaveState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[annotationID]
}

// SubmitReview submits every recorded decision for the session's text.
// It is blocked locally, without a network call, unless every annotation
// has a decision and every disagree carries a non-empty trimmed comment.
func (e *Engine) SubmitReview(ctx context.Context, session models.ReviewSession) (*models.SubmitReviewResult, error) {
	e.mu.Lock()
	decisions := make([]models.ReviewDecision, 0, len(session.Annotations))
	decided := 0
	missingComment := false
	for _, a := range session.Annotations {
		d, ok := e.decisions[a.ID]
		if !ok {
			continue
		}
		decided++
		if d.Decision == models.DecisionDisagree && strings.TrimSpace(d.Comment) == "" {
			missingComment = true
		}
		decisions = append(decisions, d)
	}
	e.mu.Unlock()

	total := session.ReviewStatus.TotalAnnotations
	if decided != total {
		return nil, apperr.State(apperr.CodeIncompleteReview,
			"every annotation needs a decision before submitting (%d of %d decided)", decided, total)
	}
	if missingComment {
		return nil, apperr.State(apperr.CodeCommentsRequired,
			"comments are required for all disagree decisions")
	}

	result, err := e.store.SubmitReview(ctx, session.Text.ID, decisions)
	if err != nil {
		e.logger.Warn("review submission failed",
			zap.Int64("text_id", session.Text.ID),
			zap.Error(err))
		return nil, err
	}
	e.logger.Info("review submitted",
		zap.Int64("text_id", session.Text.ID),
		zap.Int("decisions", len(decisions)))
	return result, nil
}

// Close cancels all pending, not-yet-fired timers so nothing saves after
// teardown. In-flight saves are not cancelled; their results are
// discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
