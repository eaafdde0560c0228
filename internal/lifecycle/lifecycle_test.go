package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"textmark/internal/apperr"
	"textmark/internal/cache"
	"textmark/internal/models"
)

type fakeStore struct {
	startCalls  int
	submitCalls []int64
	skipCalls   []int64
	revertCalls []int64
	updateCalls []int64
	deleteCalls []int64

	revertErr error
	skipErr   error
	deleteFn  func(id int64) error
}

func (f *fakeStore) StartWork(context.Context) (*models.TaskResult, error) {
	f.startCalls++
	return &models.TaskResult{Message: "assigned", NextText: &models.Text{ID: 8}}, nil
}

func (f *fakeStore) SubmitTask(_ context.Context, textID int64) (*models.TaskResult, error) {
	f.submitCalls = append(f.submitCalls, textID)
	return &models.TaskResult{Message: "submitted", NextText: &models.Text{ID: 8}}, nil
}

func (f *fakeStore) SkipText(_ context.Context, textID int64) (*models.TaskResult, error) {
	f.skipCalls = append(f.skipCalls, textID)
	if f.skipErr != nil {
		return nil, f.skipErr
	}
	return &models.TaskResult{Message: "skipped"}, nil
}

func (f *fakeStore) RevertWork(_ context.Context, textID int64) (*models.TaskResult, error) {
	f.revertCalls = append(f.revertCalls, textID)
	if f.revertErr != nil {
		return nil, f.revertErr
	}
	return &models.TaskResult{Message: "reverted"}, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, textID int64) (*models.TaskResult, error) {
	f.updateCalls = append(f.updateCalls, textID)
	return &models.TaskResult{Message: "updated"}, nil
}

func (f *fakeStore) DeleteAnnotation(_ context.Context, id int64) error {
	f.deleteCalls = append(f.deleteCalls, id)
	if f.deleteFn != nil {
		return f.deleteFn(id)
	}
	return nil
}

func seeded(t *testing.T, anns ...models.Annotation) (*Controller, *fakeStore, *cache.TextCache) {
	t.Helper()
	c, err := cache.New(16, zap.NewNop())
	require.NoError(t, err)
	c.Put(7, models.TextWithAnnotations{
		Text:        models.Text{ID: 7, Content: "some text", Status: models.StatusInProgress, AnnotatorID: 1},
		Annotations: anns,
	})
	store := &fakeStore{}
	return New(store, c, models.Identity{UserID: 1, Role: models.RoleAnnotator}, zap.NewNop()), store, c
}

func TestSubmitTaskRequiresAnnotations(t *testing.T) {
	ctrl, store, _ := seeded(t)
	_, err := ctrl.SubmitTask(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNoAnnotations, apperr.CodeOf(err))
	assert.Empty(t, store.submitCalls)
}

func TestSubmitTaskMarksCacheStale(t *testing.T) {
	ctrl, store, c := seeded(t, models.Annotation{ID: 1, AnnotatorID: 1})
	result, err := ctrl.SubmitTask(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, result.NextText)
	assert.Equal(t, int64(8), result.NextText.ID)
	assert.Equal(t, []int64{7}, store.submitCalls)

	_, stale, ok := c.Get(7)
	require.True(t, ok)
	assert.True(t, stale)
}

func TestUpdateTaskOwnershipAndStatus(t *testing.T) {
	ctrl, store, c := seeded(t, models.Annotation{ID: 1, AnnotatorID: 1})

	// still in progress: nothing to re-submit
	_, err := ctrl.UpdateTask(context.Background(), 7)
	assert.True(t, apperr.IsKind(err, apperr.KindState))

	c.Put(7, models.TextWithAnnotations{
		Text: models.Text{ID: 7, Status: models.StatusAnnotated, AnnotatorID: 2},
	})
	_, err = ctrl.UpdateTask(context.Background(), 7)
	assert.True(t, apperr.IsKind(err, apperr.KindOwnership))
	assert.Empty(t, store.updateCalls)

	c.Put(7, models.TextWithAnnotations{
		Text: models.Text{ID: 7, Status: models.StatusAnnotated, AnnotatorID: 1},
	})
	_, err = ctrl.UpdateTask(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, store.updateCalls)
}

func TestSkipTextDropsCacheEntry(t *testing.T) {
	ctrl, store, c := seeded(t)
	_, err := ctrl.SkipText(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, store.skipCalls)
	_, _, ok := c.Get(7)
	assert.False(t, ok)
}

func TestRevertWorkOwnership(t *testing.T) {
	ctrl, store, c := seeded(t)
	c.Put(7, models.TextWithAnnotations{
		Text: models.Text{ID: 7, Status: models.StatusInProgress, AnnotatorID: 2},
	})
	_, err := ctrl.RevertWork(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotOwner, apperr.CodeOf(err))
	assert.Empty(t, store.revertCalls)
}

func TestUndoOwnAnnotationsDeletesOnlyOwn(t *testing.T) {
	ctrl, store, c := seeded(t,
		models.Annotation{ID: 1, AnnotatorID: 1},
		models.Annotation{ID: 2, AnnotatorID: 2},
		models.Annotation{ID: 3, AnnotatorID: 1},
	)

	require.NoError(t, ctrl.UndoOwnAnnotations(context.Background(), 7))
	assert.Equal(t, []int64{1, 3}, store.deleteCalls, "exactly one delete per own annotation")

	data, _, _ := c.Get(7)
	require.Len(t, data.Annotations, 1)
	assert.Equal(t, int64(2), data.Annotations[0].ID, "others' annotations stay")
}

func TestUndoOwnAnnotationsPartialFailure(t *testing.T) {
	ctrl, store, c := seeded(t,
		models.Annotation{ID: 1, AnnotatorID: 1},
		models.Annotation{ID: 3, AnnotatorID: 1},
	)
	store.deleteFn = func(id int64) error {
		if id == 1 {
			return apperr.Remote(apperr.CodeRemoteUnavailable, nil, "store down")
		}
		return nil
	}

	err := ctrl.UndoOwnAnnotations(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, []int64{1, 3}, store.deleteCalls, "a failed delete does not stop the rest")

	data, _, _ := c.Get(7)
	require.Len(t, data.Annotations, 1)
	assert.Equal(t, int64(1), data.Annotations[0].ID, "only confirmed deletes leave the cache")
}

func TestUndoOwnAnnotationsNothingToDo(t *testing.T) {
	ctrl, store, _ := seeded(t, models.Annotation{ID: 2, AnnotatorID: 2})
	err := ctrl.UndoOwnAnnotations(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNoAnnotations, apperr.CodeOf(err))
	assert.Empty(t, store.deleteCalls)
}

func TestCancelWorkRevertsBeforeSkip(t *testing.T) {
	ctrl, store, _ := seeded(t)
	_, err := ctrl.CancelWorkWithRevertAndSkip(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, store.revertCalls)
	assert.Equal(t, []int64{7}, store.skipCalls)
}

func TestCancelWorkStopsWhenRevertFails(t *testing.T) {
	ctrl, store, _ := seeded(t)
	store.revertErr = apperr.Remote(apperr.CodeRemoteUnavailable, nil, "store down")

	_, err := ctrl.CancelWorkWithRevertAndSkip(context.Background(), 7)
	require.Error(t, err)
	assert.Empty(t, store.skipCalls, "skip must not be issued after a failed revert")
}

func TestReadOnly(t *testing.T) {
	ctrl, _, _ := seeded(t)
	activity := []models.TextActivity{
		{TextID: 7, AllAccepted: true},
		{TextID: 9, AllAccepted: false},
	}
	assert.True(t, ctrl.ReadOnly(7, activity), "fully agreed texts are locked")
	assert.True(t, ctrl.ReadOnly(404, nil), "unloaded texts render read-only")

	ctrl2, _, c := seeded(t)
	c.Put(9, models.TextWithAnnotations{Text: models.Text{ID: 9}})
	assert.False(t, ctrl2.ReadOnly(9, activity))
}
