package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"textmark/internal/models"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func importText(t *testing.T, repo *Repository, content string) *models.Text {
	t.Helper()
	text := &models.Text{Content: content}
	require.NoError(t, repo.ImportText(text))
	return text
}

func addAnnotation(t *testing.T, repo *Repository, textID, annotatorID int64, typ string, start, end int) *models.Annotation {
	t.Helper()
	a := &models.Annotation{
		TextID: textID, Type: typ,
		StartPosition: start, EndPosition: end,
		SelectedText: "x", AnnotatorID: annotatorID,
	}
	require.NoError(t, repo.CreateAnnotation(a))
	return a
}

func TestImportAndGetText(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "The quick brown fox")
	require.Positive(t, text.ID)
	assert.Equal(t, models.StatusInitialized, text.Status)

	got, err := repo.GetText(text.ID)
	require.NoError(t, err)
	assert.Equal(t, "The quick brown fox", got.Content)
	assert.Nil(t, got.ReviewerID)

	_, err = repo.GetText(404)
	assert.Error(t, err)
}

func TestNextAssignableHonorsExclusions(t *testing.T) {
	repo := newRepo(t)
	first := importText(t, repo, "first")
	second := importText(t, repo, "second")

	got, err := repo.NextAssignable(nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "oldest initialized text wins")

	got, err = repo.NextAssignable(map[int64]struct{}{first.ID: {}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID, "excluded texts are never handed out")

	got, err = repo.NextAssignable(map[int64]struct{}{first.ID: {}, second.ID: {}})
	require.NoError(t, err)
	assert.Nil(t, got, "an empty pool is not an error")
}

func TestAssignmentLifecycle(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "content")

	require.NoError(t, repo.AssignAnnotator(text.ID, 1))
	got, err := repo.GetText(text.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Equal(t, int64(1), got.AnnotatorID)

	// in-progress texts are out of the pool
	next, err := repo.NextAssignable(nil)
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, repo.ReleaseText(text.ID))
	got, err = repo.GetText(text.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitialized, got.Status)
	assert.Zero(t, got.AnnotatorID)
}

func TestNextForReviewSkipsOwnTexts(t *testing.T) {
	repo := newRepo(t)
	mine := importText(t, repo, "mine")
	theirs := importText(t, repo, "theirs")
	require.NoError(t, repo.AssignAnnotator(mine.ID, 5))
	require.NoError(t, repo.AssignAnnotator(theirs.ID, 1))
	require.NoError(t, repo.SetStatus(mine.ID, models.StatusAnnotated))
	require.NoError(t, repo.SetStatus(theirs.ID, models.StatusAnnotated))

	got, err := repo.NextForReview(5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, theirs.ID, got.ID, "a reviewer never reviews their own work")

	got, err = repo.NextForReview(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, mine.ID, got.ID)
}

func TestAnnotationRoundTrip(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "The quick brown fox")
	a := addAnnotation(t, repo, text.ID, 1, "grammar", 4, 9)
	require.Positive(t, a.ID)

	a.Type = "lexis"
	a.Level = models.LevelMajor
	require.NoError(t, repo.SaveAnnotation(a))

	got, err := repo.GetAnnotation(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "lexis", got.Type)
	assert.Equal(t, models.LevelMajor, got.Level)
	assert.False(t, got.IsAgreed)

	require.NoError(t, repo.SetAgreed(a.ID, true))
	got, err = repo.GetAnnotation(a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAgreed)
}

func TestListAnnotationsOrderedWithReviews(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "The quick brown fox jumps")
	later := addAnnotation(t, repo, text.ID, 1, "lexis", 10, 15)
	earlier := addAnnotation(t, repo, text.ID, 1, "grammar", 4, 9)
	require.NoError(t, repo.UpsertReview(&models.Review{
		AnnotationID: later.ID, Decision: models.DecisionAgree, ReviewerID: 5,
	}))

	anns, err := repo.ListAnnotationsByText(text.ID)
	require.NoError(t, err)
	require.Len(t, anns, 2)
	assert.Equal(t, earlier.ID, anns[0].ID, "ordered by start position")
	assert.Empty(t, anns[0].Reviews)
	require.Len(t, anns[1].Reviews, 1)
	assert.Equal(t, models.DecisionAgree, anns[1].Reviews[0].Decision)
}

func TestUpsertReviewReplacesNotAppends(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "content here")
	a := addAnnotation(t, repo, text.ID, 1, "grammar", 0, 7)

	first := &models.Review{
		AnnotationID: a.ID, Decision: models.DecisionDisagree, Comment: "off by one", ReviewerID: 5,
	}
	require.NoError(t, repo.UpsertReview(first))
	replaced := &models.Review{
		AnnotationID: a.ID, Decision: models.DecisionAgree, ReviewerID: 5,
	}
	require.NoError(t, repo.UpsertReview(replaced))
	assert.Equal(t, first.ID, replaced.ID, "re-deciding keeps the original row id")

	// a second reviewer keeps their own row
	other := &models.Review{
		AnnotationID: a.ID, Decision: models.DecisionDisagree, Comment: "still wrong", ReviewerID: 9,
	}
	require.NoError(t, repo.UpsertReview(other))
	assert.NotEqual(t, first.ID, other.ID)

	anns, err := repo.ListAnnotationsByText(text.ID)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	require.Len(t, anns[0].Reviews, 2, "one row per reviewer, re-deciding replaces")
	assert.Equal(t, models.DecisionAgree, anns[0].Reviews[0].Decision)
	assert.Equal(t, int64(5), anns[0].Reviews[0].ReviewerID)
}

func TestDeleteAnnotationRemovesReviews(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "content here")
	a := addAnnotation(t, repo, text.ID, 1, "grammar", 0, 7)
	require.NoError(t, repo.UpsertReview(&models.Review{
		AnnotationID: a.ID, Decision: models.DecisionAgree, ReviewerID: 5,
	}))

	require.NoError(t, repo.DeleteAnnotation(a.ID))
	_, err := repo.GetAnnotation(a.ID)
	assert.Error(t, err)
}

func TestDeleteAnnotationsByAnnotator(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "The quick brown fox")
	addAnnotation(t, repo, text.ID, 1, "grammar", 0, 3)
	addAnnotation(t, repo, text.ID, 1, "lexis", 4, 9)
	other := addAnnotation(t, repo, text.ID, 2, "grammar", 10, 15)

	n, err := repo.DeleteAnnotationsByAnnotator(text.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	anns, err := repo.ListAnnotationsByText(text.ID)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, other.ID, anns[0].ID)
}

func TestReviewForUnknownAnnotationRejected(t *testing.T) {
	repo := newRepo(t)
	err := repo.UpsertReview(&models.Review{
		AnnotationID: 999, Decision: models.DecisionAgree, ReviewerID: 5,
	})
	assert.Error(t, err, "foreign keys must block reviews of nonexistent annotations")
}

func TestRecentActivityAllAccepted(t *testing.T) {
	repo := newRepo(t)
	empty := importText(t, repo, "no annotations")
	full := importText(t, repo, "fully agreed text")
	partial := importText(t, repo, "partially agreed")

	a1 := addAnnotation(t, repo, full.ID, 1, "grammar", 0, 5)
	require.NoError(t, repo.SetAgreed(a1.ID, true))
	a2 := addAnnotation(t, repo, partial.ID, 1, "grammar", 0, 5)
	require.NoError(t, repo.SetAgreed(a2.ID, true))
	addAnnotation(t, repo, partial.ID, 1, "lexis", 6, 10)

	activity, err := repo.RecentActivity()
	require.NoError(t, err)
	byID := make(map[int64]models.TextActivity)
	for _, row := range activity {
		byID[row.TextID] = row
	}
	assert.False(t, byID[empty.ID].AllAccepted, "zero annotations is never all-accepted")
	assert.Zero(t, byID[empty.ID].AnnotationCount)
	assert.True(t, byID[full.ID].AllAccepted)
	assert.False(t, byID[partial.ID].AllAccepted)
	assert.Equal(t, 2, byID[partial.ID].AnnotationCount)
}

func TestRevisionTextsAggregatesComments(t *testing.T) {
	repo := newRepo(t)
	text := importText(t, repo, "needs another pass")
	require.NoError(t, repo.AssignAnnotator(text.ID, 1))
	a1 := addAnnotation(t, repo, text.ID, 1, "grammar", 0, 5)
	a2 := addAnnotation(t, repo, text.ID, 1, "lexis", 6, 10)
	require.NoError(t, repo.UpsertReview(&models.Review{
		AnnotationID: a1.ID, Decision: models.DecisionDisagree, Comment: "wrong boundary", ReviewerID: 5,
	}))
	require.NoError(t, repo.UpsertReview(&models.Review{
		AnnotationID: a2.ID, Decision: models.DecisionDisagree, Comment: "not an error", ReviewerID: 5,
	}))

	items, err := repo.RevisionTexts(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, text.ID, items[0].TextID)
	assert.Equal(t, []string{"wrong boundary", "not an error"}, items[0].DisagreeComments)

	// another annotator sees nothing
	items, err = repo.RevisionTexts(2)
	require.NoError(t, err)
	assert.Empty(t, items)
}
