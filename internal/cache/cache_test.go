package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"textmark/internal/models"
)

func testEntry() models.TextWithAnnotations {
	return models.TextWithAnnotations{
		Text: models.Text{ID: 7, Content: "The quick brown fox jumps over the lazy dog", Status: models.StatusInProgress},
		Annotations: []models.Annotation{
			{ID: 1, TextID: 7, Type: "grammar", StartPosition: 4, EndPosition: 9, SelectedText: "quick"},
			{ID: 2, TextID: 7, Type: "lexis", StartPosition: 10, EndPosition: 15, SelectedText: "brown",
				Reviews: []models.Review{{ID: 11, AnnotationID: 2, Decision: models.DecisionAgree, ReviewerID: 3}}},
		},
	}
}

func newCache(t *testing.T) *TextCache {
	c, err := New(16, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestGetReturnsDetachedCopy(t *testing.T) {
	c := newCache(t)
	c.Put(7, testEntry())

	data, stale, ok := c.Get(7)
	require.True(t, ok)
	assert.False(t, stale)

	// Writing through the returned copy must not leak into the cache.
	data.Annotations[0].Type = "mutated"
	again, _, _ := c.Get(7)
	assert.Equal(t, "grammar", again.Annotations[0].Type)
}

func TestTxnRollbackRestoresSnapshot(t *testing.T) {
	c := newCache(t)
	c.Put(7, testEntry())
	before, _, _ := c.Get(7)

	txn, err := c.Begin(7)
	require.NoError(t, err)
	txn.Apply(func(d *models.TextWithAnnotations) {
		d.Annotations = append(d.Annotations, models.Annotation{ID: -99, Type: "critical"})
		d.Annotations[0].Type = "changed"
	})

	mid, _, _ := c.Get(7)
	require.Len(t, mid.Annotations, 3)

	txn.Rollback()

	after, stale, ok := c.Get(7)
	require.True(t, ok)
	assert.True(t, stale, "settled mutation must mark the entry stale")
	assert.Equal(t, before, after)
}

func TestTxnCommitMarksStale(t *testing.T) {
	c := newCache(t)
	c.Put(7, testEntry())

	txn, err := c.Begin(7)
	require.NoError(t, err)
	txn.Apply(func(d *models.TextWithAnnotations) {
		d.Annotations = d.Annotations[:1]
	})
	txn.Commit()

	data, stale, ok := c.Get(7)
	require.True(t, ok)
	assert.True(t, stale)
	assert.Len(t, data.Annotations, 1)

	// Commit after rollback (or vice versa) is a no-op.
	txn.Rollback()
	data, _, _ = c.Get(7)
	assert.Len(t, data.Annotations, 1)
}

func TestBeginUnknownText(t *testing.T) {
	c := newCache(t)
	_, err := c.Begin(404)
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	c := newCache(t)
	c.Put(7, testEntry())
	c.Remove(7)
	_, _, ok := c.Get(7)
	assert.False(t, ok)
}
