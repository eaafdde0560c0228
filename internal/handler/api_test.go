package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"textmark/internal/models"
	"textmark/internal/rejections"
	"textmark/internal/repository"
	"textmark/internal/service"
	"textmark/internal/taxonomy"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo, err := repository.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	trees := []*taxonomy.Tree{{ListType: "error", Categories: []taxonomy.Category{
		{Key: "grammar", Name: "Grammar"},
	}}}
	svc := service.New(repo, rejections.NewMemoryStore(), trees, zap.NewNop())

	r := gin.New()
	NewHandler(svc, zap.NewNop()).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, userID int64, role string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("X-User-ID", fmt.Sprintf("%d", userID))
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	fields := map[string]json.RawMessage{}
	json.NewDecoder(resp.Body).Decode(&fields)
	return resp, fields
}

func code(t *testing.T, fields map[string]json.RawMessage) string {
	t.Helper()
	var c string
	require.NoError(t, json.Unmarshal(fields["code"], &c))
	return c
}

func importText(t *testing.T, srv *httptest.Server, content string) int64 {
	t.Helper()
	resp, fields := call(t, srv, http.MethodPost, "/api/v1/texts", 1, "", map[string]string{"content": content})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var id int64
	require.NoError(t, json.Unmarshal(fields["id"], &id))
	return id
}

func TestIdentityHeaderRequired(t *testing.T) {
	srv := newServer(t)
	resp, fields := call(t, srv, http.MethodPost, "/api/v1/tasks/start", 0, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_id", code(t, fields))
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newServer(t)
	resp, _ := call(t, srv, http.MethodGet, "/health", 0, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newServer(t)
	content := "The quick brown fox"
	textID := importText(t, srv, content)

	// assign and annotate
	resp, _ := call(t, srv, http.MethodPost, "/api/v1/tasks/start", 1, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, fields := call(t, srv, http.MethodPost, "/api/v1/annotations", 1, "", models.CreateAnnotationRequest{
		TextID: textID, Type: "grammar", StartPosition: 4, EndPosition: 9, SelectedText: "quick",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var annID int64
	require.NoError(t, json.Unmarshal(fields["id"], &annID))

	// 404: unknown text
	resp, fields = call(t, srv, http.MethodGet, "/api/v1/texts/404", 1, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", code(t, fields))

	// 400: stale span
	resp, fields = call(t, srv, http.MethodPost, "/api/v1/annotations", 1, "", models.CreateAnnotationRequest{
		TextID: textID, Type: "grammar", StartPosition: 4, EndPosition: 9, SelectedText: "wrong",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_span", code(t, fields))

	// 403: non-reviewer recording a decision
	resp, _ = call(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/annotations/%d/review", annID), 1, "",
		models.ReviewDecision{Decision: models.DecisionAgree})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// agree it as a reviewer, then check the 409 on delete
	resp, _ = call(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/annotations/%d/review", annID), 5, models.RoleReviewer,
		models.ReviewDecision{Decision: models.DecisionAgree})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, fields = call(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/annotations/%d", annID), 1, "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "annotation_agreed", code(t, fields))

	// 422: submitting a review with missing decisions
	resp, fields = call(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/texts/%d/review", textID), 5, models.RoleReviewer,
		models.SubmitReviewRequest{Decisions: []models.ReviewDecision{}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "incomplete_review", code(t, fields))
}

func TestTaskFlowOverHTTP(t *testing.T) {
	srv := newServer(t)
	content := "The quick brown fox"
	textID := importText(t, srv, content)

	resp, fields := call(t, srv, http.MethodPost, "/api/v1/tasks/start", 1, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var next models.Text
	require.NoError(t, json.Unmarshal(fields["next_text"], &next))
	assert.Equal(t, textID, next.ID)

	// submit without annotations is blocked
	resp, fields = call(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/texts/%d/submit", textID), 1, "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "no_annotations", code(t, fields))

	resp, _ = call(t, srv, http.MethodPost, "/api/v1/annotations", 1, "", models.CreateAnnotationRequest{
		TextID: textID, Type: "grammar", StartPosition: 4, EndPosition: 9, SelectedText: "quick",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/texts/%d/submit", textID), 1, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, fields = call(t, srv, http.MethodGet, "/api/v1/activity", 1, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var activity []models.TextActivity
	require.NoError(t, json.Unmarshal(fields["activity"], &activity))
	require.Len(t, activity, 1)
	assert.Equal(t, models.StatusAnnotated, activity[0].Status)
}

func TestTaxonomyEndpoint(t *testing.T) {
	srv := newServer(t)
	resp, _ := call(t, srv, http.MethodGet, "/api/v1/taxonomy/error", 1, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/api/v1/taxonomy/missing", 1, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
