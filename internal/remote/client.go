// Package remote is the HTTP client for the annotation store. It covers
// the full store contract: annotation CRUD, review decisions and
// submission, task workflow transitions, the recent-activity feed, the
// needs-revision list and the taxonomy documents.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"textmark/internal/apperr"
	"textmark/internal/models"
)

// Client talks to the annotation store on behalf of one resolved user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	identity   models.Identity
	logger     *zap.Logger
}

// NewClient creates a store client. The identity is attached to every
// request as resolved-user headers; authentication happens upstream.
func NewClient(baseURL string, identity models.Identity, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		identity: identity,
		logger:   logger,
	}
}

// errorEnvelope is the store's error body: a message plus an optional
// machine code ("annotation_agreed" is the one the engines branch on).
type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	reader := bytes.NewBuffer(nil)
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(c.identity.UserID, 10))
	req.Header.Set("X-User-Role", c.identity.Role)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Remote(apperr.CodeRemoteUnavailable, err, "annotation store unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil || envelope.Error == "" {
			return apperr.Remote("", nil, "annotation store returned status %d", resp.StatusCode)
		}
		return apperr.Remote(envelope.Code, nil, "%s", envelope.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// CreateAnnotation creates an annotation and returns the server record
// with its assigned id.
func (c *Client) CreateAnnotation(ctx context.Context, req models.CreateAnnotationRequest) (*models.Annotation, error) {
	var out models.Annotation
	if err := c.do(ctx, http.MethodPost, "/api/v1/annotations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAnnotation applies a partial patch and returns the updated
// server record.
func (c *Client) UpdateAnnotation(ctx context.Context, id int64, patch models.UpdateAnnotationRequest) (*models.Annotation, error) {
	var out models.Annotation
	path := fmt.Sprintf("/api/v1/annotations/%d", id)
	if err := c.do(ctx, http.MethodPut, path, patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAnnotation removes an annotation. A blocked delete of an agreed
// annotation comes back with code "annotation_agreed".
func (c *Client) DeleteAnnotation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/annotations/%d", id), nil, nil)
}

// GetTextWithAnnotations loads a text and its annotation set.
func (c *Client) GetTextWithAnnotations(ctx context.Context, textID int64) (*models.TextWithAnnotations, error) {
	var out models.TextWithAnnotations
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/texts/%d", textID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReviewAnnotation records one reviewer decision. The store upserts on
// (annotation, reviewer), so a replayed decision is an idempotent
// replace.
func (c *Client) ReviewAnnotation(ctx context.Context, annotationID int64, decision models.ReviewDecision) (*models.Review, error) {
	var out models.Review
	path := fmt.Sprintf("/api/v1/annotations/%d/review", annotationID)
	if err := c.do(ctx, http.MethodPost, path, decision, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitReview submits all decisions for a text at once.
func (c *Client) SubmitReview(ctx context.Context, textID int64, decisions []models.ReviewDecision) (*models.SubmitReviewResult, error) {
	var out models.SubmitReviewResult
	path := fmt.Sprintf("/api/v1/texts/%d/review", textID)
	req := models.SubmitReviewRequest{Decisions: decisions}
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartWork asks the store for the next assignable text.
func (c *Client) StartWork(ctx context.Context) (*models.TaskResult, error) {
	var out models.TaskResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/start", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTask marks the text annotated and returns the next assignable
// text when one exists.
func (c *Client) SubmitTask(ctx context.Context, textID int64) (*models.TaskResult, error) {
	var out models.TaskResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/texts/%d/submit", textID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SkipText rejects the text for this user permanently and returns a new
// assignment.
func (c *Client) SkipText(ctx context.Context, textID int64) (*models.TaskResult, error) {
	var out models.TaskResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/texts/%d/skip", textID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevertWork deletes the caller's annotations on the text server-side
// and releases the text back to the pool.
func (c *Client) RevertWork(ctx context.Context, textID int64) (*models.TaskResult, error) {
	var out models.TaskResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/texts/%d/revert", textID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTask re-submits an already annotated text after edits.
func (c *Client) UpdateTask(ctx context.Context, textID int64) (*models.TaskResult, error) {
	var out models.TaskResult
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/texts/%d/update-task", textID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentActivity returns the per-text activity rows, including the
// all_accepted flag that gates read-only rendering.
func (c *Client) RecentActivity(ctx context.Context) ([]models.TextActivity, error) {
	var out struct {
		Activity []models.TextActivity `json:"activity"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/activity", nil, &out); err != nil {
		return nil, err
	}
	return out.Activity, nil
}

// NeedsRevision returns the caller's texts that collected disagree
// decisions, with comments aggregated.
func (c *Client) NeedsRevision(ctx context.Context) ([]models.RevisionItem, error) {
	var out struct {
		Revisions []models.RevisionItem `json:"revisions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/revisions", nil, &out); err != nil {
		return nil, err
	}
	return out.Revisions, nil
}

// GetTaxonomy fetches the raw taxonomy document for a list type. Parsing
// happens in the taxonomy package.
func (c *Client) GetTaxonomy(ctx context.Context, listType string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/taxonomy/"+listType, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Ping checks that the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("annotation store health check failed with status %d", resp.StatusCode)
	}
	return nil
}
