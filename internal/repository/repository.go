// Package repository persists texts, annotations and reviews in sqlite.
package repository

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"textmark/internal/models"
)

// Repository handles data storage for the annotation store.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens (or creates) the database and runs migrations.
func New(dbPath string, logger *zap.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &Repository{db: db, logger: logger}
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("repository initialized", zap.String("db_path", dbPath))
	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS texts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		translation TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		annotator_id INTEGER NOT NULL DEFAULT 0,
		reviewer_id INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_texts_status ON texts(status);
	CREATE INDEX IF NOT EXISTS idx_texts_annotator ON texts(annotator_id);

	CREATE TABLE IF NOT EXISTS annotations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text_id INTEGER NOT NULL,
		annotation_type TEXT NOT NULL,
		start_position INTEGER NOT NULL,
		end_position INTEGER NOT NULL,
		selected_text TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL DEFAULT '',
		annotator_id INTEGER NOT NULL,
		is_agreed BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (text_id) REFERENCES texts(id)
	);

	CREATE INDEX IF NOT EXISTS idx_annotations_text ON annotations(text_id);
	CREATE INDEX IF NOT EXISTS idx_annotations_annotator ON annotations(annotator_id);

	CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		annotation_id INTEGER NOT NULL,
		decision TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		reviewer_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (annotation_id, reviewer_id),
		FOREIGN KEY (annotation_id) REFERENCES annotations(id)
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_annotation ON reviews(annotation_id);
	`
	_, err := r.db.Exec(schema)
	return err
}

// ImportText stores a new text in draft or initialized state.
func (r *Repository) ImportText(t *models.Text) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.StatusInitialized
	}
	result, err := r.db.Exec(`
		INSERT INTO texts (content, translation, status, annotator_id, reviewer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Content, t.Translation, t.Status, t.AnnotatorID, t.ReviewerID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to import text: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	t.ID = id
	return nil
}

func (r *Repository) scanText(row *sql.Row) (*models.Text, error) {
	t := &models.Text{}
	err := row.Scan(&t.ID, &t.Content, &t.Translation, &t.Status,
		&t.AnnotatorID, &t.ReviewerID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("text not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get text: %w", err)
	}
	return t, nil
}

const textColumns = `id, content, translation, status, annotator_id, reviewer_id, created_at, updated_at`

// GetText retrieves one text by id.
func (r *Repository) GetText(id int64) (*models.Text, error) {
	row := r.db.QueryRow(`SELECT `+textColumns+` FROM texts WHERE id = ?`, id)
	return r.scanText(row)
}

// NextAssignable returns the oldest initialized text whose id is not in
// the excluded set.
func (r *Repository) NextAssignable(exclude map[int64]struct{}) (*models.Text, error) {
	rows, err := r.db.Query(`
		SELECT ` + textColumns + `
		FROM texts
		WHERE status = 'initialized'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignable texts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := &models.Text{}
		if err := rows.Scan(&t.ID, &t.Content, &t.Translation, &t.Status,
			&t.AnnotatorID, &t.ReviewerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			r.logger.Error("failed to scan text", zap.Error(err))
			continue
		}
		if _, skipped := exclude[t.ID]; skipped {
			continue
		}
		return t, nil
	}
	return nil, nil
}

// NextForReview returns the oldest annotated text not authored by the
// reviewer.
func (r *Repository) NextForReview(reviewerID int64) (*models.Text, error) {
	row := r.db.QueryRow(`
		SELECT `+textColumns+`
		FROM texts
		WHERE status = 'annotated' AND annotator_id != ?
		ORDER BY updated_at ASC
		LIMIT 1`, reviewerID)
	t, err := r.scanText(row)
	if err != nil {
		return nil, nil // no candidate is not an error
	}
	return t, nil
}

// AssignAnnotator puts the text in progress for one annotator.
func (r *Repository) AssignAnnotator(textID, annotatorID int64) error {
	_, err := r.db.Exec(`
		UPDATE texts SET status = ?, annotator_id = ?, updated_at = ? WHERE id = ?`,
		models.StatusInProgress, annotatorID, time.Now(), textID)
	return err
}

// SetStatus moves the text to a new workflow state.
func (r *Repository) SetStatus(textID int64, status models.TextStatus) error {
	_, err := r.db.Exec(`UPDATE texts SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), textID)
	return err
}

// AssignReviewer records the reviewer on a text.
func (r *Repository) AssignReviewer(textID, reviewerID int64) error {
	_, err := r.db.Exec(`UPDATE texts SET reviewer_id = ?, updated_at = ? WHERE id = ?`,
		reviewerID, time.Now(), textID)
	return err
}

// ReleaseText puts the text back in the assignable pool.
func (r *Repository) ReleaseText(textID int64) error {
	_, err := r.db.Exec(`
		UPDATE texts SET status = ?, annotator_id = 0, updated_at = ? WHERE id = ?`,
		models.StatusInitialized, time.Now(), textID)
	return err
}

// CreateAnnotation inserts an annotation and fills in its id.
func (r *Repository) CreateAnnotation(a *models.Annotation) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	result, err := r.db.Exec(`
		INSERT INTO annotations (
			text_id, annotation_type, start_position, end_position, selected_text,
			name, level, annotator_id, is_agreed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TextID, a.Type, a.StartPosition, a.EndPosition, a.SelectedText,
		a.Name, a.Level, a.AnnotatorID, a.IsAgreed, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save annotation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

const annotationColumns = `id, text_id, annotation_type, start_position, end_position,
	selected_text, name, level, annotator_id, is_agreed, created_at, updated_at`

func scanAnnotation(scan func(...any) error) (*models.Annotation, error) {
	a := &models.Annotation{}
	err := scan(&a.ID, &a.TextID, &a.Type, &a.StartPosition, &a.EndPosition,
		&a.SelectedText, &a.Name, &a.Level, &a.AnnotatorID, &a.IsAgreed,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAnnotation retrieves one annotation by id.
func (r *Repository) GetAnnotation(id int64) (*models.Annotation, error) {
	row := r.db.QueryRow(`SELECT `+annotationColumns+` FROM annotations WHERE id = ?`, id)
	a, err := scanAnnotation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("annotation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}
	return a, nil
}

// SaveAnnotation writes the mutable columns of an existing annotation.
func (r *Repository) SaveAnnotation(a *models.Annotation) error {
	a.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE annotations
		SET annotation_type = ?, start_position = ?, end_position = ?,
		    selected_text = ?, name = ?, level = ?, is_agreed = ?, updated_at = ?
		WHERE id = ?`,
		a.Type, a.StartPosition, a.EndPosition, a.SelectedText,
		a.Name, a.Level, a.IsAgreed, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update annotation: %w", err)
	}
	return nil
}

// DeleteAnnotation removes one annotation and its reviews.
func (r *Repository) DeleteAnnotation(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM reviews WHERE annotation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete reviews: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM annotations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	return tx.Commit()
}

// DeleteAnnotationsByAnnotator removes every annotation one user made on
// a text, reviews included. Returns how many were deleted.
func (r *Repository) DeleteAnnotationsByAnnotator(textID, annotatorID int64) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`
		DELETE FROM reviews WHERE annotation_id IN (
			SELECT id FROM annotations WHERE text_id = ? AND annotator_id = ?
		)`, textID, annotatorID); err != nil {
		return 0, fmt.Errorf("failed to delete reviews: %w", err)
	}
	result, err := tx.Exec(`DELETE FROM annotations WHERE text_id = ? AND annotator_id = ?`,
		textID, annotatorID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete annotations: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, tx.Commit()
}

// ListAnnotationsByText returns a text's annotations with their reviews
// attached, ordered by start position.
func (r *Repository) ListAnnotationsByText(textID int64) ([]models.Annotation, error) {
	rows, err := r.db.Query(`
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE text_id = ?
		ORDER BY start_position ASC, id ASC`, textID)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	var annotations []models.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows.Scan)
		if err != nil {
			r.logger.Error("failed to scan annotation", zap.Error(err))
			continue
		}
		annotations = append(annotations, *a)
	}

	for i := range annotations {
		reviews, err := r.listReviews(annotations[i].ID)
		if err != nil {
			return nil, err
		}
		annotations[i].Reviews = reviews
	}
	return annotations, nil
}

func (r *Repository) listReviews(annotationID int64) ([]models.Review, error) {
	rows, err := r.db.Query(`
		SELECT id, annotation_id, decision, comment, reviewer_id, created_at, updated_at
		FROM reviews
		WHERE annotation_id = ?
		ORDER BY id ASC`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		rev := models.Review{}
		if err := rows.Scan(&rev.ID, &rev.AnnotationID, &rev.Decision, &rev.Comment,
			&rev.ReviewerID, &rev.CreatedAt, &rev.UpdatedAt); err != nil {
			r.logger.Error("failed to scan review", zap.Error(err))
			continue
		}
		reviews = append(reviews, rev)
	}
	return reviews, nil
}

// UpsertReview replaces the reviewer's decision on an annotation.
// Re-deciding updates the existing row, never appends.
func (r *Repository) UpsertReview(rev *models.Review) error {
	now := time.Now()
	rev.UpdatedAt = now
	_, err := r.db.Exec(`
		INSERT INTO reviews (annotation_id, decision, comment, reviewer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (annotation_id, reviewer_id)
		DO UPDATE SET decision = excluded.decision, comment = excluded.comment,
		              updated_at = excluded.updated_at`,
		rev.AnnotationID, rev.Decision, rev.Comment, rev.ReviewerID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert review: %w", err)
	}
	// LastInsertId is meaningless on the update path; read the row back.
	row := r.db.QueryRow(`
		SELECT id, created_at FROM reviews WHERE annotation_id = ? AND reviewer_id = ?`,
		rev.AnnotationID, rev.ReviewerID)
	if err := row.Scan(&rev.ID, &rev.CreatedAt); err != nil {
		return fmt.Errorf("failed to read back review: %w", err)
	}
	return nil
}

// SetAgreed flips the agreed flag on an annotation.
func (r *Repository) SetAgreed(annotationID int64, agreed bool) error {
	_, err := r.db.Exec(`UPDATE annotations SET is_agreed = ?, updated_at = ? WHERE id = ?`,
		agreed, time.Now(), annotationID)
	return err
}

// RecentActivity summarizes per-text annotation counts and acceptance.
func (r *Repository) RecentActivity() ([]models.TextActivity, error) {
	rows, err := r.db.Query(`
		SELECT t.id, t.status, COUNT(a.id), COALESCE(SUM(a.is_agreed), 0), t.updated_at
		FROM texts t
		LEFT JOIN annotations a ON a.text_id = t.id
		GROUP BY t.id, t.status, t.updated_at
		ORDER BY t.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var out []models.TextActivity
	for rows.Next() {
		var row models.TextActivity
		var agreedCount int
		if err := rows.Scan(&row.TextID, &row.Status, &row.AnnotationCount, &agreedCount, &row.UpdatedAt); err != nil {
			r.logger.Error("failed to scan activity row", zap.Error(err))
			continue
		}
		row.AllAccepted = row.AnnotationCount > 0 && agreedCount == row.AnnotationCount
		out = append(out, row)
	}
	return out, nil
}

// RevisionTexts returns the annotator's texts that collected disagree
// decisions, with the reviewers' comments aggregated per text.
func (r *Repository) RevisionTexts(annotatorID int64) ([]models.RevisionItem, error) {
	rows, err := r.db.Query(`
		SELECT t.id, rv.comment
		FROM texts t
		JOIN annotations a ON a.text_id = t.id
		JOIN reviews rv ON rv.annotation_id = a.id
		WHERE rv.decision = 'disagree' AND t.annotator_id = ?
		ORDER BY t.id ASC, rv.id ASC`, annotatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	byText := make(map[int64]*models.RevisionItem)
	var order []int64
	for rows.Next() {
		var textID int64
		var comment string
		if err := rows.Scan(&textID, &comment); err != nil {
			r.logger.Error("failed to scan revision row", zap.Error(err))
			continue
		}
		item, ok := byText[textID]
		if !ok {
			item = &models.RevisionItem{TextID: textID}
			byText[textID] = item
			order = append(order, textID)
		}
		if comment != "" {
			item.DisagreeComments = append(item.DisagreeComments, comment)
		}
	}

	out := make([]models.RevisionItem, 0, len(order))
	for _, id := range order {
		out = append(out, *byText[id])
	}
	return out, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}
