package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
)

// ErrNotFound matches domain.ErrNotFound with errors.Is.
var ErrNotFound = fmt.Errorf("record %w", domain.ErrNotFound)

// StatusFailed marks sessions whose conversion failed.
const StatusFailed = "failed"

// ResultRepository stores sessions with their slides and shapes.
type ResultRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewResultRepository creates a new result repository.
func NewResultRepository(db *sql.DB) *ResultRepository {
	return &ResultRepository{db: db, now: time.Now}
}

// SaveResult replaces everything stored for the document's session.
func (r *ResultRepository) SaveResult(ctx context.Context, doc *domain.ResultDocument, location string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := doc.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	err = upsertSession(ctx, tx, Session{
		ID:             doc.SessionID,
		JobID:          doc.JobID,
		Status:         string(doc.OverallStatus),
		SlideCount:     doc.SlideCount,
		ProcessingTime: doc.ProcessingDuration,
		ResultLocation: location,
		CreatedAt:      created.UTC(),
		UpdatedAt:      r.now().UTC(),
	})
	if err != nil {
		return err
	}

	if err := deleteSlides(ctx, tx, doc.SessionID); err != nil {
		return err
	}

	for _, s := range doc.Slides {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO slides (id, session_id, slide_number, width, height, unit,
				svg_url, thumbnail_url, placeholder, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, s.ID, doc.SessionID, s.SlideNumber, s.Width, s.Height, string(s.Unit),
			s.VectorImageReference, s.ThumbnailReference, s.Placeholder, s.Error)
		if err != nil {
			return fmt.Errorf("insert slide %d: %w", s.SlideNumber, err)
		}

		for _, sh := range s.Shapes {
			payload, err := json.Marshal(sh)
			if err != nil {
				return fmt.Errorf("encode shape %s: %w", sh.ID, err)
			}
			b := sh.BoundingBox
			_, err = tx.ExecContext(ctx, `
				INSERT INTO slide_shapes (id, slide_id, reading_order, kind, text, x, y, width, height, payload)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, sh.ID, s.ID, sh.ReadingOrder, string(sh.Kind), sh.PlainText(),
				b.X, b.Y, b.Width, b.Height, string(payload))
			if err != nil {
				return fmt.Errorf("insert shape %s: %w", sh.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

// SaveFailure records a failed session, dropping any slides stored earlier.
func (r *ResultRepository) SaveFailure(ctx context.Context, sessionID, jobID, message string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	if err := upsertSession(ctx, tx, Session{
		ID:        sessionID,
		JobID:     jobID,
		Status:    StatusFailed,
		Error:     message,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return err
	}
	if err := deleteSlides(ctx, tx, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSession retrieves a session by ID.
func (r *ResultRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, job_id, status, slide_count, processing_time, result_location, error, created_at, updated_at
		FROM sessions WHERE id = $1
	`
	s := &Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.JobID, &s.Status, &s.SlideCount, &s.ProcessingTime,
		&s.ResultLocation, &s.Error, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ListSlides lists a session's slides in slide order.
func (r *ResultRepository) ListSlides(ctx context.Context, sessionID string) ([]*SlideRecord, error) {
	query := `
		SELECT id, session_id, slide_number, width, height, unit, svg_url, thumbnail_url, placeholder, error
		FROM slides
		WHERE session_id = $1
		ORDER BY slide_number
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slides []*SlideRecord
	for rows.Next() {
		s := &SlideRecord{}
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.SlideNumber, &s.Width, &s.Height, &s.Unit,
			&s.SVGURL, &s.ThumbnailURL, &s.Placeholder, &s.Error,
		); err != nil {
			return nil, err
		}
		slides = append(slides, s)
	}
	return slides, rows.Err()
}

// ListShapes lists a slide's shapes in reading order.
func (r *ResultRepository) ListShapes(ctx context.Context, slideID string) ([]*ShapeRecord, error) {
	query := `
		SELECT id, slide_id, reading_order, kind, text, x, y, width, height, payload
		FROM slide_shapes
		WHERE slide_id = $1
		ORDER BY reading_order
	`
	rows, err := r.db.QueryContext(ctx, query, slideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shapes []*ShapeRecord
	for rows.Next() {
		s := &ShapeRecord{}
		if err := rows.Scan(
			&s.ID, &s.SlideID, &s.ReadingOrder, &s.Kind, &s.Text,
			&s.X, &s.Y, &s.Width, &s.Height, &s.Payload,
		); err != nil {
			return nil, err
		}
		shapes = append(shapes, s)
	}
	return shapes, rows.Err()
}

// LoadResult rebuilds a result document from the stored rows. Failed
// sessions are reported as ErrNotFound since they have no result.
func (r *ResultRepository) LoadResult(ctx context.Context, sessionID string) (*domain.ResultDocument, error) {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == StatusFailed {
		return nil, ErrNotFound
	}

	records, err := r.ListSlides(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list slides: %w", err)
	}

	doc := &domain.ResultDocument{
		SessionID:          session.ID,
		JobID:              session.JobID,
		SlideCount:         session.SlideCount,
		OverallStatus:      domain.OverallStatus(session.Status),
		ProcessingDuration: session.ProcessingTime,
		Slides:             make([]domain.Slide, 0, len(records)),
		CreatedAt:          session.CreatedAt,
	}
	for _, rec := range records {
		shapeRecords, err := r.ListShapes(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("list shapes: %w", err)
		}
		slide := domain.Slide{
			ID:                   rec.ID,
			SlideNumber:          rec.SlideNumber,
			Width:                rec.Width,
			Height:               rec.Height,
			Unit:                 domain.CoordinateUnit(rec.Unit),
			VectorImageReference: rec.SVGURL,
			ThumbnailReference:   rec.ThumbnailURL,
			Placeholder:          rec.Placeholder,
			Error:                rec.Error,
			Shapes:               make([]domain.Shape, 0, len(shapeRecords)),
		}
		for _, sr := range shapeRecords {
			var shape domain.Shape
			if err := json.Unmarshal([]byte(sr.Payload), &shape); err != nil {
				return nil, fmt.Errorf("decode shape %s: %w", sr.ID, err)
			}
			slide.Shapes = append(slide.Shapes, shape)
		}
		doc.Slides = append(doc.Slides, slide)
	}
	return doc, nil
}

func upsertSession(ctx context.Context, tx *sql.Tx, s Session) error {
	query := `
		INSERT INTO sessions (id, job_id, status, slide_count, processing_time, result_location, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			job_id = excluded.job_id,
			status = excluded.status,
			slide_count = excluded.slide_count,
			processing_time = excluded.processing_time,
			result_location = excluded.result_location,
			error = excluded.error,
			updated_at = excluded.updated_at
	`
	_, err := tx.ExecContext(ctx, query,
		s.ID, s.JobID, s.Status, s.SlideCount, s.ProcessingTime,
		s.ResultLocation, s.Error, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

func deleteSlides(ctx context.Context, tx *sql.Tx, sessionID string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM slide_shapes WHERE slide_id IN (SELECT id FROM slides WHERE session_id = $1)
	`, sessionID); err != nil {
		return fmt.Errorf("delete shapes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM slides WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete slides: %w", err)
	}
	return nil
}
