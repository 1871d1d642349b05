package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// CreatePresentation persists a presentation definition.
func (m *Manager) CreatePresentation(ctx context.Context, presentation *types.Presentation) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		slidesJSON, err := json.Marshal(presentation.Slides)
		if err != nil {
			return fmt.Errorf("failed to marshal slides: %w", err)
		}
		activitiesJSON, err := json.Marshal(presentation.Activities)
		if err != nil {
			return fmt.Errorf("failed to marshal activities: %w", err)
		}

		query := `
			INSERT INTO presentations (id, title, slides, activities, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			presentation.ID,
			presentation.Title,
			string(slidesJSON),
			string(activitiesJSON),
			presentation.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert presentation: %w", err)
		}

		return nil
	})
}

// GetPresentation returns a presentation by id.
func (m *Manager) GetPresentation(ctx context.Context, id string) (*types.Presentation, error) {
	query := presentationSelect + ` WHERE id = ?`
	return scanPresentation(m.db.QueryRowContext(ctx, query, id))
}

// ListPresentations returns all presentations, newest first.
func (m *Manager) ListPresentations(ctx context.Context) ([]*types.Presentation, error) {
	query := presentationSelect + ` ORDER BY created_at DESC`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query presentations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var presentations []*types.Presentation
	for rows.Next() {
		presentation, err := scanPresentation(rows)
		if err != nil {
			return nil, err
		}
		presentations = append(presentations, presentation)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presentation rows: %w", err)
	}

	return presentations, nil
}

const presentationSelect = `
	SELECT id, title, slides, activities, created_at
	FROM presentations`

func scanPresentation(row rowScanner) (*types.Presentation, error) {
	var presentation types.Presentation
	var slidesJSON, activitiesJSON string

	err := row.Scan(
		&presentation.ID,
		&presentation.Title,
		&slidesJSON,
		&activitiesJSON,
		&presentation.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrPresentationNotFound
		}
		return nil, fmt.Errorf("failed to scan presentation row: %w", err)
	}

	if err := json.Unmarshal([]byte(slidesJSON), &presentation.Slides); err != nil {
		return nil, fmt.Errorf("failed to unmarshal slides: %w", err)
	}
	if err := json.Unmarshal([]byte(activitiesJSON), &presentation.Activities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activities: %w", err)
	}

	return &presentation, nil
}
