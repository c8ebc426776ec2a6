package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flexbatt/flexbatt/internal/models"
)

// RunRepository manages simulation run rows.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Upsert inserts the run or, on a duplicate (client_id, run_name), refreshes
// its mutable columns.
func (r *RunRepository) Upsert(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (client_id, run_name, description, run_date, input_parameters, folder_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id, run_name) DO UPDATE SET
			description = EXCLUDED.description,
			run_date = EXCLUDED.run_date,
			input_parameters = EXCLUDED.input_parameters,
			folder_path = EXCLUDED.folder_path
		RETURNING run_id, created_at
	`
	now := time.Now().UTC()
	err := r.db.queryRow(ctx, query,
		run.ClientID,
		run.Name,
		run.Description,
		run.RunDate,
		run.InputParameters,
		run.FolderPath,
		now,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetByName looks a run up by (client_name, run_name).
func (r *RunRepository) GetByName(ctx context.Context, clientName, runName string) (*models.Run, error) {
	query := `
		SELECT r.run_id, r.client_id, c.client_name, r.run_name, r.description,
			r.run_date, r.input_parameters, r.folder_path, r.created_at
		FROM runs r
		JOIN clients c ON r.client_id = c.client_id
		WHERE c.client_name = ? AND r.run_name = ?
	`
	return r.scanOne(r.db.queryRow(ctx, query, clientName, runName))
}

// GetByID looks a run up by id.
func (r *RunRepository) GetByID(ctx context.Context, runID int64) (*models.Run, error) {
	query := `
		SELECT r.run_id, r.client_id, c.client_name, r.run_name, r.description,
			r.run_date, r.input_parameters, r.folder_path, r.created_at
		FROM runs r
		JOIN clients c ON r.client_id = c.client_id
		WHERE r.run_id = ?
	`
	return r.scanOne(r.db.queryRow(ctx, query, runID))
}

func (r *RunRepository) scanOne(row *sql.Row) (*models.Run, error) {
	run := &models.Run{}
	var description, folderPath sql.NullString
	err := row.Scan(
		&run.ID,
		&run.ClientID,
		&run.ClientName,
		&run.Name,
		&description,
		&run.RunDate,
		&run.InputParameters,
		&folderPath,
		&run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run.Description = description.String
	run.FolderPath = folderPath.String
	return run, nil
}

// List returns all runs, optionally filtered by client name.
func (r *RunRepository) List(ctx context.Context, clientFilter string) ([]*models.Run, error) {
	query := `
		SELECT r.run_id, r.client_id, c.client_name, r.run_name, r.description,
			r.run_date, r.input_parameters, r.folder_path, r.created_at
		FROM runs r
		JOIN clients c ON r.client_id = c.client_id
	`
	var args []any
	if clientFilter != "" {
		query += " WHERE c.client_name = ?"
		args = append(args, clientFilter)
	}
	query += " ORDER BY c.client_name, r.run_name"

	rows, err := r.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run := &models.Run{}
		var description, folderPath sql.NullString
		err := rows.Scan(
			&run.ID,
			&run.ClientID,
			&run.ClientName,
			&run.Name,
			&description,
			&run.RunDate,
			&run.InputParameters,
			&folderPath,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Description = description.String
		run.FolderPath = folderPath.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
