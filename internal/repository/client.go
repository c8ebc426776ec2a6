package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flexbatt/flexbatt/internal/models"
)

// ErrNotFound is returned when a lookup by natural key matches nothing.
var ErrNotFound = errors.New("not found")

// ClientRepository manages client rows.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a client repository.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Upsert inserts the client or, if the name already exists, updates its
// description. A duplicate natural key is success, not an error.
func (r *ClientRepository) Upsert(ctx context.Context, client *models.Client) error {
	query := `
		INSERT INTO clients (client_name, description, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (client_name) DO UPDATE SET
			description = EXCLUDED.description
		RETURNING client_id, created_at
	`
	now := time.Now().UTC()
	err := r.db.queryRow(ctx, query, client.Name, client.Description, now).
		Scan(&client.ID, &client.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

// GetByName looks a client up by its unique name.
func (r *ClientRepository) GetByName(ctx context.Context, name string) (*models.Client, error) {
	query := `
		SELECT client_id, client_name, description, created_at
		FROM clients WHERE client_name = ?
	`
	client := &models.Client{}
	var description sql.NullString
	err := r.db.queryRow(ctx, query, name).Scan(
		&client.ID,
		&client.Name,
		&description,
		&client.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client by name: %w", err)
	}
	client.Description = description.String
	return client, nil
}

// List returns all clients ordered by name.
func (r *ClientRepository) List(ctx context.Context) ([]*models.Client, error) {
	query := `
		SELECT client_id, client_name, description, created_at
		FROM clients ORDER BY client_name
	`
	rows, err := r.db.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client := &models.Client{}
		var description sql.NullString
		if err := rows.Scan(&client.ID, &client.Name, &description, &client.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		client.Description = description.String
		clients = append(clients, client)
	}
	return clients, rows.Err()
}
