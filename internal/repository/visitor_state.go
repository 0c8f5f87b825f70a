package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/salesboost/exitintent/internal/model"
)

// ErrVisitorStateNotFound is returned when a customer has no stored state.
var ErrVisitorStateNotFound = errors.New("visitor state not found")

// GetVisitorState loads the state of a logged-in customer.
func (r *Repository) GetVisitorState(ctx context.Context, userID string) (*model.VisitorState, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT state FROM visitor_states WHERE user_id = $1`, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVisitorStateNotFound
		}
		return nil, fmt.Errorf("failed to get visitor state: %w", err)
	}

	var state model.VisitorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode visitor state: %w", err)
	}
	return &state, nil
}

// UpsertVisitorState writes the state of a logged-in customer.
func (r *Repository) UpsertVisitorState(ctx context.Context, userID string, state *model.VisitorState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode visitor state: %w", err)
	}

	query := `
		INSERT INTO visitor_states (user_id, state)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET state = EXCLUDED.state
	`
	if _, err := r.pool.Exec(ctx, query, userID, data); err != nil {
		return fmt.Errorf("failed to upsert visitor state: %w", err)
	}
	return nil
}

// InsertVisitorStateIfAbsent writes state only when the customer has none.
// Returns false when a row already existed.
func (r *Repository) InsertVisitorStateIfAbsent(ctx context.Context, userID string, state *model.VisitorState) (bool, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("failed to encode visitor state: %w", err)
	}

	query := `
		INSERT INTO visitor_states (user_id, state)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, userID, data)
	if err != nil {
		return false, fmt.Errorf("failed to insert visitor state: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// DeleteVisitorState removes a customer's state. Missing rows are not an error.
func (r *Repository) DeleteVisitorState(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM visitor_states WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete visitor state: %w", err)
	}
	return nil
}
