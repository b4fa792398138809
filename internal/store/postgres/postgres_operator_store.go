package postgres

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/RezaEskandarii/shotfire/custom_errors"
	"github.com/RezaEskandarii/shotfire/internal/store"
	"github.com/RezaEskandarii/shotfire/types"
)

type postgresOperatorStore struct {
	db *sql.DB
}

// NewPostgresOperatorStore creates a new OperatorStore with a DB connection
func NewPostgresOperatorStore(db *sql.DB) store.OperatorStore {
	return &postgresOperatorStore{db: db}
}

func (r *postgresOperatorStore) Upsert(ctx context.Context, username, password string) (int64, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	query := `
		INSERT INTO shotfire.operators (username, password) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET password = EXCLUDED.password
		RETURNING id`
	var id int64
	if err := r.db.QueryRowContext(ctx, query, username, string(hashedPassword)).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *postgresOperatorStore) Authenticate(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := r.db.QueryRowContext(ctx, `SELECT password FROM shotfire.operators WHERE username = $1`, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func (r *postgresOperatorStore) List(ctx context.Context) ([]types.Operator, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, username, created_at FROM shotfire.operators ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var operators []types.Operator
	for rows.Next() {
		var op types.Operator
		if err := rows.Scan(&op.ID, &op.Username, &op.CreatedAt); err != nil {
			return nil, err
		}
		operators = append(operators, op)
	}
	return operators, rows.Err()
}

func (r *postgresOperatorStore) Delete(ctx context.Context, username string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM shotfire.operators WHERE username = $1`, username)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return custom_errors.ErrOperatorNotFound
	}
	return nil
}
