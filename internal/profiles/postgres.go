package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/tusers/internal/gateway"
)

const uniqueViolationCode = "23505"

// PostgresStore persists profiles in PostgreSQL with application fields in a JSONB column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store on an existing pool (see BuildPool and EnsureSchema).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert creates a row; a duplicate id maps to gateway.ErrConflict.
func (store *PostgresStore) Insert(ctx context.Context, profile gateway.Profile) (gateway.Profile, error) {
	attributes, encodeErr := encodeAttributes(profile.Attributes)
	if encodeErr != nil {
		return gateway.Profile{}, fmt.Errorf("profiles.pg.insert: %w: %w", gateway.ErrValidation, encodeErr)
	}
	row := store.pool.QueryRow(ctx, `
INSERT INTO profiles (id, email, attributes)
VALUES ($1, $2, $3::jsonb)
RETURNING id, email, attributes
`, profile.ID, profile.Email, attributes)
	inserted, scanErr := scanProfile(row)
	if scanErr != nil {
		return gateway.Profile{}, classify("profiles.pg.insert", scanErr)
	}
	return inserted, nil
}

// SelectAll returns every profile ordered by creation time.
func (store *PostgresStore) SelectAll(ctx context.Context) ([]gateway.Profile, error) {
	rows, queryErr := store.pool.Query(ctx, `SELECT id, email, attributes FROM profiles ORDER BY created_at, id`)
	if queryErr != nil {
		return nil, classify("profiles.pg.select_all", queryErr)
	}
	defer rows.Close()
	result := make([]gateway.Profile, 0)
	for rows.Next() {
		profile, scanErr := scanProfile(rows)
		if scanErr != nil {
			return nil, classify("profiles.pg.select_all", scanErr)
		}
		result = append(result, profile)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, classify("profiles.pg.select_all", rowsErr)
	}
	return result, nil
}

// SelectByID returns gateway.ErrNotFound when no row matches.
func (store *PostgresStore) SelectByID(ctx context.Context, profileID string) (gateway.Profile, error) {
	row := store.pool.QueryRow(ctx, `SELECT id, email, attributes FROM profiles WHERE id = $1`, profileID)
	profile, scanErr := scanProfile(row)
	if scanErr != nil {
		return gateway.Profile{}, classify("profiles.pg.select", scanErr)
	}
	return profile, nil
}

// Update merges fields into the attributes column.
func (store *PostgresStore) Update(ctx context.Context, profileID string, fields map[string]any) (gateway.Profile, error) {
	patch, encodeErr := encodeAttributes(gateway.StripImmutableFields(fields))
	if encodeErr != nil {
		return gateway.Profile{}, fmt.Errorf("profiles.pg.update: %w: %w", gateway.ErrValidation, encodeErr)
	}
	row := store.pool.QueryRow(ctx, `
UPDATE profiles
SET attributes = attributes || $2::jsonb, updated_at = now()
WHERE id = $1
RETURNING id, email, attributes
`, profileID, patch)
	updated, scanErr := scanProfile(row)
	if scanErr != nil {
		return gateway.Profile{}, classify("profiles.pg.update", scanErr)
	}
	return updated, nil
}

// Delete removes the row if present.
func (store *PostgresStore) Delete(ctx context.Context, profileID string) error {
	if _, err := store.pool.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, profileID); err != nil {
		return classify("profiles.pg.delete", err)
	}
	return nil
}

func scanProfile(row pgx.Row) (gateway.Profile, error) {
	var profile gateway.Profile
	var attributes []byte
	if err := row.Scan(&profile.ID, &profile.Email, &attributes); err != nil {
		return gateway.Profile{}, err
	}
	profile.Attributes = make(map[string]any)
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &profile.Attributes); err != nil {
			return gateway.Profile{}, fmt.Errorf("profiles.pg.decode: %w", err)
		}
	}
	return profile, nil
}

func encodeAttributes(attributes map[string]any) (string, error) {
	if attributes == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func classify(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, gateway.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%s: %w", operation, gateway.ErrConflict)
	}
	return fmt.Errorf("%s: %w: %w", operation, gateway.ErrGatewayUnavailable, err)
}
