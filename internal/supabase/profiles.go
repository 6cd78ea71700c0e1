package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tyemirov/tusers/internal/gateway"
)

const (
	restPathPrefix       = "/rest/v1/"
	returnRepresentation = "return=representation"
	uniqueViolationCode  = "23505"
)

// ProfileStore implements gateway.ProfileStore on a PostgREST table whose
// columns are id, email, and the application fields.
type ProfileStore struct {
	client *Client
	table  string
}

// NewProfileStore targets table, "users" when empty.
func NewProfileStore(client *Client, table string) *ProfileStore {
	table = strings.TrimSpace(table)
	if table == "" {
		table = "users"
	}
	return &ProfileStore{client: client, table: table}
}

// Insert creates a row and returns its stored representation.
func (store *ProfileStore) Insert(ctx context.Context, profile gateway.Profile) (gateway.Profile, error) {
	var rows []map[string]any
	err := store.client.do(ctx, request{
		method:  http.MethodPost,
		path:    store.path(),
		headers: map[string]string{"Prefer": returnRepresentation},
		body:    profile.Fields(),
	}, &rows)
	if err != nil {
		return gateway.Profile{}, classifyRest("supabase.profiles.insert", err)
	}
	if len(rows) == 0 {
		return profile, nil
	}
	return decodeRow("supabase.profiles.insert", rows[0])
}

// SelectAll returns every row.
func (store *ProfileStore) SelectAll(ctx context.Context) ([]gateway.Profile, error) {
	var rows []map[string]any
	err := store.client.do(ctx, request{
		method: http.MethodGet,
		path:   store.path(),
		query:  url.Values{"select": []string{"*"}},
	}, &rows)
	if err != nil {
		return nil, classifyRest("supabase.profiles.select_all", err)
	}
	result := make([]gateway.Profile, 0, len(rows))
	for _, row := range rows {
		profile, decodeErr := decodeRow("supabase.profiles.select_all", row)
		if decodeErr != nil {
			return nil, decodeErr
		}
		result = append(result, profile)
	}
	return result, nil
}

// SelectByID returns gateway.ErrNotFound when no row matches.
func (store *ProfileStore) SelectByID(ctx context.Context, profileID string) (gateway.Profile, error) {
	var rows []map[string]any
	err := store.client.do(ctx, request{
		method: http.MethodGet,
		path:   store.path(),
		query:  url.Values{"select": []string{"*"}, "id": []string{"eq." + profileID}},
	}, &rows)
	if err != nil {
		return gateway.Profile{}, classifyRest("supabase.profiles.select", err)
	}
	if len(rows) == 0 {
		return gateway.Profile{}, fmt.Errorf("supabase.profiles.select: %w", gateway.ErrNotFound)
	}
	return decodeRow("supabase.profiles.select", rows[0])
}

// Update patches the row. Id, email, and password never reach the table.
func (store *ProfileStore) Update(ctx context.Context, profileID string, fields map[string]any) (gateway.Profile, error) {
	patch := gateway.StripImmutableFields(fields)
	if len(patch) == 0 {
		return store.SelectByID(ctx, profileID)
	}
	var rows []map[string]any
	err := store.client.do(ctx, request{
		method:  http.MethodPatch,
		path:    store.path(),
		query:   url.Values{"id": []string{"eq." + profileID}},
		headers: map[string]string{"Prefer": returnRepresentation},
		body:    patch,
	}, &rows)
	if err != nil {
		return gateway.Profile{}, classifyRest("supabase.profiles.update", err)
	}
	if len(rows) == 0 {
		return gateway.Profile{}, fmt.Errorf("supabase.profiles.update: %w", gateway.ErrNotFound)
	}
	return decodeRow("supabase.profiles.update", rows[0])
}

// Delete removes the row; deleting nothing is not an error.
func (store *ProfileStore) Delete(ctx context.Context, profileID string) error {
	err := store.client.do(ctx, request{
		method: http.MethodDelete,
		path:   store.path(),
		query:  url.Values{"id": []string{"eq." + profileID}},
	}, nil)
	if err != nil {
		return classifyRest("supabase.profiles.delete", err)
	}
	return nil
}

func (store *ProfileStore) path() string {
	return restPathPrefix + store.table
}

func decodeRow(operation string, row map[string]any) (gateway.Profile, error) {
	profile, err := gateway.ProfileFromFields(row)
	if err != nil {
		return gateway.Profile{}, fmt.Errorf("%s: %w: %w", operation, gateway.ErrGatewayUnavailable, err)
	}
	return profile, nil
}

func classifyRest(operation string, err error) error {
	apiErr, ok := asAPIError(err)
	if !ok || errors.Is(err, gateway.ErrGatewayUnavailable) {
		return fmt.Errorf("%s: %w", operation, unavailableUnlessClassified(err))
	}
	switch {
	case apiErr.Status == http.StatusConflict || apiErr.Code == uniqueViolationCode:
		return fmt.Errorf("%s: %w: %w", operation, gateway.ErrConflict, err)
	case apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w: %w", operation, gateway.ErrValidation, err)
	default:
		return fmt.Errorf("%s: %w: %w", operation, gateway.ErrGatewayUnavailable, err)
	}
}
