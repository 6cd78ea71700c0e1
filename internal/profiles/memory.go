// Package profiles holds the self-hosted profile stores: in-memory for local
// runs and tests, PostgreSQL for deployments without Supabase.
package profiles

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tyemirov/tusers/internal/gateway"
)

// MemoryStore keeps profiles in a map guarded by a mutex.
type MemoryStore struct {
	mutex    sync.RWMutex
	profiles map[string]gateway.Profile
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]gateway.Profile)}
}

// Insert stores a new profile; an existing id is a conflict.
func (store *MemoryStore) Insert(ctx context.Context, profile gateway.Profile) (gateway.Profile, error) {
	if profile.ID == "" {
		return gateway.Profile{}, fmt.Errorf("profiles.memory.insert: %w", gateway.ErrValidation)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.profiles[profile.ID]; exists {
		return gateway.Profile{}, fmt.Errorf("profiles.memory.insert: %w", gateway.ErrConflict)
	}
	stored := cloneProfile(profile)
	store.profiles[profile.ID] = stored
	return cloneProfile(stored), nil
}

// SelectAll returns every profile ordered by id.
func (store *MemoryStore) SelectAll(ctx context.Context) ([]gateway.Profile, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	result := make([]gateway.Profile, 0, len(store.profiles))
	for _, profile := range store.profiles {
		result = append(result, cloneProfile(profile))
	}
	sort.Slice(result, func(left, right int) bool {
		return result[left].ID < result[right].ID
	})
	return result, nil
}

// SelectByID returns gateway.ErrNotFound for an unknown id.
func (store *MemoryStore) SelectByID(ctx context.Context, profileID string) (gateway.Profile, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	profile, ok := store.profiles[profileID]
	if !ok {
		return gateway.Profile{}, fmt.Errorf("profiles.memory.select: %w", gateway.ErrNotFound)
	}
	return cloneProfile(profile), nil
}

// Update merges fields into the profile's attributes. Id and email are never changed.
func (store *MemoryStore) Update(ctx context.Context, profileID string, fields map[string]any) (gateway.Profile, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	profile, ok := store.profiles[profileID]
	if !ok {
		return gateway.Profile{}, fmt.Errorf("profiles.memory.update: %w", gateway.ErrNotFound)
	}
	updated := cloneProfile(profile)
	for key, value := range gateway.StripImmutableFields(fields) {
		updated.Attributes[key] = value
	}
	store.profiles[profileID] = updated
	return cloneProfile(updated), nil
}

// Delete removes the profile if present.
func (store *MemoryStore) Delete(ctx context.Context, profileID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.profiles, profileID)
	return nil
}

func cloneProfile(profile gateway.Profile) gateway.Profile {
	attributes := make(map[string]any, len(profile.Attributes))
	for key, value := range profile.Attributes {
		attributes[key] = value
	}
	return gateway.Profile{ID: profile.ID, Email: profile.Email, Attributes: attributes}
}
