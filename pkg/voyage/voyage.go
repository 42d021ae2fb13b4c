// Package voyage constructs the immutable voyage descriptor (component C3)
// and serializes it canonically for storage on the storage VM.
package voyage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shipfleet/voyage/pkg/types"
)

// IDPrefix begins every voyage id, so a bare id is recognizable and the
// ship/storage VM naming convention (<voyage-id>-ship-<i>, <voyage-id>-storage)
// can never collide with an unrelated VM name.
const IDPrefix = "voy"

// New constructs a fresh voyage descriptor. id is assigned here and never
// changes afterward; branch defaults to id and task_set_id is derived from
// it, per the C3 contract.
func New(objective, repo string, shipCount int) (types.Voyage, error) {
	if objective == "" {
		return types.Voyage{}, fmt.Errorf("voyage: objective must not be empty")
	}
	if repo == "" {
		return types.Voyage{}, fmt.Errorf("voyage: repo must not be empty")
	}
	if shipCount <= 0 {
		return types.Voyage{}, fmt.Errorf("voyage: ship_count must be positive, got %d", shipCount)
	}

	id := fmt.Sprintf("%s-%s", IDPrefix, uuid.New().String())

	return types.Voyage{
		ID:        id,
		Objective: objective,
		Repo:      repo,
		Branch:    id,
		TaskSetID: id + "-tasks",
		ShipCount: shipCount,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// StorageName is the deterministic name of a voyage's storage VM.
func StorageName(voyageID string) string {
	return voyageID + "-storage"
}

// ShipName is the deterministic name of the ship VM at the given index.
func ShipName(voyageID string, index int) string {
	return fmt.Sprintf("%s-ship-%d", voyageID, index)
}

// ShipNamePrefix is the prefix shared by every ship VM of a voyage, used by
// C1.list to discover the fleet.
func ShipNamePrefix(voyageID string) string {
	return voyageID + "-ship-"
}

// Marshal serializes a voyage descriptor to canonical JSON for the
// <voyage-root>/voyage.json artifact.
func Marshal(v types.Voyage) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Unmarshal reloads a voyage descriptor previously written by Marshal.
func Unmarshal(data []byte) (types.Voyage, error) {
	var v types.Voyage
	if err := json.Unmarshal(data, &v); err != nil {
		return types.Voyage{}, fmt.Errorf("voyage: parse voyage.json: %w", err)
	}
	return v, nil
}
