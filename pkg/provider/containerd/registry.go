package containerd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/shipfleet/voyage/pkg/provider"
)

var bucketVMs = []byte("vms")

// Registry is a BoltDB-backed record of the VMs this backend has created,
// keyed by name. A real cloud API persists VM records outside the CLI
// process; the local/dev backend has no such external system, so it keeps
// its own store so that list/get survive across separate invocations.
type Registry struct {
	db *bolt.DB
}

// NewRegistry opens (creating if absent) dataDir/registry.db.
func NewRegistry(dataDir string) (*Registry, error) {
	dbPath := filepath.Join(dataDir, "registry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("provider/containerd: open registry: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVMs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("provider/containerd: create registry bucket: %w", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Put upserts a VM record keyed by name.
func (r *Registry) Put(rec provider.Record) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketVMs).Put([]byte(rec.Name), data)
	})
}

// Get looks up a VM record by name (the id the rest of this backend uses).
func (r *Registry) Get(id string) (provider.Record, bool, error) {
	var rec provider.Record
	found := false
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVMs).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return provider.Record{}, false, fmt.Errorf("provider/containerd: get %s: %w", id, err)
	}
	return rec, found, nil
}

// Delete removes a VM record; deleting an absent one is not an error.
func (r *Registry) Delete(id string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).Delete([]byte(id))
	})
}

// List returns every VM record, sorted by name via the bucket's natural
// byte-order iteration.
func (r *Registry) List() ([]provider.Record, error) {
	var out []provider.Record
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).ForEach(func(k, v []byte) error {
			var rec provider.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("provider/containerd: list registry: %w", err)
	}
	return out, nil
}
