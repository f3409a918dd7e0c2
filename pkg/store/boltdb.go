package store

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/devyard/vm/pkg/errdefs"
	"github.com/devyard/vm/pkg/types"
)

var (
	bucketWorkspaces = []byte("workspaces")
	bucketNames      = []byte("workspace_names")
	bucketServices   = []byte("services")
	bucketMeta       = []byte("meta")

	keySchemaVersion = []byte("schema_version")
)

// BoltStore implements Store backed by a single bbolt file.
type BoltStore struct {
	db *bolt.DB

	// now is injectable for expiry tests.
	now func() time.Time
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errdefs.WrapFilesystem("mkdir", filepath.Dir(path), err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errdefs.WrapFilesystem("open", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkspaces, bucketNames, bucketServices, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keySchemaVersion) == nil {
			return meta.Put(keySchemaVersion, encodeVersion(SchemaVersion))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errdefs.Wrap(err, errdefs.KindInternal, "initialize store")
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Schema returns the store's schema version.
func (s *BoltStore) Schema() (int, error) {
	var v int
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keySchemaVersion)
		if data == nil {
			return errdefs.Internalf("store has no schema version")
		}
		v = decodeVersion(data)
		return nil
	})
	return v, err
}

// CreateWorkspace records a new workspace in Creating state. The (owner,
// name) pair must be unused.
func (s *BoltStore) CreateWorkspace(req CreateWorkspaceRequest) (*types.Workspace, error) {
	if req.Name == "" {
		return nil, errdefs.Validationf("workspace name is required")
	}
	if !req.Provider.Valid() {
		return nil, errdefs.Validationf("unknown provider %q", req.Provider)
	}
	if req.TTLSeconds < 0 {
		return nil, errdefs.Validationf("ttl_seconds must not be negative")
	}

	now := s.now().UTC().Truncate(time.Second)
	w := &types.Workspace{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Owner:      req.Owner,
		Template:   req.Template,
		Provider:   req.Provider,
		Status:     types.StatusCreating,
		CreatedAt:  now,
		UpdatedAt:  now,
		TTLSeconds: req.TTLSeconds,
		Metadata:   req.Metadata,
	}
	if req.TTLSeconds > 0 {
		exp := now.Add(time.Duration(req.TTLSeconds) * time.Second)
		w.ExpiresAt = &exp
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketNames)
		key := nameKey(w.Owner, w.Name)
		if names.Get(key) != nil {
			return errdefs.Validationf("workspace %q already exists for owner %q", w.Name, w.Owner)
		}
		if err := names.Put(key, []byte(w.ID)); err != nil {
			return err
		}
		return putRow(tx, w)
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorkspace retrieves a workspace by id.
func (s *BoltStore) GetWorkspace(id string) (*types.Workspace, error) {
	var w *types.Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		w, err = getRow(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetWorkspaceByName retrieves a workspace through the (owner, name) index.
func (s *BoltStore) GetWorkspaceByName(owner, name string) (*types.Workspace, error) {
	var w *types.Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketNames).Get(nameKey(owner, name))
		if id == nil {
			return errdefs.NotFoundf("workspace %s/%s", owner, name)
		}
		var err error
		w, err = getRow(tx, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// ListWorkspaces returns workspaces matching the filters, in stable id
// order (bbolt iterates keys sorted).
func (s *BoltStore) ListWorkspaces(f Filters) ([]*types.Workspace, error) {
	var out []*types.Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkspaces).ForEach(func(k, v []byte) error {
			var row workspaceRow
			if err := json.Unmarshal(v, &row); err != nil {
				return errdefs.Internalf("corrupt workspace row %s: %v", k, err)
			}
			w := fromRow(row)
			if f.Owner != "" && w.Owner != f.Owner {
				return nil
			}
			if f.Status != "" && w.Status != f.Status {
				return nil
			}
			out = append(out, w)
			return nil
		})
	})
	return out, err
}

// GetWorkspacesByStatus returns every workspace in the given state.
func (s *BoltStore) GetWorkspacesByStatus(status types.WorkspaceStatus) ([]*types.Workspace, error) {
	return s.ListWorkspaces(Filters{Status: status})
}

// UpdateWorkspaceStatus moves a workspace to a new state, enforcing the
// record invariants: Failed requires an error message, Running requires a
// provider id, and leaving Failed clears the stored error.
func (s *BoltStore) UpdateWorkspaceStatus(id string, u StatusUpdate) (*types.Workspace, error) {
	if !u.Status.Valid() {
		return nil, errdefs.Validationf("unknown status %q", u.Status)
	}

	var updated *types.Workspace
	err := s.db.Update(func(tx *bolt.Tx) error {
		w, err := getRow(tx, id)
		if err != nil {
			return err
		}

		w.Status = u.Status
		w.UpdatedAt = s.now().UTC().Truncate(time.Second)
		if u.ProviderID != nil {
			w.ProviderID = *u.ProviderID
		}
		if u.ConnectionInfo != nil {
			w.ConnectionInfo = u.ConnectionInfo
		}
		if u.ErrorMessage != nil {
			w.ErrorMessage = *u.ErrorMessage
		}
		if u.Status != types.StatusFailed {
			w.ErrorMessage = ""
		}

		if w.Status == types.StatusFailed && w.ErrorMessage == "" {
			return errdefs.Internalf("workspace %s: Failed status requires an error message", id)
		}
		if w.Status == types.StatusRunning && w.ProviderID == "" {
			return errdefs.Internalf("workspace %s: Running status requires a provider id", id)
		}

		updated = w
		return putRow(tx, w)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWorkspace removes the row and its name-index entry.
func (s *BoltStore) DeleteWorkspace(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		w, err := getRow(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketNames).Delete(nameKey(w.Owner, w.Name)); err != nil {
			return err
		}
		return tx.Bucket(bucketWorkspaces).Delete([]byte(id))
	})
}

// GetExpiredWorkspaces returns workspaces whose TTL elapsed at now.
func (s *BoltStore) GetExpiredWorkspaces(now time.Time) ([]*types.Workspace, error) {
	all, err := s.ListWorkspaces(Filters{})
	if err != nil {
		return nil, err
	}
	var out []*types.Workspace
	for _, w := range all {
		if w.Expired(now) {
			out = append(out, w)
		}
	}
	return out, nil
}

func putRow(tx *bolt.Tx, w *types.Workspace) error {
	data, err := json.Marshal(toRow(w))
	if err != nil {
		return errdefs.Internalf("marshal workspace %s: %v", w.ID, err)
	}
	return tx.Bucket(bucketWorkspaces).Put([]byte(w.ID), data)
}

func getRow(tx *bolt.Tx, id string) (*types.Workspace, error) {
	data := tx.Bucket(bucketWorkspaces).Get([]byte(id))
	if data == nil {
		return nil, errdefs.NotFoundf("workspace %s", id)
	}
	var row workspaceRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, errdefs.Internalf("corrupt workspace row %s: %v", id, err)
	}
	return fromRow(row), nil
}

func encodeVersion(v int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeVersion(data []byte) int {
	if len(data) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(data))
}
