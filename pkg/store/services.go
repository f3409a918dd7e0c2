package store

import (
	"encoding/json"
	"slices"

	bolt "go.etcd.io/bbolt"

	"github.com/devyard/vm/pkg/errdefs"
)

// Service reference tracking. The shared-service manager records which
// workspaces depend on each service here so reference counts survive
// process restarts. Values are JSON arrays of workspace ids.

// AddServiceRef registers a workspace against a service and returns the new
// reference count. Adding the same workspace twice is a no-op.
func (s *BoltStore) AddServiceRef(service, workspaceID string) (int, error) {
	var count int
	err := s.db.Update(func(tx *bolt.Tx) error {
		refs, err := readRefs(tx, service)
		if err != nil {
			return err
		}
		if !slices.Contains(refs, workspaceID) {
			refs = append(refs, workspaceID)
		}
		count = len(refs)
		return writeRefs(tx, service, refs)
	})
	return count, err
}

// RemoveServiceRef drops a workspace's reference and returns the remaining
// count. Removing an absent reference is a no-op.
func (s *BoltStore) RemoveServiceRef(service, workspaceID string) (int, error) {
	var count int
	err := s.db.Update(func(tx *bolt.Tx) error {
		refs, err := readRefs(tx, service)
		if err != nil {
			return err
		}
		refs = slices.DeleteFunc(refs, func(id string) bool { return id == workspaceID })
		count = len(refs)
		if count == 0 {
			return tx.Bucket(bucketServices).Delete([]byte(service))
		}
		return writeRefs(tx, service, refs)
	})
	return count, err
}

// ServiceRefs returns the workspace ids registered against a service.
func (s *BoltStore) ServiceRefs(service string) ([]string, error) {
	var refs []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		refs, err = readRefs(tx, service)
		return err
	})
	return refs, err
}

// AllServiceRefs returns every service with at least one reference.
func (s *BoltStore) AllServiceRefs() (map[string][]string, error) {
	out := make(map[string][]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var refs []string
			if err := json.Unmarshal(v, &refs); err != nil {
				return errdefs.Internalf("corrupt service refs %s: %v", k, err)
			}
			out[string(k)] = refs
			return nil
		})
	})
	return out, err
}

func readRefs(tx *bolt.Tx, service string) ([]string, error) {
	data := tx.Bucket(bucketServices).Get([]byte(service))
	if data == nil {
		return nil, nil
	}
	var refs []string
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, errdefs.Internalf("corrupt service refs %s: %v", service, err)
	}
	return refs, nil
}

func writeRefs(tx *bolt.Tx, service string, refs []string) error {
	data, err := json.Marshal(refs)
	if err != nil {
		return errdefs.Internalf("marshal service refs %s: %v", service, err)
	}
	return tx.Bucket(bucketServices).Put([]byte(service), data)
}
