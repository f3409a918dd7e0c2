package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/devyard/vm/pkg/platform"
	"github.com/devyard/vm/pkg/store"
)

var (
	dbPath     = flag.String("db", "", "Workspace state database (default: the platform state path)")
	dryRun     = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backupPath = flag.String("backup", "", "Backup file to write before migrating (default: <db>.backup)")
)

// Schema history:
//
//	0 — pre-release stores: workspaces bucket only, no meta bucket, no
//	    (owner, name) index.
//	1 — meta bucket with schema_version, workspace_names index, services
//	    reference counts.
func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("vm state store migration")
	log.Println("========================")

	path := *dbPath
	if path == "" {
		path = platform.WorkspaceStatePath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", path)
	}
	log.Printf("Database: %s", path)
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = path + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(path, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created")
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := migrate(db, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
	} else {
		log.Println("\n✓ Migration completed")
	}
}

func migrate(db *bolt.DB, dryRun bool) error {
	version, rows, orphans, err := inspect(db)
	if err != nil {
		return err
	}

	log.Printf("Schema version: %d (target %d)", version, store.SchemaVersion)
	log.Printf("Workspace rows: %d (%d missing from the name index)", rows, orphans)

	if version >= store.SchemaVersion && orphans == 0 {
		log.Println("✓ Store is already at the current schema")
		return nil
	}

	if dryRun {
		log.Println("\n[DRY RUN] Would perform the following operations:")
		log.Println("1. Create the meta, workspace_names and services buckets if missing")
		if orphans > 0 {
			log.Printf("2. Index %d workspace row(s) by (owner, name)", orphans)
		}
		log.Printf("3. Stamp schema_version = %d", store.SchemaVersion)
		return nil
	}

	return db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{"workspaces", "workspace_names", "services", "meta"} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}

		names := tx.Bucket([]byte("workspace_names"))
		indexed := 0
		err := tx.Bucket([]byte("workspaces")).ForEach(func(k, v []byte) error {
			var row struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Owner string `json:"owner"`
			}
			if err := json.Unmarshal(v, &row); err != nil {
				log.Printf("⚠ Skipping invalid row %s: %v", k, err)
				return nil
			}
			key := []byte(row.Owner + "/" + row.Name)
			if names.Get(key) != nil {
				return nil
			}
			indexed++
			return names.Put(key, []byte(row.ID))
		})
		if err != nil {
			return err
		}
		if indexed > 0 {
			log.Printf("✓ Indexed %d workspace row(s)", indexed)
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(store.SchemaVersion))
		if err := tx.Bucket([]byte("meta")).Put([]byte("schema_version"), buf); err != nil {
			return err
		}
		log.Printf("✓ Stamped schema_version = %d", store.SchemaVersion)
		return nil
	})
}

// inspect reports the current version, row count and how many rows are
// missing from the name index.
func inspect(db *bolt.DB) (version, rows, orphans int, err error) {
	err = db.View(func(tx *bolt.Tx) error {
		if meta := tx.Bucket([]byte("meta")); meta != nil {
			if data := meta.Get([]byte("schema_version")); len(data) == 8 {
				version = int(binary.BigEndian.Uint64(data))
			}
		}

		workspaces := tx.Bucket([]byte("workspaces"))
		if workspaces == nil {
			return nil
		}
		names := tx.Bucket([]byte("workspace_names"))
		return workspaces.ForEach(func(k, v []byte) error {
			rows++
			var row struct {
				Name  string `json:"name"`
				Owner string `json:"owner"`
			}
			if err := json.Unmarshal(v, &row); err != nil {
				return nil
			}
			if names == nil || names.Get([]byte(row.Owner+"/"+row.Name)) == nil {
				orphans++
			}
			return nil
		})
	})
	return version, rows, orphans, err
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0o600)
}
