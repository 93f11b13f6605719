package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store memoizes catalog queries in a local sqlite database so repeated runs
// don't hammer the API. Entries are cleared explicitly when the caller forces
// a refresh; build info is content-addressed by (version, build) and never
// expires on its own since published builds are immutable.
type Store struct {
	db *sql.DB
}

// buildListTTL bounds how long a cached build list is trusted without force.
const buildListTTL = 15 * time.Minute

// OpenStore opens (and initializes) the query cache at dbPath.
// Use ":memory:" for an ephemeral cache.
func OpenStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_lists (
		version TEXT PRIMARY KEY,
		builds TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS build_info (
		version TEXT NOT NULL,
		build INTEGER NOT NULL,
		payload TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (version, build)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// BuildList returns the cached build numbers for version, or ok=false when
// absent or stale.
func (s *Store) BuildList(version string) ([]int, bool, error) {
	var raw string
	var fetchedAt int64
	err := s.db.QueryRow(
		"SELECT builds, fetched_at FROM build_lists WHERE version = ?", version,
	).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query build list: %w", err)
	}
	if time.Since(time.Unix(fetchedAt, 0)) > buildListTTL {
		return nil, false, nil
	}
	var builds []int
	if err := json.Unmarshal([]byte(raw), &builds); err != nil {
		return nil, false, fmt.Errorf("decode cached build list: %w", err)
	}
	return builds, true, nil
}

// PutBuildList replaces the cached build numbers for version.
func (s *Store) PutBuildList(version string, builds []int) error {
	raw, err := json.Marshal(builds)
	if err != nil {
		return fmt.Errorf("encode build list: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO build_lists (version, builds, fetched_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(version) DO UPDATE SET builds = excluded.builds, fetched_at = excluded.fetched_at",
		version, string(raw), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store build list: %w", err)
	}
	return nil
}

// BuildInfo returns the cached payload for (version, build), or ok=false.
func (s *Store) BuildInfo(version string, build int) ([]byte, bool, error) {
	var raw string
	err := s.db.QueryRow(
		"SELECT payload FROM build_info WHERE version = ? AND build = ?", version, build,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query build info: %w", err)
	}
	return []byte(raw), true, nil
}

// PutBuildInfo stores the payload for (version, build).
func (s *Store) PutBuildInfo(version string, build int, payload []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO build_info (version, build, payload, fetched_at) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(version, build) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at",
		version, build, string(payload), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store build info: %w", err)
	}
	return nil
}

// Clear drops every cached query for version. This is the explicit
// cache-clear half of the force contract.
func (s *Store) Clear(version string) error {
	if _, err := s.db.Exec("DELETE FROM build_lists WHERE version = ?", version); err != nil {
		return fmt.Errorf("clear build list: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM build_info WHERE version = ?", version); err != nil {
		return fmt.Errorf("clear build info: %w", err)
	}
	return nil
}
