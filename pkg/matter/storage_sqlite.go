package matter

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO required

	"github.com/nodeforge/fabricd/pkg/acl"
	"github.com/nodeforge/fabricd/pkg/fabric"
)

// SQLiteStorage is a durable Storage backed by a local SQLite database in
// WAL mode. Fabrics live in their own table for lookups by index; ACLs,
// counters and group keys are namespaced singleton blobs in kv, mirroring
// the storage layout's fabrics/nodes/sessions/events/ota contexts.
type SQLiteStorage struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLiteStorage opens or creates the database at dir/fabricd.db.
func OpenSQLiteStorage(dir string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("matter: create storage dir: %w", err)
	}

	dsn := filepath.Join(dir, "fabricd.db") + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("matter: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("matter: ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite is single-writer

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("matter: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS fabrics (
			fabric_index INTEGER PRIMARY KEY,
			payload      BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			context TEXT NOT NULL,
			key     TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (context, key)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStorage) LoadFabrics() ([]*fabric.FabricInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT payload FROM fabrics ORDER BY fabric_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*fabric.FabricInfo
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		f, err := decodeFabricInfo(payload)
		if err != nil {
			return nil, fmt.Errorf("matter: decode fabric: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *SQLiteStorage) SaveFabric(info *fabric.FabricInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := encodeFabricInfo(info)
	if err != nil {
		return fmt.Errorf("matter: encode fabric: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO fabrics (fabric_index, payload) VALUES (?, ?)
		 ON CONFLICT(fabric_index) DO UPDATE SET payload=excluded.payload`,
		info.FabricIndex, payload,
	)
	return err
}

func (s *SQLiteStorage) DeleteFabric(index fabric.FabricIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM fabrics WHERE fabric_index = ?`, index)
	return err
}

func (s *SQLiteStorage) LoadACLs() ([]*acl.Entry, error) {
	payload, ok, err := s.getKV("acl", "entries")
	if err != nil || !ok {
		return nil, err
	}
	return decodeACLList(payload)
}

func (s *SQLiteStorage) SaveACLs(entries []*acl.Entry) error {
	payload, err := encodeACLList(entries)
	if err != nil {
		return fmt.Errorf("matter: encode acls: %w", err)
	}
	return s.putKV("acl", "entries", payload)
}

func (s *SQLiteStorage) LoadCounters() (*CounterState, error) {
	payload, ok, err := s.getKV("counters", "state")
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewCounterState(), nil
	}
	return decodeCounterState(payload)
}

func (s *SQLiteStorage) SaveCounters(state *CounterState) error {
	payload, err := encodeCounterState(state)
	if err != nil {
		return fmt.Errorf("matter: encode counters: %w", err)
	}
	return s.putKV("counters", "state", payload)
}

func (s *SQLiteStorage) LoadGroupKeys() ([]GroupKeyEntry, error) {
	payload, ok, err := s.getKV("groupkeys", "entries")
	if err != nil || !ok {
		return nil, err
	}
	return decodeGroupKeyList(payload)
}

func (s *SQLiteStorage) SaveGroupKeys(keys []GroupKeyEntry) error {
	payload, err := encodeGroupKeyList(keys)
	if err != nil {
		return fmt.Errorf("matter: encode group keys: %w", err)
	}
	return s.putKV("groupkeys", "entries", payload)
}

func (s *SQLiteStorage) getKV(context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM kv WHERE context = ? AND key = ?`, context, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStorage) putKV(context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO kv (context, key, payload) VALUES (?, ?, ?)
		 ON CONFLICT(context, key) DO UPDATE SET payload=excluded.payload`,
		context, key, payload,
	)
	return err
}

var _ Storage = (*SQLiteStorage)(nil)
