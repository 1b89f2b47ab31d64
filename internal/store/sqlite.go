package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/metal-toolbox/logixinvent/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// registers the sqlite database/sql driver
	_ "modernc.org/sqlite"
)

const (
	// DefaultSQLiteFile is the database file name used when the store path is a directory.
	DefaultSQLiteFile = "topology.db"

	memoryDatabase = ":memory:"
)

var (
	ErrSQLiteStore = errors.New("error in sqlite store")
)

// SQLiteStore keeps the latest snapshot of each system and every module ever seen,
// modules are keyed by system and serial so they can be looked up across scans.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens or creates the database at path, ":memory:" gives a private in memory database.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.Wrap(ErrSQLiteStore, "store path required")
	}

	if path != memoryDatabase {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, errors.Wrap(ErrSQLiteStore, err.Error())
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(ErrSQLiteStore, "open database: "+err.Error())
	}

	// an in memory database lives as long as its connection
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(ErrSQLiteStore, "migrate database: "+err.Error())
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		system TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		complete INTEGER NOT NULL DEFAULT 0,
		data JSON NOT NULL,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS modules (
		system TEXT NOT NULL,
		serial TEXT NOT NULL,
		scan_id TEXT NOT NULL,
		seen_at DATETIME NOT NULL,
		product_name TEXT NOT NULL,
		backplane TEXT,
		path TEXT NOT NULL,
		data JSON NOT NULL,
		PRIMARY KEY (system, serial)
	);

	CREATE INDEX IF NOT EXISTS idx_modules_serial ON modules(serial);
	CREATE INDEX IF NOT EXISTS idx_modules_backplane ON modules(backplane);
	`

	_, err := s.db.Exec(schema)

	return err
}

func (s *SQLiteStore) fail(err error, msg string) error {
	countError(model.StoreKindSQLite)
	return errors.Wrap(ErrSQLiteStore, msg+": "+err.Error())
}

func (s *SQLiteStore) SaveTopology(ctx context.Context, topology *model.Topology) error {
	if err := validate(topology); err != nil {
		return err
	}

	data, err := json.Marshal(topology)
	if err != nil {
		return s.fail(err, "marshal topology")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail(err, "begin transaction")
	}

	// rollback after commit is a no-op
	defer tx.Rollback() // nolint:errcheck // returned error is of no use here

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (system, scan_id, started_at, complete, data, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(system) DO UPDATE SET
			scan_id = excluded.scan_id,
			started_at = excluded.started_at,
			complete = excluded.complete,
			data = excluded.data,
			saved_at = excluded.saved_at
	`, topology.System, topology.ScanID, topology.StartedAt.UTC(), topology.Complete, string(data), time.Now().UTC())
	if err != nil {
		return s.fail(err, "save snapshot")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO modules (system, serial, scan_id, seen_at, product_name, backplane, path, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(system, serial) DO UPDATE SET
			scan_id = excluded.scan_id,
			seen_at = excluded.seen_at,
			product_name = excluded.product_name,
			backplane = excluded.backplane,
			path = excluded.path,
			data = excluded.data
	`)
	if err != nil {
		return s.fail(err, "prepare module upsert")
	}
	defer stmt.Close()

	for _, serial := range topology.ModuleSerials() {
		module := topology.Modules[serial]

		moduleData, err := json.Marshal(module)
		if err != nil {
			return s.fail(err, "marshal module "+serial)
		}

		_, err = stmt.ExecContext(
			ctx,
			topology.System,
			serial,
			topology.ScanID,
			topology.StartedAt.UTC(),
			module.ProductName,
			stringToNull(module.BackplaneSerial),
			module.Path,
			string(moduleData),
		)
		if err != nil {
			return s.fail(err, "save module "+serial)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.fail(err, "commit")
	}

	s.logger.WithFields(logrus.Fields{
		"system":  topology.System,
		"modules": len(topology.Modules),
	}).Debug("topology saved")

	return nil
}

func (s *SQLiteStore) TopologyBySystem(ctx context.Context, system string) (*model.Topology, error) {
	var data string

	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE system = ?`, system).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrNotFound, "system "+system)
		}

		return nil, s.fail(err, "query snapshot")
	}

	topology := &model.Topology{}
	if err := json.Unmarshal([]byte(data), topology); err != nil {
		return nil, s.fail(err, "unmarshal snapshot")
	}

	return topology, nil
}

func (s *SQLiteStore) ModuleBySerial(ctx context.Context, serial string) (*ModuleRecord, error) {
	var (
		system, scanID, data string
		seenAt               time.Time
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT system, scan_id, seen_at, data
		FROM modules
		WHERE serial = ?
		ORDER BY seen_at DESC
		LIMIT 1
	`, serial).Scan(&system, &scanID, &seenAt, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(ErrNotFound, "module "+serial)
		}

		return nil, s.fail(err, "query module")
	}

	record := &ModuleRecord{System: system, ScanID: scanID, SeenAt: seenAt}
	if err := json.Unmarshal([]byte(data), &record.Module); err != nil {
		return nil, s.fail(err, "unmarshal module")
	}

	return record, nil
}

func (s *SQLiteStore) Systems(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT system FROM snapshots ORDER BY system`)
	if err != nil {
		return nil, s.fail(err, "query systems")
	}
	defer rows.Close()

	systems := []string{}

	for rows.Next() {
		var system string
		if err := rows.Scan(&system); err != nil {
			return nil, s.fail(err, "scan system")
		}

		systems = append(systems, system)
	}

	if err := rows.Err(); err != nil {
		return nil, s.fail(err, "iterate systems")
	}

	return systems, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
