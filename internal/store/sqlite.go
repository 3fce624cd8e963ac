package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// SQLiteStore is a SQLite-based implementation of Store. It is the default
// backend for single-host deployments and for tests.
type SQLiteStore struct {
	db *sql.DB
	// Serializes reserve/CAS read-modify-write sequences; SQLite has no
	// UPDATE ... RETURNING on all deployed versions.
	mu sync.Mutex
}

// OpenSQLite opens (and creates if needed) a SQLite database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer to avoid SQLITE_BUSY under concurrent jobs.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS models (
		id INTEGER NOT NULL PRIMARY KEY,
		nickname TEXT UNIQUE,
		created_at DATETIME NOT NULL,
		create_by TEXT NOT NULL,
		plugin_id TEXT NOT NULL,
		state INTEGER NOT NULL,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS resources (
		id INTEGER NOT NULL PRIMARY KEY,
		created_at DATETIME NOT NULL,
		create_by TEXT NOT NULL,
		plugin_id TEXT NOT NULL,
		mime TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resource_indexes (
		module_id TEXT NOT NULL PRIMARY KEY,
		next_index INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) EnsureNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO resource_indexes (module_id, next_index) VALUES (?, 0)`, namespace)
	return err
}

func (s *SQLiteStore) ReserveID(ctx context.Context, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE resource_indexes SET next_index = next_index + 1 WHERE module_id = ?`, namespace)
	if err != nil {
		return 0, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, err
	} else if n == 0 {
		return 0, fmt.Errorf("unknown id namespace: %q", namespace)
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT next_index FROM resource_indexes WHERE module_id = ?`, namespace).Scan(&next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next - 1, nil
}

func (s *SQLiteStore) CreateModel(ctx context.Context, m *types.Model, pluginTable string, seed Seed) error {
	if err := checkTableName(pluginTable); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+pluginTable+` (id, remote_id, extra_info) VALUES (?, ?, ?)`,
		m.ID, seed.RemoteID, seed.ExtraInfo); err != nil {
		return fmt.Errorf("insert plugin record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO models (id, nickname, created_at, create_by, plugin_id, state, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, nullable(m.Nickname), m.CreatedAt, m.CreatedBy, m.PluginID, int(m.State), nullable(m.Description)); err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetModelByID(ctx context.Context, id int64) (*types.Model, error) {
	return scanModel(s.db.QueryRowContext(ctx,
		`SELECT id, nickname, created_at, create_by, plugin_id, state, description
		 FROM models WHERE id = ?`, id))
}

func (s *SQLiteStore) GetModelByNickname(ctx context.Context, nickname string) (*types.Model, error) {
	return scanModel(s.db.QueryRowContext(ctx,
		`SELECT id, nickname, created_at, create_by, plugin_id, state, description
		 FROM models WHERE nickname = ?`, nickname))
}

func (s *SQLiteStore) ListModels(ctx context.Context) ([]types.Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, nickname, created_at, create_by, plugin_id, state, description
		 FROM models ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectModels(rows)
}

func (s *SQLiteStore) NicknameExists(ctx context.Context, nickname string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM models WHERE nickname = ?`, nickname).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) CompareAndSwapState(ctx context.Context, id int64, from, to types.ModelState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET state = ? WHERE id = ? AND state = ?`, int(to), id, int(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) MarkDataFed(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET state = ? WHERE id = ? AND state <= ?`,
		int(types.StateDataFeeding), id, int(types.StateDataFeeding))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) CreatePluginTable(ctx context.Context, table string) error {
	if err := checkTableName(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		id INTEGER NOT NULL PRIMARY KEY,
		remote_id TEXT NOT NULL,
		training_data BLOB,
		extra_info BLOB
	)`)
	return err
}

func (s *SQLiteStore) InsertPluginRecord(ctx context.Context, table string, rec *PluginRecord) error {
	if err := checkTableName(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, remote_id, training_data, extra_info) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.RemoteID, rec.TrainingData, rec.ExtraInfo)
	return err
}

func (s *SQLiteStore) GetPluginRecord(ctx context.Context, table string, id int64) (*PluginRecord, error) {
	if err := checkTableName(table); err != nil {
		return nil, err
	}
	var rec PluginRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, remote_id, training_data, extra_info FROM `+table+` WHERE id = ?`, id).
		Scan(&rec.ID, &rec.RemoteID, &rec.TrainingData, &rec.ExtraInfo)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) PutTrainingData(ctx context.Context, table string, id int64, data []byte) error {
	return s.updatePluginBlob(ctx, table, "training_data", id, data)
}

func (s *SQLiteStore) PutExtraInfo(ctx context.Context, table string, id int64, data []byte) error {
	return s.updatePluginBlob(ctx, table, "extra_info", id, data)
}

func (s *SQLiteStore) updatePluginBlob(ctx context.Context, table, column string, id int64, data []byte) error {
	if err := checkTableName(table); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET `+column+` = ? WHERE id = ?`, data, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) InsertResource(ctx context.Context, r *types.Resource) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (id, created_at, create_by, plugin_id, mime) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt, r.CreatedBy, r.PluginID, r.Mime)
	return err
}

func (s *SQLiteStore) GetResourceMeta(ctx context.Context, id int64) (*types.Resource, error) {
	var r types.Resource
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, create_by, plugin_id, mime FROM resources WHERE id = ?`, id).
		Scan(&r.ID, &r.CreatedAt, &r.CreatedBy, &r.PluginID, &r.Mime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) ListResources(ctx context.Context) ([]types.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, create_by, plugin_id, mime FROM resources ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Resource
	for rows.Next() {
		var r types.Resource
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.CreatedBy, &r.PluginID, &r.Mime); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// row is satisfied by *sql.Row and lets scan helpers work on single rows.
type row interface {
	Scan(dest ...any) error
}

func scanModel(r row) (*types.Model, error) {
	var (
		m           types.Model
		nickname    sql.NullString
		description sql.NullString
		state       int
	)
	err := r.Scan(&m.ID, &nickname, &m.CreatedAt, &m.CreatedBy, &m.PluginID, &state, &description)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Nickname = nickname.String
	m.Description = description.String
	m.State = types.ModelState(state)
	return &m, nil
}

func collectModels(rows *sql.Rows) ([]types.Model, error) {
	var out []types.Model
	for rows.Next() {
		var (
			m           types.Model
			nickname    sql.NullString
			description sql.NullString
			state       int
		)
		if err := rows.Scan(&m.ID, &nickname, &m.CreatedAt, &m.CreatedBy, &m.PluginID, &state, &description); err != nil {
			return nil, err
		}
		m.Nickname = nickname.String
		m.Description = description.String
		m.State = types.ModelState(state)
		out = append(out, m)
	}
	return out, rows.Err()
}
