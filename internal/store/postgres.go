package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// PostgresStore is a PostgreSQL-based implementation of Store for
// multi-process deployments.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to PostgreSQL using cfg.DSN.
func OpenPostgres(cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS models (
		id integer NOT NULL,
		nickname text UNIQUE,
		created_at timestamp without time zone NOT NULL,
		create_by text NOT NULL,
		plugin_id text NOT NULL,
		state integer NOT NULL,
		description text,
		PRIMARY KEY (id)
	);

	CREATE TABLE IF NOT EXISTS resources (
		id integer NOT NULL,
		created_at timestamp without time zone NOT NULL,
		create_by text NOT NULL,
		plugin_id text NOT NULL,
		mime text NOT NULL,
		PRIMARY KEY (id)
	);

	CREATE TABLE IF NOT EXISTS resource_indexes (
		module_id text NOT NULL,
		next_index integer NOT NULL,
		PRIMARY KEY (module_id)
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) EnsureNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_indexes (module_id, next_index)
		 SELECT $1, 0
		 WHERE NOT EXISTS (SELECT 1 FROM resource_indexes WHERE module_id = $1)`, namespace)
	return err
}

func (s *PostgresStore) ReserveID(ctx context.Context, namespace string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE resource_indexes SET next_index = next_index + 1
		 WHERE module_id = $1 RETURNING next_index`, namespace).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("unknown id namespace: %q", namespace)
	}
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}

func (s *PostgresStore) CreateModel(ctx context.Context, m *types.Model, pluginTable string, seed Seed) error {
	if err := checkTableName(pluginTable); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+pluginTable+` (id, remote_id, extra_info) VALUES ($1, $2, $3)`,
		m.ID, seed.RemoteID, seed.ExtraInfo); err != nil {
		return fmt.Errorf("insert plugin record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO models (id, nickname, created_at, create_by, plugin_id, state, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, nullable(m.Nickname), m.CreatedAt, m.CreatedBy, m.PluginID, int(m.State), nullable(m.Description)); err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetModelByID(ctx context.Context, id int64) (*types.Model, error) {
	return scanModel(s.db.QueryRowContext(ctx,
		`SELECT id, nickname, created_at, create_by, plugin_id, state, description
		 FROM models WHERE id = $1`, id))
}

func (s *PostgresStore) GetModelByNickname(ctx context.Context, nickname string) (*types.Model, error) {
	return scanModel(s.db.QueryRowContext(ctx,
		`SELECT id, nickname, created_at, create_by, plugin_id, state, description
		 FROM models WHERE nickname = $1`, nickname))
}

func (s *PostgresStore) ListModels(ctx context.Context) ([]types.Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, nickname, created_at, create_by, plugin_id, state, description
		 FROM models ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectModels(rows)
}

func (s *PostgresStore) NicknameExists(ctx context.Context, nickname string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM models WHERE nickname = $1`, nickname).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) CompareAndSwapState(ctx context.Context, id int64, from, to types.ModelState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET state = $1 WHERE id = $2 AND state = $3`, int(to), id, int(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) MarkDataFed(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET state = $1 WHERE id = $2 AND state <= $1`,
		int(types.StateDataFeeding), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) CreatePluginTable(ctx context.Context, table string) error {
	if err := checkTableName(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		id integer NOT NULL,
		remote_id text NOT NULL,
		training_data bytea,
		extra_info bytea,
		PRIMARY KEY (id)
	)`)
	return err
}

func (s *PostgresStore) InsertPluginRecord(ctx context.Context, table string, rec *PluginRecord) error {
	if err := checkTableName(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, remote_id, training_data, extra_info) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.RemoteID, rec.TrainingData, rec.ExtraInfo)
	return err
}

func (s *PostgresStore) GetPluginRecord(ctx context.Context, table string, id int64) (*PluginRecord, error) {
	if err := checkTableName(table); err != nil {
		return nil, err
	}
	var rec PluginRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, remote_id, training_data, extra_info FROM `+table+` WHERE id = $1`, id).
		Scan(&rec.ID, &rec.RemoteID, &rec.TrainingData, &rec.ExtraInfo)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) PutTrainingData(ctx context.Context, table string, id int64, data []byte) error {
	return s.updatePluginBlob(ctx, table, "training_data", id, data)
}

func (s *PostgresStore) PutExtraInfo(ctx context.Context, table string, id int64, data []byte) error {
	return s.updatePluginBlob(ctx, table, "extra_info", id, data)
}

func (s *PostgresStore) updatePluginBlob(ctx context.Context, table, column string, id int64, data []byte) error {
	if err := checkTableName(table); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET `+column+` = $1 WHERE id = $2`, data, id)
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

func (s *PostgresStore) InsertResource(ctx context.Context, r *types.Resource) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (id, created_at, create_by, plugin_id, mime) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.CreatedAt, r.CreatedBy, r.PluginID, r.Mime)
	return err
}

func (s *PostgresStore) GetResourceMeta(ctx context.Context, id int64) (*types.Resource, error) {
	var r types.Resource
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, create_by, plugin_id, mime FROM resources WHERE id = $1`, id).
		Scan(&r.ID, &r.CreatedAt, &r.CreatedBy, &r.PluginID, &r.Mime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListResources(ctx context.Context) ([]types.Resource, error) {
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

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }

var _ Store = (*PostgresStore)(nil)
