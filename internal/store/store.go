package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ARS-GmbH/Bachelor-Hsieh-Kai-Chun/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Namespaces for the monotonic id counters.
const (
	NamespaceModels    = "model_manager"
	NamespaceResources = "resource_manager"
)

// PluginRecord is the opaque per-model row owned by one plugin. The core
// routes these blobs but never interprets them.
type PluginRecord struct {
	ID           int64
	RemoteID     string
	TrainingData []byte
	ExtraInfo    []byte
}

// Seed is the plugin-side bookkeeping written together with a new model row.
type Seed struct {
	RemoteID  string
	ExtraInfo []byte
}

// Store defines the persistence operations used by the orchestration core.
// Both SQLite and PostgreSQL implement this interface.
type Store interface {
	// Schema and id allocation
	InitSchema(ctx context.Context) error
	EnsureNamespace(ctx context.Context, namespace string) error
	// ReserveID atomically increments the counter for namespace and returns
	// the pre-increment value. Reserved ids are never reused, even when the
	// caller later fails to create the owning record.
	ReserveID(ctx context.Context, namespace string) (int64, error)

	// Model rows. CreateModel writes the model row and the plugin-private
	// row in a single transaction so the two tables never diverge.
	CreateModel(ctx context.Context, m *types.Model, pluginTable string, seed Seed) error
	GetModelByID(ctx context.Context, id int64) (*types.Model, error)
	GetModelByNickname(ctx context.Context, nickname string) (*types.Model, error)
	ListModels(ctx context.Context) ([]types.Model, error)
	NicknameExists(ctx context.Context, nickname string) (bool, error)
	// CompareAndSwapState performs the single guarded read-modify-write that
	// linearizes lifecycle transitions. Returns false when the current state
	// does not match from.
	CompareAndSwapState(ctx context.Context, id int64, from, to types.ModelState) (bool, error)
	// MarkDataFed moves a model to STATE_DATA_FEEDING only while its state
	// is still at or before data feeding.
	MarkDataFed(ctx context.Context, id int64) (bool, error)

	// Per-plugin bookkeeping tables, provisioned at registration time.
	CreatePluginTable(ctx context.Context, table string) error
	InsertPluginRecord(ctx context.Context, table string, rec *PluginRecord) error
	GetPluginRecord(ctx context.Context, table string, id int64) (*PluginRecord, error)
	PutTrainingData(ctx context.Context, table string, id int64, data []byte) error
	PutExtraInfo(ctx context.Context, table string, id int64, data []byte) error

	// Resource rows (payloads live with the owning loader plugin).
	InsertResource(ctx context.Context, r *types.Resource) error
	GetResourceMeta(ctx context.Context, id int64) (*types.Resource, error)
	ListResources(ctx context.Context) ([]types.Resource, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Config holds database configuration.
type Config struct {
	Type string `json:"type" yaml:"type" toml:"type"` // "sqlite" or "postgres"
	DSN  string `json:"dsn" yaml:"dsn" toml:"dsn"`

	// PostgreSQL pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

// Open creates a store based on configuration.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "postgres", "postgresql":
		return OpenPostgres(cfg)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "solutiond.db"
		}
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}
}

// Plugin table names are derived from plugin metadata and interpolated into
// DDL/DML as identifiers, so they are restricted to a safe character set.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkTableName(table string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid plugin table name: %q", table)
	}
	return nil
}
