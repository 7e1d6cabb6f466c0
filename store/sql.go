package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/goliatone/go-runcore/model"
)

// Dialect names a supported SQL driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var placeholder = regexp.MustCompile(`\$\d+`)

// Rebind converts $n placeholders for drivers that expect '?'.
func (d Dialect) Rebind(query string) string {
	if d == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "pgx"
}

const schema = `
CREATE TABLE IF NOT EXISTS runcore_runs (
    id VARCHAR(64) PRIMARY KEY,
    project VARCHAR(200) NOT NULL DEFAULT '',
    kind VARCHAR(64) NOT NULL DEFAULT '',
    task TEXT NOT NULL DEFAULT '',
    state VARCHAR(32) NOT NULL,
    spec TEXT NOT NULL DEFAULT '{}',
    extra TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS runcore_functions (
    id VARCHAR(64) NOT NULL,
    project VARCHAR(200) NOT NULL,
    name VARCHAR(200) NOT NULL,
    version VARCHAR(64) NOT NULL,
    kind VARCHAR(64) NOT NULL DEFAULT '',
    spec TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (project, name, version)
);
CREATE TABLE IF NOT EXISTS runcore_tasks (
    id VARCHAR(64) NOT NULL,
    project VARCHAR(200) NOT NULL DEFAULT '',
    function_ref TEXT NOT NULL,
    kind VARCHAR(64) NOT NULL,
    spec TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (function_ref, kind)
);
`

// SQLStore keeps entities in postgres (pgx) or sqlite (modernc). Spec and
// extra maps are stored as JSON text.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ model.Store = (*SQLStore)(nil)

// OpenSQL opens dsn with the dialect's driver and migrates the schema.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// a single connection keeps ":memory:" databases alive and serializes writers
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQL(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open database and migrates the schema.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		for _, stmt := range []string{"PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return nil, fmt.Errorf("set pragma %s: %w", stmt, err)
			}
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate %s schema: %w", dialect, err)
	}
	return &SQLStore{db: db, dialect: dialect, now: time.Now}, nil
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT id, project, kind, task, state, spec, extra, created_at, updated_at FROM runcore_runs WHERE id = $1`), id)

	var (
		run                  model.Run
		state                string
		spec, extra          string
		createdAt, updatedAt string
	)
	err := row.Scan(&run.ID, &run.Project, &run.Kind, &run.Task, &state, &spec, &extra, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	run.State = model.State(state)
	if run.Spec, err = decodeMap(spec); err != nil {
		return nil, fmt.Errorf("decode run %s spec: %w", id, err)
	}
	if run.Extra, err = decodeMap(extra); err != nil {
		return nil, fmt.Errorf("decode run %s extra: %w", id, err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &run, nil
}

func (s *SQLStore) Save(ctx context.Context, run *model.Run) (*model.Run, error) {
	stored := prepareRun(run, s.now())
	spec, extra, err := encodeRunMaps(stored)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO runcore_runs (id, project, kind, task, state, spec, extra, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET project = excluded.project, kind = excluded.kind, task = excluded.task,
    state = excluded.state, spec = excluded.spec, extra = excluded.extra, updated_at = excluded.updated_at`),
		stored.ID, stored.Project, stored.Kind, stored.Task, string(stored.State), spec, extra,
		stored.CreatedAt.Format(time.RFC3339Nano), stored.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("save run %s: %w", stored.ID, err)
	}
	return s.GetRun(ctx, stored.ID)
}

func (s *SQLStore) UpdateRun(ctx context.Context, run *model.Run, id string) (*model.Run, error) {
	stored := run.Clone()
	stored.ID = id
	stored.UpdatedAt = s.now().UTC()
	spec, extra, err := encodeRunMaps(stored)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
UPDATE runcore_runs SET project = $1, kind = $2, task = $3, state = $4, spec = $5, extra = $6, updated_at = $7
WHERE id = $8`),
		stored.Project, stored.Kind, stored.Task, string(stored.State), spec, extra,
		stored.UpdatedAt.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, model.NotFound("run", id)
	}
	return s.GetRun(ctx, id)
}

func (s *SQLStore) GetFunction(ctx context.Context, project, name, version string) (*model.Function, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT id, project, name, version, kind, spec FROM runcore_functions WHERE project = $1 AND name = $2 AND version = $3`),
		project, name, version)

	var fn model.Function
	var spec string
	err := row.Scan(&fn.ID, &fn.Project, &fn.Name, &fn.Version, &fn.Kind, &spec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("function", functionKey(project, name, version))
	}
	if err != nil {
		return nil, fmt.Errorf("get function %s: %w", functionKey(project, name, version), err)
	}
	if fn.Spec, err = decodeMap(spec); err != nil {
		return nil, fmt.Errorf("decode function spec: %w", err)
	}
	return &fn, nil
}

func (s *SQLStore) SaveFunction(ctx context.Context, fn *model.Function) (*model.Function, error) {
	cp := *fn
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	spec, err := encodeMap(cp.Spec)
	if err != nil {
		return nil, fmt.Errorf("encode function spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO runcore_functions (id, project, name, version, kind, spec) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (project, name, version) DO UPDATE SET id = excluded.id, kind = excluded.kind, spec = excluded.spec`),
		cp.ID, cp.Project, cp.Name, cp.Version, cp.Kind, spec)
	if err != nil {
		return nil, fmt.Errorf("save function %s: %w", functionKey(cp.Project, cp.Name, cp.Version), err)
	}
	return s.GetFunction(ctx, cp.Project, cp.Name, cp.Version)
}

func (s *SQLStore) FindTask(ctx context.Context, function, kind string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT id, project, function_ref, kind, spec FROM runcore_tasks WHERE function_ref = $1 AND kind = $2`),
		function, kind)

	var task model.Task
	var spec string
	err := row.Scan(&task.ID, &task.Project, &task.Function, &task.Kind, &spec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("task", taskKey(function, kind))
	}
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", taskKey(function, kind), err)
	}
	if task.Spec, err = decodeMap(spec); err != nil {
		return nil, fmt.Errorf("decode task spec: %w", err)
	}
	return &task, nil
}

func (s *SQLStore) SaveTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	cp := *task
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	spec, err := encodeMap(cp.Spec)
	if err != nil {
		return nil, fmt.Errorf("encode task spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
INSERT INTO runcore_tasks (id, project, function_ref, kind, spec) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (function_ref, kind) DO UPDATE SET id = excluded.id, project = excluded.project, spec = excluded.spec`),
		cp.ID, cp.Project, cp.Function, cp.Kind, spec)
	if err != nil {
		return nil, fmt.Errorf("save task %s: %w", taskKey(cp.Function, cp.Kind), err)
	}
	return s.FindTask(ctx, cp.Function, cp.Kind)
}

func encodeRunMaps(run *model.Run) (string, string, error) {
	spec, err := encodeMap(run.Spec)
	if err != nil {
		return "", "", fmt.Errorf("encode run %s spec: %w", run.ID, err)
	}
	extra, err := encodeMap(run.Extra)
	if err != nil {
		return "", "", fmt.Errorf("encode run %s extra: %w", run.ID, err)
	}
	return spec, extra, nil
}

func encodeMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMap(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	out := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
