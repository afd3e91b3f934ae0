package tstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the "pgx5" migrate driver scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"
	"go.opentelemetry.io/otel"
	_ "modernc.org/sqlite"

	"github.com/andrewh/tprof/pkg/analysis"
	"github.com/andrewh/tprof/pkg/report"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store persists and restores the full 4-level result tree a BuildTree run
// produces, keyed by its RunID, so a snapshot can be re-analyzed offline
// (e.g. by the `tprof report` subcommand) without re-running the pipeline
// against the original Gather source.
type Store interface {
	Save(ctx context.Context, runID string, root *report.Node) error
	Load(ctx context.Context, runID string) (*report.Node, error)
	Close() error
}

// nodeDTO is the wire shape a Node round-trips through. Result's concrete
// type is recovered from ResultType, since encoding/json can't otherwise
// unmarshal into the interface{}-typed Node.Result field.
type nodeDTO struct {
	Name       string          `json:"name,omitempty"`
	TraceIDs   []string        `json:"trace_ids,omitempty"`
	ResultType string          `json:"result_type,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Children   []nodeDTO       `json:"children,omitempty"`
}

func encodeNode(n *report.Node) (nodeDTO, error) {
	dto := nodeDTO{Name: n.Name, TraceIDs: n.TraceIDs}
	if n.Result != nil {
		switch n.Result.(type) {
		case *analysis.Profile:
			dto.ResultType = "profile"
		case *analysis.StructureProfile:
			dto.ResultType = "structure"
		case *analysis.SubspanProfile:
			dto.ResultType = "subspan"
		default:
			return dto, fmt.Errorf("tstore: unknown result type %T", n.Result)
		}
		raw, err := json.Marshal(n.Result)
		if err != nil {
			return dto, fmt.Errorf("tstore: marshaling %s: %w", dto.ResultType, err)
		}
		dto.Result = raw
	}
	for _, c := range n.Children {
		cdto, err := encodeNode(c)
		if err != nil {
			return dto, err
		}
		dto.Children = append(dto.Children, cdto)
	}
	return dto, nil
}

func decodeNode(dto nodeDTO) (*report.Node, error) {
	n := &report.Node{Name: dto.Name, TraceIDs: dto.TraceIDs}
	if len(dto.Result) > 0 {
		var err error
		switch dto.ResultType {
		case "profile":
			var r analysis.Profile
			err = json.Unmarshal(dto.Result, &r)
			n.Result = &r
		case "structure":
			var r analysis.StructureProfile
			err = json.Unmarshal(dto.Result, &r)
			n.Result = &r
		case "subspan":
			var r analysis.SubspanProfile
			err = json.Unmarshal(dto.Result, &r)
			n.Result = &r
		default:
			return nil, fmt.Errorf("tstore: unknown result type %q", dto.ResultType)
		}
		if err != nil {
			return nil, fmt.Errorf("tstore: unmarshaling %s: %w", dto.ResultType, err)
		}
	}
	for _, cdto := range dto.Children {
		c, err := decodeNode(cdto)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

// PostgresStore persists snapshots to Postgres via a pgxpool.Pool whose
// queries are traced with pgxotel, matching the OTel instrumentation the
// rest of the pipeline emits with.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connString, wires a pgxotel query tracer
// onto the pool, and applies pending schema migrations embedded in
// migrations/*.sql before returning.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("tstore: parsing postgres config: %w", err)
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{Tracer: otel.Tracer("tprof.tstore")}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tstore: connecting to postgres: %w", err)
	}

	if err := migrateUp(migrateURL(connString)); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// migrateURL rewrites a postgres(ql):// connection string to the pgx5://
// scheme golang-migrate's pgx/v5 driver registers itself under.
func migrateURL(connString string) string {
	if i := strings.Index(connString, "://"); i >= 0 {
		return "pgx5" + connString[i:]
	}
	return connString
}

func migrateUp(migrateConnString string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("tstore: loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateConnString)
	if err != nil {
		return fmt.Errorf("tstore: building migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("tstore: applying migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, runID string, root *report.Node) error {
	dto, err := encodeNode(root)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("tstore: marshaling snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		insert into tprof_snapshots (run_id, tree)
		values ($1, $2)
		on conflict (run_id) do update set tree = excluded.tree`, runID, raw)
	if err != nil {
		return fmt.Errorf("tstore: saving snapshot %s: %w", runID, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, runID string) (*report.Node, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `select tree from tprof_snapshots where run_id = $1`, runID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("tstore: loading snapshot %s: %w", runID, err)
	}
	var dto nodeDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("tstore: unmarshaling snapshot %s: %w", runID, err)
	}
	return decodeNode(dto)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SQLiteStore persists snapshots to an embedded, CGo-free SQLite database
// (modernc.org/sqlite registered under database/sql as driver "sqlite"),
// for operators who don't run Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path (created if absent) and ensures the snapshot
// table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tstore: opening sqlite %s: %w", path, err)
	}
	const schema = `create table if not exists tprof_snapshots (
		run_id text primary key,
		tree   blob not null
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tstore: creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, runID string, root *report.Node) error {
	dto, err := encodeNode(root)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("tstore: marshaling snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into tprof_snapshots (run_id, tree) values (?, ?)
		on conflict(run_id) do update set tree = excluded.tree`, runID, raw)
	if err != nil {
		return fmt.Errorf("tstore: saving snapshot %s: %w", runID, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (*report.Node, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `select tree from tprof_snapshots where run_id = ?`, runID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("tstore: loading snapshot %s: %w", runID, err)
	}
	var dto nodeDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("tstore: unmarshaling snapshot %s: %w", runID, err)
	}
	return decodeNode(dto)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
