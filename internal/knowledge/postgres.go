package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore reads the same schema the REST endpoint exposes, straight
// from PostgreSQL.
type PostgresStore struct {
	db      *pgxpool.Pool
	tables  Tables
	timeout time.Duration
	logger  *zap.Logger
}

// NewPostgresStore creates a store with a pgx connection pool.
func NewPostgresStore(ctx context.Context, dsn string, tables map[string]string, timeout time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger.Info("PostgreSQL connected")
	return &PostgresStore{db: pool, tables: NewTables(tables), timeout: timeout, logger: logger}, nil
}

// Fetch implements Store.
func (s *PostgresStore) Fetch(ctx context.Context, q Query) Result {
	start := time.Now()
	records, err := s.fetch(ctx, q)
	res := Result{Records: records, Elapsed: time.Since(start), Err: err, Source: "postgres"}
	if err != nil {
		res.Records = nil
		s.logger.Warn("store fetch failed",
			zap.String("resource", q.Resource),
			zap.String("function", q.Function),
			zap.Error(err))
	}
	return res
}

func (s *PostgresStore) fetch(ctx context.Context, q Query) ([]json.RawMessage, error) {
	sql, args, err := s.buildSQL(q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Resource+q.Function, err)
	}
	defer rows.Close()

	records := make([]json.RawMessage, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return records, nil
}

// buildSQL renders q as a query returning one JSON text column per row.
// Identifiers are validated before being quoted.
func (s *PostgresStore) buildSQL(q Query) (string, []interface{}, error) {
	if err := validateQuery(q); err != nil {
		return "", nil, err
	}

	if q.Function != "" {
		names := make([]string, 0, len(q.RPC))
		for name := range q.RPC {
			names = append(names, name)
		}
		sort.Strings(names)
		args := make([]interface{}, 0, len(names))
		parts := make([]string, 0, len(names))
		for i, name := range names {
			parts = append(parts, pgx.Identifier{name}.Sanitize()+" => $"+strconv.Itoa(i+1))
			args = append(args, q.RPC[name])
		}
		sql := fmt.Sprintf("SELECT row_to_json(r)::text FROM %s(%s) AS r",
			pgx.Identifier{q.Function}.Sanitize(), strings.Join(parts, ", "))
		return sql, args, nil
	}

	table, err := s.tables.Resolve(q.Resource)
	if err != nil {
		return "", nil, err
	}
	cols := "*"
	if len(q.Select) > 0 {
		quoted := make([]string, len(q.Select))
		for i, c := range q.Select {
			quoted[i] = pgx.Identifier{c}.Sanitize()
		}
		cols = strings.Join(quoted, ", ")
	}
	inner := fmt.Sprintf("SELECT %s FROM %s", cols, pgx.Identifier{table}.Sanitize())
	var args []interface{}
	if q.Filter != nil {
		inner += fmt.Sprintf(" WHERE %s::text = $1", pgx.Identifier{q.Filter.Field}.Sanitize())
		args = append(args, q.Filter.Value)
	}
	if q.Limit > 0 {
		inner += " LIMIT " + strconv.Itoa(q.Limit)
	}
	return fmt.Sprintf("SELECT row_to_json(t)::text FROM (%s) AS t", inner), args, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *PostgresStore) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}
