package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"    // postgres driver
	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

// SQLStore keeps every collection in one table with a JSON data column.
// Partial updates are applied inside a single UPDATE statement so
// concurrent writers to different fields of one record do not clobber each
// other.
type SQLStore struct {
	*Hub

	db    *sql.DB
	d     dialect
	table string
	now   func() time.Time
}

// OpenSQL opens a sqlite or postgres database, configures the pool and
// creates the records table when missing.
func OpenSQL(ctx context.Context, cfg Config) (*SQLStore, error) {
	cfg = cfg.withDefaults()
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if d.name == "sqlite" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d.name == "sqlite" {
		// One writer at a time; also keeps :memory: databases on a single
		// connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := newSQLStore(db, d, cfg.Table)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing connection. dialectName is sqlite or
// postgres. The caller is responsible for running Migrate.
func NewSQLStore(db *sql.DB, dialectName, table string) (*SQLStore, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = DefaultConfig().Table
	}
	return newSQLStore(db, d, table), nil
}

func newSQLStore(db *sql.DB, d dialect, table string) *SQLStore {
	return &SQLStore{Hub: NewHub(), db: db, d: d, table: table, now: time.Now}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Migrate creates the records table and its index.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.migrations(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) newQuery() *query {
	return &query{d: s.d}
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	if collection == "" || id == "" {
		return nil, ErrNotFound
	}
	q := s.newQuery()
	q.write("SELECT data, created_at, updated_at FROM ", s.d.quote(s.table),
		" WHERE collection = ", q.arg(collection), " AND id = ", q.arg(id))

	var data []byte
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q.String(), q.args...).Scan(&data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return decodeRow(collection, id, data, created, updated)
}

func (s *SQLStore) Create(ctx context.Context, collection string, fields map[string]any) (*Record, error) {
	if err := validName("collection", collection); err != nil {
		return nil, err
	}
	encoded, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	id := idFromFields(fields)
	if id == "" {
		id = uuid.NewString()
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	now := s.now().UTC()

	q := s.newQuery()
	q.write("INSERT INTO ", s.d.quote(s.table), " (collection, id, data, created_at, updated_at) VALUES (",
		q.arg(collection), ", ", q.arg(id), ", ", s.d.jsonParam(q.arg(string(data))), ", ",
		q.arg(now.UnixMicro()), ", ", q.arg(now.UnixMicro()),
		") ON CONFLICT (collection, id) DO NOTHING")

	res, err := s.db.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrAlreadyExists
	}

	rec := &Record{
		Collection: collection,
		ID:         id,
		Fields:     encoded,
		Created:    time.UnixMicro(now.UnixMicro()).UTC(),
		Updated:    time.UnixMicro(now.UnixMicro()).UTC(),
	}
	s.Publish(Event{Action: ActionCreate, Record: rec})
	return rec.clone(), nil
}

func (s *SQLStore) Update(ctx context.Context, collection, id string, fields map[string]any) (*Record, error) {
	if collection == "" || id == "" {
		return nil, ErrNotFound
	}
	encoded, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}

	q := s.newQuery()
	merge, err := q.mergeExpr(encoded)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	q.write("UPDATE ", s.d.quote(s.table), " SET data = ", merge,
		", updated_at = ", q.arg(s.now().UTC().UnixMicro()),
		" WHERE collection = ", q.arg(collection), " AND id = ", q.arg(id),
		" RETURNING data, created_at, updated_at")

	var data []byte
	var created, updated int64
	err = s.db.QueryRowContext(ctx, q.String(), q.args...).Scan(&data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	rec, err := decodeRow(collection, id, data, created, updated)
	if err != nil {
		return nil, err
	}
	s.Publish(Event{Action: ActionUpdate, Record: rec})
	return rec.clone(), nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	q := s.newQuery()
	q.write("DELETE FROM ", s.d.quote(s.table), " WHERE collection = ", q.arg(collection), " AND id = ", q.arg(id))
	res, err := s.db.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.Publish(Event{Action: ActionDelete, Record: &Record{Collection: collection, ID: id}})
	return nil
}

func (s *SQLStore) List(ctx context.Context, collection string, opts ListOptions) ([]*Record, error) {
	q := s.newQuery()
	q.write("SELECT id, data, created_at, updated_at FROM ", s.d.quote(s.table),
		" WHERE collection = ", q.arg(collection))
	if opts.Field != "" {
		if !fieldNamePattern.MatchString(opts.Field) {
			return nil, ErrInvalidField
		}
		q.write(" AND ", s.d.fieldText(q.arg(s.d.fieldPath(opts.Field))), " = ", q.arg(opts.Value))
	}
	if opts.Newest {
		q.write(" ORDER BY created_at DESC, id DESC")
	} else {
		q.write(" ORDER BY created_at ASC, id ASC")
	}
	if opts.Limit > 0 {
		q.write(" LIMIT ", q.arg(opts.Limit))
	}

	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var id string
		var data []byte
		var created, updated int64
		if err := rows.Scan(&id, &data, &created, &updated); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		rec, err := decodeRow(collection, id, data, created, updated)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return out, nil
}

// Close releases subscribers and the database handle.
func (s *SQLStore) Close() error {
	s.closeAll()
	return s.db.Close()
}

func decodeRow(collection, id string, data []byte, created, updated int64) (*Record, error) {
	fields := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
		}
	}
	return &Record{
		Collection: collection,
		ID:         id,
		Fields:     fields,
		Created:    time.UnixMicro(created).UTC(),
		Updated:    time.UnixMicro(updated).UTC(),
	}, nil
}
