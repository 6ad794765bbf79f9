// Package postgres implements docstore.Store on PostgreSQL. Documents live in
// a single JSONB table; a trigger publishes every committed write on the
// document_changes channel, which feeds Subscribe through LISTEN.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/dbx"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/dmitrijs2005/duodeck/internal/docstore/postgres/migrations"
	"github.com/dmitrijs2005/duodeck/internal/logging"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const (
	notifyChannel   = "document_changes"
	maxTxAttempts   = 3
	serializationRC = "40001"
)

// Store is a PostgreSQL-backed docstore.Store and docstore.Transactor.
type Store struct {
	db  *sql.DB
	q   dbx.DBTX
	dsn string
	log logging.Logger

	hub      *docstore.Hub
	listener *listener
	inTx     bool
}

var (
	_ docstore.Store      = (*Store)(nil)
	_ docstore.Transactor = (*Store)(nil)
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Open connects to dsn through the pgx database/sql driver.
func Open(ctx context.Context, dsn string, log logging.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, mapErr(fmt.Errorf("ping postgres: %w", err))
	}
	return New(db, dsn, log), nil
}

// New wraps an open database. dsn is used for the dedicated LISTEN
// connection; with an empty dsn Subscribe is unavailable.
func New(db *sql.DB, dsn string, log logging.Logger) *Store {
	log = logging.OrNop(log).With("module", "docstore/postgres")
	hub := docstore.NewHub()
	s := &Store{db: db, q: db, dsn: dsn, log: log, hub: hub}
	s.listener = newListener(dsn, log, s.refresh)
	return s
}

// RunMigrations applies the embedded schema.
func (s *Store) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.db.PingContext(ctx))
}

// Close stops the change feed and closes the database.
func (s *Store) Close() error {
	s.listener.stop()
	s.hub.Close()
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT fields, version FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("get %s/%s: %w", collection, id, err))
	}

	fields, err := docstore.UnmarshalFields(raw)
	if err != nil {
		return nil, err
	}
	return &docstore.Document{Collection: collection, ID: id, Fields: fields, Version: version}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	b, err := marshalFields(fields)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields, version, updated_at)
		VALUES ($1, $2, $3::jsonb, nextval('documents_version_seq'), now())
		ON CONFLICT (collection, id) DO UPDATE
		SET fields = EXCLUDED.fields, version = EXCLUDED.version, updated_at = now()`,
		collection, id, b,
	)
	if err != nil {
		return mapErr(fmt.Errorf("set %s/%s: %w", collection, id, err))
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	b, err := marshalFields(fields)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE documents
		SET fields = fields || $3::jsonb, version = nextval('documents_version_seq'), updated_at = now()
		WHERE collection = $1 AND id = $2`,
		collection, id, b,
	)
	if err != nil {
		return mapErr(fmt.Errorf("update %s/%s: %w", collection, id, err))
	}
	if err := dbx.RequireRow(res); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return mapErr(fmt.Errorf("delete %s/%s: %w", collection, id, err))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q docstore.Query) ([]*docstore.Document, error) {
	query, args, err := buildQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(fmt.Errorf("query %s: %w", collection, err))
	}
	defer rows.Close()

	var out []*docstore.Document
	for rows.Next() {
		var (
			id      string
			raw     []byte
			version int64
		)
		if err := rows.Scan(&id, &raw, &version); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", collection, err)
		}
		fields, err := docstore.UnmarshalFields(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, &docstore.Document{Collection: collection, ID: id, Fields: fields, Version: version})
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(fmt.Errorf("query %s: %w", collection, err))
	}
	return out, nil
}

// buildQuery renders q as SQL. Field names are passed as parameters.
func buildQuery(collection string, q docstore.Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{collection}
	sb.WriteString(`SELECT id, fields, version FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		v, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		args = append(args, f.Field, string(v))
		fmt.Fprintf(&sb, ` AND fields -> $%d = $%d::jsonb`, len(args)-1, len(args))
	}

	sb.WriteString(` ORDER BY `)
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		fmt.Fprintf(&sb, `fields -> $%d`, len(args))
		if q.Descending {
			sb.WriteString(` DESC`)
		}
		sb.WriteString(`, `)
	}
	sb.WriteString(`id`)

	if q.Limit > 0 {
		sb.WriteString(` LIMIT ` + strconv.Itoa(q.Limit))
	}
	return sb.String(), args, nil
}

// Subscribe starts the shared LISTEN connection on first use, then registers
// fn with the current document as its first snapshot.
func (s *Store) Subscribe(ctx context.Context, collection, id string, fn func(*docstore.Document)) (func(), error) {
	if s.inTx {
		return nil, docstore.ErrSubscribeInTx
	}
	if err := s.listener.start(ctx); err != nil {
		return nil, err
	}

	initial, err := s.getOrNil(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	unsubscribe := s.hub.Add(ctx, collection, id, initial, fn)

	// a write between the read and Add would otherwise be lost
	again, err := s.getOrNil(ctx, collection, id)
	if err == nil && version(again) != version(initial) {
		s.hub.Publish(collection, id, again)
	}
	return unsubscribe, nil
}

// WithTx runs fn in a serializable transaction, retrying serialization
// failures.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx docstore.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = dbx.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx dbx.DBTX) error {
			return fn(ctx, &Store{db: s.db, q: tx, dsn: s.dsn, log: s.log, hub: s.hub, listener: s.listener, inTx: true})
		})
		if !isSerializationFailure(err) {
			return err
		}
		s.log.Warn(ctx, "transaction conflict, retrying", "attempt", attempt)
	}
	return mapErr(err)
}

// refresh publishes the current state of a changed document to subscribers.
func (s *Store) refresh(ctx context.Context, n notification) {
	if !s.hub.Watched(n.Collection, n.ID) {
		return
	}
	if n.Deleted {
		s.hub.Publish(n.Collection, n.ID, nil)
		return
	}
	d, err := s.getOrNil(ctx, n.Collection, n.ID)
	if err != nil {
		s.log.Warn(ctx, "refresh failed", "collection", n.Collection, "id", n.ID, "error", err)
		return
	}
	s.hub.Publish(n.Collection, n.ID, d)
}

func (s *Store) getOrNil(ctx context.Context, collection, id string) (*docstore.Document, error) {
	d, err := s.Get(ctx, collection, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	return d, err
}

func version(d *docstore.Document) int64 {
	if d == nil {
		return 0
	}
	return d.Version
}

func marshalFields(f docstore.Fields) (string, error) {
	if f == nil {
		f = docstore.Fields{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(b), nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationRC
}

// mapErr marks connection-level failures as common.ErrUnavailable.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return err
}
