package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T, dsn string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	s := New(db, dsn, nil)
	t.Cleanup(func() {
		s.listener.stop()
		s.hub.Close()
		_ = db.Close()
	})
	return s, mock
}

const (
	selectOne = `(?s)^SELECT fields, version FROM documents WHERE collection = \$1 AND id = \$2$`
	upsert    = `(?s)INSERT INTO documents .*ON CONFLICT \(collection, id\) DO UPDATE`
	merge     = `(?s)UPDATE documents\s+SET fields = fields \|\| \$3::jsonb`
	remove    = `^DELETE FROM documents WHERE collection = \$1 AND id = \$2$`
)

func TestGet(t *testing.T) {
	s, mock := newStoreWithMock(t, "")
	ctx := context.Background()

	mock.ExpectQuery(selectOne).WithArgs("identities", "a").
		WillReturnRows(sqlmock.NewRows([]string{"fields", "version"}).AddRow([]byte(`{"publicKey":"pk","createdAt":1700000000000}`), int64(7)))

	d, err := s.Get(ctx, "identities", "a")
	require.NoError(t, err)
	assert.Equal(t, "pk", d.Fields["publicKey"])
	assert.Equal(t, int64(7), d.Version)
	assert.Equal(t, "identities", d.Collection)

	mock.ExpectQuery(selectOne).WithArgs("identities", "b").WillReturnError(sql.ErrNoRows)
	_, err = s.Get(ctx, "identities", "b")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectQuery(selectOne).WithArgs("identities", "c").WillReturnError(errors.New("db down"))
	_, err = s.Get(ctx, "identities", "c")
	assert.ErrorContains(t, err, "db down")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUpdateDelete(t *testing.T) {
	s, mock := newStoreWithMock(t, "")
	ctx := context.Background()

	mock.ExpectExec(upsert).WithArgs("pairs", "a_b", `{"memberAId":"a","memberBId":"b"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Set(ctx, "pairs", "a_b", docstore.Fields{"memberAId": "a", "memberBId": "b"}))

	mock.ExpectExec(merge).WithArgs("identities", "a", `{"connectionStatus":"pending"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Update(ctx, "identities", "a", docstore.Fields{"connectionStatus": "pending"}))

	mock.ExpectExec(merge).WithArgs("identities", "ghost", `{"x":1}`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.Update(ctx, "identities", "ghost", docstore.Fields{"x": 1})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	mock.ExpectExec(remove).WithArgs("invites", "ABC234").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Delete(ctx, "invites", "ABC234"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildQuery(t *testing.T) {
	q, args, err := buildQuery("cards", docstore.Query{}.Where("pairId", "a_b").Where("isRead", false))
	require.NoError(t, err)
	assert.Equal(t, `SELECT id, fields, version FROM documents WHERE collection = $1 AND fields -> $2 = $3::jsonb AND fields -> $4 = $5::jsonb ORDER BY id`, q)
	assert.Equal(t, []any{"cards", "pairId", `"a_b"`, "isRead", "false"}, args)

	q, args, err = buildQuery("drawHistory/a_b/draws", docstore.Query{OrderBy: "drawnAt", Descending: true, Limit: 1}.Where("viewedBy", "a"))
	require.NoError(t, err)
	assert.Equal(t, `SELECT id, fields, version FROM documents WHERE collection = $1 AND fields -> $2 = $3::jsonb ORDER BY fields -> $4 DESC, id LIMIT 1`, q)
	assert.Equal(t, []any{"drawHistory/a_b/draws", "viewedBy", `"a"`, "drawnAt"}, args)

	_, _, err = buildQuery("cards", docstore.Query{}.Where("bad", make(chan int)))
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	s, mock := newStoreWithMock(t, "")

	mock.ExpectQuery(`(?s)^SELECT id, fields, version FROM documents WHERE collection = \$1 AND fields -> \$2 = \$3::jsonb ORDER BY id$`).
		WithArgs("cards", "pairId", `"a_b"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "fields", "version"}).
			AddRow("c1", []byte(`{"pairId":"a_b","isRead":false}`), int64(3)).
			AddRow("c2", []byte(`{"pairId":"a_b","isRead":true}`), int64(4)))

	docs, err := s.Query(context.Background(), "cards", docstore.Query{}.Where("pairId", "a_b"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c1", docs[0].ID)
	assert.Equal(t, false, docs[0].Fields["isRead"])
	assert.Equal(t, int64(4), docs[1].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitAndRetry(t *testing.T) {
	s, mock := newStoreWithMock(t, "")
	ctx := context.Background()

	// first attempt hits a serialization failure on commit
	mock.ExpectBegin()
	mock.ExpectExec(upsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectBegin()
	mock.ExpectExec(upsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := s.WithTx(ctx, func(ctx context.Context, tx docstore.Store) error {
		calls++
		_, err := tx.Subscribe(ctx, "pairs", "a_b", func(*docstore.Document) {})
		assert.ErrorIs(t, err, docstore.ErrSubscribeInTx)
		return tx.Set(ctx, "pairs", "a_b", docstore.Fields{"memberAId": "a"})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s, mock := newStoreWithMock(t, "")
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx docstore.Store) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations(t *testing.T) {
	s, _ := newStoreWithMock(t, "")

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	require.NoError(t, s.RunMigrations(context.Background()))

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("goose failed")
	}
	assert.ErrorContains(t, s.RunMigrations(context.Background()), "goose failed")
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(fmt.Errorf("exec: %w", driver.ErrBadConn)), common.ErrUnavailable)
	plain := errors.New("syntax error")
	assert.Equal(t, plain, mapErr(plain))
}

type fakeConn struct {
	notes  chan string
	execs  []string
	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) Exec(_ context.Context, sql string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	return nil
}

func (f *fakeConn) WaitForNotification(ctx context.Context) (string, error) {
	select {
	case p := <-f.notes:
		return p, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeConn) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestSubscribe_ChangeFeed(t *testing.T) {
	fc := &fakeConn{notes: make(chan string, 4)}
	orig := connect
	connect = func(ctx context.Context, dsn string) (conn, error) { return fc, nil }
	defer func() { connect = orig }()

	s, mock := newStoreWithMock(t, "postgres://test")
	ctx := context.Background()

	row := func(status string, v int64) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"fields", "version"}).AddRow([]byte(`{"connectionStatus":"`+status+`"}`), v)
	}
	mock.ExpectQuery(selectOne).WithArgs("identities", "a").WillReturnRows(row("unpaired", 1))
	mock.ExpectQuery(selectOne).WithArgs("identities", "a").WillReturnRows(row("unpaired", 1))
	mock.ExpectQuery(selectOne).WithArgs("identities", "a").WillReturnRows(row("pending", 2))

	var (
		mu   sync.Mutex
		seen []*docstore.Document
	)
	unsubscribe, err := s.Subscribe(ctx, "identities", "a", func(d *docstore.Document) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, d)
	})
	require.NoError(t, err)
	defer unsubscribe()

	fc.notes <- `{"collection":"identities","id":"a","version":2,"deleted":false}`
	fc.notes <- `{"collection":"identities","id":"other","version":3,"deleted":false}`
	fc.notes <- `{"collection":"identities","id":"a","version":4,"deleted":true}`

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "unpaired", seen[0].Fields["connectionStatus"])
	assert.Equal(t, "pending", seen[1].Fields["connectionStatus"])
	assert.Nil(t, seen[2])
	mu.Unlock()

	fc.mu.Lock()
	assert.Equal(t, []string{"LISTEN document_changes"}, fc.execs)
	fc.mu.Unlock()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscribe_ConnectFailure(t *testing.T) {
	orig := connect
	connect = func(ctx context.Context, dsn string) (conn, error) { return nil, errors.New("refused") }
	defer func() { connect = orig }()

	s, _ := newStoreWithMock(t, "postgres://test")
	_, err := s.Subscribe(context.Background(), "identities", "a", func(*docstore.Document) {})
	assert.ErrorIs(t, err, common.ErrUnavailable)

	s2, _ := newStoreWithMock(t, "")
	_, err = s2.Subscribe(context.Background(), "identities", "a", func(*docstore.Document) {})
	assert.ErrorIs(t, err, common.ErrUnavailable)
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	s := New(db, "", nil)
	t.Cleanup(func() {
		s.listener.stop()
		s.hub.Close()
		_ = db.Close()
	})

	mock.ExpectPing()
	assert.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("db down"))
	assert.ErrorContains(t, s.Ping(context.Background()), "db down")
	assert.NoError(t, mock.ExpectationsWereMet())
}
