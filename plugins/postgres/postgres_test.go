package postgres

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/miladsoleymani/ackmux/core"
	"github.com/miladsoleymani/ackmux/internal/mock"
)

func TestParticipantCommit(t *testing.T) {
	db, sm := newSQLMock(t)
	p := NewParticipant(db, "", nil)
	if p.Name() != DefaultName {
		t.Fatalf("Name() = %q, want %q", p.Name(), DefaultName)
	}

	sm.ExpectBegin()
	sm.ExpectExec(regexp.QuoteMeta(`INSERT INTO orders (id) VALUES ($1)`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(7, 1))
	sm.ExpectCommit()

	sync, err := p.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	c := mock.NewContext(mock.Record("orders", 0, 7, "{}"))
	c.Set(p.Name(), sync)

	tx, ok := TxFromContext(c, p.Name())
	if !ok {
		t.Fatal("TxFromContext() found no transaction")
	}
	if _, err := tx.ExecContext(context.Background(), `INSERT INTO orders (id) VALUES ($1)`, int64(7)); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}
	if err := sync.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	assertSQLMock(t, sm)
}

func TestParticipantRollbackTwice(t *testing.T) {
	db, sm := newSQLMock(t)
	sm.ExpectBegin()
	sm.ExpectRollback()

	sync, err := NewParticipant(db, "orders-db", nil).Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := sync.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if err := sync.Rollback(context.Background()); err != nil {
		t.Fatalf("second Rollback() error = %v", err)
	}
	assertSQLMock(t, sm)
}

func TestParticipantBeginError(t *testing.T) {
	db, sm := newSQLMock(t)
	sm.ExpectBegin().WillReturnError(errors.New("no connection"))

	if _, err := NewParticipant(db, "", nil).Begin(context.Background()); err == nil {
		t.Fatal("expected Begin() to fail")
	}
	assertSQLMock(t, sm)
}

func TestTxFromContextMissing(t *testing.T) {
	c := mock.NewContext(mock.Record("orders", 0, 1, ""))
	if _, ok := TxFromContext(c, DefaultName); ok {
		t.Error("found a transaction in an empty context")
	}
	c.Set(DefaultName, "not a sync")
	if _, ok := TxFromContext(c, DefaultName); ok {
		t.Error("accepted a value of the wrong type")
	}
}

func TestOffsetStoreSave(t *testing.T) {
	db, sm := newSQLMock(t)
	store := NewOffsetStore(db)

	sm.ExpectBegin()
	sm.ExpectExec(`INSERT INTO ackmux_offsets`).
		WithArgs("billing", "orders", int64(0), int64(41)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectExec(`INSERT INTO ackmux_offsets`).
		WithArgs("billing", "orders", int64(1), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	sm.ExpectCommit()

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	offsets := []core.Offset{{Topic: "orders", Partition: 0, Offset: 41}, {Topic: "orders", Partition: 1, Offset: 9}}
	if err := store.Save(context.Background(), tx, "billing", offsets); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	assertSQLMock(t, sm)
}

func TestOffsetStoreLoad(t *testing.T) {
	db, sm := newSQLMock(t)
	sm.ExpectQuery(`SELECT topic, partition, last_offset\s+FROM ackmux_offsets`).
		WithArgs("billing").
		WillReturnRows(sqlmock.NewRows([]string{"topic", "partition", "last_offset"}).
			AddRow("orders", 0, int64(41)).
			AddRow("orders", 1, int64(9)))

	got, err := NewOffsetStore(db).Load(context.Background(), "billing")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []core.Offset{{Topic: "orders", Partition: 0, Offset: 41}, {Topic: "orders", Partition: 1, Offset: 9}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Load() = %v, want %v", got, want)
	}
	assertSQLMock(t, sm)
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{}); err == nil {
		t.Fatal("expected an error without a dsn")
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, sm, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, sm
}

func assertSQLMock(t *testing.T, sm sqlmock.Sqlmock) {
	t.Helper()
	if err := sm.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
