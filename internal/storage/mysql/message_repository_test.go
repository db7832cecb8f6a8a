package mysql

import (
	"context"
	stdErrors "errors"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	driver "github.com/go-sql-driver/mysql"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/message"
)

func TestSaveMessagesUpsertsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewMessageRepositoryWithDB(db)
	first := message.New(message.TypeGoal, "plan a trip")
	second := message.ForTask(message.TypeAction, "task-1", "book hotel").WithInfo("done").Finalize()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agent_messages")).
		WithArgs(first.ID, "run-1", "goal", "", "plan a trip", "completed", "", false, first.CreatedAt, first.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agent_messages")).
		WithArgs(second.ID, "run-1", "action", "task-1", "book hotel", "completed", "done", true, second.CreatedAt, second.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	if err := repo.SaveMessages(context.Background(), "run-1", []message.Message{first, second}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveMessagesRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewMessageRepositoryWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agent_messages")).
		WillReturnError(&driver.MySQLError{Number: errDeadlock, Message: "Deadlock found"})
	mock.ExpectRollback()

	err = repo.SaveMessages(context.Background(), "run-1", []message.Message{message.New(message.TypeGoal, "g")})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if !xerrors.RetryableError(err) {
		t.Fatalf("deadlock should be retryable")
	}
	var mysqlErr *driver.MySQLError
	if !stdErrors.As(err, &mysqlErr) {
		t.Fatalf("driver error should stay in the chain")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveMessagesSkipsEmptyBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	if err := NewMessageRepositoryWithDB(db).SaveMessages(context.Background(), "run-1", nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "type", "task_id", "value", "status", "info", "final", "created_at", "updated_at"}).
		AddRow("m1", "goal", "", "plan a trip", "completed", nil, false, int64(10), int64(10)).
		AddRow("m2", "action", "t1", "book hotel", "completed", "booked", true, int64(11), int64(12))
	mock.ExpectQuery(regexp.QuoteMeta("FROM agent_messages WHERE run_id = ?")).
		WithArgs("run-1").
		WillReturnRows(rows)

	msgs, err := NewMessageRepositoryWithDB(db).ListByRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Info != "" || msgs[0].Type != message.TypeGoal {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].TaskID != "t1" || msgs[1].Info != "booked" || !msgs[1].Final || msgs[1].UpdatedAt != 12 {
		t.Fatalf("unexpected second message: %+v", msgs[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunMigrationsAppliesPendingFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	source := fstest.MapFS{
		"0001_init.sql":  {Data: []byte("CREATE TABLE a (id INT);")},
		"0002_extra.sql": {Data: []byte("CREATE TABLE b (id INT);\nCREATE INDEX idx_b ON b (id);")},
		"README.md":      {Data: []byte("ignored")},
	}

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX idx_b ON b (id)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations")).
		WithArgs("0002", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := runMigrations(context.Background(), db, source); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) == 0 || files[0].version != "0001" {
		t.Fatalf("unexpected migrations: %+v", files)
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("agent:secret@tcp(127.0.0.1:3306)/autoagent")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse normalized: %v", err)
	}
	if !cfg.ParseTime {
		t.Fatalf("parseTime should be enabled")
	}
	if cfg.Loc != time.UTC {
		t.Fatalf("location should be UTC, got %v", cfg.Loc)
	}
	if _, err := normalizeDSN("  "); err == nil {
		t.Fatalf("empty dsn should be rejected")
	}
}
