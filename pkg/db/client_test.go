package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/marketplace-orders/pkg/config"
	"github.com/angelmondragon/marketplace-orders/pkg/logger"
)

type testModel struct {
	ID   int
	Code string `gorm:"uniqueIndex:ux_test_models_code"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:db_client_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := NewFromGorm(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Code: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Code: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	client := NewFromGorm(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), config.DBConfig{Driver: "sqlite"}, nil); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestNewOpensSQLite(t *testing.T) {
	cfg := config.DBConfig{
		Driver: config.DBDriverSQLite,
		DSN:    fmt.Sprintf("file:db_new_%s?mode=memory&cache=shared", uuid.NewString()),
	}
	client, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer client.Close()
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&testModel{Code: "dup"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := db.Create(&testModel{Code: "dup"}).Error
	if err == nil {
		t.Fatal("expected unique violation")
	}
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if !IsUniqueViolation(err, "test_models.code") {
		t.Fatalf("expected column match, got %v", err)
	}
}

func TestIsUniqueViolationPostgres(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_orders_order_number"}
	wrapped := fmt.Errorf("insert order: %w", pgErr)

	if !IsUniqueViolation(wrapped, "ux_orders_order_number") {
		t.Fatal("expected match on constraint name")
	}
	if IsUniqueViolation(wrapped, "ux_carts_user_id") {
		t.Fatal("different constraint must not match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil is never a violation")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", gorm.ErrRecordNotFound)) {
		t.Fatal("expected wrapped not found")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatal("unexpected match")
	}
}

func TestQueryLoggerReportsFailuresAndSlowQueries(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf})
	ql := newQueryLogger(logg, 10*time.Millisecond)
	sql := func() (string, int64) { return "SELECT * FROM orders", 0 }

	ql.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("record not found must not be logged: %s", buf.String())
	}

	ql.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	if !strings.Contains(buf.String(), `"slow query"`) || !strings.Contains(buf.String(), "SELECT * FROM orders") {
		t.Fatalf("expected slow query warning, got %s", buf.String())
	}

	buf.Reset()
	ql.Trace(context.Background(), time.Now(), sql, errors.New("relation does not exist"))
	if !strings.Contains(buf.String(), `"query failed"`) {
		t.Fatalf("expected failure log, got %s", buf.String())
	}

	buf.Reset()
	ql.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), sql, errors.New("x"))
	if buf.Len() != 0 {
		t.Fatalf("silent mode must not log: %s", buf.String())
	}
}
