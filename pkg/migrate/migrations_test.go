package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/marketplace-orders/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestListingsMigrationGuardsStock(t *testing.T) {
	assertContains(t, readMigration(t, "create_listings"), []string{
		"CREATE TABLE IF NOT EXISTS wholesale_listings",
		"CREATE TABLE IF NOT EXISTS retailer_listings",
		"CONSTRAINT ck_wholesale_listings_stock CHECK (stock >= 0)",
		"CONSTRAINT ck_retailer_listings_stock CHECK (stock >= 0)",
		"CHECK (minimum_order_quantity >= 1)",
		"ux_retailer_listings_seller_origin",
		"DROP TABLE IF EXISTS wholesale_listings",
	})
}

func TestCartsMigrationEnforcesOneCartPerUser(t *testing.T) {
	assertContains(t, readMigration(t, "create_carts"), []string{
		"CONSTRAINT ux_carts_user_id UNIQUE (user_id)",
		"FOREIGN KEY (cart_id) REFERENCES carts(id) ON DELETE CASCADE",
		"CONSTRAINT ux_cart_items_cart_item UNIQUE (cart_id, item_ref, item_kind)",
	})
}

func TestOrdersMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"), []string{
		"CONSTRAINT ux_orders_order_number UNIQUE (order_number)",
		"CONSTRAINT ck_orders_total_amount CHECK (total_amount >= 0)",
		"is_inventory_added boolean NOT NULL DEFAULT false",
		"CREATE TABLE IF NOT EXISTS order_lines",
		"CREATE TABLE IF NOT EXISTS order_status_history",
		"DROP TABLE IF EXISTS orders",
	})
}

func TestOutboxMigrationIndexesUnpublished(t *testing.T) {
	assertContains(t, readMigration(t, "create_outbox"), []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"WHERE published_at IS NULL",
		"CREATE TABLE IF NOT EXISTS outbox_dlq",
	})
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "add_orders.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Order Notes!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_order_notes.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
