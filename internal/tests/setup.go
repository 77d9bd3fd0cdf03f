// Package tests holds end-to-end tests that run the full router against a real
// PostgreSQL. They are skipped unless DATABASE_URL is set.
package tests

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phonegate/server/internal/db"
)

// authTables are truncated between test sections.
const authTables = "sessions, otp_requests, user_profiles, users"

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if err := db.Migrate(ctx, database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE "+authTables+" RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}
