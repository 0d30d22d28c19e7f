package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dukerupert/stampd/internal/database"
	"github.com/dukerupert/stampd/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupFileDB opens a file-backed database so that concurrent callers use
// separate connections.
func setupFileDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "stampd.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedBusiness(t *testing.T, db *sql.DB, stampsRequired int) *model.Business {
	t.Helper()
	b, err := NewBusinessStore(db).Create(context.Background(), NewBusiness{
		Name:           "Corner Cafe",
		OwnerUserID:    "owner-1",
		StampsRequired: stampsRequired,
	})
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	return b
}
