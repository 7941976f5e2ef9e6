package mpath

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Backend tags one of the two supported database engines.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// DetectBackend resolves the active connection's backend from its dialector.
// Anything but postgres or sqlite is refused.
func DetectBackend(db *gorm.DB) (Backend, error) {
	if db == nil || db.Dialector == nil {
		return "", NewError(CodeUnsupportedBackend, "mpath.DetectBackend", "nil database handle", nil)
	}
	switch db.Dialector.Name() {
	case "postgres":
		return BackendPostgres, nil
	case "sqlite", "sqlite3":
		return BackendSQLite, nil
	}
	return "", NewError(CodeUnsupportedBackend, "mpath.DetectBackend",
		fmt.Sprintf("dialect %q has no path codec", db.Dialector.Name()), nil)
}

// EnsureExtensions installs backend prerequisites: the ltree extension on
// postgres. No-op on sqlite. Call once at startup, before migrating
// tree-enabled tables.
func EnsureExtensions(ctx context.Context, db *gorm.DB) error {
	backend, err := DetectBackend(db)
	if err != nil {
		return err
	}
	if backend != BackendPostgres {
		return nil
	}
	if err := db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS ltree`).Error; err != nil {
		return MapError("mpath.EnsureExtensions", err)
	}
	return nil
}
