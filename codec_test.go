package mpath

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// openTestDB opens a file-backed sqlite handle for exercising generated SQL
// without the plugin involved.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "unit.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedPaths(t *testing.T, db *gorm.DB, paths ...string) {
	t.Helper()
	if err := db.Exec(`CREATE TABLE IF NOT EXISTS path_rows (path text NOT NULL)`).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, p := range paths {
		if err := db.Exec(`INSERT INTO path_rows (path) VALUES (?)`, p).Error; err != nil {
			t.Fatalf("insert %q: %v", p, err)
		}
	}
}

func queryPaths(t *testing.T, db *gorm.DB, cond clause.Expr) []string {
	t.Helper()
	var out []string
	if err := db.Table("path_rows").Where(cond).Order("path").Pluck("path", &out).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	return out
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestCodecFor(t *testing.T) {
	for _, backend := range []Backend{BackendPostgres, BackendSQLite} {
		codec, err := CodecFor(backend)
		if err != nil || codec.Backend() != backend {
			t.Fatalf("CodecFor(%s): %v %v", backend, codec, err)
		}
	}
	if _, err := CodecFor(Backend("mysql")); !IsCode(err, CodeUnsupportedBackend) {
		t.Fatalf("unknown backend: %v", err)
	}
}

func TestNormalizeDepthOp(t *testing.T) {
	valid := map[string]string{"=": "=", "<": "<", "<=": "<=", ">": ">", ">=": ">=", "<>": "<>", "!=": "<>"}
	for in, want := range valid {
		got, ok := normalizeDepthOp(in)
		if !ok || got != want {
			t.Fatalf("normalizeDepthOp(%q) = %q %v", in, got, ok)
		}
	}
	for _, in := range []string{"", "==", "like", "; drop"} {
		if _, ok := normalizeDepthOp(in); ok {
			t.Fatalf("normalizeDepthOp(%q) accepted", in)
		}
	}
}

func TestDetectBackendSQLite(t *testing.T) {
	db := openTestDB(t)
	backend, err := DetectBackend(db)
	if err != nil || backend != BackendSQLite {
		t.Fatalf("DetectBackend: %v %v", backend, err)
	}
	if err := EnsureExtensions(context.Background(), db); err != nil {
		t.Fatalf("EnsureExtensions on sqlite: %v", err)
	}
	if _, err := DetectBackend(nil); !IsCode(err, CodeUnsupportedBackend) {
		t.Fatalf("nil handle: %v", err)
	}
}

func TestSQLiteCodecPredicates(t *testing.T) {
	db := openTestDB(t)
	codec := sqliteCodec{}
	col := clause.Column{Name: "path"}
	seedPaths(t, db, "a", "a.b", "a.b.c", "ax", "b")

	if got := queryPaths(t, db, codec.DepthCompare(col, "=", 2)); !equalStrings(got, []string{"a.b"}) {
		t.Fatalf("depth=2: %v", got)
	}
	if got := queryPaths(t, db, codec.DepthCompare(col, ">", 1)); !equalStrings(got, []string{"a.b", "a.b.c"}) {
		t.Fatalf("depth>1: %v", got)
	}
	if got := queryPaths(t, db, codec.DepthCompare(col, "<>", 2)); !equalStrings(got, []string{"a", "a.b.c", "ax", "b"}) {
		t.Fatalf("depth<>2: %v", got)
	}

	// segment boundaries, not string prefixes: "ax" never joins "a"'s subtree
	if got := queryPaths(t, db, codec.SelfOrDescendants(col, mustPath(t, "a"))); !equalStrings(got, []string{"a", "a.b", "a.b.c"}) {
		t.Fatalf("self-or-descendants: %v", got)
	}
	if got := queryPaths(t, db, codec.Descendants(col, mustPath(t, "a"))); !equalStrings(got, []string{"a.b", "a.b.c"}) {
		t.Fatalf("descendants: %v", got)
	}
	if got := queryPaths(t, db, codec.Ancestors(col, mustPath(t, "a.b.c"))); !equalStrings(got, []string{"a", "a.b"}) {
		t.Fatalf("ancestors: %v", got)
	}
	if got := queryPaths(t, db, codec.Ancestors(col, mustPath(t, "a"))); len(got) != 0 {
		t.Fatalf("root ancestors: %v", got)
	}
}

func TestSQLiteCodecLikeEscaping(t *testing.T) {
	db := openTestDB(t)
	codec := sqliteCodec{}
	col := clause.Column{Name: "path"}
	seedPaths(t, db, "x%y", "x%y.c", "xAy.c", "p_q", "p_q.r", "pXq.r", `e\f`, `e\f.g`)

	if got := queryPaths(t, db, codec.Descendants(col, mustPath(t, "x%y"))); !equalStrings(got, []string{"x%y.c"}) {
		t.Fatalf("%% not escaped: %v", got)
	}
	if got := queryPaths(t, db, codec.Descendants(col, mustPath(t, "p_q"))); !equalStrings(got, []string{"p_q.r"}) {
		t.Fatalf("_ not escaped: %v", got)
	}
	if got := queryPaths(t, db, codec.Descendants(col, mustPath(t, `e\f`))); !equalStrings(got, []string{`e\f.g`}) {
		t.Fatalf(`\ not escaped: %v`, got)
	}
}

func TestSQLiteCodecRebuild(t *testing.T) {
	db := openTestDB(t)
	codec := sqliteCodec{}
	col := clause.Column{Name: "path"}
	seedPaths(t, db, "a", "a.b", "a.b.c", "a.bx")

	old, next := mustPath(t, "a.b"), mustPath(t, "z.w.b")
	res := db.Table("path_rows").
		Where(codec.SelfOrDescendants(col, old)).
		Update("path", codec.RebuildSet(col, old, next))
	if res.Error != nil || res.RowsAffected != 2 {
		t.Fatalf("rebuild: rows=%d err=%v", res.RowsAffected, res.Error)
	}
	got := queryPaths(t, db, gorm.Expr("1 = 1"))
	if !equalStrings(got, []string{"a", "a.bx", "z.w.b", "z.w.b.c"}) {
		t.Fatalf("after rebuild: %v", got)
	}
}

func TestSQLiteCodecRebuildMultibyte(t *testing.T) {
	// substr offsets count characters in sqlite; multi-byte segments must
	// still slice cleanly at the prefix boundary
	db := openTestDB(t)
	codec := sqliteCodec{}
	col := clause.Column{Name: "path"}
	seedPaths(t, db, "é", "é.b")

	old, next := mustPath(t, "é"), mustPath(t, "qq")
	res := db.Table("path_rows").
		Where(codec.SelfOrDescendants(col, old)).
		Update("path", codec.RebuildSet(col, old, next))
	if res.Error != nil || res.RowsAffected != 2 {
		t.Fatalf("rebuild: rows=%d err=%v", res.RowsAffected, res.Error)
	}
	got := queryPaths(t, db, gorm.Expr("1 = 1"))
	if !equalStrings(got, []string{"qq", "qq.b"}) {
		t.Fatalf("after rebuild: %v", got)
	}
}
