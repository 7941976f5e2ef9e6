// Package mpath maintains materialized-path trees inside relational tables
// managed by GORM.
//
// Each tree-enabled row carries a nullable parent reference and a derived
// path column recording its full lineage as delimiter-joined segments
// ("electronics.phones.smartphones"). The parent reference stays the sole
// source of truth; the path is a denormalized projection that makes
// ancestor/descendant queries single round-trip instead of recursive. The
// package derives paths on create, rejects reparents that would make a node
// its own ancestor, and rewrites a whole subtree's paths with one bulk UPDATE
// when a node moves.
//
// Two storage backends are supported and must stay logically interchangeable:
// PostgreSQL stores the column as the native ltree type and rewrites with
// nlevel/subpath/prefix operators, SQLite stores plain text and rewrites with
// substr/LIKE string arithmetic. Any other dialect is refused rather than
// guessed at.
//
// The delimiter is a fixed "." and is reserved: segment values must never
// contain it. Segments are not escaped; supplying a delimiter-bearing source
// fails with CodeInvalidSegment. On PostgreSQL the ltree label charset applies
// on top of that (alphanumerics, underscores, and on 16+ hyphens).
//
// Behavior can be driven two ways. Installing the Plugin
// (db.Use(mpath.New())) hooks create and update flows so ordinary GORM writes
// keep paths correct. Manager offers the same operations as an explicit API
// (ValidateMove / Move / RebuildSubtree) for callers that prefer orchestrating
// the steps themselves.
//
// A reparent validates against the candidate parent's currently stored path,
// commits the parent change, then rewrites the subtree — all inside the
// enclosing transaction, so the stale-path window between commit and rewrite
// is invisible outside it. Concurrent reparents of overlapping subtrees from
// different sessions are intentionally not coordinated here; that is the
// database isolation level's job.
package mpath
