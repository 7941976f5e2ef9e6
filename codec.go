package mpath

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Codec generates backend-native SQL fragments over the path column. The two
// implementations must yield identical logical results for depth computation,
// descendant/ancestor predicates, and the subtree prefix rewrite; the
// backend-parity tests hold them to that.
//
// All fragments are parameterized clause expressions; values are never
// interpolated into SQL text. Column names travel as clause.Column vars so
// the dialect quotes them.
type Codec interface {
	Backend() Backend

	// ColumnType is the migration column type for the path column.
	ColumnType() string

	// DepthCompare filters on path depth with a validated comparison
	// operator.
	DepthCompare(col clause.Column, op string, n int) clause.Expr

	// DepthOrder sorts by path depth.
	DepthOrder(col clause.Column, desc bool) clause.Expr

	// SelfOrDescendants matches rows whose path equals p or extends it.
	SelfOrDescendants(col clause.Column, p Path) clause.Expr

	// Descendants matches strict descendants of p.
	Descendants(col clause.Column, p Path) clause.Expr

	// Ancestors matches strict ancestors of p.
	Ancestors(col clause.Column, p Path) clause.Expr

	// RebuildSet is the assignment expression rewriting an old path prefix to
	// a new one while preserving the per-row suffix. Combined with
	// SelfOrDescendants(oldPrefix) it moves a whole subtree in one UPDATE.
	RebuildSet(col clause.Column, oldPrefix, newPrefix Path) clause.Expr
}

// CodecFor returns the codec for a backend tag.
func CodecFor(backend Backend) (Codec, error) {
	switch backend {
	case BackendPostgres:
		return postgresCodec{}, nil
	case BackendSQLite:
		return sqliteCodec{}, nil
	}
	return nil, NewError(CodeUnsupportedBackend, "mpath.CodecFor",
		"no codec for backend "+string(backend), nil)
}

func codecForDB(db *gorm.DB) (Codec, error) {
	backend, err := DetectBackend(db)
	if err != nil {
		return nil, err
	}
	return CodecFor(backend)
}

var depthOps = map[string]string{
	"=":  "=",
	"<":  "<",
	"<=": "<=",
	">":  ">",
	">=": ">=",
	"<>": "<>",
	"!=": "<>",
}

// normalizeDepthOp validates a depth comparison operator.
func normalizeDepthOp(op string) (string, bool) {
	normalized, ok := depthOps[op]
	return normalized, ok
}
