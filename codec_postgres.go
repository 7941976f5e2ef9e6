package mpath

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// postgresCodec expresses path operations through the ltree extension: depth
// is nlevel, containment is the <@ / @> operators, and the rewrite splices
// subpaths with the || concatenation operator. Parameters are cast to ltree
// explicitly so the planner never sees untyped text.
//
// ltree constrains labels to alphanumerics, underscores, and (PostgreSQL 16+)
// hyphens; hyphenated UUID sources therefore need 16 or newer.
type postgresCodec struct{}

func (postgresCodec) Backend() Backend { return BackendPostgres }

func (postgresCodec) ColumnType() string { return "ltree" }

func (postgresCodec) DepthCompare(col clause.Column, op string, n int) clause.Expr {
	return gorm.Expr("nlevel(?) "+op+" ?", col, n)
}

func (postgresCodec) DepthOrder(col clause.Column, desc bool) clause.Expr {
	if desc {
		return gorm.Expr("nlevel(?) DESC", col)
	}
	return gorm.Expr("nlevel(?)", col)
}

func (postgresCodec) SelfOrDescendants(col clause.Column, p Path) clause.Expr {
	return gorm.Expr("? <@ ?::ltree", col, p.String())
}

func (postgresCodec) Descendants(col clause.Column, p Path) clause.Expr {
	raw := p.String()
	return gorm.Expr("(? <@ ?::ltree AND ? <> ?::ltree)", col, raw, col, raw)
}

func (postgresCodec) Ancestors(col clause.Column, p Path) clause.Expr {
	raw := p.String()
	return gorm.Expr("(? @> ?::ltree AND ? <> ?::ltree)", col, raw, col, raw)
}

func (postgresCodec) RebuildSet(col clause.Column, oldPrefix, newPrefix Path) clause.Expr {
	// subpath past the old prefix is the preserved suffix; empty for the
	// moved node itself, so the concatenation degenerates to the new prefix.
	return gorm.Expr("?::ltree || subpath(?, nlevel(?::ltree))",
		newPrefix.String(), col, oldPrefix.String())
}
