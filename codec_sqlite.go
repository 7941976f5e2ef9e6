package mpath

import (
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sqliteCodec expresses path operations over a plain text column: depth
// counts delimiter occurrences, descendant tests are prefix matches, and the
// rewrite splices strings with substr/||. Offsets use character counts
// because sqlite's length() and substr() are character-based.
type sqliteCodec struct{}

func (sqliteCodec) Backend() Backend { return BackendSQLite }

func (sqliteCodec) ColumnType() string { return "text" }

func (sqliteCodec) DepthCompare(col clause.Column, op string, n int) clause.Expr {
	return gorm.Expr("(length(?) - length(replace(?, ?, '')) + 1) "+op+" ?", col, col, Delimiter, n)
}

func (sqliteCodec) DepthOrder(col clause.Column, desc bool) clause.Expr {
	if desc {
		return gorm.Expr("(length(?) - length(replace(?, ?, '')) + 1) DESC", col, col, Delimiter)
	}
	return gorm.Expr("(length(?) - length(replace(?, ?, '')) + 1)", col, col, Delimiter)
}

func (sqliteCodec) SelfOrDescendants(col clause.Column, p Path) clause.Expr {
	return gorm.Expr("(? = ? OR ? LIKE ? ESCAPE '\\')",
		col, p.String(), col, descendantPattern(p))
}

func (sqliteCodec) Descendants(col clause.Column, p Path) clause.Expr {
	return gorm.Expr("? LIKE ? ESCAPE '\\'", col, descendantPattern(p))
}

func (sqliteCodec) Ancestors(col clause.Column, p Path) clause.Expr {
	// Every strict ancestor path is a known prefix of p, enumerable
	// client-side as an exact IN list; no escaping involved.
	ancestors := p.Ancestors()
	if len(ancestors) == 0 {
		return gorm.Expr("1 = 0")
	}
	raws := make([]string, len(ancestors))
	for i, a := range ancestors {
		raws[i] = a.String()
	}
	return gorm.Expr("? IN ?", col, raws)
}

func (sqliteCodec) RebuildSet(col clause.Column, oldPrefix, newPrefix Path) clause.Expr {
	// substr past the old prefix yields "" for the moved node itself and the
	// ".suffix" remainder for descendants.
	offset := utf8.RuneCountInString(oldPrefix.String()) + 1
	return gorm.Expr("? || substr(?, ?)", newPrefix.String(), col, offset)
}

// descendantPattern builds the LIKE pattern matching strict descendants of p,
// escaping LIKE metacharacters that may appear in segment values.
func descendantPattern(p Path) string {
	return escapeLike(p.String()) + Delimiter + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
