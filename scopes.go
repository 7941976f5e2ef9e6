package mpath

import (
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope is a composable tree predicate for use with db.Scopes. Scopes resolve
// the model from the query itself, so they need a Model(...) call or a typed
// destination to hang on to. Misuse surfaces through the query's error.
type Scope func(*gorm.DB) *gorm.DB

// Direction selects depth ordering for OrderByDepth.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

func (s *settings) pathCol() clause.Column   { return clause.Column{Name: s.path.DBName} }
func (s *settings) parentCol() clause.Column { return clause.Column{Name: s.parent.DBName} }

// WhereRoot keeps nodes without a parent reference.
func WhereRoot() Scope {
	return func(db *gorm.DB) *gorm.DB {
		s, err := scopeSettings(db)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		return db.Where(gorm.Expr("? IS NULL", s.parentCol()))
	}
}

// WhereDepth compares path depth to n with one of =, <, <=, >, >=, <> (!= is
// accepted as an alias).
func WhereDepth(op string, n int) Scope {
	return func(db *gorm.DB) *gorm.DB {
		normalized, valid := normalizeDepthOp(op)
		if !valid {
			_ = db.AddError(NewError(CodeInternal, "mpath.WhereDepth",
				fmt.Sprintf("invalid depth operator %q", op), nil))
			return db
		}
		s, codec, err := scopeCodec(db)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		return db.Where(codec.DepthCompare(s.pathCol(), normalized, n))
	}
}

// OrderByDepth sorts by path depth.
func OrderByDepth(dir Direction) Scope {
	return func(db *gorm.DB) *gorm.DB {
		if dir != Ascending && dir != Descending {
			_ = db.AddError(NewError(CodeInternal, "mpath.OrderByDepth",
				fmt.Sprintf("invalid direction %q", dir), nil))
			return db
		}
		s, codec, err := scopeCodec(db)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		return db.Order(clause.OrderBy{Expression: codec.DepthOrder(s.pathCol(), dir == Descending)})
	}
}

// WhereSelfOrDescendantOf keeps the node itself and its whole subtree.
func WhereSelfOrDescendantOf(node Node) Scope {
	return nodeScope("mpath.WhereSelfOrDescendantOf", node, Codec.SelfOrDescendants)
}

// WhereDescendantOf keeps strict descendants of the node.
func WhereDescendantOf(node Node) Scope {
	return nodeScope("mpath.WhereDescendantOf", node, Codec.Descendants)
}

// WhereAncestorOf keeps strict ancestors of the node.
func WhereAncestorOf(node Node) Scope {
	return nodeScope("mpath.WhereAncestorOf", node, Codec.Ancestors)
}

func nodeScope(op string, node Node, build func(Codec, clause.Column, Path) clause.Expr) Scope {
	return func(db *gorm.DB) *gorm.DB {
		s, err := resolveSettings(db, node)
		if err != nil {
			_ = db.AddError(scopeErr(op, err))
			return db
		}
		rv := reflect.ValueOf(node)
		for rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				_ = db.AddError(NewError(CodeInternal, op, "nil node", nil))
				return db
			}
			rv = rv.Elem()
		}
		ctx := db.Statement.Context
		p, err := s.pathOf(ctx, rv)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		if p.IsZero() {
			// partially loaded node: fall back to the stored path
			key, ok := s.keyOf(ctx, rv)
			if !ok {
				_ = db.AddError(NewError(CodeInternal, op, "node has neither path nor primary key set", nil))
				return db
			}
			row, err := loadCurrent(db, s, op, key)
			if err != nil {
				_ = db.AddError(err)
				return db
			}
			if p, err = ParsePath(row.Path.String); err != nil {
				_ = db.AddError(err)
				return db
			}
		}
		if p.IsZero() {
			_ = db.AddError(NewError(CodeInternal, op, "node has no path assigned", nil))
			return db
		}
		codec, err := codecForDB(db)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		return db.Where(build(codec, s.pathCol(), p))
	}
}

// scopeSettings resolves tree settings from the query's model or destination.
func scopeSettings(db *gorm.DB) (*settings, error) {
	model := db.Statement.Model
	if model == nil {
		model = db.Statement.Dest
	}
	if model == nil {
		return nil, NewError(CodeInternal, "mpath.Scope",
			"tree scopes need a Model(...) call or a typed destination", nil)
	}
	s, err := resolveSettings(db, model)
	if err != nil {
		return nil, scopeErr("mpath.Scope", err)
	}
	return s, nil
}

func scopeCodec(db *gorm.DB) (*settings, Codec, error) {
	s, err := scopeSettings(db)
	if err != nil {
		return nil, nil, err
	}
	codec, err := codecForDB(db)
	if err != nil {
		return nil, nil, err
	}
	return s, codec, nil
}

func scopeErr(op string, err error) error {
	if errors.Is(err, errNotTreeModel) {
		return NewError(CodeInternal, op, "model is not tree-enabled", err)
	}
	return err
}
