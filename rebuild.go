package mpath

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("github.com/yungbote/mpath")

// rebuildSubtree rewrites the stored path of the moved node and every
// descendant in one bulk UPDATE: rows matching the old prefix get it replaced
// by the new prefix with their suffix preserved. Runs on whatever connection
// tx carries, so callers inside a transaction get statement atomicity plus
// their own transactional boundary.
//
// The prefix replacement is general: it strips exactly depth(oldSelf)
// segments whatever that depth is, which covers reparent-to-root and moves
// across several levels in one step.
func rebuildSubtree(ctx context.Context, tx *gorm.DB, s *settings, oldSelf, newSelf Path) (int64, error) {
	const op = "mpath.RebuildSubtree"
	if oldSelf.IsZero() || newSelf.IsZero() {
		return 0, NewError(CodeInternal, op, "rebuild requires both the old and the new self path", nil)
	}
	if oldSelf.Equal(newSelf) {
		return 0, nil
	}
	codec, err := codecForDB(tx)
	if err != nil {
		return 0, err
	}

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("mpath.table", s.sch.Table),
		attribute.String("mpath.old_path", oldSelf.String()),
		attribute.String("mpath.new_path", newSelf.String()),
	))
	defer span.End()

	col := clause.Column{Name: s.path.DBName}
	res := freshSession(tx, ctx).
		Table(s.sch.Table).
		Where(codec.SelfOrDescendants(col, oldSelf)).
		Update(s.path.DBName, codec.RebuildSet(col, oldSelf, newSelf))
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, MapError(op, res.Error)
	}
	span.SetAttributes(attribute.Int64("mpath.rows", res.RowsAffected))
	return res.RowsAffected, nil
}
