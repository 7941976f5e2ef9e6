package mpath

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yungbote/mpath/platform/logger"
)

// Plugin wires tree maintenance into GORM's create and update flows. Install
// once per *gorm.DB:
//
//	db.Use(mpath.New(mpath.WithLogger(log)))
//
// Models implementing Node then keep their paths correct through ordinary
// Create/Save/Updates calls; everything else is untouched.
type Plugin struct {
	log *logger.Logger
}

type Option func(*Plugin)

// WithLogger attaches a logger for debug-level narration of rebuilds.
func WithLogger(l *logger.Logger) Option {
	return func(p *Plugin) { p.log = l }
}

func New(opts ...Option) *Plugin {
	p := &Plugin{}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Nop()
	}
	return p
}

func (p *Plugin) Name() string { return "mpath" }

func (p *Plugin) Initialize(db *gorm.DB) error {
	createCallback := db.Callback().Create()
	if err := createCallback.Before("gorm:create").Register("mpath:assign_path", p.beforeCreate); err != nil {
		return err
	}
	if err := createCallback.After("gorm:create").Register("mpath:assign_path_deferred", p.afterCreate); err != nil {
		return err
	}
	updateCallback := db.Callback().Update()
	if err := updateCallback.Before("gorm:update").Register("mpath:guard_move", p.beforeUpdate); err != nil {
		return err
	}
	return updateCallback.After("gorm:update").Register("mpath:rebuild_subtree", p.afterUpdate)
}

const skipKey = "mpath:skip"

// Skip returns a session whose writes bypass the tree callbacks. This is the
// only escape hatch: the callbacks deliberately ignore gorm's SkipHooks so
// that UpdateColumn cannot corrupt paths by accident. Use it for writes whose
// path bookkeeping is handled elsewhere, such as the library's own targeted
// updates.
func Skip(tx *gorm.DB) *gorm.DB {
	return tx.Set(skipKey, true)
}

func skipped(db *gorm.DB) bool {
	v, ok := db.Get(skipKey)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// treeSettings resolves settings for the statement's model; ok is false for
// models that are not tree-enabled.
func treeSettings(db *gorm.DB) (*settings, bool) {
	if db.Statement.Schema == nil {
		return nil, false
	}
	s, err := settingsForSchema(db.Statement.Schema)
	if err != nil {
		if errors.Is(err, errNotTreeModel) {
			return nil, false
		}
		_ = db.AddError(err)
		return nil, false
	}
	return s, true
}
