package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// Repository-style APIs accept it so a caller can thread one transaction
// through several operations; a nil Tx means "use your own handle".
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Background returns a Context with no transaction and a background context.
func Background() Context {
	return Context{Ctx: context.Background()}
}
