package ctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles the process context with the database handle, so that
// model helpers and caches receive a single dependency.
type Context struct {
	DB  *gorm.DB
	Ctx context.Context
}

func NewContext(ctx context.Context, db *gorm.DB) *Context {
	return &Context{
		Ctx: ctx,
		DB:  db,
	}
}

func (c *Context) SetDB(db *gorm.DB) {
	c.DB = db
}

func (c *Context) GetContext() context.Context {
	return c.Ctx
}

func (c *Context) GetDB() *gorm.DB {
	return c.DB
}
