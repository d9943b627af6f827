package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by ledger repositories. It carries the connection and lets
// a repository be rebound to a caller-owned transaction.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Bind returns a copy of the base that issues queries on tx. A nil tx keeps
// the original connection.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// Conn picks tx when present, otherwise the base connection, bound to ctx.
func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	return b.Bind(tx).DB(ctx)
}
