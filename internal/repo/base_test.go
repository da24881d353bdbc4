package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/angelmondragon/tablesync-backend/pkg/db/dbtest"
)

type ctxKey struct{}

func TestBaseDBBindsContext(t *testing.T) {
	db := dbtest.Open(t)
	base := NewBase(db)

	assert.Same(t, db, base.DB(nil))

	ctx := context.WithValue(context.Background(), ctxKey{}, "value")
	bound := base.DB(ctx)
	if assert.NotNil(t, bound.Statement) {
		assert.Equal(t, ctx, bound.Statement.Context)
	}
}

func TestBaseConnPrefersTx(t *testing.T) {
	db := dbtest.Open(t)
	base := NewBase(db)
	tx := db.Session(&gorm.Session{})

	assert.Same(t, tx, base.Conn(nil, tx))

	ctx := context.WithValue(context.Background(), ctxKey{}, "tx")
	assert.Equal(t, ctx, base.Conn(ctx, tx).Statement.Context)
	assert.Equal(t, ctx, base.Conn(ctx, nil).Statement.Context)
}
