package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type row struct {
	ID   int `gorm:"primaryKey"`
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&row{}))
	return conn
}

func TestBaseDBBindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)
	require.NotNil(t, withCtx.Statement)
	require.Equal(t, ctx, withCtx.Statement.Context)

	require.Same(t, db, base.DB(nil))
}

func TestTxRollsBackOnError(t *testing.T) {
	base := NewBase(newTestDB(t))
	ctx := context.Background()

	boom := errors.New("boom")
	err := base.Tx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&row{ID: 1, Name: "a"}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, base.DB(ctx).Model(&row{}).Count(&count).Error)
	require.Zero(t, count)

	require.NoError(t, base.Tx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&row{ID: 2, Name: "b"}).Error
	}))
	require.NoError(t, base.DB(ctx).Model(&row{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestForUpdateIsNoOpOnSQLite(t *testing.T) {
	base := NewBase(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, base.DB(ctx).Create(&row{ID: 3, Name: "c"}).Error)

	err := base.Tx(ctx, func(tx *gorm.DB) error {
		var got row
		return ForUpdate(tx).Where("id = ?", 3).First(&got).Error
	})
	require.NoError(t, err)
}
