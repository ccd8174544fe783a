package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: invoices.invoice_number")))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062 (23000): Duplicate entry")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestIsTransientErr(t *testing.T) {
	assert.True(t, IsTransientErr(context.DeadlineExceeded))
	assert.True(t, IsTransientErr(fmt.Errorf("query: %w", context.Canceled)))
	assert.True(t, IsTransientErr(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsTransientErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsTransientErr(gorm.ErrRecordNotFound))
}

func TestWrapStoreErr(t *testing.T) {
	assert.Nil(t, WrapStoreErr(nil))

	wrapped := WrapStoreErr(context.DeadlineExceeded)
	assert.ErrorIs(t, wrapped, ErrStoreUnavailable)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)

	plain := errors.New("syntax error")
	assert.Equal(t, plain, WrapStoreErr(plain))
}
