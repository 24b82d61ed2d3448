package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm sentinel", err: fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), want: true},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "pg other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "sqlite", err: errors.New("constraint failed: UNIQUE constraint failed: commissions.order_ref (2067)"), want: true},
		{name: "mysql", err: errors.New("Error 1062 (23000): Duplicate entry"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateKeyErr(tt.err))
		})
	}
}
