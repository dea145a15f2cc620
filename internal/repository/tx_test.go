package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsTransientStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization failure", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, want: true},
		{name: "deadlock", err: &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, want: true},
		{name: "lock not available", err: &pgconn.PgError{Code: pgerrcode.LockNotAvailable}, want: true},
		{name: "connection failure", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, want: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: pgerrcode.AdminShutdown}, want: true},
		{name: "wrapped deadlock", err: fmt.Errorf("expire: %w", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}), want: true},
		{name: "unique violation", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, want: false},
		{name: "check violation", err: &pgconn.PgError{Code: pgerrcode.CheckViolation}, want: false},
		{name: "context deadline", err: context.DeadlineExceeded, want: true},
		{name: "context canceled", err: fmt.Errorf("confirm: %w", context.Canceled), want: true},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsTransientStoreError(tt.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(&pgconn.PgError{Code: pgerrcode.UniqueViolation}))
	require.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation})))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	require.False(t, isUniqueViolation(errors.New("boom")))
}
