package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingQuerier struct {
	err error
}

func (q failingQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, q.err
}

func TestPgxExecutor_QueryError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "42P01", Message: `relation "inventory" does not exist`}
	exec := NewPgxExecutor(failingQuerier{err: pgErr}, Options{}, nil)
	assert.Equal(t, DialectPostgres, exec.Dialect())

	_, err := exec.Query(context.Background(), "SELECT * FROM inventory WHERE supplier = $1", []any{"BOE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "42P01")

	var got *pgconn.PgError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, "42P01", got.Code)
}

func TestPgxExecutor_ConnectionError(t *testing.T) {
	boom := errors.New("dial tcp: connection refused")
	exec := NewPgxExecutor(failingQuerier{err: boom}, Options{}, nil)

	_, err := exec.Query(context.Background(), "SELECT 1", nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "查询执行失败")
}

func TestConvertValue(t *testing.T) {
	now := time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC)
	testCases := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"time kept", now, now},
		{"utf8 bytes", []byte("BOE"), "BOE"},
		{"binary bytes", []byte{0xff}, "base64:/w=="},
		{"json number", json.Number("3.5"), "3.5"},
		{"int", int64(7), int64(7)},
		{"numeric", pgtype.Numeric{Int: big.NewInt(525), Exp: -2, Valid: true}, 5.25},
		{"numeric null", pgtype.Numeric{}, nil},
		{"numeric NaN", pgtype.Numeric{NaN: true, Valid: true}, "NaN"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, convertValue(tc.in))
		})
	}
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), opts)

	opts = Options{QueryTimeout: time.Second, MaxRows: 10}.withDefaults()
	assert.Equal(t, time.Second, opts.QueryTimeout)
	assert.Equal(t, 10, opts.MaxRows)
}
