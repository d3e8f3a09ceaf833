package datastore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func demoExecutor(t *testing.T, opts Options) *SQLExecutor {
	t.Helper()
	exec, err := OpenSQLite("file::memory:", opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })

	schema, err := os.ReadFile("testdata/demo.sql")
	require.NoError(t, err)
	_, err = exec.DB().Exec(string(schema))
	require.NoError(t, err)
	return exec
}

func TestSQLExecutor_Query(t *testing.T) {
	exec := demoExecutor(t, Options{})
	assert.Equal(t, DialectSQLite, exec.Dialect())

	rows, err := exec.Query(context.Background(),
		"SELECT material_code, quantity FROM inventory WHERE supplier LIKE ? AND status LIKE ? ORDER BY material_code",
		[]any{"BOE", "%"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "M10001", rows[0]["material_code"])
	assert.Equal(t, int64(1200), rows[0]["quantity"])
}

func TestSQLExecutor_ArgsAreNotInterpreted(t *testing.T) {
	exec := demoExecutor(t, Options{})

	rows, err := exec.Query(context.Background(),
		"SELECT * FROM inventory WHERE supplier = ?",
		[]any{"x' OR '1'='1"})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)
}

func TestSQLExecutor_MaxRows(t *testing.T) {
	exec := demoExecutor(t, Options{MaxRows: 3})

	rows, err := exec.Query(context.Background(), "SELECT * FROM inventory", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestSQLExecutor_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	exec := NewSQLExecutor(db, "", Options{QueryTimeout: time.Second}, nil)
	boom := errors.New("connection reset by peer")

	t.Run("查询失败", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WithArgs("BOE").WillReturnError(boom)
		_, err := exec.Query(context.Background(), "SELECT * FROM inventory WHERE supplier = ?", []any{"BOE"})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("读取行失败", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnRows(
			sqlmock.NewRows([]string{"material_code"}).AddRow("M1").RowError(0, boom))
		_, err := exec.Query(context.Background(), "SELECT material_code FROM inventory", nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("字节列转字符串", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnRows(
			sqlmock.NewRows([]string{"name", "blob"}).AddRow([]byte("显示屏"), []byte{0xff, 0xfe}))
		rows, err := exec.Query(context.Background(), "SELECT name, blob FROM t", nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "显示屏", rows[0]["name"])
		assert.Equal(t, "base64://4=", rows[0]["blob"])
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_Cancelled(t *testing.T) {
	exec := demoExecutor(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Query(ctx, "SELECT * FROM inventory", nil)
	assert.Error(t, err)
}

func TestOpenSQLite_BadDSN(t *testing.T) {
	_, err := OpenSQLite("/nonexistent-dir/sub/demo.db?mode=ro", Options{}, nil)
	assert.Error(t, err)
}

var _ Executor = (*SQLExecutor)(nil)
