package queryexec

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordal/gateway/internal/dbpool"
	"github.com/cordal/gateway/internal/model"
)

func newMockExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	pool := dbpool.NewTestPool("trades-db", sqlxDB)
	manager := dbpool.NewManagerForTest(map[string]dbpool.Pool{"trades-db": pool}, map[string]*model.DatabaseDefinition{
		"trades-db": {Name: "trades-db", Driver: "postgres", MaxPoolSize: 5},
	})
	return New(manager), mock
}

func sampleQuery() *model.QueryDefinition {
	return &model.QueryDefinition{
		Name:         "tradesBySymbol",
		DatabaseName: "trades-db",
		SQL:          "SELECT id, symbol FROM trades WHERE symbol = ?",
		Parameters: []model.QueryParameter{
			{Name: "symbol", ScalarType: model.ScalarString, Source: model.SourceQuery, Required: true},
		},
	}
}

func TestExecuteBindsParamsInDeclaredOrderAndScansColumns(t *testing.T) {
	exec, mock := newMockExecutor(t)
	q := sampleQuery()

	rows := sqlmock.NewRows([]string{"id", "symbol"}).
		AddRow(int64(1), "AAPL").
		AddRow(int64(2), "AAPL")
	mock.ExpectQuery(`SELECT id, symbol FROM trades WHERE symbol = \$1`).
		WithArgs("AAPL").
		WillReturnRows(rows)

	result, err := exec.Execute(context.Background(), q, Params{"symbol": "AAPL"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "symbol"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.EqualValues(t, 1, result.Rows[0]["id"])
	assert.Equal(t, "AAPL", result.Rows[0]["symbol"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteAppendsLimitOffsetAsTrailingBindVars(t *testing.T) {
	exec, mock := newMockExecutor(t)
	q := sampleQuery()

	rows := sqlmock.NewRows([]string{"id", "symbol"}).AddRow(int64(1), "AAPL")
	mock.ExpectQuery(`SELECT id, symbol FROM trades WHERE symbol = \$1 LIMIT \$2 OFFSET \$3`).
		WithArgs("AAPL", int64(10), int64(20)).
		WillReturnRows(rows)

	limit, offset := int64(10), int64(20)
	_, err := exec.Execute(context.Background(), q, Params{"symbol": "AAPL"}, &limit, &offset)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteMissingRequiredParameter(t *testing.T) {
	exec, _ := newMockExecutor(t)
	q := sampleQuery()

	_, err := exec.Execute(context.Background(), q, Params{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
}

func TestExecuteBadParameterType(t *testing.T) {
	exec, _ := newMockExecutor(t)
	q := &model.QueryDefinition{
		Name:         "byID",
		DatabaseName: "trades-db",
		SQL:          "SELECT id FROM trades WHERE id = ?",
		Parameters: []model.QueryParameter{
			{Name: "id", ScalarType: model.ScalarInt, Source: model.SourcePath, Required: true},
		},
	}

	_, err := exec.Execute(context.Background(), q, Params{"id": "not-a-number"}, nil, nil)
	require.Error(t, err)
}

func TestExecuteCountReturnsScalar(t *testing.T) {
	exec, mock := newMockExecutor(t)
	q := &model.QueryDefinition{
		Name:         "countTrades",
		DatabaseName: "trades-db",
		SQL:          "SELECT COUNT(*) FROM trades WHERE symbol = ?",
		Parameters: []model.QueryParameter{
			{Name: "symbol", ScalarType: model.ScalarString, Source: model.SourceQuery, Required: true},
		},
	}
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM trades WHERE symbol = \$1`).
		WithArgs("AAPL").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(5)))

	total, err := exec.ExecuteCount(context.Background(), q, Params{"symbol": "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestExecuteQueryFailureIsMappedToGatewayError(t *testing.T) {
	exec, mock := newMockExecutor(t)
	q := sampleQuery()

	mock.ExpectQuery(`SELECT id, symbol FROM trades WHERE symbol = \$1`).
		WithArgs("AAPL").
		WillReturnError(assertErr{"boom"})

	_, err := exec.Execute(context.Background(), q, Params{"symbol": "AAPL"}, nil, nil)
	require.Error(t, err)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestPlaceholderCount(t *testing.T) {
	cases := []struct {
		sql  string
		want int
	}{
		{"SELECT 1", 0},
		{"SELECT * FROM t WHERE a = ? AND b = ?", 2},
		{"SELECT * FROM t WHERE note = 'a ? b' AND a = ?", 1},
		{"SELECT * FROM t -- a ? comment\nWHERE a = ?", 1},
		{"SELECT * FROM t /* a ? block */ WHERE a = ?", 1},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PlaceholderCount(c.sql), "sql=%q", c.sql)
	}
}
