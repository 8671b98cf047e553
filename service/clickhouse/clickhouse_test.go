package clickhouse

import (
	"testing"

	"github.com/brojonat/solflow/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		addr     string
		user     string
		password string
		database string
		wantErr  bool
	}{
		{name: "full", dsn: "clickhouse://u:p@ch:9440/ledger", addr: "ch:9440", user: "u", password: "p", database: "ledger"},
		{name: "default port", dsn: "clickhouse://localhost/ledger", addr: "localhost:9000", database: "ledger"},
		{name: "no database", dsn: "clickhouse://u@localhost:9000", addr: "localhost:9000", user: "u"},
		{name: "wrong scheme", dsn: "postgres://localhost:5432/db", wantErr: true},
		{name: "no host", dsn: "clickhouse:///ledger", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := parseDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.addr}, opts.Addr)
			assert.Equal(t, tt.user, opts.Auth.Username)
			assert.Equal(t, tt.password, opts.Auth.Password)
			assert.Equal(t, tt.database, opts.Auth.Database)
		})
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- header
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (y UInt8) ENGINE = Memory;
`
	assert.Equal(t, []string{
		"CREATE TABLE a (x UInt8) ENGINE = Memory",
		"CREATE TABLE b (y UInt8) ENGINE = Memory",
	}, splitStatements(sql))
}

func TestEmbeddedSchemaParses(t *testing.T) {
	data, err := schemaFS.ReadFile("schema/001_ledger.sql")
	require.NoError(t, err)
	assert.Len(t, splitStatements(string(data)), 2)
}

func TestBlockDate(t *testing.T) {
	c := ledger.BalanceChange{BlockDate: "2024-05-06", BlockTime: 1715000000}
	assert.Equal(t, "2024-05-06", blockDate(c).Format("2006-01-02"))

	c.BlockDate = ""
	assert.Equal(t, "2024-05-06", blockDate(c).Format("2006-01-02"))
}
