package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/chainsafe/xchain-vault/pkg/config"
	"github.com/chainsafe/xchain-vault/pkg/pgutil"
)

type ledgerRowDao struct {
	bun.BaseModel `bun:"table:ledger_rows"`
	ID            int64  `bun:",pk,autoincrement"`
	Owner         string `bun:",notnull,type:varchar(42)"`
	Status        string `bun:",notnull,type:varchar(20)"`
}

func TestConnectDB_InvalidHost(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:     "invalid-host-that-does-not-exist",
		Port:     5432,
		User:     "test",
		Password: "test",
		Database: "test",
		SSLMode:  "disable",
	}

	db, err := pgutil.ConnectDB(context.Background(), cfg)
	if err == nil {
		_ = db.Close()
	}
	assert.Error(t, err)
}

func TestCreateAndDropSchema(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, CreateSchema(ctx, db, &ledgerRowDao{}))
	pgutil.AssertTableExists(t, db, "ledger_rows")

	// idempotent
	require.NoError(t, CreateSchema(ctx, db, &ledgerRowDao{}))

	require.NoError(t, DropTables(ctx, db, &ledgerRowDao{}))
	pgutil.AssertTableNotExists(t, db, "ledger_rows")

	require.NoError(t, DropTables(ctx, db, &ledgerRowDao{}))
}

func TestCreateModelIndexes(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, CreateSchema(ctx, db, &ledgerRowDao{}))
	require.NoError(t, CreateModelIndexes(ctx, db, &ledgerRowDao{}, "owner", "status"))
	pgutil.AssertIndexExists(t, db, "idx_ledger_rows_owner")
	pgutil.AssertIndexExists(t, db, "idx_ledger_rows_status")

	require.NoError(t, CreateModelIndexes(ctx, db, &ledgerRowDao{}, "owner"))
}

func TestModelIndexName(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()

	name, err := ModelIndexName(db, &ledgerRowDao{}, "owner")
	require.NoError(t, err)
	assert.Equal(t, "idx_ledger_rows_owner", name)

	_, err = ModelIndexName(db, nil, "owner")
	assert.Error(t, err)
}
