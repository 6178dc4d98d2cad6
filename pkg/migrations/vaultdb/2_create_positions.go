package vaultdb

import (
	"context"
	"log"

	mghelper "github.com/chainsafe/xchain-vault/pkg/pgutil/migrations"
	"github.com/chainsafe/xchain-vault/pkg/vaultstore"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating positions table...")
		if err := mghelper.CreateSchema(ctx, db, &vaultstore.PositionDao{}); err != nil {
			return err
		}
		// Reconciler scans in-flight withdrawals by status and age
		return mghelper.CreateModelIndexes(ctx, db, &vaultstore.PositionDao{}, "status", "requested_at")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping positions table...")
		return mghelper.DropTables(ctx, db, &vaultstore.PositionDao{})
	})
}
