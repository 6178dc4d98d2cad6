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
		log.Println("creating vault_events table...")
		if err := mghelper.CreateSchema(ctx, db, &vaultstore.EventDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &vaultstore.EventDao{}, "account", "kind")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping vault_events table...")
		return mghelper.DropTables(ctx, db, &vaultstore.EventDao{})
	})
}
