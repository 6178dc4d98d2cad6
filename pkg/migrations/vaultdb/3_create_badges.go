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
		log.Println("creating badges table...")
		return mghelper.CreateSchema(ctx, db, &vaultstore.BadgeDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping badges table...")
		return mghelper.DropTables(ctx, db, &vaultstore.BadgeDao{})
	})
}
