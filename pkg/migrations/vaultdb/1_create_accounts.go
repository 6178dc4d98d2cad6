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
		log.Println("creating accounts table...")
		return mghelper.CreateSchema(ctx, db, &vaultstore.AccountDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping accounts table...")
		return mghelper.DropTables(ctx, db, &vaultstore.AccountDao{})
	})
}
