package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/xchain-vault/pkg/config"
	"github.com/chainsafe/xchain-vault/pkg/migrations/vaultdb"
	"github.com/chainsafe/xchain-vault/pkg/pgutil"
	mghelper "github.com/chainsafe/xchain-vault/pkg/pgutil/migrations"
)

func main() {
	cfgPath := flag.String("config", "config.example.yaml", "Path to configuration file")
	flag.Usage = mghelper.Usage
	flag.Parse()

	// ${VAR} references in the config may come from a local .env
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("error reading configuration file: %s", err.Error())
	}

	db, err := pgutil.ConnectDB(context.Background(), &cfg.Database)
	if err != nil {
		log.Fatalf("error connecting to database: %s", err.Error())
	}
	defer db.Close()

	log.Printf("Running migrations for vault database (%s)...\n", cfg.Database.Database)

	migrator := migrate.NewMigrator(db, vaultdb.Migrations)
	if err := mghelper.RunMigrations(migrator, flag.Args()...); err != nil {
		mghelper.Exitf(err.Error())
	}
}
