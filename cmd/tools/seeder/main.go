package main

import (
	"context"
	"flag"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/repo"
	"github.com/noah-isme/toko-pricing/internal/rules"
)

// seeder copies the purchasables of a rule-set file into the Postgres catalog.
func main() {
	rulesPath := flag.String("rules", "rules.yaml", "rule-set file to read purchasables from")
	storeID := flag.String("store", "", "store UUID the purchasables are written under")
	scope := flag.String("scope", "", "rule-set store id whose purchasables are copied (empty copies unscoped ones)")
	migrateFirst := flag.Bool("migrate", true, "apply catalog migrations before seeding")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "seeder").Logger()
	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if *storeID == "" {
		logger.Fatal().Msg("-store is required")
	}

	store, err := rules.LoadFile(*rulesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("rules", *rulesPath).Msg("load rule set")
	}

	if *migrateFirst {
		if err := repo.Migrate(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate catalog")
		}
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer conn.Close(ctx)

	tx, err := conn.Begin(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	catalogRepo := repo.CatalogRepo{DB: tx}
	items := store.PurchasablesFor(*scope)
	for _, p := range items {
		if err := catalogRepo.UpsertPurchasable(ctx, *storeID, p); err != nil {
			logger.Fatal().Err(err).Str("purchasable", p.ID).Msg("seed purchasable")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Fatal().Err(err).Msg("commit")
	}
	logger.Info().Int("purchasables", len(items)).Str("store", *storeID).Msg("seeding completed")
}
