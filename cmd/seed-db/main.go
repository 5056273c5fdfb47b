package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopwave/db"
	"github.com/xenking/shopwave/internal/domain/product"
	"github.com/xenking/shopwave/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "products JSON or .json.gz file; defaults to the embedded catalog")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("SHOPWAVE_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string) error {
	var (
		products []product.Product
		pool     *pgxpool.Pool
	)

	// Parse the catalog while connecting so a broken file fails fast.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Reading catalog", zap.String("path", productsFile))
		data, err := db.ReadCatalog(productsFile)
		if err != nil {
			return err
		}
		products, err = product.ParseCatalog(data)
		return err
	})
	g.Go(func() error {
		lg.Info("Connecting to database")
		p, err := postgres.NewPool(gctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		pool = p
		if err := pool.Ping(gctx); err != nil {
			return errors.Wrap(err, "ping database")
		}
		lg.Info("Running migrations")
		return postgres.RunMigrations(gctx, pool)
	})
	err := g.Wait()
	if pool != nil {
		defer pool.Close()
	}
	if err != nil {
		return err
	}

	lg.Info("Upserting products", zap.Int("count", len(products)))
	if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	for _, p := range products {
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}
	return nil
}
