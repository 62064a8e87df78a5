// Command legacy_import copies historical order documents from MongoDB into Postgres, verbatim.
// Every document is classified and reconciled on the way so unreadable shapes surface before
// the orders are served by the API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/noah-isme/resto-order-engine/internal/app"
	"github.com/noah-isme/resto-order-engine/internal/config"
	"github.com/noah-isme/resto-order-engine/internal/obs"
	"github.com/noah-isme/resto-order-engine/internal/store/legacymongo"
	"github.com/noah-isme/resto-order-engine/internal/store/postgres"
)

func main() {
	var (
		tenantID     = flag.String("tenant", "", "import only this tenant (default: all tenants)")
		tenantField  = flag.String("tenant-field", "tenantId", "document field holding the tenant id")
		createdField = flag.String("created-field", "createdAt", "document field holding the creation time")
		fallback     = flag.String("default-tenant", "", "tenant assigned to documents without a tenant field")
		dryRun       = flag.Bool("dry-run", false, "classify and reconcile without writing to Postgres")
		batchSize    = flag.Int("batch", 500, "mongo cursor batch size")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "legacy_import").Logger()
	if cfg.LegacyMongoURI == "" || cfg.LegacyMongoDB == "" {
		logger.Fatal().Msg("LEGACY_MONGO_URI and LEGACY_MONGO_DB are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := legacymongo.Connect(connectCtx, cfg.LegacyMongoURI, cfg.LegacyMongoDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect legacy store")
	}
	defer func() { _ = db.Client().Disconnect(context.Background()) }()

	imp := &importer{DefaultCurrency: cfg.DefaultCurrency, DefaultTenant: *fallback, DryRun: *dryRun, Logger: logger}
	if !*dryRun {
		pool, err := app.OpenPool(connectCtx, cfg, "order-engine-legacy-import")
		if err != nil {
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(pool); err != nil {
				logger.Fatal().Err(err).Msg("apply migrations")
			}
		}
		imp.Target = postgres.New(pool)
	}

	reader := &legacymongo.Reader{
		Collection:   db.Collection(cfg.LegacyMongoCollection),
		TenantField:  *tenantField,
		CreatedField: *createdField,
		BatchSize:    int32(*batchSize),
	}
	started := time.Now()
	read, err := reader.Stream(ctx, *tenantID, func(doc legacymongo.Document) error {
		return imp.Import(ctx, doc)
	})
	if err != nil {
		logger.Error().Err(err).Int("read", read).Msg("import aborted")
	}
	if ferr := imp.Finish(ctx); ferr != nil {
		logger.Error().Err(ferr).Msg("advance invoice counters")
		err = errors.Join(err, ferr)
	}

	shapes := make([]string, 0, len(imp.Stats.Shapes))
	for shape := range imp.Stats.Shapes {
		shapes = append(shapes, shape)
	}
	sort.Strings(shapes)
	evt := logger.Info().
		Int("read", read).
		Int("imported", imp.Stats.Imported).
		Int("skipped", imp.Stats.Skipped).
		Int("unreadable", imp.Stats.Unreadable).
		Int("foreign_invoice_numbers", imp.Stats.Foreign).
		Int("counters_advanced", len(imp.Stats.Counters)).
		Bool("dry_run", *dryRun).
		Dur("elapsed", time.Since(started))
	for _, shape := range shapes {
		evt = evt.Int("shape_"+shape, imp.Stats.Shapes[shape])
	}
	evt.Msg("legacy import finished")
	if err != nil {
		os.Exit(1)
	}
}
