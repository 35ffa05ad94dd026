package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/needscore/internal/config"
	"github.com/sells-group/needscore/internal/geo"
	"github.com/sells-group/needscore/internal/ingest"
	"github.com/sells-group/needscore/internal/model"
	"github.com/sells-group/needscore/internal/store"
)

// inputs is the record table and region index every command works from.
type inputs struct {
	records []model.Record
	stats   ingest.Stats
	index   *geo.Index
}

func loaderOptions(c *config.Config) geo.LoaderOptions {
	return geo.LoaderOptions{
		NameProperty: c.Data.NameProperty,
		TempDir:      c.Data.TempDir,
	}
}

// loadInputs reads the region file and the record table concurrently.
func loadInputs(ctx context.Context, c *config.Config) (*inputs, error) {
	var in inputs

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		idx, err := geo.LoadIndex(gctx, c.Data.Regions, loaderOptions(c))
		if err != nil {
			return eris.Wrap(err, "load regions")
		}
		in.index = idx
		return nil
	})
	g.Go(func() error {
		records, stats, err := ingest.LoadRecords(gctx, c.Data.Records, ingest.Options{
			Charset: c.Data.Charset,
			Sheet:   c.Data.Sheet,
		})
		if err != nil {
			return eris.Wrap(err, "load records")
		}
		in.records, in.stats = records, stats
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Info("inputs loaded",
		zap.String("regions_path", c.Data.Regions),
		zap.Int("regions", in.index.Len()),
		zap.String("records_path", c.Data.Records),
		zap.Int("records", in.stats.Rows),
		zap.Int("bad_timestamps", in.stats.BadTimestamps),
		zap.Int("missing_coordinates", in.stats.MissingCoordinate),
	)
	return &in, nil
}

// initStore opens the training ledger. A nil store means the ledger is
// disabled.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, c.Store.Pool)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
