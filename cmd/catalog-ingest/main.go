// Command catalog-ingest loads gzipped CSV price feeds into the catalog
// table. Feeds are parsed concurrently; when the same item appears in
// several feeds the earliest-listed feed wins.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kmuchiri/dukachat/internal/domain/catalog"
	"github.com/kmuchiri/dukachat/internal/storage/postgres"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	feedColumns   = 5
)

// feedResult holds the items parsed from a single feed, in file order.
type feedResult struct {
	items []catalog.Item
}

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("usage: catalog-ingest [flags] feed.csv.gz [feed2.csv.gz ...]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("parsing feeds", slog.Int("files", len(files)))

	results, err := parseFeeds(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse feeds")
	}

	items := mergeFeeds(results)
	slog.Info("items to ingest", slog.Int("count", len(items)))
	if len(items) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeItems(ctx, postgres.NewCatalogRepository(pool), items); err != nil {
		return errors.Wrap(err, "write items to database")
	}

	return nil
}

// parseFeeds parses every feed file concurrently.
func parseFeeds(ctx context.Context, files []string) ([]feedResult, error) {
	results := make([]feedResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(parseFeedFile(ctx, i, f, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func parseFeedFile(ctx context.Context, idx int, path string, results []feedResult) func() error {
	return func() error {
		var items []catalog.Item

		if err := streamGzCSV(ctx, path, func(record []string) error {
			item, err := parseRecord(record)
			if err != nil {
				return errors.Wrapf(err, "record %q", strings.Join(record, ","))
			}
			items = append(items, item)
			return nil
		}); err != nil {
			return errors.Wrapf(err, "parse feed %d", idx+1)
		}

		slog.Info("feed parsed",
			slog.Int("file", idx+1),
			slog.Int("items", len(items)),
		)

		results[idx] = feedResult{items: items}
		return nil
	}
}

// mergeFeeds combines feed results in declared order: the first feed listing
// an item name wins. A bloom filter front-runs the exact-name set so clean
// feeds skip the map lookup on almost every row.
func mergeFeeds(results []feedResult) []catalog.Item {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	seen := make(map[string]bool)

	var merged []catalog.Item
	for _, r := range results {
		for _, item := range r.items {
			key := catalog.Normalize(item.Name)
			if filter.TestString(key) && seen[key] {
				continue
			}
			filter.AddString(key)
			seen[key] = true
			merged = append(merged, item)
		}
	}
	return merged
}

// parseRecord converts one CSV row into a catalog item. Expected columns:
// name, price, quantity, unit, variations (semicolon-separated, optional).
func parseRecord(record []string) (catalog.Item, error) {
	if len(record) < feedColumns-1 {
		return catalog.Item{}, errors.Errorf("expected at least %d columns, got %d", feedColumns-1, len(record))
	}

	price, err := decimal.NewFromString(strings.TrimSpace(record[1]))
	if err != nil {
		return catalog.Item{}, errors.Wrap(err, "parse price")
	}
	quantity, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil {
		return catalog.Item{}, errors.Wrap(err, "parse quantity")
	}
	if price.IsNegative() || quantity.IsNegative() {
		return catalog.Item{}, errors.New("price and quantity must be non-negative")
	}

	item := catalog.Item{
		Name:     strings.TrimSpace(record[0]),
		Price:    price,
		Quantity: quantity,
		Unit:     strings.TrimSpace(record[3]),
	}
	if item.Name == "" {
		return catalog.Item{}, errors.New("empty item name")
	}
	if item.Unit == "" {
		item.Unit = "unit"
	}
	if len(record) >= feedColumns && record[4] != "" {
		for _, v := range strings.Split(record[4], ";") {
			if v = strings.TrimSpace(v); v != "" {
				item.Variations = append(item.Variations, v)
			}
		}
	}
	return item, nil
}

// streamGzCSV opens a gzip-compressed CSV file and calls fn for each data
// row. A header row is detected by a non-numeric price column and skipped.
func streamGzCSV(ctx context.Context, path string, fn func(record []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	reader := csv.NewReader(gz)
	reader.FieldsPerRecord = -1
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if first {
			first = false
			if len(record) > 1 {
				if _, err := decimal.NewFromString(strings.TrimSpace(record[1])); err != nil {
					continue
				}
			}
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}

// writeItems upserts all merged items into the catalog.
func writeItems(ctx context.Context, repo *postgres.CatalogRepository, items []catalog.Item) error {
	slog.Info("writing items to database", slog.Int("count", len(items)))

	for i, item := range items {
		if err := repo.Upsert(ctx, item); err != nil {
			return errors.Wrapf(err, "upsert item %s", item.Name)
		}
		if (i+1)%100 == 0 || i+1 == len(items) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(items)))
		}
	}

	return nil
}
