// Command js5dump decodes every archive of a JS5 cache directory and prints a
// per-archive summary, optionally exporting the decoded files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/meigma/js5"
	"github.com/meigma/js5/cache/disk"
	"github.com/meigma/js5/config"
)

type options struct {
	dir         string
	keys        string
	archives    string
	names       string
	gameVersion string
	workers     int
	cacheDir    string
	cacheMax    int64
	export      string
	only        string
	overwrite   bool
	verbose     bool
}

func main() {
	opts := parseFlags()

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("js5dump failed", "error", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop is called above
	}
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.dir, "dir", ".", "cache directory holding main_file_cache.dat2 and idx files")
	flag.StringVar(&o.keys, "keys", "", "JSON file of XTEA keys by game version and group name")
	flag.StringVar(&o.archives, "archives", "", "JSON file of archive configurations")
	flag.StringVar(&o.names, "names", "", "file of known group names, one per line")
	flag.StringVar(&o.gameVersion, "game-version", "", "game version keys are looked up under")
	flag.IntVar(&o.workers, "workers", 0, "groups decoded concurrently per archive (0 = GOMAXPROCS)")
	flag.StringVar(&o.cacheDir, "cache-dir", "", "directory for a persistent decoded-payload cache")
	flag.Int64Var(&o.cacheMax, "cache-max-bytes", 0, "size bound of -cache-dir (0 = unbounded)")
	flag.StringVar(&o.export, "export", "", "directory to export decoded files to")
	flag.StringVar(&o.only, "only", "", "comma-separated archive ids to export (default all)")
	flag.BoolVar(&o.overwrite, "overwrite", false, "overwrite existing exported files")
	flag.BoolVar(&o.verbose, "v", false, "log per-group detail")
	flag.Parse()
	return o
}

func run(ctx context.Context, o options, logger *slog.Logger) error {
	storeOpts := []js5.Option{
		js5.WithLogger(logger),
		js5.WithGameVersion(o.gameVersion),
		js5.WithWorkers(o.workers),
	}

	if o.keys != "" {
		keys, err := config.LoadKeys(o.keys)
		if err != nil {
			return err
		}
		logger.Info("keys loaded", "path", o.keys, "keys", keys.Len())
		storeOpts = append(storeOpts, js5.WithKeys(keys))
	}
	if o.archives != "" {
		cfgs, err := config.LoadArchives(o.archives)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, js5.WithArchiveConfigs(cfgs))
	}
	if o.names != "" {
		names, err := config.LoadNames(o.names)
		if err != nil {
			return err
		}
		logger.Info("names loaded", "path", o.names, "names", names.Len())
		storeOpts = append(storeOpts, js5.WithNames(names))
	}
	if o.cacheDir != "" {
		var diskOpts []disk.Option
		if o.cacheMax > 0 {
			diskOpts = append(diskOpts, disk.WithMaxBytes(o.cacheMax))
		}
		c, err := disk.New(o.cacheDir, diskOpts...)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, js5.WithCache(c))
	}

	store, err := js5.Open(o.dir, storeOpts...)
	if err != nil {
		return err
	}

	report, err := store.LoadAll(ctx)
	if _, werr := report.WriteTo(os.Stdout); werr != nil {
		return errors.Join(err, werr)
	}
	if err != nil {
		return err
	}

	if o.export == "" {
		return nil
	}
	exportOpts := []js5.ExportOption{js5.ExportWithOverwrite(o.overwrite)}
	if o.only != "" {
		ids, err := parseIDs(o.only)
		if err != nil {
			return err
		}
		exportOpts = append(exportOpts, js5.ExportWithArchives(ids...))
	}
	m, err := store.Export(ctx, o.export, exportOpts...)
	if err != nil {
		return err
	}
	logger.Info("export complete", "dest", o.export, "files", len(m.Files), "skipped", m.Skipped)
	return nil
}

func parseIDs(s string) ([]uint8, error) {
	var ids []uint8
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("archive id %q: %w", part, err)
		}
		ids = append(ids, uint8(n))
	}
	return ids, nil
}
