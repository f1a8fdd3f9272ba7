// Command js5bench builds a synthetic cache and profiles decoding it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strconv"
	"time"

	"github.com/meigma/js5"
	"github.com/meigma/js5/cache"
	"github.com/meigma/js5/cache/disk"
	"github.com/meigma/js5/config"
	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/xtea"
)

const (
	cacheNone    = "none"
	benchArchive = 2
	benchVersion = "bench"
)

type options struct {
	mode        string
	groups      int
	files       int
	fileSize    int
	stripes     int
	compression string
	encrypt     bool
	pattern     string
	duration    time.Duration
	iterations  int
	workers     int
	pprofAddr   string
	cpuProfile  string
	memProfile  string
	traceFile   string
	cache       string
	cacheDir    string
	readRandom  bool
	randomSeed  int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes  []byte
	sinkReport *js5.Report
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	ch, keys, err := buildCache(cfg)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("built cache: %d groups, %d bytes", cfg.groups, len(ch.Data))

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, ch, keys)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - profiles are best-effort
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocritic // hugeParam acceptable for profiler
func runProfile(cfg options, ch *js5.Channels, keys *config.KeySet) (profileStats, error) {
	c, cleanup, err := newCache(cfg)
	if err != nil {
		return profileStats{}, err
	}
	defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler

	open := func() *js5.Store {
		opts := []js5.Option{
			js5.WithKeys(keys),
			js5.WithGameVersion(benchVersion),
			js5.WithWorkers(cfg.workers),
			js5.WithArchiveConfig(archiveConfig(cfg)),
		}
		if c != nil {
			opts = append(opts, js5.WithCache(c))
		}
		return js5.New(ch.Data, ch.Indexes, opts...)
	}

	start := time.Now()
	ops := 0
	var byteCount int64
	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	switch cfg.mode {
	case "loadall":
		for shouldContinue() {
			report, err := open().LoadAll(context.Background())
			if err != nil {
				return profileStats{}, err
			}
			if _, _, failed := report.Totals(); failed > 0 {
				return profileStats{}, fmt.Errorf("%d groups failed", failed)
			}
			sinkReport = report
			byteCount += int64(len(ch.Data))
			ops++
		}

	case "readfile":
		s := open()
		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			group, file := pick(cfg, ops, rng)
			content, err := s.ReadFile(benchArchive, group, file)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "readraw":
		s := open()
		rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks
		for shouldContinue() {
			group, _ := pick(cfg, ops, rng)
			raw, err := s.ReadRaw(benchArchive, group)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = raw
			byteCount += int64(len(raw))
			ops++
		}

	case "build":
		for shouldContinue() {
			built, _, err := buildCache(cfg)
			if err != nil {
				return profileStats{}, err
			}
			byteCount += int64(len(built.Data))
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode %q", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() options {
	var cfg options
	flag.StringVar(&cfg.mode, "mode", "loadall", "mode: loadall, readfile, readraw, build")
	flag.IntVar(&cfg.groups, "groups", 256, "number of groups")
	flag.IntVar(&cfg.files, "files", 4, "files per group")
	flag.IntVar(&cfg.fileSize, "file-size", 4<<10, "file size in bytes")
	flag.IntVar(&cfg.stripes, "stripes", 1, "stripes per multi-file group")
	flag.StringVar(&cfg.compression, "compression", "gzip", "compression: none, bzip2 or gzip")
	flag.BoolVar(&cfg.encrypt, "xtea", false, "encrypt groups with XTEA")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.IntVar(&cfg.workers, "workers", 0, "decode workers: <0 serial, 0 auto, >0 fixed")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.cache, "cache", cacheNone, "cache: memory, disk, none")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "", "cache directory (disk cache only)")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize readfile group selection")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func archiveConfig(cfg options) js5.ArchiveConfig {
	c, err := envelope.ParseCompression(cfg.compression)
	if err != nil {
		log.Fatalf("compression: %v", err)
	}
	a := js5.ArchiveConfig{ID: benchArchive, Name: "bench", Compression: c, Flatten: true}
	if cfg.encrypt {
		a.Encryption = js5.EncryptionXTEA
	}
	return a
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildCache(cfg options) (*js5.Channels, *config.KeySet, error) {
	if cfg.groups <= 0 || cfg.files <= 0 {
		return nil, nil, errors.New("groups and files must be positive")
	}
	keys := config.NewKeySet()
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks

	b := js5.NewBuilder(
		js5.BuildWithStripes(cfg.stripes),
		js5.BuildWithKeys(keys),
		js5.BuildWithGameVersion(benchVersion),
	)
	if err := b.AddArchive(archiveConfig(cfg)); err != nil {
		return nil, nil, err
	}
	for g := range cfg.groups {
		gid := uint32(g) //nolint:gosec // flag-bounded
		// Unnamed groups are keyed by their decimal id.
		keys.Add(benchVersion, strconv.FormatUint(uint64(gid), 10), xtea.Key{int32(rng.Uint32()), 1, 2, int32(g)}) //nolint:gosec // arbitrary key bits
		files := make([]js5.FileSpec, cfg.files)
		for f := range files {
			files[f] = js5.FileSpec{ID: uint32(f), Data: content(cfg, rng, g*cfg.files+f)} //nolint:gosec // flag-bounded
		}
		if err := b.Add(benchArchive, js5.GroupSpec{ID: gid, Version: int32(g)}, files...); err != nil { //nolint:gosec // flag-bounded
			return nil, nil, err
		}
	}
	ch, err := b.Build()
	return ch, keys, err
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func content(cfg options, rng *rand.Rand, i int) []byte {
	b := make([]byte, cfg.fileSize)
	if cfg.pattern == "random" {
		_, _ = rng.Read(b)
		return b
	}
	fill := byte('a' + (i % 26))
	for j := range b {
		b[j] = fill
	}
	if len(b) > 0 {
		b[0] = byte(i)
	}
	return b
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func pick(cfg options, idx int, rng *rand.Rand) (group, file uint32) {
	n := idx
	if cfg.readRandom {
		n = rng.Intn(cfg.groups * cfg.files)
	}
	n %= cfg.groups * cfg.files
	return uint32(n / cfg.files), uint32(n % cfg.files) //nolint:gosec // flag-bounded
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newCache(cfg options) (cache.Cache, func() error, error) {
	switch cfg.cache {
	case cacheNone:
		return nil, func() error { return nil }, nil
	case "memory":
		return cache.NewMemory(), func() error { return nil }, nil
	case "disk":
		dir := cfg.cacheDir
		cleanup := func() error { return nil }
		if dir == "" {
			tmp, err := os.MkdirTemp("", "js5-bench-cache-*")
			if err != nil {
				return nil, nil, err
			}
			dir = tmp
			cleanup = func() error { return os.RemoveAll(tmp) }
		}
		c, err := disk.New(dir)
		if err != nil {
			_ = cleanup()
			return nil, nil, err
		}
		return c, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache %q", cfg.cache)
	}
}
