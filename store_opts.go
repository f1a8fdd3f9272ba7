package js5

import (
	"log/slog"

	"github.com/meigma/js5/cache"
	"github.com/meigma/js5/config"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for missing keys, checksum mismatches and
// per-group progress. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithKeys sets the resolver for XTEA keys.
func WithKeys(keys KeyResolver) Option {
	return func(s *Store) {
		s.keys = keys
	}
}

// WithGameVersion sets the game version keys are resolved under.
func WithGameVersion(v string) Option {
	return func(s *Store) {
		s.gameVersion = v
	}
}

// WithArchiveConfig sets the configuration of one archive.
func WithArchiveConfig(cfg ArchiveConfig) Option {
	return func(s *Store) {
		s.configs[cfg.ID] = cfg
	}
}

// WithArchiveConfigs sets the configuration of several archives.
func WithArchiveConfigs(cfgs map[uint8]ArchiveConfig) Option {
	return func(s *Store) {
		for id, cfg := range cfgs {
			cfg.ID = id
			s.configs[id] = cfg
		}
	}
}

// WithWorkers sets the number of groups decoded concurrently.
// Values < 0 force serial decoding. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Store) {
		s.workers = n
	}
}

// WithMemoryBudget bounds the encoded bytes of groups decoded at once.
// Zero disables the bound.
func WithMemoryBudget(n int64) Option {
	return func(s *Store) {
		s.memoryBudget = n
	}
}

// WithCache sets a cache of decoded group payloads.
func WithCache(c cache.Cache) Option {
	return func(s *Store) {
		s.cache = c
	}
}

// WithNames sets the table used to resolve name hashes to names.
// Resolved group names are also the names XTEA keys are looked up by.
func WithNames(names *config.NameTable) Option {
	return func(s *Store) {
		s.names = names
	}
}
