package js5

import "log/slog"

// BuildOption configures a Builder.
type BuildOption func(*Builder)

// BuildWithKeys sets the resolver for the keys XTEA archives are encrypted with.
func BuildWithKeys(keys KeyResolver) BuildOption {
	return func(b *Builder) {
		b.keys = keys
	}
}

// BuildWithGameVersion sets the game version keys are resolved under.
func BuildWithGameVersion(v string) BuildOption {
	return func(b *Builder) {
		b.gameVersion = v
	}
}

// BuildWithStripes sets the number of stripes multi-file groups are split
// into. Defaults to 1.
func BuildWithStripes(n int) BuildOption {
	return func(b *Builder) {
		b.stripes = n
	}
}

// BuildWithFormat sets the format byte written to reference tables.
// Defaults to 6.
func BuildWithFormat(format uint8) BuildOption {
	return func(b *Builder) {
		b.format = format
	}
}

// BuildWithLogger sets the logger.
func BuildWithLogger(logger *slog.Logger) BuildOption {
	return func(b *Builder) {
		b.logger = logger
	}
}
