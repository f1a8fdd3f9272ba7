// Package js5 reads and writes JS5 caches: archives of groups of files packed
// into a chained-sector data channel with one index channel per archive.
//
// A cache directory holds two kinds of files:
//   - main_file_cache.dat2: the data channel, a sequence of 520-byte sectors
//   - main_file_cache.idxN: the index channel of archive N, 6 bytes per group
//
// Archive 255 is the meta archive: group N of it is the reference table of
// archive N, listing the archive's groups with their checksums, versions and
// files.
//
// Each group is stored framed with a compression method (none, bzip2 or
// gzip), optionally XTEA-encrypted. A group with several files interleaves
// them in stripes.
//
// # Quick Start
//
// Decode every archive of a cache directory:
//
//	keys, err := config.LoadKeys("keys.json")
//	if err != nil {
//	    return err
//	}
//	store, err := js5.Open("./cache",
//	    js5.WithKeys(keys),
//	    js5.WithGameVersion("228"),
//	)
//	if err != nil {
//	    return err
//	}
//	report, err := store.LoadAll(ctx)
//
// Read one file:
//
//	data, err := store.ReadFile(2, 10, 3)
//
// # Failures
//
// A group that fails to decode does not stop its archive; [Store.LoadAll]
// returns a [Report] with per-archive counts of decoded and failed groups and
// the number of groups whose XTEA key was missing. A reference table that
// fails to decode makes its whole archive unreadable.
//
// # Writing
//
// [Builder] encodes archives into data and index channels:
//
//	b := js5.NewBuilder(js5.BuildWithStripes(4))
//	_ = b.AddArchive(js5.ArchiveConfig{ID: 2, Compression: js5.CompressionGzip})
//	_ = b.Add(2, js5.GroupSpec{ID: 10}, js5.FileSpec{ID: 0, Data: first}, js5.FileSpec{ID: 1, Data: second})
//	err := b.Save("./cache")
package js5
