package js5

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/js5/config"
	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/index"
	"github.com/meigma/js5/internal/sector"
	"github.com/meigma/js5/internal/testutil"
	"github.com/meigma/js5/internal/xtea"
)

type fileKey struct {
	archive uint8
	group   uint32
	file    uint32
}

func testKeySet() *config.KeySet {
	keys := config.NewKeySet()
	keys.Add("228", "l50_50", xtea.Key{0x1234, -0x5678, 0x9abc, -0xdef0})
	keys.Add("228", "m50_50", xtea.Key{1, 2, 3, 4})
	return keys
}

func testNames() *config.NameTable {
	return config.NewNameTable("l50_50", "m50_50")
}

var testArchives = []ArchiveConfig{
	{ID: 0, Name: "plain", Flatten: true},
	{ID: 2, Name: "configs", Compression: CompressionGzip, Flatten: true},
	{ID: 5, Name: "maps", Encryption: EncryptionXTEA, Compression: CompressionBzip2, Flatten: true},
}

// buildFixture returns a builder holding three archives and the data of
// every file added to it.
func buildFixture(t *testing.T) (*Builder, map[fileKey][]byte) {
	t.Helper()

	b := NewBuilder(
		BuildWithStripes(3),
		BuildWithKeys(testKeySet()),
		BuildWithGameVersion("228"),
	)
	for _, cfg := range testArchives {
		require.NoError(t, b.AddArchive(cfg))
	}

	files := make(map[fileKey][]byte)
	add := func(archive uint8, g GroupSpec, specs ...FileSpec) {
		for _, f := range specs {
			files[fileKey{archive, g.ID, f.ID}] = f.Data
		}
		require.NoError(t, b.Add(archive, g, specs...))
	}

	for g := range uint32(5) {
		add(0, GroupSpec{ID: g, Version: int32(g) + 1}, FileSpec{ID: 0, Data: testutil.Text(100 * int(g+1))}) //nolint:gosec // small ids
	}

	add(2, GroupSpec{ID: 1, Version: 7},
		FileSpec{ID: 0, Data: testutil.Payload(1, 700)},
		FileSpec{ID: 1, Data: testutil.Payload(2, 3)},
		FileSpec{ID: 2, Data: nil},
		FileSpec{ID: 3, Data: testutil.Text(2000)},
	)
	add(2, GroupSpec{ID: 6},
		FileSpec{ID: 0, Data: testutil.Text(10)},
		FileSpec{ID: 5, Data: testutil.Payload(3, 1500)},
		FileSpec{ID: 9, Data: testutil.Text(1)},
	)
	add(2, GroupSpec{ID: 9, Version: 2}, FileSpec{ID: 4, Data: testutil.Payload(4, 600)})

	add(5, GroupSpec{ID: 0, Name: "l50_50", Version: 3}, FileSpec{ID: 0, Data: testutil.Payload(5, 5000)})
	add(5, GroupSpec{ID: 1, Name: "m50_50", Version: 3},
		FileSpec{ID: 0, Data: testutil.Text(4000)},
		FileSpec{ID: 1, Data: testutil.Payload(6, 123)},
	)
	return b, files
}

func fixtureStore(t *testing.T, opts ...Option) (*Store, map[fileKey][]byte) {
	t.Helper()
	b, files := buildFixture(t)
	opts = append([]Option{
		WithKeys(testKeySet()),
		WithGameVersion("228"),
		WithNames(testNames()),
	}, opts...)
	s, err := b.Store(opts...)
	require.NoError(t, err)
	return s, files
}

func assertFiles(t *testing.T, s *Store, files map[fileKey][]byte) {
	t.Helper()
	for k, want := range files {
		a, ok := s.Archive(k.archive)
		require.True(t, ok, "archive %d not loaded", k.archive)
		g, ok := a.Group(k.group)
		require.True(t, ok, "group %d/%d missing", k.archive, k.group)
		f, ok := g.File(k.file)
		require.True(t, ok, "file %v missing", k)
		assert.True(t, bytes.Equal(want, f.Data), "file %v: got %d bytes, want %d", k, len(f.Data), len(want))
	}
}

func TestLoadAllRoundTrip(t *testing.T) {
	t.Parallel()

	s, files := fixtureStore(t)
	assert.Equal(t, []uint8{0, 2, 5}, s.Archives())

	report, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Archives, 3)

	groups, decoded, failed := report.Totals()
	assert.Equal(t, 10, groups)
	assert.Equal(t, 10, decoded)
	assert.Zero(t, failed)
	assert.Zero(t, report.MissingKeys())
	assert.Empty(t, report.Unreadable())
	for _, a := range report.Archives {
		assert.Zero(t, a.CRCMismatches, "archive %d", a.Archive)
		assert.Empty(t, a.Failures)
	}
	assert.Equal(t, 8, report.Archives[1].Files)

	assertFiles(t, s, files)
}

func TestLoadPopulatesMetadata(t *testing.T) {
	t.Parallel()

	s, _ := fixtureStore(t)
	maps, rep, err := s.Load(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "maps", rep.Name)
	assert.True(t, maps.Named)
	assert.Equal(t, uint8(defaultFormat), maps.Format)

	g, ok := maps.Group(1)
	require.True(t, ok)
	assert.Equal(t, "m50_50", g.Name)
	assert.Equal(t, config.NameHash("m50_50"), g.NameHash)
	assert.Equal(t, int32(3), g.Version)
	assert.Equal(t, 3, g.Stripes)
	require.Len(t, g.StripeSizes, 2)
	for i, fid := range g.FileIDs() {
		f := g.Files[fid]
		total := 0
		for _, n := range g.StripeSizes[i] {
			total += int(n)
		}
		assert.Equal(t, len(f.Data), total, "stripe sizes of file %d", fid)
	}

	configs, _, err := s.Load(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 6, 9}, configs.GroupIDs())
	g, _ = configs.Group(6)
	assert.Equal(t, []uint32{0, 5, 9}, g.FileIDs())
}

func TestFlattenInheritsGroupMetadata(t *testing.T) {
	t.Parallel()

	s, files := fixtureStore(t)
	maps, _, err := s.Load(context.Background(), 5)
	require.NoError(t, err)

	g, ok := maps.Group(0)
	require.True(t, ok)
	assert.Zero(t, g.Stripes)
	assert.Nil(t, g.StripeSizes)
	require.Len(t, g.Files, 1)

	f := g.Files[0]
	assert.Equal(t, files[fileKey{5, 0, 0}], f.Data)
	assert.Equal(t, g.CRC, f.CRC)
	assert.Equal(t, g.Version, f.Version)
	assert.Equal(t, g.NameHash, f.NameHash)
	assert.Equal(t, "l50_50", f.Name)

	raw, err := s.ReadRaw(5, 0)
	require.NoError(t, err)
	assert.NotZero(t, g.CRC)
	assert.NotEqual(t, f.Data, raw, "stored bytes are framed and encrypted")
}

func TestUnflattenedSingleFileGroup(t *testing.T) {
	t.Parallel()

	b := NewBuilder(BuildWithStripes(2))
	require.NoError(t, b.AddArchive(ArchiveConfig{ID: 3, Compression: CompressionGzip}))
	data := testutil.Payload(9, 999)
	require.NoError(t, b.Add(3, GroupSpec{ID: 4}, FileSpec{ID: 2, Data: data}))

	s, err := b.Store()
	require.NoError(t, err)
	a, _, err := s.Load(context.Background(), 3)
	require.NoError(t, err)

	g, ok := a.Group(4)
	require.True(t, ok)
	assert.Equal(t, 2, g.Stripes)
	assert.Equal(t, [][]uint32{{500, 499}}, g.StripeSizes)
	f, ok := g.File(2)
	require.True(t, ok)
	assert.Equal(t, data, f.Data)
}

func TestGroupFailureDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	b, files := buildFixture(t)
	ch, err := b.Build()
	require.NoError(t, err)

	// Flip the archive byte of group 3's first sector.
	rec, err := sector.ReadIndex(ch.Indexes[0], 3)
	require.NoError(t, err)
	ch.Data[int(rec.FirstSector)*sector.Size+7] ^= 0x01

	s := New(ch.Data, ch.Indexes, WithArchiveConfig(testArchives[0]))
	a, rep, err := s.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Groups)
	assert.Equal(t, 4, rep.Decoded)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, uint32(3), rep.Failures[0].Group)
	require.ErrorIs(t, rep.Failures[0], ErrChainCorrupt)

	_, ok := a.Group(3)
	assert.False(t, ok)
	for g := range uint32(5) {
		if g == 3 {
			continue
		}
		grp, ok := a.Group(g)
		require.True(t, ok)
		assert.Equal(t, files[fileKey{0, g, 0}], grp.Files[0].Data)
	}
}

func TestMissingKeysAreCountedNotFatal(t *testing.T) {
	t.Parallel()

	b, _ := buildFixture(t)
	// No keys: both XTEA groups stay encrypted and fail to decompress.
	s, err := b.Store(WithNames(testNames()))
	require.NoError(t, err)

	report, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	maps := report.Archives[2]
	assert.Equal(t, uint8(5), maps.Archive)
	assert.Equal(t, int64(2), maps.MissingKeys)
	assert.Equal(t, 2, maps.Failed)
	assert.Zero(t, maps.Decoded)
	assert.Equal(t, int64(2), report.MissingKeys())

	groups, decoded, failed := report.Totals()
	assert.Equal(t, 10, groups)
	assert.Equal(t, 8, decoded)
	assert.Equal(t, 2, failed)
}

func TestWrongGameVersionCountsMissingKeys(t *testing.T) {
	t.Parallel()

	b, _ := buildFixture(t)
	s, err := b.Store(WithKeys(testKeySet()), WithGameVersion("229"), WithNames(testNames()))
	require.NoError(t, err)

	_, rep, err := s.Load(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.MissingKeys)
	assert.Equal(t, 2, rep.Failed)
}

func TestChecksumMismatchIsCounted(t *testing.T) {
	t.Parallel()

	b, files := buildFixture(t)
	ch, err := b.Build()
	require.NoError(t, err)

	// Archive 0 is uncompressed, so a flipped body byte still decodes.
	rec, err := sector.ReadIndex(ch.Indexes[0], 1)
	require.NoError(t, err)
	pos := int(rec.FirstSector)*sector.Size + sector.HeaderSize + 5
	ch.Data[pos] ^= 0xff

	s := New(ch.Data, ch.Indexes, WithArchiveConfig(testArchives[0]))
	a, rep, err := s.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.CRCMismatches)
	assert.Equal(t, 5, rep.Decoded)

	g, _ := a.Group(1)
	want := bytes.Clone(files[fileKey{0, 1, 0}])
	want[0] ^= 0xff
	assert.Equal(t, want, g.Files[0].Data)
}

func TestUnreadableArchiveIsReported(t *testing.T) {
	t.Parallel()

	b, _ := buildFixture(t)
	ch, err := b.Build()
	require.NoError(t, err)
	ch.Indexes[7] = []byte{} // index channel without a reference table

	s := New(ch.Data, ch.Indexes, WithKeys(testKeySet()), WithGameVersion("228"), WithNames(testNames()),
		WithArchiveConfigs(map[uint8]ArchiveConfig{0: testArchives[0], 2: testArchives[1], 5: testArchives[2]}))
	report, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Archives, 4)
	assert.Equal(t, []uint8{7}, report.Unreadable())
	require.ErrorIs(t, report.Archives[3].Err, ErrArchiveNotFound)

	_, decoded, failed := report.Totals()
	assert.Equal(t, 10, decoded)
	assert.Zero(t, failed)
}

func TestCorruptReferenceTable(t *testing.T) {
	t.Parallel()

	ch := &Channels{Indexes: map[uint8][]byte{}}
	// An uncompressed frame holding a 3-byte table: too short for its header.
	meta, err := NewBuilder().put(ch, nil, MetaArchive, 4, []byte{0, 0, 0, 0, 3, 6, 0, 0})
	require.NoError(t, err)
	ch.Indexes[MetaArchive] = meta
	ch.Indexes[4] = []byte{}

	s := New(ch.Data, ch.Indexes)
	_, rep, err := s.Load(context.Background(), 4)
	require.ErrorIs(t, err, ErrCorrupt)
	require.ErrorIs(t, rep.Err, ErrCorrupt)
}

func TestLoadAllCanceled(t *testing.T) {
	t.Parallel()

	s, _ := fixtureStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := s.LoadAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Archives)
	_, ok := s.Archive(0)
	assert.False(t, ok)
}

func TestLoadIsShared(t *testing.T) {
	t.Parallel()

	s, _ := fixtureStore(t)
	var wg sync.WaitGroup
	results := make([]*Archive, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, _, err := s.Load(context.Background(), 2)
			if err == nil {
				results[i] = a
			}
		}()
	}
	wg.Wait()

	first, ok := s.Archive(2)
	require.True(t, ok)
	for _, a := range results {
		assert.Same(t, first, a)
	}
}

func TestReadGroupAndFile(t *testing.T) {
	t.Parallel()

	s, files := fixtureStore(t)

	data, err := s.ReadFile(2, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, files[fileKey{2, 6, 5}], data)

	g, err := s.ReadGroup(5, 0)
	require.NoError(t, err)
	assert.Equal(t, "l50_50", g.Name)

	_, err = s.ReadFile(2, 6, 4)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.ReadGroup(2, 2)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.ReadGroup(9, 0)
	require.ErrorIs(t, err, ErrArchiveNotFound)

	_, err = s.ReadRaw(9, 0)
	require.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestCacheSkipsDecoding(t *testing.T) {
	t.Parallel()

	b, files := buildFixture(t)
	ch, err := b.Build()
	require.NoError(t, err)
	c := testutil.NewMockCache()

	newStore := func() *Store {
		return New(ch.Data, ch.Indexes,
			WithCache(c),
			WithNames(testNames()),
			WithKeys(testKeySet()),
			WithGameVersion("228"),
			WithArchiveConfigs(map[uint8]ArchiveConfig{0: testArchives[0], 2: testArchives[1], 5: testArchives[2]}),
		)
	}

	_, err = newStore().LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, c.Len())
	assert.Zero(t, c.Hits())

	// A second store without keys still decodes the encrypted groups from cache.
	s := New(ch.Data, ch.Indexes, WithCache(c),
		WithArchiveConfigs(map[uint8]ArchiveConfig{0: testArchives[0], 2: testArchives[1], 5: testArchives[2]}))
	report, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.Hits())
	assert.Zero(t, report.MissingKeys())
	assertFiles(t, s, files)
}

func TestSaveOpen(t *testing.T) {
	t.Parallel()

	b, files := buildFixture(t)
	dir := t.TempDir()
	require.NoError(t, b.Save(dir))

	s, err := Open(dir,
		WithKeys(testKeySet()),
		WithGameVersion("228"),
		WithNames(testNames()),
		WithArchiveConfigs(map[uint8]ArchiveConfig{0: testArchives[0], 2: testArchives[1], 5: testArchives[2]}),
		WithWorkers(2),
	)
	require.NoError(t, err)
	_, err = s.LoadAll(context.Background())
	require.NoError(t, err)
	assertFiles(t, s, files)

	_, err = Open(t.TempDir())
	require.Error(t, err)
}

func TestOpenRequiresMetaIndex(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteCacheDir(t, dir, nil, map[uint8][]byte{0: {}})
	_, err := Open(dir)
	require.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestBuilderErrors(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.Error(t, b.AddArchive(ArchiveConfig{ID: MetaArchive}))
	require.NoError(t, b.Add(1, GroupSpec{ID: 1}, FileSpec{ID: 0}))
	require.Error(t, b.Add(1, GroupSpec{ID: 1}))
	require.Error(t, b.Add(1, GroupSpec{ID: 2}, FileSpec{ID: 0}, FileSpec{ID: 0}))

	// XTEA archives need a key for every group.
	enc := NewBuilder()
	require.NoError(t, enc.AddArchive(ArchiveConfig{ID: 5, Encryption: EncryptionXTEA}))
	require.NoError(t, enc.Add(5, GroupSpec{ID: 0, Name: "nowhere"}, FileSpec{ID: 0, Data: []byte("x")}))
	_, err := enc.Build()
	require.Error(t, err)
}

func TestEmptyGroup(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	require.NoError(t, b.Add(1, GroupSpec{ID: 3}))
	s, err := b.Store()
	require.NoError(t, err)

	a, rep, err := s.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Decoded)
	g, ok := a.Group(3)
	require.True(t, ok)
	assert.Empty(t, g.Files)
}

func TestReportWriteTo(t *testing.T) {
	t.Parallel()

	r := &Report{Archives: []ArchiveReport{
		{Archive: 2, Name: "configs", Groups: 3, Decoded: 2, Failed: 1, Files: 5, MissingKeys: 1},
		{Archive: 7, Err: errors.New("boom")},
	}}
	var sb strings.Builder
	n, err := r.WriteTo(&sb)
	require.NoError(t, err)
	assert.Equal(t, int64(sb.Len()), n)

	out := sb.String()
	assert.Contains(t, out, "3 groups found, 2 decoded, 1 failed")
	assert.Contains(t, out, "unreadable: boom")
	assert.Contains(t, out, "total: 2 archives, 3 groups found, 2 decoded, 1 failed, 1 missing keys")
}

func TestExtendedGroupIDs(t *testing.T) {
	t.Parallel()

	// 0xFFFF is the last id with a standard sector header.
	ids := []uint32{0xFFFF, 70000}
	table := &index.Table{Format: defaultFormat}
	var data, idx []byte
	want := make(map[uint32][]byte)
	for i, gid := range ids {
		want[gid] = testutil.Payload(int64(i), 1200)
		frame, err := envelope.Encode(want[gid], envelope.Gzip, 1, nil)
		require.NoError(t, err)
		table.Groups = append(table.Groups, index.Group{
			ID: gid, CRC: asset.Checksum(frame), Version: 1, Files: []index.File{{ID: 0}},
		})
		data, idx = testutil.Chain(t, 3, gid, frame, data, idx)
	}
	encoded, err := table.Encode()
	require.NoError(t, err)
	tableFrame, err := envelope.Encode(encoded, envelope.None, 0, nil)
	require.NoError(t, err)
	data, meta := testutil.Chain(t, MetaArchive, 3, tableFrame, data, nil)

	s := New(data, map[uint8][]byte{MetaArchive: meta, 3: idx})
	for _, gid := range ids {
		got, err := s.ReadFile(3, gid, 0)
		require.NoError(t, err)
		assert.Equal(t, want[gid], got)
	}

	_, rep, err := s.Load(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Decoded)
	assert.Zero(t, rep.CRCMismatches)
}
