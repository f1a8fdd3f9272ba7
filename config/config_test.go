package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/js5/internal/asset"
	"github.com/meigma/js5/internal/envelope"
	"github.com/meigma/js5/internal/xtea"
)

func TestParseKeys(t *testing.T) {
	t.Parallel()

	keys, err := ParseKeys(strings.NewReader(`{
		"228": {"l50_50": [1, -2, 3, -4]},
		"*": {"m50_50": [5, 6, 7, 8]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2, keys.Len())

	k, ok := keys.Key("l50_50", "228")
	require.True(t, ok)
	assert.Equal(t, xtea.Key{1, -2, 3, -4}, k)

	_, ok = keys.Key("l50_50", "229")
	assert.False(t, ok)

	k, ok = keys.Key("m50_50", "229")
	require.True(t, ok, "wildcard version applies to every version")
	assert.Equal(t, xtea.Key{5, 6, 7, 8}, k)

	var nilSet *KeySet
	_, ok = nilSet.Key("x", "1")
	assert.False(t, ok)

	_, err = ParseKeys(strings.NewReader(`{"228": {"x": [1, 2]}}`))
	require.Error(t, err)
}

func TestLoadKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1": {"a": [1, 1, 1, 1]}}`), 0o600))
	keys, err := LoadKeys(path)
	require.NoError(t, err)
	assert.Equal(t, 1, keys.Len())

	_, err = LoadKeys(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestParseArchives(t *testing.T) {
	t.Parallel()

	archives, err := ParseArchives(strings.NewReader(`[
		{"id": 2, "name": "configs", "compression": "gzip", "flatten": false},
		{"id": 5, "name": "maps", "encryption": "xtea", "compression": "bzip", "flatten": true}
	]`))
	require.NoError(t, err)
	require.Len(t, archives, 2)
	assert.Equal(t, Archive{ID: 2, Name: "configs", Compression: envelope.Gzip}, archives[2])
	assert.Equal(t, Archive{
		ID: 5, Name: "maps", Encryption: asset.EncryptionXTEA, Compression: envelope.Bzip2, Flatten: true,
	}, archives[5])

	for _, bad := range []string{
		`[{"id": 255}]`,
		`[{"id": -1}]`,
		`[{"id": 1}, {"id": 1}]`,
		`[{"id": 1, "encryption": "aes"}]`,
		`[{"id": 1, "compression": "lzma"}]`,
		`{}`,
	} {
		_, err := ParseArchives(strings.NewReader(bad))
		require.Error(t, err, bad)
	}
}

func TestNameHash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int32(1258058669), NameHash("huffman"))
	assert.Equal(t, int32(-1152549421), NameHash("l50_50"))
	assert.Equal(t, NameHash("l50_50"), NameHash("L50_50"))
	assert.Zero(t, NameHash(""))

	assert.Equal(t, int32(0xe9), NameHash("É"))
	assert.Equal(t, int32(0x80), NameHash("€"))
	assert.Equal(t, int32('?'), NameHash("ł"))
}

func TestParseNames(t *testing.T) {
	t.Parallel()

	names, err := ParseNames(strings.NewReader("# maps\nl50_50\n\n m50_50 \nhuffman\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, names.Len())

	n, ok := names.Lookup(NameHash("m50_50"))
	require.True(t, ok)
	assert.Equal(t, "m50_50", n)

	_, ok = names.Lookup(42)
	assert.False(t, ok)

	var nilTable *NameTable
	_, ok = nilTable.Lookup(1)
	assert.False(t, ok)
}
