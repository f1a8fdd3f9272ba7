package config

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// NameHash returns the name hash stored in reference tables for name.
// Names are case-insensitive and hashed as Windows-1252 bytes; runes outside
// that code page hash as '?'.
func NameHash(name string) int32 {
	var h int32
	for _, r := range strings.ToLower(name) {
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			c = '?'
		}
		h = h*31 + int32(c)
	}
	return h
}

// NameTable resolves name hashes back to names.
type NameTable struct {
	names map[int32]string
}

// NewNameTable builds a table from names.
func NewNameTable(names ...string) *NameTable {
	t := &NameTable{names: make(map[int32]string, len(names))}
	for _, n := range names {
		t.Add(n)
	}
	return t
}

// Add records name under its hash.
func (t *NameTable) Add(name string) {
	t.names[NameHash(name)] = name
}

// Lookup returns the name with the given hash.
func (t *NameTable) Lookup(hash int32) (string, bool) {
	if t == nil {
		return "", false
	}
	n, ok := t.names[hash]
	return n, ok
}

// Len returns the number of names.
func (t *NameTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// ParseNames reads one name per line. Blank lines and lines starting with
// '#' are ignored.
func ParseNames(r io.Reader) (*NameTable, error) {
	t := NewNameTable()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t.Add(line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadNames reads a name list from path.
func LoadNames(path string) (*NameTable, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseNames(f)
}
