// Package config loads the external lookups a store decodes with: XTEA key
// sets, archive definitions and name-hash tables.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/meigma/js5/internal/xtea"
)

// AnyVersion is the game version under which keys apply to every version.
const AnyVersion = "*"

// KeySet maps game versions to the XTEA keys of named files.
// The zero value is an empty set. A KeySet must not be modified while in use.
type KeySet struct {
	versions map[string]map[string]xtea.Key
}

// NewKeySet returns an empty key set.
func NewKeySet() *KeySet {
	return &KeySet{versions: make(map[string]map[string]xtea.Key)}
}

// Add records the key for name under gameVersion.
func (s *KeySet) Add(gameVersion, name string, key xtea.Key) {
	if s.versions == nil {
		s.versions = make(map[string]map[string]xtea.Key)
	}
	m := s.versions[gameVersion]
	if m == nil {
		m = make(map[string]xtea.Key)
		s.versions[gameVersion] = m
	}
	m[name] = key
}

// Key returns the key for name under gameVersion, falling back to keys
// recorded under AnyVersion.
func (s *KeySet) Key(name, gameVersion string) (xtea.Key, bool) {
	if s == nil {
		return xtea.Key{}, false
	}
	if k, ok := s.versions[gameVersion][name]; ok {
		return k, true
	}
	k, ok := s.versions[AnyVersion][name]
	return k, ok
}

// Len returns the number of keys across all versions.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, m := range s.versions {
		n += len(m)
	}
	return n
}

// ParseKeys decodes a key file of the form
//
//	{"<game version>": {"<name>": [k0, k1, k2, k3]}}
func ParseKeys(r io.Reader) (*KeySet, error) {
	var raw map[string]map[string][]int32
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse keys: %w", err)
	}
	s := NewKeySet()
	for version, names := range raw {
		for name, words := range names {
			if len(words) != len(xtea.Key{}) {
				return nil, fmt.Errorf("parse keys: %s/%s has %d words, want 4", version, name, len(words))
			}
			s.Add(version, name, xtea.Key(words))
		}
	}
	return s, nil
}

// LoadKeys reads a key file from path.
func LoadKeys(path string) (*KeySet, error) {
	f, err := os.Open(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseKeys(f)
}
