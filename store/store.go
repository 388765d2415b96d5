// Package store persists stack session keys (identity root, IRK) between
// runs as a small JSON file.
package store

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a file-backed key/value store for binary keys.
type Store struct {
	filename string
	lock     sync.RWMutex
}

func New(filename string) *Store {
	return &Store{filename: filename}
}

// LoadKey returns the stored key bytes, or ok=false when absent.
func (s *Store) LoadKey(name string) ([]byte, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	m, err := s.loadExisting()
	if err != nil {
		return nil, false, err
	}
	v, ok := m[name]
	if !ok {
		return nil, false, nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		return nil, false, errors.Wrapf(err, "corrupt key %q", name)
	}
	return b, true, nil
}

// StoreKey writes the key, refusing to overwrite unless replace is set.
func (s *Store) StoreKey(name string, key []byte, replace bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	m, err := s.loadExisting()
	if err != nil {
		return err
	}
	if _, ok := m[name]; ok && !replace {
		return errors.Errorf("store already contains key %q", name)
	}
	m[name] = hex.EncodeToString(key)

	out, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal key store")
	}
	return ioutil.WriteFile(s.filename, out, 0600)
}

func (s *Store) loadExisting() (map[string]string, error) {
	m := make(map[string]string)
	b, err := ioutil.ReadFile(s.filename)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read key store")
	}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "parse key store")
	}
	return m, nil
}
