// Package pactsource reads pacts from files, directories and a pact broker.
package pactsource

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/form3tech-oss/pact-verifier/internal/app/pact"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LoadFile reads and parses a single pact file.
func LoadFile(path string) (*pact.Pact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read pact file '%s'", path)
	}
	return pact.Load(data, path)
}

// LoadDir parses every .json file of dir, in name order. Subdirectories are not read.
func LoadDir(dir string) ([]*pact.Pact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read pact directory '%s'", dir)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pacts := make([]*pact.Pact, 0, len(names))
	for _, name := range names {
		p, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, p)
	}
	log.Debugf("loaded %d pacts from %s", len(pacts), dir)
	return pacts, nil
}

// LoadPaths loads every path, reading directories with LoadDir. A pact that fails to parse
// fails the whole load.
func LoadPaths(paths []string) ([]*pact.Pact, error) {
	var pacts []*pact.Pact
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read '%s'", path)
		}
		if info.IsDir() {
			loaded, err := LoadDir(path)
			if err != nil {
				return nil, err
			}
			pacts = append(pacts, loaded...)
			continue
		}
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		pacts = append(pacts, p)
	}
	return pacts, nil
}
