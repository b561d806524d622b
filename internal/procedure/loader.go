// Package procedure loads procedure template catalogs from YAML, validates
// them and keeps the store in step with the catalog files.
package procedure

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/fieldops/model"
)

// CatalogFile is the on-disk shape of one catalog file. A file may define
// any number of templates.
type CatalogFile struct {
	Procedures []model.ProcedureTemplate `yaml:"procedures"`
}

// Loader scans directories for YAML catalog files, parses them, and computes
// SHA-256 checksums per file.
type Loader struct{}

// NewLoader creates a new catalog Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and returns
// every template they define.
func (l *Loader) LoadAll(directories []string) ([]model.ProcedureTemplate, error) {
	var templates []model.ProcedureTemplate

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			loaded, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			templates = append(templates, loaded...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return templates, nil
}

// LoadFile parses a single catalog file. Each template records the file's
// checksum and path. Templates without an explicit active flag are active.
func (l *Loader) LoadFile(path string) ([]model.ProcedureTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw struct {
		Procedures []yaml.Node `yaml:"procedures"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	templates := make([]model.ProcedureTemplate, 0, len(raw.Procedures))
	for i := range raw.Procedures {
		node := &raw.Procedures[i]
		t := model.ProcedureTemplate{Active: true}
		if err := node.Decode(&t); err != nil {
			return nil, fmt.Errorf("parsing %s: procedures[%d]: %w", path, i, err)
		}
		t.Checksum = checksum
		t.SourceFile = path
		templates = append(templates, t)
	}
	return templates, nil
}
