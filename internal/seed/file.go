package seed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed files declare one collection and its default records:
//
//	collection: tasks
//	records:
//	  - title: Welcome
//	    status: open

type seedFile struct {
	Collection string           `yaml:"collection"`
	Records    []map[string]any `yaml:"records"`
}

// RegisterFile parses a YAML seed file and queues its records. Unknown
// top-level keys fail the parse.
func (l *Loader) RegisterFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed: read %s: %w", path, err)
	}

	var file seedFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return fmt.Errorf("seed: parse %s: %w", path, err)
	}
	if file.Collection == "" {
		return fmt.Errorf("seed: %s: missing collection name", path)
	}

	docs := make([]json.RawMessage, 0, len(file.Records))
	for i, record := range file.Records {
		doc, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("seed: %s record %d: %w", path, i, err)
		}
		docs = append(docs, doc)
	}
	l.Register(file.Collection, Docs(docs...))
	return nil
}

// RegisterDir queues every seed file in dir, in file name order so seeding is
// deterministic across runs.
func (l *Loader) RegisterDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("seed: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := l.RegisterFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
