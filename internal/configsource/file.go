package configsource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cordal/gateway/internal/model"
)

// Default file globs per kind.
var (
	DefaultDatabaseGlobs = []string{"*-database.yml", "*-databases.yml"}
	DefaultQueryGlobs    = []string{"*-query.yml", "*-queries.yml"}
	DefaultEndpointGlobs = []string{"*-endpoint.yml", "*-endpoints.yml", "*-api.yml"}
)

// FileLoader scans a fixed, ordered list of directories for files
// matching each kind's globs (non-recursively), decoding each admitted
// file's single top-level mapping key (databases:/queries:/endpoints:).
// It is an error for two admitted files to define the same name within
// one kind.
type FileLoader struct {
	Dirs          []string
	DatabaseGlobs []string
	QueryGlobs    []string
	EndpointGlobs []string
	RuleGlobs     []string
}

// NewFileLoader creates a FileLoader over dirs using the package's
// default file globs.
func NewFileLoader(dirs []string) *FileLoader {
	return &FileLoader{
		Dirs:          dirs,
		DatabaseGlobs: DefaultDatabaseGlobs,
		QueryGlobs:    DefaultQueryGlobs,
		EndpointGlobs: DefaultEndpointGlobs,
		RuleGlobs:     DefaultRuleGlobs,
	}
}

func (l *FileLoader) Load(ctx context.Context) (*model.ConfigSet, error) {
	cfg := model.NewConfigSet()
	dbSources := map[string][]string{}
	querySources := map[string][]string{}
	epSources := map[string][]string{}

	for _, dir := range l.Dirs {
		files, err := matchingFiles(dir, l.DatabaseGlobs)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			var doc struct {
				Databases map[string]*model.DatabaseDefinition `yaml:"databases"`
			}
			if err := decodeYAML(path, &doc); err != nil {
				return nil, err
			}
			for name, def := range doc.Databases {
				def.Name = name
				if err := mergeNamed(cfg.Databases, dbSources, "database", name, def, path); err != nil {
					return nil, err
				}
			}
		}

		files, err = matchingFiles(dir, l.QueryGlobs)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			var doc struct {
				Queries map[string]*model.QueryDefinition `yaml:"queries"`
			}
			if err := decodeYAML(path, &doc); err != nil {
				return nil, err
			}
			for name, def := range doc.Queries {
				def.Name = name
				if err := mergeNamed(cfg.Queries, querySources, "query", name, def, path); err != nil {
					return nil, err
				}
			}
		}

		files, err = matchingFiles(dir, l.EndpointGlobs)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			var doc struct {
				Endpoints map[string]*model.EndpointDefinition `yaml:"endpoints"`
			}
			if err := decodeYAML(path, &doc); err != nil {
				return nil, err
			}
			for name, def := range doc.Endpoints {
				def.Name = name
				if err := mergeNamed(cfg.Endpoints, epSources, "endpoint", name, def, path); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := checkNonEmpty(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeNamed inserts def under name, reporting DuplicateNameError with
// every source path that defined it if name was already present.
func mergeNamed[T any](into map[string]T, sources map[string][]string, kind, name string, def T, path string) error {
	sources[name] = append(sources[name], path)
	if len(sources[name]) > 1 {
		return &DuplicateNameError{Kind: kind, Name: name, Sources: append([]string(nil), sources[name]...)}
	}
	into[name] = def
	return nil
}

func matchingFiles(dir string, globs []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("configsource: reading directory %q: %w", dir, err)
	}
	var matched []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, g := range globs {
			if ok, _ := filepath.Match(g, entry.Name()); ok {
				matched = append(matched, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func decodeYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("configsource: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &ParseError{Path: path, Cause: err}
	}
	return nil
}
