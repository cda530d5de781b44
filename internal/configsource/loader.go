// Package configsource implements the Configuration Loader (C1): two
// interchangeable implementations — file-source and store-source —
// behind one Loader contract, selected by a single configuration-source
// selector.
package configsource

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cordal/gateway/internal/model"
)

// Source names the configuration-source selector.
type Source string

const (
	SourceFile  Source = "file"
	SourceStore Source = "store"
)

// New selects and constructs the Loader implementation for source. A
// nil storeDB is only valid when source is SourceFile.
func New(source Source, dirs []string, storeDB *sqlx.DB) (Loader, error) {
	switch source {
	case SourceFile:
		return NewFileLoader(dirs), nil
	case SourceStore:
		if storeDB == nil {
			return nil, fmt.Errorf("configsource: store source selected but no store connection provided")
		}
		return NewStoreLoader(storeDB), nil
	default:
		return nil, fmt.Errorf("configsource: unknown source %q", source)
	}
}

// Loader loads the three configuration kinds as one atomic ConfigSet.
type Loader interface {
	Load(ctx context.Context) (*model.ConfigSet, error)
}

// EmptyConfigurationError is returned when any of the three kinds has no
// entries after loading.
type EmptyConfigurationError struct {
	Kind string
}

func (e *EmptyConfigurationError) Error() string {
	return fmt.Sprintf("configsource: %s configuration is empty", e.Kind)
}

// DuplicateNameError is returned when two admitted sources define the
// same name within one kind.
type DuplicateNameError struct {
	Kind    string
	Name    string
	Sources []string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("configsource: duplicate %s name %q defined in %v", e.Kind, e.Name, e.Sources)
}

// ParseError wraps a malformed-input failure with the source it came
// from.
type ParseError struct {
	Path  string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("configsource: failed to parse %s: %v", e.Path, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// checkNonEmpty fails with EmptyConfigurationError if any of the three
// kinds is empty.
func checkNonEmpty(cfg *model.ConfigSet) error {
	switch {
	case len(cfg.Databases) == 0:
		return &EmptyConfigurationError{Kind: "databases"}
	case len(cfg.Queries) == 0:
		return &EmptyConfigurationError{Kind: "queries"}
	case len(cfg.Endpoints) == 0:
		return &EmptyConfigurationError{Kind: "endpoints"}
	}
	return nil
}
