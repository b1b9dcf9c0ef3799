package database

import (
	"fmt"
)

// Databases bundles the two SQLite databases the simulator works with:
// source holds market data (read-only to the core), results holds
// everything the simulator derives.
type Databases struct {
	Source  *DB
	Results *DB
}

// Open opens both databases, applies their schemas, and returns the pair.
// On any failure the already-opened handles are closed before returning.
func Open(sourcePath, resultsPath string) (*Databases, error) {
	source, err := New(Config{
		Path:    sourcePath,
		Profile: ProfileStandard,
		Name:    "source",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}

	if err := EnsureSourceSchema(source.Conn()); err != nil {
		_ = source.Close()
		return nil, err
	}

	results, err := New(Config{
		Path:    resultsPath,
		Profile: ProfileStandard,
		Name:    "results",
	})
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}

	if err := EnsureResultsSchema(results.Conn()); err != nil {
		_ = source.Close()
		_ = results.Close()
		return nil, err
	}

	return &Databases{Source: source, Results: results}, nil
}

// Close closes both databases, returning the first error encountered.
func (d *Databases) Close() error {
	var firstErr error
	if d.Source != nil {
		if err := d.Source.Close(); err != nil {
			firstErr = err
		}
	}
	if d.Results != nil {
		if err := d.Results.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
