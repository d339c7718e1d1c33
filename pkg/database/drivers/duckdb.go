//go:build cgo && duckdb

// DuckDB needs CGO and a platform-specific binary package, so it stays
// behind an explicit build tag and never burdens default builds.
// Build example:
//
//	CGO_ENABLED=1 go build -tags duckdb
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)
