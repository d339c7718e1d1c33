package drivers

import (
	// Register the CGO-free modernc SQLite driver, the default snapshot
	// store backend.
	_ "modernc.org/sqlite"
)
