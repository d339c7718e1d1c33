package drivers

import (
	// Register the Genji document-store driver under "genji" for
	// deployments that prefer it over the SQLite-backed chai name.
	_ "github.com/genjidb/genji/driver"
)
