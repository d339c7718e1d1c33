package drivers

import (
	// Register pgx's database/sql adapter under "pgx" for PostgreSQL
	// deployments.
	_ "github.com/jackc/pgx/v5/stdlib"
)
