// Package all wires every built-in catalog backend into the catalog factory.
// Importing it (usually as a blank import in a wiring layer) runs the init
// functions that register:
//
//   - "postgres" (ingest/internal/catalog/postgres)
//   - "mysql"    (ingest/internal/catalog/mysql)
//   - "mssql"    (ingest/internal/catalog/mssql)
//   - "sqlite"   (ingest/internal/catalog/sqlite)
//   - "memory"   (ingest/internal/catalog/memory)
//
// Binaries that want a subset can blank-import individual backends instead.
package all

import (
	_ "ingest/internal/catalog/memory"
	_ "ingest/internal/catalog/mssql"
	_ "ingest/internal/catalog/mysql"
	_ "ingest/internal/catalog/postgres"
	_ "ingest/internal/catalog/sqlite"
)
