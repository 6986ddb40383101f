// Package all wires every built-in object-store backend into the objstore
// factory. Importing it (usually as a blank import in a wiring layer) runs
// the init functions that register:
//
//   - "s3"     (ingest/internal/objstore/s3)
//   - "fs"     (ingest/internal/objstore/fs)
//   - "memory" (ingest/internal/objstore/memory)
//
// Binaries that want a subset can blank-import individual backends instead.
package all

import (
	_ "ingest/internal/objstore/fs"
	_ "ingest/internal/objstore/memory"
	_ "ingest/internal/objstore/s3"
)
