// Package all links every built-in sink backend into the binary via their
// registration side effects.
package all

import (
	_ "tabular/internal/sink/csvout"
	_ "tabular/internal/sink/postgres"
	_ "tabular/internal/sink/sqlite"
)
