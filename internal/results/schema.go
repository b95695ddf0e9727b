package results

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the append-only fits table. Rows are inserted, never updated.
const schema = `
CREATE TABLE IF NOT EXISTS fits (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	term        TEXT NOT NULL,
	estimate    REAL NOT NULL,
	std_err     REAL NOT NULL,
	statistic   REAL NOT NULL,
	p_value     REAL NOT NULL,
	convergence TEXT NOT NULL,
	n_subj      INTEGER NOT NULL,
	n_present   INTEGER NOT NULL,
	n_absent    INTEGER NOT NULL,
	beta0       REAL NOT NULL,
	beta1       REAL NOT NULL,
	tau0        REAL NOT NULL,
	tau1        REAL NOT NULL,
	rho         REAL NOT NULL,
	sigma       REAL NOT NULL,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_fits_run ON fits(run_id);
CREATE INDEX IF NOT EXISTS idx_fits_term ON fits(term);
CREATE INDEX IF NOT EXISTS idx_fits_n_subj ON fits(n_subj);
`

// initSchema creates the fits table and indexes if they do not exist.
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize results schema: %w", err)
	}
	return nil
}
