package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists fit rows in an append-only SQLite table. It is an
// alternative backend to the CSV sink for studies large enough that
// grouped queries matter; ExportCSV produces the same file the CSV sink
// would have written.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
}

// OpenSQLiteStore opens (or creates) the results database at
// dir/results.db and initializes the schema.
func OpenSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	dbPath := filepath.Join(dir, "results.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := initSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// Append inserts the rows. Implements Sink.
func (s *SQLiteStore) Append(rows ...FitRow) error {
	return s.AppendContext(context.Background(), rows...)
}

// AppendContext inserts the rows within one transaction.
func (s *SQLiteStore) AppendContext(ctx context.Context, rows ...FitRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("results store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fits (run_id, term, estimate, std_err, statistic, p_value, convergence,
			n_subj, n_present, n_absent, beta0, beta1, tau0, tau1, rho, sigma)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.RunID, r.Term, r.Estimate, r.StdErr, r.Statistic, r.PValue, r.Convergence,
			r.NSubj, r.NPresent, r.NAbsent, r.Beta0, r.Beta1, r.Tau0, r.Tau1, r.Rho, r.Sigma,
		); err != nil {
			return fmt.Errorf("failed to insert result row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result rows: %w", err)
	}
	return nil
}

// Count returns the number of stored rows.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fits`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count result rows: %w", err)
	}
	return n, nil
}

// Reset deletes every stored row.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM fits`); err != nil {
		return fmt.Errorf("failed to reset result rows: %w", err)
	}
	return nil
}

// Rows returns every stored row in insertion order.
func (s *SQLiteStore) Rows(ctx context.Context) ([]FitRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, term, estimate, std_err, statistic, p_value, convergence,
			n_subj, n_present, n_absent, beta0, beta1, tau0, tau1, rho, sigma
		FROM fits ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query result rows: %w", err)
	}
	defer rows.Close()

	var out []FitRow
	for rows.Next() {
		var r FitRow
		if err := rows.Scan(&r.RunID, &r.Term, &r.Estimate, &r.StdErr, &r.Statistic, &r.PValue, &r.Convergence,
			&r.NSubj, &r.NPresent, &r.NAbsent, &r.Beta0, &r.Beta1, &r.Tau0, &r.Tau1, &r.Rho, &r.Sigma,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result rows: %w", err)
	}
	return out, nil
}

// ExportCSV writes every stored row to a CSV results file at path,
// in the same format CSVSink produces.
func (s *SQLiteStore) ExportCSV(ctx context.Context, path string) error {
	rows, err := s.Rows(ctx)
	if err != nil {
		return err
	}

	sink, err := NewCSVSink(path)
	if err != nil {
		return err
	}
	if err := sink.Append(rows...); err != nil {
		sink.Close()
		return err
	}
	return sink.Close()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close results database: %w", err)
	}
	return nil
}
