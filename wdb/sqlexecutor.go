package wdb

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// sqlExecutor runs Task fragments against a database/sql connection
// pool, row-encoding each returned row as a single gob-free opaque blob
// (its column values joined with a NUL separator) rather than pulling in
// a result-set serialization format of its own, since nothing downstream
// of wdb inspects column values.
type sqlExecutor struct {
	db *sql.DB
}

// NewSQLExecutor wraps an already-open *sql.DB. Opening the DB (and
// choosing a driver) is main's job, not this package's: the relational
// engine a worker talks to is an external collaborator this repo only
// narrows to the Executor interface, never a specific driver.
func NewSQLExecutor(db *sql.DB) Executor {
	return &sqlExecutor{db: db}
}

func (e *sqlExecutor) SelectDB(ctx context.Context, db string) error {
	_, err := e.db.ExecContext(ctx, "USE "+db)
	return errors.Wrap(err, "wdb: select database")
}

func (e *sqlExecutor) Query(ctx context.Context, sqlText string, yield func(Row) error) error {
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return errors.Wrap(err, "wdb: query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "wdb: columns")
	}
	dest := make([]interface{}, len(cols))
	raw := make([]sql.RawBytes, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return errors.Wrap(err, "wdb: scan")
		}
		row := make(Row, 0, 64)
		for i, col := range raw {
			if i > 0 {
				row = append(row, 0)
			}
			row = append(row, col...)
		}
		if err := yield(row); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "wdb: row iteration")
}

func (e *sqlExecutor) Close() error {
	return e.db.Close()
}
