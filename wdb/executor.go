// Package wdb runs a wbase.Task's SQL fragments against the underlying
// relational engine and streams rows back over a wbase.SendChannel.
// Grounded in original_source/core/modules/wdb/QueryRunner.h; the
// concrete relational engine itself (MySqlConnection in the original) is
// out of scope (spec §1's stated boundary: "the relational storage
// engine backing each worker is an external collaborator"), so this
// package depends only on the Executor interface below.
package wdb

import "context"

// Row is one returned row, left opaque since no module downstream of
// wdb inspects column values, only forwards serialized bytes.
type Row []byte

// Executor is the boundary to the external relational engine a Task
// actually queries. A real implementation wraps a SQL driver connection
// (e.g. database/sql with a MySQL driver, as original qserv workers use
// MySQL); tests use a fake that plays back canned rows.
type Executor interface {
	// SelectDB switches the connection's default database, mirroring
	// QueryRunner::_setDb.
	SelectDB(ctx context.Context, db string) error

	// Query runs one SQL fragment and streams rows to yield. yield
	// returning an error aborts the query and is returned from Query.
	Query(ctx context.Context, sql string, yield func(Row) error) error

	Close() error
}
