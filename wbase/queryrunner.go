package wbase

// TaskQueryRunner is what a Task asks the database-execution layer
// (package wdb) to do: run the query and stream results, or cancel an
// in-progress run. Grounded in
// original_source/core/modules/wdb/QueryRunner.h, where wbase::Task holds
// a TaskQueryRunner the same way.
type TaskQueryRunner interface {
	RunQuery() error
	Cancel()
}
