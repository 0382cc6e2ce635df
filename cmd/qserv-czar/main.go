// Command qserv-czar dispatches one user query's chunk Jobs to workers,
// waits for every Job to either merge its result or exhaust its retries,
// and reports the merged row count and any diagnostic messages.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonathansick-shadow/qserv/common"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/qdisp"
	"github.com/jonathansick-shadow/qserv/qmeta"
	"github.com/jonathansick-shadow/qserv/rproc"
	"github.com/jonathansick-shadow/qserv/transport"
)

// rawCzarArgs holds the flag-backed options for the czar binary, one
// struct of raw flag values turned into real settings in the command's
// RunE, matching the worker binary's rawWorkerArgs shape.
type rawCzarArgs struct {
	queryID     uint64
	sessionID   int32
	defaultDB   string
	sql         string
	chunks      []string
	workers     []string
	maxRetries  int
	maxInFlight int
	dialTimeout time.Duration
	logLevel    string
}

func main() {
	raw := rawCzarArgs{}
	root := &cobra.Command{
		Use:   "qserv-czar",
		Short: "Dispatch one query's chunk jobs to workers and merge the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCzar(raw)
		},
	}
	bindCzarFlags(root.Flags(), &raw)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bindCzarFlags(f *pflag.FlagSet, raw *rawCzarArgs) {
	f.Uint64Var(&raw.queryID, "query-id", 1, "user query id this dispatch belongs to")
	f.Int32Var(&raw.sessionID, "session-id", 0, "session id grouping this query's jobs")
	f.StringVar(&raw.defaultDB, "db", "", "default database for every chunk's fragments")
	f.StringVar(&raw.sql, "sql", "", "SQL fragment to run against every chunk")
	f.StringSliceVar(&raw.chunks, "chunks", nil, "chunk ids to query, e.g. --chunks 1,2,3")
	f.StringSliceVar(&raw.workers, "workers", nil, "worker addresses, assigned to chunks round-robin")
	f.IntVar(&raw.maxRetries, "max-retries", 2, "per-job retry budget")
	f.IntVar(&raw.maxInFlight, "max-in-flight", 8, "max concurrently dispatched jobs")
	f.DurationVar(&raw.dialTimeout, "dial-timeout", 5*time.Second, "per-job worker connect timeout")
	f.StringVar(&raw.logLevel, "log-level", "INFO", "PANIC|ERROR|WARN|INFO|DEBUG")
}

func runCzar(raw rawCzarArgs) error {
	if raw.sql == "" {
		return fmt.Errorf("qserv-czar: --sql is required")
	}
	if len(raw.chunks) == 0 {
		return fmt.Errorf("qserv-czar: --chunks is required")
	}
	if len(raw.workers) == 0 {
		return fmt.Errorf("qserv-czar: --workers is required")
	}

	logger := common.NewLogger("czar", parseLogLevel(raw.logLevel), log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds))
	msgStore := qmeta.NewMessageStore()
	merger := rproc.NewMerger()

	dial := dialerWithTimeout(raw.dialTimeout)
	exec := qdisp.NewExecutive(raw.queryID, merger, dial, raw.maxInFlight, logger)

	chunks, err := parseChunks(raw.chunks)
	if err != nil {
		return err
	}
	for i, chunkID := range chunks {
		worker := raw.workers[i%len(raw.workers)]
		desc := proto.Task{
			SessionID: raw.sessionID,
			JobID:     int32(i + 1),
			ChunkID:   chunkID,
			DefaultDB: raw.defaultDB,
			Fragments: []proto.Fragment{{Query: []string{raw.sql}}},
		}
		exec.AddJob(desc, raw.maxRetries)
		common.Logf(logger, common.LogInfo, "qserv-czar: job %s routed to %s", qmeta.IDStr(qmeta.QueryID(raw.queryID), qmeta.JobID(desc.JobID)), worker)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = context.WithValue(ctx, workerAddrsKey{}, workerAddrs(raw.workers))

	if err := exec.ExecuteAll(ctx); err != nil {
		msgStore.Add(common.CodeNone, err.Error())
		common.Logf(logger, common.LogError, "qserv-czar: query %d failed: %v", raw.queryID, err)
		return err
	}

	table := merger.Table(raw.queryID)
	rows := table.Rows()
	fmt.Fprintf(os.Stdout, "query %d: merged %d rows from %d chunks\n", raw.queryID, len(rows), len(chunks))
	for i := 0; i < msgStore.Count(); i++ {
		if msg, ok := msgStore.Get(i); ok {
			fmt.Fprintf(os.Stdout, "message %d: %s\n", i, msg.Text)
		}
	}
	return nil
}

func parseChunks(raw []string) ([]int32, error) {
	out := make([]int32, len(raw))
	for i, s := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("qserv-czar: invalid chunk id %q: %w", s, err)
		}
		out[i] = int32(n)
	}
	return out, nil
}

// workerAddrsKey and workerAddrs let dialerWithTimeout's Dialer pick the
// right worker for a Task's chunk out of the context rather than closing
// over mutable dispatch state, since Executive invokes the same Dialer
// for every job it owns.
type workerAddrsKey struct{}
type workerAddrs []string

// dialerWithTimeout builds a qdisp.Dialer that resolves a Task's worker
// address from the chunk-to-worker assignment recorded in runCzar (there
// is no chunk-location service in scope; --workers is a fixed
// round-robin list) and opens a framed connection with a bounded
// connect-time deadline.
func dialerWithTimeout(timeout time.Duration) qdisp.Dialer {
	return func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		addrs, _ := ctx.Value(workerAddrsKey{}).(workerAddrs)
		if len(addrs) == 0 {
			return nil, fmt.Errorf("qserv-czar: no worker addresses configured")
		}
		addr := addrs[(int(task.JobID)-1)%len(addrs)]

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return transport.Dial(dialCtx, addr)
	}
}

func parseLogLevel(s string) common.LogLevel {
	switch s {
	case "PANIC":
		return common.LogPanic
	case "ERROR":
		return common.LogError
	case "WARN":
		return common.LogWarning
	case "DEBUG":
		return common.LogDebug
	default:
		return common.LogInfo
	}
}
