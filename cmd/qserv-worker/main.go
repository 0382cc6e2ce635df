// Command qserv-worker runs the worker-side task scheduler and query
// runner: it accepts framed Task connections, admits each one through
// the Memory Manager and Blend Scheduler, and streams Results back over
// the same connection.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jonathansick-shadow/qserv/common"
	"github.com/jonathansick-shadow/qserv/memman"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/transport"
	"github.com/jonathansick-shadow/qserv/wbase"
	"github.com/jonathansick-shadow/qserv/wcontrol"
	"github.com/jonathansick-shadow/qserv/wdb"
	"github.com/jonathansick-shadow/qserv/wsched"
)

// rawWorkerArgs holds the flag-backed options for the worker binary,
// matching the teacher's rawCopyCmdArgs/rawBenchmarkCmdArgs shape: one
// struct of raw flag values, validated and turned into real settings in
// the command's RunE rather than at flag-parse time.
type rawWorkerArgs struct {
	listen           string
	threads          int
	memBudgetMB      int64
	scanMaxInFlight  int
	scanMaxReserve   int
	groupMaxInFlight int
	groupMaxReserve  int
	groupMaxSize     int
	sqlDriver        string
	sqlDSN           string
	logLevel         string
}

func main() {
	raw := rawWorkerArgs{}
	root := &cobra.Command{
		Use:   "qserv-worker",
		Short: "Run a qserv worker: task scheduler, memory manager, query runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(raw)
		},
	}
	bindWorkerFlags(root.Flags(), &raw)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bindWorkerFlags(f *pflag.FlagSet, raw *rawWorkerArgs) {
	f.StringVar(&raw.listen, "listen", ":5012", "address to accept czar connections on")
	f.IntVar(&raw.threads, "threads", 0, "worker thread-pool size (0: derive from NumCPU)")
	f.Int64Var(&raw.memBudgetMB, "mem-budget-mb", 0, "locked-lease memory budget in MiB (0: half of total system RAM, via gopsutil)")
	f.IntVar(&raw.scanMaxInFlight, "scan-max-in-flight", 4, "ScanScheduler max concurrent tasks")
	f.IntVar(&raw.scanMaxReserve, "scan-max-reserve", 2, "ScanScheduler thread reserve")
	f.IntVar(&raw.groupMaxInFlight, "group-max-in-flight", 4, "GroupScheduler max concurrent tasks")
	f.IntVar(&raw.groupMaxReserve, "group-max-reserve", 1, "GroupScheduler thread reserve")
	f.IntVar(&raw.groupMaxSize, "group-max-size", 8, "GroupScheduler max tasks coalesced per chunk group")
	f.StringVar(&raw.sqlDriver, "sql-driver", "", "database/sql driver name for the backing relational engine")
	f.StringVar(&raw.sqlDSN, "sql-dsn", "", "database/sql data source name")
	f.StringVar(&raw.logLevel, "log-level", "INFO", "PANIC|ERROR|WARN|INFO|DEBUG")
}

func runWorker(raw rawWorkerArgs) error {
	logger := common.NewLogger("worker", parseLogLevel(raw.logLevel), log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds))

	threads := raw.threads
	if threads <= 0 {
		threads = common.ComputeThreadPoolSize(runtime.NumCPU())
	}

	memMgr := memman.NewManager(raw.memBudgetMB*(1<<20), logger)

	scan := wsched.NewScanScheduler("scan", raw.scanMaxInFlight, raw.scanMaxReserve, memMgr)
	group := wsched.NewGroupScheduler("group", raw.groupMaxInFlight, raw.groupMaxReserve, raw.groupMaxSize)
	blend := wsched.NewBlendScheduler("blend", threads, classifyByScanPriority(scan, group), group, scan)

	var executor wdb.Executor
	if raw.sqlDriver != "" {
		db, err := sql.Open(raw.sqlDriver, raw.sqlDSN)
		if err != nil {
			return fmt.Errorf("qserv-worker: open sql driver %q: %w", raw.sqlDriver, err)
		}
		executor = wdb.NewSQLExecutor(db)
	}

	factory := func(task *wbase.Task, sendChan *wbase.SendChannel) wbase.TaskQueryRunner {
		return wdb.NewQueryRunner(task, executor, sendChan)
	}

	foreman := wcontrol.NewForeman(threads, blend, memMgr, factory, logger)
	defer foreman.Shutdown()

	listener, err := transport.Listen(raw.listen)
	if err != nil {
		return fmt.Errorf("qserv-worker: listen on %s: %w", raw.listen, err)
	}
	defer listener.Close()
	common.Logf(logger, common.LogInfo, "worker listening on %s with %d threads", listener.Addr(), threads)

	return acceptLoop(listener, foreman, logger)
}

// acceptLoop accepts connections until the listener is closed, handling
// each on its own goroutine, grounded in the Accept-loop/
// goroutine-per-connection shape common to Go TCP servers in the
// examples pack (e.g. the stratum pool coordinator's acceptLoop).
// Closing listener (there is no separate shutdown signal here; this
// binary runs until killed) is what unblocks the final Accept call.
func acceptLoop(listener *transport.Listener, foreman *wcontrol.Foreman, logger common.ILogger) error {
	for {
		stream, err := listener.Accept()
		if err != nil {
			return err
		}
		go handleConn(stream, foreman, logger)
	}
}

// handleConn reads exactly one Task frame from stream and hands it to
// the Foreman; the worker's wire contract is one Task per connection,
// with every Result frame for that Task flowing back over the same
// connection (spec §6.1).
func handleConn(stream transport.Stream, foreman *wcontrol.Foreman, logger common.ILogger) {
	header, body, err := stream.RecvFrame()
	if err != nil {
		common.Logf(logger, common.LogWarning, "qserv-worker: recv task frame: %v", err)
		stream.Close()
		return
	}
	_ = header

	desc, err := proto.DecodeTask(body)
	if err != nil {
		common.Logf(logger, common.LogWarning, "qserv-worker: decode task: %v", err)
		stream.Close()
		return
	}

	task, err := wbase.NewTask(desc)
	if err != nil {
		common.Logf(logger, common.LogWarning, "qserv-worker: build task %d#%d: %v", desc.QueryID, desc.JobID, err)
		stream.Close()
		return
	}
	sendChan := wbase.NewSendChannel(stream)
	foreman.ProcessTask(task, sendChan)
}

// classifyByScanPriority routes the worker's two broad workload classes
// to the sub-scheduler built for them (spec §4.4's example split): a
// nonzero ScanPriority marks a full chunk scan, dispatched fairly by
// chunk id through the ScanScheduler; everything else is a small,
// coalescable lookup the GroupScheduler handles.
func classifyByScanPriority(scan, group wbase.Scheduler) wsched.Classifier {
	return func(t *wbase.Task) wbase.Scheduler {
		if t.Proto.ScanPriority > 0 {
			return scan
		}
		return group
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
