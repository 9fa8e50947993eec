// Copyright 2024 Fortio Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command harness is the admin entry point: it can run as an Agent host,
// as the RunQueue/RunDaemon/Master daemon, or as a short-lived submitter of
// one of the admin commands against either of those.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"fortio.org/cli"
	"fortio.org/duration"
	"fortio.org/log"
	"fortio.org/scli"

	"github.com/perfharness/loadharness/agent"
	"github.com/perfharness/loadharness/config"
	"github.com/perfharness/loadharness/master"
	"github.com/perfharness/loadharness/netutil"
	"github.com/perfharness/loadharness/rpcwire"
	"github.com/perfharness/loadharness/runqueue"
)

func helpArgsString() string {
	return strings.Join([]string{
		"command\n",
		"where command is one of: agent (runs an Agent host),",
		" daemon/start-daemon (runs the RunQueue/RunDaemon and Master against",
		" -agent hosts), submit (queues a run, needs -bench), list (lists",
		" queued runs), delete <runId> (removes a not-yet-started run),",
		" status (shows the run the daemon is currently executing),",
		" kill <runId> (aborts the daemon's current run if it matches), or",
		" stop-daemon/exit (asks the running daemon to shut down, draining",
		" any run in progress first).",
	}, "")
}

var (
	httpAddrFlag  = flag.String("http", ":8077", "Address to listen on, for agent/daemon commands")
	daemonURLFlag = flag.String("daemon-url", "http://localhost:8077", "Base URL of the running daemon, for kill/stop-daemon/exit")

	agentURLsFlag agentURLList

	queueDirFlag  = flag.String("queue-dir", "./harness-data/queue", "Queue directory (daemon/submit/list/delete)")
	activeDirFlag = flag.String("active-dir", "./harness-data/active", "Active-run directory (daemon)")
	outputDirFlag = flag.String("output-dir", "./harness-data/output", "Completed-run archive directory (daemon)")
	seqFileFlag   = flag.String("seq-file", "./harness-data/sequence.txt", "Sequence token file (daemon/submit/list)")

	benchFlag     = flag.String("bench", "", "Benchmark short name (submit), also selects the registered driver")
	driverFlag    = flag.String("driver", "", "Registered driver name to run (submit); defaults to -bench")
	threadsFlag   = flag.Int("threads", 1, "Threads per Agent host (submit)")
	submitterFlag = flag.String("submitter", "", "Submitter name recorded with the run (submit)")

	rampUpFlag      duration.Duration
	steadyStateFlag duration.Duration
	rampDownFlag    duration.Duration

	startupSlackFlag = flag.Duration("startup-slack", config.StartupSlack.Get(), config.StartupSlack.Usage()+" (daemon)")
	rpcTimeoutFlag   = flag.Duration("rpc-timeout", config.AbortTimeout.Get(), config.AbortTimeout.Usage()+" (daemon)")
)

// liveMaster lets the daemon's mux register rpcwire.MasterHandlers exactly
// once (http.ServeMux panics on a second registration of the same
// pattern) while each admitted run gets its own fresh master.Master: it
// forwards to whichever Master is current under a mutex.
type liveMaster struct {
	mu sync.Mutex
	m  *master.Master
}

var _ rpcwire.MasterHandlers = (*liveMaster)(nil)

func (l *liveMaster) set(m *master.Master) {
	l.mu.Lock()
	l.m = m
	l.mu.Unlock()
}

func (l *liveMaster) CurrentTimeMillis() int64 {
	l.mu.Lock()
	m := l.m
	l.mu.Unlock()
	if m == nil {
		return 0
	}
	return m.CurrentTimeMillis()
}

func (l *liveMaster) AbortRun(runID, reason string) error {
	l.mu.Lock()
	m := l.m
	l.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.AbortRun(runID, reason)
}

// agentURLList is a repeatable -agent flag (the daemon's fixed Agent host
// set), the same repeated-flag idiom as fortio's -P/-M client flags.
type agentURLList []string

func (a *agentURLList) String() string { return strings.Join(*a, ",") }
func (a *agentURLList) Set(v string) error {
	*a = append(*a, v)
	return nil
}

// Main runs the command as selected by the parsed flags/cli.Command and
// returns a process exit code; main() only adds the os.Exit, so the whole
// CLI surface is callable in-process from a testscript.RunMain table.
func Main() int {
	flag.Var(&agentURLsFlag, "agent", "Agent host base URL (daemon), repeatable")
	flag.Var(&rampUpFlag, "rampup", "Ramp-up duration (submit), e.g. 10s, 2m")
	flag.Var(&steadyStateFlag, "steadystate", "Steady-state duration (submit)")
	flag.Var(&rampDownFlag, "rampdown", "Ramp-down duration (submit)")

	cli.ProgramName = "loadharness"
	cli.ArgsHelp = helpArgsString()
	cli.CommandBeforeFlags = true
	cli.MinArgs = 0 // agent/daemon/submit/list/status/start-daemon/stop-daemon/exit take no further args
	cli.MaxArgs = 1 // delete/kill take exactly one runId argument
	scli.ServerMain() // exits on argument/flag errors

	args := flag.Args()
	switch cli.Command {
	case "agent":
		runAgent(*httpAddrFlag)
	case "daemon", "start-daemon":
		runDaemon(*httpAddrFlag, agentURLsFlag, *rpcTimeoutFlag, *startupSlackFlag)
	case "submit":
		runSubmit()
	case "list":
		runList()
	case "delete":
		if len(args) != 1 {
			cli.ErrUsage("Error: delete needs exactly one runId argument")
		}
		runDelete(args[0])
	case "status":
		runStatus()
	case "kill":
		if len(args) != 1 {
			cli.ErrUsage("Error: kill needs exactly one runId argument")
		}
		runKill(args[0])
	case "stop-daemon":
		runStopDaemon()
	case "exit":
		runExit()
	default:
		cli.ErrUsage("Error: unknown command %q", cli.Command)
	}
	return 0
}

func main() {
	os.Exit(Main())
}

func runAgent(addr string) {
	addr, err := netutil.NormalizePort(addr)
	if err != nil {
		log.Fatalf("agent: -http %v", err)
	}
	reg := agent.NewRegistry()
	registerBuiltinDrivers(reg)
	a := agent.New(reg, nil)
	mux := http.NewServeMux()
	rpcwire.RegisterAgentHandlers(mux, a)
	log.Infof("agent: listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("agent: %v", err)
	}
}

// runDaemon drains RunQueue one run at a time, each run constructing a
// fresh Master against the fixed set of Agent hosts: one Master drives at
// most one run at a time.
func runDaemon(addr string, agentURLs []string, rpcTimeout, startupSlack time.Duration) {
	if len(agentURLs) == 0 {
		cli.ErrUsage("Error: daemon needs at least one -agent host")
	}
	addr, err := netutil.NormalizePort(addr)
	if err != nil {
		log.Fatalf("daemon: -http %v", err)
	}
	store, err := newStore()
	if err != nil {
		log.Fatalf("daemon: %v", err)
	}
	q := runqueue.New(store)

	mux := http.NewServeMux()
	registerAdminKill(mux, q)
	registerAdminExit(mux, q)
	live := &liveMaster{}
	rpcwire.RegisterMasterHandlers(mux, live)

	exec := func(entry runqueue.Entry, runDir string) bool {
		params, driverName := loadRunParams(runDir, entry)
		m := master.New(agentURLs, rpcTimeout, startupSlack)
		live.set(m)
		q.SetKillFunc(func(runID string) bool {
			return m.Kill(runID) == nil
		})
		log.Infof("daemon: starting run %s (driver %s)", entry.RunID, driverName)
		if err := m.StartRun(runOptions(entry.RunID, driverName, params)); err != nil {
			log.Errf("daemon: starting %s: %v", entry.RunID, err)
			return true
		}
		report, err := m.JoinRun()
		if err != nil {
			log.Errf("daemon: joining %s: %v", entry.RunID, err)
		}
		writeReport(runDir, report)
		return report != nil && report.Aborted
	}
	d := runqueue.NewRunDaemon(q, exec, config.RunDaemonPollInterval.Get())
	q.SetExitFunc(d.Exit)

	log.Infof("daemon: listening on %s", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("daemon: http: %v", err)
		}
	}()
	d.Run()
}

func runOptions(runID, driverName string, params map[string]string) master.StartOptions {
	return master.StartOptions{
		RunID:          runID,
		DriverName:     driverName,
		ThreadsPerHost: paramInt(params, "threads", 1),
		RampUp:         paramDuration(params, "rampup"),
		SteadyState:    paramDuration(params, "steadystate"),
		RampDown:       paramDuration(params, "rampdown"),
		Params:         params,
	}
}

func runSubmit() {
	if *benchFlag == "" {
		cli.ErrUsage("Error: submit needs -bench")
	}
	store, err := newStore()
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	q := runqueue.New(store)

	driver := *driverFlag
	if driver == "" {
		driver = *benchFlag
	}
	params := map[string]string{
		"threads": fmt.Sprintf("%d", *threadsFlag),
		"driver":  driver,
	}
	if v := time.Duration(rampUpFlag); v > 0 {
		params["rampup"] = v.String()
	}
	if v := time.Duration(steadyStateFlag); v > 0 {
		params["steadystate"] = v.String()
	}
	if v := time.Duration(rampDownFlag); v > 0 {
		params["rampdown"] = v.String()
	}
	submitter := *submitterFlag
	if submitter == "" {
		submitter = os.Getenv("USER")
	}
	runID, err := q.Add(submitter, *benchFlag, params)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Println(runID)
}

func runList() {
	store, err := newStore()
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	q := runqueue.New(store)
	entries, err := q.List()
	if err != nil {
		log.Fatalf("list: %v", err)
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\n", e.RunID, e.BenchShortName, e.Submitter, e.SubmitTime.Format(time.RFC3339))
	}
}

func runDelete(runID string) {
	store, err := newStore()
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	q := runqueue.New(store)
	removed, err := q.Delete(runID)
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	if !removed {
		log.Errf("delete: %s was not queued (already started, or unknown)", runID)
		os.Exit(1)
	}
}

func runStatus() {
	store, err := newStore()
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	entries, err := os.ReadDir(store.ActiveDir())
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("idle")
		return
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func runKill(runID string) {
	killed, err := sendAdminKill(*daemonURLFlag, runID)
	if err != nil {
		log.Fatalf("kill: %v", err)
	}
	if !killed {
		log.Errf("kill: %s was not the daemon's current run", runID)
		os.Exit(1)
	}
}

// runStopDaemon and runExit both request the same graceful shutdown of the
// live daemon process (RunQueue.Exit, draining any run in progress); the
// queue-manager CLI surface lists them as separate commands without
// distinguishing their semantics further, so "stop-daemon" and "exit" are
// treated as synonyms here.
func runStopDaemon() {
	if err := sendAdminExit(*daemonURLFlag); err != nil {
		log.Fatalf("stop-daemon: %v", err)
	}
}

func runExit() {
	if err := sendAdminExit(*daemonURLFlag); err != nil {
		log.Fatalf("exit: %v", err)
	}
}

func newStore() (*runqueue.FileStore, error) {
	return runqueue.NewFileStore(*queueDirFlag, *activeDirFlag, *outputDirFlag, *seqFileFlag)
}
