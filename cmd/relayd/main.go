// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

// Command relayd is the telemetry relay daemon: it accepts framed
// observations from local application processes, aggregates them per
// application identity, and periodically uploads reduced payloads to
// the remote ingestion service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/telemetryrelay/daemon/internal/appkey"
	"github.com/telemetryrelay/daemon/internal/config"
	"github.com/telemetryrelay/daemon/internal/daemonlog"
	"github.com/telemetryrelay/daemon/internal/exitstatus"
	"github.com/telemetryrelay/daemon/internal/harvest"
	"github.com/telemetryrelay/daemon/internal/hostfacts"
	"github.com/telemetryrelay/daemon/internal/ingestclient"
	"github.com/telemetryrelay/daemon/internal/listener"
	"github.com/telemetryrelay/daemon/internal/pidfile"
	"github.com/telemetryrelay/daemon/internal/role"
	"github.com/telemetryrelay/daemon/internal/supervisor"
	"github.com/telemetryrelay/daemon/lib/clock"
	"github.com/telemetryrelay/daemon/lib/version"
)

const usage = `Usage: relayd [OPTIONS]

Options:

   -c <config-file>           Set the path to the configuration file
   --logfile <file>           Set the path to the log file
   --loglevel <level>         Log level (error, warning, info or debug)
                              Default: info
   --pidfile <file>           Set the path to the process id file
   --no-pidfile               Do not use a pid file
   --addr <addr>              Listen on the specified ip:port or socket file path
   --port <port>              Listen on the specified port or socket file path (deprecated, use --addr)
   --ingest-endpoint <url>    Base URL of the remote ingestion service
   --harvest-cycle <dur>      Harvest interval (default 1m)
   --app-timeout <dur>        Idle eviction window for application entries (default 5m)
   --define key=value         Set a setting (as in the config file) to a value;
                              takes precedence over config file and CLI flag settings
   -f, --foreground           Remain in the foreground
   -v, --version              Print version information and exit
   -h, --help                 Print this message and exit
   --utilization              Print host facts as JSON and exit
`

const legacyNotice = `Warning!

You are using legacy command-line flags. We plan to remove the following flags
in a future version:

[-p pidfile] [-d level] [-c config] [-l logfile] [-P port] [-b capath]
[-S cafile] [-a auditlog] [-A agent]

Please use the flags listed with the -h or --help flag.
`

// settings is the effective configuration for one run of the daemon,
// assembled from defaults, the config file, and CLI flags in that
// order of increasing precedence, with --define overriding all of
// them (spec §6).
type settings struct {
	bindAddr       string
	bindPort       string
	configFile     string
	logFile        string
	logLevel       string
	pidfilePath    string
	noPidfile      bool
	ingestEndpoint string
	harvestCycle   time.Duration
	appTimeout     time.Duration
	foreground     bool
	showVersion    bool
	showUtilization bool
}

func main() {
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(runtime.NumCPU())
	}

	cfg, err := configure(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitHelpOrConfig(err))
	}

	if cfg.showVersion {
		fmt.Printf("relayd %s\n", version.Info())
		return
	}

	if cfg.showUtilization {
		facts, err := hostfacts.Gather()
		if err != nil {
			fatal(err)
		}
		data, err := facts.MarshalIndent()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s\n", data)
		return
	}

	currentRole := role.FromEnv(cfg.foreground, os.Getenv)

	logger, logPath, err := daemonlog.Open(cfg.logFile, daemonlog.ParseLevel(cfg.logLevel))
	if err != nil {
		fatal(err)
	}
	logger.Info(banner(cfg, currentRole), "logfile", logPath)

	run(cfg, currentRole, logger)
	os.Exit(exitstatus.Get())
}

// fatal reports an error that occurred before the structured logger was
// available to report it through (host-utilization gathering or
// rendering, log-file setup) and exits with code 1.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// exitHelpOrConfig maps a configure() failure to the exit code spec
// §6 assigns it: 2 when -h/--help was requested (flag.ErrHelp), 1 for
// every other configuration error.
func exitHelpOrConfig(err error) int {
	if err == flag.ErrHelp {
		return 2
	}
	return 1
}

// run dispatches on role exactly as spec §4.2 describes: the
// progenitor spawns a detached watcher and exits; the watcher loops
// spawning and respawning a worker; the worker serves until
// signalled.
func run(cfg *settings, currentRole role.Role, logger *slog.Logger) {
	switch currentRole {
	case role.Progenitor:
		if _, err := supervisor.SpawnWatcher(); err != nil {
			logger.Error("unable to create watcher process", "error", err)
			exitstatus.Set(1)
		}
	case role.Watcher:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		exitstatus.Set(supervisor.RunWatcher(ctx, logger))
	case role.Worker:
		exitstatus.Set(runWorker(cfg, logger))
	}
}

// runWorker acquires the pid-file lock, opens the listener, wires the
// application table to the remote ingestion client, and serves until
// signalled (spec §4.2 "Worker").
func runWorker(cfg *settings, logger *slog.Logger) int {
	if shouldCreatePidfile(cfg) {
		pf, err := pidfile.Create(cfg.pidfilePath)
		if err != nil {
			if err == pidfile.ErrLocked {
				// Another daemon is already live on this pid file: exit
				// quietly and successfully, per spec §4.1.
				return 0
			}
			logger.Error("could not create pid file", "error", err)
			return 1
		}
		defer pf.Remove()

		if _, err := pf.Write(); err != nil {
			logger.Error("could not write pid to file", "error", err)
			return 1
		}
	}

	network, address := listener.ParseAddr(cfg.bindAddr)

	clk := clock.Real()
	uploader := ingestclient.NewHTTPUploader(cfg.ingestEndpoint, 30*time.Second)
	capacities := harvest.Capacities{Events: 200, MetricNames: 2000, Errors: 20, SlowSamples: 10}
	table := harvest.NewTable(capacities, cfg.appTimeout, clk, uploader, logger)

	server := listener.NewServer(network, address, table, staticAuthenticator{}, clk, logger, cfg.harvestCycle)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	go func() {
		for range hangup {
			daemonlog.Reopen(logger)
		}
	}()

	serveErr := server.Serve(ctx)

	// Block until every application entry has run its final forced
	// harvest (spec §5 "Cancellation") before runWorker returns and
	// main calls os.Exit — a bare defer would run at the same point,
	// but an explicit call here keeps the shutdown drain visible at
	// the call site instead of implicit in a defer stack.
	table.Stop()

	if serveErr != nil {
		logger.Error("listener exited with error", "error", serveErr)
		return 1
	}
	return 0
}

// staticAuthenticator accepts every connect frame and issues a fresh
// opaque run token, the way the real collector hands back a run id
// unrelated to the identity that requested it. A real license check
// against the remote ingestion service's account database is outside
// this package's scope (spec §1 "deliberately out of scope": the
// application-side instrumentation library's wire contract is what
// matters here, not the collector-side account system).
type staticAuthenticator struct{}

func (staticAuthenticator) Authenticate(identity appkey.Identity) (string, string, error) {
	return uuid.NewString(), "", nil
}

func shouldCreatePidfile(cfg *settings) bool {
	return !cfg.noPidfile && cfg.pidfilePath != ""
}

func banner(cfg *settings, currentRole role.Role) string {
	return fmt.Sprintf(
		"relayd version %s [listen=%q role=%s pid=%d ppid=%d runtime=%q GOMAXPROCS=%d GOOS=%s GOARCH=%s]",
		version.Info(), cfg.bindAddr, currentRole, os.Getpid(), os.Getppid(),
		runtime.Version(), runtime.GOMAXPROCS(-1), runtime.GOOS, runtime.GOARCH,
	)
}

var defaultSettings = settings{
	bindAddr:     "127.0.0.1:36870",
	logLevel:     daemonlog.LevelInfo,
	harvestCycle: time.Minute,
	appTimeout:   5 * time.Minute,
}

// configure parses the command line, falling back to the legacy
// short-flag set if the modern set fails to parse, and merges in the
// config file and --define settings, matching spec §6's flag
// precedence exactly: config file < CLI flags < --define.
func configure(args []string) (*settings, error) {
	cfg := defaultSettings

	modern := newModernFlagSet(&cfg)
	if err := modern.Parse(args); err != nil {
		if err == flag.ErrHelp {
			fmt.Fprint(os.Stderr, usage)
			return nil, flag.ErrHelp
		}

		cfg = defaultSettings
		legacy := newLegacyFlagSet(&cfg)
		if legacyErr := legacy.Parse(args); legacyErr != nil {
			return nil, fmt.Errorf("%w\n%s", err, usage)
		}
		fmt.Fprint(os.Stderr, legacyNotice)
		if err := mergeConfigFile(&cfg); err != nil {
			return nil, err
		}
		legacy.Parse(args)
	} else {
		if err := mergeConfigFile(&cfg); err != nil {
			return nil, err
		}
		modern.Parse(args)
		// Re-apply every --define after all other flags, so a define wins
		// over a CLI flag whatever their order on the command line.
		define := modern.Lookup("define").Value.(*defineSetting)
		for _, setting := range define.settings {
			define.Set(setting)
		}
	}

	applyLegacyPort(&cfg)

	return &cfg, nil
}

func newModernFlagSet(cfg *settings) *flag.FlagSet {
	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	fs.StringVar(&cfg.configFile, "c", cfg.configFile, "config file location")
	fs.StringVar(&cfg.bindAddr, "addr", cfg.bindAddr, "")
	fs.StringVar(&cfg.bindPort, "port", cfg.bindPort, "")
	fs.StringVar(&cfg.pidfilePath, "pidfile", cfg.pidfilePath, "")
	fs.BoolVar(&cfg.noPidfile, "no-pidfile", cfg.noPidfile, "")
	fs.StringVar(&cfg.logFile, "logfile", cfg.logFile, "")
	fs.StringVar(&cfg.logLevel, "loglevel", cfg.logLevel, "")
	fs.StringVar(&cfg.ingestEndpoint, "ingest-endpoint", cfg.ingestEndpoint, "")
	fs.DurationVar(&cfg.harvestCycle, "harvest-cycle", cfg.harvestCycle, "")
	fs.DurationVar(&cfg.appTimeout, "app-timeout", cfg.appTimeout, "")
	fs.BoolVar(&cfg.foreground, "f", cfg.foreground, "")
	fs.BoolVar(&cfg.foreground, "foreground", cfg.foreground, "")
	fs.BoolVar(&cfg.showVersion, "v", cfg.showVersion, "")
	fs.BoolVar(&cfg.showVersion, "version", cfg.showVersion, "")
	fs.BoolVar(&cfg.showUtilization, "utilization", cfg.showUtilization, "")
	fs.Var(&defineSetting{cfg: cfg}, "define", "")

	return fs
}

func newLegacyFlagSet(cfg *settings) *flag.FlagSet {
	fs := flag.NewFlagSet("relayd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	fs.StringVar(&cfg.configFile, "c", cfg.configFile, "")
	fs.StringVar(&cfg.bindAddr, "P", cfg.bindAddr, "")
	fs.StringVar(&cfg.pidfilePath, "p", cfg.pidfilePath, "")
	fs.BoolVar(&cfg.noPidfile, "no-pidfile", cfg.noPidfile, "")
	fs.StringVar(&cfg.logFile, "l", cfg.logFile, "")
	fs.StringVar(&cfg.logLevel, "d", cfg.logLevel, "")
	fs.BoolVar(&cfg.foreground, "f", cfg.foreground, "")

	// The remaining legacy flags are accepted so that old command lines
	// still parse; their values are not used.
	var unused string
	for _, name := range []string{"b", "S", "x", "a", "A"} {
		fs.StringVar(&unused, name, "", "")
	}

	return fs
}

// applyLegacyPort implements the open question preserved from spec §9:
// a non-numeric --port value is assigned verbatim to the bind
// address, which happens to let the legacy flag accept a socket path
// too. This is undocumented in the source daemon but deliberately
// preserved rather than "fixed".
func applyLegacyPort(cfg *settings) {
	if cfg.bindPort == "" {
		return
	}
	fmt.Fprint(os.Stderr, "--port is deprecated, use --addr instead\n")
	if _, err := strconv.Atoi(cfg.bindPort); err == nil {
		cfg.bindAddr = "127.0.0.1:" + cfg.bindPort
	} else {
		cfg.bindAddr = cfg.bindPort
	}
}

// mergeConfigFile loads cfg.configFile, if set, applying its dotted
// key=value settings underneath whatever the CLI flags already hold
// (CLI flags are re-parsed after this call, so they win).
func mergeConfigFile(cfg *settings) error {
	if cfg.configFile == "" {
		return nil
	}
	file, err := os.Open(cfg.configFile)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer file.Close()

	values, err := config.ParseFile(file)
	if err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	cfg.bindAddr = values.String("addr", cfg.bindAddr)
	cfg.pidfilePath = values.String("pidfile", cfg.pidfilePath)
	cfg.logFile = values.String("logfile", cfg.logFile)
	cfg.ingestEndpoint = values.String("ingest_endpoint", cfg.ingestEndpoint)
	if seconds := values.Int("app_timeout", -1); seconds >= 0 {
		cfg.appTimeout = time.Duration(seconds) * time.Second
	}
	return nil
}

// defineSetting adapts a single --define key=value into flag.Value so
// it can be registered on the flag set. Each setting is applied when
// CLI flags are parsed and recorded so that configure can re-apply it
// after every other flag, giving it the highest precedence (spec §6).
type defineSetting struct {
	cfg      *settings
	settings []string
}

func (d *defineSetting) String() string { return "" }

func (d *defineSetting) Set(setting string) error {
	values := config.Values{}
	if err := values.ApplyDefine(setting); err != nil {
		return err
	}
	d.settings = append(d.settings, setting)
	if v, ok := values["addr"]; ok {
		d.cfg.bindAddr = v
	}
	if v, ok := values["pidfile"]; ok {
		d.cfg.pidfilePath = v
	}
	if v, ok := values["logfile"]; ok {
		d.cfg.logFile = v
	}
	if v, ok := values["ingest_endpoint"]; ok {
		d.cfg.ingestEndpoint = v
	}
	if v, ok := values["app_timeout"]; ok {
		if seconds, err := strconv.Atoi(v); err == nil {
			d.cfg.appTimeout = time.Duration(seconds) * time.Second
		}
	}
	return nil
}
