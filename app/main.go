package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/seqbox/blastweb/app/blast"
	"github.com/seqbox/blastweb/app/catalog"
	"github.com/seqbox/blastweb/app/conditions"
	"github.com/seqbox/blastweb/app/notify"
	"github.com/seqbox/blastweb/app/runner"
	"github.com/seqbox/blastweb/app/store"
	"github.com/seqbox/blastweb/app/web"
)

var opts struct {
	Address     string        `long:"address" env:"ADDRESS" default:":8080" description:"web server listen address"`
	DB          string        `long:"db" env:"DB" default:"blastweb.db" description:"sqlite database path"`
	Catalog     string        `long:"catalog" env:"CATALOG" description:"catalog yaml file, built-in defaults if empty"`
	Concurrency int           `long:"concurrency" env:"CONCURRENCY" default:"2" description:"max concurrent searches"`
	QueueSize   int           `long:"queue" env:"QUEUE" default:"100" description:"submission queue size"`
	LoginTTL    time.Duration `long:"login-ttl" env:"LOGIN_TTL" default:"24h" description:"session lifetime"`

	Blast struct {
		BaseURL      string        `long:"base-url" env:"BASE_URL" default:"https://blast.ncbi.nlm.nih.gov/Blast.cgi" description:"BLAST URL API endpoint"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"30m" description:"max time for a single search"`
		PollInterval time.Duration `long:"poll-interval" env:"POLL_INTERVAL" default:"10s" description:"status poll interval"`
	} `group:"blast" namespace:"blast" env-namespace:"BLASTWEB_BLAST"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"how many times to repeat a failed search"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"BLASTWEB_REPEATER"`

	Conditions struct {
		CPUBelow      int           `long:"cpu-below" env:"CPU_BELOW" default:"0" description:"run searches only when CPU usage is below this percent, 0 disables"`
		MemoryBelow   int           `long:"memory-below" env:"MEMORY_BELOW" default:"0" description:"run searches only when memory usage is below this percent, 0 disables"`
		LoadAvgBelow  float64       `long:"loadavg-below" env:"LOADAVG_BELOW" default:"0" description:"run searches only when loadavg is below this value, 0 disables"`
		MaxPostpone   time.Duration `long:"max-postpone" env:"MAX_POSTPONE" default:"0s" description:"max time to postpone a search waiting for conditions"`
		CheckInterval time.Duration `long:"check-interval" env:"CHECK_INTERVAL" default:"30s" description:"conditions re-check interval"`
	} `group:"conditions" namespace:"conditions" env-namespace:"BLASTWEB_CONDITIONS"`

	Cleanup struct {
		Schedule  string        `long:"schedule" env:"SCHEDULE" description:"cron schedule for retention cleanup, empty disables"`
		Retention time.Duration `long:"retention" env:"RETENTION" default:"720h" description:"keep finished tasks for this long"`
	} `group:"cleanup" namespace:"cleanup" env-namespace:"BLASTWEB_CLEANUP"`

	Notify struct {
		EnabledError      bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable notifications on errors"`
		EnabledCompletion bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable completion notifications"`
		Destinations      []string      `long:"destination" env:"DESTINATIONS" env-delim:"," description:"notification destination URLs (mailto:, slack:, telegram:, https://)"`
		Timeout           time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"notification delivery timeout"`
	} `group:"notify" namespace:"notify" env-namespace:"BLASTWEB_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of log files in days"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated log files"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"BLASTWEB_LOG"`

	Dbg bool `long:"dbg" env:"BLASTWEB_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("blastweb %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[ERROR] blastweb failed, %v", err)
		os.Exit(1)
	}
}

// run wires the store, catalog, search client, runner and web server
// together and blocks until ctx is canceled
func run(ctx context.Context) error {
	dataStore, err := store.New(opts.DB)
	if err != nil {
		return fmt.Errorf("can't open store at %s: %w", opts.DB, err)
	}
	defer func() {
		if err := dataStore.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	cat := catalog.Default()
	if opts.Catalog != "" {
		if cat, err = catalog.Load(opts.Catalog); err != nil {
			return fmt.Errorf("can't load catalog %s: %w", opts.Catalog, err)
		}
	}

	client := blast.New(opts.Blast.BaseURL, opts.Blast.Timeout, opts.Blast.PollInterval)
	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
		Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter})

	submissions := make(chan runner.Submission, opts.QueueSize)

	taskRunner := &runner.Runner{
		Store:            dataStore,
		Searcher:         client,
		Submissions:      submissions,
		Concurrency:      opts.Concurrency,
		Repeater:         rptr,
		Notifier:         makeNotifier(),
		Conditions:       makeConditions(),
		ConditionChecker: runner.ConditionCheckerFunc(conditions.Check),
		CleanupSchedule:  opts.Cleanup.Schedule,
		Retention:        opts.Cleanup.Retention,
	}

	srv, err := web.New(web.Config{
		Store:       dataStore,
		Catalog:     cat,
		Submissions: submissions,
		Version:     revision,
		LoginTTL:    opts.LoginTTL,
	})
	if err != nil {
		return fmt.Errorf("can't create web server: %w", err)
	}

	go func() {
		if err := taskRunner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[ERROR] task runner stopped: %v", err)
		}
	}()

	return srv.Run(ctx, opts.Address)
}

// makeNotifier builds the notification service, nil when disabled
func makeNotifier() *notify.Service {
	return notify.NewService(notify.Params{
		Destinations: opts.Notify.Destinations,
		OnError:      opts.Notify.EnabledError,
		OnCompletion: opts.Notify.EnabledCompletion,
		Timeout:      opts.Notify.Timeout,
	})
}

// makeConditions converts flag values to the conditions config, zero values
// leave the corresponding condition disabled
func makeConditions() conditions.Config {
	cfg := conditions.Config{}
	if opts.Conditions.CPUBelow > 0 {
		v := opts.Conditions.CPUBelow
		cfg.CPUBelow = &v
	}
	if opts.Conditions.MemoryBelow > 0 {
		v := opts.Conditions.MemoryBelow
		cfg.MemoryBelow = &v
	}
	if opts.Conditions.LoadAvgBelow > 0 {
		v := opts.Conditions.LoadAvgBelow
		cfg.LoadAvgBelow = &v
	}
	if opts.Conditions.MaxPostpone > 0 {
		v := opts.Conditions.MaxPostpone
		cfg.MaxPostpone = &v
	}
	if cfg.Enabled() {
		v := opts.Conditions.CheckInterval
		cfg.CheckInterval = &v
	}
	return cfg
}

// setupLogs initializes logging and returns the destination writer
func setupLogs() io.Writer {
	logOut := io.Writer(os.Stdout)
	if opts.Log.Enabled && opts.Log.Filename != "" {
		logOut = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(logOut))
		return logOut
	}
	log.Setup(log.Msec, log.Out(logOut))
	return logOut
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM)
}
