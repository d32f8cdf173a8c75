// Package main implements stratumminer, a Stratum V1 mining client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bardlex/gompminer/internal/client"
	"github.com/bardlex/gompminer/internal/config"
	"github.com/bardlex/gompminer/internal/database"
	"github.com/bardlex/gompminer/internal/database/influx"
	"github.com/bardlex/gompminer/internal/messaging"
	"github.com/bardlex/gompminer/internal/metrics"
	"github.com/bardlex/gompminer/internal/miner"
	"github.com/bardlex/gompminer/internal/reporting"
	"github.com/bardlex/gompminer/internal/status"
	"github.com/bardlex/gompminer/internal/stratum"
	"github.com/bardlex/gompminer/pkg/log"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2

	journalWindow = 24 * time.Hour
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flags holds the command line. Only flags the user set override the
// environment and the config file.
type flags struct {
	set *flag.FlagSet

	url        string
	user       string
	password   string
	threads    int
	configPath string
	logLevel   string
	logFormat  string
	statusAddr string
	help       bool
}

func newFlags(stderr io.Writer) *flags {
	f := &flags{set: flag.NewFlagSet("stratumminer", flag.ContinueOnError)}
	fs := f.set
	fs.SetOutput(stderr)

	fs.StringVar(&f.url, "o", "", "pool URL, e.g. stratum+tcp://pool.example.com:3333")
	fs.StringVar(&f.user, "u", "", "worker user name")
	fs.StringVar(&f.password, "p", "", "worker password")
	fs.IntVar(&f.threads, "t", 0, "mining threads (default: number of CPUs)")
	fs.StringVar(&f.configPath, "config", "", "optional TOML config file")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: json or text")
	fs.StringVar(&f.statusAddr, "status", "", "status HTTP listen address, e.g. 127.0.0.1:8080")
	fs.BoolVar(&f.help, "h", false, "show this help")

	fs.Usage = func() { f.usage(fs.Output()) }
	return f
}

func (f *flags) usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: stratumminer -o stratum+tcp://host:port -u user -p password [-t threads]")
	fmt.Fprintln(w)
	f.set.SetOutput(w)
	f.set.PrintDefaults()
}

// apply copies the flags that were given on the command line onto cfg.
func (f *flags) apply(cfg *config.Config) {
	f.set.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "o":
			cfg.PoolURL = f.url
		case "u":
			cfg.Username = f.user
		case "p":
			cfg.Password = f.password
		case "t":
			cfg.Threads = f.threads
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "log-format":
			cfg.LogFormat = f.logFormat
		case "status":
			cfg.StatusAddr = f.statusAddr
		}
	})
}

// loadConfig layers defaults, the config file, the environment and the
// flags, in that order.
func (f *flags) loadConfig() (*config.Config, error) {
	cfg := config.Defaults()
	if f.configPath != "" {
		if err := cfg.LoadFile(f.configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	f.apply(cfg)

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	f := newFlags(stderr)
	if err := f.set.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if f.help {
		f.usage(stdout)
		return exitOK
	}

	cfg, err := f.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "stratumminer: %v\n\n", err)
		f.usage(stderr)
		return exitUsage
	}

	logger := log.NewWithWriter(stderr, cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mine(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("stratumminer stopped")
		return exitFatal
	}
	return exitOK
}

// mine wires the optional backends, the status server and the session, and
// runs until ctx is cancelled or the session fails.
func mine(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	logger.Info("starting stratumminer",
		"version", cfg.Version,
		"pool", cfg.PoolAddr(),
		"user", cfg.Username,
		"threads", cfg.Threads,
	)

	dbConfig := &database.Config{
		PostgresURL: cfg.PostgresURL,
		RedisURL:    cfg.RedisURL,
		RedisPrefix: cfg.Username,
	}
	if cfg.InfluxURL != "" {
		dbConfig.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	dbManager, err := database.NewManager(ctx, dbConfig, logger)
	if err != nil {
		return err
	}

	sinks := dbManager.Sinks()
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, messaging.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
	}

	// the reporter owns the sinks from here on and closes them
	reporter := reporting.New(reporting.Config{
		OnBreakerChange: metrics.ObserveBreaker,
		OnDrop:          metrics.ReportDropped.Inc,
	}, logger, sinks...)

	var wg sync.WaitGroup
	reportCtx, stopReporting := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(reportCtx)
	}()
	defer func() {
		stopReporting()
		wg.Wait()
		if err := reporter.Close(); err != nil {
			logger.WithError(err).Warn("failed to close reporting sinks")
		}
	}()

	session := client.New(client.Config{
		Host:              cfg.PoolHost,
		Port:              cfg.PoolPort,
		User:              cfg.Username,
		Password:          cfg.Password,
		UserAgent:         cfg.UserAgent,
		DialTimeout:       cfg.DialTimeout,
		DialAttempts:      cfg.DialAttempts,
		KeepaliveInterval: cfg.KeepaliveInterval,
		StatsInterval:     cfg.StatsInterval,
		QueueCapacity:     cfg.QueueCapacity,
		SubmitRate:        cfg.SubmitRate,
		SubmitBurst:       cfg.SubmitBurst,
		MaxTimeSkew:       cfg.MaxTimeSkew,
		Conn: stratum.ConnConfig{
			MaxLineSize:  cfg.MaxLineSize,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		Miner: miner.Config{
			Threads:   cfg.Threads,
			BatchSize: uint32(cfg.BatchSize),
			UseSIMD:   cfg.UseSIMD,
		},
	}, logger, reporter)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.StatusAddr != "" {
		router := status.NewRouter(session, status.Options{
			Health: dbManager.Health,
			Journal: func(ctx context.Context) (map[reporting.ShareStatus]int64, error) {
				return dbManager.JournalCounts(ctx, journalWindow)
			},
		}, logger)

		server, err := status.Listen(cfg.StatusAddr, router, logger)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(sessionCtx); err != nil {
				logger.WithError(err).Error("status server failed")
			}
		}()
	}

	err = session.Run(sessionCtx)
	cancel()
	return err
}
