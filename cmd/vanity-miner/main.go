package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DistributedClocks/tracing"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/screa/vanity-miner/internal/config"
	"github.com/screa/vanity-miner/internal/crypto"
	logpkg "github.com/screa/vanity-miner/internal/logger"
	"github.com/screa/vanity-miner/internal/progress"
	"github.com/screa/vanity-miner/internal/store"
	minerpkg "github.com/screa/vanity-miner/pkg/miner"
	"github.com/screa/vanity-miner/pkg/types"
)

var (
	cfg    = config.NewConfig()
	logger *logpkg.Logger
)

func main() {
	if err := cfg.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var rootCmd = &cobra.Command{
		Use:   "vanity-miner",
		Short: "Parallel vanity address miner",
		Long: `A command line utility for mining keypairs whose public address
matches a prefix, suffix or substring. Supports solana, bitcoin and ethereum keys.`,
		Run: runMiner,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.Prefix, "prefix", "p", "", "Address prefix to match")
	flags.StringVarP(&cfg.Suffix, "suffix", "s", "", "Address suffix to match")
	flags.StringVarP(&cfg.Contains, "contains", "c", "", "Substring the address must contain")
	flags.BoolVarP(&cfg.CaseSensitive, "case-sensitive", "C", false, "Match case exactly")
	flags.Uint64VarP(&cfg.MaxAttempts, "max-attempts", "m", 0, "Stop after this many keys in total (0: unlimited)")
	flags.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Number of worker goroutines")
	flags.Uint64VarP(&cfg.Count, "count", "n", cfg.Count, "Number of addresses to find")
	flags.StringVar(&cfg.Scheme, "scheme", cfg.Scheme, "Key scheme: solana, bitcoin or ethereum")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "Result store: memory, file or mongo")
	flags.StringVar(&cfg.OutFile, "out", cfg.OutFile, "Output file for the file store")
	flags.StringVar(&cfg.MongoURI, "mongo-uri", cfg.MongoURI, "MongoDB connection string (env MONGODB_URI)")
	flags.StringVar(&cfg.MongoDB, "mongo-db", cfg.MongoDB, "MongoDB database")
	flags.StringVar(&cfg.MongoCollection, "mongo-collection", cfg.MongoCollection, "MongoDB collection")
	flags.StringVar(&cfg.AMQPURL, "amqp-url", cfg.AMQPURL, "Publish found addresses to RabbitMQ (env AMQP_URL)")
	flags.StringVar(&cfg.AMQPQueue, "amqp-queue", cfg.AMQPQueue, "RabbitMQ queue for found addresses")
	flags.StringVar(&cfg.TraceServer, "trace-server", cfg.TraceServer, "Tracing server address")
	flags.StringVar(&cfg.TraceSecret, "trace-secret", cfg.TraceSecret, "Tracing server secret")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Verbose output")
	flags.StringVarP(&cfg.LogFile, "log-file", "l", "", "Log file for progress tracking (default: stdout)")
	flags.IntVarP(&cfg.LogInterval, "log-interval", "i", cfg.LogInterval, "Progress interval in seconds")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMiner(cmd *cobra.Command, args []string) {
	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	setupLogging()
	spec := cfg.SearchSpec()
	logger.Printf("Starting %s vanity miner with %d workers...", cfg.Scheme, cfg.Workers)
	logger.Printf("Target: %s", cfg.GetTargetDescription())

	gen, err := crypto.New(cfg.Scheme, nil)
	if err != nil {
		fail(err)
	}

	meta := store.NewMeta(cfg.Scheme, spec.String())
	sink, closeSink, err := openSink(meta)
	if err != nil {
		fail(err)
	}
	defer closeSink()

	opts := minerpkg.Options{
		Workers:        cfg.Workers,
		Target:         cfg.Count,
		MaxAttempts:    cfg.MaxAttempts,
		ReportInterval: time.Duration(cfg.LogInterval) * time.Second,
		Reporter:       newReporter(),
	}
	if cfg.TraceServer != "" {
		tracer := tracing.NewTracer(tracing.TracerConfig{
			ServerAddress:  cfg.TraceServer,
			TracerIdentity: "vanity-miner-" + meta.RunID,
			Secret:         []byte(cfg.TraceSecret),
		})
		defer tracer.Close()
		opts.Tracer = tracer
	}

	miner := minerpkg.NewMiner(opts, gen, sink, logger)

	// Set up signal handling for Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	type outcome struct {
		result *types.Result
		err    error
	}
	resultChan := make(chan outcome, 1)
	go func() {
		result, err := miner.Mine(context.Background(), spec)
		resultChan <- outcome{result, err}
	}()

	var out outcome
	select {
	case out = <-resultChan:
	case <-sigChan:
		logger.Println("\nReceived interrupt signal (Ctrl+C). Stopping miners...")
		spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = " waiting for workers to finish"
		spin.Start()
		miner.Stop()
		spin.Stop()
		out = <-resultChan
	}

	printResult(out.result)
	switch {
	case out.err == nil:
	case errors.Is(out.err, types.ErrCancelled):
		logger.Println("Mining stopped by user.")
	default:
		logger.Printf("Error: %v", out.err)
		closeSink()
		os.Exit(1)
	}
}

// openSink builds the configured store, wrapped in a notifier when an AMQP
// url is set. The returned close func is safe to call more than once.
func openSink(meta store.Meta) (store.Sink, func(), error) {
	var (
		sink    store.Sink
		closers []func()
	)
	switch cfg.Store {
	case config.StoreMemory:
		sink = store.NewMemory(meta)
	case config.StoreFile:
		f, err := store.OpenFile(cfg.OutFile, meta)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("Saving results to %s", cfg.OutFile)
		closers = append(closers, func() { f.Close() })
		sink = f
	case config.StoreMongo:
		m, err := store.ConnectMongo(context.Background(), cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection, meta)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("Saving results to MongoDB %s.%s", cfg.MongoDB, cfg.MongoCollection)
		closers = append(closers, func() { m.Close(context.Background()) })
		sink = m
	}

	if cfg.AMQPURL != "" {
		conn, ch, err := store.DialQueue(cfg.AMQPURL, cfg.AMQPQueue, store.DefaultMaxRetries, 2*time.Second, logger)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		logger.Printf("Publishing found addresses to queue %s", cfg.AMQPQueue)
		closers = append(closers, func() { ch.Close(); conn.Close() })
		sink = store.NewNotifier(sink, ch, cfg.AMQPQueue, meta, logger)
	}

	closed := false
	return sink, func() {
		if closed {
			return
		}
		closed = true
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

// newReporter draws a progress bar on a terminal and logs lines otherwise
func newReporter() minerpkg.Reporter {
	if cfg.LogFile != "" || cfg.Verbose {
		return progress.NewLog(logger)
	}
	return progress.NewBar(os.Stderr)
}

func printResult(result *types.Result) {
	if result == nil {
		return
	}
	bold := color.New(color.Bold)
	if result.Found == 0 {
		color.Yellow("No match found after %d attempts (%v).", result.Attempts, result.Duration.Round(time.Millisecond))
		return
	}
	color.Green("🎉 Found %d address(es)!", result.Found)
	if kp := result.Keypair; kp != nil {
		bold.Printf("Address: ")
		fmt.Println(kp.Address)
		bold.Printf("Secret:  ")
		fmt.Println(kp.Secret)
	}
	fmt.Printf("Attempts: %d\n", result.Attempts)
	fmt.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Rate: %.2f keys/sec\n", result.Rate())
}

func setupLogging() {
	if cfg.LogFile != "" {
		// Log to file
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		logger = logpkg.NewWriter(file)
		logger.SetFlags(logpkg.LstdFlags | logpkg.Lmicroseconds)
	} else {
		// Log to stdout
		logger = logpkg.New()
		logger.SetFlags(logpkg.LstdFlags)
	}
	logger.SetVerbose(cfg.Verbose)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
