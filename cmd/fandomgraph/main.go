// Command fandomgraph maps what a social media audience over-indexes on.
//
// Usage:
//
//	fandomgraph submit "@nasa"                  # enqueue a job
//	fandomgraph worker                          # process queued jobs until interrupted
//	fandomgraph run "@oatly vs @alpro"          # process a query inline, print the graph
//	fandomgraph status <job-id>                 # print a stored job
//	fandomgraph jobs [queued|processing|...]    # list jobs
//	fandomgraph fingerprint <actor> '<json>'    # print the fingerprint of a scrape request
//	fandomgraph purge                           # delete expired fingerprints
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/fandomgraph/pkg/aiclient"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/apify"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/biolink"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/config"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/fingerprint"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/gaps"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/httpcache"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/orchestrator"
	"github.com/codeGROOVE-dev/fandomgraph/pkg/store"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	verbose := flag.Bool("v", false, "verbose logging (same as -debug)")
	configPath := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before reading FANDOM_* variables")
	intent := flag.String("intent", "", "override intent detection (general, comparison, sentiment, hashtag, competitor, influencer)")
	sample := flag.Int("sample", 0, "followers/posts sampled per subject (default from config)")
	noCache := flag.Bool("no-cache", false, "disable the HTTP response cache")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *debug || *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := config.LoadDotEnv(*envFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "fingerprint" {
		if err := printFingerprint(args); err != nil {
			fatal(err)
		}
		return
	}

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	metadata := map[string]any{}
	if *intent != "" {
		metadata["intent"] = *intent
	}
	if *sample > 0 {
		metadata["sampleSize"] = *sample
	}

	switch cmd {
	case "submit":
		if len(args) != 1 {
			usage()
			os.Exit(1) //nolint:gocritic // exitAfterDefer is acceptable in main
		}
		job, err := st.CreateJob(ctx, args[0], metadata)
		if err != nil {
			fatal(err)
		}
		outputOrDie(job)
	case "status":
		if len(args) != 1 {
			usage()
			os.Exit(1)
		}
		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			fatal(err)
		}
		outputOrDie(job)
	case "jobs":
		status := store.StatusQueued
		if len(args) > 0 {
			status = store.Status(args[0])
		}
		jobs, err := st.ListJobs(ctx, status, 100)
		if err != nil {
			fatal(err)
		}
		outputOrDie(jobs)
	case "purge":
		n, err := st.PurgeExpiredFingerprints(ctx, time.Now())
		if err != nil {
			fatal(err)
		}
		logger.Info("expired fingerprints purged", "count", n)
	case "worker":
		svc := newService(cfg, st, logger, *noCache)
		if err := orchestrator.NewWorker(svc, cfg.PollInterval).Run(ctx); err != nil {
			fatal(err)
		}
	case "run":
		if len(args) != 1 {
			usage()
			os.Exit(1)
		}
		svc := newService(cfg, st, logger, *noCache)
		res, err := svc.Run(ctx, "", args[0], metadata)
		if err != nil {
			fatal(err)
		}
		outputOrDie(res)
	default:
		usage()
		os.Exit(1)
	}
}

// newService wires the orchestrator from cfg.
func newService(cfg *config.Config, st *store.Store, logger *slog.Logger, noCache bool) *orchestrator.Service {
	cache := httpcache.NewNull()
	if !noCache {
		c, err := httpcache.New(cfg.CacheDir, cfg.CacheTTL)
		if err != nil {
			logger.Warn("failed to initialize cache, continuing without cache", "error", err)
		} else {
			cache = c
			logger.Debug("HTTP cache initialized", "dir", cfg.CacheDir, "ttl", cfg.CacheTTL.String())
		}
	}
	hc := httpcache.NewClient(
		httpcache.WithCache(cache),
		httpcache.WithPolicy(cfg.Policy()),
		httpcache.WithLogger(logger))

	detectorOpts := []gaps.Option{
		gaps.WithMinBioLength(cfg.MinBioLength),
		gaps.WithBioLinkHosts(cfg.BioLinkHosts),
		gaps.WithLogger(logger),
	}
	if cfg.ResolveBioLinks {
		detectorOpts = append(detectorOpts, gaps.WithResolver(
			biolink.New(hc, biolink.WithHosts(cfg.BioLinkHosts), biolink.WithLogger(logger))))
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithGapDetector(gaps.New(detectorOpts...)),
	}
	if cfg.AIEndpoint != "" {
		ai := aiclient.New(cfg.AIEndpoint, cfg.AIKey, cfg.AIModel,
			aiclient.WithHTTPClient(hc), aiclient.WithCache(cache), aiclient.WithLogger(logger))
		opts = append(opts, orchestrator.WithTopicExtractor(ai))
	}

	var scraper orchestrator.Scraper
	if cfg.ApifyToken != "" {
		scraper = apify.New(cfg.ApifyToken,
			apify.WithBaseURL(cfg.ApifyBaseURL),
			apify.WithHTTPClient(hc),
			apify.WithRunTimeout(cfg.ActorTimeout),
			apify.WithLogger(logger))
	} else {
		logger.Warn("FANDOM_APIFY_TOKEN not set; only cached scrapes can be used")
	}
	return orchestrator.New(st, scraper, cfg, opts...)
}

func printFingerprint(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: fandomgraph fingerprint <actor> '<json payload>'")
	}
	var payload any
	if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	fp, err := fingerprint.Compute(args[0], payload)
	if err != nil {
		return err
	}
	fmt.Println(fp)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: fandomgraph [options] <command> [args]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  submit <query>            enqueue a job")
	fmt.Fprintln(os.Stderr, "  worker                    process queued jobs until interrupted")
	fmt.Fprintln(os.Stderr, "  run <query>               process a query inline and print the result")
	fmt.Fprintln(os.Stderr, "  status <job-id>           print a stored job")
	fmt.Fprintln(os.Stderr, "  jobs [status]             list jobs (default: queued)")
	fmt.Fprintln(os.Stderr, "  fingerprint <actor> <json> print the fingerprint of a scrape request")
	fmt.Fprintln(os.Stderr, "  purge                     delete expired fingerprints")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func outputOrDie(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Output error: %v\n", err)
		os.Exit(1)
	}
}
