// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var logger *log.Logger

func main() {
	os.Exit(run())
}

func run() int {
	inputPath, outputDir, cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return 1
	}

	if _, err := os.Stat(inputPath); err != nil {
		fmt.Fprintf(os.Stderr, "graph-preloader: input file not found: %s\n", inputPath)
		return 1
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "graph-preloader: %v\n", err)
		return 1
	}

	logPath := filepath.Join(outputDir, "graph-preloader.log")
	logfile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graph-preloader: %v\n", err)
		return 1
	}
	defer logfile.Close()
	logger = log.New(logfile, "", log.Ldate|log.Ltime|log.LUTC|log.Lshortfile)

	runID := newRunID()
	logger.Printf("[%s] graph-preloader starting up: input=%s output=%s", runID, inputPath, outputDir)

	var prefixer *Prefixer
	if cfg.shortenURIs {
		prefixer, err = NewPrefixer(defaultHTTPClient(), cfg.namespaceCache, logger)
		if err != nil {
			logger.Printf("[%s] prefixer setup failed: %v", runID, err)
			fmt.Fprintf(os.Stderr, "graph-preloader: %v\n", err)
			return 1
		}
	}

	var metrics *Metrics
	if cfg.metricsAddr != "" {
		var reg *prometheus.Registry
		metrics, reg = NewMetrics()
		ServeMetrics(cfg.metricsAddr, reg, logger)
		logger.Printf("[%s] serving metrics on %s", runID, cfg.metricsAddr)
	}

	var sameThing *SameThingClient
	if cfg.sameThingURL != "" {
		sameThing, err = NewSameThingClient(cfg.sameThingURL, cfg.sameThingCacheSize, nil, logger, metrics)
		if err != nil {
			logger.Printf("[%s] samething client setup failed: %v", runID, err)
			fmt.Fprintf(os.Stderr, "graph-preloader: %v\n", err)
			return 1
		}
	}

	var storage S3
	if cfg.s3Bucket != "" {
		client, err := NewStorageClient(cfg.s3KeyFile)
		if err != nil {
			logger.Printf("[%s] S3 setup failed: %v", runID, err)
			fmt.Fprintf(os.Stderr, "graph-preloader: %v\n", err)
			return 1
		}
		storage = client
	}

	orchestrator := NewOrchestrator(OrchestratorConfig{
		InputPath:   inputPath,
		OutputDir:   outputDir,
		PartsFile:   cfg.partsFile,
		Parallel:    cfg.parallel,
		TaskTimeout: cfg.taskTimeout,
		Compression: cfg.compression,
		Prefixer:    prefixer,
		SameThing:   sameThing,
		Metrics:     metrics,
		S3:          storage,
		S3Bucket:    cfg.s3Bucket,
		Logger:      logger,
	}, cfg.partitionCfg)

	if err := orchestrator.Run(context.Background()); err != nil {
		logger.Printf("[%s] run failed: %v", runID, err)
		fmt.Fprintf(os.Stderr, "graph-preloader: %v\n", err)
		return 1
	}

	summaryPath := filepath.Join(outputDir, "predicate-counts.json")
	fmt.Println(summaryPath)
	logger.Printf("[%s] graph-preloader exiting", runID)
	return 0
}

type cliConfig struct {
	parallel           bool
	shortenURIs        bool
	partsFile          string
	taskTimeout        time.Duration
	compression        Compression
	metricsAddr        string
	sameThingURL       string
	sameThingCacheSize int
	namespaceCache     string
	s3Bucket           string
	s3KeyFile          string
	partitionCfg       PartitionConfig
}

// parseFlags defines every flag spec.md's CLI table lists, plus the
// domain-stack extensions (compression, metrics, S3, identity
// resolution). Each flag's built-in default can be overridden by an
// environment variable in its upper-snake-case form; an explicit
// command-line flag always wins over both.
func parseFlags(args []string) (inputPath, outputDir string, cfg cliConfig, err error) {
	fs := flag.NewFlagSet("graph-preloader", flag.ContinueOnError)

	parallel := fs.Bool("parallel", envOrDefaultBool("PARALLEL", false), "process parts using a worker pool instead of sequentially")
	shortenURIs := fs.Bool("shorten-uris", envOrDefaultBool("SHORTEN_URIS", false), "qualify IRIs to prefix:local qnames in sink output")
	targetSize := fs.String("target-size", envOrDefault("TARGET_SIZE", "500e6"), "approximate byte size of each part")
	globalIDMarker := fs.String("global-id-marker", envOrDefault("GLOBAL_ID_MARKER", "global.dbpedia.org/id/"), "substring identifying in-scope subject IRIs")
	idMarkerPrefix := fs.String("id-marker-prefix", envOrDefault("ID_MARKER_PREFIX", "<https://"), "bytes preceding global_id_marker in a full subject match")
	partsFile := fs.String("parts-file", envOrDefault("PARTS_FILE", ""), "path to the TSV manifest (default <output_dir>/parts.tsv)")
	taskTimeout := fs.Int("task-timeout", envOrDefaultInt("TASK_TIMEOUT", 600), "per-part timeout in seconds, parallel mode only")
	searchType := fs.String("search-type", envOrDefault("SEARCH_TYPE", "binary"), "head-seeking strategy: binary or jump")
	binSearchLimit := fs.Int("bin-search-limit", envOrDefaultInt("BIN_SEARCH_LIMIT", 120), "max iterations of the binary search head-seek")
	jumpSize := fs.String("jump-size", envOrDefault("JUMP_SIZE", "350e6"), "stride used by the jump-backpedal-step head-seek")
	backpedalSize := fs.String("backpedal-size", envOrDefault("BACKPEDAL_SIZE", ""), "backpedal stride (default jump_size/10)")

	compress := fs.String("compress", envOrDefault("COMPRESS", "none"), "sidecar compression: none, gzip, zstd, brotli, xz")
	metricsAddr := fs.String("metrics-addr", envOrDefault("METRICS_ADDR", ""), "if set, serve Prometheus metrics on this address")
	sameThingURL := fs.String("samething-url", envOrDefault("SAMETHING_URL", ""), "if set, resolve edge endpoints against this identity service")
	sameThingCacheSize := fs.Int("samething-cache-size", envOrDefaultInt("SAMETHING_CACHE_SIZE", defaultSameThingCacheSize), "identity-resolution LRU cache size")
	namespaceCache := fs.String("namespace-cache", envOrDefault("NAMESPACE_CACHE", "namespaces.json"), "cache file for the namespace prefixer table")
	s3Bucket := fs.String("s3-bucket", envOrDefault("S3_BUCKET", ""), "if set, upload each part's sidecar files to this bucket")
	s3KeyFile := fs.String("s3-keyfile", envOrDefault("S3_KEYFILE", ""), "path to a JSON file with S3 endpoint/key/secret")

	if err := fs.Parse(args); err != nil {
		return "", "", cliConfig{}, err
	}

	positional := fs.Args()
	if len(positional) < 1 {
		return "", "", cliConfig{}, fmt.Errorf("usage: graph-preloader [flags] input_path [output_dir]")
	}
	inputPath = positional[0]
	outputDir = envOrDefault("OUTPUT_DIR", "")
	if len(positional) >= 2 {
		outputDir = positional[1]
	}
	if outputDir == "" {
		outputDir = "graph-preloader-" + time.Now().UTC().Format("20060102T150405Z")
	}

	targetSizeBytes, err := parseSize(*targetSize)
	if err != nil {
		return "", "", cliConfig{}, err
	}
	jumpSizeBytes, err := parseSize(*jumpSize)
	if err != nil {
		return "", "", cliConfig{}, err
	}
	var backpedalSizeBytes int64
	if *backpedalSize == "" {
		backpedalSizeBytes = jumpSizeBytes / 10
	} else {
		backpedalSizeBytes, err = parseSize(*backpedalSize)
		if err != nil {
			return "", "", cliConfig{}, err
		}
	}

	st, err := ParseSearchType(*searchType)
	if err != nil {
		return "", "", cliConfig{}, err
	}

	compression, err := ParseCompression(*compress)
	if err != nil {
		return "", "", cliConfig{}, err
	}

	resolvedPartsFile := *partsFile
	if resolvedPartsFile == "" {
		resolvedPartsFile = filepath.Join(outputDir, "parts.tsv")
	}

	cfg = cliConfig{
		parallel:           *parallel,
		shortenURIs:        *shortenURIs,
		partsFile:          resolvedPartsFile,
		taskTimeout:        time.Duration(*taskTimeout) * time.Second,
		compression:        compression,
		metricsAddr:        *metricsAddr,
		sameThingURL:       *sameThingURL,
		sameThingCacheSize: *sameThingCacheSize,
		namespaceCache:     *namespaceCache,
		s3Bucket:           *s3Bucket,
		s3KeyFile:          *s3KeyFile,
		partitionCfg: PartitionConfig{
			TargetSize:     targetSizeBytes,
			GlobalIDMarker: *globalIDMarker,
			IDMarkerPrefix: []byte(*idMarkerPrefix),
			SearchType:     st,
			JumpSize:       jumpSizeBytes,
			BackpedalSize:  backpedalSizeBytes,
			BinSearchLimit: *binSearchLimit,
		},
	}
	return inputPath, outputDir, cfg, nil
}

func envOrDefault(env, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(env string, def bool) bool {
	v := os.Getenv(env)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultInt(env string, def int) int {
	v := os.Getenv(env)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
