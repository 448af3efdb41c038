// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

const progressQueueCapacity = 1024

// OrchestratorConfig carries everything the Orchestrator needs besides
// the Partitioner itself.
type OrchestratorConfig struct {
	InputPath   string
	OutputDir   string
	PartsFile   string
	Parallel    bool
	TaskTimeout time.Duration
	Compression Compression
	Prefixer    *Prefixer // nil disables qualification
	SameThing   *SameThingClient
	Metrics     *Metrics // nil disables metrics updates
	S3          S3       // nil disables upload
	S3Bucket    string
	Logger      *log.Logger
}

// Orchestrator drives the Partitioner and a pool of part-processing
// workers, merges their predicate histograms, and writes
// predicate-counts.json.
type Orchestrator struct {
	cfg          OrchestratorConfig
	partitioner  *Partitioner
	partitionCfg PartitionConfig
}

func NewOrchestrator(cfg OrchestratorConfig, partitionCfg PartitionConfig) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		partitioner:  NewPartitioner(partitionCfg, cfg.Logger),
		partitionCfg: partitionCfg,
	}
}

// partResult is what one worker reports back after processing a part.
type partResult struct {
	part            Part
	predicateCounts map[string]int64
}

// Run partitions the input, dispatches every part to a worker (serial
// or pooled depending on cfg.Parallel), and writes the summary file.
func (o *Orchestrator) Run(ctx context.Context) error {
	parts := make(chan Part, 16)
	partitionErrCh := make(chan error, 1)
	go func() {
		partitionErrCh <- o.partitioner.Partition(o.cfg.InputPath, o.cfg.OutputDir, o.cfg.PartsFile, parts)
	}()

	progress := make(chan int64, progressQueueCapacity)
	stopProgress := make(chan struct{})
	progressDone := make(chan struct{})
	go o.consumeProgress(progress, stopProgress, progressDone)

	results, err := o.dispatch(ctx, parts, progress)
	close(stopProgress)
	<-progressDone

	if partitionErr := <-partitionErrCh; partitionErr != nil {
		return partitionErr
	}
	if err != nil {
		return err
	}

	if err := o.writeSummary(results); err != nil {
		return err
	}

	if o.cfg.S3 != nil {
		summaryPath := filepath.Join(o.cfg.OutputDir, "predicate-counts.json")
		if err := UploadFile(ctx, summaryPath, o.cfg.S3, o.cfg.S3Bucket, filepath.Base(summaryPath), "application/json"); err != nil {
			return fmt.Errorf("orchestrator: summary upload: %w", err)
		}
	}

	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, parts <-chan Part, progress chan<- int64) ([]partResult, error) {
	if !o.cfg.Parallel {
		var results []partResult
		for part := range parts {
			r, err := o.runPart(ctx, part, progress, 0)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
		return results, nil
	}

	workers := max(1, runtime.NumCPU()-1)
	resultsCh := make(chan partResult, workers)
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case part, more := <-parts:
					if !more {
						return nil
					}
					r, err := o.runPart(groupCtx, part, progress, o.cfg.TaskTimeout)
					if err != nil {
						return err
					}
					resultsCh <- r
				}
			}
		})
	}

	var results []partResult
	collectDone := make(chan struct{})
	go func() {
		for r := range resultsCh {
			results = append(results, r)
		}
		close(collectDone)
	}()

	err := group.Wait()
	close(resultsCh)
	<-collectDone
	if err != nil {
		return nil, err
	}
	return results, nil
}

// runPart opens the input file, runs the Parser bounded to
// [part.Left, part.Right) into a fresh Sink, and returns the
// predicate histogram. timeout of zero means no deadline (sequential
// mode never times out; only parallel mode does).
func (o *Orchestrator) runPart(ctx context.Context, part Part, progress chan<- int64, timeout time.Duration) (partResult, error) {
	if o.cfg.Logger != nil {
		o.cfg.Logger.Printf("starting %s: bytes [%d, %d)", part.Name, part.Left, part.Right)
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.PartsInFlight.Inc()
		defer o.cfg.Metrics.PartsInFlight.Dec()
	}

	done := make(chan struct{})
	var result partResult
	var runErr error

	go func() {
		defer close(done)
		result, runErr = o.processPart(part, progress)
	}()

	if timeout <= 0 {
		<-done
		return result, runErr
	}

	select {
	case <-done:
		return result, runErr
	case <-time.After(timeout):
		return partResult{}, &TimeoutError{Part: part.Name, Timeout: timeout.String()}
	case <-ctx.Done():
		return partResult{}, ctx.Err()
	}
}

func (o *Orchestrator) processPart(part Part, progress chan<- int64) (partResult, error) {
	f, err := os.Open(o.cfg.InputPath)
	if err != nil {
		return partResult{}, fmt.Errorf("orchestrator: %w", err)
	}
	defer f.Close()

	vertices, edges, err := openSidecarWriters(part.Name, o.cfg.Compression, os.Stderr)
	if err != nil {
		return partResult{}, err
	}

	sink := NewPropertyGraphSink(SinkConfig{
		GlobalIDMarker: o.partitionCfg.GlobalIDMarker,
		PartName:       part.Name,
		Prefixer:       o.cfg.Prefixer,
		SameThing:      o.cfg.SameThing,
		VerticesWriter: vertices,
		EdgesWriter:    edges,
		ErrOut:         os.Stderr,
	})
	counting := &countingSink{inner: sink, metrics: o.cfg.Metrics}

	parser := &Parser{}
	onProgress := func(delta int64) {
		select {
		case progress <- delta:
		default:
			// The bounded queue only drives an optional progress
			// indicator; dropping a delta here never affects
			// correctness, only how far the bar appears to move.
		}
	}

	if err := parser.Parse(f, part.Left, part.Right, counting, os.Stderr, onProgress); err != nil {
		sink.Abort(err)
		return partResult{}, fmt.Errorf("orchestrator: part %s: %w", part.Name, err)
	}

	if err := sink.Close(); err != nil {
		return partResult{}, fmt.Errorf("orchestrator: part %s: %w", part.Name, err)
	}

	if o.cfg.S3 != nil {
		if err := o.uploadPart(part); err != nil {
			return partResult{}, err
		}
	}

	if o.cfg.Logger != nil {
		o.cfg.Logger.Printf("finished %s: %d triples", part.Name, sumPredicateCounts(sink.PredicateCounts()))
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.PartsCompleted.Inc()
	}

	return partResult{part: part, predicateCounts: sink.PredicateCounts()}, nil
}

// uploadPart ships both of a finished part's sidecar files to object
// storage, under their basename, preserving whatever compression
// extension openSidecarWriters applied.
func (o *Orchestrator) uploadPart(part Part) error {
	ctx := context.Background()
	ext := o.cfg.Compression.Extension()
	for _, suffix := range []string{"_vertices.jsonl", "_edges.jsonl"} {
		path := part.Name + suffix + ext
		dest := filepath.Base(path)
		if err := UploadFile(ctx, path, o.cfg.S3, o.cfg.S3Bucket, dest, "application/jsonl"); err != nil {
			return fmt.Errorf("orchestrator: part %s: %w", part.Name, err)
		}
	}
	return nil
}

// countingSink wraps a TripleSink to (optionally) drive the
// triples-processed metric for every triple the parser dispatches,
// independent of how often the Parser's byte-progress callback fires.
type countingSink struct {
	inner   TripleSink
	metrics *Metrics
}

func (c *countingSink) Triple(subject, predicate string, object Term) {
	if c.metrics != nil {
		c.metrics.TriplesProcessed.Inc()
	}
	c.inner.Triple(subject, predicate, object)
}

// sumPredicateCounts totals a part's in-scope (post-filter) triple
// count, matching the original's transform_part logging
// (triple_count = sum(sink.predicate_count.values())).
func sumPredicateCounts(counts map[string]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}

// consumeProgress is the single consumer for the bounded progress
// queue. It discards every delta, since progress-bar rendering is out
// of scope; the Prometheus counters are updated by countingSink and
// processPart, not from this queue. It returns once stop is closed.
// The queue itself is never closed, so a worker abandoned after a task
// timeout can still send to it without panicking.
func (o *Orchestrator) consumeProgress(progress <-chan int64, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-progress:
		case <-stop:
			return
		}
	}
}

// writeSummary writes predicate-counts.json: part_name -> {predicate
// -> count}, pretty-printed with a 4-space indent.
func (o *Orchestrator) writeSummary(results []partResult) error {
	summary := make(map[string]map[string]int64, len(results))
	for _, r := range results {
		summary[r.part.Name] = r.predicateCounts
	}

	data, err := json.MarshalIndent(summary, "", "    ")
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	path := filepath.Join(o.cfg.OutputDir, "predicate-counts.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if o.cfg.Logger != nil {
		o.cfg.Logger.Printf("wrote %s", path)
	}
	return nil
}
