// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// newRunID tags one invocation's log lines so that concurrent runs
// sharing a log file (or a metrics endpoint) can be told apart.
func newRunID() string {
	return uuid.New().String()
}

// logProgress renders a human-friendly progress line: bytes processed
// so far, the fraction of the file that covers, and elapsed time.
func logProgress(logger *log.Logger, runID string, bytesDone, bytesTotal int64, started time.Time) {
	pct := 0.0
	if bytesTotal > 0 {
		pct = 100 * float64(bytesDone) / float64(bytesTotal)
	}
	logger.Printf("[%s] %s / %s (%.1f%%), elapsed %s",
		runID,
		humanize.Bytes(uint64(bytesDone)),
		humanize.Bytes(uint64(bytesTotal)),
		pct,
		time.Since(started).Round(time.Second))
}

// parseSize parses a size expressed either as a plain integer or in
// scientific notation ("500e6"), matching the original CLI's
// `cast_int` helper for flags like --target-size and --jump-size.
func parseSize(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(f), nil
}
