// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import "fmt"

// PartitionError signals that the Partitioner's head-seeking protocol
// got stuck because the cursor stopped moving (step size smaller than
// a line). It is fatal to the current run. A primitive that crosses
// its own target (step size too coarse) is reported by boundaryCrossed
// instead, below.
type PartitionError struct {
	Cursor int64
	Reason string
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition: stuck at byte %d: %s; increase jump_size for this input file", e.Cursor, e.Reason)
}

// boundaryCrossed is the internal signal used by seekSubjectAt when
// the alignment discard consumed more bytes than the requested delta;
// callers fall through to a different search phase on this error, it
// is never surfaced to the user.
type boundaryCrossed struct{}

func (boundaryCrossed) Error() string { return "boundary crossed" }

// HTTPError wraps a failure of the Namespace Prefixer's table fetch: a
// transport error, an unparsable page, or a page with no namespace
// table. It is non-fatal: NewPrefixer falls back to the cached file.
// The SameThing client does not produce it; it returns the input IRI
// on failure.
type HTTPError struct {
	URL string
	Err error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http: %s: %v", e.URL, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// TimeoutError reports that a worker exceeded its per-task budget in
// parallel mode. Fatal to the run; the worker is abandoned and its
// partial sidecar files are left in place.
type TimeoutError struct {
	Part    string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: part %s exceeded %s", e.Part, e.Timeout)
}
