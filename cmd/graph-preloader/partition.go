// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// SearchType selects the head-seeking strategy used to locate the
// first in-scope subject.
type SearchType int

const (
	BinarySearchType SearchType = iota
	JumpSearchType
)

func ParseSearchType(s string) (SearchType, error) {
	switch s {
	case "binary", "":
		return BinarySearchType, nil
	case "jump":
		return JumpSearchType, nil
	default:
		return 0, fmt.Errorf("unknown search type %q", s)
	}
}

// PartitionConfig carries the knobs for the Partitioner's
// head-seeking and body protocols.
type PartitionConfig struct {
	TargetSize     int64
	GlobalIDMarker string
	IDMarkerPrefix []byte
	SearchType     SearchType
	JumpSize       int64
	BackpedalSize  int64
	BinSearchLimit int
}

// Part is one subject-aligned byte range assigned to a worker.
type Part struct {
	Name  string
	Left  int64
	Right int64
}

// Partitioner locates the first global-identity subject in a sorted
// N-Triples file and cuts the remainder into subject-aligned byte
// ranges of approximately TargetSize bytes.
type Partitioner struct {
	cfg    PartitionConfig
	logger *log.Logger
}

func NewPartitioner(cfg PartitionConfig, logger *log.Logger) *Partitioner {
	return &Partitioner{cfg: cfg, logger: logger}
}

func (p *Partitioner) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Partition drives the whole head-seek + body protocol, writes the
// TSV manifest at partsFile, and sends each emitted Part on parts.
// parts is closed, whether or not an error occurs, once Partition
// returns.
func (p *Partitioner) Partition(inputPath, outputDir, partsFile string, parts chan<- Part) error {
	defer close(parts)

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	fileEnd := stat.Size()

	p.logf("looking for the first line with a global URI as subject")
	chunkEnd, err := p.headSeek(f, fileEnd)
	if err != nil {
		return err
	}

	manifestFile, err := os.Create(partsFile)
	if err != nil {
		return fmt.Errorf("partition: manifest: %w", err)
	}
	defer manifestFile.Close()
	w := csv.NewWriter(manifestFile)
	w.Comma = '\t'

	partNum := 0
	for chunkEnd < fileEnd {
		partNum++
		chunkStart := chunkEnd

		next, err := p.nextChunkEnd(f, chunkStart, fileEnd)
		if err != nil {
			return err
		}
		chunkEnd = next

		partName := filepath.Join(outputDir, fmt.Sprintf("part-%03d", partNum))
		if err := w.Write([]string{partName, fmt.Sprintf("%d", chunkStart), fmt.Sprintf("%d", chunkEnd)}); err != nil {
			return fmt.Errorf("partition: manifest: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("partition: manifest: %w", err)
		}

		parts <- Part{Name: partName, Left: chunkStart, Right: chunkEnd}
	}

	return nil
}

// nextChunkEnd finds the end of a chunk: given the start of a chunk,
// it locates the run of lines sharing the subject nearest to
// chunkStart+TargetSize and returns the offset just past that run, so
// a chunk boundary never falls inside a subject's triples.
func (p *Partitioner) nextChunkEnd(f io.ReaderAt, chunkStart, fileEnd int64) (int64, error) {
	_, afterDiscard, err := readLineAt(f, chunkStart+p.cfg.TargetSize)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("partition: %w", err)
	}

	finalLine, afterFinalLine, err := readLineAt(f, afterDiscard)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("partition: %w", err)
	}
	if len(finalLine) == 0 {
		return fileEnd, nil
	}
	finalSubject := subjectOfLine(finalLine)

	bookmark := afterFinalLine
	for {
		line, afterLine, err := readLineAt(f, bookmark)
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("partition: %w", err)
		}
		if len(line) == 0 {
			break
		}
		subj := subjectOfLine(line)
		if subj == nil || finalSubject == nil || !bytes.Equal(subj, finalSubject) {
			break
		}
		bookmark = afterLine
	}
	return bookmark, nil
}

func (p *Partitioner) headSeek(f io.ReaderAt, fileEnd int64) (int64, error) {
	switch p.cfg.SearchType {
	case JumpSearchType:
		return p.jumpBackpedalAndStep(f, fileEnd)
	default:
		return p.binarySearch(f, fileEnd)
	}
}

// binarySearch narrows [left, right] until bin_search_limit
// iterations are spent or a boundaryCrossed falls through to a linear
// step from left. Equal compares go to the right branch so the search
// converges on the first occurrence.
func (p *Partitioner) binarySearch(f io.ReaderAt, fileEnd int64) (int64, error) {
	left, right := int64(0), fileEnd
	var cursor int64
	target := append(append([]byte{}, p.cfg.IDMarkerPrefix...), []byte(p.cfg.GlobalIDMarker)...)

	for attempt := 0; attempt < p.cfg.BinSearchLimit; attempt++ {
		c, subj, err := seekSubjectAt(f, left, (right-left)/2)
		if err != nil {
			if _, ok := err.(boundaryCrossed); ok {
				return p.stepToMarkedLine(f, left, fileEnd)
			}
			return 0, err
		}
		cursor = c
		if bytes.Compare(subj, target) < 0 {
			left = cursor
		} else {
			right = cursor
		}
	}
	return cursor, nil
}

// jumpBackpedalAndStep walks forward in fixed JumpSize strides until
// it passes the first marked subject, then backpedals in smaller
// BackpedalSize strides until it's short of it again, and finally
// steps line by line to land exactly on it.
func (p *Partitioner) jumpBackpedalAndStep(f io.ReaderAt, fileEnd int64) (int64, error) {
	marker := []byte(p.cfg.GlobalIDMarker)
	var subj []byte
	cursor, previousJumpPos := int64(0), int64(0)
	stuck := false

	for !bytes.Contains(subj, marker) && cursor < fileEnd {
		previousJumpPos = cursor
		c, s, err := seekSubjectAt(f, cursor, p.cfg.JumpSize)
		if err != nil {
			if _, ok := err.(boundaryCrossed); ok {
				stuck = true
				break
			}
			return 0, err
		}
		cursor, subj = c, s
	}

	if !stuck {
		for bytes.Contains(subj, marker) && cursor > 0 {
			c, s, err := seekSubjectAt(f, cursor, -p.cfg.BackpedalSize)
			if err != nil {
				if _, ok := err.(boundaryCrossed); ok {
					stuck = true
					break
				}
				return 0, err
			}
			cursor, subj = c, s
		}
	}

	if stuck {
		cursor = previousJumpPos
	}

	if cursor > 0 && cursor < fileEnd {
		return p.stepToMarkedLine(f, cursor, fileEnd)
	}

	p.logf("WARN: did not find first global URI, starting from offset 0")
	return 0, nil
}

// stepToMarkedLine reads one line at a time from cursor until a line
// whose subject contains the marker is found or upperLimit is
// reached.
func (p *Partitioner) stepToMarkedLine(f io.ReaderAt, cursor, upperLimit int64) (int64, error) {
	marker := []byte(p.cfg.GlobalIDMarker)
	var subj []byte
	pos := cursor

	for !bytes.Contains(subj, marker) && pos < upperLimit {
		cursor = pos
		line, after, err := readLineAt(f, pos)
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("partition: %w", err)
		}
		if len(line) == 0 {
			break
		}
		subj = subjectOfLine(line)
		pos = after
	}

	if !bytes.Contains(subj, marker) {
		p.logf("WARN: did not find first global URI, starting from offset 0")
		return 0, nil
	}
	return cursor, nil
}

// seekSubjectAt is the common primitive behind both head-seeking
// strategies: seek to cursor+delta, consume one partial line
// (alignment discard), then read the next full line's subject.
func seekSubjectAt(f io.ReaderAt, cursor, delta int64) (newCursor int64, subject []byte, err error) {
	target := cursor + delta
	if target < 0 {
		target = 0
	}
	discard, afterDiscard, rerr := readLineAt(f, target)
	if rerr != nil && rerr != io.EOF {
		return 0, nil, fmt.Errorf("partition: %w", rerr)
	}

	absDelta := delta
	if absDelta < 0 {
		absDelta = -absDelta
	}
	if int64(len(discard)) >= absDelta {
		return 0, nil, boundaryCrossed{}
	}

	newCursor = afterDiscard
	if newCursor == cursor {
		return 0, nil, &PartitionError{Cursor: cursor, Reason: "cursor did not advance"}
	}

	line, _, rerr := readLineAt(f, newCursor)
	if rerr != nil && rerr != io.EOF {
		return 0, nil, fmt.Errorf("partition: %w", rerr)
	}
	return newCursor, subjectOfLine(line), nil
}

// readLineAt reads one LF-terminated line starting at offset from a
// random-access reader, returning the line (including its trailing
// '\n' when present) and the offset one past its end. It returns
// io.EOF alongside a non-empty final line when the file doesn't end
// in a newline, and alongside a nil line when offset is already at or
// past EOF.
func readLineAt(r io.ReaderAt, offset int64) (line []byte, end int64, err error) {
	const chunkSize = 4096
	var buf bytes.Buffer
	pos := offset
	tmp := make([]byte, chunkSize)

	for {
		n, rerr := r.ReadAt(tmp, pos)
		if n > 0 {
			if idx := bytes.IndexByte(tmp[:n], '\n'); idx >= 0 {
				buf.Write(tmp[:idx+1])
				return buf.Bytes(), pos + int64(idx+1), nil
			}
			buf.Write(tmp[:n])
			pos += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				if buf.Len() == 0 {
					return nil, pos, io.EOF
				}
				return buf.Bytes(), pos, io.EOF
			}
			return nil, 0, rerr
		}
		if n == 0 {
			return nil, 0, io.ErrNoProgress
		}
	}
}
