// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import "bytes"

// nopWriteCloser adapts a bytes.Buffer (or any io.Writer) to
// io.WriteCloser for tests that need a Sink's VerticesWriter/
// EdgesWriter but don't care about an on-disk file.
type nopWriteCloser struct {
	*bytes.Buffer
}

func (nopWriteCloser) Close() error { return nil }

func newBufferSink(globalIDMarker string, prefixer *Prefixer, sameThing *SameThingClient) (*PropertyGraphSink, *bytes.Buffer, *bytes.Buffer) {
	var vertices, edges bytes.Buffer
	sink := NewPropertyGraphSink(SinkConfig{
		GlobalIDMarker: globalIDMarker,
		PartName:       "test-part",
		Prefixer:       prefixer,
		SameThing:      sameThing,
		VerticesWriter: nopWriteCloser{&vertices},
		EdgesWriter:    nopWriteCloser{&edges},
	})
	return sink, &vertices, &edges
}
