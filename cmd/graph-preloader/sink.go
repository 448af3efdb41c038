// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	owlSameAs             = "http://www.w3.org/2002/07/owl#sameAs"
	rdfType               = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	dboWikiPageExternalLink = "http://dbpedia.org/ontology/wikiPageExternalLink"
	dbpediaDatatypeNS       = "dbpedia.org/datatype"
)

func isMultivaluedURIPredicate(pred string) bool {
	switch pred {
	case owlSameAs, rdfType, dboWikiPageExternalLink:
		return true
	}
	return false
}

// vvKind tags the shape a VertexValue currently holds, so merges are
// driven by an explicit tag instead of runtime type inspection.
type vvKind int

const (
	vvEmpty vvKind = iota
	vvScalar
	vvPlain
	vvTagged
)

// TaggedValue is one {value, language} record for a language-tagged
// literal.
type TaggedValue struct {
	Value    interface{} `json:"value"`
	Language interface{} `json:"language"`
}

// VertexValue is a mapping from qualified predicate name to one of:
// a scalar, a list of scalars, or a list of {value, language}
// records. A single promotion method per transition (appendMultivalued,
// appendTagged, setPlainOrTyped) handles every shape change instead of
// branching on runtime type.
type VertexValue struct {
	kind   vvKind
	scalar interface{}
	plain  []interface{}
	tagged []TaggedValue
}

// appendMultivalued implements classification rule 1: a multivalued
// URI predicate simply grows a list of scalars.
func (v *VertexValue) appendMultivalued(scalar interface{}) {
	switch v.kind {
	case vvEmpty:
		v.kind = vvPlain
		v.plain = []interface{}{scalar}
	case vvScalar:
		v.kind = vvPlain
		v.plain = []interface{}{v.scalar, scalar}
	case vvPlain:
		v.plain = append(v.plain, scalar)
	case vvTagged:
		v.tagged = append(v.tagged, TaggedValue{Value: scalar, Language: nil})
	}
}

// appendTagged implements the language-tagged half of classification
// rule 3.
func (v *VertexValue) appendTagged(value interface{}, language string) {
	tv := TaggedValue{Value: value, Language: language}
	switch v.kind {
	case vvEmpty:
		v.kind = vvTagged
		v.tagged = []TaggedValue{tv}
	case vvScalar:
		v.kind = vvTagged
		v.tagged = []TaggedValue{{Value: v.scalar, Language: nil}, tv}
	case vvPlain:
		merged := make([]TaggedValue, 0, len(v.plain)+1)
		for _, p := range v.plain {
			merged = append(merged, TaggedValue{Value: p, Language: nil})
		}
		v.plain = nil
		v.kind = vvTagged
		v.tagged = append(merged, tv)
	case vvTagged:
		v.tagged = append(v.tagged, tv)
	}
}

// setPlainOrTyped implements the plain/typed (no-language) half of
// classification rule 3.
func (v *VertexValue) setPlainOrTyped(native interface{}) {
	switch v.kind {
	case vvEmpty:
		v.kind = vvScalar
		v.scalar = native
	case vvTagged:
		v.tagged = append(v.tagged, TaggedValue{Value: native, Language: nil})
	case vvPlain:
		v.plain = append(v.plain, native)
	case vvScalar:
		v.kind = vvPlain
		v.plain = []interface{}{v.scalar, native}
	}
}

// toJSON returns the value in the shape it should serialize as.
func (v *VertexValue) toJSON() interface{} {
	switch v.kind {
	case vvScalar:
		return v.scalar
	case vvPlain:
		return v.plain
	case vvTagged:
		return v.tagged
	default:
		return nil
	}
}

// vertexBuffer accumulates one subject's attributes between flushes.
type vertexBuffer struct {
	id        string
	clusterID string
	fields    map[string]*VertexValue
}

func newVertexBuffer() vertexBuffer {
	return vertexBuffer{fields: make(map[string]*VertexValue)}
}

func (b *vertexBuffer) valueFor(pred string) *VertexValue {
	v, ok := b.fields[pred]
	if !ok {
		v = &VertexValue{}
		b.fields[pred] = v
	}
	return v
}

func (b *vertexBuffer) reset() {
	b.id = ""
	b.clusterID = ""
	b.fields = make(map[string]*VertexValue)
}

// Edge is one outv/label/inv record.
type Edge struct {
	OutV  string `json:"outv"`
	Label string `json:"label"`
	InV   string `json:"inv"`
}

// SinkConfig configures one PropertyGraphSink instance.
type SinkConfig struct {
	GlobalIDMarker string
	PartName       string
	Prefixer       *Prefixer // nil disables qualification
	SameThing      *SameThingClient
	VerticesWriter io.WriteCloser
	EdgesWriter    io.WriteCloser
	ErrOut         io.Writer
}

// PropertyGraphSink buffers one subject's vertex attributes and
// outgoing edges, applies the classification and aggregation rules
// below, and flushes JSONL rows to its two sidecar writers on every
// subject transition.
type PropertyGraphSink struct {
	cfg            SinkConfig
	predicateCount map[string]int64
	vertex         vertexBuffer
	edges          []Edge
	lastSubject    string
	started        bool
}

// NewPropertyGraphSink constructs a sink. Callers are responsible for
// opening cfg.VerticesWriter/EdgesWriter in append mode and for
// warning if the sidecar files already existed (see openSidecarWriters
// below, called from orchestrator.go).
func NewPropertyGraphSink(cfg SinkConfig) *PropertyGraphSink {
	return &PropertyGraphSink{
		cfg:            cfg,
		predicateCount: make(map[string]int64),
		vertex:         newVertexBuffer(),
	}
}

func (s *PropertyGraphSink) qualify(iri string) string {
	if s.cfg.Prefixer != nil {
		return s.cfg.Prefixer.Qname(iri)
	}
	return iri
}

// Triple implements TripleSink: it's the per-triple entry point driven
// by the N-Triples parser.
func (s *PropertyGraphSink) Triple(subject, predicate string, object Term) {
	if !strings.Contains(subject, s.cfg.GlobalIDMarker) {
		return
	}

	if !s.started || subject != s.lastSubject {
		s.FlushBuffers()
		s.lastSubject = subject
		s.started = true
	}

	qnPred := s.qualify(predicate)
	s.predicateCount[qnPred]++

	qnSubj := s.qualify(subject)
	s.vertex.id = qnSubj

	switch {
	case isMultivaluedURIPredicate(predicate):
		// Classification rule 1. Self-sameAs is ignored; the
		// parenthesization here is deliberate: both conditions must hold
		// to suppress the append, so owl:sameAs to a different global
		// subject is still recorded.
		selfSameAs := predicate == owlSameAs && object.Kind == KindIRI && object.IRI == subject
		if !selfSameAs {
			s.vertex.valueFor(qnPred).appendMultivalued(s.qualify(object.String()))
		}

	case object.Kind == KindIRI && strings.Contains(object.IRI, s.cfg.GlobalIDMarker):
		// Classification rule 2: an edge. Resolved once, here, at
		// creation time, rather than deferred and resolved again later.
		outv, inv := qnSubj, s.qualify(object.IRI)
		if s.cfg.SameThing != nil {
			outv = s.qualify(s.cfg.SameThing.FetchWikidataURI(subject))
			inv = s.qualify(s.cfg.SameThing.FetchWikidataURI(object.IRI))
		}
		s.edges = append(s.edges, Edge{OutV: outv, Label: qnPred, InV: inv})

	case object.Kind == KindLiteral:
		s.applyLiteral(qnPred, object)

	default: // classification rule 4: external IRI, scalar overwrite
		s.vertex.valueFor(qnPred).scalarOverwrite(object.String())
	}
}

// scalarOverwrite implements the unconditional overwrite classification
// rule 4 describes ("set vertex_buffer[qn_pred] := str(o)"), as
// distinct from the merge/promote rules used elsewhere.
func (v *VertexValue) scalarOverwrite(value string) {
	v.kind = vvScalar
	v.scalar = value
	v.plain = nil
	v.tagged = nil
}

func (s *PropertyGraphSink) applyLiteral(qnPred string, object Term) {
	value := s.vertex.valueFor(qnPred)
	if object.Language != "" {
		s.applyLanguageTaggedLiteral(value, object)
		return
	}
	native := nativeLiteralValue(object)
	value.setPlainOrTyped(native)
}

func (s *PropertyGraphSink) applyLanguageTaggedLiteral(value *VertexValue, object Term) {
	value.appendTagged(nativeLiteralValue(object), object.Language)
}

// nativeLiteralValue promotes an RDF literal to a native JSON-ready
// value: DBpedia custom units keep their lexical form
// with an n3-style type annotation; everything else goes through a
// standard XSD-datatype-to-native-type conversion, falling back to the
// lexical string when the datatype is unset or unrecognized.
func nativeLiteralValue(object Term) interface{} {
	if object.Datatype != "" && strings.Contains(object.Datatype, dbpediaDatatypeNS) {
		return fmt.Sprintf(`"%s"^^<%s>`, object.Lexical, object.Datatype)
	}
	return promoteXSDLiteral(object.Lexical, object.Datatype)
}

func promoteXSDLiteral(lexical, datatype string) interface{} {
	switch xsdLocalName(datatype) {
	case "boolean":
		if b, err := strconv.ParseBool(lexical); err == nil {
			return b
		}
	case "integer", "int", "long", "short", "byte",
		"nonNegativeInteger", "positiveInteger",
		"nonPositiveInteger", "negativeInteger",
		"unsignedLong", "unsignedInt", "unsignedShort", "unsignedByte":
		if n, err := strconv.ParseInt(lexical, 10, 64); err == nil {
			return n
		}
	case "double", "float", "decimal":
		if f, err := strconv.ParseFloat(lexical, 64); err == nil {
			return f
		}
	}
	// dates, datetimes, gYear, anyURI, plain strings, and anything
	// that failed to parse above: keep the lexical form, same as
	// the original's reliance on json.dump(..., default=str).
	return lexical
}

func xsdLocalName(datatype string) string {
	if idx := strings.LastIndexByte(datatype, '#'); idx >= 0 {
		return datatype[idx+1:]
	}
	return datatype
}

// FlushBuffers flushes the vertex then the edges.
func (s *PropertyGraphSink) FlushBuffers() {
	s.flushVertex()
	s.flushEdges()
}

func (s *PropertyGraphSink) flushVertex() {
	if s.vertex.id == "" {
		return
	}

	if s.cfg.SameThing != nil {
		previousID := s.vertex.id
		resolved := s.qualify(s.cfg.SameThing.FetchWikidataURI(s.lastSubject))
		s.vertex.clusterID = previousID
		s.vertex.id = resolved
	}

	m := make(map[string]interface{}, len(s.vertex.fields)+2)
	m["id"] = s.vertex.id
	if s.vertex.clusterID != "" {
		m["dbg:cluster-id"] = s.vertex.clusterID
	}
	for pred, value := range s.vertex.fields {
		m[pred] = value.toJSON()
	}

	if data, err := sonic.Marshal(m); err == nil {
		s.cfg.VerticesWriter.Write(data)
		s.cfg.VerticesWriter.Write([]byte{'\n'})
	} else if s.cfg.ErrOut != nil {
		fmt.Fprintf(s.cfg.ErrOut, "sink: marshal vertex for part %s: %v\n", s.cfg.PartName, err)
	}

	s.vertex.reset()
}

func (s *PropertyGraphSink) flushEdges() {
	for _, e := range s.edges {
		if data, err := sonic.Marshal(e); err == nil {
			s.cfg.EdgesWriter.Write(data)
			s.cfg.EdgesWriter.Write([]byte{'\n'})
		} else if s.cfg.ErrOut != nil {
			fmt.Fprintf(s.cfg.ErrOut, "sink: marshal edge for part %s: %v\n", s.cfg.PartName, err)
		}
	}
	s.edges = nil
}

// PredicateCounts returns the per-predicate triple counts accumulated
// so far. The caller (a worker) reads this once after the part has
// finished parsing.
func (s *PropertyGraphSink) PredicateCounts() map[string]int64 {
	return s.predicateCount
}

// Close flushes any pending buffers (the normal-exit path) and closes
// both sidecar writers.
func (s *PropertyGraphSink) Close() error {
	s.FlushBuffers()
	return s.closeWriters()
}

// Abort is the "abnormal exit" lifecycle path: it logs the part name
// and both buffers to the error sink and deliberately does NOT flush,
// so that callers never observe a half-aggregated vertex record.
func (s *PropertyGraphSink) Abort(cause error) error {
	if s.cfg.ErrOut != nil {
		fmt.Fprintf(s.cfg.ErrOut, "sink: aborting part %s: %v\n", s.cfg.PartName, cause)
		fmt.Fprintf(s.cfg.ErrOut, "sink: %s vertex buffer: %+v\n", s.cfg.PartName, s.vertex)
		fmt.Fprintf(s.cfg.ErrOut, "sink: %s edge buffer: %+v\n", s.cfg.PartName, s.edges)
	}
	return s.closeWriters()
}

func (s *PropertyGraphSink) closeWriters() error {
	var err error
	if s.cfg.VerticesWriter != nil {
		if e := s.cfg.VerticesWriter.Close(); e != nil {
			err = e
		}
	}
	if s.cfg.EdgesWriter != nil {
		if e := s.cfg.EdgesWriter.Close(); e != nil {
			err = e
		}
	}
	return err
}

// openSidecarWriters opens (or creates) the `<part_name>_vertices.jsonl`
// and `<part_name>_edges.jsonl` files (optionally compressed per c) in
// append mode, warning via warnOut if either already existed.
func openSidecarWriters(partName string, c Compression, warnOut io.Writer) (vertices, edges io.WriteCloser, err error) {
	verticesPath := partName + "_vertices.jsonl"
	edgesPath := partName + "_edges.jsonl"

	if warnOut != nil {
		for _, p := range []string{verticesPath, edgesPath} {
			if _, statErr := os.Stat(p + c.Extension()); statErr == nil {
				fmt.Fprintf(warnOut, "WARN: %s already exists and will be appended to\n", p+c.Extension())
			}
		}
	}

	vertices, err = OpenCompressed(verticesPath, c)
	if err != nil {
		return nil, nil, fmt.Errorf("sink: %w", err)
	}
	edges, err = OpenCompressed(edgesPath, c)
	if err != nil {
		vertices.Close()
		return nil, nil, fmt.Errorf("sink: %w", err)
	}
	return vertices, edges, nil
}
