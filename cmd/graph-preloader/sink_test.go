// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"strings"
	"testing"
)

const testMarker = "global.dbpedia.org/id/"

func iri(s string) Term { return Term{Kind: KindIRI, IRI: s} }

func lit(lexical string) Term { return Term{Kind: KindLiteral, Lexical: lexical} }

func taggedLit(lexical, lang string) Term {
	return Term{Kind: KindLiteral, Lexical: lexical, Language: lang}
}

func typedLit(lexical, datatype string) Term {
	return Term{Kind: KindLiteral, Lexical: lexical, Datatype: datatype}
}

func TestSinkTwoLanguageTaggedLiteralsPromoteToList(t *testing.T) {
	sink, vertices, _ := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	sink.Triple(subj, "http://www.w3.org/2000/01/rdf-schema#label", taggedLit("Athens", "en"))
	sink.Triple(subj, "http://www.w3.org/2000/01/rdf-schema#label", taggedLit("Athen", "de"))
	sink.FlushBuffers()

	out := vertices.String()
	if !strings.Contains(out, `{"language":"en","value":"Athens"}`) && !strings.Contains(out, `"value":"Athens","language":"en"`) {
		t.Errorf("expected an {value,language} record for Athens, got %s", out)
	}
	if strings.Count(out, `"language"`) != 2 {
		t.Errorf("expected a two-element tagged list, got %s", out)
	}
}

func TestSinkPlainThenLanguageTaggedPromotes(t *testing.T) {
	sink, vertices, _ := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	sink.Triple(subj, "http://www.w3.org/2000/01/rdf-schema#comment", lit("plain"))
	sink.Triple(subj, "http://www.w3.org/2000/01/rdf-schema#comment", taggedLit("tagged", "en"))
	sink.FlushBuffers()

	out := vertices.String()
	if !strings.Contains(out, `"language":null`) {
		t.Errorf("expected the plain literal wrapped with language:null, got %s", out)
	}
	if !strings.Contains(out, `"value":"plain"`) || !strings.Contains(out, `"value":"tagged"`) {
		t.Errorf("expected both values present, got %s", out)
	}
}

func TestSinkSelfSameAsProducesNothing(t *testing.T) {
	sink, vertices, edges := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	sink.Triple(subj, owlSameAs, iri(subj))
	sink.FlushBuffers()

	if edges.Len() != 0 {
		t.Errorf("expected no edges, got %s", edges.String())
	}
	out := vertices.String()
	if strings.Contains(out, owlSameAs) {
		t.Errorf("expected no sameAs entry in vertex buffer, got %s", out)
	}
	// The subject still exists (id is always set), so exactly one
	// vertex line is emitted, with no other fields.
	if !strings.Contains(out, subj) {
		t.Errorf("expected the vertex record to still carry its id, got %s", out)
	}
}

func TestSinkSameAsToADifferentGlobalSubjectIsNotAnEdge(t *testing.T) {
	sink, vertices, edges := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	other := "http://global.dbpedia.org/id/Q2"
	sink.Triple(subj, owlSameAs, iri(other))
	sink.FlushBuffers()

	if edges.Len() != 0 {
		t.Errorf("owl:sameAs must never produce an edge, even between two global subjects; got %s", edges.String())
	}
	if !strings.Contains(vertices.String(), other) {
		t.Errorf("expected %s appended to the sameAs list, got %s", other, vertices.String())
	}
}

func TestSinkTwoDistinctTypesProduceList(t *testing.T) {
	sink, vertices, _ := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	sink.Triple(subj, rdfType, iri("http://dbpedia.org/ontology/Person"))
	sink.Triple(subj, rdfType, iri("http://dbpedia.org/ontology/Agent"))
	sink.FlushBuffers()

	out := vertices.String()
	if !strings.Contains(out, "Person") || !strings.Contains(out, "Agent") {
		t.Errorf("expected both rdf:type objects present, got %s", out)
	}
}

func TestSinkEdgeToGlobalSubject(t *testing.T) {
	sink, _, edges := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	obj := "http://global.dbpedia.org/id/Q2"
	sink.Triple(subj, "http://dbpedia.org/ontology/birthPlace", iri(obj))
	sink.FlushBuffers()

	out := edges.String()
	if !strings.Contains(out, `"outv":"`+subj+`"`) || !strings.Contains(out, `"inv":"`+obj+`"`) {
		t.Errorf("expected an edge record between subj and obj, got %s", out)
	}
}

func TestSinkExternalIRIScalarOverwrite(t *testing.T) {
	sink, vertices, _ := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	sink.Triple(subj, "http://dbpedia.org/ontology/homepage", iri("http://example.org/a"))
	sink.Triple(subj, "http://dbpedia.org/ontology/homepage", iri("http://example.org/b"))
	sink.FlushBuffers()

	out := vertices.String()
	if strings.Contains(out, "example.org/a") {
		t.Errorf("expected the second value to overwrite the first, got %s", out)
	}
	if !strings.Contains(out, "example.org/b") {
		t.Errorf("expected the last value present, got %s", out)
	}
}

func TestSinkTypedLiteralPromotesToNumber(t *testing.T) {
	sink, vertices, _ := newBufferSink(testMarker, nil, nil)
	subj := "http://global.dbpedia.org/id/Q1"
	sink.Triple(subj, "http://dbpedia.org/ontology/population", typedLit("42", "http://www.w3.org/2001/XMLSchema#integer"))
	sink.FlushBuffers()

	out := vertices.String()
	if !strings.Contains(out, `"population":42`) && !strings.Contains(out, `:42`) {
		t.Errorf("expected population to be a JSON number, got %s", out)
	}
}

func TestSinkDropsOutOfScopeSubjects(t *testing.T) {
	sink, vertices, edges := newBufferSink(testMarker, nil, nil)
	sink.Triple("http://dbpedia.org/resource/Athens", rdfType, iri("http://dbpedia.org/ontology/Place"))
	sink.FlushBuffers()

	if vertices.Len() != 0 || edges.Len() != 0 {
		t.Errorf("expected no output for a subject outside global_id_marker, got vertices=%s edges=%s", vertices.String(), edges.String())
	}
}

func TestSinkFlushesOnSubjectChange(t *testing.T) {
	sink, vertices, _ := newBufferSink(testMarker, nil, nil)
	q1 := "http://global.dbpedia.org/id/Q1"
	q2 := "http://global.dbpedia.org/id/Q2"
	sink.Triple(q1, rdfType, iri("http://dbpedia.org/ontology/Person"))
	sink.Triple(q2, rdfType, iri("http://dbpedia.org/ontology/Place"))
	sink.Close()

	lines := strings.Split(strings.TrimSpace(vertices.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one vertex line per subject, got %d: %q", len(lines), lines)
	}
}

func TestSinkQualifiesWithPrefixer(t *testing.T) {
	prefixer := NewPrefixerFromTable(map[string]string{
		"http://www.w3.org/1999/02/22-rdf-syntax-ns#": "rdf",
		"http://dbpedia.org/ontology/":                "dbo",
	})
	sink, vertices, _ := newBufferSink(testMarker, prefixer, nil)
	subj := "https://global.dbpedia.org/id/Q1"
	sink.Triple(subj, rdfType, iri("http://dbpedia.org/ontology/Person"))
	sink.FlushBuffers()

	out := vertices.String()
	if !strings.Contains(out, `"id":"dbg:Q1"`) {
		t.Errorf("expected subject qualified as dbg:Q1, got %s", out)
	}
	if !strings.Contains(out, `"rdf:type"`) {
		t.Errorf("expected predicate qualified as rdf:type, got %s", out)
	}
	if !strings.Contains(out, `"dbo:Person"`) {
		t.Errorf("expected object qualified as dbo:Person, got %s", out)
	}
}
