// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newSameThingServer(t *testing.T, handler http.HandlerFunc) (*SameThingClient, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	client, err := NewSameThingClient(ts.URL+"/", 10, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewSameThingClient: %v", err)
	}
	return client, ts
}

func newSameThingServerWithMetrics(t *testing.T, handler http.HandlerFunc) (*SameThingClient, *Metrics) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	metrics, _ := NewMetrics()
	client, err := NewSameThingClient(ts.URL+"/", 10, nil, nil, metrics)
	if err != nil {
		t.Fatalf("NewSameThingClient: %v", err)
	}
	return client, metrics
}

func TestFetchWikidataURIReturnsCanonicalLocal(t *testing.T) {
	client, _ := newSameThingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"locals":["http://dbpedia.org/resource/Athens","http://www.wikidata.org/entity/Q1524"]}`))
	})

	got := client.FetchWikidataURI("https://global.dbpedia.org/id/Q1")
	if got != "http://www.wikidata.org/entity/Q1524" {
		t.Errorf("FetchWikidataURI = %q, want the wikidata entity local", got)
	}
}

func TestFetchWikidataURICachesAcrossCalls(t *testing.T) {
	var requests int64
	client, _ := newSameThingServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"locals":["http://www.wikidata.org/entity/Q1"]}`))
	})

	iri := "https://global.dbpedia.org/id/Q1"
	first := client.FetchWikidataURI(iri)
	second := client.FetchWikidataURI(iri)
	if first != second {
		t.Errorf("expected repeated lookups to agree: %q vs %q", first, second)
	}
	if n := atomic.LoadInt64(&requests); n != 1 {
		t.Errorf("expected exactly one HTTP request, got %d", n)
	}
}

func TestFetchWikidataURIFallsBackOnServerError(t *testing.T) {
	client, _ := newSameThingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	iri := "https://global.dbpedia.org/id/Q1"
	if got := client.FetchWikidataURI(iri); got != iri {
		t.Errorf("FetchWikidataURI = %q, want the input iri unchanged", got)
	}
}

func TestFetchWikidataURIFallsBackOnMalformedJSON(t *testing.T) {
	client, _ := newSameThingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`not json`))
	})

	iri := "https://global.dbpedia.org/id/Q1"
	if got := client.FetchWikidataURI(iri); got != iri {
		t.Errorf("FetchWikidataURI = %q, want the input iri unchanged", got)
	}
}

func TestFetchWikidataURIFallsBackWhenNoWikidataLocal(t *testing.T) {
	client, _ := newSameThingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"locals":["http://dbpedia.org/resource/Athens"]}`))
	})

	iri := "https://global.dbpedia.org/id/Q1"
	if got := client.FetchWikidataURI(iri); got != iri {
		t.Errorf("FetchWikidataURI = %q, want the input iri unchanged", got)
	}
}

func TestFetchWikidataURICountsServerErrorStatus(t *testing.T) {
	client, metrics := newSameThingServerWithMetrics(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client.FetchWikidataURI("https://global.dbpedia.org/id/Q1")
	if got := testutil.ToFloat64(metrics.SameThingErrors); got != 1 {
		t.Errorf("SameThingErrors = %v, want 1", got)
	}
}

func TestFetchWikidataURICountsMalformedJSON(t *testing.T) {
	client, metrics := newSameThingServerWithMetrics(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`not json`))
	})
	client.FetchWikidataURI("https://global.dbpedia.org/id/Q1")
	if got := testutil.ToFloat64(metrics.SameThingErrors); got != 1 {
		t.Errorf("SameThingErrors = %v, want 1", got)
	}
}

func TestFetchWikidataURIDoesNotCountMissingWikidataLocal(t *testing.T) {
	client, metrics := newSameThingServerWithMetrics(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"locals":["http://dbpedia.org/resource/Athens"]}`))
	})
	client.FetchWikidataURI("https://global.dbpedia.org/id/Q1")
	if got := testutil.ToFloat64(metrics.SameThingErrors); got != 0 {
		t.Errorf("SameThingErrors = %v, want 0 (this is not an HTTP error)", got)
	}
}
