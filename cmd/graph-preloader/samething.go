// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	lru "github.com/hashicorp/golang-lru/v2"
)

const wikidataEntityBase = "http://www.wikidata.org/entity/"

// defaultSameThingCacheSize is the floor enforced regardless of the
// caller's requested size ("an LRU cache of at least 4,096 entries").
const defaultSameThingCacheSize = 4096

// SameThingClient resolves an IRI to its canonical Wikidata IRI via
// an external "same-thing" lookup service. Results are memoized in a
// process-local LRU cache; this cache must never be shared across
// worker processes, which is automatic here since each worker
// constructs its own client.
type SameThingClient struct {
	serviceURL string
	http       *retryablehttp.Client
	cache      *lru.Cache[string, string]
	metrics    *Metrics
}

// NewSameThingClient builds a client against serviceURL (expected to
// end in '/'). cacheSize is raised to defaultSameThingCacheSize if
// smaller. metrics may be nil, in which case HTTP errors are not
// counted anywhere.
func NewSameThingClient(serviceURL string, cacheSize int, client *http.Client, logger *log.Logger, metrics *Metrics) (*SameThingClient, error) {
	if cacheSize < defaultSameThingCacheSize {
		cacheSize = defaultSameThingCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("samething: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 5
	rc.Logger = nil
	if client != nil {
		rc.HTTPClient = client
	}

	return &SameThingClient{serviceURL: serviceURL, http: rc, cache: cache, metrics: metrics}, nil
}

type sameThingResponse struct {
	Locals []string `json:"locals"`
}

// FetchWikidataURI returns the canonical Wikidata entity IRI for iri,
// memoized across calls. On any HTTP failure, or when the response
// carries no Wikidata-entity local, iri itself is returned unchanged.
func (c *SameThingClient) FetchWikidataURI(iri string) string {
	if cached, ok := c.cache.Get(iri); ok {
		return cached
	}

	canonical := c.fetch(iri)
	c.cache.Add(iri, canonical)
	return canonical
}

func (c *SameThingClient) fetch(iri string) string {
	requestURL := fmt.Sprintf("%slookup/?meta=off&uri=%s", c.serviceURL, iri)
	resp, err := c.http.Get(requestURL)
	if err != nil {
		c.countError()
		return iri
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.countError()
		return iri
	}

	var decoded sameThingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		c.countError()
		return iri
	}

	for _, l := range decoded.Locals {
		if strings.HasPrefix(l, wikidataEntityBase) {
			return l
		}
	}
	return iri
}

func (c *SameThingClient) countError() {
	if c.metrics != nil {
		c.metrics.SameThingErrors.Inc()
	}
}
