// SPDX-FileCopyrightText: 2022 Sascha Brawer <sascha@brawer.ch>
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultNamespacesURL  = "http://dbpedia.org/sparql?nsdecl"
	overrideDBpediaGlobal = "https://global.dbpedia.org/id/"
	overrideWikidata      = "http://www.wikidata.org/entity/"
)

const iriSeparators = "/#:"

// Prefixer is a bijective IRI <-> qname (prefix:local) mapper, loaded
// from a cached JSON file and refreshable from dbpedia.org's SPARQL
// namespace declaration page. It is immutable after construction, so
// a single instance may be shared read-only across workers.
type Prefixer struct {
	nsToPrefix map[string]string
	prefixToNS map[string]string
}

// NewPrefixer loads the namespace table: it tries an HTTP refresh
// first, falling back to cacheFile on any network or parse failure,
// and always installs the two global-identity overrides afterwards so
// a stale or hostile refresh can never shadow them.
func NewPrefixer(client *http.Client, cacheFile string, logger *log.Logger) (*Prefixer, error) {
	mapping, err := fetchDefaultNamespaces(client, cacheFile)
	if err != nil {
		if logger != nil {
			logger.Printf("couldn't update namespaces from %s: %v", defaultNamespacesURL, err)
		}
		mapping, err = loadCachedNamespaces(cacheFile)
		if err != nil {
			return nil, err
		}
	}

	p := &Prefixer{
		nsToPrefix: make(map[string]string, len(mapping)+2),
		prefixToNS: make(map[string]string, len(mapping)+2),
	}
	for ns, prefix := range mapping {
		p.install(ns, prefix)
	}
	p.install(overrideDBpediaGlobal, "dbg")
	p.install(overrideWikidata, "wde")
	return p, nil
}

func (p *Prefixer) install(namespace, prefix string) {
	p.nsToPrefix[namespace] = prefix
	p.prefixToNS[prefix] = namespace
}

// NewPrefixerFromTable builds a Prefixer directly from a namespace ->
// prefix mapping, skipping any HTTP/cache I/O. Used in tests and by
// callers that already have a table in hand.
func NewPrefixerFromTable(mapping map[string]string) *Prefixer {
	p := &Prefixer{
		nsToPrefix: make(map[string]string, len(mapping)+2),
		prefixToNS: make(map[string]string, len(mapping)+2),
	}
	for ns, prefix := range mapping {
		p.install(ns, prefix)
	}
	p.install(overrideDBpediaGlobal, "dbg")
	p.install(overrideWikidata, "wde")
	return p
}

// Qname shortens iri to "prefix:local" against the loaded namespace
// table. If no known namespace matches, iri is returned unchanged.
func (p *Prefixer) Qname(iri string) string {
	namespace, local, ok := p.splitIRI(iri)
	if !ok {
		return iri
	}
	prefix := p.nsToPrefix[namespace]
	return prefix + ":" + local
}

// Reverse expands a "prefix:local" qname back to its full IRI. Owl
// ontology namespaces (ending in ".owl") get a '#' inserted between
// namespace and local name. Unknown prefixes are returned unchanged.
func (p *Prefixer) Reverse(qname string) string {
	prefix, local, ok := strings.Cut(qname, ":")
	if !ok {
		return qname
	}
	namespace, known := p.prefixToNS[prefix]
	if !known {
		return qname
	}
	if strings.HasSuffix(namespace, ".owl") {
		return namespace + "#" + local
	}
	return namespace + local
}

// splitIRI finds the longest suffix split of iri on a separator in
// "/#:" such that the remaining prefix is a registered namespace,
// scanning from the end of the string backwards (so
// "http://dbpedia.org/resource/10:20:31/50" splits on the LAST
// colon-like separator that still yields a known namespace, matching
// the original Python UserDict's split_iri).
func (p *Prefixer) splitIRI(iri string) (namespace, local string, ok bool) {
	positions := separatorPositions(iri)
	for i := len(positions) - 1; i >= 0; i-- {
		namespace = iri[:positions[i]+1]
		if _, known := p.nsToPrefix[namespace]; known {
			local = iri[positions[i]+1:]
			return namespace, local, true
		}
	}
	return "", "", false
}

func separatorPositions(s string) []int {
	var positions []int
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(iriSeparators, s[i]) >= 0 {
			positions = append(positions, i)
		}
	}
	return positions
}

func fetchDefaultNamespaces(client *http.Client, cacheFile string) (map[string]string, error) {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 5
	if client != nil {
		rc.HTTPClient = client
	}

	resp, err := rc.Get(defaultNamespacesURL)
	if err != nil {
		return nil, &HTTPError{URL: defaultNamespacesURL, Err: err}
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &HTTPError{URL: defaultNamespacesURL, Err: err}
	}

	mapping := make(map[string]string)
	doc.Find("table.tableresult tr").Each(func(_ int, tr *goquery.Selection) {
		prefix := strings.TrimSpace(tr.Find("td").First().Text())
		href, exists := tr.Find("a").First().Attr("href")
		if prefix != "" && exists {
			mapping[href] = prefix
		}
	})
	if len(mapping) == 0 {
		return nil, &HTTPError{URL: defaultNamespacesURL, Err: errNoNamespaceTable}
	}

	if data, err := json.MarshalIndent(mapping, "", "    "); err == nil {
		_ = os.WriteFile(cacheFile, data, 0644)
	}

	return mapping, nil
}

var errNoNamespaceTable = errNamespaceTable{}

type errNamespaceTable struct{}

func (errNamespaceTable) Error() string { return "no namespace declaration table found" }

func loadCachedNamespaces(cacheFile string) (map[string]string, error) {
	data, err := os.ReadFile(cacheFile)
	if err != nil {
		return nil, err
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// defaultHTTPClient is the 15s-timeout client the CLI entry point
// passes to NewPrefixer. A nil client leaves retryablehttp's own
// default HTTP client in place instead.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
