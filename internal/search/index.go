// Package search provides a small, deterministic, concurrency-safe in-memory
// index over contacts, used to rank GET /contacts?q= results.
//
//   - No logging in the library (callers decide how/what to log)
//   - Functional options for stop words and prefix matching
//   - Unicode-aware tokenization of names, email, phone and location fields
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic scoring and ordering (stable order for ties)
//
// Scoring uses Jaccard similarity between the query token set and each
// contact's token set: score = |Q ∩ C| / |Q ∪ C|. With prefix matching on, a
// query token also matches any contact token it prefixes ("jen" → "jennie").
package search

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tbourn/go-contacts/internal/domain"
)

// Result is a ranked contact id with its similarity score.
type Result struct {
	ID    string
	Score float64
}

// Index is the minimal interface implemented by all search indices.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	prefix    bool
}

func defaultConfig() config {
	return config{prefix: true}
}

func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithPrefixMatch toggles prefix matching of query tokens (on by default).
func WithPrefixMatch(on bool) Option {
	return func(c *config) { c.prefix = on }
}

// ----------------------------------------------------------------------------
// Implementation

type doc struct {
	id     string
	sortBy string
	tokens map[string]struct{}
}

type index struct {
	cfg  config
	docs []doc
}

// NewContactIndex builds an Index over the searchable fields of contacts.
// Contacts without any token are skipped.
func NewContactIndex(contacts []domain.Contact, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	docs := make([]doc, 0, len(contacts))
	for _, c := range contacts {
		toks := tokenize(contactText(c), cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{
			id:     c.ID,
			sortBy: strings.ToLower(c.FullName()),
			tokens: toks,
		})
	}
	return &index{cfg: cfg, docs: docs}
}

func contactText(c domain.Contact) string {
	parts := []string{
		c.Name.First, c.Name.Last, c.Email, c.Phone, c.Cell,
		c.Location.Street.Name, c.Location.City, c.Location.State,
		c.Location.Country, c.Location.Postcode,
	}
	if c.Location.Street.Number != 0 {
		parts = append(parts, strconv.Itoa(c.Location.Street.Number))
	}
	return strings.Join(parts, " ")
}

// TopK returns up to k best-matching contacts. k <= 0 means no cap.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		id     string
		sortBy string
		score  float64
	}

	buf := make([]scored, 0, len(i.docs))
	for _, d := range i.docs {
		over := overlap(qTokens, d.tokens, i.cfg.prefix)
		if over == 0 {
			continue
		}
		union := float64(qLen + len(d.tokens) - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, scored{id: d.id, sortBy: d.sortBy, score: float64(over) / union})
	}
	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].sortBy != buf[b].sortBy {
			return buf[a].sortBy < buf[b].sortBy
		}
		return buf[a].id < buf[b].id
	})

	if k <= 0 || k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for n := 0; n < k; n++ {
		out[n] = Result{ID: buf[n].id, Score: buf[n].score}
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

// overlap counts query tokens found in doc. Each query token counts once.
func overlap(query, doc map[string]struct{}, prefix bool) int {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	n := 0
	for q := range query {
		if _, ok := doc[q]; ok {
			n++
			continue
		}
		if !prefix {
			continue
		}
		for d := range doc {
			if strings.HasPrefix(d, q) {
				n++
				break
			}
		}
	}
	return n
}
