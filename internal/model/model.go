// Package model implements the topic model behind the analyzer's search: a
// TF-IDF vector space over the catalogued page text, queried by cosine
// similarity. The trained artifact is a gob file; the query index is derived
// state and is rebuilt after every Load, never serialized.
package model

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// FileName is the trained artifact inside the model directory.
const FileName = "model.t2v"

var (
	ErrNoDocuments = errors.New("model: no trainable documents")
	ErrNotIndexed  = errors.New("model: index not built")
)

// TrainingDoc is one catalogued page offered to the trainer.
type TrainingDoc struct {
	URL     string
	Content string
}

// Match is one query hit, best first.
type Match struct {
	URL   string
	Score float64
}

// Model is the serializable trained state: vocabulary, inverse document
// frequencies and per-document term counts. The cosine index lives in the
// unexported fields and exists only after Index.
type Model struct {
	Vocab map[string]int
	IDF   []float64
	Docs  []DocTerms

	index []indexedDoc
}

// DocTerms is one document's raw term counts against the vocabulary.
type DocTerms struct {
	URL   string
	Terms map[int]int
}

type indexedDoc struct {
	url    string
	weight map[int]float64 // L2-normalized tf-idf
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "not": {},
	"you": {}, "your": {}, "with": {}, "this": {}, "that": {}, "from": {},
	"have": {}, "has": {}, "but": {}, "all": {}, "can": {}, "will": {},
	"our": {}, "out": {}, "about": {}, "into": {}, "more": {}, "here": {},
}

// Tokenize lowercases the text and splits it into index terms: alphanumeric
// runs of three or more characters, stopwords removed.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Train builds a model from the given documents, tokenizing across the given
// number of goroutines. Documents with no usable tokens are skipped; if none
// remain the result is ErrNoDocuments.
func Train(docs []TrainingDoc, threads int) (*Model, error) {
	if threads < 1 {
		threads = 1
	}

	type counted struct {
		url   string
		terms map[string]int
	}

	jobs := make(chan TrainingDoc)
	results := make(chan counted)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for doc := range jobs {
				terms := make(map[string]int)
				for _, tok := range Tokenize(doc.Content) {
					terms[tok]++
				}
				if len(terms) == 0 {
					continue
				}
				results <- counted{url: doc.URL, terms: terms}
			}
		}()
	}
	go func() {
		for _, doc := range docs {
			jobs <- doc
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var all []counted
	for c := range results {
		all = append(all, c)
	}
	if len(all) == 0 {
		return nil, ErrNoDocuments
	}
	// The worker fan-in scrambles order; keep the artifact deterministic.
	sort.Slice(all, func(i, j int) bool { return all[i].url < all[j].url })

	df := make(map[string]int)
	for _, c := range all {
		for term := range c.terms {
			df[term]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	m := &Model{
		Vocab: make(map[string]int, len(terms)),
		IDF:   make([]float64, len(terms)),
		Docs:  make([]DocTerms, 0, len(all)),
	}
	n := float64(len(all))
	for i, term := range terms {
		m.Vocab[term] = i
		m.IDF[i] = math.Log(n/float64(df[term])) + 1
	}
	for _, c := range all {
		dt := DocTerms{URL: c.url, Terms: make(map[int]int, len(c.terms))}
		for term, count := range c.terms {
			dt.Terms[m.Vocab[term]] = count
		}
		m.Docs = append(m.Docs, dt)
	}

	return m, nil
}

// Index builds the cosine index from the trained state. It must be called
// after Train or Load before the model can answer queries.
func (m *Model) Index() {
	index := make([]indexedDoc, 0, len(m.Docs))
	for _, doc := range m.Docs {
		weight := make(map[int]float64, len(doc.Terms))
		var norm float64
		for term, count := range doc.Terms {
			w := float64(count) * m.IDF[term]
			weight[term] = w
			norm += w * w
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for term := range weight {
			weight[term] /= norm
		}
		index = append(index, indexedDoc{url: doc.URL, weight: weight})
	}
	m.index = index
}

// Query returns the n most similar documents to the query text, best first.
// Documents with zero similarity are omitted, so fewer than n matches is
// normal.
func (m *Model) Query(text string, n int) ([]Match, error) {
	if m.index == nil {
		return nil, ErrNotIndexed
	}

	counts := make(map[int]int)
	for _, tok := range Tokenize(text) {
		if idx, ok := m.Vocab[tok]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return nil, nil
	}

	qw := make(map[int]float64, len(counts))
	var norm float64
	for term, count := range counts {
		w := float64(count) * m.IDF[term]
		qw[term] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)

	matches := make([]Match, 0, len(m.index))
	for _, doc := range m.index {
		var dot float64
		for term, w := range qw {
			dot += w * doc.weight[term]
		}
		if dot <= 0 {
			continue
		}
		matches = append(matches, Match{URL: doc.url, Score: dot / norm})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}
