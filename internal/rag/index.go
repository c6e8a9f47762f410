package rag

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Index ranks documents against keyword queries with BM25. It is immutable
// after construction.
type Index struct {
	docs      []Document
	termFreqs []map[string]int
	lengths   []int
	docFreq   map[string]int
	avgLength float64
}

// NewIndex tokenizes and indexes docs. Documents with no indexable terms are
// kept but never match.
func NewIndex(docs []Document) *Index {
	idx := &Index{
		docs:      append([]Document(nil), docs...),
		termFreqs: make([]map[string]int, len(docs)),
		lengths:   make([]int, len(docs)),
		docFreq:   make(map[string]int),
	}

	total := 0
	for i, doc := range idx.docs {
		terms := Tokenize(doc.Content)
		freqs := make(map[string]int, len(terms))
		for _, term := range terms {
			freqs[term]++
		}
		for term := range freqs {
			idx.docFreq[term]++
		}
		idx.termFreqs[i] = freqs
		idx.lengths[i] = len(terms)
		total += len(terms)
	}
	if len(docs) > 0 {
		idx.avgLength = float64(total) / float64(len(docs))
	}
	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return len(idx.docs)
}

// Search returns up to limit documents ranked by descending score. Ties keep
// corpus order. Documents sharing no term with the query are omitted.
func (idx *Index) Search(query string, limit int) []Result {
	if idx == nil || limit <= 0 || len(idx.docs) == 0 {
		return nil
	}

	terms := uniqueTerms(Tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	results := make([]Result, 0)
	for i, freqs := range idx.termFreqs {
		score := 0.0
		for _, term := range terms {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			df := float64(idx.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			lengthNorm := 1 - bm25B + bm25B*float64(idx.lengths[i])/idx.avgLength
			score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*lengthNorm)
		}
		if score > 0 {
			results = append(results, Result{Document: idx.docs[i], Score: score})
		}
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Tokenize folds case and diacritics and splits text into letter or digit
// runs. Single-rune tokens are dropped.
func Tokenize(text string) []string {
	folded := fold(text)
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, field := range fields {
		if len([]rune(field)) > 1 {
			terms = append(terms, field)
		}
	}
	return terms
}

func fold(text string) string {
	// Casers and transformers carry state, so each call builds its own.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, text)
	if err != nil {
		stripped = text
	}
	return cases.Fold().String(stripped)
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
